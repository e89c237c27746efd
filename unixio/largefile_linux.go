package unixio

import "golang.org/x/sys/unix"

const largefileFlag = unix.O_LARGEFILE
