//go:build !linux

package unixio

// O_LARGEFILE is a Linux-only concept; other platforms handle large files
// transparently, so there is no corresponding open flag to propagate.
const largefileFlag = 0
