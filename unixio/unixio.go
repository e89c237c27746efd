// Package unixio is the default avflt.HandleBroker: it opens a read-only
// file descriptor with golang.org/x/sys/unix and hands it to an agent
// process across a Unix domain socket using SCM_RIGHTS ancillary data —
// the userspace analogue of the kernel's get_unused_fd/fd_install pair
// (avflt_check.c), adapted for a cross-process transport the way
// internal/openat in the teacher repo adapts dentry opens per platform.
package unixio

import (
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/ubuntu-repo/redirfs"
)

// Broker is the concrete avflt.HandleBroker used by cmd/avfltd. Each
// registered agent is associated with the net.UnixConn carrying its
// request/reply stream; TransferTo sends the opened fd as an ancillary
// message on that connection.
type Broker struct {
	mu    sync.Mutex
	conns map[*avflt.Agent]*net.UnixConn
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{conns: make(map[*avflt.Agent]*net.UnixConn)}
}

// Attach associates agent with the connection used to deliver its
// requests, so a later TransferTo knows where to send descriptors.
func (b *Broker) Attach(agent *avflt.Agent, conn *net.UnixConn) {
	b.mu.Lock()
	b.conns[agent] = conn
	b.mu.Unlock()
}

// Detach forgets the connection for agent, e.g. once it disconnects.
func (b *Broker) Detach(agent *avflt.Agent) {
	b.mu.Lock()
	delete(b.conns, agent)
	b.mu.Unlock()
}

func (b *Broker) connFor(agent *avflt.Agent) *net.UnixConn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conns[agent]
}

// OpenReadable opens dentry's path read-only, preserving the LARGEFILE
// flag. mount is unused here: our adapted dentry already carries an
// absolute, resolved path (see cmd/avfltd), so there is no separate mount
// object to resolve against, unlike the kernel's mnt+dentry pair.
func (b *Broker) OpenReadable(dentry avflt.DentryRef, mount avflt.MountRef, flags avflt.OpenFlag) (avflt.Handle, error) {
	path := dentry.Path()

	sysFlags := unix.O_RDONLY | unix.O_CLOEXEC
	if flags&avflt.FlagLargefile != 0 {
		sysFlags |= largefileFlag
	}

	fd, err := unix.Openat(unix.AT_FDCWD, path, sysFlags, 0)
	if err != nil {
		return avflt.Handle{}, fmt.Errorf("unixio: open %s: %w", path, err)
	}

	return avflt.NewHandle(os.NewFile(uintptr(fd), path)), nil
}

// TransferTo sends line and handle's descriptor to agent's connection in a
// single sendmsg call, with the descriptor riding as SCM_RIGHTS ancillary
// data alongside line's bytes as the ordinary payload. Sending both
// together in one message matters: an agent reading a NUL-delimited
// stream per spec.md §6 would otherwise see a separate fd-bearing message
// with no line in it as a bare, unparseable "request". The broker's local
// copy of the descriptor is closed afterward, since the kernel duplicates
// it into the receiving process.
//
// The fd value already embedded in line is only a correlation id
// (assigned by avflt.Broker.ReadRequest before encoding): only the
// receiving agent's kernel assigns the real descriptor number once the
// message is received, so the protocol's fd field exists to let the agent
// match the request line against the accompanying ancillary data, not to
// predict that number.
func (b *Broker) TransferTo(agent *avflt.Agent, handle avflt.Handle, line []byte) error {
	f, ok := handle.Value().(*os.File)
	if !ok {
		return avflt.ErrBadAddress
	}
	defer f.Close()

	conn := b.connFor(agent)
	if conn == nil {
		return avflt.ErrBadAddress
	}

	rights := unix.UnixRights(int(f.Fd()))
	if _, _, err := conn.WriteMsgUnix(line, rights, nil); err != nil {
		return fmt.Errorf("unixio: transfer fd: %w", err)
	}

	return nil
}

// Close releases a handle that was opened but never transferred.
func (b *Broker) Close(handle avflt.Handle) error {
	if f, ok := handle.Value().(*os.File); ok {
		return f.Close()
	}
	return nil
}
