package avflt

import (
	"context"

	"github.com/ubuntu-repo/redirfs/wire"
)

// WaitForRequest blocks until an event is available for agent to pop, or
// ctx is done. It implements the "request available" wait of spec.md §5:
// pop() blocks the agent on request-available, interruptible by signal —
// here, by ctx cancellation.
func (b *Broker) WaitForRequest(ctx context.Context, agent *Agent) (*Event, error) {
	for {
		if e := b.queue.pop(b.nextEventID); e != nil {
			return e, nil
		}

		select {
		case <-b.queue.avail.wait():
		case <-ctx.Done():
			return nil, ErrInterrupted
		}
	}
}

// ReadRequest implements spec.md §4.5's agent-read path for an event
// already popped from the queue (typically via WaitForRequest): it opens a
// readable handle when the event carries a dentry, formats and
// bounds-checks the request line, and only once that succeeds transfers
// the handle into the agent's descriptor table and appends the event to
// the agent's backlog.
//
// This ordering — reserve a correlation id, format, bounds-check, only
// then hand off the descriptor — mirrors the kernel source's
// reserve→format→fd_install sequence (avflt_check.c's
// get_unused_fd/avflt_copy_cmd/fd_install): a handle is never installed
// into the agent's table for a request line that never goes out, so it is
// never both transferred and undelivered, matching spec.md §4.5's
// invariant. Unlike the kernel, the receiving agent process owns the
// actual descriptor table, so the fd value carried in the request line is
// only a correlation id the agent matches against the SCM_RIGHTS
// ancillary data it receives alongside the line (see package unixio); it
// is assigned here, before encoding, rather than returned by the transfer
// step.
//
// On any failure the event is re-added to the queue head for another
// agent to retry, any opened handle is released, and the caller's
// pop-acquired reference is dropped, per the refcount discipline in
// spec.md §5: "the event's refcount reflects every distinct holder."
func (b *Broker) ReadRequest(agent *Agent, e *Event, bufSize int) ([]byte, error) {
	fd := -1
	var handle Handle
	haveHandle := false

	if e.hasDentry() {
		var err error
		handle, err = b.Handles.OpenReadable(e.File.Dentry, e.File.Mount, e.File.Flags)
		if err != nil {
			b.queue.readd(e)
			e.Put()
			return nil, err
		}
		haveHandle = true
		fd = b.nextFd()
	}

	line, err := wire.EncodeRequest(wire.Request{
		ID: e.ID, Type: int32(e.Type), Fd: fd,
		Pid: e.Pid, Tgid: e.Tgid, Ppid: e.Ppid, Ruid: e.Ruid,
		Path: e.Path,
	}, bufSize)
	if err != nil {
		if haveHandle {
			_ = b.Handles.Close(handle)
		}
		b.queue.readd(e)
		e.Put()
		return nil, ErrInvalidArgument
	}

	if haveHandle {
		if err := b.Handles.TransferTo(agent, handle, line); err != nil {
			b.queue.readd(e)
			e.Put()
			return nil, err
		}
		e.Handle = handle
		e.Fd = fd
		agent.track(e)
		// TransferTo has already written line to the agent's connection
		// alongside the handle's ancillary data; the caller must not write
		// it again.
		return nil, nil
	}

	agent.track(e)
	return line, nil
}
