package avflt

import (
	"context"
	"syscall"
	"time"
)

// FileAccess describes one file-open or file-release hook invocation, the
// information the (out of scope) filesystem filter framework would supply
// to PreOpen/PostRelease.
type FileAccess struct {
	Identity

	// Inode identifies the file for cache lookups. Zero means "no inode",
	// per spec.md §4.1's should-scan filter.
	Inode uint64
	// Size is the file's current size; zero short-circuits to continue.
	Size int64
	// Writable is whether the probing file itself is open for writing.
	Writable bool
	// Writecount is the inode's current open-for-write count.
	Writecount int

	Path string
	File *FileRef
	// Root is the RootData for the file's root, or nil if the root is
	// unknown to the broker (caching is then skipped for this access).
	Root *RootData
}

// Decision is what a hook call writes back to the filter framework's
// return slot: whether to stop the access, and with which (negative, when
// stopping) code.
type Decision struct {
	Stop bool
	Code int32
}

func allow() Decision { return Decision{} }

// Dispatcher implements spec.md §4.1: the hook dispatcher that decides
// whether a file access must be scanned, consults the cache, and on miss
// submits a request and waits for the agent's verdict.
type Dispatcher struct {
	Broker *Broker
}

func NewDispatcher(b *Broker) *Dispatcher {
	return &Dispatcher{Broker: b}
}

// PreOpen is the pre-hook on regular-file open.
func (d *Dispatcher) PreOpen(ctx context.Context, fa *FileAccess) Decision {
	return d.checkFile(ctx, fa, EventOpen)
}

// PostRelease is the post-hook on regular-file release (close).
func (d *Dispatcher) PostRelease(ctx context.Context, fa *FileAccess) Decision {
	return d.checkFile(ctx, fa, EventClose)
}

func (d *Dispatcher) checkFile(ctx context.Context, fa *FileAccess, typ EventType) Decision {
	if !d.shouldCheck(fa) {
		return allow()
	}

	if rv, hit := d.probeCache(fa, typ); hit {
		if rv != 0 {
			return evalResult(rv)
		}
		return allow()
	}

	rv, err := d.processRequest(ctx, fa, typ)
	switch err {
	case nil:
		if rv != 0 {
			return evalResult(rv)
		}
		return allow()
	case ErrNotAccepted:
		// spec.md §7: "submitters convert NotAccepted silently into allow" —
		// the explicit "no AV present" fail-open policy.
		return allow()
	default:
		// spec.md §7: "all other non-zero outcomes are written to the
		// hook's return slot as a negative error code with decision stop".
		return Decision{Stop: true, Code: negativeCode(err)}
	}
}

// shouldCheck implements avflt_should_check (avflt_rfs.c): skip scanning
// when the broker is stopped, the caller is itself a registered agent, the
// file has no inode, or the file is empty.
func (d *Dispatcher) shouldCheck(fa *FileAccess) bool {
	if d.Broker.IsStopped() {
		return false
	}
	if d.Broker.Agents.IsAllowListed(fa.Tgid) {
		return false
	}
	if fa.Inode == 0 {
		return false
	}
	if fa.Size == 0 {
		return false
	}
	return true
}

// probeCache implements avflt_check_cache: it is only consulted when
// caching is globally enabled and the file's root opts in.
func (d *Dispatcher) probeCache(fa *FileAccess, typ EventType) (result int32, hit bool) {
	if !d.Broker.CacheEnabled() {
		return 0, false
	}
	if fa.Root == nil || !fa.Root.Cache() {
		return 0, false
	}

	data := d.Broker.Inodes.Attach(fa.Inode)
	return probeCache(data, d.Broker.CacheVer(), fa.Root, typ, fa.Writecount, fa.Writable)
}

// processRequest implements the miss path of spec.md §4.1 step 4 and the
// submitter side of §4.4's cache update: allocate, submit, wait with
// timeout, and on a successful reply install the cache entry before
// returning the verdict.
func (d *Dispatcher) processRequest(ctx context.Context, fa *FileAccess, typ EventType) (int32, error) {
	e := d.Broker.allocEvent(typ, fa.Path, fa.Identity, fa.File, fa.Inode, fa.Root)

	if err := d.Broker.queue.submit(e, true); err != nil {
		e.Put()
		return 0, err
	}

	timeout := d.Broker.ReplyTimeout()
	var timer *time.Timer
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer = time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-e.Done():
		result := e.Result
		d.maybeUpdateCache(fa, typ, e, result)
		e.Put()
		return result, nil

	case <-timeoutCh:
		d.Broker.timedOut.Store(true)
		d.Broker.logf("avflt: reply timeout for event %d", e.ID)
		d.Broker.queue.remove(e)
		e.Put()
		return 0, ErrTimedOut

	case <-ctx.Done():
		d.Broker.queue.remove(e)
		e.Put()
		return 0, ErrInterrupted
	}
}

// maybeUpdateCache installs the cache entry per spec.md §4.4: only for
// Open/Close, only if the event ended up cache-eligible, and only if both
// global and per-root caching are enabled.
func (d *Dispatcher) maybeUpdateCache(fa *FileAccess, typ EventType, e *Event, result int32) {
	if typ != EventOpen && typ != EventClose {
		return
	}
	if !e.CacheEligible {
		return
	}
	if !d.Broker.CacheEnabled() {
		return
	}
	if fa.Root == nil || !fa.Root.CacheEnabled() {
		return
	}

	data := d.Broker.Inodes.Attach(fa.Inode)
	installCache(data, d.Broker.CacheVer(), e.RootRef, e.RootCacheVerSnapshot, e.InodeCacheVerSnapshot, result)
}

// evalResult implements avflt_eval_res: negative results propagate as an
// error code denying the access; AVFLT_FILE_INFECTED denies with EPERM;
// anything else continues.
func evalResult(rv int32) Decision {
	if rv < 0 {
		return Decision{Stop: true, Code: rv}
	}
	if rv == FileInfected {
		return Decision{Stop: true, Code: -int32(syscall.EPERM)}
	}
	return allow()
}

// negativeCode maps a broker error to the negative code written to the
// hook's return slot.
func negativeCode(err error) int32 {
	switch err {
	case ErrTimedOut:
		return -int32(syscall.ETIMEDOUT)
	case ErrInterrupted:
		return -int32(syscall.EINTR)
	case ErrOutOfMemory:
		return -int32(syscall.ENOMEM)
	case ErrInvalidArgument:
		return -int32(syscall.EINVAL)
	case ErrBadAddress:
		return -int32(syscall.EFAULT)
	case ErrNoEntry:
		return -int32(syscall.ENOENT)
	default:
		return -int32(syscall.EIO)
	}
}
