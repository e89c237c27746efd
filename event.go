package avflt

import (
	"sync"
	"sync/atomic"
)

// EventType identifies the kind of file access an Event was raised for.
// It is an extensible enum, per spec.md §3.
type EventType int32

const (
	EventOpen EventType = iota
	EventClose
)

func (t EventType) String() string {
	switch t {
	case EventOpen:
		return "open"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// MountRef is a held reference to the mount a file lives on. Ownership of
// the underlying resource belongs to the filesystem filter framework; the
// broker only holds a reference and releases it exactly once.
type MountRef interface {
	Release()
}

// DentryRef is a held reference to a file's directory entry.
type DentryRef interface {
	Release()
	Path() string
}

// OpenFlag mirrors the subset of originator open flags the broker
// propagates to the agent's read request (spec.md §3: "only LARGEFILE is
// propagated").
type OpenFlag uint32

const FlagLargefile OpenFlag = 1 << 0

// FileRef groups the file-reference fields of an Event. It is present only
// when the access has a live file backing it (e.g. absent for a rename).
type FileRef struct {
	Mount  MountRef
	Dentry DentryRef
	Flags  OpenFlag
}

// Event is one pending scan request: the unit of work exchanged between a
// hook invocation, the request queue, an agent's backlog and the reply
// matcher. Its lifetime is refcounted; see Get/Put.
type Event struct {
	ID   uint64
	Type EventType

	Pid, Tgid, Ppid, Ruid int
	Path                  string

	File *FileRef

	Handle Handle
	Fd     int

	CacheEligible bool

	RootRef              *RootData
	RootCacheVerSnapshot uint64
	InodeCacheVerSnapshot uint64

	Result int32

	completion chan struct{}
	completeOnce sync.Once

	refcount int32

	mu       sync.Mutex
	inQueue  bool
	elem     interface{} // *list.Element while linked into the request queue
}

// newEvent allocates an event with refcount 1, matching avflt_event_alloc's
// initial state: queue linkage empty, completion unset, identity captured
// from the caller. Fd defaults to -1 (no file) until ReadRequest has
// transferred a handle for the event.
func newEvent(typ EventType, path string, pid, tgid, ppid, ruid int) *Event {
	return &Event{
		Type:       typ,
		Path:       path,
		Pid:        pid,
		Tgid:       tgid,
		Ppid:       ppid,
		Ruid:       ruid,
		Fd:         -1,
		refcount:   1,
		completion: make(chan struct{}),
	}
}

// Get increments the refcount, recording a new distinct holder of the
// event (queue, agent backlog, or a transient lookup).
func (e *Event) Get() *Event {
	atomic.AddInt32(&e.refcount, 1)
	return e
}

// Put drops one holder's reference. The last Put releases the event's
// mount, dentry and root references. Every distinct holder must call Put
// exactly once.
func (e *Event) Put() {
	if atomic.AddInt32(&e.refcount, -1) != 0 {
		return
	}
	if e.File != nil {
		if e.File.Mount != nil {
			e.File.Mount.Release()
		}
		if e.File.Dentry != nil {
			e.File.Dentry.Release()
		}
	}
	if e.RootRef != nil {
		e.RootRef.put()
	}
}

// Complete signals the event's completion exactly once; later calls are
// no-ops, satisfying "exactly one party completes the event" (spec.md §3).
func (e *Event) Complete(result int32) {
	e.completeOnce.Do(func() {
		e.Result = result
		close(e.completion)
	})
}

// Done returns the channel the submitter blocks on.
func (e *Event) Done() <-chan struct{} {
	return e.completion
}

// hasDentry reports whether this event carries a live file reference,
// governing the invariant that Handle/Fd stay empty otherwise.
func (e *Event) hasDentry() bool {
	return e.File != nil && e.File.Dentry != nil
}
