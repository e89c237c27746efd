package avflt

import (
	"container/list"
	"sync"
)

// requestQueue is the FIFO of pending events awaiting an agent pickup, plus
// the admission gate that controls whether new requests may join it. It
// corresponds to avflt_request_list/avflt_request_lock/avflt_request_accept
// in the original avflt_check.c, and to the "request available" wait queue
// described in spec.md §4.3/§5.
//
// Holding q.mu must never overlap with a blocking operation other than the
// condition wait itself, which is a bounded release-and-sleep.
type requestQueue struct {
	mu        sync.Mutex
	items     *list.List // *Event, held (refcount owned by the queue)
	accepting bool
	avail     *broadcaster
}

func newRequestQueue() *requestQueue {
	return &requestQueue{
		items: list.New(),
		avail: newBroadcaster(),
	}
}

// submit links event at head or tail depending on atTail, taking ownership
// of one refcount. It fails with ErrNotAccepted if the gate is closed,
// matching avflt_add_request's "request not accepted" return.
func (q *requestQueue) submit(e *Event, atTail bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.accepting {
		return ErrNotAccepted
	}

	e.mu.Lock()
	if atTail {
		e.elem = q.items.PushBack(e)
	} else {
		e.elem = q.items.PushFront(e)
	}
	e.inQueue = true
	e.mu.Unlock()

	e.Get()
	q.avail.broadcast()
	return nil
}

// readd returns event to the head of the queue for retry by another agent,
// as the agent I/O codec does when encoding fails (spec.md §4.3/§4.5). If
// there is no agent left to accept it, the event is completed immediately
// with its current (typically unset) result so the submitter unblocks.
func (q *requestQueue) readd(e *Event) {
	if err := q.submit(e, false); err != nil {
		e.Complete(e.Result)
	}
}

// pop removes the head of the queue, assigns it a fresh id and returns it.
// The caller (an agent) now owns the queue's +1 refcount. Returns nil if
// the queue is empty.
func (q *requestQueue) pop(nextID func() uint64) *Event {
	q.mu.Lock()
	defer q.mu.Unlock()

	front := q.items.Front()
	if front == nil {
		return nil
	}
	e := front.Value.(*Event)
	q.items.Remove(front)

	e.mu.Lock()
	e.elem = nil
	e.inQueue = false
	e.mu.Unlock()

	e.ID = nextID()
	return e
}

// remove idempotently unlinks event from the queue and drops one refcount.
// It is used on the submitter's timeout/interruption path.
func (q *requestQueue) remove(e *Event) bool {
	q.mu.Lock()
	e.mu.Lock()
	elem := e.elem
	if elem == nil {
		e.mu.Unlock()
		q.mu.Unlock()
		return false
	}
	q.items.Remove(elem.(*list.Element))
	e.elem = nil
	e.inQueue = false
	e.mu.Unlock()
	q.mu.Unlock()

	e.Put()
	return true
}

// drain releases every queued submitter. It is a no-op while the gate is
// open, since live requests must stay available for agents to pick up
// (avflt_rem_requests: "if accept==1, do nothing").
func (q *requestQueue) drain() {
	q.mu.Lock()
	if q.accepting {
		q.mu.Unlock()
		return
	}

	var drained []*Event
	for e := q.items.Front(); e != nil; e = q.items.Front() {
		q.items.Remove(e)
		ev := e.Value.(*Event)
		ev.mu.Lock()
		ev.elem = nil
		ev.inQueue = false
		ev.mu.Unlock()
		drained = append(drained, ev)
	}
	q.mu.Unlock()

	for _, e := range drained {
		e.Complete(0)
		e.Put()
	}
}

func (q *requestQueue) isEmpty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len() == 0
}

func (q *requestQueue) startAccepting() {
	q.mu.Lock()
	q.accepting = true
	q.mu.Unlock()
}

// stopAccepting closes the gate only if noAgents reports none remain,
// preserving the source's "stop_accepting is a no-op while any agent is
// registered" behavior (spec.md §9 Open Question). forceStop bypasses the
// check, for tests.
func (q *requestQueue) stopAccepting(noAgents func() bool) {
	q.mu.Lock()
	if noAgents() {
		q.accepting = false
	}
	q.mu.Unlock()
}

func (q *requestQueue) forceStop() {
	q.mu.Lock()
	q.accepting = false
	q.mu.Unlock()
}

func (q *requestQueue) isStopped() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return !q.accepting
}
