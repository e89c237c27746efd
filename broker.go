package avflt

import (
	"log"
	"sync/atomic"
	"time"
)

// Broker is the broker's global mutable state (spec.md §3 "Global state"
// and §9 Design Notes: "avoid process-wide singletons by parameterizing
// tests with distinct contexts"). It is threaded explicitly into the hook
// dispatcher and agent codec rather than held in package-level variables.
type Broker struct {
	Agents  *AgentRegistry
	Inodes  InodeStore
	Handles HandleBroker
	Logger  *log.Logger

	queue *requestQueue

	cacheEnabled atomic.Bool
	cacheVer     atomic.Uint64
	eventIDs     atomic.Uint64
	fdIDs        atomic.Uint64
	replyTimeout atomic.Int64 // milliseconds; 0 = infinite
	timedOut     atomic.Bool
}

// NewBroker returns a Broker with caching enabled, no reply timeout, and
// the admission gate closed until StartAccepting is called.
func NewBroker() *Broker {
	b := &Broker{
		Agents:  NewAgentRegistry(),
		Inodes:  NewInodeStore(),
		Handles: NoHandleBroker{},
		Logger:  log.Default(),
		queue:   newRequestQueue(),
	}
	b.cacheEnabled.Store(true)
	return b
}

func (b *Broker) CacheEnabled() bool       { return b.cacheEnabled.Load() }
func (b *Broker) SetCacheEnabled(v bool)   { b.cacheEnabled.Store(v) }
func (b *Broker) CacheVer() uint64         { return b.cacheVer.Load() }
func (b *Broker) TimedOut() bool           { return b.timedOut.Load() }
func (b *Broker) ClearTimedOut()           { b.timedOut.Store(false) }

// ReplyTimeout returns the configured reply deadline; zero means wait
// indefinitely (spec.md §3/§5).
func (b *Broker) ReplyTimeout() time.Duration {
	ms := b.replyTimeout.Load()
	if ms <= 0 {
		return 0
	}
	return time.Duration(ms) * time.Millisecond
}

func (b *Broker) SetReplyTimeout(d time.Duration) {
	b.replyTimeout.Store(int64(d / time.Millisecond))
}

func (b *Broker) nextEventID() uint64 {
	return b.eventIDs.Add(1)
}

// nextFd assigns the correlation id a request line carries in its fd
// field when it has a handle to transfer. It is reserved before encoding,
// analogous to the kernel's get_unused_fd, so encoding can bounds-check
// the final line before any handle ever leaves the broker.
func (b *Broker) nextFd() int {
	return int(b.fdIDs.Add(1))
}

func (b *Broker) logf(format string, args ...any) {
	if b.Logger != nil {
		b.Logger.Printf(format, args...)
	}
}

// IsStopped reports whether the admission gate is closed.
func (b *Broker) IsStopped() bool { return b.queue.isStopped() }

// IsEmpty reports whether the request queue currently has no pending
// events.
func (b *Broker) IsEmpty() bool { return b.queue.isEmpty() }
