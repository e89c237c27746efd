package avflt

import (
	"context"
	"sync"
	"syscall"
	"testing"
	"time"
)

// fakeHandleBroker never actually opens anything; TransferTo succeeds
// immediately so tests can exercise the full submit/pop/reply pipeline
// without a real transport. Like the real unixio.Broker, it "delivers"
// the request line as a side effect of TransferTo rather than returning
// it, so callers that need the line for a handle-bearing event read it
// off transferred.
type fakeHandleBroker struct {
	mu          sync.Mutex
	nextFd      int
	opened      int
	closed      int
	failOpen    bool
	transferred chan []byte
}

func (f *fakeHandleBroker) OpenReadable(DentryRef, MountRef, OpenFlag) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOpen {
		return Handle{}, ErrBadAddress
	}
	f.opened++
	return NewHandle("fake"), nil
}

func (f *fakeHandleBroker) TransferTo(_ *Agent, _ Handle, line []byte) error {
	f.mu.Lock()
	f.nextFd++
	ch := f.transferred
	f.mu.Unlock()
	if ch != nil {
		ch <- line
	}
	return nil
}

func (f *fakeHandleBroker) Close(Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type noopRelease struct{}

func (noopRelease) Release() {}

type stringDentry struct {
	noopRelease
	path string
}

func (d stringDentry) Path() string { return d.path }

// runFakeAgent pops exactly one request from the broker and replies with
// result, simulating an out-of-process scanner.
func runFakeAgent(t *testing.T, b *Broker, result int32, cache bool) {
	t.Helper()
	agent := NewAgent(1234)
	b.Agents.Register(agent)

	go func() {
		e, err := b.WaitForRequest(context.Background(), agent)
		if err != nil {
			return
		}
		if _, err := b.ReadRequest(agent, e, 512); err != nil {
			return
		}
		b.applyParsedReplyForTest(agent.Pgid, e.ID, result, cache)
	}()
}

// applyParsedReplyForTest lets tests drive ApplyReply without going
// through the wire encoding.
func (b *Broker) applyParsedReplyForTest(pgid int, id uint64, res int32, cache bool) {
	agent := b.Agents.Lookup(pgid)
	e, err := agent.takeReply(id)
	if err != nil {
		return
	}
	e.Result = res
	e.CacheEligible = cache
	e.Complete(res)
	e.Put()
}

func newTestDispatcher(hb HandleBroker) (*Broker, *Dispatcher, *RootData) {
	b := NewBroker()
	b.Handles = hb
	b.StartAccepting()
	root := NewRootData("/mnt", true)
	return b, NewDispatcher(b), root
}

func TestDispatcherAllowsWhenNoInode(t *testing.T) {
	b, d, root := newTestDispatcher(&fakeHandleBroker{})
	fa := &FileAccess{Identity: Identity{Pid: 1, Tgid: 1}, Inode: 0, Size: 10, Root: root}

	dec := d.PreOpen(context.Background(), fa)
	if dec.Stop {
		t.Fatalf("expected allow for zero inode, got %+v", dec)
	}
	_ = b
}

func TestDispatcherAllowsEmptyFile(t *testing.T) {
	b, d, root := newTestDispatcher(&fakeHandleBroker{})
	fa := &FileAccess{Identity: Identity{Pid: 1, Tgid: 1}, Inode: 1, Size: 0, Root: root}

	dec := d.PreOpen(context.Background(), fa)
	if dec.Stop {
		t.Fatalf("expected allow for empty file, got %+v", dec)
	}
	_ = b
}

func TestDispatcherSkipsAllowListedCaller(t *testing.T) {
	b, d, root := newTestDispatcher(&fakeHandleBroker{})
	agent := NewAgent(99)
	b.Agents.Register(agent)

	fa := &FileAccess{Identity: Identity{Pid: 99, Tgid: 99}, Inode: 1, Size: 10, Root: root}
	dec := d.PreOpen(context.Background(), fa)
	if dec.Stop {
		t.Fatalf("expected allow for an agent's own access, got %+v", dec)
	}
}

func TestDispatcherFullRoundTripAllow(t *testing.T) {
	hb := &fakeHandleBroker{}
	b, d, root := newTestDispatcher(hb)

	runFakeAgent(t, b, 0, true)

	fa := &FileAccess{
		Identity: Identity{Pid: 1, Tgid: 1, Ppid: 0, Ruid: 0},
		Inode:    7,
		Size:     100,
		Path:     "/mnt/file",
		Root:     root,
		File:     &FileRef{Dentry: stringDentry{path: "/mnt/file"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dec := d.PreOpen(ctx, fa)
	if dec.Stop {
		t.Fatalf("expected allow verdict, got %+v", dec)
	}
	if hb.opened != 1 {
		t.Fatalf("expected exactly one OpenReadable call, got %d", hb.opened)
	}
}

func TestDispatcherFullRoundTripDeny(t *testing.T) {
	hb := &fakeHandleBroker{}
	b, d, root := newTestDispatcher(hb)

	runFakeAgent(t, b, FileInfected, true)

	fa := &FileAccess{
		Identity: Identity{Pid: 1, Tgid: 1},
		Inode:    8,
		Size:     100,
		Path:     "/mnt/bad",
		Root:     root,
		File:     &FileRef{Dentry: stringDentry{path: "/mnt/bad"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dec := d.PreOpen(ctx, fa)
	if !dec.Stop || dec.Code != -int32(syscall.EPERM) {
		t.Fatalf("expected EPERM deny, got %+v", dec)
	}
}

func TestDispatcherCacheHitAvoidsSecondRequest(t *testing.T) {
	hb := &fakeHandleBroker{}
	b, d, root := newTestDispatcher(hb)

	runFakeAgent(t, b, 0, true)

	fa := &FileAccess{
		Identity: Identity{Pid: 1, Tgid: 1},
		Inode:    9,
		Size:     100,
		Path:     "/mnt/cached",
		Root:     root,
		File:     &FileRef{Dentry: stringDentry{path: "/mnt/cached"}},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if dec := d.PreOpen(ctx, fa); dec.Stop {
		t.Fatalf("expected allow on first (miss) check, got %+v", dec)
	}

	// second check for the same inode must hit the cache: the fake agent
	// answers only one request, so a miss here would wait until ctx
	// expires and be denied.
	fa2 := *fa
	fa2.File = &FileRef{Dentry: stringDentry{path: "/mnt/cached"}}
	if dec := d.PreOpen(ctx, &fa2); dec.Stop {
		t.Fatalf("expected allow on cache hit, got %+v", dec)
	}
}

func TestDispatcherTimeout(t *testing.T) {
	hb := &fakeHandleBroker{}
	b, d, root := newTestDispatcher(hb)
	b.SetReplyTimeout(20 * time.Millisecond)

	agent := NewAgent(55)
	b.Agents.Register(agent) // registered but never reads/replies

	fa := &FileAccess{
		Identity: Identity{Pid: 1, Tgid: 1},
		Inode:    11,
		Size:     100,
		Path:     "/mnt/slow",
		Root:     root,
		File:     &FileRef{Dentry: stringDentry{path: "/mnt/slow"}},
	}

	dec := d.PreOpen(context.Background(), fa)
	if !dec.Stop || dec.Code != -int32(syscall.ETIMEDOUT) {
		t.Fatalf("expected ETIMEDOUT deny, got %+v", dec)
	}
	if !b.TimedOut() {
		t.Fatal("expected broker TimedOut flag set")
	}
}

func TestDispatcherContextCancellation(t *testing.T) {
	hb := &fakeHandleBroker{}
	b, d, root := newTestDispatcher(hb)

	b.Agents.Register(NewAgent(66)) // never replies

	fa := &FileAccess{
		Identity: Identity{Pid: 1, Tgid: 1},
		Inode:    12,
		Size:     100,
		Path:     "/mnt/interrupt",
		Root:     root,
		File:     &FileRef{Dentry: stringDentry{path: "/mnt/interrupt"}},
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	dec := d.PreOpen(ctx, fa)
	if !dec.Stop || dec.Code != -int32(syscall.EINTR) {
		t.Fatalf("expected EINTR deny, got %+v", dec)
	}
}

func TestDispatcherStoppedBrokerAllowsWithoutSubmitting(t *testing.T) {
	hb := &fakeHandleBroker{}
	b := NewBroker()
	b.Handles = hb
	// gate never opened: StartAccepting not called, so shouldCheck's
	// IsStopped guard short-circuits before a request is ever submitted.
	root := NewRootData("/mnt", true)
	d := NewDispatcher(b)

	fa := &FileAccess{
		Identity: Identity{Pid: 1, Tgid: 1},
		Inode:    13,
		Size:     100,
		Path:     "/mnt/x",
		Root:     root,
		File:     &FileRef{Dentry: stringDentry{path: "/mnt/x"}},
	}

	dec := d.PreOpen(context.Background(), fa)
	if dec.Stop {
		t.Fatalf("expected allow, got %+v", dec)
	}

	if b.processRequestForTest(fa) != ErrNotAccepted {
		t.Fatal("expected submit to report ErrNotAccepted while the gate is closed")
	}
}

// processRequestForTest exercises the submit path directly (bypassing
// shouldCheck) to verify the ErrNotAccepted branch processRequest relies
// on for its fail-open behavior.
func (b *Broker) processRequestForTest(fa *FileAccess) error {
	e := b.allocEvent(EventOpen, fa.Path, fa.Identity, fa.File, fa.Inode, fa.Root)
	defer e.Put()
	return b.queue.submit(e, true)
}
