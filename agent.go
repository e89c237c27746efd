package avflt

import "sync"

// Agent is a registered scanner process as the broker sees it: an
// identifying process group and the backlog of events it has checked out
// from the request queue but not yet replied to. Creation, authentication
// and enumeration of agents belong to the (out of scope) agent registry;
// the broker only consumes lookup-by-process-group and the backlog.
type Agent struct {
	Pgid int

	mu      sync.Mutex
	backlog map[uint64]*Event
}

// NewAgent creates an agent with an empty backlog.
func NewAgent(pgid int) *Agent {
	return &Agent{Pgid: pgid, backlog: make(map[uint64]*Event)}
}

// track appends event to the agent's backlog (spec.md §4.5, last step).
func (a *Agent) track(e *Event) {
	a.mu.Lock()
	a.backlog[e.ID] = e
	a.mu.Unlock()
}

// takeReply removes and returns the backlog entry with the given id,
// mirroring avflt_proc_get_event. Returns ErrNoEntry if absent, e.g.
// because the reply was already applied or the backlog was stranded. A
// submitter's timeout or interruption does not remove an event from the
// backlog, so a late reply for such an event still finds it here.
func (a *Agent) takeReply(id uint64) (*Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.backlog[id]
	if !ok {
		return nil, ErrNoEntry
	}
	delete(a.backlog, id)
	return e, nil
}

// strand removes every backlog entry and returns them, for the lifecycle
// controller to release when an agent departs mid-flight (spec.md §7: "a
// dropped agent leaves its backlog events strandable").
func (a *Agent) strand() []*Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Event, 0, len(a.backlog))
	for id, e := range a.backlog {
		out = append(out, e)
		delete(a.backlog, id)
	}
	return out
}

// AgentRegistry is the narrow slice of the (out of scope) per-process agent
// registry the broker consumes: lookup by process group, and enumeration
// for the "allow list" should-scan filter and for draining on departure.
type AgentRegistry struct {
	mu     sync.Mutex
	byPgid map[int]*Agent
}

// NewAgentRegistry returns an empty registry.
func NewAgentRegistry() *AgentRegistry {
	return &AgentRegistry{byPgid: make(map[int]*Agent)}
}

// Register adds an agent, keyed by its process group.
func (r *AgentRegistry) Register(a *Agent) {
	r.mu.Lock()
	r.byPgid[a.Pgid] = a
	r.mu.Unlock()
}

// Unregister removes the agent for pgid, if any, returning it so its
// backlog can be stranded by the caller.
func (r *AgentRegistry) Unregister(pgid int) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := r.byPgid[pgid]
	delete(r.byPgid, pgid)
	return a
}

// Lookup finds the agent registered for pgid.
func (r *AgentRegistry) Lookup(pgid int) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byPgid[pgid]
}

// IsAllowListed reports whether pgid belongs to a currently registered
// agent. Agents must not recursively trigger a scan of their own accesses
// (spec.md §4.1 should-scan filter, avflt_proc_allow).
func (r *AgentRegistry) IsAllowListed(pgid int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPgid[pgid]
	return ok
}

// Empty reports whether no agent is currently registered, used by
// stop_accepting's no-op rule.
func (r *AgentRegistry) Empty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byPgid) == 0
}

// PickAny returns an arbitrary registered agent, or nil. Nothing in this
// module calls it.
func (r *AgentRegistry) PickAny() *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.byPgid {
		return a
	}
	return nil
}
