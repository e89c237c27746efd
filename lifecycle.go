package avflt

// RootEnumerator lists the filter roots currently known to the filesystem
// filter framework, standing in for "enumerate all current filter paths
// from the framework" in spec.md §4.6. The default implementation (package
// mountroots) backs this with the system's mount table.
type RootEnumerator interface {
	Roots() []*RootData
}

// Activator signals the filter framework to actually activate the filter,
// the counterpart of redirfs_activate_filter in avflt_rfs.c.
type Activator interface {
	Activate() error
}

// StartAccepting flips the admission gate open.
func (b *Broker) StartAccepting() {
	b.queue.startAccepting()
}

// StopAccepting closes the admission gate only if no agent remains
// registered; otherwise it leaves the gate open so in-flight work can
// drain as agents reply or time out. This preserves the source's
// avflt_stop_accept behavior verbatim (spec.md §9 Open Question).
func (b *Broker) StopAccepting() {
	b.queue.stopAccepting(b.Agents.Empty)
}

// ForceStop closes the gate unconditionally, for tests that need a
// deterministic drain regardless of registered agents.
func (b *Broker) ForceStop() {
	b.queue.forceStop()
}

// InvalidateRoot bumps a single root's cache version (avflt_invalidate_cache_root).
func (b *Broker) InvalidateRoot(root *RootData) {
	if root != nil {
		root.Invalidate()
	}
}

// InvalidateAll bumps every currently known root's cache version
// (avflt_invalidate_cache).
func (b *Broker) InvalidateAll(roots RootEnumerator) {
	if roots == nil {
		return
	}
	for _, r := range roots.Roots() {
		b.InvalidateRoot(r)
	}
}

// OnActivate invalidates all caches before telling the filter framework to
// activate the filter, matching avflt_activate's ordering exactly.
func (b *Broker) OnActivate(roots RootEnumerator, act Activator) error {
	b.InvalidateAll(roots)
	if act == nil {
		return nil
	}
	return act.Activate()
}

// Shutdown drains any remaining requests and forbids new submissions. It
// assumes the caller has already ensured no agent will read from the queue
// again.
func (b *Broker) Shutdown() {
	b.ForceStop()
	b.queue.drain()
}

// Drain releases every queued submitter if the gate is closed (spec.md
// §4.3/§5); it is a no-op while still accepting.
func (b *Broker) Drain() {
	b.queue.drain()
}

// Depart unregisters the agent at pgid and completes, with the default
// result (0 = continue), any event still stranded in its backlog — spec.md
// §7: "the lifecycle controller's drain is responsible for releasing any
// event still owned by a departed agent."
func (b *Broker) Depart(pgid int) {
	a := b.Agents.Unregister(pgid)
	if a == nil {
		return
	}
	for _, e := range a.strand() {
		e.Complete(0)
		e.Put()
	}
}
