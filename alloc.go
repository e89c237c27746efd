package avflt

// Identity carries the originating process identity fields copied onto an
// Event at allocation time (spec.md §3: pid, tgid, ppid, ruid).
type Identity struct {
	Pid, Tgid, Ppid, Ruid int
}

// allocEvent implements spec.md §4.2 / avflt_event_alloc: it always
// captures the caller's identity and, when a file is present, the
// mount/dentry references, propagated flags, and the root/inode
// cache-version snapshots current at this instant — even if caching is
// globally or per-root disabled, since a later reply might still want to
// install a cache entry once enabled.
//
// inode identifies the file's inode for InodeStore lookup; it is ignored
// when file is nil.
func (b *Broker) allocEvent(typ EventType, path string, id Identity, file *FileRef, inode uint64, root *RootData) *Event {
	e := newEvent(typ, path, id.Pid, id.Tgid, id.Ppid, id.Ruid)

	if file == nil {
		return e
	}

	e.File = file
	e.CacheEligible = true

	if root != nil {
		e.RootRef = root.get()
		e.RootCacheVerSnapshot = root.CacheVer()
	}

	data := b.Inodes.Attach(inode)
	data.lock.Lock()
	e.InodeCacheVerSnapshot = data.inodeCacheVer
	data.lock.Unlock()

	return e
}
