package avflt

import (
	"sync"
	"sync/atomic"
)

// RootData is per-root state: whether the root participates in caching at
// all, whether caching is currently admin-enabled for it, and its
// cache-invalidation version. Mutable fields are accessed via atomics so
// they can be read without holding an InodeData lock (spec.md §5 lock
// ordering: queue/backlog -> InodeData -> RootData-via-atomics).
type RootData struct {
	// Path identifies the root for logging and lookup; it is not part of
	// the cache protocol itself.
	Path string

	cacheEnabled atomic.Bool
	cache        atomic.Bool
	cacheVer     atomic.Uint64

	refcount int32
}

// NewRootData creates a root entry with caching enabled by default and
// refcount 1, matching a freshly discovered filter root.
func NewRootData(path string, cache bool) *RootData {
	r := &RootData{Path: path, refcount: 1}
	r.cacheEnabled.Store(true)
	r.cache.Store(cache)
	return r
}

func (r *RootData) get() *RootData {
	atomic.AddInt32(&r.refcount, 1)
	return r
}

func (r *RootData) put() {
	// RootData has no owned resources of its own beyond its refcount; a
	// drop to zero simply means no Event or InodeData references it any
	// longer. The root registry is the authority on whether to forget it.
	atomic.AddInt32(&r.refcount, -1)
}

func (r *RootData) CacheVer() uint64       { return r.cacheVer.Load() }
func (r *RootData) Invalidate()            { r.cacheVer.Add(1) }
func (r *RootData) CacheEnabled() bool     { return r.cacheEnabled.Load() }
func (r *RootData) SetCacheEnabled(v bool) { r.cacheEnabled.Store(v) }
func (r *RootData) Cache() bool            { return r.cache.Load() }
func (r *RootData) SetCache(v bool)        { r.cache.Store(v) }

// InodeData is the per-inode cache entry. All of its fields are guarded by
// lock, and are only ever touched by the broker under that lock (spec.md
// §3: "the broker only reads/writes its fields under its own lock").
type InodeData struct {
	lock sync.Mutex

	state         int32
	defaulted     bool
	inodeCacheVer uint64
	cacheVer      uint64
	avfltCacheVer uint64
	rootRef       *RootData
	rootCacheVer  uint64
}

func newInodeData() *InodeData {
	return &InodeData{defaulted: true}
}

// InodeStore is the external "inode data" service the broker attaches
// InodeData to, keyed by inode number. A real deployment shares this store
// with other filter hooks; the default implementation here is a private
// sync.Map, adequate for the broker's own use and for tests.
type InodeStore interface {
	// Attach returns the InodeData for ino, creating it on first use.
	Attach(ino uint64) *InodeData
}

type inodeStore struct {
	m sync.Map // uint64 -> *InodeData
}

// NewInodeStore returns the default InodeStore.
func NewInodeStore() InodeStore {
	return &inodeStore{}
}

func (s *inodeStore) Attach(ino uint64) *InodeData {
	if v, ok := s.m.Load(ino); ok {
		return v.(*InodeData)
	}
	v, _ := s.m.LoadOrStore(ino, newInodeData())
	return v.(*InodeData)
}

// probeCache implements spec.md §4.1 step 2 and the writecount bookkeeping
// from the original avflt_check_cache (avflt_rfs.c): it bumps
// inode_cache_ver when a writer is known to have just finished, then
// reports the cached verdict only if all three version snapshots still
// match.
//
// wc is the file's current writecount; writable is whether the probing
// file itself was opened for writing; typ distinguishes Open from Close
// for the single-writer case.
func probeCache(data *InodeData, globalVer uint64, root *RootData, typ EventType, wc int, writable bool) (result int32, hit bool) {
	data.lock.Lock()
	defer data.lock.Unlock()

	switch {
	case wc == 1:
		if !writable {
			data.inodeCacheVer++
		} else if typ == EventClose {
			data.inodeCacheVer++
		}
	case wc > 1:
		data.inodeCacheVer++
	}

	if data.defaulted {
		return 0, false
	}
	if data.avfltCacheVer != globalVer {
		return 0, false
	}
	if root != nil && data.rootCacheVer != root.CacheVer() {
		return 0, false
	}
	if data.cacheVer != data.inodeCacheVer {
		return 0, false
	}

	return data.state, true
}

// installCache implements spec.md §4.4's cache update: it records the
// verdict together with the version snapshots that witnessed it, so a
// subsequent probe under newer versions misses. The InodeData's hold on
// root is its own, separate from any Event's hold: installCache get()s
// the incoming root before replacing data.rootRef, then put()s whatever
// root it displaced, mirroring avflt_update_cache's
// avflt_get_root_data(new)/avflt_put_root_data(old) pair.
func installCache(data *InodeData, globalVer uint64, root *RootData, rootCacheVer, inodeCacheVer uint64, result int32) {
	if root != nil {
		root.get()
	}

	data.lock.Lock()
	old := data.rootRef
	data.rootRef = root
	data.rootCacheVer = rootCacheVer
	data.cacheVer = inodeCacheVer
	data.avfltCacheVer = globalVer
	data.state = result
	data.defaulted = false
	data.lock.Unlock()

	if old != nil {
		old.put()
	}
}
