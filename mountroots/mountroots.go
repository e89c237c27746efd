// Package mountroots provides the default avflt.RootEnumerator: it
// discovers filter roots from the live mount table via
// github.com/moby/sys/mountinfo, standing in for "enumerate all current
// filter paths from the framework" (spec.md §4.6) when no real
// filesystem filter framework is wired in (e.g. for cmd/avfltd and
// integration tests).
package mountroots

import (
	"sync"

	"github.com/moby/sys/mountinfo"

	"github.com/ubuntu-repo/redirfs"
)

// Registry tracks one *avflt.RootData per mount point the broker has been
// told to watch, refreshed from /proc/self/mountinfo on demand.
type Registry struct {
	mu    sync.RWMutex
	byDir map[string]*avflt.RootData
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byDir: make(map[string]*avflt.RootData)}
}

// Refresh re-reads the mount table, keeping existing RootData values (and
// their cache versions) for mount points still present, and adding new
// entries for newly discovered ones. It never removes a RootData for a
// mount point that disappears, since in-flight Events may still hold a
// reference to it.
func (r *Registry) Refresh(filters ...mountinfo.FilterFunc) error {
	mounts, err := mountinfo.GetMounts(filters...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range mounts {
		if _, ok := r.byDir[m.Mountpoint]; !ok {
			r.byDir[m.Mountpoint] = avflt.NewRootData(m.Mountpoint, true)
		}
	}
	return nil
}

// Lookup returns the RootData registered for dir, or nil.
func (r *Registry) Lookup(dir string) *avflt.RootData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byDir[dir]
}

// Roots implements avflt.RootEnumerator.
func (r *Registry) Roots() []*avflt.RootData {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*avflt.RootData, 0, len(r.byDir))
	for _, rd := range r.byDir {
		out = append(out, rd)
	}
	return out
}

// PathPrefixFilter restricts Refresh to mount points under prefix, a
// convenience built on mountinfo.FilterFunc for the common "watch this
// subtree" administrative case.
func PathPrefixFilter(prefix string) mountinfo.FilterFunc {
	return func(m *mountinfo.Info) (skip, stop bool) {
		if len(m.Mountpoint) < len(prefix) || m.Mountpoint[:len(prefix)] != prefix {
			return true, false
		}
		return false, false
	}
}
