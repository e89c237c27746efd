package main

import "github.com/ubuntu-repo/redirfs"

// pathDentry is the demo daemon's stand-in for a kernel dentry reference:
// since there is no real VFS here, "the directory entry for the file" is
// simply its resolved path. Release is a no-op because nothing is held.
type pathDentry struct{ path string }

func (d pathDentry) Path() string { return d.path }
func (d pathDentry) Release()     {}

// pathMount is the demo daemon's stand-in for a mount reference.
type pathMount struct{}

func (pathMount) Release() {}

var _ avflt.DentryRef = pathDentry{}
var _ avflt.MountRef = pathMount{}
