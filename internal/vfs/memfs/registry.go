package memfs

import "sync"

// Registry is a path-keyed table of memfs inodes, the in-memory stand-in
// for the directory tree this kernel otherwise has none of (spec §1: no
// on-disk filesystem is in scope). internal/kinit installs the boot image
// under a well-known path before the first task runs; internal/elfload's
// execve path and internal/syscalls' openat both resolve regular-file
// paths through the same table so a task can re-exec an image it was
// loaded from.
type Registry struct {
	mu    sync.RWMutex
	files map[string]*Inode
	nextI uint64
}

// NewRegistry creates an empty path table.
func NewRegistry() *Registry {
	return &Registry{files: make(map[string]*Inode)}
}

// Files is the process-wide registry every in-kernel component shares,
// mirroring internal/task.Global's "one singleton, tests build their own"
// shape.
var Files = NewRegistry()

// Install registers data under path, replacing any existing entry, and
// returns the backing inode.
func (r *Registry) Install(path string, data []byte) *Inode {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextI++
	n := NewFromBytes(0, r.nextI, data)
	r.files[path] = n
	return n
}

// Lookup resolves path to its inode, if any.
func (r *Registry) Lookup(path string) (*Inode, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.files[path]
	return n, ok
}
