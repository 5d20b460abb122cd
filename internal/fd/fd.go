// Package fd implements the per-task file-descriptor table entry and
// current-working-directory tracking, ported from the teacher's fd/fd.go
// and generalized from the teacher's fdops.Fdops_i (Pread/Pwrite/Reopen/
// Close only) onto the richer internal/vfs.File contract so a descriptor
// can also be polled and stat'd without a type switch.
package fd

import (
	"sync"

	"github.com/chronix-os/chronix/internal/bpath"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/ustr"
	"github.com/chronix-os/chronix/internal/vfs"
)

// File descriptor permission bits (spec §6's fd table handle).
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t represents one open file descriptor slot in a task's fd table.
type Fd_t struct {
	File  vfs.File
	Perms int
}

// Copyfd duplicates an open file descriptor by reopening it, the way
// fork/dup must give the child or the new descriptor its own reference
// without disturbing the parent's offset bookkeeping.
func Copyfd(f *Fd_t) (*Fd_t, defs.Err_t) {
	nfd := &Fd_t{}
	*nfd = *f
	if err := nfd.File.Reopen(); err != 0 {
		return nil, err
	}
	return nfd, 0
}

// Close_panic closes the descriptor and panics on failure, for call sites
// (process exit) where a close failure would indicate a kernel invariant
// violation rather than a recoverable condition.
func Close_panic(f *Fd_t) {
	if f.File.Close() != 0 {
		panic("must succeed")
	}
}

// Cwd_t tracks a task's current working directory: the directory's open
// descriptor plus its canonical path, serialized against concurrent chdir.
type Cwd_t struct {
	sync.Mutex
	Fd   *Fd_t
	Path ustr.Ustr
}

// Fullpath joins cwd with p if p is not already absolute.
func (cwd *Cwd_t) Fullpath(p ustr.Ustr) ustr.Ustr {
	if p.IsAbsolute() {
		return p
	}
	return cwd.Path.Extend(p)
}

// Canonicalpath resolves path components of p relative to cwd.
func (cwd *Cwd_t) Canonicalpath(p ustr.Ustr) ustr.Ustr {
	return bpath.Canonicalize(cwd.Fullpath(p))
}

// MkRootCwd constructs a Cwd_t rooted at "/" holding fd as the root
// directory's descriptor, used when building the initial task.
func MkRootCwd(f *Fd_t) *Cwd_t {
	return &Cwd_t{Fd: f, Path: ustr.MkUstrRoot()}
}
