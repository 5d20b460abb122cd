// Package chardev implements the two character devices the kernel core
// serves directly rather than delegating to the VFS (spec §1's "block/char/
// net device drivers" are out of scope in general, but /dev/null and
// /dev/zero are simple enough, and load-bearing enough for mmap MAP_ANON
// emulation and test fixtures, that the core carries them itself — grounded
// on defs.D_DEVNULL/D_DEVZERO already named in internal/defs/device.go).
package chardev

import (
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/stat"
	"github.com/chronix-os/chronix/internal/vfs"
)

// Null backs /dev/null: reads return EOF, writes are discarded but report
// full success.
type Null struct{}

func (Null) ReadPageAt(dst []uint8, off int) (int, defs.Err_t) { return 0, 0 }
func (Null) WritePageAt(src []uint8, off int) (int, defs.Err_t) {
	return len(src), 0
}
func (Null) Getattr(st *stat.Stat_t) defs.Err_t {
	st.Wmode(stat.IFCHR | 0666)
	st.Wrdev(defs.Mkdev(defs.D_DEVNULL, 0))
	return 0
}
func (Null) Size() (int, defs.Err_t) { return 0, 0 }

// Zero backs /dev/zero: reads yield an endless stream of zero bytes, and
// is the usual backing device for an anonymous MAP_SHARED region that
// wants page-cache-style sharing semantics without a real file.
type Zero struct{}

func (Zero) ReadPageAt(dst []uint8, off int) (int, defs.Err_t) {
	for i := range dst {
		dst[i] = 0
	}
	return len(dst), 0
}
func (Zero) WritePageAt(src []uint8, off int) (int, defs.Err_t) {
	return len(src), 0
}
func (Zero) Getattr(st *stat.Stat_t) defs.Err_t {
	st.Wmode(stat.IFCHR | 0666)
	st.Wrdev(defs.Mkdev(defs.D_DEVZERO, 0))
	return 0
}
func (Zero) Size() (int, defs.Err_t) { return 0, 0 }

// file wraps a chardev Inode (which has no per-open state) in the minimal
// vfs.File surface: chardevs have no seek position that matters and no
// reference count worth tracking.
type file struct {
	inode vfs.Inode
}

// Open wraps a character-device inode (Null{} or Zero{}) in a vfs.File
// suitable for installing into a task's fd table, keyed by device number
// via Lookup.
func Open(inode vfs.Inode) vfs.File { return file{inode: inode} }

func (f file) Inode() vfs.Inode { return f.inode }
func (f file) Read(dst []uint8) (int, defs.Err_t)  { return f.inode.ReadPageAt(dst, 0) }
func (f file) Write(src []uint8) (int, defs.Err_t) { return f.inode.WritePageAt(src, 0) }
func (f file) Pread(dst []uint8, off int) (int, defs.Err_t) {
	return f.inode.ReadPageAt(dst, off)
}
func (f file) Pwrite(src []uint8, off int) (int, defs.Err_t) {
	return f.inode.WritePageAt(src, off)
}
func (f file) Poll(events vfs.PollEvent) vfs.PollEvent { return events & (vfs.PollIn | vfs.PollOut) }
func (f file) Reopen() defs.Err_t                      { return 0 }
func (f file) Close() defs.Err_t                       { return 0 }

// ExtraLookupPath and ExtraLookup let another package register additional
// device paths/numbers without this package importing it back, the same
// deferred-installation convention internal/hal/internal/sched use for
// their own cross-package hooks. internal/kprof's init() points these at
// /dev/kstat and /dev/kprof (D_STAT/D_PROF) so LookupPath/Lookup stay the
// single chokepoint the rest of the kernel calls through.
var (
	ExtraLookupPath = func(path string) (vfs.Inode, defs.Err_t) { return nil, -defs.ENOENT }
	ExtraLookup     = func(dev uint64) (vfs.Inode, defs.Err_t) { return nil, -defs.ENODEV }
)

// LookupPath resolves the well-known device paths this kernel serves
// without a mounted filesystem (spec §6's openat surface has no real
// directory tree to walk yet; see internal/syscalls' openat handler).
func LookupPath(path string) (vfs.Inode, defs.Err_t) {
	switch path {
	case "/dev/null":
		return Null{}, 0
	case "/dev/zero":
		return Zero{}, 0
	default:
		return ExtraLookupPath(path)
	}
}

// Lookup maps a device number (as returned by defs.Mkdev) to its chardev
// inode, used when a task opens a path under /dev that resolves to a
// character-special file.
func Lookup(dev uint64) (vfs.Inode, defs.Err_t) {
	maj, _ := defs.Unmkdev(dev)
	switch maj {
	case defs.D_DEVNULL:
		return Null{}, 0
	case defs.D_DEVZERO:
		return Zero{}, 0
	default:
		return ExtraLookup(dev)
	}
}
