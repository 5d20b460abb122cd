// Package memfs is the one concrete filesystem this repository carries: an
// in-memory Inode/File implementation of internal/vfs, used to hold the
// ELF images internal/elfload loads (the initial task's and any execve
// target's) and the files openat resolves through Registry, without a
// real block device. Every on-disk format (ext4, FAT32,
// tmpfs, procfs, devfs) stays out of scope per spec §1; memfs exists only
// to exercise the abstract VFS contract end to end.
package memfs

import (
	"sync"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/stat"
	"github.com/chronix-os/chronix/internal/vfs"
)

// Inode is a fixed-capacity byte buffer backing one in-memory file.
type Inode struct {
	mu   sync.RWMutex
	data []uint8
	dev  uint64
	ino  uint64
}

// New creates an empty memfs inode with the given synthetic device/inode
// numbers (used to populate Stat_t.Wdev/Wino).
func New(dev, ino uint64) *Inode {
	return &Inode{dev: dev, ino: ino}
}

// NewFromBytes creates a memfs inode pre-populated with data, used to seed
// an ELF image or an argv/envp blob directly from kernel memory.
func NewFromBytes(dev, ino uint64, data []uint8) *Inode {
	buf := make([]uint8, len(data))
	copy(buf, data)
	return &Inode{dev: dev, ino: ino, data: buf}
}

const pageSize = 4096

// ReadPageAt implements vfs.Inode.
func (n *Inode) ReadPageAt(dst []uint8, off int) (int, defs.Err_t) {
	if off < 0 || len(dst) < pageSize {
		return 0, -defs.EINVAL
	}
	n.mu.RLock()
	defer n.mu.RUnlock()
	for i := range dst[:pageSize] {
		dst[i] = 0
	}
	if off >= len(n.data) {
		return pageSize, 0
	}
	end := off + pageSize
	if end > len(n.data) {
		end = len(n.data)
	}
	copy(dst, n.data[off:end])
	return pageSize, 0
}

// WritePageAt implements vfs.Inode.
func (n *Inode) WritePageAt(src []uint8, off int) (int, defs.Err_t) {
	if off < 0 {
		return 0, -defs.EINVAL
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	need := off + len(src)
	if need > len(n.data) {
		grown := make([]uint8, need)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[off:], src)
	return len(src), 0
}

// Getattr implements vfs.Inode.
func (n *Inode) Getattr(st *stat.Stat_t) defs.Err_t {
	n.mu.RLock()
	defer n.mu.RUnlock()
	st.Wdev(n.dev)
	st.Wino(n.ino)
	st.Wmode(stat.IFREG | 0644)
	st.Wsize(uint64(len(n.data)))
	st.Wrdev(0)
	st.Wblocks(uint64((len(n.data) + pageSize - 1) / pageSize))
	return 0
}

// Size implements vfs.Inode.
func (n *Inode) Size() (int, defs.Err_t) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.data), 0
}

// File is an open handle onto a memfs Inode: one per fd-table entry, each
// with its own seek offset, the way the teacher's Fd_t wraps an fdops.Fdops_i
// independently per descriptor.
type File struct {
	mu    sync.Mutex
	inode *Inode
	off   int
	opens int32
	Perms int
}

// Open creates a new File handle onto inode with an initial open count of 1.
func Open(inode *Inode) *File {
	return &File{inode: inode, opens: 1}
}

func (f *File) Inode() vfs.Inode { return f.inode }

func (f *File) Read(dst []uint8) (int, defs.Err_t) {
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	n, err := f.Pread(dst, off)
	if err != 0 {
		return 0, err
	}
	f.mu.Lock()
	f.off += n
	f.mu.Unlock()
	return n, 0
}

func (f *File) Write(src []uint8) (int, defs.Err_t) {
	f.mu.Lock()
	off := f.off
	f.mu.Unlock()
	n, err := f.Pwrite(src, off)
	if err != 0 {
		return 0, err
	}
	f.mu.Lock()
	f.off += n
	f.mu.Unlock()
	return n, 0
}

func (f *File) Pread(dst []uint8, off int) (int, defs.Err_t) {
	f.inode.mu.RLock()
	defer f.inode.mu.RUnlock()
	if off >= len(f.inode.data) {
		return 0, 0
	}
	end := off + len(dst)
	if end > len(f.inode.data) {
		end = len(f.inode.data)
	}
	n := copy(dst, f.inode.data[off:end])
	return n, 0
}

func (f *File) Pwrite(src []uint8, off int) (int, defs.Err_t) {
	return f.inode.WritePageAt(src, off)
}

// Poll always reports readability: memfs never blocks.
func (f *File) Poll(events vfs.PollEvent) vfs.PollEvent {
	return events & (vfs.PollIn | vfs.PollOut)
}

// Reopen bumps the open count, mirroring the teacher's Fd_t.Copyfd
// contract against fdops.Fdops_i.Reopen.
func (f *File) Reopen() defs.Err_t {
	f.mu.Lock()
	f.opens++
	f.mu.Unlock()
	return 0
}

// Close drops one reference; memfs inodes have no on-close cleanup since
// they carry no disk resources.
func (f *File) Close() defs.Err_t {
	f.mu.Lock()
	f.opens--
	f.mu.Unlock()
	return 0
}
