// Package vfs defines the abstract filesystem contract the core consumes
// (spec §6's "VFS contract consumed by the core"): an Inode exposing
// page-cache-friendly reads and attributes, and a File wrapping an inode
// with the open-file state (offset, permissions, poll readiness). No
// concrete filesystem format lives here; internal/vfs/memfs is the one
// concrete implementation this repository carries, used to hold the ELF
// images the loader reads. Every other format (ext4, FAT32,
// tmpfs, procfs, devfs) is out of scope per spec §1 and would plug in by
// implementing Inode and File.
package vfs

import (
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/stat"
)

// PollEvent is a bitmask of readiness conditions a File can be polled for,
// named after the classic POSIX poll(2) bits the syscall plane exposes
// through ppoll (spec §6's syscall ABI list).
type PollEvent uint32

const (
	PollIn PollEvent = 1 << iota
	PollOut
	PollErr
	PollHup
)

// Inode is the read side of the VFS contract (spec §6): a page cache
// (internal/pagecache) asks it for one page at a time, and the stat
// syscalls ask it for attributes. Inode implementations own whatever
// on-disk or in-memory representation backs them; the core never reaches
// past this interface.
type Inode interface {
	// ReadPageAt reads exactly one page's worth of bytes starting at the
	// page-aligned byte offset off into dst, which must be at least one
	// page long. Short reads past end-of-file zero-fill the remainder and
	// still report success, matching mmap's "file tail is zero to the
	// page boundary" behavior.
	ReadPageAt(dst []uint8, off int) (int, defs.Err_t)

	// WritePageAt writes one page's worth of bytes back to the inode at
	// a page-aligned offset, used by internal/pagecache's Writeback path
	// for MAP_SHARED mappings.
	WritePageAt(src []uint8, off int) (int, defs.Err_t)

	// Getattr fills in a Kstat for this inode (spec §6).
	Getattr(st *stat.Stat_t) defs.Err_t

	// Size returns the inode's current byte length.
	Size() (int, defs.Err_t)
}

// File is the open-file side of the VFS contract: a per-fd-table-entry
// view of an Inode with its own offset and permission bits, duplicated
// independently on fork/dup (spec §4.6's "fd table handle"). Read, Write,
// and Poll drive the handle forward; Reopen/Close manage its lifetime the
// way the teacher's fd.Copyfd/Close_panic do against fdops.Fdops_i.
type File interface {
	// Inode returns the backing inode, for stat and mmap's page-cache
	// lookup.
	Inode() Inode

	// Read reads into dst at the file's current offset, advancing it.
	Read(dst []uint8) (int, defs.Err_t)

	// Write writes src at the file's current offset, advancing it.
	Write(src []uint8) (int, defs.Err_t)

	// Pread reads at an explicit offset without touching the file's
	// current offset; internal/pagecache.Cache and internal/fdops'
	// Fdops_i contract both need this form.
	Pread(dst []uint8, off int) (int, defs.Err_t)

	// Pwrite writes at an explicit offset without touching the file's
	// current offset.
	Pwrite(src []uint8, off int) (int, defs.Err_t)

	// Poll reports which of the requested events are currently ready.
	// Blocking until an event becomes ready is the caller's job (the
	// executor, internal/sched, awaits readiness); Poll itself never
	// blocks.
	Poll(events PollEvent) PollEvent

	// Reopen is called when a descriptor is duplicated (fork, dup2) so
	// that reference-counted backing state (open count, pipe buffers)
	// stays correct; mirrors the teacher's fdops.Fdops_i.Reopen.
	Reopen() defs.Err_t

	// Close drops this handle's reference to the underlying inode.
	Close() defs.Err_t
}

// Fdops adapts a File down to the minimal internal/fdops.Fdops_i contract
// internal/pagecache and internal/vm consume, so a page-fault on a
// file-backed mapping can be serviced without the VM engine importing vfs
// directly (spec §4.4: "the core does not depend on any specific
// filesystem", generalized here to "does not depend on the VFS package
// either" for the VM engine specifically).
type Fdops struct {
	F File
}

func (a Fdops) Pread(dst []uint8, off int) (int, defs.Err_t)  { return a.F.Pread(dst, off) }
func (a Fdops) Pwrite(src []uint8, off int) (int, defs.Err_t) { return a.F.Pwrite(src, off) }
func (a Fdops) Size() (int, defs.Err_t)                       { return a.F.Inode().Size() }
