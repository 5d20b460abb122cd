// Package fdops defines the file-descriptor operations contract that
// internal/vm consumes for file-backed mappings (spec §4.4's VFILE
// mapping type), without internal/vm needing to import the VFS package
// directly — mirroring biscuit's own fdops/fdops.go split between vm and
// the filesystem layer (the teacher's fdops directory is go.mod-only in
// the retrieval pack; this body is rebuilt from the Fdops_i call sites
// kept in vm/as.go and fd/fd.go).
package fdops

import "github.com/chronix-os/chronix/internal/defs"

// Fdops_i is the subset of file-descriptor behavior a mapped file needs:
// reading a page's worth of bytes at a given file offset, for the
// page-fault dispatcher's VFILE path (spec §4.5) to populate a frame.
type Fdops_i interface {
	// Pread reads into dst starting at file offset off, returning the
	// number of bytes read or a negative errno.
	Pread(dst []uint8, off int) (int, defs.Err_t)

	// Pwrite writes src at file offset off, for MAP_SHARED write-back.
	Pwrite(src []uint8, off int) (int, defs.Err_t)

	// Size returns the file's current length in bytes.
	Size() (int, defs.Err_t)
}
