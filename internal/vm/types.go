// Package vm implements the user address space (spec §4.4) and its
// page-fault dispatcher (spec §4.5), generalizing biscuit's vm/as.go
// Vm_t/Vminfo_t/Vmregion_t from x86-64's Pa_t-typed PTEs onto the
// internal/hal-abstracted page-table driver so the same region/COW/
// page-fault logic runs on Sv39 and LA64 alike.
package vm

import (
	"sync"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/fdops"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/pagecache"
)

// mtype_t identifies what backs a Vminfo_t mapping.
type mtype_t int

const (
	// VANON is a private anonymous mapping: copy-on-write on fork, pages
	// demand-zeroed on first access.
	VANON mtype_t = iota
	// VFILE is a file-backed mapping, private or shared depending on
	// fileinfo_t.shared.
	VFILE
	// VSANON is a shared anonymous mapping: always mapped, never COW
	// (spec §4.5: "shared anon pages should always be mapped").
	VSANON
)

// fileinfo_t carries the VFILE-only bookkeeping a Vminfo_t needs.
type fileinfo_t struct {
	foff   int // byte offset into the file where this mapping's page 0 starts
	mfile  *Mfile_t
	shared bool
}

// Mfile_t is a Vminfo_t's handle onto a file's shared pagecache.Cache
// (spec §4.4's "shared areas point to the same page-cache pages as every
// other address space sharing the object"): every Vminfo_t that maps the
// same open file shares one Mfile_t/Cache pair, so a page faulted in by
// one address space is immediately visible, same frame, to every other
// mapper. The actual offset->frame bookkeeping lives in internal/pagecache
// now, not here; Mfile_t only tracks how many mappings are using it.
type Mfile_t struct {
	mu       sync.Mutex
	cache    *pagecache.Cache
	mapcount int
}

// NewMfile wraps an open file's Fdops_i in a page cache shared by every
// address space that maps it.
func NewMfile(mfops fdops.Fdops_i) *Mfile_t {
	return &Mfile_t{cache: pagecache.New(mfops)}
}

// pageFor delegates to the underlying pagecache.Cache (spec §4.5's shared
// VFILE fault path).
func (mf *Mfile_t) pageFor(alloc *mem.Allocator, foff int) (uint64, defs.Err_t) {
	return mf.cache.PageFor(alloc, foff)
}

// Vminfo_t describes one mapped region of an address space: a run of
// virtual pages with uniform backing and permissions (spec §4.4's "areas
// are strictly ordered and non-overlapping").
type Vminfo_t struct {
	Mtype mtype_t
	Pgn   uint64 // first virtual page number covered
	Pglen uint64 // number of pages covered
	Perms permBits
	file  fileinfo_t
}

// permBits holds only the Read/Write/User/Exec bits an area grants; the
// page-fault dispatcher derives the COW sentinel and dirty/accessed bits
// itself rather than have callers specify them (spec §4.4's "perms should
// only describe the area's own grant").
type permBits uint

const (
	PermR permBits = 1 << iota
	PermW
	PermX
)

func (p permBits) readable() bool   { return p&PermR != 0 }
func (p permBits) writable() bool   { return p&PermW != 0 }
func (p permBits) executable() bool { return p&PermX != 0 }

// end returns the page number one past the last page this area covers.
func (v *Vminfo_t) end() uint64 { return v.Pgn + v.Pglen }

// contains reports whether page pgn falls within this area.
func (v *Vminfo_t) contains(pgn uint64) bool {
	return pgn >= v.Pgn && pgn < v.end()
}
