package vm

import (
	"sync"
	"sync/atomic"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/pagetable"
)

// nextASID hands out the process-wide-unique address-space ids
// internal/futex's wait-queue keys are partitioned by (spec §4.10: "table
// keyed by (address-space-id, ...)"). It has nothing to do with any
// hardware ASID register; it is purely a Go-side disambiguator.
var nextASID int64

// UserMin is the lowest virtual address user mappings may occupy,
// mirroring biscuit's mem.USERMIN reservation below which only the
// kernel's own shared mappings (the trampoline) live.
const UserMin uint64 = 1 << 22

// UserMax bounds the first-fit search and fixed-mapping validation;
// chosen below TrampolineVA so nothing ever collides with it.
const UserMax uint64 = kaddr.TrampolineVA

// AddressSpace is one process's user address space (biscuit's Vm_t,
// generalized over internal/hal and carrying an explicit region_t rather
// than a bare slice scanned linearly).
type AddressSpace struct {
	sync.Mutex
	Table  *pagetable.Table
	alloc  *mem.Allocator
	layout *kaddr.Layout
	region region_t
	asid   defs.Asid_t

	heapArea  *Vminfo_t // the single growable heap area, nil until first reset_heap_break
	pgfltaken bool
}

// ASID returns this address space's futex-key disambiguator (spec
// §4.10).
func (as *AddressSpace) ASID() defs.Asid_t { return as.asid }

// Lock_pmap acquires the address space mutex and marks that page-table
// manipulation is in progress, mirroring Vm_t.Lock_pmap.
func (as *AddressSpace) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// Unlock_pmap releases the mutex.
func (as *AddressSpace) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// Lockassert_pmap panics if Lock_pmap has not been called, the same
// invariant check biscuit's Vm_t performs.
func (as *AddressSpace) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("vm: pgfl lock must be held")
	}
}

// NewEmpty creates an address space with only the trampoline mapping
// (spec §4.4).
func NewEmpty(alloc *mem.Allocator, layout *kaddr.Layout) (*AddressSpace, defs.Err_t) {
	tbl, err := pagetable.NewEmpty(alloc)
	if err != nil {
		return nil, -defs.ENOMEM
	}
	if err := kaddr.InstallTrampoline(layout, tbl); err != nil {
		tbl.Destroy()
		return nil, -defs.ENOMEM
	}
	return &AddressSpace{Table: tbl, alloc: alloc, layout: layout, asid: defs.Asid_t(atomic.AddInt64(&nextASID, 1))}, 0
}

// NewEmptyFor builds a fresh, empty address space reusing as's frame
// allocator and kernel layout, for execve(2) (spec §4.6): the replacement
// address space belongs to the same kernel instance as the one it
// replaces even though none of its mappings survive.
func (as *AddressSpace) NewEmptyFor() (*AddressSpace, defs.Err_t) {
	return NewEmpty(as.alloc, as.layout)
}

// PushArea inserts area into the address space. If it overlaps an
// existing area the call fails unless fixed is true, in which case the
// overlapping range is unmapped first and replaced (spec §4.4).
func (as *AddressSpace) PushArea(area *Vminfo_t, fixed bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if _, overlap := as.region.overlaps(area.Pgn, area.Pglen); overlap {
		if !fixed {
			return -defs.EINVAL
		}
		as.unmapLocked(area.Pgn, area.Pglen)
	}
	as.region.insert(area)
	return 0
}

// AllocAnonArea finds a free range of pglen pages (at hint if fixed,
// otherwise via first-fit) and inserts a VANON area there, returning the
// start page number (spec §4.4).
func (as *AddressSpace) AllocAnonArea(hint, pglen uint64, perm permBits, fixed bool) (uint64, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	start := hint
	if !fixed {
		var ok bool
		start, ok = as.region.firstFit(hint, pglen, UserMax>>hal.Level(mem.PageShift))
		if !ok {
			return 0, -defs.ENOMEM
		}
	} else if _, overlap := as.region.overlaps(hint, pglen); overlap {
		as.unmapLocked(hint, pglen)
	}
	as.region.insert(&Vminfo_t{Mtype: VANON, Pgn: start, Pglen: pglen, Perms: perm})
	return start, 0
}

// Unmap splits areas at the boundaries as needed, unmaps every covered
// PTE, releases frames via reference-count drop, and removes
// fully-covered areas (spec §4.4).
func (as *AddressSpace) Unmap(startPgn, pglen uint64) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	as.unmapLocked(startPgn, pglen)
	return 0
}

func (as *AddressSpace) unmapLocked(startPgn, pglen uint64) {
	as.Lockassert_pmap()
	end := startPgn + pglen

	for i := 0; i < len(as.region.areas); {
		a := as.region.areas[i]
		if a.end() <= startPgn || a.Pgn >= end {
			i++
			continue
		}
		// unmap whatever part of [a.Pgn, a.end()) falls in [startPgn, end)
		lo, hi := a.Pgn, a.end()
		if lo < startPgn {
			lo = startPgn
		}
		if hi > end {
			hi = end
		}
		for pgn := lo; pgn < hi; pgn++ {
			as.unmapPage(a, pgn)
		}

		switch {
		case lo == a.Pgn && hi == a.end():
			as.region.remove(i)
			continue
		case lo == a.Pgn:
			a.Pglen -= hi - lo
			a.Pgn = hi
		case hi == a.end():
			a.Pglen -= hi - lo
		default:
			// hole in the middle: split into two areas
			tail := &Vminfo_t{Mtype: a.Mtype, Pgn: hi, Pglen: a.end() - hi, Perms: a.Perms, file: a.file}
			a.Pglen = lo - a.Pgn
			as.region.insert(tail)
		}
		i++
	}
}

// unmapPage removes the PTE for pgn if present and drops the reference on
// whatever frame it pointed to.
func (as *AddressSpace) unmapPage(a *Vminfo_t, pgn uint64) {
	pte, err := as.Table.Unmap(pgn)
	if err != nil {
		return
	}
	// Shared file pages included: the Mfile_t cache keeps its own
	// reference, and this mapping's reference (from PageFor or Clone) is
	// the one dropped here.
	as.alloc.RefOf(pte.PPN).Refdown()
}

// CurrentBreak returns the current heap break address, 0 if brk has
// never been called for this address space yet (spec §6's brk(2)
// "query" form, argument 0).
func (as *AddressSpace) CurrentBreak() uint64 {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if as.heapArea == nil {
		return 0
	}
	return as.heapArea.end() << hal.Level(mem.PageShift)
}

// ResetHeapBreak grows or shrinks the heap area and returns the new
// effective break; growth is lazy, no frames are installed (spec §4.4).
func (as *AddressSpace) ResetHeapBreak(newBreakVA uint64) (uint64, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	newPgn := (newBreakVA + mem.PageSize - 1) >> hal.Level(mem.PageShift)
	if as.heapArea == nil {
		as.heapArea = &Vminfo_t{Mtype: VANON, Pgn: newPgn, Pglen: 0, Perms: PermR | PermW}
		as.region.insert(as.heapArea)
		return newBreakVA, 0
	}
	if newPgn > as.heapArea.end() {
		grow := newPgn - as.heapArea.end()
		if _, overlap := as.region.overlaps(as.heapArea.end(), grow); overlap {
			return 0, -defs.ENOMEM
		}
		as.heapArea.Pglen += grow
	} else if newPgn < as.heapArea.end() {
		shrink := as.heapArea.end() - newPgn
		for pgn := newPgn; pgn < as.heapArea.end(); pgn++ {
			as.unmapPage(as.heapArea, pgn)
		}
		as.heapArea.Pglen -= shrink
	}
	return newBreakVA, 0
}

// Mremap grows oldVA's mapping in place if the following range is free;
// otherwise, if mayMove, allocates a new range, transfers frame ownership
// without copying, and unmaps the old PTEs (spec §4.4).
func (as *AddressSpace) Mremap(oldPgn, oldPglen, newPglen uint64, mayMove bool) (uint64, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	area, ok := as.region.lookup(oldPgn)
	if !ok || area.Pgn != oldPgn {
		return 0, -defs.EINVAL
	}
	if newPglen <= oldPglen {
		for pgn := oldPgn + newPglen; pgn < oldPgn+oldPglen; pgn++ {
			as.unmapPage(area, pgn)
		}
		area.Pglen = newPglen
		return oldPgn, 0
	}
	grow := newPglen - oldPglen
	if _, overlap := as.region.overlaps(area.end(), grow); !overlap {
		area.Pglen = newPglen
		return oldPgn, 0
	}
	if !mayMove {
		return 0, -defs.ENOMEM
	}
	newStart, ok := as.region.firstFit(UserMin, newPglen, UserMax>>hal.Level(mem.PageShift))
	if !ok {
		return 0, -defs.ENOMEM
	}
	for pgn := oldPgn; pgn < oldPgn+oldPglen; pgn++ {
		pte, err := as.Table.Unmap(pgn)
		if err != nil {
			continue
		}
		dest := newStart + (pgn - oldPgn)
		as.Table.Map(dest, pte.PPN, pte.Perm, 0)
	}
	as.region.remove(as.region.indexOf(area))
	moved := &Vminfo_t{Mtype: area.Mtype, Pgn: newStart, Pglen: newPglen, Perms: area.Perms, file: area.file}
	as.region.insert(moved)
	return newStart, 0
}

// TranslateVA walks the page table for va and returns the physical
// address it maps to (spec §4.4).
func (as *AddressSpace) TranslateVA(va uint64) (mem.PhysAddr, bool) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	return as.Table.TranslateVA(va)
}

// Destroy frees every frame and the page table itself, called when the
// owning task is reaped.
func (as *AddressSpace) Destroy() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for _, a := range as.region.areas {
		for pgn := a.Pgn; pgn < a.end(); pgn++ {
			as.unmapPage(a, pgn)
		}
	}
	as.region.areas = nil
	as.Table.Destroy()
}
