// Package pagetable implements the architecture-generic page-table driver
// from spec §4.2, built on top of internal/hal's Arch contract so the same
// walk/map/unmap logic runs unchanged on Sv39 (3 levels) and LA64 (3 or 4
// levels) — spec §9's "abstract chain {Lowest..Highest}" open question.
package pagetable

import (
	"errors"

	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/mem"
)

var (
	// ErrAlreadyMapped is returned by Map when vpn already has a mapping.
	ErrAlreadyMapped = errors.New("pagetable: already mapped")
	// ErrNotMapped is returned by Unmap when vpn has no mapping.
	ErrNotMapped = errors.New("pagetable: not mapped")
	// ErrMisalignedHuge is returned by Map when a huge leaf's target ppn
	// is not naturally aligned for its level.
	ErrMisalignedHuge = errors.New("pagetable: misaligned huge-page target")
)

// Table is one page table: a root frame plus every interior frame Map has
// created along the way, so that destroying the table frees exactly the
// frames it owns (spec §4.2: "the created frames are owned by the page
// table so that drop frees them").
type Table struct {
	alloc    *mem.Allocator
	arch     hal.Arch
	root     *mem.FrameTracker
	interior []*mem.FrameTracker
}

// NewEmpty allocates a zeroed root table (spec §4.2's new_empty(alloc)).
func NewEmpty(alloc *mem.Allocator) (*Table, error) {
	root, ok := alloc.AllocClean(1, 0)
	if !ok {
		return nil, errors.New("pagetable: out of memory allocating root")
	}
	return &Table{alloc: alloc, arch: hal.Current, root: root}, nil
}

func writeWord(b []byte, idx int, w uint64) {
	for j := 0; j < 8; j++ {
		b[idx*8+j] = byte(w >> uint(8*j))
	}
}

// walk descends from the root to the table at lvl+1 that contains vpn's
// entry at lvl, creating missing interior tables via the allocator when
// create is true. It returns the byte slice of the table page holding the
// target slot and the index within it.
func (t *Table) walk(vpn uint64, targetLvl hal.Level, create bool) (tablePage []byte, idx int, ok bool) {
	va := vpn << hal.Level(mem.PageShift)
	cur := t.root.Base()
	top := hal.Level(t.arch.Levels() - 1)
	for lvl := top; lvl > targetLvl; lvl-- {
		page := t.alloc.Dmap8(cur, mem.PageSize)
		i := t.arch.Index(va, lvl)
		word := readWord(page, i)
		pte := t.arch.DecodePTE(word, lvl)
		if !pte.Present() {
			if !create {
				return nil, 0, false
			}
			child, allocOK := t.alloc.AllocClean(1, 0)
			if !allocOK {
				return nil, 0, false
			}
			t.interior = append(t.interior, child)
			childPTE := hal.PTE{PPN: child.Base().PFN(), Perm: hal.PermValid}
			writeWord(page, i, t.arch.EncodePTE(childPTE))
			cur = child.Base()
			continue
		}
		cur = mem.PhysAddr(pte.PPN) * mem.PageSize
	}
	page := t.alloc.Dmap8(cur, mem.PageSize)
	return page, t.arch.Index(va, targetLvl), true
}

func readWord(b []byte, idx int) uint64 {
	var w uint64
	for j := 0; j < 8; j++ {
		w |= uint64(b[idx*8+j]) << uint(8*j)
	}
	return w
}

// Map installs vpn->ppn at the given level with the given permissions
// (spec §4.2). Huge mappings (level above Lowest) require ppn be naturally
// aligned to that level's page count. Returns ErrAlreadyMapped if the slot
// already holds a present entry.
func (t *Table) Map(vpn, ppn uint64, perm hal.PTEPerm, level hal.Level) error {
	if level > 0 {
		if !t.arch.HugeOK(level) {
			return ErrMisalignedHuge
		}
		if ppn%t.arch.PageCount(level) != 0 {
			return ErrMisalignedHuge
		}
	}
	page, idx, ok := t.walk(vpn, level, true)
	if !ok {
		return errors.New("pagetable: out of memory walking table")
	}
	existing := t.arch.DecodePTE(readWord(page, idx), level)
	if existing.Present() {
		return ErrAlreadyMapped
	}
	pte := hal.PTE{PPN: ppn, Perm: perm | hal.PermValid, Level: level}
	writeWord(page, idx, t.arch.EncodePTE(pte))
	return nil
}

// Unmap removes the mapping at vpn and returns the entry that was there,
// invalidating the TLB for the single address on the current hart (spec
// §4.2's TLB discipline: cross-hart shootdown is the caller's
// responsibility via an IPI).
func (t *Table) Unmap(vpn uint64) (hal.PTE, error) {
	page, idx, ok := t.walk(vpn, 0, false)
	if !ok {
		return hal.PTE{}, ErrNotMapped
	}
	pte := t.arch.DecodePTE(readWord(page, idx), 0)
	if !pte.Present() {
		return hal.PTE{}, ErrNotMapped
	}
	writeWord(page, idx, 0)
	t.arch.FlushAddr(vpn << hal.Level(mem.PageShift))
	return pte, nil
}

// FindEntry returns the entry mapping vpn and the level it was found at,
// without modifying the table. The returned level matters for huge pages:
// a hit above Lowest means vpn falls within a huge leaf.
func (t *Table) FindEntry(vpn uint64) (hal.PTE, hal.Level, bool) {
	va := vpn << hal.Level(mem.PageShift)
	cur := t.root.Base()
	top := hal.Level(t.arch.Levels() - 1)
	for lvl := top; lvl >= 0; lvl-- {
		page := t.alloc.Dmap8(cur, mem.PageSize)
		i := t.arch.Index(va, lvl)
		word := readWord(page, i)
		pte := t.arch.DecodePTE(word, lvl)
		if !pte.Present() {
			return hal.PTE{}, 0, false
		}
		if pte.Perm&hal.PermHuge != 0 || lvl == 0 {
			return pte, lvl, true
		}
		cur = mem.PhysAddr(pte.PPN) * mem.PageSize
	}
	return hal.PTE{}, 0, false
}

// TranslateVA walks the table for va and returns the physical address it
// maps to, honouring huge-page leaves at any level.
func (t *Table) TranslateVA(va uint64) (mem.PhysAddr, bool) {
	vpn := va >> hal.Level(mem.PageShift)
	pte, lvl, ok := t.FindEntry(vpn)
	if !ok {
		return 0, false
	}
	pageCount := t.arch.PageCount(lvl)
	base := pte.PPN &^ (pageCount - 1)
	frameOff := vpn - (vpn &^ (pageCount - 1))
	off := va & (mem.PageSize - 1)
	return mem.PhysAddr(base+frameOff)*mem.PageSize + mem.PhysAddr(off), true
}

// GetToken returns the architecture register value encoding this table's
// root, for a caller that wants to stash it (e.g. a task control block's
// saved satp/pgdl) without installing it immediately.
func (t *Table) GetToken() uint64 {
	return t.root.Base().PFN()
}

// InstallAsCurrentRoot loads this table as the current hart's active root.
// Unsafe per spec §4.2: the caller guarantees the Table outlives its use as
// the active root and handles any required TLB flush semantics — install
// itself is a hardware-level flush per the architecture, not something
// this driver performs again.
func (t *Table) InstallAsCurrentRoot() {
	t.arch.InstallRoot(t.GetToken())
}

// Destroy frees the root and every interior frame this table allocated.
// Leaf frames are owned by whatever mem.RefFrame handle mapped them, not
// by the Table, so they are not touched here.
func (t *Table) Destroy() {
	for _, f := range t.interior {
		f.Free()
	}
	t.interior = nil
	t.root.Free()
}
