package vm

import (
	"sync/atomic"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/pagetable"
)

// Clone creates a new address space that shares or copies as's mappings
// depending on each area's mtype_t, the way a clone(2)/fork(2) child's
// page table is built (spec §4.4's Clone operation). Private writable
// VANON and private VFILE mappings become copy-on-write in both the
// parent and the child: every present PTE is reference-upped and
// downgraded to PermCOW in place, so the fault dispatcher's single-mapper
// fast path (faultWrite) still applies if neither side ever writes again.
// Shared mappings (VSANON, and VFILE with file.shared) are shallow-cloned
// onto the same frames at the same permissions, since there is nothing to
// make copy-on-write about them.
func (as *AddressSpace) Clone() (*AddressSpace, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	tbl, err := pagetable.NewEmpty(as.alloc)
	if err != nil {
		return nil, -defs.ENOMEM
	}
	if err := kaddr.InstallTrampoline(as.layout, tbl); err != nil {
		tbl.Destroy()
		return nil, -defs.ENOMEM
	}

	child := &AddressSpace{Table: tbl, alloc: as.alloc, layout: as.layout, asid: defs.Asid_t(atomic.AddInt64(&nextASID, 1))}
	child.region = *as.region.clone()
	if as.heapArea != nil {
		if i := as.region.indexOf(as.heapArea); i >= 0 {
			child.heapArea = child.region.areas[i]
		}
	}

	for _, area := range child.region.areas {
		if err := as.cloneArea(child, area); err != 0 {
			child.Destroy()
			return nil, err
		}
	}
	return child, 0
}

func (as *AddressSpace) cloneArea(child *AddressSpace, area *Vminfo_t) defs.Err_t {
	shared := area.Mtype == VSANON || (area.Mtype == VFILE && area.file.shared)
	for pgn := area.Pgn; pgn < area.end(); pgn++ {
		pte, _, found := as.Table.FindEntry(pgn)
		if !found {
			continue
		}

		perm := pte.Perm
		if shared {
			as.alloc.RefOf(pte.PPN).Refup()
			if area.Mtype == VFILE {
				area.file.mfile.mu.Lock()
				area.file.mfile.mapcount++
				area.file.mfile.mu.Unlock()
			}
		} else if area.writable() {
			if perm&hal.PermCOW == 0 && pte.PPN != zeroPFN {
				perm = (perm &^ hal.PermWrite) | hal.PermCOW
				as.Table.Unmap(pgn)
				if err := as.Table.Map(pgn, pte.PPN, perm, 0); err != nil {
					return -defs.ENOMEM
				}
			}
			as.alloc.RefOf(pte.PPN).Refup()
		} else {
			as.alloc.RefOf(pte.PPN).Refup()
		}

		if err := child.Table.Map(pgn, pte.PPN, perm, 0); err != nil {
			as.alloc.RefOf(pte.PPN).Refdown()
			return -defs.ENOMEM
		}
	}
	return 0
}
