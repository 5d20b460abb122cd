package vm

import (
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/mem"
)

var (
	zeroAlloc *mem.Allocator
	zeroPFN   uint64
)

// InitZeroPage allocates the single shared zero-filled frame every VANON
// demand-zero fault maps read-only before a write forces a real copy
// (biscuit's mem.Zeropg/P_zeropg). Called once during boot after the
// frame allocator is up.
func InitZeroPage(alloc *mem.Allocator) {
	frame, ok := alloc.AllocClean(1, 0)
	if !ok {
		panic("vm: out of memory allocating the zero page")
	}
	zeroAlloc = alloc
	zeroPFN = frame.Leak().Base.PFN()
}

// HandlePageFault resolves a fault at virtual address va in address space
// as, write reporting whether the faulting access was a store (spec
// §4.5), grounded on biscuit's Sys_pgfault.
func HandlePageFault(as *AddressSpace, va uint64, write bool) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	pgn := va >> hal.Level(mem.PageShift)
	area, ok := as.region.lookup(pgn)
	if !ok || area.Perms == 0 {
		return -defs.EFAULT
	}
	if write && !area.writable() {
		return -defs.EFAULT
	}
	if area.Mtype == VSANON {
		panic("vm: shared anon pages should always be mapped")
	}

	pte, _, found := as.Table.FindEntry(pgn)
	if found {
		wasCOW := pte.Perm&hal.PermCOW != 0
		if (write && !wasCOW) || (!write && pte.Present()) {
			// two harts raced on the same fault; the winner already fixed
			// it up.
			return 0
		}
	}

	switch {
	case area.Mtype == VFILE && area.file.shared:
		return as.faultSharedFile(area, pgn, found, pte)
	case write:
		return as.faultWrite(area, pgn, found, pte)
	default:
		return as.faultRead(area, pgn, found, pte)
	}
}

// faultSharedFile services a fault on a MAP_SHARED file mapping: every
// mapper gets the same frame from the Mfile_t cache, read or write alike.
func (as *AddressSpace) faultSharedFile(area *Vminfo_t, pgn uint64, found bool, old hal.PTE) defs.Err_t {
	pfn, err := area.file.mfile.pageFor(as.alloc, area.file.foff+int(pgn-area.Pgn)*mem.PageSize)
	if err != 0 {
		return err
	}
	perm := hal.PermValid | hal.PermUser | hal.PermRead | hal.PermAccessed
	if area.writable() {
		perm |= hal.PermWrite | hal.PermDirty
	}
	if area.executable() {
		perm |= hal.PermExec
	}
	if found {
		as.Table.Unmap(pgn)
		as.alloc.RefOf(old.PPN).Refdown()
	}
	if err := as.Table.Map(pgn, pfn, perm, 0); err != nil {
		as.alloc.RefOf(pfn).Refdown()
		return -defs.ENOMEM
	}
	return 0
}

// faultWrite services a write fault on a private (VANON or private VFILE)
// area: breaks copy-on-write, taking the single-mapper fast path when the
// existing frame has exactly one owner.
func (as *AddressSpace) faultWrite(area *Vminfo_t, pgn uint64, found bool, old hal.PTE) defs.Err_t {
	if found && old.Perm&hal.PermCOW != 0 {
		ref := as.alloc.RefOf(old.PPN)
		if ref.Refcnt() == 1 && old.PPN != zeroPFN {
			as.Table.Unmap(pgn)
			perm := (old.Perm &^ hal.PermCOW) | hal.PermWrite | hal.PermDirty
			if err := as.Table.Map(pgn, old.PPN, perm, 0); err != nil {
				return -defs.ENOMEM
			}
			return 0
		}
	}

	var src []byte
	if found {
		src = as.alloc.Dmap8(mem.PhysAddr(old.PPN)*mem.PageSize, mem.PageSize)
	} else if area.Mtype == VFILE {
		pfn, err := area.file.mfile.pageFor(as.alloc, area.file.foff+int(pgn-area.Pgn)*mem.PageSize)
		if err != 0 {
			return err
		}
		defer as.alloc.RefOf(pfn).Refdown()
		src = as.alloc.Dmap8(mem.PhysAddr(pfn)*mem.PageSize, mem.PageSize)
	}

	frame, ok := as.alloc.Alloc(1, 0)
	if !ok {
		return -defs.ENOMEM
	}
	dst := as.alloc.Dmap8(frame.Base(), mem.PageSize)
	if src != nil {
		copy(dst, src)
	} else {
		for i := range dst {
			dst[i] = 0
		}
	}

	if found {
		as.Table.Unmap(pgn)
		as.alloc.RefOf(old.PPN).Refdown()
	}
	perm := hal.PermValid | hal.PermUser | hal.PermRead | hal.PermWrite | hal.PermDirty | hal.PermAccessed
	if area.executable() {
		perm |= hal.PermExec
	}
	pfn := frame.Leak().Base.PFN()
	if err := as.Table.Map(pgn, pfn, perm, 0); err != nil {
		as.alloc.RefOf(pfn).Refdown()
		return -defs.ENOMEM
	}
	return 0
}

// faultRead services a read fault on a private area: VANON maps the
// shared zero page read-only-COW, VFILE maps the Mfile_t cache frame with
// the COW sentinel set if the area is itself writable.
func (as *AddressSpace) faultRead(area *Vminfo_t, pgn uint64, found bool, old hal.PTE) defs.Err_t {
	if found {
		return 0
	}

	var pfn uint64
	switch area.Mtype {
	case VANON:
		pfn = zeroPFN
		as.alloc.RefOf(pfn).Refup()
	case VFILE:
		var err defs.Err_t
		pfn, err = area.file.mfile.pageFor(as.alloc, area.file.foff+int(pgn-area.Pgn)*mem.PageSize)
		if err != 0 {
			return err
		}
	default:
		panic("vm: unhandled mtype in read fault")
	}

	perm := hal.PermValid | hal.PermUser | hal.PermRead | hal.PermAccessed
	if area.executable() {
		perm |= hal.PermExec
	}
	if area.writable() {
		perm |= hal.PermCOW
	}
	if err := as.Table.Map(pgn, pfn, perm, 0); err != nil {
		as.alloc.RefOf(pfn).Refdown()
		return -defs.ENOMEM
	}
	return 0
}
