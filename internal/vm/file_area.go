package vm

import (
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/mem"
)

// NewFileArea builds a VFILE Vminfo_t backed by mfile at byte offset foff,
// for internal/syscalls' mmap(2) handler to PushArea without reaching
// into vm's own unexported fileinfo_t fields (spec §4.4's file-backed
// mapping case, biscuit's Sys_mmap building the same shape inline since
// it never needed to expose the constructor past its own package
// boundary).
func NewFileArea(pgn, pglen uint64, perms permBits, mfile *Mfile_t, foff int, shared bool) *Vminfo_t {
	return &Vminfo_t{
		Mtype: VFILE,
		Pgn:   pgn,
		Pglen: pglen,
		Perms: perms,
		file:  fileinfo_t{foff: foff, mfile: mfile, shared: shared},
	}
}

// PermsFromProt translates POSIX PROT_READ/PROT_WRITE/PROT_EXEC bits (the
// mmap(2)/mprotect(2) ABI spec §6 inherits from Linux) into the area
// permission bits this package's page-fault dispatcher understands.
func PermsFromProt(read, write, exec bool) permBits {
	var p permBits
	if read {
		p |= PermR
	}
	if write {
		p |= PermW
	}
	if exec {
		p |= PermX
	}
	return p
}

// FindFreeRange locates pglen free pages at hint (if fixed) or via
// first-fit search otherwise, without inserting an area — used by the
// mmap(2) handler to place a file-backed mapping before calling
// NewFileArea/PushArea.
func (as *AddressSpace) FindFreeRange(hint, pglen uint64, fixed bool) (uint64, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if fixed {
		if _, overlap := as.region.overlaps(hint, pglen); overlap {
			as.unmapLocked(hint, pglen)
		}
		return hint, 0
	}
	start, ok := as.region.firstFit(hint, pglen, UserMax>>hal.Level(mem.PageShift))
	if !ok {
		return 0, -defs.ENOMEM
	}
	return start, 0
}
