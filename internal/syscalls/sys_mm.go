package syscalls

import (
	"github.com/chronix-os/chronix/internal/abi"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/task"
	"github.com/chronix-os/chronix/internal/vfs"
	"github.com/chronix-os/chronix/internal/vm"
)

func pageShift() hal.Level { return hal.Level(mem.PageShift) }

func bytesToPages(n uint64) uint64 { return (n + mem.PageSize - 1) / mem.PageSize }

// sysBrk implements brk(2): a zero argument queries the current break
// (there being no other way to ask), any other value requests that break
// (spec §6, §4.4's growable heap area).
func sysBrk(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	newBrk := tf.Arg(0)
	if newBrk == 0 {
		return int64(t.AS().CurrentBreak()), false
	}
	va, err := t.AS().ResetHeapBreak(newBrk)
	if err != 0 {
		// brk(2) always returns the current break, not an errno, on
		// failure to grow.
		return int64(t.AS().CurrentBreak()), false
	}
	return int64(va), false
}

// sysMmap implements mmap(2): anonymous mappings go through
// AllocAnonArea, file-backed mappings build a shared-pagecache Mfile_t
// via vm.NewFileArea (spec §4.4).
func sysMmap(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	hint := tf.Arg(0)
	length := tf.Arg(1)
	prot := tf.Arg(2)
	flags := tf.Arg(3)
	fdno := int(int32(tf.Arg(4)))
	off := int(tf.Arg(5))

	pglen := bytesToPages(length)
	if pglen == 0 {
		return -int64(defs.EINVAL), false
	}
	perms := vm.PermsFromProt(prot&abi.ProtRead != 0, prot&abi.ProtWrite != 0, prot&abi.ProtExec != 0)
	fixed := flags&abi.MapFixed != 0

	if flags&abi.MapAnonymous != 0 {
		start, err := t.AS().AllocAnonArea(hint, pglen, perms, fixed)
		if err != 0 {
			return int64(err), false
		}
		return int64(start << pageShift()), false
	}

	f, ok := t.Files.Get(fdno)
	if !ok {
		return -int64(defs.EBADF), false
	}
	mf := vm.NewMfile(vfs.Fdops{F: f.File})
	start, err := t.AS().FindFreeRange(hint, pglen, fixed)
	if err != 0 {
		return int64(err), false
	}
	area := vm.NewFileArea(start, pglen, perms, mf, off, flags&abi.MapShared != 0)
	if err := t.AS().PushArea(area, fixed); err != 0 {
		return int64(err), false
	}
	return int64(start << pageShift()), false
}

// sysMunmap implements munmap(2) (spec §4.4).
func sysMunmap(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	pgn := tf.Arg(0) >> pageShift()
	pglen := bytesToPages(tf.Arg(1))
	if err := t.AS().Unmap(pgn, pglen); err != 0 {
		return int64(err), false
	}
	return 0, false
}

// mremapMaymove is Linux's MREMAP_MAYMOVE flag bit.
const mremapMaymove = 1

// sysMremap implements mremap(2) (spec §4.4).
func sysMremap(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	oldPgn := tf.Arg(0) >> pageShift()
	oldPglen := bytesToPages(tf.Arg(1))
	newPglen := bytesToPages(tf.Arg(2))
	mayMove := tf.Arg(3)&mremapMaymove != 0

	start, err := t.AS().Mremap(oldPgn, oldPglen, newPglen, mayMove)
	if err != 0 {
		return int64(err), false
	}
	return int64(start << pageShift()), false
}
