// Package kinit runs the boot sequence spec §9's initialization-order
// note prescribes: parse the board configuration, cross-check the ABI
// errno table, stand up the physical frame allocator and the kernel's own
// address-space layout, construct the process-wide futex table, load the
// init binary, and bring every hart's scheduler loop up. cmd/chronix-boot
// is the only caller; everything here is plain Go so host tests can drive
// the same sequence without a real board.
package kinit

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/chronix-os/chronix/internal/abi"
	"github.com/chronix-os/chronix/internal/chardev"
	"github.com/chronix-os/chronix/internal/elfload"
	"github.com/chronix-os/chronix/internal/fd"
	"github.com/chronix-os/chronix/internal/futex"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/kconfig"
	"github.com/chronix-os/chronix/internal/klog"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/reslimit"
	"github.com/chronix-os/chronix/internal/sched"
	"github.com/chronix-os/chronix/internal/syscalls"
	"github.com/chronix-os/chronix/internal/task"
	"github.com/chronix-os/chronix/internal/vfs/memfs"
	"github.com/chronix-os/chronix/internal/vm"
)

// MemoryWindow describes the contiguous physical range Boot reserves for
// the frame allocator, plus the three kernel-owned virtual windows
// internal/kaddr layers over it (direct map, MMIO, kernel stacks). A real
// board derives these from the device tree; device discovery is out of
// scope (spec §1), so a caller supplies them directly, the same way
// internal/elfload's and internal/vm's own tests do.
type MemoryWindow struct {
	Base  mem.PhysAddr
	Pages int

	DirectBase uint64
	MMIOBase   uint64
	StackBase  uint64
}

// Result is everything Boot hands back: the allocator and kernel address
// layout every other subsystem shares, the initial task, and the stop
// handles Shutdown needs to bring every hart's Run loop down cleanly.
type Result struct {
	Boot   *kconfig.Boot
	Alloc  *mem.Allocator
	Layout *kaddr.Layout
	Init   *task.Task

	stops []chan struct{}
	group *errgroup.Group
}

// Boot runs the full sequence and leaves every configured hart's
// scheduler loop running in its own goroutine. bootYAMLPath may be empty,
// in which case kconfig.Default() stands in (host tests, the seed
// scenarios of spec §8, which never ship a boot.yaml of their own).
// initImage is installed into the in-memory filesystem under the path
// boot.yaml names before it is loaded, since this kernel has no real
// storage driver to read it from (spec §1).
func Boot(bootYAMLPath string, win MemoryWindow, initImage []byte) (*Result, error) {
	b, err := loadConfig(bootYAMLPath)
	if err != nil {
		return nil, err
	}
	b.ApplyLogLevel()

	if err := abi.CheckErrnoTable(); err != nil {
		return nil, fmt.Errorf("kinit: abi self-check: %w", err)
	}

	alloc := mem.Init(win.Base, win.Pages, frameStrategy(b, win))
	reslimit.Init(int64(win.Pages))
	vm.InitZeroPage(alloc)

	layout, lerr := kaddr.New(alloc, win.DirectBase, win.MMIOBase, win.StackBase)
	if lerr != nil {
		return nil, fmt.Errorf("kinit: building kernel address layout: %w", lerr)
	}

	sched.StealThreshold = b.StealThreshold
	syscalls.Futex = futex.New()

	memfs.Files.Install(b.Init.Path, initImage)

	as, entry, sp, eerr := elfload.LoadBoot(alloc, layout, b.Init.Path, b.Init.Argv, b.Init.Env)
	if eerr != 0 {
		return nil, fmt.Errorf("kinit: loading %s: errno %d", b.Init.Path, eerr)
	}

	it := newInitTask(layout, as, entry, sp)

	sched.Global.Init(b.Harts)
	sched.Global.Spawn(it)
	klog.Infof("kinit: boot complete, %s spawned as tid=%d on %d hart(s)", b.Init.Path, it.Tid, b.Harts)

	res := &Result{Boot: b, Alloc: alloc, Layout: layout, Init: it}
	res.runHarts(b.Harts)
	return res, nil
}

func loadConfig(path string) (*kconfig.Boot, error) {
	if path == "" {
		return kconfig.Default(), nil
	}
	return kconfig.Load(path)
}

// frameStrategy picks the mem.Strategy b.FrameStrategy names
// (spec §4.1's two interchangeable implementations), defaulting to the
// bitmap strategy the same way kconfig.Parse itself treats an absent or
// zero-valued field.
func frameStrategy(b *kconfig.Boot, win MemoryWindow) mem.Strategy {
	if b.FrameStrategy == kconfig.FrameStrategyBuddy {
		return mem.NewBuddy(win.Base, win.Pages)
	}
	return mem.NewBitmap(win.Pages)
}

// newInitTask builds tid=1 from the address space LoadBoot produced: a
// fresh kernel stack, stdio wired to /dev/null (this kernel carries no
// console driver — defs.D_CONSOLE is reserved but unimplemented, spec §1
// scopes device drivers out beyond null/zero/stat/prof), and the trap
// frame primed to resume at the loaded entry point and stack pointer.
func newInitTask(layout *kaddr.Layout, as *vm.AddressSpace, entry, sp uint64) *task.Task {
	stack := layout.AllocKernelStack()
	rootFd := &fd.Fd_t{File: chardev.Open(chardev.Null{}), Perms: fd.FD_READ | fd.FD_WRITE}
	it := task.NewInitTask(as, stack, rootFd)
	it.TF.PC = entry
	it.TF.SetSP(sp)

	it.Files.Install(&fd.Fd_t{File: chardev.Open(chardev.Null{}), Perms: fd.FD_READ}, 0)
	it.Files.Install(&fd.Fd_t{File: chardev.Open(chardev.Null{}), Perms: fd.FD_WRITE}, 1)
	it.Files.Install(&fd.Fd_t{File: chardev.Open(chardev.Null{}), Perms: fd.FD_WRITE}, 2)
	return it
}

// runHarts starts one goroutine per configured hart running the
// scheduler's Run loop, using errgroup the way Orizon's own concurrent
// subsystem bring-up does (SPEC_FULL.md's domain-stack table), rather
// than a bare sync.WaitGroup, so a future hart-bringup failure can be
// propagated through g.Wait() instead of silently vanishing.
func (r *Result) runHarts(nHarts int) {
	g, _ := errgroup.WithContext(context.Background())
	r.stops = make([]chan struct{}, nHarts)
	for hart := 0; hart < nHarts; hart++ {
		hart := hart
		stop := make(chan struct{})
		r.stops[hart] = stop
		g.Go(func() error {
			sched.Global.Run(hart, stop)
			return nil
		})
	}
	r.group = g
}

// Shutdown stops every hart's scheduler loop and waits for them to
// return, for host tests that need a clean teardown between cases.
func (r *Result) Shutdown() error {
	for _, stop := range r.stops {
		close(stop)
	}
	return r.group.Wait()
}
