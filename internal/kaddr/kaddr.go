// Package kaddr builds the kernel's own portion of the address space (spec
// §4.3): the direct physical-memory window, on-demand MMIO windows,
// demand-paged per-task kernel stacks, and the one shared signal-return
// trampoline page every user address space maps at the same fixed virtual
// address.
package kaddr

import (
	"errors"
	"sync"

	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/pagetable"
)

// TrampolineVA is the fixed, user-visible virtual address of the
// signal-return trampoline, identical across every address space (spec
// §4.3). Chosen just below the conventional top of the 39-bit user range
// so it never collides with a normal stack or mmap area on either
// supported architecture.
const TrampolineVA uint64 = (1 << 38) - mem.PageSize

// KernelStackPages is the number of pages reserved per kernel stack,
// biscuit-style: stacks are small and a guard gap below catches overflow
// by faulting instead of corrupting an adjacent stack.
const KernelStackPages = 4

// kernelStackGuardPages separates consecutive stack slots in the stack
// region so an overflowing stack faults against an unmapped guard range
// instead of silently smashing the next task's stack.
const kernelStackGuardPages = 1

// Layout is the kernel's view of its own address space: one instance is
// constructed during boot and shared by every subsystem that needs to map
// something into kernel space.
type Layout struct {
	alloc *mem.Allocator
	arch  hal.Arch

	directBase uint64
	directSize uint64

	mmioBase uint64
	mmioNext uint64

	stackBase uint64
	stackNext uint64
	mu        sync.Mutex

	trampoline *mem.FrameTracker
}

// New constructs a Layout. directBase/mmioBase/stackBase are virtual
// addresses chosen by the board-specific linker script (out of scope per
// spec §1); this package only tracks bump-allocation within each region
// and performs the actual mapping.
func New(alloc *mem.Allocator, directBase, mmioBase, stackBase uint64) (*Layout, error) {
	tramp, ok := alloc.AllocClean(1, 0)
	if !ok {
		return nil, errors.New("kaddr: out of memory allocating trampoline page")
	}
	return &Layout{
		alloc:      alloc,
		arch:       hal.Current,
		directBase: directBase,
		mmioBase:   mmioBase,
		mmioNext:   mmioBase,
		stackBase:  stackBase,
		stackNext:  stackBase,
		trampoline: tramp,
	}, nil
}

// MapDirectWindow maps the physical range [physBase, physBase+npages*PageSize)
// into the direct-map window using the largest level hal.Arch allows for
// each naturally-aligned chunk (spec §4.3: "mapped using the largest level
// that covers each naturally-aligned chunk"). kernelTbl is the kernel's
// own Table; user Tables do not share these entries (internal/vm installs
// only the trampoline page into each user Table).
func (l *Layout) MapDirectWindow(kernelTbl *pagetable.Table, physBase mem.PhysAddr, npages uint64) error {
	l.directSize = npages * mem.PageSize
	done := uint64(0)
	pfn := physBase.PFN()
	for done < npages {
		remain := npages - done
		level := hal.Level(0)
		for lvl := hal.Level(l.arch.Levels() - 1); lvl > 0; lvl-- {
			count := l.arch.PageCount(lvl)
			if l.arch.HugeOK(lvl) && remain >= count && pfn%count == 0 {
				level = lvl
				break
			}
		}
		count := l.arch.PageCount(level)
		vpn := (l.directBase >> hal.Level(mem.PageShift)) + done
		perm := hal.PermValid | hal.PermRead | hal.PermWrite | hal.PermGlobal
		if err := kernelTbl.Map(vpn, pfn, perm, level); err != nil {
			return err
		}
		done += count
		pfn += count
	}
	l.alloc.SetDmapBase(uintptr(l.directBase))
	return nil
}

// MapMMIO reserves and maps npages of device register space at a freshly
// bump-allocated virtual address within the MMIO window, backing it with
// the given physical range. MMIO windows are mapped on demand as device
// probing discovers device-tree regions (spec §4.3), so callers invoke
// this once per discovered device rather than up front at boot.
func (l *Layout) MapMMIO(kernelTbl *pagetable.Table, phys mem.PhysAddr, npages uint64) (uint64, error) {
	l.mu.Lock()
	va := l.mmioNext
	l.mmioNext += npages * mem.PageSize
	l.mu.Unlock()

	perm := hal.PermValid | hal.PermRead | hal.PermWrite | hal.PermGlobal
	for i := uint64(0); i < npages; i++ {
		vpn := (va >> hal.Level(mem.PageShift)) + i
		if err := kernelTbl.Map(vpn, phys.PFN()+i, perm, 0); err != nil {
			return 0, err
		}
	}
	return va, nil
}

// KernelStack is a reserved, non-contiguous kernel stack range: pages are
// demand-paged on first touch (spec §4.3) rather than mapped eagerly, so
// Touch installs the backing frame the first time a given page of the
// stack is accessed. No fault path calls Touch: internal/vm's page-fault
// dispatcher handles user addresses only.
type KernelStack struct {
	top    uint64 // one past the highest usable byte
	bottom uint64 // lowest usable byte; [bottom, bottom-guard) is the guard gap
	mapped map[uint64]*mem.FrameTracker
	mu     sync.Mutex
}

// Top returns the initial stack pointer for a freshly reserved stack.
func (ks *KernelStack) Top() uint64 { return ks.top }

// AllocKernelStack reserves the next kernel-stack slot in the stack
// region. No frames are installed; they arrive via Touch on first fault.
func (l *Layout) AllocKernelStack() *KernelStack {
	l.mu.Lock()
	base := l.stackNext
	l.stackNext += (KernelStackPages + kernelStackGuardPages) * mem.PageSize
	l.mu.Unlock()
	return &KernelStack{
		top:    base + KernelStackPages*mem.PageSize,
		bottom: base,
		mapped: make(map[uint64]*mem.FrameTracker),
	}
}

// Touch demand-pages the page of the stack containing va, returning
// ErrNotKernelStack if va does not fall within this stack's usable range
// (including within its guard gap, which must never be backed — that is
// the overflow detector).
func (ks *KernelStack) Touch(kernelTbl *pagetable.Table, alloc *mem.Allocator, va uint64) error {
	pageVA := va &^ (mem.PageSize - 1)
	if pageVA < ks.bottom || pageVA >= ks.top {
		return ErrNotKernelStack
	}
	ks.mu.Lock()
	defer ks.mu.Unlock()
	if _, already := ks.mapped[pageVA]; already {
		return nil
	}
	frame, ok := alloc.AllocClean(1, 0)
	if !ok {
		return errors.New("kaddr: out of memory demand-paging kernel stack")
	}
	vpn := pageVA >> hal.Level(mem.PageShift)
	perm := hal.PermValid | hal.PermRead | hal.PermWrite | hal.PermGlobal
	if err := kernelTbl.Map(vpn, frame.Base().PFN(), perm, 0); err != nil {
		frame.Free()
		return err
	}
	ks.mapped[pageVA] = frame
	return nil
}

// Free releases every frame this stack has accumulated and unmaps them,
// called when the owning task control block is reaped.
func (ks *KernelStack) Free(kernelTbl *pagetable.Table) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	for va, frame := range ks.mapped {
		vpn := va >> hal.Level(mem.PageShift)
		kernelTbl.Unmap(vpn)
		frame.Free()
	}
	ks.mapped = nil
}

// ErrNotKernelStack is returned by KernelStack.Touch for an address
// outside the stack's own range (the guard gap included).
var ErrNotKernelStack = errors.New("kaddr: address is not within this kernel stack")

// TrampolinePFN returns the physical frame number backing the shared
// signal-return trampoline page, for InstallTrampoline below and for
// internal/signal's sigreturn path to recognise the return address.
func (l *Layout) TrampolinePFN() uint64 { return l.trampoline.Base().PFN() }

// InstallTrampoline maps the shared trampoline frame read-execute,
// user-accessible, at TrampolineVA in the given (newly created) user
// Table — spec §4.4's "new_empty() creates an address space with only the
// trampoline mapping". The same physical page backs every address space,
// never copied (spec §4.3).
func InstallTrampoline(l *Layout, userTbl *pagetable.Table) error {
	vpn := TrampolineVA >> hal.Level(mem.PageShift)
	perm := hal.PermValid | hal.PermRead | hal.PermExec | hal.PermUser
	return userTbl.Map(vpn, l.TrampolinePFN(), perm, 0)
}
