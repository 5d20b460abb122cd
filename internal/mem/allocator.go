package mem

import (
	"unsafe"

	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/reslimit"
)

// Allocator is the process-wide frame-allocator singleton (spec §4.1):
// interrupt-safe mutual exclusion around a pluggable Strategy, plus
// reference counting and the direct-physical-map conversion biscuit's
// Physmem_t.Dmap provides. Exactly one Allocator is constructed per kernel
// image, at Init, though the type itself is not a global var so that tests
// can build independent instances.
type Allocator struct {
	strategy Strategy
	startPFN uint64
	npages   int
	refcnt   []int32
	dmapBase uintptr // virtual base of the direct physical map; 0 until kaddr installs it
}

// Global is the singleton Allocator used by the rest of the kernel once
// Init has run. internal/kinit's Boot calls Init before any other
// subsystem touches physical memory.
var Global *Allocator

// Init constructs the singleton over a contiguous physical window
// [start, start+npages*PageSize) managed by strategy, and installs it as
// Global. Passing a *Bitmap or *Buddy selects which of spec §4.1's two
// interchangeable strategies backs the allocator; callers may also supply
// their own Strategy for testing.
func Init(start PhysAddr, npages int, strategy Strategy) *Allocator {
	a := &Allocator{
		strategy: strategy,
		startPFN: start.PFN(),
		npages:   npages,
		refcnt:   make([]int32, npages),
	}
	Global = a
	return a
}

// SetDmapBase records the virtual base address of the kernel's direct
// physical map, installed once by internal/kaddr during early boot. Dmap
// and Dmap8 panic if called before this is set, the same way biscuit's
// Physmem_t.Dmap panics when !Dmapinit.
func (a *Allocator) SetDmapBase(base uintptr) { a.dmapBase = base }

// Alloc reserves count contiguous frames, honouring log2Align where the
// strategy supports it. Frames are not zeroed. Returns (nil, false) on
// exhaustion; never panics on a legal request (spec §4.1).
func (a *Allocator) Alloc(count int, log2Align uint) (*FrameTracker, bool) {
	flags := hal.IRQSave()
	rng, ok := a.strategy.Alloc(count, log2Align)
	if ok {
		for pfn := rng.Base.PFN(); pfn < rng.Base.PFN()+uint64(rng.Count); pfn++ {
			a.refcnt[pfn-a.startPFN] = 1
		}
	}
	hal.IRQRestore(flags)
	if !ok {
		return nil, false
	}
	return &FrameTracker{owner: a, rng: rng}, true
}

// AllocClean is Alloc followed by zero-filling every byte of the range
// (spec §4.1's alloc_clean helper), requiring the direct map be installed.
func (a *Allocator) AllocClean(count int, log2Align uint) (*FrameTracker, bool) {
	t, ok := a.Alloc(count, log2Align)
	if !ok {
		return nil, false
	}
	b := a.Dmap8(t.rng.Base, t.rng.Count*PageSize)
	for i := range b {
		b[i] = 0
	}
	return t, true
}

// dealloc is the unexported path both FrameTracker.Free and RefFrame's
// zero-count path funnel through.
func (a *Allocator) dealloc(r PageRange) {
	flags := hal.IRQSave()
	a.strategy.Dealloc(r)
	hal.IRQRestore(flags)
	reslimit.Refill(int64(r.Count))
}

// RefOf returns a RefFrame handle for the page at pfn, for callers that
// need to share an already-allocated page (a fork()'d COW mapping, a page
// cache entry mapped into two address spaces). The page must already be
// owned by this Allocator.
func (a *Allocator) RefOf(pfn uint64) *RefFrame {
	return &RefFrame{owner: a, pfn: pfn}
}

// Dmap returns the direct-mapped kernel virtual address of the page
// containing p (p's offset within the page is dropped), mirroring
// biscuit's Physmem_t.Dmap.
func (a *Allocator) Dmap(p PhysAddr) unsafe.Pointer {
	if a.dmapBase == 0 {
		panic("mem: direct map not installed")
	}
	off := uintptr(p) &^ uintptr(PageSize-1)
	return unsafe.Pointer(a.dmapBase + off)
}

// Dmap8 returns a byte slice of length n backed by the direct map starting
// at physical address p, mirroring biscuit's Physmem_t.Dmap8. The direct
// map mirrors physical memory linearly, so a multi-page range is one
// contiguous slice regardless of page boundaries.
func (a *Allocator) Dmap8(p PhysAddr, n int) []byte {
	if a.dmapBase == 0 {
		panic("mem: direct map not installed")
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(a.dmapBase+uintptr(p))), n)
}

// Npages reports the total number of frames this allocator manages, for
// diagnostics and the D_STAT device.
func (a *Allocator) Npages() int { return a.npages }
