// Package mem implements Chronix's physical frame allocator (spec §4.1),
// generalizing biscuit's mem/mem.go Physmem_t — a single free-list-of-pages
// allocator hardcoded to 4KiB x86 pages — into two interchangeable
// strategies (bitmap, buddy) behind one Strategy contract, with RAII frame
// ownership and reference-counted sharing for copy-on-write pages.
package mem

// PageShift is the base-2 exponent of the page size; 4KiB pages on both
// supported architectures (Sv39 and LA64).
const PageShift = 12

// PageSize is the size of a single page in bytes.
const PageSize = 1 << PageShift

// PhysAddr is a physical address. Frame numbers (PFNs) are PhysAddr >>
// PageShift.
type PhysAddr uint64

// PFN returns the physical frame number of a PhysAddr.
func (p PhysAddr) PFN() uint64 { return uint64(p) >> PageShift }

// PageRange describes a contiguous run of physical frames: [Base,
// Base+Count*PageSize).
type PageRange struct {
	Base  PhysAddr
	Count int
}

// End returns the address one past the last byte of the range.
func (r PageRange) End() PhysAddr {
	return r.Base + PhysAddr(r.Count)*PageSize
}

// Strategy is the contract a frame-allocation policy implements (spec
// §4.1): contiguous allocation with best-effort alignment, and release of a
// previously-allocated range. Implementations are not required to be
// internally synchronized; Allocator supplies the interrupt-safe mutual
// exclusion around whichever Strategy it wraps.
type Strategy interface {
	// Alloc finds count contiguous free frames, aligned to 1<<log2Align
	// frames if the strategy honours alignment, and marks them used.
	// Returns false on exhaustion; never panics on a legal request.
	Alloc(count int, log2Align uint) (PageRange, bool)

	// Dealloc returns a previously-allocated range to the free pool.
	Dealloc(r PageRange)
}
