package mem

import "sync/atomic"

// RefFrame is the reference-counted wrapper for a single shared physical
// page (spec §4.1's "shared frames use a reference-counted wrapper whose
// destructor runs the frame tracker's destructor only at count zero"),
// generalizing biscuit's Physmem_t.Refcnt/Refup/Refdown array of
// Physpg_t.Refcnt fields to an explicit per-page object callers hold a
// handle to (a fork()'d copy-on-write mapping, or a page shared via an
// mmap'd file).
type RefFrame struct {
	owner *Allocator
	pfn   uint64
}

// Refup increments the frame's reference count; used when a second mapping
// (e.g. a forked child's page table) starts pointing at the same physical
// page.
func (rf *RefFrame) Refup() {
	atomic.AddInt32(&rf.owner.refcnt[rf.pfn-rf.owner.startPFN], 1)
}

// Refdown decrements the frame's reference count and runs the underlying
// FrameTracker's Free only when it reaches zero, returning true in that
// case. Matches biscuit's Refdown / _refdec pairing in mem/mem.go.
func (rf *RefFrame) Refdown() bool {
	idx := rf.pfn - rf.owner.startPFN
	c := atomic.AddInt32(&rf.owner.refcnt[idx], -1)
	if c < 0 {
		panic("mem: refcount underflow")
	}
	if c == 0 {
		rf.owner.dealloc(PageRange{Base: PhysAddr(rf.pfn) * PageSize, Count: 1})
		return true
	}
	return false
}

// Refcnt returns the current reference count.
func (rf *RefFrame) Refcnt() int {
	return int(atomic.LoadInt32(&rf.owner.refcnt[rf.pfn-rf.owner.startPFN]))
}

// PFN returns the page frame number this handle refers to.
func (rf *RefFrame) PFN() uint64 { return rf.pfn }
