package mem

import (
	"github.com/chronix-os/chronix/internal/caller"
	"github.com/chronix-os/chronix/internal/klog"
)

// bitmapAlignWarn rate-limits the non-zero-alignment warning below to the
// first occurrence per caller path, the way biscuit's caller.go was built
// to dedupe repeated diagnostic spam from hot allocation paths.
var bitmapAlignWarn = &caller.Distinct_caller_t{Enabled: true}

// Bitmap is the bitmap strategy from spec §4.1: one bit per page over all
// of RAM, scanned linearly for a run of `count` free bits. O(n) in the
// number of RAM pages but gives exact contiguity; alignment above
// log2Align==0 is not honoured — a request for an aligned range still
// succeeds but may not satisfy the alignment, and the first such request is
// logged once via caller.
type Bitmap struct {
	bits  []uint64 // one bit per frame, 1 == free
	start int      // search resumes here to avoid re-scanning from zero every call
	n     int       // total frame count
}

// NewBitmap creates a Bitmap strategy managing n pages, all initially free.
func NewBitmap(n int) *Bitmap {
	words := (n + 63) / 64
	b := &Bitmap{bits: make([]uint64, words), n: n}
	for i := range b.bits {
		b.bits[i] = ^uint64(0)
	}
	if rem := n % 64; rem != 0 {
		// clear bits beyond n in the final word
		b.bits[words-1] &= (uint64(1) << uint(rem)) - 1
	}
	return b
}

func (b *Bitmap) testFree(i int) bool {
	return b.bits[i/64]&(uint64(1)<<uint(i%64)) != 0
}

func (b *Bitmap) setUsed(i int) {
	b.bits[i/64] &^= uint64(1) << uint(i%64)
}

func (b *Bitmap) setFree(i int) {
	b.bits[i/64] |= uint64(1) << uint(i%64)
}

// Alloc implements Strategy. It scans for the first run of `count`
// consecutive free bits starting at b.start, wrapping once to the
// beginning if needed.
func (b *Bitmap) Alloc(count int, log2Align uint) (PageRange, bool) {
	if count <= 0 {
		return PageRange{}, false
	}
	if log2Align != 0 {
		if fresh, trace := bitmapAlignWarn.Distinct(); fresh {
			klog.Warnf("mem: bitmap strategy ignores alignment 1<<%d\n%s", log2Align, trace)
		}
	}
	try := func(from int) (int, bool) {
		run := 0
		for i := from; i < b.n; i++ {
			if b.testFree(i) {
				run++
				if run == count {
					return i - count + 1, true
				}
			} else {
				run = 0
			}
		}
		return 0, false
	}
	start, ok := try(b.start)
	if !ok {
		start, ok = try(0)
	}
	if !ok {
		return PageRange{}, false
	}
	for i := start; i < start+count; i++ {
		b.setUsed(i)
	}
	b.start = start + count
	if b.start >= b.n {
		b.start = 0
	}
	return PageRange{Base: PhysAddr(start) * PageSize, Count: count}, true
}

// Dealloc implements Strategy.
func (b *Bitmap) Dealloc(r PageRange) {
	first := int(r.Base / PageSize)
	for i := first; i < first+r.Count; i++ {
		b.setFree(i)
	}
}
