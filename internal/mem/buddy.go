package mem

// Buddy is the buddy-system strategy from spec §4.1: a power-of-two split
// over a physical window, giving logarithmic alloc/dealloc with aligned
// blocks (the huge-page mapping path in internal/pagetable requires this
// over the bitmap strategy, since huge leaves must be naturally aligned).
type Buddy struct {
	base     PhysAddr
	maxOrder int
	free     [][]int // free[order] holds block indices (in units of 1<<order pages) currently free
}

// NewBuddy creates a Buddy strategy managing a window of npages pages
// starting at base. npages need not be a power of two; the window is
// carved into the largest aligned power-of-two blocks that fit.
func NewBuddy(base PhysAddr, npages int) *Buddy {
	maxOrder := 0
	for 1<<uint(maxOrder+1) <= npages {
		maxOrder++
	}
	b := &Buddy{base: base, maxOrder: maxOrder, free: make([][]int, maxOrder+1)}
	off := 0
	for order := maxOrder; order >= 0 && off < npages; order-- {
		blk := 1 << uint(order)
		for off+blk <= npages {
			idx := off / blk
			b.free[order] = append(b.free[order], idx)
			off += blk
		}
	}
	return b
}

func order(count int) uint {
	o := uint(0)
	for 1<<o < count {
		o++
	}
	return o
}

// Alloc implements Strategy. It rounds count up to the next power of two,
// honouring log2Align by further rounding up to at least 1<<log2Align, then
// pops a free block of that order — splitting a larger block if necessary.
func (b *Buddy) Alloc(count int, log2Align uint) (PageRange, bool) {
	if count <= 0 {
		return PageRange{}, false
	}
	want := order(count)
	if log2Align > want {
		want = log2Align
	}
	o := int(want)
	if o > b.maxOrder {
		return PageRange{}, false
	}
	for src := o; src <= b.maxOrder; src++ {
		if len(b.free[src]) == 0 {
			continue
		}
		n := len(b.free[src])
		idx := b.free[src][n-1]
		b.free[src] = b.free[src][:n-1]
		// split down to the requested order, keeping the upper buddies free
		for lvl := src; lvl > o; lvl-- {
			buddyIdx := idx*2 + 1
			b.free[lvl-1] = append(b.free[lvl-1], buddyIdx)
			idx = idx * 2
		}
		base := b.base + PhysAddr(idx)*PageSize*PhysAddr(1<<uint(o))
		return PageRange{Base: base, Count: 1 << uint(o)}, true
	}
	return PageRange{}, false
}

// Dealloc implements Strategy. It returns the block to the free lists,
// merging it with its buddy (and the merged block with its own buddy, and
// so on up to maxOrder) whenever that buddy is also free.
func (b *Buddy) Dealloc(r PageRange) {
	o := int(order(r.Count))
	idx := int((r.Base - b.base) / PageSize / PhysAddr(1<<uint(o)))
	for o < b.maxOrder {
		pos := -1
		for i, f := range b.free[o] {
			if f == idx^1 {
				pos = i
				break
			}
		}
		if pos < 0 {
			break
		}
		b.free[o] = append(b.free[o][:pos], b.free[o][pos+1:]...)
		idx /= 2
		o++
	}
	b.free[o] = append(b.free[o], idx)
}
