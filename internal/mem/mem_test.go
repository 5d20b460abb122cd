package mem

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitmapAllocDealloc(t *testing.T) {
	b := NewBitmap(8)
	r1, ok := b.Alloc(4, 0)
	require.True(t, ok)
	require.Equal(t, 4, r1.Count)

	r2, ok := b.Alloc(4, 0)
	require.True(t, ok)
	require.NotEqual(t, r1.Base, r2.Base)

	_, ok = b.Alloc(1, 0)
	require.False(t, ok, "bitmap fully allocated")

	b.Dealloc(r1)
	r3, ok := b.Alloc(4, 0)
	require.True(t, ok)
	require.Equal(t, r1.Base, r3.Base, "freed run is the only space available and must be reused")
}

func TestBitmapExhaustion(t *testing.T) {
	b := NewBitmap(4)
	_, ok := b.Alloc(4, 0)
	require.True(t, ok)
	_, ok = b.Alloc(1, 0)
	require.False(t, ok, "allocator must report exhaustion, never panic")
}

func TestBuddyAllocIsAligned(t *testing.T) {
	b := NewBuddy(0, 64)
	r, ok := b.Alloc(3, 0)
	require.True(t, ok)
	require.Equal(t, 4, r.Count, "non-power-of-two request rounds up")
	require.Zero(t, uint64(r.Base)%(uint64(r.Count)*PageSize), "block must be naturally aligned")
}

func TestBuddyAlignedRequestRoundsUpOrder(t *testing.T) {
	b := NewBuddy(0, 64)
	r, ok := b.Alloc(1, 3) // require 8-page alignment
	require.True(t, ok)
	require.Equal(t, 8, r.Count)
}

func TestBuddyDeallocReturnsBlockForReuse(t *testing.T) {
	b := NewBuddy(0, 16)
	r1, ok := b.Alloc(16, 0)
	require.True(t, ok)
	_, ok = b.Alloc(1, 0)
	require.False(t, ok, "whole window consumed by the first allocation")
	b.Dealloc(r1)
	r2, ok := b.Alloc(16, 0)
	require.True(t, ok)
	require.Equal(t, r1.Base, r2.Base)
}

func TestAllocatorRefcounting(t *testing.T) {
	a := Init(0, 16, NewBitmap(16))
	tr, ok := a.Alloc(1, 0)
	require.True(t, ok)

	rf := a.RefOf(tr.Base().PFN())
	rf.Refup()
	require.Equal(t, 2, rf.Refcnt())

	require.False(t, rf.Refdown(), "still one reference outstanding")
	require.True(t, rf.Refdown(), "last reference frees the frame")

	// the frame is now free again and allocatable
	_, ok = a.Alloc(16, 0)
	require.True(t, ok)
}

func TestFrameTrackerDoubleFreePanics(t *testing.T) {
	a := Init(0, 4, NewBitmap(4))
	tr, ok := a.Alloc(1, 0)
	require.True(t, ok)
	tr.Free()
	require.Panics(t, func() { tr.Free() })
}

func TestFrameTrackerLeakDetachesWithoutFreeing(t *testing.T) {
	a := Init(0, 4, NewBitmap(4))
	tr, ok := a.Alloc(4, 0)
	require.True(t, ok)
	rng := tr.Leak()
	require.Equal(t, 4, rng.Count)

	_, ok = a.Alloc(1, 0)
	require.False(t, ok, "leaked frames are not returned to the pool")
}
