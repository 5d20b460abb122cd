package pagetable

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/mem"
)

// sliceBase returns the address of a Go byte slice's backing array, used
// to stand in for a direct physical map on a development host where there
// is no real MMU window to point the allocator at.
func sliceBase(b []byte) uintptr {
	return uintptr(unsafe.Pointer(&b[0]))
}

func newAlloc(t *testing.T, npages int) *mem.Allocator {
	t.Helper()
	a := mem.Init(0, npages, mem.NewBitmap(npages))
	// the sim direct map is just identity-mapped process memory for tests;
	// allocate a real Go buffer and point the allocator's dmap base at it.
	buf := make([]byte, npages*mem.PageSize)
	a.SetDmapBase(sliceBase(buf))
	return a
}

func TestMapUnmapRoundtrip(t *testing.T) {
	a := newAlloc(t, 64)
	tbl, err := NewEmpty(a)
	require.NoError(t, err)
	defer tbl.Destroy()

	leaf, ok := a.Alloc(1, 0)
	require.True(t, ok)

	const vpn = 7
	err = tbl.Map(vpn, leaf.Base().PFN(), hal.PermValid|hal.PermRead|hal.PermWrite|hal.PermUser, 0)
	require.NoError(t, err)

	err = tbl.Map(vpn, leaf.Base().PFN(), hal.PermValid, 0)
	require.ErrorIs(t, err, ErrAlreadyMapped)

	pte, lvl, ok := tbl.FindEntry(vpn)
	require.True(t, ok)
	require.Equal(t, hal.Level(0), lvl)
	require.Equal(t, leaf.Base().PFN(), pte.PPN)
	require.True(t, pte.Perm&hal.PermWrite != 0)

	pa, ok := tbl.TranslateVA(vpn*mem.PageSize + 0x42)
	require.True(t, ok)
	require.EqualValues(t, leaf.Base()+0x42, pa)

	got, err := tbl.Unmap(vpn)
	require.NoError(t, err)
	require.Equal(t, leaf.Base().PFN(), got.PPN)

	_, err = tbl.Unmap(vpn)
	require.ErrorIs(t, err, ErrNotMapped)
}

func TestMapRejectsMisalignedHugePage(t *testing.T) {
	a := newAlloc(t, 1024)
	tbl, err := NewEmpty(a)
	require.NoError(t, err)
	defer tbl.Destroy()

	// an odd PFN cannot back a level-1 (huge) leaf, which must be aligned
	// to arch.PageCount(1) frames.
	err = tbl.Map(0, 3, hal.PermValid|hal.PermRead, 1)
	require.ErrorIs(t, err, ErrMisalignedHuge)
}

func TestFindEntryMissingReturnsFalse(t *testing.T) {
	a := newAlloc(t, 16)
	tbl, err := NewEmpty(a)
	require.NoError(t, err)
	defer tbl.Destroy()

	_, _, ok := tbl.FindEntry(123456)
	require.False(t, ok)
}
