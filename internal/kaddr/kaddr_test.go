package kaddr

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/pagetable"
)

func newAlloc(t *testing.T, npages int) *mem.Allocator {
	t.Helper()
	a := mem.Init(0, npages, mem.NewBitmap(npages))
	buf := make([]byte, npages*mem.PageSize)
	a.SetDmapBase(uintptr(unsafe.Pointer(&buf[0])))
	return a
}

func TestKernelStackDemandPagesOnTouch(t *testing.T) {
	a := newAlloc(t, 4096)
	tbl, err := pagetable.NewEmpty(a)
	require.NoError(t, err)
	defer tbl.Destroy()

	layout, err := New(a, 0x1000*mem.PageSize, 0x2000*mem.PageSize, 0x3000*mem.PageSize)
	require.NoError(t, err)

	stack := layout.AllocKernelStack()
	require.Equal(t, stack.bottom+KernelStackPages*mem.PageSize, stack.Top())

	// touching the guard gap (one page above the reserved stack) must fail
	require.ErrorIs(t, stack.Touch(tbl, a, stack.top), ErrNotKernelStack)

	require.NoError(t, stack.Touch(tbl, a, stack.top-8))
	// touching the same page twice is a no-op, not a second allocation
	require.NoError(t, stack.Touch(tbl, a, stack.top-8))
	require.Len(t, stack.mapped, 1)

	stack.Free(tbl)
	require.Empty(t, stack.mapped)
}

func TestAllocKernelStackSlotsDoNotOverlap(t *testing.T) {
	a := newAlloc(t, 4096)
	layout, err := New(a, 0, 0, 0)
	require.NoError(t, err)

	s1 := layout.AllocKernelStack()
	s2 := layout.AllocKernelStack()
	require.Less(t, s1.top, s2.bottom, "guard gap must separate consecutive stack slots")
}

func TestInstallTrampolineMapsSharedFrame(t *testing.T) {
	a := newAlloc(t, 4096)
	layout, err := New(a, 0, 0, 0)
	require.NoError(t, err)

	tbl1, err := pagetable.NewEmpty(a)
	require.NoError(t, err)
	defer tbl1.Destroy()
	tbl2, err := pagetable.NewEmpty(a)
	require.NoError(t, err)
	defer tbl2.Destroy()

	require.NoError(t, InstallTrampoline(layout, tbl1))
	require.NoError(t, InstallTrampoline(layout, tbl2))

	pa1, ok := tbl1.TranslateVA(TrampolineVA)
	require.True(t, ok)
	pa2, ok := tbl2.TranslateVA(TrampolineVA)
	require.True(t, ok)
	require.Equal(t, pa1, pa2, "every address space must share the same physical trampoline page")
}
