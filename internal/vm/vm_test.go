package vm

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/reslimit"
)

func newTestAlloc(t *testing.T, npages int) *mem.Allocator {
	t.Helper()
	a := mem.Init(0, npages, mem.NewBitmap(npages))
	buf := make([]byte, npages*mem.PageSize)
	a.SetDmapBase(uintptr(unsafe.Pointer(&buf[0])))
	reslimit.Init(int64(npages))
	return a
}

func newTestSpace(t *testing.T, npages int) (*mem.Allocator, *AddressSpace) {
	t.Helper()
	alloc := newTestAlloc(t, npages)
	InitZeroPage(alloc)
	layout, err := kaddr.New(alloc, uint64(npages/2)*mem.PageSize, uint64(npages/2+256)*mem.PageSize, uint64(npages/2+512)*mem.PageSize)
	require.NoError(t, err)
	as, everr := NewEmpty(alloc, layout)
	require.Equal(t, defs.Err_t(0), everr)
	return alloc, as
}

// fakeFile is a minimal in-memory fdops.Fdops_i backing for VFILE mapping
// tests.
type fakeFile struct {
	data []byte
}

func (f *fakeFile) Pread(dst []uint8, off int) (int, defs.Err_t) {
	if off >= len(f.data) {
		return 0, 0
	}
	n := copy(dst, f.data[off:])
	return n, 0
}

func (f *fakeFile) Pwrite(src []uint8, off int) (int, defs.Err_t) {
	for off+len(src) > len(f.data) {
		f.data = append(f.data, 0)
	}
	n := copy(f.data[off:], src)
	return n, 0
}

func (f *fakeFile) Size() (int, defs.Err_t) { return len(f.data), 0 }

func TestAllocAnonAreaAndReadFaultMapsZeroPage(t *testing.T) {
	_, as := newTestSpace(t, 4096)

	start, err := as.AllocAnonArea(UserMin, 4, PermR|PermW, false)
	require.Equal(t, defs.Err_t(0), err)

	err = HandlePageFault(as, start*mem.PageSize, false)
	require.Equal(t, defs.Err_t(0), err)

	pte, _, found := as.Table.FindEntry(start)
	require.True(t, found)
	require.Equal(t, zeroPFN, pte.PPN)
}

func TestWriteFaultBreaksCOWOnZeroPage(t *testing.T) {
	_, as := newTestSpace(t, 4096)

	start, err := as.AllocAnonArea(UserMin, 1, PermR|PermW, false)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), HandlePageFault(as, start*mem.PageSize, false))
	require.Equal(t, defs.Err_t(0), HandlePageFault(as, start*mem.PageSize, true))

	pte, _, found := as.Table.FindEntry(start)
	require.True(t, found)
	require.NotEqual(t, zeroPFN, pte.PPN)
}

func TestUnmapSplitsMiddleHole(t *testing.T) {
	_, as := newTestSpace(t, 4096)

	start, err := as.AllocAnonArea(UserMin, 10, PermR|PermW, false)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), as.Unmap(start+4, 2))
	require.Len(t, as.region.areas, 2)
	require.Equal(t, start, as.region.areas[0].Pgn)
	require.Equal(t, uint64(4), as.region.areas[0].Pglen)
	require.Equal(t, start+6, as.region.areas[1].Pgn)
	require.Equal(t, uint64(4), as.region.areas[1].Pglen)
}

func TestResetHeapBreakGrowsAndShrinks(t *testing.T) {
	_, as := newTestSpace(t, 4096)

	_, err := as.ResetHeapBreak(UserMin * mem.PageSize)
	require.Equal(t, defs.Err_t(0), err)

	_, err = as.ResetHeapBreak((UserMin + 8) * mem.PageSize)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint64(8), as.heapArea.Pglen)

	_, err = as.ResetHeapBreak((UserMin + 2) * mem.PageSize)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, uint64(2), as.heapArea.Pglen)
}

func TestCloneSharesFrameAndCOWsWritableAnon(t *testing.T) {
	_, as := newTestSpace(t, 4096)

	start, err := as.AllocAnonArea(UserMin, 1, PermR|PermW, false)
	require.Equal(t, defs.Err_t(0), err)
	require.Equal(t, defs.Err_t(0), HandlePageFault(as, start*mem.PageSize, true))

	child, cerr := as.Clone()
	require.Equal(t, defs.Err_t(0), cerr)
	defer child.Destroy()

	parentAfter, _, ok := as.Table.FindEntry(start)
	require.True(t, ok)
	childPTE, _, ok := child.Table.FindEntry(start)
	require.True(t, ok)

	require.Equal(t, parentAfter.PPN, childPTE.PPN)
	require.True(t, parentAfter.Perm&hal.PermCOW != 0)
	require.True(t, childPTE.Perm&hal.PermCOW != 0)
}

func TestFileBackedSharedMappingFaultsInCachedPage(t *testing.T) {
	_, as := newTestSpace(t, 4096)
	f := &fakeFile{data: []byte("hello, chronix")}
	mfile := NewMfile(f)

	const start = UserMin
	err := as.PushArea(&Vminfo_t{
		Mtype: VFILE,
		Pgn:   start,
		Pglen: 1,
		Perms: PermR,
		file:  fileinfo_t{foff: 0, mfile: mfile, shared: true},
	}, false)
	require.Equal(t, defs.Err_t(0), err)

	require.Equal(t, defs.Err_t(0), HandlePageFault(as, start*mem.PageSize, false))

	dst := make([]byte, 5)
	require.Equal(t, defs.Err_t(0), as.User2K(start*mem.PageSize, dst))
	require.Equal(t, "hello", string(dst))
}
