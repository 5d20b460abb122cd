package elfload_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/elfload"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/reslimit"
	"github.com/chronix-os/chronix/internal/vfs/memfs"
	"github.com/chronix-os/chronix/internal/vm"
)

// buildELF hand-assembles a minimal ELF64 little-endian binary with one
// PT_LOAD segment carrying code at vaddr and entry==vaddr, optionally
// preceded by a PT_INTERP segment. There is no toolchain available to
// compile a real fixture, so the byte layout is written out directly per
// the ELF64 header/program-header shapes debug/elf itself decodes.
func buildELF(t *testing.T, machine elf.Machine, vaddr uint64, code []byte, withInterp bool) []byte {
	t.Helper()

	const ehsize = 64
	const phentsize = 56

	nphdr := 1
	if withInterp {
		nphdr = 2
	}
	phoff := uint64(ehsize)
	codeOff := phoff + uint64(nphdr)*phentsize
	interpPath := "/lib/ld.so\x00"

	buf := new(bytes.Buffer)

	ident := [16]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), 1, 0}
	buf.Write(ident[:])
	binary.Write(buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(buf, binary.LittleEndian, uint16(machine))
	binary.Write(buf, binary.LittleEndian, uint32(1)) // e_version
	binary.Write(buf, binary.LittleEndian, vaddr)      // e_entry
	binary.Write(buf, binary.LittleEndian, phoff)      // e_phoff
	binary.Write(buf, binary.LittleEndian, uint64(0))  // e_shoff
	binary.Write(buf, binary.LittleEndian, uint32(0))  // e_flags
	binary.Write(buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(buf, binary.LittleEndian, uint16(phentsize))
	binary.Write(buf, binary.LittleEndian, uint16(nphdr))
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shentsize
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shnum
	binary.Write(buf, binary.LittleEndian, uint16(0)) // e_shstrndx
	require.Equal(t, ehsize, buf.Len())

	interpOff := codeOff + uint64(len(code))
	if withInterp {
		writePhdr(buf, uint32(elf.PT_INTERP), uint32(elf.PF_R), interpOff, 0, uint64(len(interpPath)), uint64(len(interpPath)), 1)
	}
	writePhdr(buf, uint32(elf.PT_LOAD), uint32(elf.PF_R|elf.PF_X), codeOff, vaddr, uint64(len(code)), uint64(len(code)), mem.PageSize)
	require.Equal(t, int(codeOff), buf.Len())

	buf.Write(code)
	if withInterp {
		buf.WriteString(interpPath)
	}
	return buf.Bytes()
}

func writePhdr(buf *bytes.Buffer, typ, flags uint32, off, vaddr, filesz, memsz, align uint64) {
	binary.Write(buf, binary.LittleEndian, typ)
	binary.Write(buf, binary.LittleEndian, flags)
	binary.Write(buf, binary.LittleEndian, off)
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, vaddr) // p_paddr
	binary.Write(buf, binary.LittleEndian, filesz)
	binary.Write(buf, binary.LittleEndian, memsz)
	binary.Write(buf, binary.LittleEndian, align)
}

func TestParseRejectsUnsupportedMachine(t *testing.T) {
	data := buildELF(t, elf.EM_X86_64, 0x1000, []byte{0x01, 0x02, 0x03, 0x04}, false)
	_, err := elfload.Parse(data)
	require.NotEqual(t, defs.Err_t(0), err)
}

func TestParseRejectsInterp(t *testing.T) {
	data := buildELF(t, elf.EM_RISCV, 0x1000, []byte{0x01, 0x02, 0x03, 0x04}, true)
	_, err := elfload.Parse(data)
	require.NotEqual(t, defs.Err_t(0), err)
}

func TestParseAcceptsLoadSegment(t *testing.T) {
	code := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 4)
	data := buildELF(t, elf.EM_RISCV, 0x10000, code, false)
	img, err := elfload.Parse(data)
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, img)
}

func newTestAlloc(t *testing.T, npages int) *mem.Allocator {
	t.Helper()
	a := mem.Init(0, npages, mem.NewBitmap(npages))
	buf := make([]byte, npages*mem.PageSize)
	a.SetDmapBase(uintptr(unsafe.Pointer(&buf[0])))
	reslimit.Init(int64(npages))
	return a
}

func newTestSpace(t *testing.T, npages int) *vm.AddressSpace {
	t.Helper()
	alloc := newTestAlloc(t, npages)
	vm.InitZeroPage(alloc)
	layout, err := kaddr.New(alloc, uint64(npages/2)*mem.PageSize, uint64(npages/2+256)*mem.PageSize, uint64(npages/2+512)*mem.PageSize)
	require.NoError(t, err)
	as, everr := vm.NewEmpty(alloc, layout)
	require.Equal(t, defs.Err_t(0), everr)
	return as
}

func TestMapIntoMapsSegmentAndBuildsStack(t *testing.T) {
	code := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 8)
	data := buildELF(t, elf.EM_RISCV, vm.UserMin, code, false)
	memfs.Files.Install("/init-test", data)

	as := newTestSpace(t, 8192)
	img, perr := elfload.Parse(data)
	require.Equal(t, defs.Err_t(0), perr)

	require.Equal(t, defs.Err_t(0), img.MapInto(as))

	got := make([]byte, len(code))
	require.Equal(t, defs.Err_t(0), as.User2K(vm.UserMin, got))
	require.Equal(t, code, got)

	sp, serr := elfload.BuildStack(as, img, []string{"/init-test"}, []string{"HOME=/"}, "/init-test")
	require.Equal(t, defs.Err_t(0), serr)
	require.Greater(t, sp, uint64(0))
	require.Equal(t, uint64(0), sp&0xf)
}
