package kinit_test

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/kinit"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/sched"
	"github.com/chronix-os/chronix/internal/vm"
)

// buildELF hand-assembles a minimal one-PT_LOAD-segment ELF64 binary,
// the same byte-level approach internal/elfload's own tests use since no
// toolchain is available to compile a real fixture.
func buildELF(t *testing.T, vaddr uint64, code []byte) []byte {
	t.Helper()

	const ehsize = 64
	const phentsize = 56
	phoff := uint64(ehsize)
	codeOff := phoff + phentsize

	buf := new(bytes.Buffer)
	ident := [16]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS64), byte(elf.ELFDATA2LSB), 1, 0}
	buf.Write(ident[:])
	binary.Write(buf, binary.LittleEndian, uint16(elf.ET_EXEC))
	binary.Write(buf, binary.LittleEndian, uint16(elf.EM_RISCV))
	binary.Write(buf, binary.LittleEndian, uint32(1))
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, phoff)
	binary.Write(buf, binary.LittleEndian, uint64(0))
	binary.Write(buf, binary.LittleEndian, uint32(0))
	binary.Write(buf, binary.LittleEndian, uint16(ehsize))
	binary.Write(buf, binary.LittleEndian, uint16(phentsize))
	binary.Write(buf, binary.LittleEndian, uint16(1))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	binary.Write(buf, binary.LittleEndian, uint16(0))
	require.Equal(t, ehsize, buf.Len())

	binary.Write(buf, binary.LittleEndian, uint32(elf.PT_LOAD))
	binary.Write(buf, binary.LittleEndian, uint32(elf.PF_R|elf.PF_X))
	binary.Write(buf, binary.LittleEndian, codeOff)
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, vaddr)
	binary.Write(buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(buf, binary.LittleEndian, uint64(len(code)))
	binary.Write(buf, binary.LittleEndian, uint64(mem.PageSize))
	require.Equal(t, int(codeOff), buf.Len())

	buf.Write(code)
	return buf.Bytes()
}

func TestBootBringsUpInitTask(t *testing.T) {
	const npages = 8192
	win := kinit.MemoryWindow{
		Base:       0,
		Pages:      npages,
		DirectBase: uint64(npages/2) * mem.PageSize,
		MMIOBase:   uint64(npages/2+256) * mem.PageSize,
		StackBase:  uint64(npages/2+512) * mem.PageSize,
	}

	code := bytes.Repeat([]byte{0x13, 0x00, 0x00, 0x00}, 8)
	image := buildELF(t, vm.UserMin, code)

	res, err := kinit.Boot("", win, image)
	require.NoError(t, err)
	require.NotNil(t, res.Init)
	require.Equal(t, vm.UserMin, res.Init.TF.PC)
	require.NotZero(t, res.Init.TF.SP())
	require.Equal(t, 1, res.Boot.Harts)

	depths := sched.Global.QueueDepths()
	require.Len(t, depths, 1)

	require.NoError(t, res.Shutdown())
}

func TestBootRejectsMissingBootYAML(t *testing.T) {
	win := kinit.MemoryWindow{Base: 0, Pages: 8192}
	_, err := kinit.Boot("/nonexistent/boot.yaml", win, nil)
	require.Error(t, err)
}
