//go:build !riscv64 && !loong64

package hal

import (
	"sync"
	"sync/atomic"
)

// sim is a software model of a three-level, 512-fanout page-table
// architecture (Sv39's shape) used when this module is built for a
// development host (amd64, arm64, ...) instead of a real RISC-V or
// LoongArch board. It lets internal/mem, internal/pagetable, and
// internal/vm's tests exercise the full page-table/COW/page-fault state
// machine on the machine running `go test`, without booting real
// hardware. Every kernel-facing behavior it implements is identical to
// riscv64's; only the privileged TLB/root-install primitives are no-ops
// since there is no real MMU root to install.
type sim struct{}

func init() { Current = sim{} }

const (
	simLevels = 3
	simFanOut = 512
	simShift  = 12
)

const (
	simV   = 1 << 0
	simR   = 1 << 1
	simW   = 1 << 2
	simX   = 1 << 3
	simU   = 1 << 4
	simG   = 1 << 5
	simA   = 1 << 6
	simD   = 1 << 7
	simCOW = 1 << 8
	simPPNShift = 10
)

func (sim) Name() string     { return "sim-sv39" }
func (sim) Levels() int      { return simLevels }
func (sim) FanOut(Level) int { return simFanOut }

func (sim) PageCount(lvl Level) uint64 {
	n := uint64(1)
	for i := Level(0); i < lvl; i++ {
		n *= simFanOut
	}
	return n
}

func (sim) HugeOK(lvl Level) bool { return lvl > 0 && lvl < simLevels }

func (sim) EncodePTE(p PTE) uint64 {
	var w uint64
	if p.Perm&PermValid != 0 {
		w |= simV
	}
	if p.Perm&PermRead != 0 {
		w |= simR
	}
	if p.Perm&PermWrite != 0 {
		w |= simW
	}
	if p.Perm&PermExec != 0 {
		w |= simX
	}
	if p.Perm&PermUser != 0 {
		w |= simU
	}
	if p.Perm&PermGlobal != 0 {
		w |= simG
	}
	if p.Perm&PermAccessed != 0 {
		w |= simA
	}
	if p.Perm&PermDirty != 0 {
		w |= simD
	}
	if p.Perm&PermCOW != 0 {
		w |= simCOW
	}
	w |= p.PPN << simPPNShift
	return w
}

func (sim) DecodePTE(w uint64, lvl Level) PTE {
	p := PTE{PPN: w >> simPPNShift, Level: lvl}
	if w&simV != 0 {
		p.Perm |= PermValid
	}
	if w&simR != 0 {
		p.Perm |= PermRead
	}
	if w&simW != 0 {
		p.Perm |= PermWrite
	}
	if w&simX != 0 {
		p.Perm |= PermExec
	}
	if w&simU != 0 {
		p.Perm |= PermUser
	}
	if w&simG != 0 {
		p.Perm |= PermGlobal
	}
	if w&simA != 0 {
		p.Perm |= PermAccessed
	}
	if w&simD != 0 {
		p.Perm |= PermDirty
	}
	if w&simCOW != 0 {
		p.Perm |= PermCOW
	}
	if w&(simR|simW|simX) != 0 && lvl != 0 {
		p.Perm |= PermHuge
	}
	return p
}

func (sim) Index(va uint64, lvl Level) int {
	shift := uint(simShift) + 9*uint(lvl)
	return int((va >> shift) & 0x1ff)
}

var simRoot uint64
var simHart int64

func (sim) FlushAddr(va uint64)     {}
func (sim) FlushAll()               {}
func (sim) InstallRoot(root uint64) { atomic.StoreUint64(&simRoot, root) }
func (sim) CurrentHart() int        { return int(atomic.LoadInt64(&simHart)) }

// SetSimHart lets tests simulate running on a particular hart id, to
// exercise per-hart run queues deterministically.
func SetSimHart(id int) { atomic.StoreInt64(&simHart, int64(id)) }

// The sim build has no real interrupt controller, so IRQSave/IRQRestore
// become a plain mutex instead of panicking stubs: this is the one place
// sim's behavior intentionally diverges from the riscv64/loongarch64
// builds, so that internal/mem and friends are exercisable by `go test`
// on a development host.
var simIRQ sync.Mutex

func init() {
	IRQSave = func() uintptr {
		simIRQ.Lock()
		return 1
	}
	IRQRestore = func(flags uintptr) {
		simIRQ.Unlock()
	}
}

// sim mirrors riscv64's Sv39 register assignment since it models the same
// three-level page-table shape; nothing boots real user code against it,
// so any consistent assignment would do, but matching riscv64 lets
// internal/trap's tests share fixtures with the riscv64 build.
func init() {
	argRegs = [NumArgRegs]int{10, 11, 12, 13, 14, 15}
	retReg = 10
	spReg = 2
	sysnoReg = 17 // a7
}

// sim reuses riscv64's scause encoding verbatim so internal/trap's tests
// can share Cause fixtures across both builds.
const simInterruptBit = uint64(1) << 63

func decodeSimCause(raw uint64) CauseKind {
	if raw&simInterruptBit != 0 {
		switch raw &^ simInterruptBit {
		case 5:
			return CauseTimer
		case 9:
			return CauseExternal
		default:
			return CauseUnknown
		}
	}
	switch raw {
	case 8:
		return CauseSyscall
	case 12, 1:
		return CausePageFaultInstr
	case 13, 5, 4:
		return CausePageFaultLoad
	case 15, 7, 6:
		return CausePageFaultStore
	case 2:
		return CauseIllegalInstr
	case 3:
		return CauseBreakpoint
	default:
		return CauseUnknown
	}
}

func init() { DecodeCause = decodeSimCause }
