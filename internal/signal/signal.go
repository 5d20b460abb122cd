// Package signal implements the per-task signal manager spec §4.9
// describes: pending/blocked/wake-on-arrival bitmaps, an RT-signal FIFO
// queue, a 64-entry handler table, and the user-stack trampoline frame
// construction for handler dispatch and sigreturn. The five default
// dispositions (term, ignore, core, stop, cont) are ported from
// _examples/original_source/os/src/signal/handler.rs's
// get_default_handler table; signal must not import internal/task (task
// imports signal, not the reverse, to keep the dependency graph acyclic),
// so every disposition that acts on a whole thread group returns an
// Outcome the caller (internal/task) is responsible for carrying out.
package signal

import (
	"sync"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/vm"
)

// Disposition enumerates what happens when a signal with no user handler
// is delivered (spec §3's signal manager data model).
type Disposition int

const (
	DispTerm Disposition = iota
	DispIgnore
	DispCore
	DispStop
	DispCont
	DispHandler
)

// defaultDisposition mirrors handler.rs's get_default_handler: every
// standard signal maps to one of five default behaviors unless the task
// has installed its own handler.
func defaultDisposition(sig defs.Signo_t) Disposition {
	switch sig {
	case defs.SIGQUIT, defs.SIGILL, defs.SIGTRAP, defs.SIGABRT, defs.SIGBUS,
		defs.SIGFPE, defs.SIGSEGV, defs.SIGXCPU, defs.SIGXFSZ, defs.SIGSYS:
		return DispCore
	case defs.SIGCHLD, defs.SIGURG, defs.SIGWINCH:
		return DispIgnore
	case defs.SIGCONT:
		return DispCont
	case defs.SIGSTOP, defs.SIGTSTP, defs.SIGTTIN, defs.SIGTTOU:
		return DispStop
	default:
		// Every other standard signal (HUP, INT, KILL, USR1/2, PIPE,
		// ALRM, TERM, STKFLT, VTALRM, PROF, IO, PWR) and every
		// unhandled real-time signal defaults to term, matching
		// handler.rs's fallthrough arm.
		return DispTerm
	}
}

// DefaultDisposition exposes defaultDisposition for internal/syscalls'
// rt_sigaction decode, which must turn a user-supplied SIG_DFL (a null
// handler pointer) back into the signal's own default behavior rather
// than a blanket ignore.
func DefaultDisposition(sig defs.Signo_t) Disposition { return defaultDisposition(sig) }

// Sigaction is one entry of the 64-slot handler table (spec §3).
type Sigaction struct {
	Disp     Disposition
	Handler  uint64 // user entry point, meaningful only when Disp == DispHandler
	Mask     uint64 // additional signals blocked while the handler runs
	Flags    uint32
	Restorer uint64 // user address of the sigreturn trampoline stub, if SA_RESTORER
}

// SA_* flags recognised by rt_sigaction (spec §6).
const (
	SA_NOCLDSTOP = 1 << 0
	SA_NOCLDWAIT = 1 << 1
	SA_SIGINFO   = 1 << 2
	SA_RESTORER  = 1 << 26
	SA_NODEFER   = 1 << 30
	SA_RESETHAND = 1 << 31
)

// how values for SetBlocked, matching rt_sigprocmask's semantics.
const (
	SigBlock = iota
	SigUnblock
	SigSetMask
)

// Siginfo carries a pending signal's number and, for RT signals, enough
// context to preserve FIFO queuing order.
type Siginfo struct {
	Signo defs.Signo_t
	Code  int32
	Value uint64
}

// unblockableMask is SIGKILL|SIGSTOP: spec §7's closed behavior that these
// two can never be blocked, ignored, or caught.
func unblockableMask() uint64 {
	return 1<<(defs.SIGKILL-1) | 1<<(defs.SIGSTOP-1)
}

// Manager is one task's signal state.
type Manager struct {
	mu      sync.Mutex
	pending uint64
	blocked uint64
	wake    uint64
	rtQueue []Siginfo
	actions [defs.NSIG]Sigaction
}

// NewManager returns a Manager with every signal at its default
// disposition and nothing blocked or pending, used for the initial task
// and for exec's handler reset (spec §4.6: "resets user signal handlers
// to default").
func NewManager() *Manager {
	m := &Manager{}
	for i := range m.actions {
		m.actions[i] = Sigaction{Disp: defaultDisposition(defs.Signo_t(i + 1))}
	}
	return m
}

// Receive marks info's signal pending, queuing it on the RT FIFO if it is
// a real-time signal (spec §3's "queue of pending signal-info records for
// RT signal queuing").
func (m *Manager) Receive(info Siginfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending |= 1 << (info.Signo - 1)
	if info.Signo >= defs.SIGRTMIN {
		m.rtQueue = append(m.rtQueue, info)
	}
}

// SetSigaction installs act for sig and returns the previous action.
// Installing a handler for SIGKILL or SIGSTOP is rejected.
func (m *Manager) SetSigaction(sig defs.Signo_t, act Sigaction) (Sigaction, defs.Err_t) {
	if sig == defs.SIGKILL || sig == defs.SIGSTOP {
		return Sigaction{}, -defs.EINVAL
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.actions[sig-1]
	m.actions[sig-1] = act
	return old, 0
}

// GetSigaction returns sig's current handler table entry, for
// rt_sigaction's query-only form (a null new-action pointer).
func (m *Manager) GetSigaction(sig defs.Signo_t) Sigaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.actions[sig-1]
}

// SetBlocked updates the blocked mask per how (SigBlock/SigUnblock/
// SigSetMask) and returns the mask that was in effect before the call.
// SIGKILL and SIGSTOP can never be blocked (spec §7).
func (m *Manager) SetBlocked(set uint64, how int) uint64 {
	set &^= unblockableMask()
	m.mu.Lock()
	defer m.mu.Unlock()
	old := m.blocked
	switch how {
	case SigBlock:
		m.blocked |= set
	case SigUnblock:
		m.blocked &^= set
	case SigSetMask:
		m.blocked = set
	}
	return old
}

// Blocked returns the current blocked mask.
func (m *Manager) Blocked() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blocked
}

// SetWakeMask records the wake-on-signal mask observed at sleep entry
// (spec §4.6's interruptible state); only signals in this mask wake a
// parked task early.
func (m *Manager) SetWakeMask(mask uint64) {
	m.mu.Lock()
	m.wake = mask
	m.mu.Unlock()
}

// Deliverable reports whether any signal in mask is currently pending and
// unblocked (spec §4.7's "signal future becomes ready whenever pending &
// !blocked is nonempty for the task's wake mask").
func (m *Manager) Deliverable(mask uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending&^m.blocked&mask != 0
}

// WakeReady reports whether a signal in the wake-on-arrival mask set by
// SetWakeMask is pending and unblocked.
func (m *Manager) WakeReady() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending&^m.blocked&m.wake != 0
}

// SnapshotForClone returns a deep copy of this manager for a clone that
// does not share signal handlers (CLONE_SIGHAND unset); pending and
// blocked state is reset for the child but handler dispositions carry
// over, matching fork's usual semantics.
func (m *Manager) SnapshotForClone() *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	nm := &Manager{actions: m.actions}
	return nm
}

// Outcome tells the caller (internal/task, which owns the thread-group
// machinery) what a delivered signal requires beyond the per-task signal
// manager's own bookkeeping.
type Outcome int

const (
	OutcomeNone Outcome = iota
	OutcomeHandled
	OutcomeTerminate
	OutcomeStop
	OutcomeContinue
)

// popPending selects the next deliverable signal: standard signals in
// increasing numeric order take priority, then the RT FIFO in arrival
// order (spec §4.9's "pop the first such signal, respecting RT-signal
// FIFO order").
func (m *Manager) popPending() (Siginfo, bool) {
	ready := m.pending &^ m.blocked
	if ready == 0 {
		return Siginfo{}, false
	}
	for sig := defs.Signo_t(1); sig <= 31; sig++ {
		bit := uint64(1) << (sig - 1)
		if ready&bit != 0 {
			m.pending &^= bit
			return Siginfo{Signo: sig}, true
		}
	}
	for i, info := range m.rtQueue {
		bit := uint64(1) << (info.Signo - 1)
		if ready&bit == 0 {
			continue
		}
		m.rtQueue = append(m.rtQueue[:i], m.rtQueue[i+1:]...)
		if !m.rtQueuedStill(info.Signo) {
			m.pending &^= bit
		}
		return info, true
	}
	return Siginfo{}, false
}

func (m *Manager) rtQueuedStill(sig defs.Signo_t) bool {
	for _, info := range m.rtQueue {
		if info.Signo == sig {
			return true
		}
	}
	return false
}

// SigFrame is the context record spec §4.9 places on the user stack: the
// pre-handler trap context, the blocked mask to restore on sigreturn, and
// a magic value CheckAndHandle's sigreturn counterpart uses to catch a
// corrupted or forged frame.
type SigFrame struct {
	Magic   uint64
	TF      hal.TrapFrame
	Blocked uint64
}

const sigFrameMagic = 0x5349474652414d45 // "SIGFRAME" ascii-ish tag

const sigFrameSize = 8 + 8*35 + 8 // Magic + Regs[32]+PC+Cause+FaultAddr + Blocked

// CheckAndHandle runs the kernel-to-user-return signal check (spec
// §4.9): while a deliverable signal exists, pop it and act on its
// disposition. For DispHandler it builds the signal frame on the user
// stack via as, rewrites tf in place to enter the handler, and returns
// OutcomeHandled. For DispTerm/DispCore it returns OutcomeTerminate
// (caller zombies the thread group). DispIgnore loops to the next
// pending signal. DispStop/DispCont return immediately so the caller can
// apply the stop/cont operation to the whole thread group before
// resuming the check (a second call resumes the scan for anything still
// pending).
func (m *Manager) CheckAndHandle(as *vm.AddressSpace, tf *hal.TrapFrame) (Outcome, defs.Signo_t) {
	for {
		m.mu.Lock()
		info, ok := m.popPending()
		if !ok {
			m.mu.Unlock()
			return OutcomeNone, 0
		}
		act := m.actions[info.Signo-1]
		m.mu.Unlock()

		switch act.Disp {
		case DispIgnore:
			continue
		case DispTerm, DispCore:
			return OutcomeTerminate, info.Signo
		case DispStop:
			return OutcomeStop, info.Signo
		case DispCont:
			return OutcomeContinue, info.Signo
		case DispHandler:
			if err := m.buildFrame(as, tf, info.Signo, act); err != 0 {
				return OutcomeTerminate, defs.SIGSEGV
			}
			m.mu.Lock()
			newBlocked := m.blocked | act.Mask
			if act.Flags&SA_NODEFER == 0 {
				newBlocked |= 1 << (info.Signo - 1)
			}
			m.blocked = newBlocked
			if act.Flags&SA_RESETHAND != 0 {
				m.actions[info.Signo-1] = Sigaction{Disp: defaultDisposition(info.Signo)}
			}
			m.mu.Unlock()
			return OutcomeHandled, info.Signo
		}
	}
}

// buildFrame writes a SigFrame below the current user stack pointer,
// points PC at the handler with signo in the first argument register,
// and points the return address at the trampoline (spec §4.9).
func (m *Manager) buildFrame(as *vm.AddressSpace, tf *hal.TrapFrame, signo defs.Signo_t, act Sigaction) defs.Err_t {
	sp := tf.SP()
	frameVA := (sp - sigFrameSize) &^ 0xf // 16-byte align, spec §6's "ELF/ABI" convention

	saved := tf.Snapshot()
	frame := SigFrame{Magic: sigFrameMagic, TF: saved, Blocked: m.blocked}
	buf := make([]byte, sigFrameSize)
	writeFrame(buf, &frame)
	if err := as.K2User(frameVA, buf); err != 0 {
		return err
	}

	tf.SetSP(frameVA)
	tf.PC = act.Handler
	tf.SetArg(0, uint64(signo))
	retAddr := act.Restorer
	if retAddr == 0 {
		retAddr = kaddr.TrampolineVA
	}
	// The return-address slot's exact register/stack location is
	// architecture-calling-convention-specific; both supported boards
	// use a link register rather than a return address pushed on the
	// stack, so it is written back through the same argument-register
	// path AdvancePastSyscall's callers use for a0-a5: here, the link
	// register is regs[1] on Sv39/LA64 alike (the "ra"/"$r1" register).
	tf.Regs[1] = retAddr
	return 0
}

// sigreturnFrameVA recovers the frame address a task's sigreturn syscall
// should read from: by convention the frame sits exactly at the stack
// pointer the handler was entered with, which is the value currently in
// tf.SP() since the handler itself does not move sp before trapping into
// sigreturn in the common case, matching the original's and the ABI's
// expectations for a leaf trampoline.
func sigreturnFrameVA(tf *hal.TrapFrame) uint64 { return tf.SP() }

// Sigreturn implements the rt_sigreturn syscall: reads the frame built by
// buildFrame back from the user stack and restores registers and the
// blocked mask (spec §4.9, spec §8's round-trip property). Returns
// SIGSEGV-worthy failure as a negative errno; the caller converts it.
func (m *Manager) Sigreturn(as *vm.AddressSpace, tf *hal.TrapFrame) defs.Err_t {
	frameVA := sigreturnFrameVA(tf)
	buf := make([]byte, sigFrameSize)
	if err := as.User2K(frameVA, buf); err != 0 {
		return err
	}
	var frame SigFrame
	if !readFrame(buf, &frame) || frame.Magic != sigFrameMagic {
		return -defs.EFAULT
	}
	tf.Restore(frame.TF)
	m.mu.Lock()
	m.blocked = frame.Blocked
	m.mu.Unlock()
	return 0
}

func writeFrame(buf []byte, f *SigFrame) {
	putU64(buf[0:8], f.Magic)
	off := 8
	for i := 0; i < 32; i++ {
		putU64(buf[off:off+8], f.TF.Regs[i])
		off += 8
	}
	putU64(buf[off:off+8], f.TF.PC)
	off += 8
	putU64(buf[off:off+8], f.TF.Cause)
	off += 8
	putU64(buf[off:off+8], f.TF.FaultAddr)
	off += 8
	putU64(buf[off:off+8], f.Blocked)
}

func readFrame(buf []byte, f *SigFrame) bool {
	if len(buf) < sigFrameSize {
		return false
	}
	f.Magic = getU64(buf[0:8])
	off := 8
	for i := 0; i < 32; i++ {
		f.TF.Regs[i] = getU64(buf[off : off+8])
		off += 8
	}
	f.TF.PC = getU64(buf[off : off+8])
	off += 8
	f.TF.Cause = getU64(buf[off : off+8])
	off += 8
	f.TF.FaultAddr = getU64(buf[off : off+8])
	off += 8
	f.Blocked = getU64(buf[off : off+8])
	return true
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

func getU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}
