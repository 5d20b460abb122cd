// Package trap is the kernel-entry dispatch point spec §4.8 describes:
// decode what kind of trap returned control to the kernel (syscall, page
// fault, illegal instruction, breakpoint, timer, external interrupt),
// service it, run the pre-return-to-user signal check spec §4.9
// requires, and hand control back to internal/sched to decide what
// happens to the task next. It is the one package that imports both
// internal/syscalls and internal/signal and ties them to
// internal/sched's deferred TrapReturn/UserTrapHandler hooks, since
// sched itself must not import either (see internal/sched's doc
// comment on the import-cycle this avoids).
package trap

import (
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/futex"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/klog"
	"github.com/chronix-os/chronix/internal/sched"
	"github.com/chronix-os/chronix/internal/signal"
	"github.com/chronix-os/chronix/internal/stats"
	"github.com/chronix-os/chronix/internal/syscalls"
	"github.com/chronix-os/chronix/internal/task"
	"github.com/chronix-os/chronix/internal/vm"
)

func init() {
	sched.TrapReturn = func(t *task.Task) { ReturnToUser(t) }
	sched.UserTrapHandler = HandleTrap
}

// ReturnToUser restores t's trap frame onto the running hart and resumes
// user-mode execution until the next trap. The actual register restore
// and mode switch is architecture-specific assembly a real board's boot
// entry installs; the deferred-installation convention matches
// internal/hal's IRQSave/IRQRestore so this package stays buildable
// without board support.
var ReturnToUser = func(t *task.Task) {
	panic("trap: ReturnToUser not installed by boot entry")
}

// HandleTrap resolves the cause that brought t back into the kernel and
// reports what internal/sched should do with it next (spec §4.8's trap
// dispatch table).
func HandleTrap(t *task.Task) sched.Disposition {
	tf := &t.TF
	switch hal.DecodeCause(tf.Cause) {
	case hal.CauseSyscall:
		stats.Sysstats.Syscall()
		tf.AdvancePastSyscall()
		if exited := syscalls.Dispatch(t, tf); exited {
			return sched.Exited
		}
	case hal.CausePageFaultLoad:
		servicePageFault(t, tf, false)
	case hal.CausePageFaultStore:
		servicePageFault(t, tf, true)
	case hal.CausePageFaultInstr:
		servicePageFault(t, tf, false)
	case hal.CauseIllegalInstr:
		t.Sig.Receive(signal.Siginfo{Signo: defs.SIGILL})
	case hal.CauseBreakpoint:
		t.Sig.Receive(signal.Siginfo{Signo: defs.SIGTRAP})
	case hal.CauseTimer:
		// Nothing task-specific to do; the scheduler's own run loop
		// decides whether t keeps the hart or yields to the next queued
		// task (spec §4.7).
	case hal.CauseExternal:
		// No interrupt controller is wired into this package yet
		// (board boot entries dispatch device IRQs before ever handing
		// control to HandleTrap); nothing to do here.
	default:
		klog.Warnf("trap: unrecognized cause 0x%x on task %d", tf.Cause, t.Tid)
	}

	return checkSignalsAndReturn(t)
}

// servicePageFault resolves a load/store/instruction-fetch fault via
// internal/vm, raising SIGSEGV on the faulting task if the address isn't
// covered by any mapped area or the access violates the area's
// permissions (spec §4.5).
func servicePageFault(t *task.Task, tf *hal.TrapFrame, write bool) {
	stats.Sysstats.Fault()
	if err := vm.HandlePageFault(t.AS(), tf.FaultAddr, write); err != 0 {
		t.Sig.Receive(signal.Siginfo{Signo: defs.SIGSEGV})
	}
}

// checkSignalsAndReturn runs the kernel-to-user-return signal check
// (spec §4.9) and folds whatever it reports into a scheduling decision.
func checkSignalsAndReturn(t *task.Task) sched.Disposition {
	for {
		outcome, signo := t.Sig.CheckAndHandle(t.AS(), &t.TF)
		if outcome == signal.OutcomeNone {
			break
		}
		t.HandleSignalOutcome(outcome, signo, wakeFutex(t))
		if outcome == signal.OutcomeStop || outcome == signal.OutcomeContinue {
			// The group-wide stop/cont side effect is applied; loop
			// once more in case another signal is already pending.
			continue
		}
		break
	}
	if t.Status() == task.Zombie {
		return sched.Exited
	}
	return sched.Continue
}

// wakeFutex adapts internal/syscalls' process-wide futex table into the
// wakeFutex callback internal/task's exit/signal paths need for
// CLONE_CHILD_CLEARTID notification (spec §4.6, §4.10).
func wakeFutex(t *task.Task) func(addr uint64) {
	return func(addr uint64) {
		if syscalls.Futex == nil {
			return
		}
		syscalls.Futex.Wake(futex.MkKey(t.AS().ASID(), addr), 1)
	}
}
