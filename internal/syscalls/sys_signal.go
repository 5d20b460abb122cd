package syscalls

import (
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/signal"
	"github.com/chronix-os/chronix/internal/task"
)

// sigactionWireSize is the on-the-wire layout rt_sigaction's user-space
// struct sigaction reduces to for this ABI: handler(8) + mask(8) +
// flags(4, padded to 8) + restorer(8).
const sigactionWireSize = 32

// sigDfl/sigIgn are the two reserved handler addresses rt_sigaction's ABI
// recognizes in place of a real user entry point (POSIX SIG_DFL/SIG_IGN).
const (
	sigDfl = 0
	sigIgn = 1
)

func decodeSigaction(signo defs.Signo_t, buf []byte) signal.Sigaction {
	handler := getU64LE(buf[0:8])
	mask := getU64LE(buf[8:16])
	flags := uint32(getU64LE(buf[16:24]))
	restorer := getU64LE(buf[24:32])
	switch handler {
	case sigDfl:
		return signal.Sigaction{Disp: signal.DefaultDisposition(signo), Mask: mask, Flags: flags}
	case sigIgn:
		return signal.Sigaction{Disp: signal.DispIgnore, Mask: mask, Flags: flags}
	default:
		return signal.Sigaction{Disp: signal.DispHandler, Handler: handler, Mask: mask, Flags: flags, Restorer: restorer}
	}
}

func encodeSigaction(buf []byte, act signal.Sigaction) {
	handler := uint64(sigDfl)
	switch act.Disp {
	case signal.DispHandler:
		handler = act.Handler
	case signal.DispIgnore:
		handler = sigIgn
	}
	putU64LE(buf[0:8], handler)
	putU64LE(buf[8:16], act.Mask)
	putU64LE(buf[16:24], uint64(act.Flags))
	putU64LE(buf[24:32], act.Restorer)
}

func getU64LE(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

// sysRtSigaction implements rt_sigaction(2) (spec §4.9's handler table).
func sysRtSigaction(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	signo := defs.Signo_t(tf.Arg(0))
	actVA := tf.Arg(1)
	oldVA := tf.Arg(2)

	var old signal.Sigaction
	if actVA != 0 {
		buf := make([]byte, sigactionWireSize)
		if err := t.AS().User2K(actVA, buf); err != 0 {
			return int64(err), false
		}
		newAct := decodeSigaction(signo, buf)
		var err defs.Err_t
		old, err = t.Sig.SetSigaction(signo, newAct)
		if err != 0 {
			return int64(err), false
		}
	} else {
		old = t.Sig.GetSigaction(signo)
	}
	if oldVA != 0 {
		buf := make([]byte, sigactionWireSize)
		encodeSigaction(buf, old)
		if err := t.AS().K2User(oldVA, buf); err != 0 {
			return int64(err), false
		}
	}
	return 0, false
}

// sysRtSigprocmask implements rt_sigprocmask(2) (spec §4.9).
func sysRtSigprocmask(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	how := int(tf.Arg(0))
	setVA := tf.Arg(1)
	oldVA := tf.Arg(2)

	var old uint64
	if setVA != 0 {
		v, err := t.AS().Userreadn(setVA, 8)
		if err != 0 {
			return int64(err), false
		}
		old = t.Sig.SetBlocked(uint64(v), how)
	} else {
		old = t.Sig.Blocked()
	}
	if oldVA != 0 {
		if err := t.AS().Userwriten(oldVA, 8, int(old)); err != 0 {
			return int64(err), false
		}
	}
	return 0, false
}

// sysRtSigreturn implements rt_sigreturn(2): restores the trap frame a
// prior handler dispatch saved (spec §4.9, spec §8's round-trip
// property). tf is fully overwritten by Sigreturn, so the value Dispatch
// writes back into the return register afterward is simply whatever
// Sigreturn already restored there — a no-op write, not a clobber.
func sysRtSigreturn(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	if err := t.Sig.Sigreturn(t.AS(), tf); err != 0 {
		return int64(err), false
	}
	return int64(tf.Return()), false
}

// sysKill implements kill(2) (spec §6): pid > 0 targets one thread-group
// leader, pid == 0 the caller's own process group, pid == -1 every task,
// and pid < -1 the process group |pid|. Signal 0 probes existence
// without actually delivering anything, matching kill(2)'s documented
// behavior.
func sysKill(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	pid := defs.Pid_t(int32(tf.Arg(0)))
	signo := defs.Signo_t(tf.Arg(1))

	targets := resolveKillTargets(t, pid)
	if len(targets) == 0 {
		return -int64(defs.ESRCH), false
	}
	if signo == 0 {
		return 0, false
	}
	for _, target := range targets {
		target.Sig.Receive(signal.Siginfo{Signo: signo})
	}
	return 0, false
}

func resolveKillTargets(caller *task.Task, pid defs.Pid_t) []*task.Task {
	switch {
	case pid > 0:
		tk, ok := task.Global.GetTask(defs.Tid_t(pid))
		if !ok {
			return nil
		}
		return []*task.Task{tk}
	case pid == 0:
		return task.GlobalPgroups.GetGroup(caller.Pgid)
	case pid == -1:
		var all []*task.Task
		task.Global.ForEachTask(func(tk *task.Task) { all = append(all, tk) })
		return all
	default:
		return task.GlobalPgroups.GetGroup(defs.Pgid_t(-pid))
	}
}
