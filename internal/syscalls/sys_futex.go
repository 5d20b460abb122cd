package syscalls

import (
	"time"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/futex"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/task"
)

// FUTEX_WAIT/FUTEX_WAKE are the two operations this kernel implements;
// FUTEX_PRIVATE_FLAG is accepted and ignored since every futex here is
// already scoped to one address space by construction (spec §4.10).
const (
	futexWait        = 0
	futexWake        = 1
	futexPrivateFlag = 128
)

func futexKey(t *task.Task, addr uint64) futex.Key {
	return futex.MkKey(t.AS().ASID(), addr)
}

// signalInterrupt polls t's signal manager for a deliverable signal in
// mask and closes the returned channel the first time it finds one,
// stopping as soon as stop is closed. It is a deliberately simple
// substitute for a true per-task wake callback: internal/futex.Wait only
// needs a channel, and polling avoids plumbing a reverse pointer from
// internal/signal back into a blocked syscall's stack.
func signalInterrupt(t *task.Task, mask uint64, stop <-chan struct{}) <-chan struct{} {
	ch := make(chan struct{})
	t.Sig.SetWakeMask(mask)
	go func() {
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if t.Sig.WakeReady() {
					close(ch)
					return
				}
			case <-stop:
				return
			}
		}
	}()
	return ch
}

// sysFutex implements the futex(2) surface this kernel supports (spec
// §4.10, completeness item C10): FUTEX_WAIT blocks while *addr ==
// expected, FUTEX_WAKE wakes up to val waiters.
func sysFutex(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	if Futex == nil {
		return -int64(defs.ENOSYS), false
	}
	addr := tf.Arg(0)
	op := int32(tf.Arg(1)) &^ futexPrivateFlag
	val := uint32(tf.Arg(2))
	timeoutVA := tf.Arg(3)

	key := futexKey(t, addr)

	switch op {
	case futexWait:
		var timeout time.Duration
		if timeoutVA != 0 {
			sec, err := t.AS().Userreadn(timeoutVA, 8)
			if err != 0 {
				return int64(err), false
			}
			nsec, err := t.AS().Userreadn(timeoutVA+8, 8)
			if err != 0 {
				return int64(err), false
			}
			timeout = time.Duration(sec)*time.Second + time.Duration(nsec)
		}
		load := func() uint32 {
			v, _ := t.AS().Userreadn(addr, 4)
			return uint32(v)
		}
		stop := make(chan struct{})
		defer close(stop)
		interrupt := signalInterrupt(t, ^uint64(0), stop)
		return int64(Futex.Wait(key, load, val, timeout, interrupt)), false
	case futexWake:
		return int64(Futex.Wake(key, int(val))), false
	default:
		// FUTEX_REQUEUE, priority-inheritance variants, and the rest of
		// Linux's futex op space are unimplemented; every seed scenario
		// and this kernel's own usage only needs WAIT/WAKE.
		return -int64(defs.ENOSYS), false
	}
}
