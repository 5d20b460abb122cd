// Clone/exec/exit/wait state machine (spec §4.6) and the thread-group-wide
// signal-disposition handling that internal/signal's Manager.CheckAndHandle
// hands back as an Outcome (term/stop/cont act on the whole group, which
// only this package, not internal/signal, is allowed to know about).
package task

import (
	"weak"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/fd"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/signal"
	"github.com/chronix-os/chronix/internal/stats"
	"github.com/chronix-os/chronix/internal/vm"
)

// NewInitTask builds tid=1/pid=1/pgid=1, the first task in the system,
// from an already-constructed address space (spec §4.6: "initial task is
// built by loading an ELF, producing a single-thread process group whose
// pgid = pid = 1").
func NewInitTask(as *vm.AddressSpace, stack *kaddr.KernelStack, rootFd *fd.Fd_t) *Task {
	t := &Task{
		Tid:    defs.MinTid,
		Pid:    defs.Pid_t(defs.MinTid),
		Pgid:   defs.Pgid_t(defs.MinTid),
		ASRef:  NewAddrSpaceRef(as),
		Sig:    signal.NewManager(),
		Files:  NewFdTable(),
		Cwd:    fd.MkRootCwd(rootFd),
		KStack: stack,
		exitCh: make(chan struct{}),
		waitCh: make(chan struct{}, 1),
	}
	t.Group = NewGroup(t)
	Global.AddTask(t)
	GlobalPgroups.AddGroup(t.Pgid)
	GlobalPgroups.AddTaskToGroup(t.Pgid, t)
	return t
}

// Clone creates a new task sharing or copying this task's subsystems per
// flags (spec §4.6). A new thread id is always allocated; when
// flags.ThreadGroup is set the new task becomes a follower sharing this
// task's pid, otherwise it becomes a new leader with its own pid equal to
// its tid.
func (t *Task) Clone(flags CloneFlags) (*Task, defs.Err_t) {
	child := &Task{
		Tid:           Global.AllocTid(),
		Pgid:          t.Pgid,
		exitCh:        make(chan struct{}),
		waitCh:        make(chan struct{}, 1),
		ClearChildTid: flags.ChildTidAddr,
	}

	if flags.ShareVM {
		child.ASRef = t.ASRef
		t.ASRef.Retain()
	} else {
		childAS, err := t.ASRef.AS.Clone()
		if err != 0 {
			return nil, err
		}
		child.ASRef = NewAddrSpaceRef(childAS)
	}

	if flags.ShareSignalHandlers {
		child.Sig = t.Sig
	} else {
		child.Sig = t.Sig.SnapshotForClone()
	}

	if flags.ShareFiles {
		child.Files = t.Files
		t.Files.Retain()
	} else {
		nt, err := t.Files.CloneTable()
		if err != 0 {
			if !flags.ShareVM {
				child.ASRef.Release()
			}
			return nil, err
		}
		child.Files = nt
	}

	if flags.ShareFS {
		child.Cwd = t.Cwd
	} else {
		t.Cwd.Lock()
		child.Cwd = &fd.Cwd_t{Fd: t.Cwd.Fd, Path: append([]uint8(nil), t.Cwd.Path...)}
		t.Cwd.Unlock()
	}

	child.TF = t.TF.Snapshot()
	if flags.NewStack != 0 {
		child.TF.SetSP(flags.NewStack)
	}
	child.TF.SetReturn(0) // child sees clone() return 0

	child.Accnt = t.Accnt

	if flags.ThreadGroup {
		child.Pid = t.Pid
		child.Group = t.Group
		t.Group.AddMember(child)
	} else {
		child.Pid = defs.Pid_t(child.Tid)
		child.Group = NewGroup(child)
	}

	child.parent = weak.Make(t)
	t.childMu.Lock()
	t.children = append(t.children, child)
	t.childMu.Unlock()

	Global.AddTask(child)
	GlobalPgroups.AddTaskToGroup(child.Pgid, child)

	stats.Sysstats.ForkEvt()
	return child, 0
}

// Exec replaces this task's address space with one built from a freshly
// loaded ELF, closes close-on-exec descriptors, resets user signal
// handlers to default, resets the blocked-signal mask, and installs a
// fresh trap context at the new entry point (spec §4.6). The task's
// identity (tid/pid/pgid) is unchanged.
func (t *Task) Exec(newAS *vm.AddressSpace, entry, sp uint64, closeOnExec func(*fd.Fd_t) bool) {
	old := t.ASRef
	t.ASRef = NewAddrSpaceRef(newAS)
	old.Release()

	t.Files.mu.Lock()
	for n, f := range t.Files.Fds {
		if closeOnExec(f) {
			f.File.Close()
			delete(t.Files.Fds, n)
		}
	}
	t.Files.mu.Unlock()

	t.Sig = signal.NewManager()

	t.TF = hal.TrapFrame{}
	t.TF.PC = entry
	t.TF.SetSP(sp)

	stats.Sysstats.ExecEvt()
}

// zombieGroup marks every task in tg zombie with exit status encoding
// signo, wakes their parents' wait calls and any futex waiter on
// clear_child_tid, and re-parents their children to init (spec §4.9's
// default-term/default-core disposition, spec §4.6's exit semantics).
// wakeFutex is supplied by the caller (internal/syscalls wires it to
// internal/futex.Table.Wake) so this package does not need to import
// futex just for this one call.
func zombieGroup(g *Group, signo defs.Signo_t, wakeFutex func(addr uint64)) {
	g.ForEach(func(m *Task) {
		m.exitLocked(128+int(signo), wakeFutex)
	})
}

// Exit marks t zombie with the given exit code, performing the exit
// semantics of spec §4.6: wake any parent blocked in wait, wake any futex
// waiter on clear_child_tid, re-parent children to init, and release the
// address-space and fd-table references.
func (t *Task) Exit(code int, wakeFutex func(addr uint64)) {
	t.exitLocked(code, wakeFutex)
}

func (t *Task) exitLocked(code int, wakeFutex func(addr uint64)) {
	t.mu.Lock()
	if t.status == Zombie {
		t.mu.Unlock()
		return
	}
	t.status = Zombie
	t.ExitCode = code
	t.mu.Unlock()

	if t.ClearChildTid != 0 && wakeFutex != nil {
		wakeFutex(t.ClearChildTid)
	}

	initProc := Global.GetInitProc()
	t.childMu.Lock()
	kids := t.children
	t.children = nil
	t.childMu.Unlock()
	for _, c := range kids {
		c.parent = weak.Make(initProc)
		if initProc != nil {
			initProc.childMu.Lock()
			initProc.children = append(initProc.children, c)
			initProc.childMu.Unlock()
		}
	}

	if p := t.Parent(); p != nil {
		select {
		case p.waitCh <- struct{}{}:
		default:
		}
	}

	close(t.exitCh)
	t.ASRef.Release()
	t.Files.Release()

	if t.IsLeader() {
		GlobalPgroups.RemoveTaskFromGroup(t.Pgid, t)
	}
	t.Group.RemoveMember(t.Tid)
}

// Wait options (spec §4.6).
const (
	WNOHANG = 1 << 0
)

// WaitResult carries a reaped child's pid and exit status.
type WaitResult struct {
	Pid    defs.Pid_t
	Status int
}

// Wait implements the wait(pid, options) semantics of spec §4.6: pid=-1
// matches any child, pid>0 matches that specific child, pid=0 matches any
// child sharing t's process group. If a match is already zombie it is
// reaped immediately; if matches exist but none is zombie and WNOHANG is
// unset, the caller should block on t's wait condition (exposed via
// WaitChannel) and call Wait again after being woken.
func (t *Task) Wait(pid defs.Pid_t, options int) (WaitResult, defs.Err_t) {
	t.childMu.Lock()
	defer t.childMu.Unlock()

	matches := func(c *Task) bool {
		switch {
		case pid == -1:
			return true
		case pid > 0:
			return c.Pid == pid
		default: // pid == 0
			return c.Pgid == t.Pgid
		}
	}

	found := false
	for i, c := range t.children {
		if !matches(c) {
			continue
		}
		found = true
		if c.Status() == Zombie {
			t.children = append(t.children[:i], t.children[i+1:]...)
			Global.RemoveTask(c.Tid)
			return WaitResult{Pid: c.Pid, Status: c.ExitCode}, 0
		}
	}
	if !found {
		return WaitResult{}, -defs.ECHILD
	}
	if options&WNOHANG != 0 {
		return WaitResult{Pid: 0}, 0
	}
	return WaitResult{}, -defs.EAGAIN
}

// WaitChannel returns the channel Wait's uninterruptible-sleep path should
// select on: it fires whenever a child's state may have changed.
func (t *Task) WaitChannel() <-chan struct{} { return t.waitCh }

// ExitChannel fires once, when this task transitions to zombie, letting a
// futex-style waiter (or a parent's select loop) observe completion
// without polling Status().
func (t *Task) ExitChannel() <-chan struct{} { return t.exitCh }

// HandleSignalOutcome carries out whatever internal/signal.Manager's
// CheckAndHandle reported beyond the per-task bookkeeping it already did:
// OutcomeTerminate zombies the whole thread group, OutcomeStop marks every
// member stopped with a SIGCONT-only wake mask, OutcomeContinue wakes
// every stopped member. OutcomeHandled/OutcomeNone need no group-wide
// action (spec §4.9).
func (t *Task) HandleSignalOutcome(outcome signal.Outcome, signo defs.Signo_t, wakeFutex func(addr uint64)) {
	switch outcome {
	case signal.OutcomeTerminate:
		zombieGroup(t.Group, signo, wakeFutex)
		stats.Sysstats.SignalEvt()
	case signal.OutcomeStop:
		t.Group.ForEach(func(m *Task) {
			m.SetStatus(Stopped)
			m.Sig.SetWakeMask(1 << (defs.SIGCONT - 1))
		})
		stats.Sysstats.SignalEvt()
	case signal.OutcomeContinue:
		t.Group.ForEach(func(m *Task) {
			if m.Status() == Stopped {
				m.SetStatus(Running)
			}
		})
		stats.Sysstats.SignalEvt()
	case signal.OutcomeHandled:
		stats.Sysstats.SignalEvt()
	}
}
