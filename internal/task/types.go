// Package task implements the task control block and its lifecycle (spec
// §4.6, C6): per-thread identity, scheduling state, the address-space and
// fd-table handles it shares or owns exclusively depending on clone
// flags, and the clone/exec/exit/wait state machine. The thread-group and
// process-group containers are grounded on
// _examples/original_source/os/src/task/manager.rs's TaskManager/
// ProcessGroupManager, translated from Rust's Arc/Weak ownership into Go's
// plain pointers for strong, owning references and the standard library's
// weak package (new in Go 1.24) for the back-references spec §9 asks for
// ("owning strong references downward, weak back-references upward").
package task

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/chronix-os/chronix/internal/accnt"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/fd"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/signal"
	"github.com/chronix-os/chronix/internal/vm"
)

// Status is a task's scheduling state (spec §4.6's state diagram).
type Status int

const (
	Running Status = iota
	Interruptible
	Uninterruptible
	Stopped
	Zombie
)

// CloneFlags mirrors spec §4.6's clone flag set.
type CloneFlags struct {
	ShareVM             bool
	ShareFS             bool
	ShareFiles          bool
	ShareSignalHandlers bool
	ThreadGroup         bool // "set-thread-group": new task joins caller's thread group
	NewStack            uint64
	SetTLS              uint64
	ParentTidAddr       uint64
	ChildTidAddr        uint64
}

// AddrSpaceRef is a reference-counted handle onto an AddressSpace, shared
// by every thread-group member when CLONE_VM is set (spec §4.6: "leaders
// own the address space, followers share it"). The last Release destroys
// the underlying AddressSpace, matching spec §4.6's exit semantics ("the
// last reference to the address space frees all user frames").
type AddrSpaceRef struct {
	AS   *vm.AddressSpace
	refs int32
}

// NewAddrSpaceRef wraps as with an initial reference count of one.
func NewAddrSpaceRef(as *vm.AddressSpace) *AddrSpaceRef {
	return &AddrSpaceRef{AS: as, refs: 1}
}

// Retain adds one reference, called when a new thread-group member starts
// sharing this address space.
func (r *AddrSpaceRef) Retain() { atomic.AddInt32(&r.refs, 1) }

// Release drops one reference, destroying the address space when the
// count reaches zero.
func (r *AddrSpaceRef) Release() {
	if atomic.AddInt32(&r.refs, -1) == 0 {
		r.AS.Destroy()
	}
}

// FdTable is a reference-counted fd table, shared across CLONE_FILES
// siblings the same way AddrSpaceRef shares an address space.
type FdTable struct {
	mu   sync.Mutex
	Fds  map[int]*fd.Fd_t
	refs int32
}

// NewFdTable returns an empty fd table with an initial reference count of
// one.
func NewFdTable() *FdTable {
	return &FdTable{Fds: make(map[int]*fd.Fd_t), refs: 1}
}

func (t *FdTable) Retain() { atomic.AddInt32(&t.refs, 1) }

// Release drops one reference, closing every descriptor when the last
// sharer goes away.
func (t *FdTable) Release() {
	if atomic.AddInt32(&t.refs, -1) != 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.Fds {
		f.File.Close()
	}
	t.Fds = nil
}

// Get returns the descriptor at fdno, if any.
func (t *FdTable) Get(fdno int) (*fd.Fd_t, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.Fds[fdno]
	return f, ok
}

// Remove closes and drops the descriptor at fdno, returning the error
// close reported (spec §6's close(2)).
func (t *FdTable) Remove(fdno int) defs.Err_t {
	t.mu.Lock()
	f, ok := t.Fds[fdno]
	if ok {
		delete(t.Fds, fdno)
	}
	t.mu.Unlock()
	if !ok {
		return -defs.EBADF
	}
	return f.File.Close()
}

// Install places f at the lowest unused descriptor number >= minFd and
// returns it.
func (t *FdTable) Install(f *fd.Fd_t, minFd int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := minFd
	for {
		if _, used := t.Fds[n]; !used {
			t.Fds[n] = f
			return n
		}
		n++
	}
}

// CloneTable produces an independent copy for a task that does not share
// files (CLONE_FILES unset): every descriptor is reopened via fd.Copyfd so
// the new table has its own references.
func (t *FdTable) CloneTable() (*FdTable, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	nt := NewFdTable()
	for n, f := range t.Fds {
		nf, err := fd.Copyfd(f)
		if err != 0 {
			nt.Release()
			return nil, err
		}
		nt.Fds[n] = nf
	}
	return nt, 0
}

// Task is one thread's control block (spec §3, §4.6).
type Task struct {
	Tid  defs.Tid_t
	Pid  defs.Pid_t
	Pgid defs.Pgid_t

	mu     sync.Mutex
	status Status

	ASRef *AddrSpaceRef
	Sig   *signal.Manager
	Files *FdTable
	Cwd   *fd.Cwd_t

	TF     hal.TrapFrame
	KStack *kaddr.KernelStack
	Accnt  accnt.Accnt_t

	ExitCode int
	exitCh   chan struct{}

	ClearChildTid uint64
	SetChildTid   uint64

	WakeMask uint64
	waker    func()

	// LastHart is the hart this task was most recently polled on,
	// letting internal/sched re-enqueue a waking task on the queue it
	// left rather than an arbitrary one (spec §4.7's per-hart FIFO).
	LastHart int

	// parent is a weak back-reference: the parent owns this task through
	// Group/Children, so this task must not keep the parent alive (spec
	// §9's "owning strong references downward, weak back-references
	// upward").
	parent weak.Pointer[Task]

	childMu  sync.Mutex
	children []*Task
	waitCh   chan struct{} // signaled whenever a child changes state

	Group *Group
}

// Status returns the task's current scheduling state.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// SetStatus updates the scheduling state under the task's own lock.
func (t *Task) SetStatus(s Status) {
	t.mu.Lock()
	t.status = s
	t.mu.Unlock()
}

// Parent returns the parent task, or nil if it has already been collected
// (init re-parenting keeps every live task's parent valid in practice, but
// the weak handle can still observe a nil during the brief window between
// the parent's own collection and a re-parent).
func (t *Task) Parent() *Task {
	return t.parent.Value()
}

// AS is a convenience accessor for the shared address space.
func (t *Task) AS() *vm.AddressSpace { return t.ASRef.AS }

// IsLeader reports whether this task is its thread group's leader (spec
// §4.6: "the thread-group leader's identity is also the process id").
func (t *Task) IsLeader() bool { return defs.Tid_t(t.Pid) == t.Tid }
