// Package sched is the async executor (spec §4.7, completeness item C7):
// single-threaded cooperative scheduling within a hart, parallel across
// harts. Rust's original kernel expresses a task as a poll()-able future
// (UserTaskFuture wrapping trap_return/user_trap_handler in a loop,
// _examples/original_source/os/src/task/schedule.rs's run_tasks); Go has
// no async/await, so the same "pop a runnable task, run it until its next
// suspension point, requeue or drop" loop is expressed directly as a
// per-hart goroutine polling internal/task.Task values.
package sched

import (
	"sync"
	"time"

	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/klog"
	"github.com/chronix-os/chronix/internal/stats"
	"github.com/chronix-os/chronix/internal/task"
)

// Disposition is what a poll of a task produced, mirroring run_tasks'
// loop-until-zombie structure without this package needing to know
// anything about traps or syscalls itself.
type Disposition int

const (
	// Continue means the task is still runnable and belongs back on a
	// run queue immediately (it hit a trap, was serviced, and is
	// returning to user mode).
	Continue Disposition = iota
	// Suspended means the task parked on an await point (I/O, sleep,
	// wait-for-child, futex, voluntary yield); something else will
	// call Wake when the condition is satisfied.
	Suspended
	// Exited means the task is now a zombie and must not be
	// rescheduled.
	Exited
)

// TrapReturn and UserTrapHandler are installed by internal/trap during
// boot, the same deferred-wiring pattern internal/hal uses for
// IRQSave/IRQRestore: this package must not import internal/trap (trap
// depends on sched to know how to yield/suspend), so the hooks are
// function variables rather than a direct call.
var (
	// TrapReturn restores t's trap frame and returns control to user
	// mode, running until the next trap (spec §4.8).
	TrapReturn func(t *task.Task)
	// UserTrapHandler resolves the trap that returned control to the
	// kernel and reports what should happen to t next.
	UserTrapHandler func(t *task.Task) Disposition
)

// SendIPI notifies hart of newly runnable work when it was idle. The
// default is a no-op (single-hart host tests); a real board's boot entry
// replaces it with the interrupt-controller's IPI send, the same
// deferred-installation convention as hal.IRQSave/IRQRestore.
var SendIPI = func(hart int) {}

// StealThreshold is the run-queue-length difference spec §4.7's optional
// load balancing requires before an idle hart will steal from the
// busiest one ("10 in the reference").
var StealThreshold = 10

// idlePollInterval bounds how long a hart's idle loop can wait on its
// wake channel before re-checking for stealable work; a real board's
// "halt until timer/IPI" replaces this with actual interrupt wait, but
// the polling fallback keeps the scheduler host-testable without board
// support.
const idlePollInterval = 5 * time.Millisecond

type queue struct {
	mu    sync.Mutex
	tasks []*task.Task
	wake  chan struct{}
}

func newQueue() *queue { return &queue{wake: make(chan struct{}, 1)} }

func (q *queue) pushBack(t *task.Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *queue) popFront() (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return t, true
}

func (q *queue) length() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// stealHalf removes up to half of q's queued tasks (rounded down) and
// returns them to a stealer whose own queue ran dry.
func (q *queue) stealHalf() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.tasks) / 2
	if n == 0 {
		return nil
	}
	stolen := append([]*task.Task(nil), q.tasks[:n]...)
	q.tasks = q.tasks[n:]
	return stolen
}

// Scheduler holds one run queue per hart.
type Scheduler struct {
	mu    sync.Mutex
	harts []*queue
	idle  []bool
}

// Global is the process-wide scheduler, constructed during boot once the
// hart count is known (spec §9's initialization order).
var Global = &Scheduler{}

// Init allocates nHarts empty run queues. Called once, before any hart
// calls Run.
func (s *Scheduler) Init(nHarts int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.harts = make([]*queue, nHarts)
	s.idle = make([]bool, nHarts)
	for i := range s.harts {
		s.harts[i] = newQueue()
	}
}

func (s *Scheduler) hartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.harts)
}

// QueueDepths reports the current run-queue length of every hart, for the
// D_PROF device's scheduler snapshot (internal/kprof). Lengths are read
// one queue at a time rather than under a single global lock, so the
// result is a best-effort snapshot like stats.Stats_t.Snapshot, not an
// instant-in-time one.
func (s *Scheduler) QueueDepths() []int {
	n := s.hartCount()
	depths := make([]int, n)
	for i := 0; i < n; i++ {
		depths[i] = s.harts[i].length()
	}
	return depths
}

func (s *Scheduler) setIdle(hart int, v bool) {
	s.mu.Lock()
	s.idle[hart] = v
	s.mu.Unlock()
}

func (s *Scheduler) isIdle(hart int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle[hart]
}

// Enqueue places t on hart's run queue (acquiring the queue's own lock,
// spec §4.7's "cross-hart wake... acquiring the queue's interrupt-
// disabling lock"), sending an IPI if the target hart was idle.
func (s *Scheduler) Enqueue(hart int, t *task.Task) {
	s.harts[hart].pushBack(t)
	if s.isIdle(hart) {
		SendIPI(hart)
	}
}

// Spawn places a brand-new task on the calling hart's own queue, matching
// spawn_user_task's "new tasks start on the spawning hart" placement.
func (s *Scheduler) Spawn(t *task.Task) {
	hart := hal.Current.CurrentHart()
	t.LastHart = hart
	s.Enqueue(hart, t)
}

// Wake re-enqueues t on the hart it was last polled on, the cross-hart
// wake path spec §4.7 describes for a task parked on one hart and woken
// by work on another.
func (s *Scheduler) Wake(t *task.Task) {
	s.Enqueue(t.LastHart, t)
}

// tryStealFor, called when hart's own queue is empty, looks for the
// busiest other hart's queue and, if it holds more than StealThreshold
// entries, steals half of it for hart.
func (s *Scheduler) tryStealFor(hart int) *task.Task {
	n := s.hartCount()
	var victim *queue
	maxLen := 0
	for i := 0; i < n; i++ {
		if i == hart {
			continue
		}
		if l := s.harts[i].length(); l > maxLen {
			maxLen = l
			victim = s.harts[i]
		}
	}
	if victim == nil || maxLen <= StealThreshold {
		return nil
	}
	stolen := victim.stealHalf()
	if len(stolen) == 0 {
		return nil
	}
	for _, t := range stolen[1:] {
		t.LastHart = hart
		s.harts[hart].pushBack(t)
	}
	stolen[0].LastHart = hart
	return stolen[0]
}

// Run is the per-hart scheduling loop (spec §4.7): pop-front on fetch,
// push-back on wake, halt (here: block on the queue's wake channel or an
// idle poll tick) when the queue is empty and nothing can be stolen.
// Run does not return on a real board; stop lets host-side tests shut a
// simulated hart down cleanly.
func (s *Scheduler) Run(hart int, stop <-chan struct{}) {
	q := s.harts[hart]
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		t, ok := q.popFront()
		if !ok {
			t = s.tryStealFor(hart)
			ok = t != nil
		}
		if !ok {
			s.setIdle(hart, true)
			select {
			case <-q.wake:
			case <-ticker.C:
			case <-stop:
				s.setIdle(hart, false)
				return
			}
			s.setIdle(hart, false)
			continue
		}
		s.pollOnce(hart, t)
	}
}

// pollOnce runs one task through trap_return/user_trap_handler, the body
// of run_tasks' loop, and acts on the reported disposition.
func (s *Scheduler) pollOnce(hart int, t *task.Task) {
	t.LastHart = hart
	if TrapReturn != nil {
		TrapReturn(t)
	}
	disp := Continue
	if UserTrapHandler != nil {
		disp = UserTrapHandler(t)
	}
	stats.Sysstats.CtxSwitch()
	switch disp {
	case Exited:
		klog.Debugf("sched: task %d exited on hart %d", t.Tid, hart)
	case Suspended:
		// Parked on an await point; whatever woke it later calls Wake.
	default:
		s.Enqueue(hart, t)
	}
}
