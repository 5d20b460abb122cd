// Group and the global task/process-group registries, grounded on
// _examples/original_source/os/src/task/manager.rs's TaskManager (a
// mutex-protected map from tid to task, with add/remove/get/
// get_init_proc/tasks_group/for_each_task) and ProcessGroupManager (a
// mutex-protected map from pgid to the group's member list).
package task

import (
	"sync"

	"github.com/chronix-os/chronix/internal/defs"
)

// Group is a thread group: the set of tasks sharing one pid (spec §3,
// §4.6's "leaders own the address space, followers share it"). The leader
// owns its followers through Members; each follower's back-reference to
// the leader is carried on the Task itself via the weak parent handle
// where applicable, avoiding the Rust original's explicit Weak<TCB> field.
type Group struct {
	mu      sync.Mutex
	Leader  *Task
	Members map[defs.Tid_t]*Task
}

// NewGroup creates a thread group led by leader.
func NewGroup(leader *Task) *Group {
	return &Group{Leader: leader, Members: map[defs.Tid_t]*Task{leader.Tid: leader}}
}

// AddMember adds t as a follower of the group.
func (g *Group) AddMember(t *Task) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Members[t.Tid] = t
}

// RemoveMember removes tid from the group.
func (g *Group) RemoveMember(tid defs.Tid_t) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.Members, tid)
}

// ForEach calls f for every member, taking a snapshot under the lock first
// so f may itself block or re-enter the group without deadlocking (spec
// §5's "task lists... iteration takes a snapshot via the lock, releases,
// then processes").
func (g *Group) ForEach(f func(*Task)) {
	g.mu.Lock()
	snap := make([]*Task, 0, len(g.Members))
	for _, t := range g.Members {
		snap = append(snap, t)
	}
	g.mu.Unlock()
	for _, t := range snap {
		f(t)
	}
}

// Len reports the current member count.
func (g *Group) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.Members)
}

// Manager is the global tid table (spec §5's "global tid/pid tables: an
// interrupt-disciplined map keyed by id"), grounded on manager.rs's
// TaskManager.
type Manager struct {
	mu       sync.Mutex
	tasks    map[defs.Tid_t]*Task
	initProc *Task
	nextTid  defs.Tid_t
}

// Global is the process-wide task manager singleton, constructed during
// boot (spec §9's initialization order).
var Global = &Manager{tasks: make(map[defs.Tid_t]*Task), nextTid: defs.MinTid}

// AllocTid reserves and returns the next thread id.
func (m *Manager) AllocTid() defs.Tid_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	tid := m.nextTid
	m.nextTid++
	return tid
}

// AddTask registers t, recording it as the init process if it is the
// first task added (tid == defs.MinTid).
func (m *Manager) AddTask(t *Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[t.Tid] = t
	if t.Tid == defs.MinTid {
		m.initProc = t
	}
}

// RemoveTask drops t from the registry, called once it has been reaped by
// its parent's wait call.
func (m *Manager) RemoveTask(tid defs.Tid_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tasks, tid)
}

// GetTask looks up a task by tid.
func (m *Manager) GetTask(tid defs.Tid_t) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[tid]
	return t, ok
}

// GetInitProc returns the tid-1 init task, the re-parenting target for
// orphaned children (spec §4.6's exit semantics).
func (m *Manager) GetInitProc() *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initProc
}

// ForEachTask calls f for every live task, snapshotting first (spec §5).
func (m *Manager) ForEachTask(f func(*Task)) {
	m.mu.Lock()
	snap := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		snap = append(snap, t)
	}
	m.mu.Unlock()
	for _, t := range snap {
		f(t)
	}
}

// ProcessGroupManager is the global pgid -> member-list table (spec §4.6's
// pgid field; wait(pid=0) resolves "same process group" through this).
type ProcessGroupManager struct {
	mu     sync.Mutex
	groups map[defs.Pgid_t][]*Task
}

// GlobalPgroups is the process-wide process-group registry.
var GlobalPgroups = &ProcessGroupManager{groups: make(map[defs.Pgid_t][]*Task)}

// AddGroup creates an empty group if pgid is not already registered.
func (pm *ProcessGroupManager) AddGroup(pgid defs.Pgid_t) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	if _, ok := pm.groups[pgid]; !ok {
		pm.groups[pgid] = nil
	}
}

// AddTaskToGroup appends t to pgid's member list.
func (pm *ProcessGroupManager) AddTaskToGroup(pgid defs.Pgid_t, t *Task) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.groups[pgid] = append(pm.groups[pgid], t)
}

// GetGroup returns a snapshot of pgid's member list.
func (pm *ProcessGroupManager) GetGroup(pgid defs.Pgid_t) []*Task {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	out := make([]*Task, len(pm.groups[pgid]))
	copy(out, pm.groups[pgid])
	return out
}

// RemoveTaskFromGroup drops t from pgid's member list.
func (pm *ProcessGroupManager) RemoveTaskFromGroup(pgid defs.Pgid_t, t *Task) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	members := pm.groups[pgid]
	for i, m := range members {
		if m == t {
			pm.groups[pgid] = append(members[:i], members[i+1:]...)
			return
		}
	}
}
