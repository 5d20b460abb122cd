package defs

// Tid_t identifies a single thread (task). The thread-group leader's Tid_t
// doubles as the process id, per spec §3's thread-group invariant.
type Tid_t int

// Pid_t identifies a process (a thread-group leader's Tid_t).
type Pid_t int

// Pgid_t identifies a process group.
type Pgid_t int

// Asid_t identifies an address space, used as part of the futex wait-queue
// key (asid, page, pageoff) described in spec §4.10.
type Asid_t uint64

// Signo_t is a signal number in [1, 64].
type Signo_t uint

const (
	// MinTid is the first thread id ever allocated. The initial task
	// built by loading the init ELF gets this id, making it both tid 1
	// and pid 1 (spec §4.6).
	MinTid  Tid_t = 1
	InitPid Pid_t = 1
)
