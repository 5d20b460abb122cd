package syscalls

import (
	"time"

	"github.com/chronix-os/chronix/internal/abi"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/sched"
	"github.com/chronix-os/chronix/internal/task"
)

// sysClone implements clone(2) (spec §4.6): decode the Linux flag word,
// ask internal/task to build the child control block, then hand it to
// internal/sched so it is actually runnable.
func sysClone(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	rawFlags := tf.Arg(0)
	newStack := tf.Arg(1)
	parentTidVA := tf.Arg(2)
	childTidVA := tf.Arg(3)
	tlsVal := tf.Arg(4)

	flags := task.CloneFlags{
		ShareVM:             rawFlags&abi.CloneVM != 0,
		ShareFS:             rawFlags&abi.CloneFS != 0,
		ShareFiles:          rawFlags&abi.CloneFiles != 0,
		ShareSignalHandlers: rawFlags&abi.CloneSighand != 0,
		ThreadGroup:         rawFlags&abi.CloneThread != 0,
		NewStack:            newStack,
		SetTLS:              tlsVal,
		ParentTidAddr:       parentTidVA,
		ChildTidAddr:        childTidVA,
	}

	child, err := t.Clone(flags)
	if err != 0 {
		return int64(err), false
	}
	if rawFlags&abi.CloneParentSettid != 0 && parentTidVA != 0 {
		t.AS().Userwriten(parentTidVA, 4, int(child.Tid))
	}
	if rawFlags&abi.CloneChildSettid != 0 && childTidVA != 0 {
		child.AS().Userwriten(childTidVA, 4, int(child.Tid))
	}
	sched.Global.Spawn(child)
	return int64(child.Tid), false
}

// sysExecve implements execve(2), deferring the actual image load to
// ExecLoader (installed by internal/elfload's init()); the syscall
// reports ENOSYS when no loader is installed.
func sysExecve(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	if ExecLoader == nil {
		return -int64(defs.ENOSYS), false
	}
	path, err := t.AS().Userstr(tf.Arg(0), 4096)
	if err != 0 {
		return int64(err), false
	}
	argv, err := readStringVector(t, tf.Arg(1))
	if err != 0 {
		return int64(err), false
	}
	envp, err := readStringVector(t, tf.Arg(2))
	if err != 0 {
		return int64(err), false
	}
	if lerr := ExecLoader(t, string(path), argv, envp); lerr != 0 {
		return int64(lerr), false
	}
	return 0, false
}

// readStringVector reads a null-terminated array of user pointers to
// null-terminated strings, the argv/envp convention execve's ABI uses.
func readStringVector(t *task.Task, va uint64) ([]string, defs.Err_t) {
	if va == 0 {
		return nil, 0
	}
	var out []string
	for i := 0; ; i++ {
		ptr, err := t.AS().Userreadn(va+uint64(i)*8, 8)
		if err != 0 {
			return nil, err
		}
		if ptr == 0 {
			break
		}
		s, err := t.AS().Userstr(uint64(ptr), 4096)
		if err != 0 {
			return nil, err
		}
		out = append(out, string(s))
	}
	return out, 0
}

// wakeFutexOn wakes one waiter parked on addr within t's address space,
// the ClearChildTid/clone-exit notification path spec §4.6 and futex(2)
// share.
func wakeFutexOn(t *task.Task) func(addr uint64) {
	return func(addr uint64) {
		if Futex == nil {
			return
		}
		Futex.Wake(futexKey(t, addr), 1)
	}
}

// sysExit implements exit(2)/exit_group(2): group selects whether the
// whole thread group zombifies (exit_group) or just the calling thread
// (exit) (spec §4.6).
func sysExit(t *task.Task, tf *hal.TrapFrame, group bool) (int64, bool) {
	code := int(int32(tf.Arg(0)))
	wake := wakeFutexOn(t)
	if group {
		t.Group.ForEach(func(m *task.Task) { m.Exit(code, wakeFutexOn(m)) })
	} else {
		t.Exit(code, wake)
	}
	return 0, true
}

// sysWait4 implements wait4(2) (spec §4.6): poll t.Wait until a matching
// zombie child appears or WNOHANG says not to block, parking on the
// task's own wait-notification channel between polls. This blocks the
// calling hart's own goroutine for as long as no child has exited — an
// acceptable simplification for a host-testable, small-hart-count
// scheduler (the same trade-off internal/sched's idle-poll loop makes).
func sysWait4(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	pid := defs.Pid_t(int32(tf.Arg(0)))
	statusVA := tf.Arg(1)
	options := int(tf.Arg(2))

	for {
		res, err := t.Wait(pid, options)
		switch err {
		case 0:
			if res.Pid == 0 {
				return 0, false // WNOHANG, nothing ready yet
			}
			if statusVA != 0 {
				t.AS().Userwriten(statusVA, 4, res.Status<<8)
			}
			return int64(res.Pid), false
		case -defs.EAGAIN:
			<-t.WaitChannel()
		default:
			return int64(err), false
		}
	}
}

// sysGettimeofday implements gettimeofday(2) (spec §6).
func sysGettimeofday(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	va := tf.Arg(0)
	if va == 0 {
		return 0, false
	}
	now := time.Now()
	buf := make([]byte, 16)
	putU64LE(buf[0:8], uint64(now.Unix()))
	putU64LE(buf[8:16], uint64(now.Nanosecond()/1000))
	if err := t.AS().K2User(va, buf); err != 0 {
		return int64(err), false
	}
	return 0, false
}

func putU64LE(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
