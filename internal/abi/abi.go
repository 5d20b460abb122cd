// Package abi is the Linux-compatible ABI surface spec §6 names: the
// syscall number table ("per-architecture numbering compatible with
// Linux"), the ELF auxiliary-vector tag numbers the loader must emit, and
// a boot-time self-check that internal/defs's closed Err_t enumeration
// still lines up with golang.org/x/sys/unix's numeric errno values —
// catching a typo in internal/defs before it silently changes what
// userspace libc sees over the trap return path.
package abi

import (
	"fmt"

	"github.com/chronix-os/chronix/internal/defs"
	"golang.org/x/sys/unix"
)

// Number is a syscall number as seen by the trap dispatcher (spec §6).
type Number uint64

// The syscall numbers spec §6 enumerates by name, using the generic
// riscv64/arm64-derived numbering Linux shares across architectures that
// adopted the "generic syscall table" (RISC-V and LoongArch both did).
const (
	SysIoSetup            Number = 0
	SysPpoll              Number = 73
	SysRead               Number = 63
	SysWrite              Number = 64
	SysOpenat             Number = 56
	SysClose              Number = 57
	SysSchedSetaffinity   Number = 122
	SysSchedGetaffinity   Number = 123
	SysReboot             Number = 142
	SysRtSigaction        Number = 134
	SysRtSigprocmask      Number = 135
	SysRtSigreturn        Number = 139
	SysKill               Number = 129
	SysGettimeofday       Number = 169
	SysGetpid             Number = 172
	SysShmget             Number = 194
	SysShmctl             Number = 195
	SysShmat              Number = 196
	SysShmdt              Number = 197
	SysSocket             Number = 198
	SysBind               Number = 200
	SysListen             Number = 201
	SysAccept             Number = 202
	SysConnect            Number = 203
	SysSendto             Number = 206
	SysRecvfrom           Number = 207
	SysExit               Number = 93
	SysExitGroup          Number = 94
	SysWait4              Number = 260
	SysClone              Number = 220
	SysExecve             Number = 221
	SysMmap               Number = 222
	SysMunmap             Number = 215
	SysMremap             Number = 216
	SysBrk                Number = 214
	// SysFutex is not in spec §6's named list but is required by C10's
	// futex primitive to be reachable from user mode at all; 98 is the
	// generic riscv64/arm64 Linux syscall table's assignment, the same
	// table spec §6's other numbers are drawn from.
	SysFutex Number = 98
)

// Names maps the numbers spec §6 calls out by name back to a diagnostic
// string, used by internal/syscalls' dispatcher when it logs a syscall it
// does not implement.
var Names = map[Number]string{
	SysRead: "read", SysWrite: "write", SysOpenat: "openat",
	SysClose: "close", SysClone: "clone", SysExecve: "execve",
	SysWait4: "wait4", SysExit: "exit", SysExitGroup: "exit_group",
	SysBrk: "brk", SysMmap: "mmap", SysMunmap: "munmap",
	SysMremap: "mremap", SysRtSigaction: "rt_sigaction",
	SysRtSigprocmask: "rt_sigprocmask", SysRtSigreturn: "rt_sigreturn",
	SysKill: "kill", SysGettimeofday: "gettimeofday", SysGetpid: "getpid",
	SysSocket: "socket", SysBind: "bind", SysListen: "listen",
	SysAccept: "accept", SysConnect: "connect", SysSendto: "sendto",
	SysRecvfrom: "recvfrom", SysReboot: "reboot", SysPpoll: "ppoll",
	SysSchedSetaffinity: "sched_setaffinity",
	SysSchedGetaffinity: "sched_getaffinity",
	SysShmget:           "shmget", SysShmat: "shmat", SysShmdt: "shmdt",
	SysShmctl: "shmctl", SysFutex: "futex",
}

// clone(2) flag bits (spec §6's Linux-ABI-compatible numbering extends to
// flag words, not just syscall numbers).
const (
	CloneVM            = 0x00000100
	CloneFS            = 0x00000200
	CloneFiles         = 0x00000400
	CloneSighand       = 0x00000800
	CloneThread        = 0x00010000
	CloneSettls        = 0x00080000
	CloneParentSettid  = 0x00100000
	CloneChildCleartid = 0x00200000
	CloneChildSettid   = 0x01000000
)

// mmap(2)/mprotect(2) PROT_* and MAP_* bits.
const (
	ProtRead  = 0x1
	ProtWrite = 0x2
	ProtExec  = 0x4

	MapShared    = 0x01
	MapPrivate   = 0x02
	MapFixed     = 0x10
	MapAnonymous = 0x20
)

// open(2)/openat(2) flag bits (only the subset this kernel's memfs/
// chardev backing stores interpret).
const (
	ORdonly = 0x0
	OWronly = 0x1
	ORdwr   = 0x2
	OCreat  = 0x40
	OCloexec = 0x80000
)

// ELF auxiliary-vector tags (spec §6's "generates an auxv with at least
// AT_PHDR, AT_PHENT, ...").
const (
	AtNull     = 0
	AtPhdr     = 3
	AtPhent    = 4
	AtPhnum    = 5
	AtPagesz   = 6
	AtFlags    = 8
	AtEntry    = 9
	AtUid      = 11
	AtEuid     = 12
	AtGid      = 13
	AtEgid     = 14
	AtPlatform = 15
	AtHwcap    = 16
	AtClktck   = 17
	AtSecure   = 23
	AtRandom   = 25
	AtExecfn   = 31
)

// errnoPairs is the set of (kernel, libc) errno values the boot
// self-check cross-validates. The unix.Errno side comes from
// golang.org/x/sys/unix for the GOOS being built, so the pairs agree with
// this kernel's Linux numbering on Linux; codes not listed here are not
// checked.
var errnoPairs = []struct {
	name string
	k    defs.Err_t
	u    unix.Errno
}{
	{"EPERM", defs.EPERM, unix.EPERM},
	{"ENOENT", defs.ENOENT, unix.ENOENT},
	{"ESRCH", defs.ESRCH, unix.ESRCH},
	{"EINTR", defs.EINTR, unix.EINTR},
	{"EIO", defs.EIO, unix.EIO},
	{"ENXIO", defs.ENXIO, unix.ENXIO},
	{"E2BIG", defs.E2BIG, unix.E2BIG},
	{"ENOEXEC", defs.ENOEXEC, unix.ENOEXEC},
	{"EBADF", defs.EBADF, unix.EBADF},
	{"ECHILD", defs.ECHILD, unix.ECHILD},
	{"EAGAIN", defs.EAGAIN, unix.EAGAIN},
	{"ENOMEM", defs.ENOMEM, unix.ENOMEM},
	{"EACCES", defs.EACCES, unix.EACCES},
	{"EFAULT", defs.EFAULT, unix.EFAULT},
	{"EBUSY", defs.EBUSY, unix.EBUSY},
	{"EEXIST", defs.EEXIST, unix.EEXIST},
	{"EXDEV", defs.EXDEV, unix.EXDEV},
	{"ENODEV", defs.ENODEV, unix.ENODEV},
	{"ENOTDIR", defs.ENOTDIR, unix.ENOTDIR},
	{"EISDIR", defs.EISDIR, unix.EISDIR},
	{"EINVAL", defs.EINVAL, unix.EINVAL},
	{"ENFILE", defs.ENFILE, unix.ENFILE},
	{"EMFILE", defs.EMFILE, unix.EMFILE},
	{"ENOTTY", defs.ENOTTY, unix.ENOTTY},
	{"ETXTBSY", defs.ETXTBSY, unix.ETXTBSY},
	{"EFBIG", defs.EFBIG, unix.EFBIG},
	{"ENOSPC", defs.ENOSPC, unix.ENOSPC},
	{"ESPIPE", defs.ESPIPE, unix.ESPIPE},
	{"EROFS", defs.EROFS, unix.EROFS},
	{"EMLINK", defs.EMLINK, unix.EMLINK},
	{"EPIPE", defs.EPIPE, unix.EPIPE},
	{"EDOM", defs.EDOM, unix.EDOM},
	{"ERANGE", defs.ERANGE, unix.ERANGE},
	{"EDEADLK", defs.EDEADLK, unix.EDEADLK},
	{"ENAMETOOLONG", defs.ENAMETOOLONG, unix.ENAMETOOLONG},
	{"ENOLCK", defs.ENOLCK, unix.ENOLCK},
	{"ENOSYS", defs.ENOSYS, unix.ENOSYS},
	{"ENOTEMPTY", defs.ENOTEMPTY, unix.ENOTEMPTY},
	{"ELOOP", defs.ELOOP, unix.ELOOP},
}

// CheckErrnoTable validates that every entry in errnoPairs agrees with
// golang.org/x/sys/unix's numeric value, returning the first mismatch
// found. internal/kinit calls this once during boot, before any syscall
// can be served, so a drifted internal/defs enumeration fails loudly
// instead of silently returning the wrong errno to userspace.
func CheckErrnoTable() error {
	for _, p := range errnoPairs {
		if int64(p.k) != int64(p.u) {
			return fmt.Errorf("abi: %s kernel value %d disagrees with libc errno %d", p.name, p.k, int64(p.u))
		}
	}
	return nil
}
