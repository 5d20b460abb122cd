package syscalls

import (
	"github.com/chronix-os/chronix/internal/abi"
	"github.com/chronix-os/chronix/internal/chardev"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/fd"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/task"
	"github.com/chronix-os/chronix/internal/vfs"
	"github.com/chronix-os/chronix/internal/vfs/memfs"
)

// sysRead implements read(2): spec §6's "read/write through the fd
// table's File handle".
func sysRead(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	f, ok := t.Files.Get(int(tf.Arg(0)))
	if !ok {
		return -int64(defs.EBADF), false
	}
	n := int(tf.Arg(2))
	if n < 0 || n > maxIOSize {
		return -int64(defs.EINVAL), false
	}
	tmp := make([]byte, n)
	got, err := f.File.Read(tmp)
	if err != 0 {
		return int64(err), false
	}
	if werr := t.AS().K2User(tf.Arg(1), tmp[:got]); werr != 0 {
		return int64(werr), false
	}
	return int64(got), false
}

// sysWrite implements write(2).
func sysWrite(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	f, ok := t.Files.Get(int(tf.Arg(0)))
	if !ok {
		return -int64(defs.EBADF), false
	}
	n := int(tf.Arg(2))
	if n < 0 || n > maxIOSize {
		return -int64(defs.EINVAL), false
	}
	tmp := make([]byte, n)
	if err := t.AS().User2K(tf.Arg(1), tmp); err != 0 {
		return int64(err), false
	}
	put, err := f.File.Write(tmp)
	if err != 0 {
		return int64(err), false
	}
	return int64(put), false
}

// sysClose implements close(2).
func sysClose(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	return int64(t.Files.Remove(int(tf.Arg(0)))), false
}

// sysOpenat implements openat(2). There is no mounted filesystem tree in
// this kernel (spec §1's VFS scope: an abstract contract, not a concrete
// on-disk format): a path resolves either to one of the two character
// devices internal/chardev names, or to a regular file previously
// installed in internal/vfs/memfs's path registry (the boot image and
// anything an execve'd program opened by its own path); anything else
// reports ENOENT, which is also what a real kernel would return for a
// path with no backing directory entry.
func sysOpenat(t *task.Task, tf *hal.TrapFrame) (int64, bool) {
	path, err := t.AS().Userstr(tf.Arg(1), 4096)
	if err != 0 {
		return int64(err), false
	}
	flags := int(tf.Arg(2))

	if inode, ierr := chardev.LookupPath(string(path)); ierr == 0 {
		fdno := installFd(t, chardev.Open(inode), flags)
		return int64(fdno), false
	}
	if inode, ok := memfs.Files.Lookup(string(path)); ok {
		fdno := installFd(t, memfs.Open(inode), flags)
		return int64(fdno), false
	}
	return -int64(defs.ENOENT), false
}

// installFd wraps an already-open vfs.File into the caller's fd table,
// applying the O_WRONLY/O_RDWR/O_CLOEXEC bits openat's flags word carries.
func installFd(t *task.Task, file vfs.File, flags int) int {
	perms := fd.FD_READ
	switch flags & 0x3 {
	case abi.OWronly:
		perms = fd.FD_WRITE
	case abi.ORdwr:
		perms = fd.FD_READ | fd.FD_WRITE
	}
	if flags&abi.OCloexec != 0 {
		perms |= fd.FD_CLOEXEC
	}
	return t.Files.Install(&fd.Fd_t{File: file, Perms: perms}, 0)
}
