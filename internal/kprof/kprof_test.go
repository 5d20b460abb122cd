package kprof_test

import (
	"testing"

	"github.com/google/pprof/profile"
	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/chardev"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/klog"
	_ "github.com/chronix-os/chronix/internal/kprof"
	"github.com/chronix-os/chronix/internal/sched"
	"github.com/chronix-os/chronix/internal/task"
)

func TestChardevResolvesStatAndProfPaths(t *testing.T) {
	inode, err := chardev.LookupPath("/dev/kstat")
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, inode)

	inode, err = chardev.LookupPath("/dev/kprof")
	require.Equal(t, defs.Err_t(0), err)
	require.NotNil(t, inode)
}

func TestChardevResolvesStatAndProfDeviceNumbers(t *testing.T) {
	_, err := chardev.Lookup(defs.Mkdev(defs.D_STAT, 0))
	require.Equal(t, defs.Err_t(0), err)
	_, err = chardev.Lookup(defs.Mkdev(defs.D_PROF, 0))
	require.Equal(t, defs.Err_t(0), err)
}

func TestStatReadContainsCounterLines(t *testing.T) {
	klog.Infof("kprof_test: marker line")

	inode, err := chardev.LookupPath("/dev/kstat")
	require.Equal(t, defs.Err_t(0), err)

	buf := make([]byte, 8192)
	n, rerr := inode.ReadPageAt(buf, 0)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Contains(t, string(buf[:n]), "syscalls ")
	require.Contains(t, string(buf[:n]), "marker line")
}

func TestStatReadPastEndReturnsZero(t *testing.T) {
	inode, err := chardev.LookupPath("/dev/kstat")
	require.Equal(t, defs.Err_t(0), err)

	sz, serr := inode.Size()
	require.Equal(t, defs.Err_t(0), serr)

	buf := make([]byte, 16)
	n, rerr := inode.ReadPageAt(buf, sz+1000)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, 0, n)
}

func TestProfReadProducesValidProfile(t *testing.T) {
	tk := &task.Task{Tid: 42, Pid: 42}
	tk.Accnt.Userns = 1_000_000
	tk.Accnt.Sysns = 250_000
	task.Global.AddTask(tk)
	defer task.Global.RemoveTask(tk.Tid)

	sched.Global.Init(2)

	inode, err := chardev.LookupPath("/dev/kprof")
	require.Equal(t, defs.Err_t(0), err)

	sz, serr := inode.Size()
	require.Equal(t, defs.Err_t(0), serr)
	require.Greater(t, sz, 0)

	buf := make([]byte, sz)
	n, rerr := inode.ReadPageAt(buf, 0)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, sz, n)

	p, perr := profile.ParseData(buf[:n])
	require.NoError(t, perr)
	require.NotEmpty(t, p.Sample)

	var sawTid42, sawHart bool
	for _, s := range p.Sample {
		if tids, ok := s.Label["tid"]; ok && len(tids) == 1 && tids[0] == "42" {
			sawTid42 = true
			require.Equal(t, int64(1_000_000), s.Value[0])
			require.Equal(t, int64(250_000), s.Value[1])
		}
		if _, ok := s.NumLabel["runqueue_depth"]; ok {
			sawHart = true
		}
	}
	require.True(t, sawTid42)
	require.True(t, sawHart)
}
