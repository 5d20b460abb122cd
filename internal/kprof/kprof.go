// Package kprof implements the D_STAT and D_PROF character devices
// (internal/defs/device.go): two read-only files generated on demand
// rather than backed by any real storage. D_STAT renders
// internal/stats.Sysstats plus the recent internal/klog ring-buffer
// history as plain text, the same counters and log biscuit would have
// dumped via a debug syscall; D_PROF instead serializes a profile.proto
// snapshot (github.com/google/pprof's profile package) of per-task CPU
// accounting and per-hart scheduler run-queue depth, so an operator can
// pull it through the standard `pprof` tool for offline analysis instead
// of parsing ad hoc text.
package kprof

import (
	"bytes"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"

	"github.com/chronix-os/chronix/internal/chardev"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/klog"
	"github.com/chronix-os/chronix/internal/sched"
	"github.com/chronix-os/chronix/internal/stat"
	"github.com/chronix-os/chronix/internal/stats"
	"github.com/chronix-os/chronix/internal/task"
	"github.com/chronix-os/chronix/internal/vfs"
)

func init() {
	chardev.ExtraLookupPath = lookupPath
	chardev.ExtraLookup = lookup
}

// lookupPath and lookup extend internal/chardev's device table with the
// two paths/numbers this package owns, installed via its deferred-hook
// extension point so chardev never imports kprof.
func lookupPath(path string) (vfs.Inode, defs.Err_t) {
	switch path {
	case "/dev/kstat":
		return Stat{}, 0
	case "/dev/kprof":
		return Prof{}, 0
	default:
		return nil, -defs.ENOENT
	}
}

func lookup(dev uint64) (vfs.Inode, defs.Err_t) {
	maj, _ := defs.Unmkdev(dev)
	switch maj {
	case defs.D_STAT:
		return Stat{}, 0
	case defs.D_PROF:
		return Prof{}, 0
	default:
		return nil, -defs.ENODEV
	}
}

// Stat backs /dev/kstat (D_STAT): plain-text counters and recent log
// history, regenerated on every read since there is nothing to cache a
// diff against.
type Stat struct{}

func (Stat) ReadPageAt(dst []uint8, off int) (int, defs.Err_t) {
	return readPageFrom(renderStat(), dst, off), 0
}
func (Stat) WritePageAt(src []uint8, off int) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (Stat) Getattr(st *stat.Stat_t) defs.Err_t {
	st.Wmode(stat.IFCHR | 0444)
	st.Wrdev(defs.Mkdev(defs.D_STAT, 0))
	return 0
}
func (Stat) Size() (int, defs.Err_t) { return len(renderStat()), 0 }

func renderStat() []byte {
	s := stats.Sysstats.Snapshot()
	var b bytes.Buffer
	fmt.Fprintf(&b, "syscalls %d\nfaults %d\ntlbshoots %d\nfork %d\nexecs %d\nsignals %d\nctxsw %d\n",
		s.Syscalls, s.Faults, s.Tlbshoots, s.Fork, s.Execs, s.Signals, s.ContextSwch)
	for hart, depth := range sched.Global.QueueDepths() {
		fmt.Fprintf(&b, "runqueue[%d] %d\n", hart, depth)
	}
	b.Write(klog.Dump())
	return b.Bytes()
}

// Prof backs /dev/kprof (D_PROF): a gzip-compressed profile.proto
// snapshot, one sample per live task (user/system nanoseconds from
// accnt.Accnt_t) plus one zero-valued sample per hart carrying its
// current run-queue depth as a numeric label, since profile.proto has no
// native "gauge" sample shape to hang that on directly.
type Prof struct{}

func (Prof) ReadPageAt(dst []uint8, off int) (int, defs.Err_t) {
	data, err := renderProfile()
	if err != 0 {
		return 0, err
	}
	return readPageFrom(data, dst, off), 0
}
func (Prof) WritePageAt(src []uint8, off int) (int, defs.Err_t) { return 0, -defs.EINVAL }
func (Prof) Getattr(st *stat.Stat_t) defs.Err_t {
	st.Wmode(stat.IFCHR | 0444)
	st.Wrdev(defs.Mkdev(defs.D_PROF, 0))
	return 0
}
func (Prof) Size() (int, defs.Err_t) {
	data, err := renderProfile()
	if err != 0 {
		return 0, err
	}
	return len(data), 0
}

func renderProfile() ([]byte, defs.Err_t) {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "cpu_user", Unit: "nanoseconds"},
			{Type: "cpu_system", Unit: "nanoseconds"},
		},
		PeriodType: &profile.ValueType{Type: "cpu", Unit: "nanoseconds"},
		Period:     1,
		TimeNanos:  time.Now().UnixNano(),
	}
	fn := &profile.Function{ID: 1, Name: "task"}
	p.Function = append(p.Function, fn)
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Location = append(p.Location, loc)

	var tasks []*task.Task
	task.Global.ForEachTask(func(t *task.Task) { tasks = append(tasks, t) })
	for _, t := range tasks {
		userns := atomic.LoadInt64(&t.Accnt.Userns)
		sysns := atomic.LoadInt64(&t.Accnt.Sysns)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{userns, sysns},
			Label:    map[string][]string{"tid": {fmt.Sprintf("%d", t.Tid)}},
		})
	}
	for hart, depth := range sched.Global.QueueDepths() {
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{0, 0},
			Label:    map[string][]string{"hart": {fmt.Sprintf("%d", hart)}},
			NumLabel: map[string][]int64{"runqueue_depth": {int64(depth)}},
		})
	}

	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		klog.Warnf("kprof: encoding profile: %v", err)
		return nil, -defs.EIO
	}
	return buf.Bytes(), 0
}

// readPageFrom copies data[off:] into dst, matching ReadPageAt's
// zero-fill-past-EOF contract (internal/vfs.Inode's doc comment).
func readPageFrom(data []byte, dst []uint8, off int) int {
	if off < 0 || off >= len(data) {
		return 0
	}
	return copy(dst, data[off:])
}
