// Package stats accumulates coarse-grained kernel counters exposed through
// the D_STAT device, ported from the teacher's stats/stats.go.
package stats

import "sync/atomic"

// Stats_t is a fixed set of monotonically increasing kernel counters.
// Fields are updated with atomic adds so any hart can bump them without a
// lock.
type Stats_t struct {
	Syscalls    int64
	Faults      int64
	Tlbshoots   int64
	Fork        int64
	Execs       int64
	Signals     int64
	ContextSwch int64
}

// Sysstats is the process-wide counter block.
var Sysstats Stats_t

// incr atomically increments the counter p points at by one.
func (s *Stats_t) incr(p *int64) {
	atomic.AddInt64(p, 1)
}

func (s *Stats_t) Syscall()    { s.incr(&s.Syscalls) }
func (s *Stats_t) Fault()      { s.incr(&s.Faults) }
func (s *Stats_t) Tlbshoot()   { s.incr(&s.Tlbshoots) }
func (s *Stats_t) ForkEvt()    { s.incr(&s.Fork) }
func (s *Stats_t) ExecEvt()    { s.incr(&s.Execs) }
func (s *Stats_t) SignalEvt()  { s.incr(&s.Signals) }
func (s *Stats_t) CtxSwitch()  { s.incr(&s.ContextSwch) }

// Snapshot returns a consistent-enough copy for reporting; counters may be
// incremented concurrently, so this is a "best effort" snapshot like the
// teacher's, not a locked one.
func (s *Stats_t) Snapshot() Stats_t {
	return Stats_t{
		Syscalls:    atomic.LoadInt64(&s.Syscalls),
		Faults:      atomic.LoadInt64(&s.Faults),
		Tlbshoots:   atomic.LoadInt64(&s.Tlbshoots),
		Fork:        atomic.LoadInt64(&s.Fork),
		Execs:       atomic.LoadInt64(&s.Execs),
		Signals:     atomic.LoadInt64(&s.Signals),
		ContextSwch: atomic.LoadInt64(&s.ContextSwch),
	}
}
