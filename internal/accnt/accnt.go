// Package accnt accumulates per-task CPU-time accounting, ported from the
// teacher's accnt/accnt.go.
package accnt

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/chronix-os/chronix/internal/util"
)

// Accnt_t accumulates per-task user/system time in nanoseconds. The
// embedded mutex lets Fetch/Add take a consistent snapshot.
type Accnt_t struct {
	Userns int64
	Sysns  int64
	sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta int64) {
	atomic.AddInt64(&a.Userns, delta)
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta int64) {
	atomic.AddInt64(&a.Sysns, delta)
}

// Now returns the current time in nanoseconds since the epoch.
func (a *Accnt_t) Now() int64 {
	return time.Now().UnixNano()
}

// Io_time removes time spent waiting for I/O from system time.
func (a *Accnt_t) Io_time(since int64) {
	a.Systadd(-(a.Now() - since))
}

// Sleep_time removes time spent sleeping from system time.
func (a *Accnt_t) Sleep_time(since int64) {
	a.Systadd(-(a.Now() - since))
}

// Finish finalizes accounting by adding time since inttime to system time.
func (a *Accnt_t) Finish(inttime int64) {
	a.Systadd(a.Now() - inttime)
}

// Add merges another accounting record into this one.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.Lock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
	a.Unlock()
}

// Fetch returns a snapshot encoded as an rusage structure.
func (a *Accnt_t) Fetch() []uint8 {
	a.Lock()
	defer a.Unlock()
	return a.To_rusage()
}

// To_rusage converts the accounting data into a byte slice formatted as
// struct rusage's ru_utime/ru_stime timeval pair.
func (a *Accnt_t) To_rusage() []uint8 {
	const words = 4
	ret := make([]uint8, words*8)
	totv := func(nano int64) (int, int) {
		secs := int(nano / 1e9)
		usecs := int((nano % 1e9) / 1000)
		return secs, usecs
	}
	off := 0
	write := func(nano int64) {
		s, us := totv(nano)
		util.Writen(ret, 8, off, s)
		off += 8
		util.Writen(ret, 8, off, us)
		off += 8
	}
	write(a.Userns)
	write(a.Sysns)
	return ret
}
