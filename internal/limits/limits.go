// Package limits tracks system-wide resource limits (open vnodes, futexes,
// sockets, cached block pages, ...), ported from the teacher's
// limits/limits.go.
package limits

import "golang.org/x/sync/semaphore"

// Syslimit_t tracks system-wide resource limits.
type Syslimit_t struct {
	// Sysprocs bounds the number of live tasks system-wide.
	Sysprocs int
	// Vnodes bounds the number of live VFS inodes.
	Vnodes int
	// Futexes bounds the number of distinct futex wait-queue entries.
	Futexes int
	// Blocks bounds the number of cached block-device pages.
	Blocks int

	Socks  *Sysatomic_t
	Pipes  *Sysatomic_t
	Mfspgs *Sysatomic_t
}

// Sysatomic_t is a numeric limit that can be atomically taken and given
// back. It is backed by golang.org/x/sync/semaphore.Weighted rather than a
// hand-rolled atomic counter: a weighted semaphore already gives the
// take/give-back pair (TryAcquire/Release) this type needs, plus the
// context-aware Acquire the futex and socket-accept paths can use when they
// choose to block on exhaustion instead of failing outright.
type Sysatomic_t struct {
	sem *semaphore.Weighted
	cap int64
}

// NewSysatomic creates a limit with the given capacity.
func NewSysatomic(capacity int) *Sysatomic_t {
	return &Sysatomic_t{sem: semaphore.NewWeighted(int64(capacity)), cap: int64(capacity)}
}

// Taken tries to decrement the limit by n. It returns true on success.
func (s *Sysatomic_t) Taken(n uint) bool {
	return s.sem.TryAcquire(int64(n))
}

// Take decrements the limit by one and reports whether it succeeded.
func (s *Sysatomic_t) Take() bool {
	return s.Taken(1)
}

// Given increases the limit by n (releases n units back to the pool).
func (s *Sysatomic_t) Given(n uint) {
	s.sem.Release(int64(n))
}

// Give increments the limit by one.
func (s *Sysatomic_t) Give() {
	s.Given(1)
}

// MkSysLimit returns the default set of system-wide limits, matching the
// teacher's defaults.
func MkSysLimit() *Syslimit_t {
	return &Syslimit_t{
		Sysprocs: 1e4,
		Futexes:  1024,
		Vnodes:   20000,
		Blocks:   100000,
		Socks:    NewSysatomic(1e5),
		Pipes:    NewSysatomic(1e4),
		Mfspgs:   NewSysatomic(1 << 20),
	}
}

// Syslimit is the process-wide configured set of limits.
var Syslimit = MkSysLimit()
