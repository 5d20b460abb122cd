// Package ksync implements the interrupt-disciplined locking primitives
// spec §4.10/§5 describe: a mutex that disables interrupts for the
// lifetime of its guard and panics on self-reentry, plus a reader-writer
// variant with the same discipline. Neither has a teacher source file
// (the retrieval pack's ksync directory ships only a go.mod); both are
// built directly from spec §4.10's prose and internal/hal's IRQSave/
// IRQRestore pair, which internal/mem already uses the same way for its
// own process-wide singletons.
package ksync

import (
	"sync/atomic"

	"github.com/chronix-os/chronix/internal/hal"
)

// spinLimit is the deadlock-detection heuristic spec §4.10 calls for: a
// CAS spin count past which acquisition aborts rather than hanging the
// hart forever on a genuinely stuck lock.
const spinLimit = 100_000_000

// noHart is the sentinel owner value meaning "unheld".
const noHart = -1

// IRQMutex is a mutual-exclusion lock acquired by compare-and-swap on an
// owner field holding the acquiring hart id (spec §4.10). Acquisition
// disables interrupts on the current hart for the lifetime of the guard;
// release restores whatever interrupt-enable state was observed at
// acquisition. Self-reentry from the same hart panics rather than
// deadlocking silently.
type IRQMutex struct {
	owner int64
}

// NewIRQMutex returns an unheld IRQMutex.
func NewIRQMutex() *IRQMutex {
	return &IRQMutex{owner: noHart}
}

// Lock disables interrupts and spins until the owner CAS succeeds.
func (m *IRQMutex) Lock() uintptr {
	flags := hal.IRQSave()
	hart := int64(hal.Current.CurrentHart())
	if atomic.LoadInt64(&m.owner) == hart {
		panic("ksync: IRQMutex self-reentry")
	}
	spins := 0
	for !atomic.CompareAndSwapInt64(&m.owner, noHart, hart) {
		spins++
		if spins > spinLimit {
			panic("ksync: IRQMutex suspected deadlock")
		}
	}
	return flags
}

// Unlock releases the mutex and restores the interrupt-enable state
// observed by the matching Lock call (its return value, flags).
func (m *IRQMutex) Unlock(flags uintptr) {
	hart := int64(hal.Current.CurrentHart())
	if !atomic.CompareAndSwapInt64(&m.owner, hart, noHart) {
		panic("ksync: IRQMutex unlock by non-owner")
	}
	hal.IRQRestore(flags)
}

// writerBit marks IRQRWMutex.state as writer-held; state packs it with the
// reader count into one word so both can be adjusted atomically without a
// separate lock guarding the lock.
const writerBit = int64(1) << 62

// IRQRWMutex is a reader-writer lock with IRQMutex's interrupt discipline:
// acquiring either a read or write guard disables interrupts on the
// current hart until the matching unlock.
type IRQRWMutex struct {
	state      int64 // low bits: reader count; writerBit: writer held
	writerHart int64
}

// NewIRQRWMutex returns an unheld IRQRWMutex.
func NewIRQRWMutex() *IRQRWMutex {
	return &IRQRWMutex{writerHart: noHart}
}

// RLock acquires a shared read guard.
func (m *IRQRWMutex) RLock() uintptr {
	flags := hal.IRQSave()
	spins := 0
	for {
		s := atomic.LoadInt64(&m.state)
		if s&writerBit == 0 {
			if atomic.CompareAndSwapInt64(&m.state, s, s+1) {
				return flags
			}
		}
		spins++
		if spins > spinLimit {
			panic("ksync: IRQRWMutex suspected deadlock (read)")
		}
	}
}

// RUnlock releases a shared read guard.
func (m *IRQRWMutex) RUnlock(flags uintptr) {
	atomic.AddInt64(&m.state, -1)
	hal.IRQRestore(flags)
}

// Lock acquires the exclusive write guard.
func (m *IRQRWMutex) Lock() uintptr {
	flags := hal.IRQSave()
	hart := int64(hal.Current.CurrentHart())
	if atomic.LoadInt64(&m.writerHart) == hart {
		panic("ksync: IRQRWMutex self-reentry")
	}
	spins := 0
	for !atomic.CompareAndSwapInt64(&m.state, 0, writerBit) {
		spins++
		if spins > spinLimit {
			panic("ksync: IRQRWMutex suspected deadlock (write)")
		}
	}
	atomic.StoreInt64(&m.writerHart, hart)
	return flags
}

// Unlock releases the exclusive write guard.
func (m *IRQRWMutex) Unlock(flags uintptr) {
	atomic.StoreInt64(&m.writerHart, noHart)
	if !atomic.CompareAndSwapInt64(&m.state, writerBit, 0) {
		panic("ksync: IRQRWMutex unlock while not write-held")
	}
	hal.IRQRestore(flags)
}
