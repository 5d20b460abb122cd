// Package reslimit tracks kernel heap headroom consumed by long-running
// copy loops (user<->kernel memory transfers, futex waits) so that a
// single oversized syscall cannot starve the rest of the kernel of heap.
// It is the non-blocking half of spec §4.1's "never panics on legal
// calls" contract: callers that cannot get a reservation fail the syscall
// with ENOHEAP rather than allocating unboundedly. Ported from the
// teacher's "res" package, whose go.mod is present in the retrieval pack
// but whose body is not; rebuilt from the Resadd_noblock call sites kept
// in vm/as.go and vm/userbuf.go.
package reslimit

import (
	"sync/atomic"

	"github.com/chronix-os/chronix/internal/bounds"
)

// headroom is the number of heap "grants" available to bounded copy loops.
// Each grant is nominally one page; it is refilled by the frame allocator
// as memory pressure subsides (internal/mem calls Refill on reclaim).
var headroom int64

// Init sets the starting headroom budget. Called once during boot after
// the physical frame allocator reports how much RAM it manages.
func Init(pages int64) {
	atomic.StoreInt64(&headroom, pages)
}

// Resadd_noblock attempts to reserve one grant of heap headroom for the
// named bounded loop without blocking. It returns false when the budget is
// exhausted; callers must stop looping and surface ENOHEAP (converted to
// ENOMEM at the syscall boundary) rather than retry.
func Resadd_noblock(who bounds.Bound) bool {
	for {
		cur := atomic.LoadInt64(&headroom)
		if cur <= 0 {
			return false
		}
		if atomic.CompareAndSwapInt64(&headroom, cur, cur-1) {
			return true
		}
	}
}

// Refill returns n grants to the pool, called when the frame allocator
// frees pages back to the system.
func Refill(n int64) {
	atomic.AddInt64(&headroom, n)
}

// Headroom reports the current budget, for the D_STAT debug device.
func Headroom() int64 {
	return atomic.LoadInt64(&headroom)
}
