// Package futex implements the wait/wake primitive spec §4.10 describes.
// The original implementation this kernel was distilled from
// (_examples/original_source/os/src/syscall/futex.rs) never got past an
// ENOSYS stub, so this package is built directly from the spec's prose
// rather than ported: a table keyed by (address-space id, page, page
// offset) holds one FIFO queue of parked waiters per key, backed by
// internal/hashtable the way spec §9's "global mutable state" note asks
// for a tid table to be backed by the same kind of structure.
package futex

import (
	"sync"
	"time"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hashtable"
)

// Key identifies one futex wait queue: the address space it belongs to,
// the virtual page containing the futex word, and the word's offset
// within that page. Two tasks sharing an address space (CLONE_VM) that
// address the same word by the same va collide on the same Key, matching spec
// §4.10's "table keyed by (address-space-id, user-page-of-addr,
// offset-in-page)".
type Key struct {
	ASID    defs.Asid_t
	Page    uint64
	PageOff uint32
}

// MkKey derives a Key from a raw virtual address, rounding down to the
// containing page.
func MkKey(asid defs.Asid_t, addr uint64) Key {
	const pageSize = 4096
	return Key{ASID: asid, Page: addr &^ (pageSize - 1), PageOff: uint32(addr & (pageSize - 1))}
}

type waiter struct {
	wake chan struct{}
	once sync.Once
}

func (w *waiter) signal() bool {
	woke := false
	w.once.Do(func() { close(w.wake); woke = true })
	return woke
}

type queue struct {
	mu      sync.Mutex
	waiters []*waiter
}

// Table is the process-wide futex wait-queue table; one instance is
// created at boot and shared by every task (spec §9's "global mutable
// state" initialization-order note).
type Table struct {
	queues *hashtable.Hashtable_t[Key, *queue]
}

// New creates an empty futex table.
func New() *Table {
	return &Table{
		queues: hashtable.MkHash[Key, *queue](256, hashKey),
	}
}

func hashKey(k Key) uint64 {
	h := uint64(k.ASID)
	h = h*1099511628211 ^ k.Page
	h = h*1099511628211 ^ uint64(k.PageOff)
	return h
}

func (t *Table) queueFor(key Key, create bool) *queue {
	if q, ok := t.queues.Get(key); ok {
		return q
	}
	if !create {
		return nil
	}
	q := &queue{}
	if old, existed := t.queues.Set(key, q); existed {
		return old
	}
	return q
}

// Wait blocks the calling task on key until woken by Wake, the timeout
// elapses, or interrupt becomes ready (the signal-interruption leg of
// spec §4.10's "timeouts compose with signal interruption via select").
// load is called once, under the queue's lock, immediately before
// parking, so the caller can re-check "*addr == expected" atomically with
// respect to a concurrent Wake: if load returns a value other than
// expected the call returns immediately without blocking (spec §4.10).
//
// timeout <= 0 means wait indefinitely (subject only to interrupt).
func (t *Table) Wait(key Key, load func() uint32, expected uint32, timeout time.Duration, interrupt <-chan struct{}) defs.Err_t {
	q := t.queueFor(key, true)
	q.mu.Lock()
	if load() != expected {
		q.mu.Unlock()
		return -defs.EAGAIN
	}
	w := &waiter{wake: make(chan struct{})}
	q.waiters = append(q.waiters, w)
	q.mu.Unlock()

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-w.wake:
			return 0
		case <-timer.C:
			t.removeWaiter(key, w)
			return -defs.ETIMEDOUT
		case <-interrupt:
			t.removeWaiter(key, w)
			return -defs.EINTR
		}
	}

	select {
	case <-w.wake:
		return 0
	case <-interrupt:
		t.removeWaiter(key, w)
		return -defs.EINTR
	}
}

func (t *Table) removeWaiter(key Key, target *waiter) {
	q := t.queueFor(key, false)
	if q == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, w := range q.waiters {
		if w == target {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
}

// Wake wakes up to n waiters parked on key, returning the number actually
// woken (spec §8 seed scenario 4: "exactly one wakes; the other remains
// blocked" for n=1 against two waiters).
func (t *Table) Wake(key Key, n int) int {
	q := t.queueFor(key, false)
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	woken := 0
	for woken < n && len(q.waiters) > 0 {
		w := q.waiters[0]
		q.waiters = q.waiters[1:]
		if w.signal() {
			woken++
		}
	}
	return woken
}
