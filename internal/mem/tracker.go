package mem

// FrameTracker is the RAII owner of a PageRange (spec §4.1). Go has no
// destructors, so callers must explicitly call Free (return the range to
// the allocator) or Leak (detach the range without freeing it, used when
// the frame's lifetime transfers to hardware — e.g. installing it as a
// page-table root). A FrameTracker that is dropped without either call is
// a leaked physical frame; callers that embed one in a longer-lived struct
// should Free it from that struct's own teardown path.
type FrameTracker struct {
	owner *Allocator
	rng   PageRange
	freed bool
}

// Range returns the frame range this tracker owns.
func (t *FrameTracker) Range() PageRange { return t.rng }

// Base is a convenience accessor for Range().Base.
func (t *FrameTracker) Base() PhysAddr { return t.rng.Base }

// Free returns the range to the allocator it came from. Calling Free twice,
// or calling it after Leak, panics: that is a double-free, an invariant
// violation rather than a recoverable error (spec §7 reserves panics for
// exactly this class of bug).
func (t *FrameTracker) Free() {
	if t.freed {
		panic("mem: double free of FrameTracker")
	}
	t.freed = true
	t.owner.dealloc(t.rng)
}

// Leak detaches the range from this tracker without freeing it and returns
// it to the caller, who now owns its lifetime directly (e.g. to install it
// as a page-table root via hal.Arch.InstallRoot). Leaking twice panics for
// the same reason double-freeing does.
func (t *FrameTracker) Leak() PageRange {
	if t.freed {
		panic("mem: Leak of already-freed FrameTracker")
	}
	t.freed = true
	return t.rng
}
