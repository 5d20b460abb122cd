// Package bounds names the call sites that may retain kernel heap pressure
// across a blocking loop, so internal/reslimit can attribute a refusal to
// a specific loop instead of just "out of memory". Ported from the
// teacher's bounds package, whose body the retrieval pack does not ship
// (only its go.mod), and rebuilt from the call sites in vm/as.go and
// vm/userbuf.go that reference it.
package bounds

// Bound identifies a loop that consumes a bounded, attributable amount of
// kernel heap per iteration while copying to or from user memory.
type Bound int

const (
	B_ASPACE_T_K2USER_INNER Bound = iota
	B_ASPACE_T_USER2K_INNER
	B_USERBUF_T__TX
	B_USERIOVEC_T_IOV_INIT
	B_USERIOVEC_T__TX
	B_VM_HANDLE_PAGE_FAULT
	B_FUTEX_WAIT
	_boundCount
)

var names = [...]string{
	B_ASPACE_T_K2USER_INNER: "Vm_t.K2user_inner",
	B_ASPACE_T_USER2K_INNER: "Vm_t.User2k_inner",
	B_USERBUF_T__TX:         "Userbuf_t._tx",
	B_USERIOVEC_T_IOV_INIT:  "Useriovec_t.Iov_init",
	B_USERIOVEC_T__TX:       "Useriovec_t._tx",
	B_VM_HANDLE_PAGE_FAULT:  "AddressSpace.HandlePageFault",
	B_FUTEX_WAIT:            "futex.Wait",
}

// String returns the call-site name for diagnostics.
func (b Bound) String() string {
	if int(b) < 0 || int(b) >= len(names) {
		return "unknown bound"
	}
	return names[b]
}
