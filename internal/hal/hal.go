// Package hal is the hardware-abstraction boundary between the
// architecture-neutral core (internal/mem, internal/pagetable,
// internal/vm, internal/trap) and the two supported boards, RISC-V Sv39
// and LoongArch LA64 (spec §1, §9's "abstract chain {Lowest..Highest}"
// open question). Each architecture provides a build-tag-selected
// implementation of Arch; exactly one is linked into any given kernel
// image.
package hal

// PTEPerm is the permission/attribute bitset carried by a page-table
// entry, expressed in an architecture-neutral form. Concrete Arch
// implementations translate to and from their native encoding.
type PTEPerm uint

const (
	PermValid PTEPerm = 1 << iota
	PermRead
	PermWrite
	PermExec
	PermUser
	// PermCOW is the soft "writable-intent present but hardware write
	// bit cleared" sentinel from spec §3's PTE invariant.
	PermCOW
	PermDirty
	PermAccessed
	PermGlobal
	// PermHuge marks a leaf mapping at a level above Lowest.
	PermHuge
)

// Level identifies a depth in the page-table tree; Lowest (0) is the
// smallest page, increasing levels cover larger aligned chunks, matching
// spec §9's architecture-neutral level chain.
type Level int

// PTE is an architecture-neutral view of one page-table entry: a physical
// page number and a permission set. Concrete Arch implementations pack/
// unpack this to their native word width and bit layout.
type PTE struct {
	PPN   uint64
	Perm  PTEPerm
	Level Level
}

// Present reports whether the entry is a valid, populated leaf or
// interior pointer.
func (p PTE) Present() bool { return p.Perm&PermValid != 0 }

// Arch is the architecture-specific page-table and TLB contract that
// internal/pagetable and internal/vm are generic over (spec §4.2). Exactly
// one implementation (riscv64 or loongarch64) is compiled in, selected by
// Go build tags on the two hal_*.go files.
type Arch interface {
	// Name identifies the architecture for diagnostics ("riscv64-sv39",
	// "loongarch64-la64").
	Name() string

	// Levels returns the number of page-table levels, highest first.
	// Sv39 has three; LA64 has three or four depending on board.
	Levels() int

	// FanOut returns the number of entries per table at the given level;
	// 512 on both supported architectures but kept architecture-owned
	// per spec §9.
	FanOut(lvl Level) int

	// PageCount returns the number of Lowest-level pages one entry at
	// lvl covers (1 at Lowest, FanOut(Lowest-1)*... above it).
	PageCount(lvl Level) uint64

	// HugeOK reports whether a leaf mapping is legal at lvl (requires
	// the covered range be naturally aligned, spec §4.2).
	HugeOK(lvl Level) bool

	// EncodePTE packs an architecture-neutral PTE into the machine word
	// stored in a page-table slot.
	EncodePTE(p PTE) uint64

	// DecodePTE unpacks a machine word read from a page-table slot.
	DecodePTE(word uint64, lvl Level) PTE

	// Index returns the table index at lvl for virtual address va.
	Index(va uint64, lvl Level) int

	// FlushAddr invalidates the TLB entry for va on the current hart.
	FlushAddr(va uint64)

	// FlushAll invalidates every TLB entry on the current hart (used
	// when installing a new root per spec §4.2).
	FlushAll()

	// InstallRoot loads root as the current hart's active page-table
	// root. The caller must keep root alive and has already arranged
	// any required TLB flush semantics; see spec §4.2.
	InstallRoot(root uint64)

	// CurrentHart returns a stable small integer identifying the
	// calling hart, used to index per-hart run queues (spec §4.7).
	CurrentHart() int
}

// Current is the architecture implementation linked into this build. It is
// set by the build-tag-selected init() in hal_riscv64.go,
// hal_loongarch64.go, or (on any other GOARCH) hal_sim.go.
var Current Arch

// IRQSave disables interrupts on the current hart and returns the prior
// interrupt-enable state; IRQRestore puts it back. internal/mem's frame
// allocator and other process-wide singletons that are touched from
// interrupt context bracket their critical sections with this pair instead
// of a plain mutex. Installed by the board entry assembly before kinit
// hands control to this package, identically to the Arch-specific
// privileged hooks in hal_riscv64.go/hal_loongarch64.go; the sim build
// below installs a non-privileged stand-in so host tests can run.
var (
	IRQSave    = func() uintptr { panic("hal: IRQSave not installed by boot entry") }
	IRQRestore = func(flags uintptr) { panic("hal: IRQRestore not installed by boot entry") }
)
