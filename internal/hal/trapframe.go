package hal

// NumArgRegs is the number of syscall argument registers (spec §4.8:
// "Syscall arguments are six registers").
const NumArgRegs = 6

// TrapFrame is the saved user register file, CSR/CSR-equivalent, and PC at
// the point of kernel entry (spec §3's "trap context" glossary entry). It
// is a flat register array rather than a per-architecture struct so
// internal/trap's entry path can treat save/restore as a uniform
// store/load loop regardless of which board is compiled in; only the
// meaning of individual slots differs, captured by argRegs/retReg/spReg
// below.
type TrapFrame struct {
	Regs  [32]uint64
	PC    uint64
	Cause uint64
	// FaultAddr is the faulting virtual address for a page-fault trap
	// (RISC-V's stval, LoongArch's Badv), meaningless for any other
	// Cause.
	FaultAddr uint64
}

// argRegs, retReg, and spReg name the general-register slots the calling
// convention on the running board assigns to syscall arguments, the
// syscall return value, and the stack pointer. Sv39 and LA64 disagree on
// which physical registers these are, so each hal_*.go sets them in its
// own init alongside Current.
var (
	argRegs  [NumArgRegs]int
	retReg   int
	spReg    int
	sysnoReg int
)

// SysNo returns the syscall number register's current value (RISC-V and
// LA64 alike pass it in a7, spec §6's Linux-compatible numbering).
func (tf *TrapFrame) SysNo() uint64 { return tf.Regs[sysnoReg] }

// Arg returns the i'th (0-based) syscall argument.
func (tf *TrapFrame) Arg(i int) uint64 { return tf.Regs[argRegs[i]] }

// SetArg overwrites the i'th syscall argument register, used when a
// syscall needs to be restarted after EINTR with adjusted arguments.
func (tf *TrapFrame) SetArg(i int, v uint64) { tf.Regs[argRegs[i]] = v }

// SetReturn writes rc into the return-value register following spec §6's
// "negative errno on failure, non-negative on success" convention.
func (tf *TrapFrame) SetReturn(rc int64) { tf.Regs[retReg] = uint64(rc) }

// Return reads the current return-value register.
func (tf *TrapFrame) Return() uint64 { return tf.Regs[retReg] }

// SP returns the current user stack pointer.
func (tf *TrapFrame) SP() uint64 { return tf.Regs[spReg] }

// SetSP overwrites the stack pointer, used when building a signal frame on
// the user stack (spec §4.9).
func (tf *TrapFrame) SetSP(v uint64) { tf.Regs[spReg] = v }

// AdvancePastSyscall advances PC past the trap-causing instruction (spec
// §4.8). Every board this kernel targets uses fixed-width 4-byte syscall
// instructions.
func (tf *TrapFrame) AdvancePastSyscall() { tf.PC += 4 }

// Snapshot copies the frame, used by internal/signal to save the
// pre-handler context that sigreturn later restores (spec §8's
// round-trip property).
func (tf *TrapFrame) Snapshot() TrapFrame { return *tf }

// Restore overwrites the frame from a previously captured Snapshot.
func (tf *TrapFrame) Restore(saved TrapFrame) { *tf = saved }
