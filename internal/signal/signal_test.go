package signal_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/kaddr"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/reslimit"
	"github.com/chronix-os/chronix/internal/signal"
	"github.com/chronix-os/chronix/internal/vm"
)

// newTestSpace mirrors internal/elfload's own test helper: a minimal
// address space backed by a host byte slice standing in for physical
// memory, with a writable anonymous area for the user stack signal
// frames are written onto.
func newTestSpace(t *testing.T, npages int) *vm.AddressSpace {
	t.Helper()
	a := mem.Init(0, npages, mem.NewBitmap(npages))
	buf := make([]byte, npages*mem.PageSize)
	a.SetDmapBase(uintptr(unsafe.Pointer(&buf[0])))
	reslimit.Init(int64(npages))
	vm.InitZeroPage(a)

	layout, err := kaddr.New(a, uint64(npages/2)*mem.PageSize, uint64(npages/2+256)*mem.PageSize, uint64(npages/2+512)*mem.PageSize)
	require.NoError(t, err)

	as, everr := vm.NewEmpty(a, layout)
	require.Equal(t, defs.Err_t(0), everr)
	return as
}

// TestSigtermHandlerRoundTrip drives spec §8 seed scenario 3: a task
// installs a SIGTERM handler, another task delivers SIGTERM, the handler
// runs with signo in the first argument register, and sigreturn restores
// the exact pre-handler trap context.
func TestSigtermHandlerRoundTrip(t *testing.T) {
	as := newTestSpace(t, 4096)

	const stackTop = vm.UserMin + 64*mem.PageSize
	_, aerr := as.AllocAnonArea((vm.UserMin)>>mem.PageShift, 64, vm.PermR|vm.PermW, true)
	require.Equal(t, defs.Err_t(0), aerr)

	m := signal.NewManager()
	const handlerPC = uint64(0x20000)
	_, serr := m.SetSigaction(defs.SIGTERM, signal.Sigaction{Disp: signal.DispHandler, Handler: handlerPC})
	require.Equal(t, defs.Err_t(0), serr)

	var tf hal.TrapFrame
	tf.PC = 0x1000
	tf.SetSP(stackTop - 256)
	tf.Regs[10] = 0xdeadbeef // arbitrary pre-signal state, must survive the round trip
	pristine := tf.Snapshot()

	m.Receive(signal.Siginfo{Signo: defs.SIGTERM})
	require.True(t, m.Deliverable(^uint64(0)))

	outcome, signo := m.CheckAndHandle(as, &tf)
	require.Equal(t, signal.OutcomeHandled, outcome)
	require.Equal(t, defs.SIGTERM, signo)
	require.Equal(t, uint64(15), tf.Arg(0))
	require.Equal(t, handlerPC, tf.PC)
	require.NotEqual(t, pristine.SP(), tf.SP())

	// SIGTERM defaults to blocked-while-running unless SA_NODEFER was set.
	require.NotZero(t, m.Blocked()&(1<<(defs.SIGTERM-1)))

	// The handler "returns via the trampoline" by trapping sigreturn;
	// simulate that trap and check the original context comes back.
	rerr := m.Sigreturn(as, &tf)
	require.Equal(t, defs.Err_t(0), rerr)
	require.Equal(t, pristine.PC, tf.PC)
	require.Equal(t, pristine.SP(), tf.SP())
	require.Equal(t, pristine.Regs[10], tf.Regs[10])
	require.Zero(t, m.Blocked()&(1<<(defs.SIGTERM-1)))
}

func TestSigkillCannotBeBlockedOrHandled(t *testing.T) {
	m := signal.NewManager()
	_, err := m.SetSigaction(defs.SIGKILL, signal.Sigaction{Disp: signal.DispHandler, Handler: 1})
	require.Equal(t, -defs.EINVAL, err)

	m.SetBlocked(1<<(defs.SIGKILL-1)|1<<(defs.SIGSTOP-1), signal.SigBlock)
	require.Zero(t, m.Blocked()&(1<<(defs.SIGKILL-1)))
}
