package vm

import (
	"sync"

	"github.com/chronix-os/chronix/internal/bounds"
	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/hal"
	"github.com/chronix-os/chronix/internal/mem"
	"github.com/chronix-os/chronix/internal/reslimit"
	"github.com/chronix-os/chronix/internal/ustr"
	"github.com/chronix-os/chronix/internal/util"
)

// dmap8Inner returns a byte slice view of the page backing va, faulting it
// in first if necessary. forWrite distinguishes a kernel-writes-to-user
// access (which must break COW) from a kernel-reads-from-user one (spec
// §4.5's "distinguish a kernel write through K2User from a user write
// fault"), grounded on biscuit's Vm_t.Userdmap8_inner.
func (as *AddressSpace) dmap8Inner(va uint64, forWrite bool) ([]byte, defs.Err_t) {
	as.Lockassert_pmap()

	pgn := va >> hal.Level(mem.PageShift)
	voff := va & (mem.PageSize - 1)

	pte, _, found := as.Table.FindEntry(pgn)
	needFault := true
	if forWrite {
		if found && pte.Perm&hal.PermCOW == 0 {
			needFault = false
		}
	} else if found {
		needFault = false
	}

	if needFault {
		if err := HandlePageFault(as, va, forWrite); err != 0 {
			return nil, err
		}
		pte, _, found = as.Table.FindEntry(pgn)
		if !found {
			return nil, -defs.EFAULT
		}
	}

	page := as.alloc.Dmap8(mem.PhysAddr(pte.PPN)*mem.PageSize, mem.PageSize)
	return page[voff:], 0
}

// K2User copies src (kernel memory) into the user address space at va,
// looping a page at a time and charging each iteration against the bounded
// heap budget so a single huge copy cannot starve other callers (spec
// §4.1's reslimit contract).
func (as *AddressSpace) K2User(va uint64, src []byte) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for len(src) > 0 {
		if !reslimit.Resadd_noblock(bounds.B_ASPACE_T_K2USER_INNER) {
			return -defs.ENOHEAP
		}
		dst, err := as.dmap8Inner(va, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		if n == 0 {
			break
		}
		src = src[n:]
		va += uint64(n)
	}
	return 0
}

// User2K copies from the user address space at va into dst (kernel
// memory), the mirror of K2User.
func (as *AddressSpace) User2K(va uint64, dst []byte) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	for len(dst) > 0 {
		if !reslimit.Resadd_noblock(bounds.B_ASPACE_T_USER2K_INNER) {
			return -defs.ENOHEAP
		}
		src, err := as.dmap8Inner(va, false)
		if err != 0 {
			return err
		}
		n := copy(dst, src)
		if n == 0 {
			break
		}
		dst = dst[n:]
		va += uint64(n)
	}
	return 0
}

// Userreadn reads up to 8 bytes at va and returns them as a little-endian
// integer (spec §4.5, grounded on Vm_t.Userreadn — used for syscall
// argument structs like timespec that are read a field at a time).
func (as *AddressSpace) Userreadn(va uint64, n int) (int, defs.Err_t) {
	if n > 8 {
		panic("vm: Userreadn: n too large")
	}
	buf := make([]byte, n)
	if err := as.User2K(va, buf); err != 0 {
		return 0, err
	}
	return util.Readn(buf, n, 0), 0
}

// Userwriten writes the low n bytes of val to va.
func (as *AddressSpace) Userwriten(va uint64, n, val int) defs.Err_t {
	if n > 8 {
		panic("vm: Userwriten: n too large")
	}
	buf := make([]byte, n)
	util.Writen(buf, n, 0, val)
	return as.K2User(va, buf)
}

// Userstr copies a NUL-terminated string from user memory, up to lenmax
// bytes, returning ENAMETOOLONG if no terminator is found in time (spec
// §4.5, grounded on Vm_t.Userstr).
func (as *AddressSpace) Userstr(va uint64, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()

	s := ustr.MkUstr()
	off := uint64(0)
	for {
		chunk, err := as.dmap8Inner(va+off, false)
		if err != 0 {
			return s, err
		}
		for j, c := range chunk {
			if c == 0 {
				return append(s, chunk[:j]...), 0
			}
		}
		s = append(s, chunk...)
		off += uint64(len(chunk))
		if len(s) >= lenmax {
			return nil, -defs.ENAMETOOLONG
		}
	}
}

// Userbuf_t assists copying to or from a single user buffer a page at a
// time, tracking how much of the buffer has been consumed so the copy can
// resume after a short transfer (spec §4.5, grounded on biscuit's
// Userbuf_t).
type Userbuf_t struct {
	as     *AddressSpace
	userva uint64
	len    int
	off    int
}

// UbInit initializes the buffer over [uva, uva+n) in as.
func (ub *Userbuf_t) UbInit(as *AddressSpace, uva uint64, n int) {
	if n < 0 {
		panic("vm: negative Userbuf_t length")
	}
	ub.as = as
	ub.userva = uva
	ub.len = n
	ub.off = 0
}

// Remain reports how many bytes are left unread/unwritten.
func (ub *Userbuf_t) Remain() int { return ub.len - ub.off }

// Totalsz reports the buffer's total size.
func (ub *Userbuf_t) Totalsz() int { return ub.len }

func (ub *Userbuf_t) tx(buf []byte, write bool) (int, defs.Err_t) {
	ub.as.Lock_pmap()
	defer ub.as.Unlock_pmap()
	ret := 0
	for len(buf) != 0 && ub.off != ub.len {
		if !reslimit.Resadd_noblock(bounds.B_USERBUF_T__TX) {
			return ret, -defs.ENOHEAP
		}
		va := ub.userva + uint64(ub.off)
		chunk, err := ub.as.dmap8Inner(va, write)
		if err != 0 {
			return ret, err
		}
		if left := ub.len - ub.off; len(chunk) > left {
			chunk = chunk[:left]
		}
		var c int
		if write {
			c = copy(chunk, buf)
		} else {
			c = copy(buf, chunk)
		}
		buf = buf[c:]
		ub.off += c
		ret += c
	}
	return ret, 0
}

// Uioread copies from the user buffer into dst.
func (ub *Userbuf_t) Uioread(dst []byte) (int, defs.Err_t) { return ub.tx(dst, false) }

// Uiowrite copies src into the user buffer.
func (ub *Userbuf_t) Uiowrite(src []byte) (int, defs.Err_t) { return ub.tx(src, true) }

type ioveEntry struct {
	uva uint64
	sz  int
}

// Useriovec_t represents a readv/writev-style scatter/gather list read
// from a user iovec array (spec §4.5, grounded on biscuit's Useriovec_t).
type Useriovec_t struct {
	as   *AddressSpace
	iovs []ioveEntry
	tsz  int
}

// maxIovecs bounds how large a single readv/writev array may be, the same
// limit biscuit's Iov_init enforces.
const maxIovecs = 10

// IovInit reads niovs {uva, sz} pairs starting at iovarn in as and
// populates the iovec list.
func (iov *Useriovec_t) IovInit(as *AddressSpace, iovarn uint64, niovs int) defs.Err_t {
	if niovs > maxIovecs {
		return -defs.EINVAL
	}
	iov.as = as
	iov.tsz = 0
	iov.iovs = make([]ioveEntry, niovs)

	as.Lock_pmap()
	defer as.Unlock_pmap()
	for i := range iov.iovs {
		if !reslimit.Resadd_noblock(bounds.B_USERIOVEC_T_IOV_INIT) {
			return -defs.ENOHEAP
		}
		const elemsz = 16
		va := iovarn + uint64(i)*elemsz
		dstva, err := iov.readn_inner(va, 8)
		if err != 0 {
			return err
		}
		sz, err := iov.readn_inner(va+8, 8)
		if err != 0 {
			return err
		}
		iov.iovs[i] = ioveEntry{uva: uint64(dstva), sz: sz}
		iov.tsz += sz
	}
	return 0
}

func (iov *Useriovec_t) readn_inner(va uint64, n int) (int, defs.Err_t) {
	buf := make([]byte, n)
	off := 0
	for off < n {
		chunk, err := iov.as.dmap8Inner(va+uint64(off), false)
		if err != 0 {
			return 0, err
		}
		c := copy(buf[off:], chunk)
		off += c
	}
	return util.Readn(buf, n, 0), 0
}

// Remain reports the bytes remaining across every iovec.
func (iov *Useriovec_t) Remain() int {
	ret := 0
	for _, e := range iov.iovs {
		ret += e.sz
	}
	return ret
}

// Totalsz reports the total size described by the iovec array.
func (iov *Useriovec_t) Totalsz() int { return iov.tsz }

func (iov *Useriovec_t) tx(buf []byte, toUser bool) (int, defs.Err_t) {
	ub := &Userbuf_t{}
	did := 0
	for len(buf) > 0 && len(iov.iovs) > 0 {
		if !reslimit.Resadd_noblock(bounds.B_USERIOVEC_T__TX) {
			return did, -defs.ENOHEAP
		}
		cur := &iov.iovs[0]
		ub.UbInit(iov.as, cur.uva, cur.sz)
		var c int
		var err defs.Err_t
		if toUser {
			c, err = ub.Uiowrite(buf)
		} else {
			c, err = ub.Uioread(buf)
		}
		cur.uva += uint64(c)
		cur.sz -= c
		if cur.sz == 0 {
			iov.iovs = iov.iovs[1:]
		}
		buf = buf[c:]
		did += c
		if err != 0 {
			return did, err
		}
	}
	return did, 0
}

// Uioread reads into dst from the set of user buffers.
func (iov *Useriovec_t) Uioread(dst []byte) (int, defs.Err_t) { return iov.tx(dst, false) }

// Uiowrite writes src across the set of user buffers.
func (iov *Useriovec_t) Uiowrite(src []byte) (int, defs.Err_t) { return iov.tx(src, true) }

// Fakeubuf_t implements the same read/write interface as Userbuf_t over a
// plain kernel byte slice, for callers that want to treat kernel memory
// like a user buffer without a real address space behind it.
type Fakeubuf_t struct {
	buf []byte
	len int
}

// FakeInit sets up the fake buffer over buf.
func (fb *Fakeubuf_t) FakeInit(buf []byte) {
	fb.buf = buf
	fb.len = len(buf)
}

// Remain reports the bytes left in the fake buffer.
func (fb *Fakeubuf_t) Remain() int { return len(fb.buf) }

// Totalsz reports the fake buffer's total length.
func (fb *Fakeubuf_t) Totalsz() int { return fb.len }

func (fb *Fakeubuf_t) tx(buf []byte, toFake bool) (int, defs.Err_t) {
	var c int
	if toFake {
		c = copy(fb.buf, buf)
	} else {
		c = copy(buf, fb.buf)
	}
	fb.buf = fb.buf[c:]
	return c, 0
}

// Uioread copies from the fake buffer into dst.
func (fb *Fakeubuf_t) Uioread(dst []byte) (int, defs.Err_t) { return fb.tx(dst, false) }

// Uiowrite copies src into the fake buffer.
func (fb *Fakeubuf_t) Uiowrite(src []byte) (int, defs.Err_t) { return fb.tx(src, true) }

// Ubpool recycles Userbuf_t values across syscalls the way biscuit's
// package-level pool does, avoiding an allocation on every read/write
// syscall's fast path.
var Ubpool = sync.Pool{New: func() any { return new(Userbuf_t) }}
