// Package pagecache implements the per-inode page cache spec §3 and §6
// describe: a mapping from page-aligned file offset to a shared,
// reference-counted physical page, consulted by the page-fault dispatcher
// (internal/vm) for file-backed mappings and shared by every address
// space that maps the same file. Generalizes biscuit's Vminfo_t.Filepage
// path (vm/as.go), which inlined the same offset->frame cache directly
// into the mapping type instead of giving it its own package.
package pagecache

import (
	"sync"

	"github.com/chronix-os/chronix/internal/defs"
	"github.com/chronix-os/chronix/internal/fdops"
	"github.com/chronix-os/chronix/internal/mem"
)

// Page records one cached page's bookkeeping (spec §3: "a page carries
// its owning offset, a dirty flag, and the frame it realises").
type Page struct {
	Off   int
	PFN   uint64
	Dirty bool
}

// Cache is one inode's page cache: every Vminfo_t (internal/vm) backed by
// the same open file shares one Cache, so a page faulted in by one
// address space is immediately visible, same frame, to every other
// mapper (spec §4.4's "shared areas point to the same page-cache pages as
// every other address space sharing the object").
type Cache struct {
	mu    sync.Mutex
	src   fdops.Fdops_i
	pages map[int]*Page
}

// New wraps an open file's Fdops_i in a fresh, empty page cache.
func New(src fdops.Fdops_i) *Cache {
	return &Cache{src: src, pages: make(map[int]*Page)}
}

// PageFor returns the pfn backing file offset foff (rounded down to a page
// boundary), reading it in via the source file on first access. The
// caller receives one reference on the returned frame and is responsible
// for dropping it independently of every other mapper, the same contract
// mem.RefFrame gives a COW fork (spec §4.5's shared VFILE fault path,
// grounded on biscuit's Vminfo_t.Filepage).
func (c *Cache) PageFor(alloc *mem.Allocator, foff int) (uint64, defs.Err_t) {
	pgoff := foff &^ (mem.PageSize - 1)
	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.pages[pgoff]; ok {
		alloc.RefOf(p.PFN).Refup()
		return p.PFN, 0
	}

	frame, ok := alloc.AllocClean(1, 0)
	if !ok {
		return 0, -defs.ENOMEM
	}
	pfn := frame.Base().PFN()
	buf := alloc.Dmap8(frame.Leak().Base, mem.PageSize)
	if _, err := c.src.Pread(buf, pgoff); err != 0 {
		alloc.RefOf(pfn).Refdown()
		return 0, err
	}
	c.pages[pgoff] = &Page{Off: pgoff, PFN: pfn}
	alloc.RefOf(pfn).Refup()
	return pfn, 0
}

// MarkDirty flags the cached page at foff as dirty, so a later Writeback
// pass (out of scope: no concrete filesystem is wired behind fdops.Fdops_i
// here) knows to flush it. Faulting in a page that does not exist yet is
// a caller error.
func (c *Cache) MarkDirty(foff int) {
	pgoff := foff &^ (mem.PageSize - 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.pages[pgoff]; ok {
		p.Dirty = true
	}
}

// Writeback flushes every dirty page back through the source file's
// Pwrite and clears the dirty flag, called when a shared mapping is
// unmapped or the inode is explicitly synced.
func (c *Cache) Writeback(alloc *mem.Allocator) defs.Err_t {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pages {
		if !p.Dirty {
			continue
		}
		buf := alloc.Dmap8(mem.PhysAddr(p.PFN)*mem.PageSize, mem.PageSize)
		if _, err := c.src.Pwrite(buf, p.Off); err != 0 {
			return err
		}
		p.Dirty = false
	}
	return 0
}

// Len reports how many pages are currently resident, for the D_STAT
// device.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}
