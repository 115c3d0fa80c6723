// Package pgcache implements the page cache (spec.md section 4.2, C2):
// a fixed-width hash table of pages keyed by (device, inode, page
// index), chained by entry, backed by a doubly-linked LRU. It sits
// above blk.Cache_t in the data-flow sketch (spec.md section 1.1's "C3/
// C2/C1 satisfy I/O") but never imports it directly -- callers reach
// the backing store through the Backing_i interface, which a VFS
// driver implements, so this package has no dependency on any one
// filesystem.
//
// Grounded on the teacher's hashtable.Hashtable_t (bucket-chained,
// per-bucket locking) for the table shape, and blk.Cache_t's
// cache-lock-then-entry-lock discipline for the concurrency rules
// spec.md section 4.2.2 calls for.
package pgcache

import (
	"container/list"
	"sync"

	"coalos/src/defs"
)

const PGSIZE = 4096
const nbuckets = 256

/// DefaultMaxPages bounds the cache before eviction kicks in on a miss.
const DefaultMaxPages = 4096

// Backing_i is how the page cache reads a page in on a miss and writes
// a dirty page back, without depending on any particular filesystem.
// A VFS driver implements this once per mounted filesystem.
type Backing_i interface {
	ReadPage(dev, inode uint, idx int, data []byte) defs.Err_t
	WritePage(dev, inode uint, idx int, data []byte) defs.Err_t
	FileSize(dev, inode uint) (int, defs.Err_t)
}

type key_t struct {
	dev, inode uint
	idx        int
}

// flag bits on Page_t.flags.
const (
	f_valid  = 1 << 0
	f_dirty  = 1 << 1
	f_locked = 1 << 2
)

/// Page_t is one cached page of file data.
type Page_t struct {
	sync.Mutex
	key   key_t
	Data  [PGSIZE]byte
	ref   int32
	flags int32
	// lockwait is signaled when Unlock releases the page's cooperative
	// exclusive lock, so a waiter blocked in Lock can retry instead of
	// spinning -- "lock waits yield the scheduler" (spec.md 4.2).
	lockwait chan struct{}
	elem     *list.Element
}

func (p *Page_t) Valid() bool  { return p.flags&f_valid != 0 }
func (p *Page_t) Dirty() bool  { return p.flags&f_dirty != 0 }
func (p *Page_t) Locked() bool { return p.flags&f_locked != 0 }

type bucket_t struct {
	entries map[key_t]*Page_t
}

/// Cache_t is the page cache described by spec.md section 4.2.
type Cache_t struct {
	sync.Mutex
	buckets  [nbuckets]bucket_t
	lru      *list.List // front = most-recently-used
	npages   int
	maxpages int
	backing  Backing_i

	Hits   int64
	Misses int64
}

/// MkCache constructs an empty page cache bounded to maxpages pages,
/// reading and writing through backing on miss/writeback.
func MkCache(backing Backing_i, maxpages int) *Cache_t {
	c := &Cache_t{lru: list.New(), maxpages: maxpages, backing: backing}
	for i := range c.buckets {
		c.buckets[i].entries = make(map[key_t]*Page_t)
	}
	return c
}

func hash(k key_t) uint {
	h := uint(k.dev)*2654435761 + uint(k.inode)*40503 + uint(k.idx)
	return h % nbuckets
}

// find locates k without allocating; caller holds c.Lock.
func (c *Cache_t) find(k key_t) *Page_t {
	return c.buckets[hash(k)].entries[k]
}

/// Find performs a non-allocating lookup (spec.md 4.2's `find`).
func (c *Cache_t) Find(dev, inode uint, idx int) *Page_t {
	c.Lock()
	defer c.Unlock()
	return c.find(key_t{dev, inode, idx})
}

/// Get returns the page for (dev, inode, idx) with its reference count
/// incremented, allocating and possibly evicting on a miss. A freshly
/// allocated entry is returned with VALID unset; the caller must load
/// it (spec.md 4.2's `get`).
func (c *Cache_t) Get(dev, inode uint, idx int) (*Page_t, defs.Err_t) {
	k := key_t{dev, inode, idx}

	c.Lock()
	if p := c.find(k); p != nil {
		p.ref++
		c.lru.MoveToFront(p.elem)
		c.Hits++
		c.Unlock()
		return p, 0
	}
	c.Misses++
	if c.npages >= c.maxpages {
		if err := c.evictOne(); err != 0 {
			c.Unlock()
			return nil, err
		}
	}
	p := &Page_t{key: k, ref: 1, lockwait: make(chan struct{})}
	p.elem = c.lru.PushFront(p)
	c.buckets[hash(k)].entries[k] = p
	c.npages++
	c.Unlock()
	return p, 0
}

/// Put decrements entry's reference count, panicking if it would go
/// negative (spec.md 4.2's `put`, "asserts non-negative result").
func (c *Cache_t) Put(p *Page_t) {
	c.Lock()
	defer c.Unlock()
	p.ref--
	if p.ref < 0 {
		panic("pgcache: negative refcount")
	}
}

/// Lock_page acquires entry's cooperative exclusive lock, used to frame I/O
/// and partial-page writes; a contended lock wait yields rather than
/// spinning.
func (p *Page_t) Lock_page() {
	for {
		p.Lock()
		if p.flags&f_locked == 0 {
			p.flags |= f_locked
			p.Unlock()
			return
		}
		ch := p.lockwait
		p.Unlock()
		<-ch
	}
}

/// Unlock_page releases entry's cooperative exclusive lock.
func (p *Page_t) Unlock_page() {
	p.Lock()
	p.flags &^= f_locked
	old := p.lockwait
	p.lockwait = make(chan struct{})
	p.Unlock()
	close(old)
}

/// MarkDirty sets DIRTY only if VALID (spec.md 4.2's `mark_dirty`).
func (c *Cache_t) MarkDirty(p *Page_t) {
	p.Lock()
	if p.flags&f_valid != 0 {
		p.flags |= f_dirty
	}
	p.Unlock()
}

func (p *Page_t) setValid() {
	p.Lock()
	p.flags |= f_valid
	p.Unlock()
}

// loadIfNeeded reads a page in from the backing store if it isn't
// VALID yet, used both by Get-for-read and by the partial-page-write
// path ("the page is read from disk first if not UPTODATE", 4.2).
func (c *Cache_t) loadIfNeeded(p *Page_t) defs.Err_t {
	p.Lock_page()
	defer p.Unlock_page()
	if p.Valid() {
		return 0
	}
	if err := c.backing.ReadPage(p.key.dev, p.key.inode, p.key.idx, p.Data[:]); err != 0 {
		return err
	}
	p.setValid()
	return 0
}

/// Read performs byte-granular file I/O decomposed into page
/// operations (spec.md 4.2's `read`).
func (c *Cache_t) Read(dev, inode uint, offset int, buf []byte) (int, defs.Err_t) {
	n := 0
	for n < len(buf) {
		idx := (offset + n) / PGSIZE
		pgoff := (offset + n) % PGSIZE
		p, err := c.Get(dev, inode, idx)
		if err != 0 {
			return n, err
		}
		if err := c.loadIfNeeded(p); err != 0 {
			c.Put(p)
			return n, err
		}
		cnt := PGSIZE - pgoff
		if cnt > len(buf)-n {
			cnt = len(buf) - n
		}
		p.Lock_page()
		copy(buf[n:n+cnt], p.Data[pgoff:pgoff+cnt])
		p.Unlock_page()
		c.Put(p)
		n += cnt
	}
	return n, 0
}

/// Write performs byte-granular file I/O decomposed into page
/// operations (spec.md 4.2's `write`); a write that does not cover a
/// whole page reads the page in first if it is not yet VALID.
func (c *Cache_t) Write(dev, inode uint, offset int, buf []byte) (int, defs.Err_t) {
	n := 0
	for n < len(buf) {
		idx := (offset + n) / PGSIZE
		pgoff := (offset + n) % PGSIZE
		cnt := PGSIZE - pgoff
		if cnt > len(buf)-n {
			cnt = len(buf) - n
		}
		p, err := c.Get(dev, inode, idx)
		if err != 0 {
			return n, err
		}
		if cnt != PGSIZE {
			if err := c.loadIfNeeded(p); err != 0 {
				c.Put(p)
				return n, err
			}
		}
		p.Lock_page()
		copy(p.Data[pgoff:pgoff+cnt], buf[n:n+cnt])
		p.flags |= f_valid
		p.flags |= f_dirty
		p.Unlock_page()
		c.Put(p)
		n += cnt
	}
	return n, 0
}

/// WritebackPage flushes entry if DIRTY, clearing the bit on success.
func (c *Cache_t) WritebackPage(p *Page_t) defs.Err_t {
	p.Lock_page()
	defer p.Unlock_page()
	if p.flags&f_dirty == 0 {
		return 0
	}
	if err := c.backing.WritePage(p.key.dev, p.key.inode, p.key.idx, p.Data[:]); err != 0 {
		return err
	}
	p.flags &^= f_dirty
	return 0
}

// snapshot returns every currently cached page belonging to dev/inode
// (or every cached page, when byFile is false).
func (c *Cache_t) snapshot(dev, inode uint, byFile bool) []*Page_t {
	c.Lock()
	defer c.Unlock()
	var out []*Page_t
	for e := c.lru.Front(); e != nil; e = e.Next() {
		p := e.Value.(*Page_t)
		if !byFile || (p.key.dev == dev && p.key.inode == inode) {
			out = append(out, p)
		}
	}
	return out
}

/// SyncFile writes back every dirty page belonging to (dev, inode).
func (c *Cache_t) SyncFile(dev, inode uint) defs.Err_t {
	for _, p := range c.snapshot(dev, inode, true) {
		if err := c.WritebackPage(p); err != 0 {
			return err
		}
	}
	return 0
}

/// SyncAll writes back every dirty page in the cache. Writebacks fan
/// out concurrently and the first error, if any, is returned -- the one
/// place in this package using golang.org/x/sync/errgroup rather than a
/// sequential loop, since a full-cache sync is the operation where
/// overlapping disk I/O actually pays for itself.
func (c *Cache_t) SyncAll() defs.Err_t {
	pages := c.snapshot(0, 0, false)
	return syncAllConcurrent(c, pages)
}

/// InvalidateFile drops every page belonging to (dev, inode) with a
/// zero reference count.
func (c *Cache_t) InvalidateFile(dev, inode uint) {
	c.invalidateRange(dev, inode, -1, -1)
}

/// InvalidateRange drops cached pages for (dev, inode) whose index
/// falls in [fromIdx, toIdx) and whose reference count is zero.
func (c *Cache_t) InvalidateRange(dev, inode uint, fromIdx, toIdx int) {
	c.invalidateRange(dev, inode, fromIdx, toIdx)
}

func (c *Cache_t) invalidateRange(dev, inode uint, fromIdx, toIdx int) {
	c.Lock()
	defer c.Unlock()
	for i := 0; i < nbuckets; i++ {
		for k, p := range c.buckets[i].entries {
			if k.dev != dev || k.inode != inode {
				continue
			}
			if fromIdx >= 0 && (k.idx < fromIdx || k.idx >= toIdx) {
				continue
			}
			if p.ref != 0 {
				continue
			}
			delete(c.buckets[i].entries, k)
			c.lru.Remove(p.elem)
			c.npages--
		}
	}
}

// evictOne implements spec.md section 4.2.1: walk the LRU from tail
// toward head, evict the first zero-ref, unlocked entry, writing it
// back first if dirty. Caller holds c.Lock; this drops and reacquires
// it around the writeback so eviction never holds the cache lock
// across I/O.
func (c *Cache_t) evictOne() defs.Err_t {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		p := e.Value.(*Page_t)
		if p.ref != 0 || p.Locked() {
			continue
		}
		if p.Dirty() {
			c.Unlock()
			err := c.WritebackPage(p)
			c.Lock()
			if err != 0 {
				continue
			}
		}
		delete(c.buckets[hash(p.key)].entries, p.key)
		c.lru.Remove(e)
		c.npages--
		return 0
	}
	return defs.ENOMEM
}

/// Shrink evicts pages until the cache holds at most target pages,
/// preferring clean entries and writing back dirty ones only if
/// necessary (spec.md 4.2's `shrink`).
func (c *Cache_t) Shrink(target int) {
	c.Lock()
	defer c.Unlock()
	for pass := 0; pass < 2 && c.npages > target; pass++ {
		dirtyOK := pass == 1
		for e := c.lru.Back(); e != nil && c.npages > target; {
			prev := e.Prev()
			p := e.Value.(*Page_t)
			if p.ref == 0 && !p.Locked() && (dirtyOK || !p.Dirty()) {
				if p.Dirty() {
					c.Unlock()
					err := c.WritebackPage(p)
					c.Lock()
					if err != 0 {
						e = prev
						continue
					}
				}
				delete(c.buckets[hash(p.key)].entries, p.key)
				c.lru.Remove(e)
				c.npages--
			}
			e = prev
		}
	}
}
