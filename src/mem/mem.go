package mem

import "sync"
import "sync/atomic"
import "unsafe"
import "coalos/src/oommsg"
import "coalos/src/util"
import "fmt"

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET Pa_t = 0xfff

/// PGMASK masks the page number of an address.
const PGMASK Pa_t = ^(PGOFFSET)

/// PTE_P marks a page as present.
const PTE_P Pa_t = 1 << 0

/// PTE_W marks a page writable.
const PTE_W Pa_t = 1 << 1

/// PTE_U marks a page user-accessible.
const PTE_U Pa_t = 1 << 2

/// PTE_COW marks a page copy-on-write.
const PTE_COW Pa_t = 1 << 9

/// PTE_G marks a global page.
const PTE_G Pa_t = 1 << 8

/// PTE_PCD disables caching for the page.
const PTE_PCD Pa_t = 1 << 4

/// PTE_PS indicates a large page.
const PTE_PS Pa_t = 1 << 7

/// PTE_ADDR extracts the address bits of a PTE.
const PTE_ADDR Pa_t = PGMASK

/// Pa_t is an offset into the simulated physical arena. On real hardware
/// this is a physical address; Memory Core's HAL (spec.md section 1,
/// "Memory Core (C8)... a collaborator whose contract is specified, not
/// a module this repository implements") is the thing that would
/// install real page tables over real DRAM. This module stands in a
/// host byte arena instead, so Pa_t is just an index into it.
type Pa_t uintptr

/// Bytepg_t is a byte addressed page.
type Bytepg_t [PGSIZE]uint8

/// Pg_t is a generic page of ints.
type Pg_t [512]int

/// Pmap_t is a page table page. CoalOS does not walk real page tables
/// (spec.md's Non-goals exclude "early GDT/TSS/paging-table bring-up");
/// this type only survives so vm's region bookkeeping keeps the
/// teacher's field names.
type Pmap_t [512]Pa_t

/// Unpin_i allows unpinning of physical pages.
type Unpin_i interface {
	Unpin(Pa_t)
}

/// Page_i abstracts physical page allocation.
type Page_i interface {
	Refpg_new() (*Pg_t, Pa_t, bool)
	Refpg_new_nozero() (*Pg_t, Pa_t, bool)
	Refcnt(Pa_t) int
	Dmap(Pa_t) *Pg_t
	Refup(Pa_t)
	Refdown(Pa_t) bool
}

/// Pg2bytes converts a page of ints to a page of bytes.
func Pg2bytes(pg *Pg_t) *Bytepg_t {
	return (*Bytepg_t)(unsafe.Pointer(pg))
}

/// Bytepg2pg converts a byte page back to a Pg_t.
func Bytepg2pg(pg *Bytepg_t) *Pg_t {
	return (*Pg_t)(unsafe.Pointer(pg))
}

func _pg2pgn(p_pg Pa_t) uint32 {
	return uint32(p_pg >> PGSHIFT)
}

/// Refaddr returns the refcount pointer and index for the given page.
func (phys *Physmem_t) Refaddr(p_pg Pa_t) (*int32, uint32) {
	idx := _pg2pgn(p_pg)
	return &phys.Pgs[idx].Refcnt, idx
}

/// Physpg_t describes a single physical page.
type Physpg_t struct {
	Refcnt int32
	// index into pgs of next page on free list
	nexti uint32
}

/// Physmem_t manages the simulated physical arena. The teacher keeps a
/// per-CPU free list per mem.go's percpu field to avoid cacheline
/// contention across real cores; SMP is a Non-goal here (spec.md
/// section 1), so this keeps a single free list behind one mutex.
type Physmem_t struct {
	Pgs []Physpg_t
	// backing store for the simulated physical arena; Dmap indexes
	// directly into it instead of walking a real direct map.
	arena []byte
	// index into pgs of first free pg
	freei   uint32
	freelen int32
	sync.Mutex
	Dmapinit bool
}

func (phys *Physmem_t) _refpg_new() (*Pg_t, Pa_t, bool) {
	return phys._phys_new()
}

/// Refcnt returns the current reference count of a page.
func (phys *Physmem_t) Refcnt(p_pg Pa_t) int {
	ref, _ := phys.Refaddr(p_pg)
	return int(atomic.LoadInt32(ref))
}

/// Refup increments the reference count of a page.
func (phys *Physmem_t) Refup(p_pg Pa_t) {
	ref, _ := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, 1)
	if c <= 0 {
		panic("wut")
	}
}

// returns true if p_pg should be added to the free list, and its index
func (phys *Physmem_t) _refdec(p_pg Pa_t) (bool, uint32) {
	ref, idx := phys.Refaddr(p_pg)
	c := atomic.AddInt32(ref, -1)
	if c < 0 {
		panic("wut")
	}
	return c == 0, idx
}

/// Refdown decrements the reference count of a page.
/// It returns true when the page is freed.
func (phys *Physmem_t) Refdown(p_pg Pa_t) bool {
	if add, idx := phys._refdec(p_pg); add {
		phys.Lock()
		phys.Pgs[idx].nexti = phys.freei
		phys.freei = idx
		phys.freelen++
		phys.Unlock()
		return true
	}
	return false
}

/// Zeropg is a global zero-filled page used for allocations.
var Zeropg *Pg_t

/// Refpg_new allocates a zeroed page and returns its mapping and address.
/// The returned page's refcount is not incremented. On exhaustion it
/// notifies oommsg.OomCh and waits to be resumed once a waiter (a
/// future page-reclaim daemon) signals more pages became available,
/// retrying once before giving up -- the teacher's own allocators treat
/// OomCh the same way, as a last-ditch reclaim signal rather than an
/// immediate failure.
func (phys *Physmem_t) Refpg_new() (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("refpg_new")
	}
	pg, p_pg, ok := phys._refpg_new()
	if !ok {
		if phys.notifyOom(1) {
			pg, p_pg, ok = phys._refpg_new()
		}
		if !ok {
			return nil, 0, false
		}
	}
	*pg = *Zeropg
	return pg, p_pg, true
}

// notifyOom sends an out-of-memory notice on oommsg.OomCh and blocks
// for the reclaimer's response, returning whether it reported progress.
// A non-blocking send avoids deadlocking callers when nothing is
// listening (no reclaim daemon wired up yet).
func (phys *Physmem_t) notifyOom(need int) bool {
	msg := oommsg.Oommsg_t{Need: need, Resume: make(chan bool, 1)}
	select {
	case oommsg.OomCh <- msg:
		return <-msg.Resume
	default:
		return false
	}
}

/// Refpg_new_nozero allocates an uninitialised page.
func (phys *Physmem_t) Refpg_new_nozero() (*Pg_t, Pa_t, bool) {
	return phys._refpg_new()
}

/// Pmap_new allocates a new page map's backing page.
func (phys *Physmem_t) Pmap_new() (*Pmap_t, Pa_t, bool) {
	a, b, ok := phys.Refpg_new()
	if !ok {
		return nil, 0, false
	}
	return (*Pmap_t)(unsafe.Pointer(a)), b, ok
}

func (phys *Physmem_t) _phys_new() (*Pg_t, Pa_t, bool) {
	if !phys.Dmapinit {
		panic("dmap not initted")
	}
	phys.Lock()
	ff := phys.freei
	if ff == ^uint32(0) {
		phys.Unlock()
		return nil, 0, false
	}
	p_pg := Pa_t(ff) << PGSHIFT
	phys.freei = phys.Pgs[ff].nexti
	if phys.Pgs[ff].Refcnt < 0 {
		phys.Unlock()
		panic("negative ref count")
	}
	phys.freelen--
	phys.Unlock()
	return phys.Dmap(p_pg), p_pg, true
}

/// Dec_pmap decrements the reference count of a pmap's backing page.
func (phys *Physmem_t) Dec_pmap(p_pmap Pa_t) {
	phys.Refdown(p_pmap)
}

/// Dmap returns a page-aligned pointer into the simulated physical
/// arena for p. The teacher's Dmap walks a real x86 direct map
/// (spec.md's Non-goals exclude real paging); here Pa_t already is an
/// arena offset, so this is a bounds-checked index.
func (phys *Physmem_t) Dmap(p Pa_t) *Pg_t {
	off := util.Rounddown(int(p), PGSIZE)
	if off < 0 || off+PGSIZE > len(phys.arena) {
		panic("direct map not large enough")
	}
	return (*Pg_t)(unsafe.Pointer(&phys.arena[off]))
}

/// Dmap_v2p converts an arena pointer back to its Pa_t offset.
func (phys *Physmem_t) Dmap_v2p(v *Pg_t) Pa_t {
	va := uintptr(unsafe.Pointer(v))
	base := uintptr(unsafe.Pointer(&phys.arena[0]))
	if va < base || va >= base+uintptr(len(phys.arena)) {
		panic("address isn't in the simulated arena")
	}
	return Pa_t(va - base)
}

/// Dmap8 returns a byte slice mapped to the given arena offset.
func (phys *Physmem_t) Dmap8(p Pa_t) []uint8 {
	pg := phys.Dmap(p)
	off := p & PGOFFSET
	bpg := Pg2bytes(pg)
	return bpg[off:]
}

/// Pgcount reports the number of free pages.
func (phys *Physmem_t) Pgcount() int {
	phys.Lock()
	defer phys.Unlock()
	return int(phys.freelen)
}

/// Physmem is the global physical memory allocator instance.
var Physmem = &Physmem_t{}

/// Phys_init initializes the global simulated physical memory arena.
/// The teacher discovers real DRAM via a runtime primitive from its
/// forked Go compiler (runtime.Get_phys); since Memory Core is an
/// external HAL collaborator here (spec.md section 1), this instead
/// host-allocates a byte arena sized to hold respgs pages and carves it
/// into a conventional refcounted free list.
func Phys_init(respgs int) *Physmem_t {
	phys := Physmem
	phys.arena = make([]byte, respgs*PGSIZE)
	phys.Pgs = make([]Physpg_t, respgs)
	phys.freei = 0
	phys.freelen = int32(respgs)
	for i := range phys.Pgs {
		if i == respgs-1 {
			phys.Pgs[i].nexti = ^uint32(0)
		} else {
			phys.Pgs[i].nexti = uint32(i + 1)
		}
	}
	phys.Dmapinit = true
	Zeropg = new(Pg_t)
	fmt.Printf("Reserved %v pages (%vKB)\n", respgs, respgs*PGSIZE>>10)
	return phys
}
