// Package vm implements a process address space and the user-memory
// access primitives the syscall layer needs (spec.md section 6's
// "access_ok / copy_from_user / copy_to_user / strncpy_from_user"
// family). The teacher's own vm.Vm_t walks real x86 page tables, takes
// real page faults, and performs copy-on-write and TLB shootdown across
// CPUs; none of that HAL-level machinery is in scope here (spec.md's
// Non-goals exclude "early GDT/TSS/paging-table bring-up" and SMP), so
// each address space is instead backed by host byte arenas, one per
// mapped region. The locking discipline (Lock_pmap/Unlock_pmap) and the
// shape of the translate-then-copy primitives are kept from the
// teacher's as.go and userbuf.go.
package vm

import (
	"sort"
	"sync"

	"coalos/src/defs"
	"coalos/src/mem"
)

/// Perm_t is a bitmask of the access a region permits.
type Perm_t int

const (
	PERM_R Perm_t = 1 << 0
	PERM_W Perm_t = 1 << 1
	PERM_X Perm_t = 1 << 2
)

/// Vmregion_i describes one mapped, contiguous range of a process's
/// user virtual address space, backed by a host byte slice standing in
/// for a run of physical pages.
type Vmregion_i struct {
	Start int
	Len   int
	Perms Perm_t
	backing []byte
}

func (r *Vmregion_i) end() int { return r.Start + r.Len }

func (r *Vmregion_i) contains(va, n int) bool {
	return va >= r.Start && n >= 0 && va+n <= r.end()
}

/// Vmregion_t is the sorted, non-overlapping set of regions mapped into
/// one address space, mirroring the teacher's Vmregion_t (a BST of
/// regions ordered by virtual address) with a slice kept sorted by
/// Start instead -- CoalOS has no COW fork fast path to optimize for,
/// so the simpler structure carries the same Lookup contract.
type Vmregion_t struct {
	regions []*Vmregion_i
}

/// Lookup returns the region containing va, if any.
func (vr *Vmregion_t) Lookup(va int) *Vmregion_i {
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].end() > va
	})
	if i < len(vr.regions) && vr.regions[i].Start <= va {
		return vr.regions[i]
	}
	return nil
}

func (vr *Vmregion_t) empty() bool {
	return len(vr.regions) == 0
}

/// Insert adds a new region. It panics on overlap with an existing
/// region, same as the teacher's Vmregion_t insert.
func (vr *Vmregion_t) Insert(start, ln int, perms Perm_t) *Vmregion_i {
	nr := &Vmregion_i{Start: start, Len: ln, Perms: perms, backing: make([]byte, ln)}
	i := sort.Search(len(vr.regions), func(i int) bool {
		return vr.regions[i].Start >= start
	})
	if i > 0 && vr.regions[i-1].end() > start {
		panic("overlapping vm region")
	}
	if i < len(vr.regions) && nr.end() > vr.regions[i].Start {
		panic("overlapping vm region")
	}
	vr.regions = append(vr.regions, nil)
	copy(vr.regions[i+1:], vr.regions[i:])
	vr.regions[i] = nr
	return nr
}

/// Clear removes all regions, releasing their backing storage.
func (vr *Vmregion_t) Clear() {
	vr.regions = nil
}

/// Vm_t is one process's address space: a set of mapped regions plus
/// the lock that serializes the page-fault-equivalent path. The
/// teacher's Vm_t additionally carries a *mem.Pmap_t and P_pmap (the
/// PML4 root and its physical address) for the hardware MMU to walk;
/// those fields are kept, unused by Lookup/translate, purely so code
/// ported from the teacher that still references vm.Pmap still
/// compiles against this type -- see DESIGN.md.
type Vm_t struct {
	sync.Mutex
	Vmregion Vmregion_t
	Pmap     *mem.Pmap_t
	P_pmap   mem.Pa_t

	stackRegion      *Vmregion_i
	stackReserveBase int
}

/// Lock_pmap acquires the address space lock prior to a translation.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
}

/// Unlock_pmap releases the address space lock.
func (as *Vm_t) Unlock_pmap() {
	as.Unlock()
}

/// Lockassert_pmap is a debug assertion that the caller already holds
/// the address space lock; Go's sync.Mutex exposes no "is locked"
/// query, so, like the teacher's own build under its race detector,
/// this is a no-op kept only so call sites read the same as upstream.
func (as *Vm_t) Lockassert_pmap() {
}

/// translate resolves a user virtual address range to the backing byte
/// slice that holds it, or returns EFAULT. The caller must hold the
/// address space lock. Access_ok, CopyFromUser and CopyToUser funnel
/// through it (StrncpyFromUser walks regions with Lookup itself),
/// matching the teacher's
/// Userdmap8_inner being the one place Sys_pgfault is triggered from.
func (as *Vm_t) translate(uva, n int, write bool) ([]byte, defs.Err_t) {
	r := as.Vmregion.Lookup(uva)
	if r == nil || !r.contains(uva, n) {
		return nil, defs.EFAULT
	}
	if write && r.Perms&PERM_W == 0 {
		return nil, defs.EFAULT
	}
	if r.Perms&PERM_R == 0 {
		return nil, defs.EFAULT
	}
	off := uva - r.Start
	return r.backing[off : off+n], 0
}

/// Access_ok reports whether uva..uva+n falls entirely within a mapped
/// region with the requested access, without copying anything --
/// spec.md section 6's "access_ok" primitive, and testable property 8's
/// "copy that straddles the boundary between user and kernel windows
/// returns EFAULT and touches no user memory" depends on this being
/// checked before any byte is moved.
func (as *Vm_t) Access_ok(uva, n int, write bool) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	_, err := as.translate(uva, n, write)
	return err == 0
}

/// CopyFromUser copies len(dst) bytes starting at uva into dst. On
/// EFAULT, dst is left untouched.
func (as *Vm_t) CopyFromUser(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	src, err := as.translate(uva, len(dst), false)
	if err != 0 {
		return err
	}
	copy(dst, src)
	return 0
}

/// CopyToUser copies src into the n bytes starting at uva.
func (as *Vm_t) CopyToUser(uva int, src []uint8) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	dst, err := as.translate(uva, len(src), true)
	if err != 0 {
		return err
	}
	copy(dst, src)
	return 0
}

/// StrncpyFromUser copies a NUL-terminated string of at most max bytes
/// (NUL excluded) starting at uva, the primitive execve's argv/envp
/// handling and open's pathname argument both need.
func (as *Vm_t) StrncpyFromUser(uva, max int) ([]byte, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	// a string may span more than one region only if regions are
	// adjacent; walk byte ranges one region-bounded chunk at a time.
	var out []byte
	cur := uva
	for len(out) < max {
		r := as.Vmregion.Lookup(cur)
		if r == nil || r.Perms&PERM_R == 0 {
			return nil, defs.EFAULT
		}
		off := cur - r.Start
		chunk := r.backing[off:]
		for _, b := range chunk {
			if b == 0 {
				return out, 0
			}
			if len(out) >= max {
				return nil, defs.ENAMETOOLONG
			}
			out = append(out, b)
		}
		cur = r.end()
	}
	return nil, defs.ENAMETOOLONG
}

/// Uvmfree releases every region in the address space. The teacher's
/// Uvmfree walks the pmap tearing down mappings and dropping physical
/// page refcounts one entry at a time; here that collapses to dropping
/// the Go-level backing slices via Clear, since there is no physical
/// allocator underneath to account to.
func (as *Vm_t) Uvmfree() {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	as.Vmregion.Clear()
}

/// SetStackRegion records r as the process's user stack region and
/// reserveBase as the lowest virtual address it may ever grow down to
/// -- the "reserved range" spec.md section 7's on-demand stack growth
/// is bounded by ("a page fault on a valid-but-unmapped user page may
/// grow the user stack on-demand, only within its reserved range").
func (as *Vm_t) SetStackRegion(r *Vmregion_i, reserveBase int) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	as.stackRegion = r
	as.stackReserveBase = reserveBase
}

/// GrowUserStack extends the stack region down to cover faultVA if
/// faultVA falls within the reserved range just below the region's
/// current start, reports whether it did. A fault elsewhere (above the
/// region, or below the reserved floor) is not a growable stack fault.
func (as *Vm_t) GrowUserStack(faultVA int) bool {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if as.stackRegion == nil || faultVA >= as.stackRegion.Start || faultVA < as.stackReserveBase {
		return false
	}
	newStart := faultVA &^ (mem.PGSIZE - 1)
	grow := as.stackRegion.Start - newStart
	nb := make([]byte, as.stackRegion.Len+grow)
	copy(nb[grow:], as.stackRegion.backing)
	as.stackRegion.backing = nb
	as.stackRegion.Start = newStart
	as.stackRegion.Len += grow
	return true
}

/// Vmadd_anon maps a new anonymous, zero-filled region -- used for the
/// heap, the stack, and bss.
func (as *Vm_t) Vmadd_anon(start, ln int, perms Perm_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	as.Vmregion.Insert(start, ln, perms)
}

/// Vmadd_file maps a region and fills it from data, used for the text
/// and initialized-data segments of a loaded executable. The teacher's
/// Vmadd_file instead maps a file-backed mtype_t lazily, faulting pages
/// in from the binary as they're touched; with no real page-fault path
/// here, the data is copied eagerly at map time.
func (as *Vm_t) Vmadd_file(start, ln int, perms Perm_t, data []byte) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	r := as.Vmregion.Insert(start, ln, perms)
	n := copy(r.backing, data)
	_ = n
}
