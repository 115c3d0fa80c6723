// Package fdops defines the narrow interfaces an open file description
// must satisfy, independent of what backs it (a FAT vnode, a pipe, the
// console). fs.Bdev_block_t's Block_cb_i and vm.Userbuf_t's consumers
// already reference this shape by name (fdops.Fdops_i, fdops.Userio_i)
// in the teacher's own source; this package is the pack's missing
// definition of them, authored from that usage rather than copied, since
// the retrieval pack kept only fdops/go.mod.
package fdops

import "coalos/src/defs"

// Userio_i abstracts a source or sink for byte transfers that may be
// backed by user memory (vm.Userbuf_t) or kernel memory (a plain byte
// slice wrapper), so the same Fdops_i.Read/Write implementation serves
// both a real syscall and an in-kernel caller such as circbuf.Circbuf_t.
type Userio_i interface {
	Uioread(dst []uint8) (int, defs.Err_t)
	Uiowrite(src []uint8) (int, defs.Err_t)
	Remain() int
	Totalsz() int
}

// Ready_t is a bitmask of readiness conditions reported by Poll.
type Ready_t int

const (
	R_READ  Ready_t = 1 << 0
	R_WRITE Ready_t = 1 << 1
	R_ERROR Ready_t = 1 << 2
)

// Pollmsg_t describes one waiter's interest for Fdops_i.Pollone.
type Pollmsg_t struct {
	Events Ready_t
}

// Fdops_i is the capability record every open file description
// implements -- the vtable-like struct spec.md section 9's re-architecture
// guidance calls for in place of the original's deep driver inheritance.
// Concrete implementations: vfs.Fhandle_t (an open file on a mounted
// driver) and vfs's circbuf-backed pipe ends.
type Fdops_i interface {
	Close() defs.Err_t
	Fstat(st StatStore_i) defs.Err_t
	Lseek(off, whence int) (int, defs.Err_t)
	Pathi() Vnode_i
	Read(dst Userio_i) (int, defs.Err_t)
	Reopen() defs.Err_t
	Write(src Userio_i) (int, defs.Err_t)
	Pollone(pm Pollmsg_t) (Ready_t, defs.Err_t)
	Truncate(newlen uint) defs.Err_t
}

// StatStore_i is satisfied by stat.Stat_t; kept as an interface here so
// fdops does not need to import stat and create a cycle.
type StatStore_i interface {
	Wdev(uint)
	Wino(uint)
	Wmode(uint)
	Wsize(uint)
	Wrdev(uint)
}

// Vnode_i is the opaque per-filesystem-object handle returned by a
// driver's Open (spec.md section 3: "Vnode: opaque handle to one
// filesystem object"). The kernel never looks inside it; only the owning
// driver downcasts it back to its own context type.
type Vnode_i interface {
	VnodeKey() (devId uint, inum uint)
}
