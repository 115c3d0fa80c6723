package vm

import (
	"coalos/src/bounds"
	"coalos/src/defs"
	"coalos/src/res"
)

/// Userbuf_t adapts a Vm_t-backed user memory range to fdops.Userio_i so
/// the same Fdops_i.Read/Write path serves syscalls reading into or
/// writing from user memory, matching the teacher's userbuf.go.
type Userbuf_t struct {
	userva int
	len    int
	off    int
	as     *Vm_t
}

/// Ub_init (re)initializes ub to describe the range [userva, userva+len)
/// of as's address space, with the cursor at the start of the range.
func (ub *Userbuf_t) Ub_init(as *Vm_t, userva, len int) {
	ub.userva = userva
	ub.len = len
	ub.off = 0
	ub.as = as
}

/// Mkuserbuf returns a freshly initialized Userbuf_t.
func Mkuserbuf(as *Vm_t, userva, len int) *Userbuf_t {
	ub := &Userbuf_t{}
	ub.Ub_init(as, userva, len)
	return ub
}

/// Remain reports how many bytes are left to transfer.
func (ub *Userbuf_t) Remain() int {
	return ub.len - ub.off
}

/// Totalsz reports the total size of the buffer, independent of cursor.
func (ub *Userbuf_t) Totalsz() int {
	return ub.len
}

// _tx moves min(len(buf), ub.Remain()) bytes between buf and the user
// range at the current cursor, advancing it. write selects the
// direction: true copies buf into user memory, false copies user
// memory into buf. Each pass of the loop charges bounds.B_USERBUF_T__TX
// against the resource budget via res.Resadd_noblock; one pass moves
// the whole remaining span with a single CopyToUser/CopyFromUser, so a
// call is charged once, not once per page crossed.
func (ub *Userbuf_t) _tx(buf []uint8, write bool) (int, defs.Err_t) {
	if ub.as == nil {
		panic("nil address space")
	}
	did := 0
	for did < len(buf) && ub.Remain() > 0 {
		if !res.Resadd_noblock(bounds.Bounds(bounds.B_USERBUF_T__TX)) {
			return did, defs.ENOHEAP
		}
		va := ub.userva + ub.off
		n := len(buf) - did
		if n > ub.Remain() {
			n = ub.Remain()
		}
		var err defs.Err_t
		if write {
			err = ub.as.CopyToUser(va, buf[did:did+n])
		} else {
			err = ub.as.CopyFromUser(buf[did:did+n], va)
		}
		if err != 0 {
			return did, err
		}
		did += n
		ub.off += n
	}
	return did, 0
}

/// Uioread copies from the user range into dst.
func (ub *Userbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	return ub._tx(dst, false)
}

/// Uiowrite copies src into the user range.
func (ub *Userbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	return ub._tx(src, true)
}
