package proc

import (
	"coalos/src/fd"
	"coalos/src/vm"
)

// AddressSpaceCloner_i is the narrow contract Memory Core (spec.md
// section 2's C8, "a collaborator whose contract is specified, not a
// module this repository implements") must satisfy for fork to copy a
// parent's address space. proc.Fork never reaches into page tables or
// physical frames itself; it only calls this interface, the same way
// spec.md section 9 asks duck-typed contexts to become "an opaque
// token plus a typed driver record."
type AddressSpaceCloner_i interface {
	Clone(*vm.Vm_t) *vm.Vm_t
}

// Fork creates a child of parent: a fresh PCB and kernel stack, a
// cloned address space (via cloner), and a fd table that shares the
// same underlying Fdops_i reference per entry (POSIX fork semantics --
// parent and child see the same file offset through a shared handle,
// spec.md end-to-end scenario S3's "offsets are independent" is about
// two *separate* opens of the same inode, not about fork-shared
// descriptors). The child starts INITIALIZING; the caller enqueues it
// with the scheduler once its trap frame is prepared.
func Fork(parent *Proc_t, cloner AddressSpaceCloner_i) *Proc_t {
	child := MkProc(parent.Name, parent)
	child.Vm = cloner.Clone(parent.Vm)

	parent.fdlock.Lock()
	for i, f := range parent.Fds {
		if f == nil {
			continue
		}
		if nf, err := fd.Copyfd(f); err == 0 {
			child.Fds[i] = nf
		}
	}
	parent.fdlock.Unlock()

	if parent.Cwd != nil {
		cwd := *parent.Cwd
		child.Cwd = &cwd
	}
	return child
}
