package trap

import (
	"debug/elf"
	"io"

	"coalos/src/defs"
	"coalos/src/mem"
	"coalos/src/proc"
	"coalos/src/ustr"
	"coalos/src/vfs"
	"coalos/src/vm"
)

// kbuf_t adapts a plain kernel byte slice to fdops.Userio_i, the way
// vm.Userbuf_t adapts a user-memory range -- exec needs to read a whole
// ELF image into kernel memory before it can lay out the new address
// space, so it cannot go through a Userbuf_t (there is no address space
// to target yet).
type kbuf_t struct {
	buf []byte
	off int
}

func (k *kbuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.buf[k.off:])
	k.off += n
	return n, 0
}

func (k *kbuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(k.buf[k.off:], src)
	k.off += n
	return n, 0
}

func (k *kbuf_t) Remain() int  { return len(k.buf) - k.off }
func (k *kbuf_t) Totalsz() int { return len(k.buf) }

// fhReaderAt adapts a vfs.Fhandle_t to io.ReaderAt so debug/elf.NewFile
// can parse section headers without the whole image already being in
// memory up front.
type fhReaderAt struct {
	fh *vfs.Fhandle_t
}

func (r fhReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if _, err := r.fh.Lseek(int(off), defs.SEEK_SET); err != 0 {
		return 0, err
	}
	kb := &kbuf_t{buf: p}
	n, err := r.fh.Read(kb)
	if err != 0 {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// execStackPages is the anonymous region execve maps for the new
// process's user stack (spec.md section 6: "kernel stack 4 pages per
// process" names the kernel side; the user stack gets the same
// allowance here since neither spec.md nor the teacher's Vmregion
// pins it to a different figure).
const execStackPages = 4

// execStackReservePages bounds how far GrowUserStack may extend the
// stack downward on a fault (spec.md section 7: "only within its
// reserved range").
const execStackReservePages = 64

// sys_execv replaces p's address space with the ELF image named by the
// path in Ebx, argv/envp left unimplemented (spec.md's syscall surface
// lists execv by name only, section 6; a userland libc building a full
// argv/envp convention on top of one pathname argument is out of scope
// here the same way the userland shell and libc are, section 1).
func sys_execv(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	pathva := int(frame.Ebx)
	pathb, err := p.Vm.StrncpyFromUser(pathva, MaxPathLen)
	if err != 0 {
		return errRet(err)
	}
	path := p.Cwd.Canonicalpath(ustr.Ustr(pathb))
	fh, oerr := t.Vfs.Open(path, defs.O_RDONLY, 0)
	if oerr != 0 {
		return errRet(oerr)
	}
	defer fh.Close()

	ef, eerr := elf.NewFile(fhReaderAt{fh: fh})
	if eerr != nil {
		return errRet(defs.EACCES)
	}
	defer ef.Close()

	nvm := &vm.Vm_t{}
	var maxEnd int
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		data := make([]byte, prog.Filesz)
		if _, rerr := prog.ReadAt(data, 0); rerr != nil && rerr != io.EOF {
			return errRet(defs.EACCES)
		}
		perms := permsForProgFlags(prog.Flags)
		start := int(prog.Vaddr)
		memlen := int(prog.Memsz)
		nvm.Vmadd_file(start, memlen, perms, data)
		if end := start + memlen; end > maxEnd {
			maxEnd = end
		}
	}

	// Leave execStackReservePages of unmapped room, starting at maxEnd
	// plus one page rounded down to a page boundary, for
	// HandlePageFault's on-demand growth, and place the user stack
	// directly above that room.
	stackTop := (maxEnd + mem.PGSIZE) &^ (mem.PGSIZE - 1)
	reserveBase := stackTop
	stackTop += execStackReservePages * mem.PGSIZE
	stackStart := stackTop
	stackLen := execStackPages * mem.PGSIZE
	nvm.Vmadd_anon(stackStart, stackLen, vm.PERM_R|vm.PERM_W)
	stackRegion := nvm.Vmregion.Lookup(stackStart)
	nvm.SetStackRegion(stackRegion, reserveBase)

	p.CloseOnExec()
	p.Vm = nvm
	p.PrepareInitialFrame(uint32(ef.Entry), uint32(stackStart+stackLen))
	return 0
}

func permsForProgFlags(f elf.ProgFlag) vm.Perm_t {
	var perms vm.Perm_t
	if f&elf.PF_R != 0 {
		perms |= vm.PERM_R
	}
	if f&elf.PF_W != 0 {
		perms |= vm.PERM_W
	}
	if f&elf.PF_X != 0 {
		perms |= vm.PERM_X
	}
	return perms
}
