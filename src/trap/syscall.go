// Syscall handler table. spec.md section 6 lists the syscall surface by
// name and argument shape; each handler here reads its arguments out of
// the trap frame's Ebx/Ecx/Edx the way Trap_t.Syscall's doc comment
// describes, and returns a value or a negated errno for Eax.
package trap

import (
	"coalos/src/defs"
	"coalos/src/fd"
	"coalos/src/proc"
	"coalos/src/ustr"
	"coalos/src/vfs"
	"coalos/src/vm"
)

// Console_i is the narrow contract the HAL's console/serial driver
// exposes to sys_puts and sys_read_terminal_line; the driver itself is
// an external collaborator out of scope here (spec.md section 1:
// "terminal/serial device drivers").
type Console_i interface {
	WriteString(s string) (int, defs.Err_t)
	ReadLine(buf []byte) (int, defs.Err_t)
}

// MaxPathLen bounds a pathname argument copied in from user memory.
const MaxPathLen = 256

func errRet(err defs.Err_t) int32 {
	return -int32(err)
}

func permsForFlags(flags int) int {
	p := 0
	switch flags & 0x3 {
	case defs.O_RDONLY:
		p = fd.FD_READ
	case defs.O_WRONLY:
		p = fd.FD_WRITE
	case defs.O_RDWR:
		p = fd.FD_READ | fd.FD_WRITE
	}
	return p
}

func (t *Trap_t) installSyscalls() {
	t.syscalls[defs.SYS_EXIT] = sys_exit
	t.syscalls[defs.SYS_FORK] = sys_fork
	t.syscalls[defs.SYS_READ] = sys_read
	t.syscalls[defs.SYS_WRITE] = sys_write
	t.syscalls[defs.SYS_OPEN] = sys_open
	t.syscalls[defs.SYS_CLOSE] = sys_close
	t.syscalls[defs.SYS_PUTS] = sys_puts
	t.syscalls[defs.SYS_CHDIR] = sys_chdir
	t.syscalls[defs.SYS_WAITPID] = sys_waitpid
	t.syscalls[defs.SYS_LSEEK] = sys_lseek
	t.syscalls[defs.SYS_GETPID] = sys_getpid
	t.syscalls[defs.SYS_GETPPID] = sys_getppid
	t.syscalls[defs.SYS_READTERM] = sys_read_terminal_line
	t.syscalls[defs.SYS_DUP2] = sys_dup2
	t.syscalls[defs.SYS_KILL] = sys_kill
	t.syscalls[defs.SYS_PIPE] = sys_pipe
	t.syscalls[defs.SYS_SIGNAL] = sys_signal
	t.syscalls[defs.SYS_GETCWD] = sys_getcwd
	t.syscalls[defs.SYS_EXECV] = sys_execv
}

func sys_exit(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	status := int(frame.Ebx)
	p.Exit(status)
	t.Sched.Exit(p)
	return 0
}

// sys_fork duplicates p's address space through t.Cloner and its open
// fd table, and gives the child a trap frame identical to the parent's
// except Eax=0 -- the dual-return fork() convention (spec.md section 6).
func sys_fork(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	child := proc.Fork(p, t.Cloner)
	childFrame := *frame
	childFrame.Eax = 0
	child.ResumeWith(childFrame)
	child.SetState(proc.READY)
	t.Sched.Enqueue(child, 0) // new tasks start at the top priority level
	return int32(child.Pid)
}

// sys_read builds a Userbuf_t spanning the caller's [userva, userva+n)
// range and hands it to the fd's Fops.Read; the file handle underneath
// (vfs.Fhandle_t) is what chunks the actual disk/page-cache transfer
// through a bounded kernel bounce buffer (spec.md section 4.7), not
// this dispatch layer, so no n-sized allocation happens here.
func sys_read(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	fdn := int(frame.Ebx)
	userva := int(frame.Ecx)
	n := int(frame.Edx)
	if n == 0 {
		return 0
	}
	f, err := p.Getfd(fdn)
	if err != 0 {
		return errRet(err)
	}
	ub := vm.Mkuserbuf(p.Vm, userva, n)
	total, rerr := f.Fops.Read(ub)
	if rerr != 0 {
		return errRet(rerr)
	}
	return int32(total)
}

// write(1, NULL, 10) must return -EFAULT without writing any byte; the
// n==0 short-circuit below runs before any memory is touched, so
// write(1, badptr, 0) instead returns 0, matching testable scenario S6.
func sys_write(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	fdn := int(frame.Ebx)
	userva := int(frame.Ecx)
	n := int(frame.Edx)
	if n == 0 {
		return 0
	}
	f, err := p.Getfd(fdn)
	if err != 0 {
		return errRet(err)
	}
	ub := vm.Mkuserbuf(p.Vm, userva, n)
	total, werr := f.Fops.Write(ub)
	if werr != 0 {
		return errRet(werr)
	}
	return int32(total)
}

func sys_open(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	pathva := int(frame.Ebx)
	flags := int(frame.Ecx)
	mode := int(frame.Edx)
	pathb, err := p.Vm.StrncpyFromUser(pathva, MaxPathLen)
	if err != 0 {
		return errRet(err)
	}
	path := p.Cwd.Canonicalpath(ustr.Ustr(pathb))
	fh, oerr := t.Vfs.Open(path, flags, mode)
	if oerr != 0 {
		return errRet(oerr)
	}
	nf := &fd.Fd_t{Fops: fh, Perms: permsForFlags(flags)}
	fdn, aerr := p.Addfd(nf, 3) // 0,1,2 reserved for stdio
	if aerr != 0 {
		fd.Close_panic(nf)
		return errRet(aerr)
	}
	return int32(fdn)
}

func sys_close(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	return errRet(p.Closefd(int(frame.Ebx)))
}

func sys_puts(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	userva := int(frame.Ebx)
	n := int(frame.Ecx)
	if n == 0 {
		return 0
	}
	buf, err := p.Vm.StrncpyFromUser(userva, n)
	if err != 0 {
		// StrncpyFromUser treats a missing NUL within n bytes as
		// ENAMETOOLONG; puts has no terminator requirement, so fall
		// back to a raw bounded copy.
		raw := make([]byte, n)
		if cerr := p.Vm.CopyFromUser(raw, userva); cerr != 0 {
			return errRet(cerr)
		}
		buf = raw
	}
	wn, werr := t.Console.WriteString(string(buf))
	if werr != 0 {
		return errRet(werr)
	}
	return int32(wn)
}

func sys_chdir(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
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
	fh.Close()
	p.Cwd.Lock()
	p.Cwd.Path = path
	p.Cwd.Unlock()
	return 0
}

func sys_waitpid(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	pid := defs.Pid_t(int32(frame.Ebx))
	statusva := int(frame.Ecx)
	options := int(frame.Edx)
	rpid, status, err := p.Wait(pid, options)
	if err != 0 {
		return errRet(err)
	}
	if statusva != 0 {
		var sb [4]byte
		sb[0] = byte(status)
		sb[1] = byte(status >> 8)
		sb[2] = byte(status >> 16)
		sb[3] = byte(status >> 24)
		if cerr := p.Vm.CopyToUser(statusva, sb[:]); cerr != 0 {
			return errRet(cerr)
		}
	}
	return int32(rpid)
}

func sys_lseek(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	fdn := int(frame.Ebx)
	off := int(frame.Ecx)
	whence := int(frame.Edx)
	f, err := p.Getfd(fdn)
	if err != 0 {
		return errRet(err)
	}
	n, lerr := f.Fops.Lseek(off, whence)
	if lerr != 0 {
		return errRet(lerr)
	}
	return int32(n)
}

func sys_getpid(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	return int32(p.Pid)
}

func sys_getppid(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	return int32(p.Ppid)
}

func sys_read_terminal_line(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	userva := int(frame.Ebx)
	n := int(frame.Ecx)
	if n == 0 {
		return 0
	}
	buf := make([]byte, n)
	rn, rerr := t.Console.ReadLine(buf)
	if rerr != 0 {
		return errRet(rerr)
	}
	if cerr := p.Vm.CopyToUser(userva, buf[:rn]); cerr != 0 {
		return errRet(cerr)
	}
	return int32(rn)
}

func sys_dup2(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	oldfdn := int(frame.Ebx)
	newfdn := int(frame.Ecx)
	if oldfdn == newfdn {
		if _, err := p.Getfd(oldfdn); err != 0 {
			return errRet(err)
		}
		return int32(newfdn)
	}
	old, err := p.Getfd(oldfdn)
	if err != 0 {
		return errRet(err)
	}
	nf, cerr := fd.Copyfd(old)
	if cerr != 0 {
		return errRet(cerr)
	}
	if serr := p.Setfd(newfdn, nf); serr != 0 {
		return errRet(serr)
	}
	return int32(newfdn)
}

func sys_kill(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	pid := defs.Pid_t(int32(frame.Ebx))
	sig := int(frame.Ecx)
	target := proc.Find(pid)
	if target == nil {
		return errRet(defs.EINVAL) // spec.md's errno set has no ESRCH
	}
	return errRet(target.Kill(sig))
}

func sys_pipe(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	fdsva := int(frame.Ebx)
	rd, wr := vfs.MkPipe()
	rdn, err := p.Addfd(rd, 3)
	if err != 0 {
		fd.Close_panic(rd)
		fd.Close_panic(wr)
		return errRet(err)
	}
	wrn, werr := p.Addfd(wr, 3)
	if werr != 0 {
		p.Closefd(rdn)
		fd.Close_panic(wr)
		return errRet(werr)
	}
	var ob [8]byte
	ob[0] = byte(rdn)
	ob[1] = byte(rdn >> 8)
	ob[2] = byte(rdn >> 16)
	ob[3] = byte(rdn >> 24)
	ob[4] = byte(wrn)
	ob[5] = byte(wrn >> 8)
	ob[6] = byte(wrn >> 16)
	ob[7] = byte(wrn >> 24)
	if cerr := p.Vm.CopyToUser(fdsva, ob[:]); cerr != 0 {
		p.Closefd(rdn)
		p.Closefd(wrn)
		return errRet(cerr)
	}
	return 0
}

func sys_signal(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	sig := int(frame.Ebx)
	handler := uintptr(frame.Ecx)
	return errRet(p.Sigaction(sig, handler))
}

func sys_getcwd(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32 {
	userva := int(frame.Ebx)
	n := int(frame.Ecx)
	path := p.Cwd.Path
	if len(path) >= n {
		return errRet(defs.ENAMETOOLONG)
	}
	buf := make([]byte, len(path)+1)
	copy(buf, path)
	if cerr := p.Vm.CopyToUser(userva, buf); cerr != 0 {
		return errRet(cerr)
	}
	return int32(len(path))
}
