package vfs

import (
	"sync"

	"coalos/src/circbuf"
	"coalos/src/defs"
	"coalos/src/fd"
	"coalos/src/fdops"
	"coalos/src/mem"
)

// pipeSize is the circular buffer capacity backing one pipe -- one
// page, the same size circbuf.Cb_init's bufmax ceiling allows.
const pipeSize = mem.PGSIZE

// pipe_t is the shared state between a pipe's two ends. spec.md
// section 6 lists pipe(fds_out) and dup2(old, new) in the syscall
// surface without describing pipe semantics further (§ SUPPLEMENTED
// FEATURES); this backs them with circbuf.Circbuf_t, kept from the
// teacher and already shaped as a single-writer/single-reader ring
// buffer over fdops.Userio_i.
type pipe_t struct {
	mu        sync.Mutex
	cb        circbuf.Circbuf_t
	readOpen  bool
	writeOpen bool
}

func newPipe() *pipe_t {
	p := &pipe_t{readOpen: true, writeOpen: true}
	p.cb.Cb_init(pipeSize, mem.Physmem)
	return p
}

type pipeEnd_t struct {
	p        *pipe_t
	isReader bool
}

// MkPipe constructs a connected pair of pipe ends, ready to install
// into a process's fd table the way sys_pipe's handler does.
func MkPipe() (*fd.Fd_t, *fd.Fd_t) {
	p := newPipe()
	rd := &fd.Fd_t{Fops: &pipeEnd_t{p: p, isReader: true}, Perms: fd.FD_READ}
	wr := &fd.Fd_t{Fops: &pipeEnd_t{p: p, isReader: false}, Perms: fd.FD_WRITE}
	return rd, wr
}

func (e *pipeEnd_t) Close() defs.Err_t {
	e.p.mu.Lock()
	if e.isReader {
		e.p.readOpen = false
	} else {
		e.p.writeOpen = false
	}
	e.p.mu.Unlock()
	return 0
}

func (e *pipeEnd_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	if !e.isReader {
		return 0, defs.EINVAL
	}
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if e.p.cb.Empty() && !e.p.writeOpen {
		return 0, 0 // EOF: writer gone, nothing left to drain
	}
	return e.p.cb.Copyout(dst)
}

func (e *pipeEnd_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	if e.isReader {
		return 0, defs.EINVAL
	}
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	if !e.p.readOpen {
		return 0, defs.EPIPE
	}
	return e.p.cb.Copyin(src)
}

func (e *pipeEnd_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, defs.EINVAL }
func (e *pipeEnd_t) Fstat(st fdops.StatStore_i) defs.Err_t {
	st.Wmode(0010000) // S_IFIFO
	return 0
}
func (e *pipeEnd_t) Pathi() fdops.Vnode_i { return nil }
func (e *pipeEnd_t) Reopen() defs.Err_t   { return 0 }
func (e *pipeEnd_t) Truncate(newlen uint) defs.Err_t {
	return defs.EINVAL
}
func (e *pipeEnd_t) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	e.p.mu.Lock()
	defer e.p.mu.Unlock()
	var r fdops.Ready_t
	if pm.Events&fdops.R_READ != 0 && (!e.p.cb.Empty() || !e.p.writeOpen) {
		r |= fdops.R_READ
	}
	if pm.Events&fdops.R_WRITE != 0 && (e.p.cb.Left() > 0 || !e.p.readOpen) {
		r |= fdops.R_WRITE
	}
	return r, 0
}
