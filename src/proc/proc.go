// Package proc implements the process control block and the
// parent/child/session/group graph spec.md section 4.5 describes. The
// retrieval pack's copy of this package ships only a go.mod -- no
// proc.go, sched.go, or trap.go survived distillation -- so the shape
// here is built from spec.md's own PCB field list (section 3) and from
// the idiom of sibling packages this tree already has source for:
// tinfo.Tnote_t's kill/doom handshake, accnt.Accnt_t's embedded usage
// accounting, fd.Cwd_t/fd.Fd_t's fd-table shape, and vm.Vm_t's address
// space. See DESIGN.md.
package proc

import (
	"sync"

	"coalos/src/accnt"
	"coalos/src/defs"
	"coalos/src/fd"
	"coalos/src/tinfo"
	"coalos/src/vm"
)

// Pstate_t is the process lifecycle state (spec.md section 3).
type Pstate_t int

const (
	INITIALIZING Pstate_t = iota
	READY
	RUNNING
	SLEEPING
	ZOMBIE
)

func (s Pstate_t) String() string {
	switch s {
	case INITIALIZING:
		return "INITIALIZING"
	case READY:
		return "READY"
	case RUNNING:
		return "RUNNING"
	case SLEEPING:
		return "SLEEPING"
	case ZOMBIE:
		return "ZOMBIE"
	default:
		return "?"
	}
}

// KernelStackPages is the number of physical page frames mapped to a
// process's kernel-virtual stack range (spec.md section 6: "kernel
// stack 4 pages per process").
const KernelStackPages = 4

// MaxFds is the per-process open-file-descriptor ceiling (spec.md
// section 6).
const MaxFds = 16

// TrapFrame_t is the saved register context a context switch resumes
// from -- spec.md section 3's "saved kernel ESP for first resume" is
// the address of one of these pushed onto the kernel stack.
type TrapFrame_t struct {
	Eax, Ebx, Ecx, Edx uint32
	Esi, Edi, Ebp      uint32
	Eip, Cs, Eflags    uint32
	Esp, Ss             uint32
}

// Proc_t is the kernel's per-process record (spec.md section 3's PCB).
// CoalOS gives every process exactly one kernel thread (spec.md's
// Non-goals exclude SMP and this repo never forks a second thread per
// process), so the PCB and the TCB spec.md section 3 describes
// separately are the same Go struct; section 4.6's "TCB/run-queue
// node" fields are embedded directly here too, mutated only by package
// sched, the way the teacher embeds Accnt_t and leaves it to the
// accounting call sites to mutate responsibly.
type Proc_t struct {
	Pid  defs.Pid_t
	Ppid defs.Pid_t
	Tid  defs.Tid_t

	Name string

	statelock sync.Mutex
	State     Pstate_t

	Vm  *vm.Vm_t
	Cwd *fd.Cwd_t

	fdlock sync.Mutex
	Fds    [MaxFds]*fd.Fd_t

	Accnt accnt.Accnt_t
	Tnote *tinfo.Tnote_t

	Sig Sig_t

	mylock      sync.Mutex
	parent      *Proc_t
	children    map[defs.Pid_t]*Proc_t
	exitStatus  int
	hasExited   bool
	waitCh      chan struct{}

	Pgrp *Pgrp_t

	// EntryEip/UserEsp are the entry point and initial user stack
	// pointer an execve-style loader records; PrepareInitialFrame uses
	// them to build the first trap frame this process resumes into.
	EntryEip uint32
	UserEsp  uint32

	KernStack []byte
	KernEsp   uint32

	// Scheduler-owned fields (spec.md section 3's TCB/run-queue node):
	// mutated only by package sched.
	SchedLevel     int
	SchedRemain    int
	SchedWaitTicks int
	SleepDeadline  uint64
}

var table struct {
	sync.Mutex
	procs  map[defs.Pid_t]*Proc_t
	nextID defs.Pid_t
}

var Threads tinfo.Threadinfo_t

func init() {
	table.procs = make(map[defs.Pid_t]*Proc_t)
	table.nextID = defs.ReservedPids
	Threads.Init()
}

// allocPid returns a fresh pid, wrapping around past a 24-bit range and
// skipping the reserved low ids (spec.md section 4.5: "monotonically
// assigned with wraparound skipping reserved low IDs").
func allocPid() defs.Pid_t {
	table.Lock()
	defer table.Unlock()
	for {
		id := table.nextID
		table.nextID++
		if table.nextID <= 0 || table.nextID > 1<<24 {
			table.nextID = defs.ReservedPids
		}
		if id < defs.ReservedPids {
			continue
		}
		if _, taken := table.procs[id]; taken {
			continue
		}
		return id
	}
}

// MkProc allocates a PCB, a kernel stack, a kill note, and links it as
// parent's child. The returned process starts INITIALIZING; the caller
// finishes populating Vm/Cwd/Fds and hands it to the scheduler with
// sched.Sched_t.Enqueue.
func MkProc(name string, parent *Proc_t) *Proc_t {
	p := &Proc_t{
		Pid:       allocPid(),
		Name:      name,
		State:     INITIALIZING,
		children:  make(map[defs.Pid_t]*Proc_t),
		waitCh:    make(chan struct{}),
		KernStack: make([]byte, KernelStackPages*pageSize),
	}
	p.Tid = defs.Tid_t(p.Pid)
	p.Tnote = Threads.Register(p.Tid)
	p.Sig.init()

	table.Lock()
	table.procs[p.Pid] = p
	table.Unlock()

	if parent != nil {
		p.Ppid = parent.Pid
		p.parent = parent
		parent.mylock.Lock()
		parent.children[p.Pid] = p
		parent.mylock.Unlock()
	}
	return p
}

const pageSize = 4096

// MkInitProc constructs the single distinguished process that orphaned
// children are reparented to (pid 1, conventionally "init"); it is
// created once at boot through this constructor instead of MkProc
// because allocPid never hands out 1 (defs.ReservedPids starts the
// ordinary allocator at 2).
func MkInitProc(name string) *Proc_t {
	p := &Proc_t{
		Pid:       defs.ReservedPids - 1,
		Name:      name,
		State:     INITIALIZING,
		children:  make(map[defs.Pid_t]*Proc_t),
		waitCh:    make(chan struct{}),
		KernStack: make([]byte, KernelStackPages*pageSize),
	}
	p.Tid = defs.Tid_t(p.Pid)
	p.Tnote = Threads.Register(p.Tid)
	p.Sig.init()

	table.Lock()
	table.procs[p.Pid] = p
	table.Unlock()
	return p
}

// PrepareInitialFrame writes the trap frame a brand-new process resumes
// into at entry/stack, and records the resulting kernel ESP (spec.md
// section 4.5: "the saved kernel ESP for switch is prepared by pushing
// an initial trap frame representing the target user context"). The
// real kernel pushes this frame onto the physical kernel stack so an
// ordinary interrupt-return resumes in user mode; this stands in a
// struct at the tail of KernStack and records its offset instead, since
// there is no real IRET here.
func (p *Proc_t) PrepareInitialFrame(entry, stack uint32) {
	p.EntryEip = entry
	p.UserEsp = stack
	p.ResumeWith(TrapFrame_t{Eip: entry, Esp: stack, Eflags: 0x200 /* IF */})
}

// ResumeWith writes tf to the tail of the kernel stack and records the
// resulting kernel ESP, the general form PrepareInitialFrame and
// fork's child-resume path both build on.
func (p *Proc_t) ResumeWith(tf TrapFrame_t) {
	off := len(p.KernStack) - unsafeSizeofTrapFrame
	putTrapFrame(p.KernStack[off:], &tf)
	p.KernEsp = uint32(off)
}

const unsafeSizeofTrapFrame = 12 * 4

func putTrapFrame(b []byte, tf *TrapFrame_t) {
	w := func(i int, v uint32) {
		b[i] = byte(v)
		b[i+1] = byte(v >> 8)
		b[i+2] = byte(v >> 16)
		b[i+3] = byte(v >> 24)
	}
	w(0, tf.Eax)
	w(4, tf.Ebx)
	w(8, tf.Ecx)
	w(12, tf.Edx)
	w(16, tf.Esi)
	w(20, tf.Edi)
	w(24, tf.Ebp)
	w(28, tf.Eip)
	w(32, tf.Cs)
	w(36, tf.Eflags)
	w(40, tf.Esp)
	w(44, tf.Ss)
}

// SetState transitions p's lifecycle state under its state lock.
func (p *Proc_t) SetState(s Pstate_t) {
	p.statelock.Lock()
	p.State = s
	p.statelock.Unlock()
}

// Getstate reads p's lifecycle state.
func (p *Proc_t) Getstate() Pstate_t {
	p.statelock.Lock()
	defer p.statelock.Unlock()
	return p.State
}

// Find looks a live or zombie process up by pid.
func Find(pid defs.Pid_t) *Proc_t {
	table.Lock()
	defer table.Unlock()
	return table.procs[pid]
}

// Addfd installs f at the lowest free descriptor index ≥ start, or
// returns EMFILE if the table (spec.md section 6: "≤ 16 open file
// descriptors per process") is full.
func (p *Proc_t) Addfd(f *fd.Fd_t, start int) (int, defs.Err_t) {
	p.fdlock.Lock()
	defer p.fdlock.Unlock()
	for i := start; i < MaxFds; i++ {
		if p.Fds[i] == nil {
			p.Fds[i] = f
			return i, 0
		}
	}
	return 0, defs.EMFILE
}

// Getfd returns the open file at index fdn, or EBADF.
func (p *Proc_t) Getfd(fdn int) (*fd.Fd_t, defs.Err_t) {
	p.fdlock.Lock()
	defer p.fdlock.Unlock()
	if fdn < 0 || fdn >= MaxFds || p.Fds[fdn] == nil {
		return nil, defs.EBADF
	}
	return p.Fds[fdn], 0
}

// Closefd removes and closes the descriptor at fdn. Closing twice is
// idempotent on the slot (spec.md's testable property 9): the second
// call simply reports EBADF, nothing already torn down is touched
// again.
func (p *Proc_t) Closefd(fdn int) defs.Err_t {
	p.fdlock.Lock()
	f, err := p.getfdLocked(fdn)
	if err != 0 {
		p.fdlock.Unlock()
		return err
	}
	p.Fds[fdn] = nil
	p.fdlock.Unlock()
	return f.Fops.Close()
}

// Setfd installs f at exactly index fdn, closing whatever was already
// there -- the primitive dup2(old, new) needs, since dup2 fixes the
// resulting descriptor number rather than picking the lowest free one.
func (p *Proc_t) Setfd(fdn int, f *fd.Fd_t) defs.Err_t {
	if fdn < 0 || fdn >= MaxFds {
		return defs.EINVAL
	}
	p.fdlock.Lock()
	old := p.Fds[fdn]
	p.Fds[fdn] = f
	p.fdlock.Unlock()
	if old != nil {
		fd.Close_panic(old)
	}
	return 0
}

// CloseOnExec closes every descriptor marked FD_CLOEXEC, the step
// execve takes before installing the new address space (spec.md
// section 6 lists execv by name without detailing fd inheritance; this
// follows ordinary POSIX exec semantics).
func (p *Proc_t) CloseOnExec() {
	p.fdlock.Lock()
	defer p.fdlock.Unlock()
	for i, f := range p.Fds {
		if f != nil && f.Perms&fd.FD_CLOEXEC != 0 {
			fd.Close_panic(f)
			p.Fds[i] = nil
		}
	}
}

func (p *Proc_t) getfdLocked(fdn int) (*fd.Fd_t, defs.Err_t) {
	if fdn < 0 || fdn >= MaxFds || p.Fds[fdn] == nil {
		return nil, defs.EBADF
	}
	return p.Fds[fdn], 0
}

// Teardown releases everything an exiting process owns except the PCB
// itself, in the order spec.md section 4.5 requires: "free memory
// regions, user page tables and frames, the page directory, the kernel
// stack, then the PCB" -- the PCB survives as a ZOMBIE until a
// parent's Wait reaps it and reclaim drops it from the process table.
func (p *Proc_t) Teardown() {
	if p.Vm != nil {
		p.Vm.Uvmfree()
	}
	p.fdlock.Lock()
	for i, f := range p.Fds {
		if f != nil {
			fd.Close_panic(f)
			p.Fds[i] = nil
		}
	}
	p.fdlock.Unlock()
	p.KernStack = nil
	Threads.Remove(p.Tid)
}

// reclaim drops p from the global process table; called only once a
// parent has reaped p (or p is the unparented init process exiting).
func reclaim(pid defs.Pid_t) {
	table.Lock()
	delete(table.procs, pid)
	table.Unlock()
}
