package trap

import (
	"testing"

	"coalos/src/defs"
	"coalos/src/proc"
	"coalos/src/sched"
	"coalos/src/vfs"
	"coalos/src/vm"
)

type fakePic_t struct {
	master, slave int
}

func (f *fakePic_t) EOIMaster() { f.master++ }
func (f *fakePic_t) EOISlave()  { f.slave++ }

type fakeFault_t struct {
	msg string
}

func (f *fakeFault_t) Panic(msg string) { f.msg = msg }

type fakeConsole_t struct {
	written string
}

func (f *fakeConsole_t) WriteString(s string) (int, defs.Err_t) { f.written += s; return len(s), 0 }
func (f *fakeConsole_t) ReadLine(buf []byte) (int, defs.Err_t)  { return copy(buf, "hi\n"), 0 }

type fakeCloner_t struct{}

func (fakeCloner_t) Clone(v *vm.Vm_t) *vm.Vm_t { return &vm.Vm_t{} }

func newTestTrap(t *testing.T) (*Trap_t, *fakePic_t, *fakeFault_t) {
	idle := proc.MkProc("idle", nil)
	s := sched.New(idle)
	pic := &fakePic_t{}
	fault := &fakeFault_t{}
	tt := New(s, pic, fault, vfs.MkVfs(), &fakeConsole_t{}, fakeCloner_t{})
	t.Cleanup(tt.Close)
	return tt, pic, fault
}

func TestConsoleIRQIsAnMsiVectorAndNeedsNoPicEoi(t *testing.T) {
	tt, pic, _ := newTestTrap(t)
	if tt.ConsoleIRQ < 56 || tt.ConsoleIRQ > 63 {
		t.Fatalf("expected the console's MSI vector allocated from msi's 56-63 pool, got %d", tt.ConsoleIRQ)
	}
	tt.HandleIRQ(int(tt.ConsoleIRQ))
	if tt.ConsoleInterrupts() != 1 {
		t.Fatalf("expected one counted console interrupt, got %d", tt.ConsoleInterrupts())
	}
	if pic.master != 0 || pic.slave != 0 {
		t.Fatalf("MSI delivery should never touch the legacy 8259 EOI path")
	}
}

// newBareTrap builds a Trap_t without registering automatic cleanup, so
// tests that manage the console MSI vector's lifecycle explicitly don't
// double-free it.
func newBareTrap() *Trap_t {
	idle := proc.MkProc("idle", nil)
	return New(sched.New(idle), &fakePic_t{}, &fakeFault_t{}, vfs.MkVfs(), &fakeConsole_t{}, fakeCloner_t{})
}

func TestConsoleVectorPoolIsBoundedAndCloseReturnsIt(t *testing.T) {
	var held []*Trap_t
	for i := 0; i < 8; i++ {
		held = append(held, newBareTrap())
	}
	defer func() {
		for _, tt := range held {
			tt.Close()
		}
	}()

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected allocating a 9th console vector to panic once the 8-vector pool is exhausted")
			}
		}()
		newBareTrap()
	}()

	held[0].Close()
	held = held[1:]
	reused := newBareTrap()
	held = append(held, reused)
	if reused.ConsoleIRQ < 56 || reused.ConsoleIRQ > 63 {
		t.Fatalf("expected a valid MSI vector reused after Close, got %d", reused.ConsoleIRQ)
	}
}

func TestHandleIRQTimerSendsEoiBeforeTick(t *testing.T) {
	tt, pic, _ := newTestTrap(t)
	tt.HandleIRQ(IRQTimer)
	if pic.master != 1 {
		t.Fatalf("expected one master EOI for the timer IRQ, got %d", pic.master)
	}
	if pic.slave != 0 {
		t.Fatalf("timer IRQ should never need a slave EOI")
	}
}

func TestHandleIRQSlaveRangeSendsBothEois(t *testing.T) {
	tt, pic, _ := newTestTrap(t)
	tt.HandleIRQ(IRQBase + 9) // irq 9, on the slave PIC
	if pic.master != 1 || pic.slave != 1 {
		t.Fatalf("expected one master and one slave EOI, got master=%d slave=%d", pic.master, pic.slave)
	}
}

func TestHandlePageFaultKernelModePanics(t *testing.T) {
	tt, _, fault := newTestTrap(t)
	p := proc.MkProc("victim", nil)
	p.Vm = &vm.Vm_t{}
	tt.HandlePageFault(p, 0xdead000, false)
	if fault.msg == "" {
		t.Fatalf("expected kernel-mode fault to report a panic")
	}
}

func TestHandlePageFaultUserModeGrowsStackWithinReserve(t *testing.T) {
	tt, _, fault := newTestTrap(t)
	p := proc.MkProc("victim", nil)
	p.Vm = &vm.Vm_t{}
	p.Vm.Vmadd_anon(0x10000, 0x1000, vm.PERM_R|vm.PERM_W)
	r := p.Vm.Vmregion.Lookup(0x10000)
	p.Vm.SetStackRegion(r, 0x8000)

	tt.HandlePageFault(p, 0xf000, true)
	if fault.msg != "" {
		t.Fatalf("a growable user-mode fault must not panic")
	}
	if !p.Vm.Access_ok(0xf000, 1, true) {
		t.Fatalf("expected the stack region extended to cover the faulting address")
	}
}

func TestHandlePageFaultUserModeOutsideReserveKillsProcess(t *testing.T) {
	tt, _, _ := newTestTrap(t)
	p := proc.MkProc("victim", nil)
	p.Vm = &vm.Vm_t{}
	p.Vm.Vmadd_anon(0x10000, 0x1000, vm.PERM_R|vm.PERM_W)
	r := p.Vm.Vmregion.Lookup(0x10000)
	p.Vm.SetStackRegion(r, 0x8000)

	tt.HandlePageFault(p, 0x1000, true)
	sig, _, ok := p.CheckPending()
	if !ok || sig != defs.SIGSEGV {
		t.Fatalf("expected SIGSEGV queued for an unreserved fault, got sig=%d ok=%v", sig, ok)
	}
}

func TestSyscallDispatchesRegisteredHandler(t *testing.T) {
	tt, _, _ := newTestTrap(t)
	p := proc.MkProc("caller", nil)
	called := false
	tt.RegisterSyscall(defs.SYS_GETPID, func(t *Trap_t, p *proc.Proc_t, f *proc.TrapFrame_t) int32 {
		called = true
		return 42
	})
	frame := &proc.TrapFrame_t{Eax: uint32(defs.SYS_GETPID)}
	tt.Syscall(p, frame)
	if !called || frame.Eax != 42 {
		t.Fatalf("expected registered handler invoked and return value written back")
	}
}

func TestSyscallUnknownNumberReturnsNegEnosys(t *testing.T) {
	tt, _, _ := newTestTrap(t)
	p := proc.MkProc("caller", nil)
	frame := &proc.TrapFrame_t{Eax: 0xffff}
	tt.Syscall(p, frame)
	if int32(frame.Eax) != -int32(defs.ENOSYS) {
		t.Fatalf("expected -ENOSYS for an unimplemented syscall number, got %d", int32(frame.Eax))
	}
}

func TestSyscallDeliversDefaultDispositionSignalAsExit(t *testing.T) {
	tt, _, _ := newTestTrap(t)
	p := proc.MkProc("caller", nil)
	p.Kill(5)
	frame := &proc.TrapFrame_t{Eax: uint32(defs.SYS_GETPID)}
	tt.Syscall(p, frame)
	if p.Getstate() != proc.ZOMBIE {
		t.Fatalf("expected a default-disposition pending signal to terminate the process")
	}
}

func TestSysGetpidGetppid(t *testing.T) {
	tt, _, _ := newTestTrap(t)
	parent := proc.MkProc("parent", nil)
	child := proc.MkProc("child", parent)
	frame := &proc.TrapFrame_t{Eax: uint32(defs.SYS_GETPID)}
	tt.Syscall(child, frame)
	if defs.Pid_t(int32(frame.Eax)) != child.Pid {
		t.Fatalf("expected getpid to return the caller's own pid")
	}
	frame = &proc.TrapFrame_t{Eax: uint32(defs.SYS_GETPPID)}
	tt.Syscall(child, frame)
	if defs.Pid_t(int32(frame.Eax)) != parent.Pid {
		t.Fatalf("expected getppid to return the parent's pid")
	}
}

func TestSysWriteZeroLengthNeverTouchesMemory(t *testing.T) {
	tt, _, _ := newTestTrap(t)
	p := proc.MkProc("caller", nil)
	p.Vm = &vm.Vm_t{} // no regions mapped at all
	frame := &proc.TrapFrame_t{Eax: uint32(defs.SYS_WRITE), Ebx: 1, Ecx: 0xbadf00d, Edx: 0}
	tt.Syscall(p, frame)
	if int32(frame.Eax) != 0 {
		t.Fatalf("expected write(fd, badptr, 0) to return 0 without faulting, got %d", int32(frame.Eax))
	}
}

func TestSysPipeThenDup2(t *testing.T) {
	tt, _, _ := newTestTrap(t)
	p := proc.MkProc("caller", nil)
	p.Vm = &vm.Vm_t{}
	p.Vm.Vmadd_anon(0x20000, 0x1000, vm.PERM_R|vm.PERM_W)

	frame := &proc.TrapFrame_t{Eax: uint32(defs.SYS_PIPE), Ebx: 0x20000}
	tt.Syscall(p, frame)
	if int32(frame.Eax) != 0 {
		t.Fatalf("expected pipe() to succeed, got %d", int32(frame.Eax))
	}
	var fds [8]byte
	if err := p.Vm.CopyFromUser(fds[:], 0x20000); err != 0 {
		t.Fatalf("copy back fds: %v", err)
	}
	rdn := int(fds[0])
	wrn := int(fds[4])

	dupFrame := &proc.TrapFrame_t{Eax: uint32(defs.SYS_DUP2), Ebx: uint32(wrn), Ecx: 9}
	tt.Syscall(p, dupFrame)
	if int32(dupFrame.Eax) != 9 {
		t.Fatalf("expected dup2 to return the target descriptor, got %d", int32(dupFrame.Eax))
	}
	if _, err := p.Getfd(9); err != 0 {
		t.Fatalf("expected fd 9 installed by dup2")
	}
	if _, err := p.Getfd(rdn); err != 0 {
		t.Fatalf("expected original read end still open")
	}
}
