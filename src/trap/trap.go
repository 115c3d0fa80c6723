// Package trap implements the IDT dispatch, user-memory-access
// validation, and EOI discipline spec.md section 4.7 describes. Like
// proc and sched, the retrieval pack's copy of this package ships only
// a go.mod; the vector layout, dispatcher shape, and fault-handling
// policy below are authored directly from spec.md's text. Real port
// I/O, the PIC/APIC, and the IDT descriptor tables themselves are
// listed as external collaborators in spec.md section 1 ("low-level
// port I/O primitives... the HAL timer wrapper"), so this package
// depends on them only through the narrow Pic_i contract below, never
// touching a hardware register directly.
package trap

import (
	"fmt"

	"coalos/src/defs"
	"coalos/src/msi"
	"coalos/src/proc"
	"coalos/src/sched"
	"coalos/src/vfs"
)

// Vector layout (spec.md section 4.7): 32 CPU-exception vectors, 16
// hardware-IRQ vectors remapped away from the exception range, and a
// dedicated syscall vector reachable from user mode (DPL 3).
const (
	NumExceptionVectors = 32
	IRQBase             = NumExceptionVectors
	NumIRQVectors       = 16
	SyscallVector       = IRQBase + NumIRQVectors // 48

	VecPageFault = 14 // standard x86 page-fault exception vector

	IRQTimer = IRQBase + 0
)

// Pic_i is the narrow contract the PIC (or its APIC successor) HAL
// wrapper exposes; port I/O to the 8259 itself is out of scope here
// (spec.md section 1).
type Pic_i interface {
	EOIMaster()
	EOISlave()
}

// FaultSink_i lets the kernel-mode page-fault path report a panic
// through whatever the HAL's console/serial driver is (also an
// external collaborator, spec.md section 1); trap itself never writes
// to a port.
type FaultSink_i interface {
	Panic(msg string)
}

// Trap_t is the dispatcher singleton: one per kernel, wired at boot to
// the scheduler, the PIC, a fault sink, the mounted VFS, a console
// collaborator, and the address-space cloner fork needs.
type Trap_t struct {
	Sched   *sched.Sched_t
	Pic     Pic_i
	Fault   FaultSink_i
	Vfs     *vfs.Vfs_t
	Console Console_i
	Cloner  proc.AddressSpaceCloner_i

	// ConsoleIRQ is the MSI vector the console device is registered
	// against, allocated from msi's PCI interrupt-vector pool the same
	// way a real device driver reserves one at attach time.
	ConsoleIRQ  msi.Msivec_t
	consoleIRQs int

	syscalls [defs.SYS_COUNT]syscallHandler
}

// New builds a dispatcher with every syscall slot installed (real
// handlers where this repo implements one, ENOSYS stubs elsewhere by
// virtue of the zero value) and reserves the console device's MSI
// vector.
func New(s *sched.Sched_t, pic Pic_i, fault FaultSink_i, vfsImpl *vfs.Vfs_t, console Console_i, cloner proc.AddressSpaceCloner_i) *Trap_t {
	t := &Trap_t{Sched: s, Pic: pic, Fault: fault, Vfs: vfsImpl, Console: console, Cloner: cloner}
	t.ConsoleIRQ = msi.Msi_alloc()
	t.installSyscalls()
	return t
}

// Close releases the console device's MSI vector back to the pool,
// mirroring the PCI interrupt teardown a driver performs when
// unregistering. Callers that build a Trap_t must call Close once done
// with it or the vector is never returned to msi's fixed-size pool.
func (t *Trap_t) Close() {
	msi.Msi_free(t.ConsoleIRQ)
}

// ConsoleInterrupts reports how many times the console's MSI vector has
// fired -- the signal a real serial driver treats as "input ready".
func (t *Trap_t) ConsoleInterrupts() int {
	return t.consoleIRQs
}

// HandleIRQ runs the common-prologue-to-restore path spec.md section
// 4.7 describes for one hardware interrupt vector. The timer is
// special-cased: "the timer handler sends EOI before invoking the
// scheduler tick, because the tick may context-switch and never
// return through the same stack." Every other IRQ sends EOI only
// after its handler returns, and any IRQ numbered 8-15 (vector ≥
// IRQBase+8) also needs the slave PIC's EOI.
func (t *Trap_t) HandleIRQ(vector int) {
	if vector == int(t.ConsoleIRQ) {
		// Message-signaled interrupts are delivered straight to the CPU
		// and need no 8259 EOI at all -- that's the point of MSI over a
		// legacy PIC-routed line.
		t.consoleIRQs++
		return
	}

	irq := vector - IRQBase
	if irq == 0 {
		t.Pic.EOIMaster()
		t.Sched.Tick()
		return
	}

	// device-specific handling (keyboard scancode translation, ATA PIO
	// completion, etc.) belongs to the HAL drivers named as external
	// collaborators in spec.md section 1; this dispatcher's own
	// responsibility ends at EOI sequencing.

	if irq >= 8 {
		t.Pic.EOISlave()
	}
	t.Pic.EOIMaster()
}

// HandlePageFault implements spec.md section 7's fault policy: "page
// faults in user mode -> signal-class error to the faulting process;
// never kernel panic. Page faults in kernel mode -> panic unless
// within a user-access primitive that registered a fault landing pad."
// copy_from_user/copy_to_user/strncpy_from_user (vm.Vm_t's
// CopyFromUser/CopyToUser/StrncpyFromUser) are themselves the "fault
// landing pad": they return EFAULT rather than faulting, because they
// check Access_ok before touching memory, so a real fault reaching
// this handler from kernel mode never originated inside one of them.
func (t *Trap_t) HandlePageFault(p *proc.Proc_t, faultVA uint32, userMode bool) {
	if !userMode {
		t.Fault.Panic(fmt.Sprintf("kernel-mode page fault at 0x%x", faultVA))
		return
	}
	if p.Vm.GrowUserStack(int(faultVA)) {
		return
	}
	p.Kill(defs.SIGSEGV)
}

// syscallHandler reads its own arguments out of frame (conventionally
// Ebx, Ecx, Edx, matching the x86 fastcall-ish ABI the teacher's own
// Sys_* dispatch table uses) and returns the value to place in Eax --
// a non-negative result or a negative errno.
type syscallHandler func(t *Trap_t, p *proc.Proc_t, frame *proc.TrapFrame_t) int32

// RegisterSyscall installs handler for syscall number num, overwriting
// whatever default ENOSYS stub occupied the slot.
func (t *Trap_t) RegisterSyscall(num int, handler syscallHandler) {
	t.syscalls[num] = handler
}

// Syscall reads (number, arg1, arg2, arg3) from the saved register
// frame, dispatches, and writes the return value back -- spec.md
// section 4.7: "looks up a table entry, and writes the return value
// back to the frame. Unimplemented syscalls return -ENOSYS."
func (t *Trap_t) Syscall(p *proc.Proc_t, frame *proc.TrapFrame_t) {
	num := int(frame.Eax)
	var ret int32
	if num < 0 || num >= defs.SYS_COUNT || t.syscalls[num] == nil {
		ret = -int32(defs.ENOSYS)
	} else {
		ret = t.syscalls[num](t, p, frame)
	}
	frame.Eax = uint32(ret)

	if sig, handler, ok := p.CheckPending(); ok {
		t.deliverSignal(p, frame, sig, handler)
	}
}

// deliverSignal arranges for handler to run the next time p resumes in
// user mode, by rewriting the trap frame to call it with the signal
// number as its argument and resuming at the original pc once it
// returns -- the standard user-mode signal trampoline technique. A
// default-disposition delivery (SIG_DFL) instead terminates the process
// with exit status 128+sig, for every signal number; no signal is
// exempt from that default.
func (t *Trap_t) deliverSignal(p *proc.Proc_t, frame *proc.TrapFrame_t, sig int, handler uintptr) {
	if handler == proc.SIG_DFL {
		p.Exit(128 + sig)
		t.Sched.Exit(p)
		return
	}
	// handler == proc.SIG_IGN is filtered out by CheckPending already.
	frame.Ebx = uint32(sig)
	frame.Eip = uint32(handler)
}
