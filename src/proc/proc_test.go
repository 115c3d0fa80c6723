package proc

import (
	"testing"

	"coalos/src/defs"
	"coalos/src/fd"
	"coalos/src/fdops"
	"coalos/src/vm"
)

// fakeFops_t is a minimal fdops.Fdops_i double for fd-table tests; it
// records whether it was closed/reopened rather than backing any real
// file.
type fakeFops_t struct {
	closed  bool
	reopens int
}

func (f *fakeFops_t) Close() defs.Err_t { f.closed = true; return 0 }
func (f *fakeFops_t) Fstat(st fdops.StatStore_i) defs.Err_t { return 0 }
func (f *fakeFops_t) Lseek(off, whence int) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops_t) Pathi() fdops.Vnode_i { return nil }
func (f *fakeFops_t) Read(dst fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops_t) Reopen() defs.Err_t { f.reopens++; return 0 }
func (f *fakeFops_t) Write(src fdops.Userio_i) (int, defs.Err_t) { return 0, 0 }
func (f *fakeFops_t) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) { return 0, 0 }
func (f *fakeFops_t) Truncate(newlen uint) defs.Err_t { return 0 }

type fakeCloner_t struct{}

func (fakeCloner_t) Clone(v *vm.Vm_t) *vm.Vm_t { return &vm.Vm_t{} }

func TestAllocPidSkipsReservedRange(t *testing.T) {
	p := MkProc("a", nil)
	if p.Pid < defs.ReservedPids {
		t.Fatalf("allocated pid %d below ReservedPids %d", p.Pid, defs.ReservedPids)
	}
}

func TestMkInitProcGetsReservedPidOne(t *testing.T) {
	init := MkInitProc("init")
	if init.Pid != defs.ReservedPids-1 {
		t.Fatalf("expected init pid %d, got %d", defs.ReservedPids-1, init.Pid)
	}
}

func TestAddfdGetfdClosefd(t *testing.T) {
	p := MkProc("a", nil)
	f := &fakeFops_t{}
	fdn, err := p.Addfd(&fd.Fd_t{Fops: f}, 0)
	if err != 0 {
		t.Fatalf("addfd: %v", err)
	}
	if _, err := p.Getfd(fdn); err != 0 {
		t.Fatalf("getfd: %v", err)
	}
	if err := p.Closefd(fdn); err != 0 {
		t.Fatalf("closefd: %v", err)
	}
	if !f.closed {
		t.Fatalf("expected underlying fops closed")
	}
	if _, err := p.Getfd(fdn); err != defs.EBADF {
		t.Fatalf("expected EBADF after close, got %v", err)
	}
}

func TestSetfdClosesPreviousOccupant(t *testing.T) {
	p := MkProc("a", nil)
	oldFops := &fakeFops_t{}
	newFops := &fakeFops_t{}
	if err := p.Setfd(5, &fd.Fd_t{Fops: oldFops}); err != 0 {
		t.Fatalf("setfd: %v", err)
	}
	if err := p.Setfd(5, &fd.Fd_t{Fops: newFops}); err != 0 {
		t.Fatalf("setfd: %v", err)
	}
	if !oldFops.closed {
		t.Fatalf("expected old occupant closed by Setfd")
	}
	got, _ := p.Getfd(5)
	if got.Fops != newFops {
		t.Fatalf("expected new fops installed at index 5")
	}
}

func TestExitReparentsChildrenToInit(t *testing.T) {
	init := MkInitProc("init")
	parent := MkProc("parent", nil)
	child := MkProc("child", parent)
	parent.Exit(0)
	if child.parent != init {
		t.Fatalf("expected child reparented to init")
	}
}

func TestWaitReapsZombieChild(t *testing.T) {
	parent := MkProc("parent", nil)
	child := MkProc("child", parent)
	child.Exit(7)
	pid, status, err := parent.Wait(child.Pid, 0)
	if err != 0 {
		t.Fatalf("wait: %v", err)
	}
	if pid != child.Pid || status != 7 {
		t.Fatalf("got pid=%d status=%d", pid, status)
	}
	if Find(child.Pid) != nil {
		t.Fatalf("expected child reclaimed from process table")
	}
}

func TestWaitNoMatchingChildReturnsEinval(t *testing.T) {
	parent := MkProc("parent", nil)
	if _, _, err := parent.Wait(-1, WNOHANG); err != defs.EINVAL {
		t.Fatalf("expected EINVAL for no children, got %v", err)
	}
}

func TestForkDuplicatesOpenFds(t *testing.T) {
	parent := MkProc("parent", nil)
	fops := &fakeFops_t{}
	fdn, _ := parent.Addfd(&fd.Fd_t{Fops: fops}, 0)
	child := Fork(parent, fakeCloner_t{})
	if fops.reopens != 1 {
		t.Fatalf("expected Reopen called once duplicating the fd, got %d", fops.reopens)
	}
	cf, err := child.Getfd(fdn)
	if err != 0 || cf == nil {
		t.Fatalf("expected child to inherit fd %d", fdn)
	}
}

func TestKillSigkillDoomsTask(t *testing.T) {
	p := MkProc("victim", nil)
	if err := p.Kill(defs.SIGKILL); err != 0 {
		t.Fatalf("kill: %v", err)
	}
	if !p.Tnote.Doomed() {
		t.Fatalf("expected SIGKILL to doom the task immediately")
	}
}

func TestCheckPendingPopsSigkillFirst(t *testing.T) {
	p := MkProc("victim", nil)
	p.Kill(5)
	p.Kill(defs.SIGKILL)
	sig, _, ok := p.CheckPending()
	if !ok || sig != defs.SIGKILL {
		t.Fatalf("expected SIGKILL to be reported first, got sig=%d ok=%v", sig, ok)
	}
}

func TestSigactionRejectsUnmaskableSignals(t *testing.T) {
	p := MkProc("victim", nil)
	if err := p.Sigaction(defs.SIGKILL, 0x1000); err != defs.EINVAL {
		t.Fatalf("expected EINVAL installing a SIGKILL handler, got %v", err)
	}
}
