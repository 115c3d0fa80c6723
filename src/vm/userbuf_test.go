package vm

import "testing"

func TestUserbufUiowriteThenUioreadRoundtrips(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x1000, PERM_R|PERM_W)
	wb := Mkuserbuf(as, 0x1000, 5)
	n, err := wb.Uiowrite([]byte("hello"))
	if err != 0 || n != 5 {
		t.Fatalf("uiowrite: n=%d err=%v", n, err)
	}

	rb := Mkuserbuf(as, 0x1000, 5)
	dst := make([]byte, 5)
	n, err = rb.Uioread(dst)
	if err != 0 || n != 5 {
		t.Fatalf("uioread: n=%d err=%v", n, err)
	}
	if string(dst) != "hello" {
		t.Fatalf("got %q", dst)
	}
}

func TestUserbufStopsAtItsOwnLengthNotTheSourceLength(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x10, PERM_R|PERM_W)
	ub := Mkuserbuf(as, 0x1000, 3)
	n, err := ub.Uiowrite([]byte("0123456789"))
	if err != 0 {
		t.Fatalf("uiowrite: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected transfer capped at the buffer's own length 3, got %d", n)
	}
	if ub.Remain() != 0 {
		t.Fatalf("expected buffer fully consumed, remain=%d", ub.Remain())
	}
}

func TestUserbufRemainAndTotalsz(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x10, PERM_R|PERM_W)
	ub := Mkuserbuf(as, 0x1000, 8)
	if ub.Totalsz() != 8 || ub.Remain() != 8 {
		t.Fatalf("expected a fresh buffer to report its full length as both total and remaining")
	}
	ub.Uiowrite([]byte("abc"))
	if ub.Remain() != 5 {
		t.Fatalf("expected remain to shrink by the amount transferred, got %d", ub.Remain())
	}
	if ub.Totalsz() != 8 {
		t.Fatalf("expected Totalsz to stay fixed at the buffer's declared length")
	}
}

func TestUserbufUiowriteFaultsOnUnmappedRange(t *testing.T) {
	as := &Vm_t{}
	ub := Mkuserbuf(as, 0xbad000, 4)
	if _, err := ub.Uiowrite([]byte("xxxx")); err == 0 {
		t.Fatalf("expected EFAULT writing into an address space with no mapped regions")
	}
}
