package vm

import (
	"testing"

	"coalos/src/defs"
)

func TestLookupFindsContainingRegion(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x1000, PERM_R|PERM_W)
	as.Vmadd_anon(0x3000, 0x1000, PERM_R)
	if r := as.Vmregion.Lookup(0x1500); r == nil || r.Start != 0x1000 {
		t.Fatalf("expected lookup to find the first region")
	}
	if r := as.Vmregion.Lookup(0x2500); r != nil {
		t.Fatalf("expected no region covering the gap between mappings")
	}
	if r := as.Vmregion.Lookup(0x3fff); r == nil || r.Start != 0x3000 {
		t.Fatalf("expected lookup to find the second region at its last byte")
	}
}

func TestInsertPanicsOnOverlap(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x2000, PERM_R)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected Insert to panic on an overlapping region")
		}
	}()
	as.Vmregion.Insert(0x1500, 0x100, PERM_R)
}

func TestAccessOkRespectsPermissions(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x1000, PERM_R)
	if as.Access_ok(0x1000, 0x10, true) {
		t.Fatalf("expected a write check to fail against a read-only region")
	}
	if !as.Access_ok(0x1000, 0x10, false) {
		t.Fatalf("expected a read check to succeed against a read-only region")
	}
}

func TestAccessOkRejectsOutOfBoundsRange(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x1000, PERM_R|PERM_W)
	if as.Access_ok(0x1f00, 0x200, false) {
		t.Fatalf("expected a range straddling the region end to fail")
	}
}

func TestCopyToUserThenFromUserRoundtrips(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x1000, PERM_R|PERM_W)
	if err := as.CopyToUser(0x1000, []byte("hello")); err != 0 {
		t.Fatalf("copyto: %v", err)
	}
	dst := make([]byte, 5)
	if err := as.CopyFromUser(dst, 0x1000); err != 0 {
		t.Fatalf("copyfrom: %v", err)
	}
	if string(dst) != "hello" {
		t.Fatalf("got %q", dst)
	}
}

func TestCopyToUserLeavesDestUntouchedOnFault(t *testing.T) {
	as := &Vm_t{}
	if err := as.CopyToUser(0xbad000, []byte("x")); err == 0 {
		t.Fatalf("expected EFAULT writing to an unmapped address")
	}
}

func TestStrncpyFromUserStopsAtNul(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x1000, PERM_R|PERM_W)
	as.CopyToUser(0x1000, []byte("abc\x00def"))
	got, err := as.StrncpyFromUser(0x1000, 256)
	if err != 0 {
		t.Fatalf("strncpy: %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("got %q", got)
	}
}

func TestStrncpyFromUserEnforcesMax(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x10, PERM_R|PERM_W)
	as.CopyToUser(0x1000, []byte("0123456789abcdef"))
	if _, err := as.StrncpyFromUser(0x1000, 4); err != defs.ENAMETOOLONG {
		t.Fatalf("expected ENAMETOOLONG when no NUL appears within max, got %v", err)
	}
}

func TestGrowUserStackExtendsWithinReserveOnly(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x10000, 0x1000, PERM_R|PERM_W)
	r := as.Vmregion.Lookup(0x10000)
	as.SetStackRegion(r, 0x8000)

	if !as.GrowUserStack(0xf000) {
		t.Fatalf("expected a fault just below the stack but inside the reserve to grow it")
	}
	if !as.Access_ok(0xf000, 1, true) {
		t.Fatalf("expected the grown region to now cover the fault address")
	}
	if as.GrowUserStack(0x1000) {
		t.Fatalf("expected a fault below the reserve floor to be rejected")
	}
	if as.GrowUserStack(0x20000) {
		t.Fatalf("expected a fault above the stack region to be rejected")
	}
}

func TestUvmfreeClearsAllRegions(t *testing.T) {
	as := &Vm_t{}
	as.Vmadd_anon(0x1000, 0x1000, PERM_R)
	as.Uvmfree()
	if as.Vmregion.Lookup(0x1000) != nil {
		t.Fatalf("expected no regions left after Uvmfree")
	}
}
