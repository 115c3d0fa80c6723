package mem

import "testing"

func TestPhysInitReportsFreeCount(t *testing.T) {
	phys := Phys_init(16)
	if phys.Pgcount() != 16 {
		t.Fatalf("expected 16 free pages after init, got %d", phys.Pgcount())
	}
}

func TestRefpgNewZeroesAReusedPage(t *testing.T) {
	phys := Phys_init(2)
	pg, p_pg, ok := phys.Refpg_new_nozero()
	if !ok {
		t.Fatalf("expected a page available")
	}
	pg[0] = 0xdead
	phys.Refup(p_pg)
	if !phys.Refdown(p_pg) {
		t.Fatalf("expected the page freed once its sole reference is dropped")
	}

	pg2, p_pg2, ok := phys.Refpg_new()
	if !ok {
		t.Fatalf("expected the freed page reusable")
	}
	if p_pg2 != p_pg {
		t.Fatalf("expected the LIFO free list to hand back the just-freed page")
	}
	for _, w := range pg2 {
		if w != 0 {
			t.Fatalf("expected Refpg_new to zero a reused page")
		}
	}
}

func TestRefdownFreesAtZeroAndReturnsToFreeList(t *testing.T) {
	phys := Phys_init(2)
	_, p_pg, _ := phys.Refpg_new()
	phys.Refup(p_pg)
	phys.Refup(p_pg)
	before := phys.Pgcount()
	if phys.Refdown(p_pg) {
		t.Fatalf("expected first Refdown (refcnt 2->1) to not free the page")
	}
	if phys.Pgcount() != before {
		t.Fatalf("free count should be unchanged while refcount is still positive")
	}
	if !phys.Refdown(p_pg) {
		t.Fatalf("expected second Refdown (refcnt 1->0) to free the page")
	}
	if phys.Pgcount() != before+1 {
		t.Fatalf("expected free count incremented after the page hit refcount 0")
	}
}

func TestDmapRoundTripsWithDmapV2p(t *testing.T) {
	phys := Phys_init(4)
	_, p_pg, _ := phys.Refpg_new()
	pg := phys.Dmap(p_pg)
	back := phys.Dmap_v2p(pg)
	if back != p_pg {
		t.Fatalf("expected Dmap_v2p to invert Dmap, got %d want %d", back, p_pg)
	}
}

func TestPmapNewAllocatesFromTheSameArena(t *testing.T) {
	phys := Phys_init(4)
	before := phys.Pgcount()
	pm, _, ok := phys.Pmap_new()
	if !ok || pm == nil {
		t.Fatalf("expected a pmap page allocated")
	}
	if phys.Pgcount() != before-1 {
		t.Fatalf("expected Pmap_new to consume one page from the free list")
	}
}

func TestRefpgNewExhaustionReturnsFalse(t *testing.T) {
	phys := Phys_init(1)
	if _, _, ok := phys.Refpg_new_nozero(); !ok {
		t.Fatalf("expected the sole page to be allocatable")
	}
	if _, _, ok := phys.Refpg_new_nozero(); ok {
		t.Fatalf("expected exhaustion once the single page is taken")
	}
}
