package blk

import (
	"testing"

	"coalos/src/mem"
)

// fakeDisk simulates a block device over a host byte slice, servicing
// every request synchronously before Start returns -- the same "fake
// disk" idea the teacher kept in its deleted ufs.go test harness (see
// DESIGN.md), reconstructed here instead of carried as a package.
type fakeDisk struct {
	sectors map[int]*[BSIZE]uint8
}

func newFakeDisk() *fakeDisk {
	return &fakeDisk{sectors: make(map[int]*[BSIZE]uint8)}
}

func (d *fakeDisk) Start(req *Bdev_req_t) bool {
	req.Blks.Apply(func(b *Bdev_block_t) {
		switch req.Cmd {
		case BDEV_WRITE:
			sec, ok := d.sectors[b.Block]
			if !ok {
				sec = &[BSIZE]uint8{}
				d.sectors[b.Block] = sec
			}
			copy(sec[:], b.Data[:])
		case BDEV_READ:
			if sec, ok := d.sectors[b.Block]; ok {
				copy(b.Data[:], sec[:])
			}
		}
	})
	close(req.AckCh)
	return false
}

func (d *fakeDisk) Stats() string { return "fakeDisk" }

// fakeMem backs block buffers with pages from the shared simulated
// physical arena (mem.Physmem), the same allocator vm and blk share in
// the full kernel.
type fakeMem struct{}

func (fakeMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	pg, pa, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return 0, nil, false
	}
	return pa, mem.Pg2bytes(pg), true
}

func (fakeMem) Free(pa mem.Pa_t)  { mem.Physmem.Refdown(pa) }
func (fakeMem) Refup(pa mem.Pa_t) { mem.Physmem.Refup(pa) }

type fakeCb struct{ relsed []int }

func (c *fakeCb) Relse(b *Bdev_block_t, s string) { c.relsed = append(c.relsed, b.Block) }

func setup(t *testing.T) *Cache_t {
	if mem.Physmem.Pgs == nil {
		mem.Phys_init(256)
	}
	return MkCache(newFakeDisk(), fakeMem{})
}

func TestAcquireSharesOneBufferPerBlock(t *testing.T) {
	c := setup(t)
	cb := &fakeCb{}
	b1, err := c.Acquire(5, "blk5", cb)
	if err != 0 {
		t.Fatalf("acquire: %v", err)
	}
	b2, err := c.Acquire(5, "blk5", cb)
	if err != 0 {
		t.Fatalf("acquire: %v", err)
	}
	if b1 != b2 {
		t.Fatalf("expected concurrent acquirers of the same block to share one buffer")
	}
	c.Release(b1)
	c.Release(b2)
}

func TestDirtyWrittenBackOnSync(t *testing.T) {
	c := setup(t)
	cb := &fakeCb{}
	b, err := c.Acquire(9, "blk9", cb)
	if err != 0 {
		t.Fatalf("acquire: %v", err)
	}
	b.Data[0] = 0x42
	c.MarkDirty(b)
	if !b.Dirty {
		t.Fatalf("expected MarkDirty to set Dirty")
	}
	c.Sync()
	if b.Dirty {
		t.Fatalf("expected Sync to clear Dirty after writeback")
	}
	c.Release(b)
}

func TestReleaseWithoutEvictionKeepsBlockCached(t *testing.T) {
	c := setup(t)
	cb := &fakeCb{}
	b, _ := c.Acquire(1, "blk1", cb)
	c.Release(b)
	b2, _ := c.Acquire(1, "blk1", cb)
	if b != b2 {
		t.Fatalf("expected released, non-evicted block to remain cached")
	}
	c.Release(b2)
}
