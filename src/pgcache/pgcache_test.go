package pgcache

import (
	"testing"

	"coalos/src/defs"
)

type memBacking struct {
	files map[uint]map[int][]byte
}

func newMemBacking() *memBacking {
	return &memBacking{files: make(map[uint]map[int][]byte)}
}

func (m *memBacking) ReadPage(dev, inode uint, idx int, data []byte) defs.Err_t {
	if f, ok := m.files[inode]; ok {
		if d, ok := f[idx]; ok {
			copy(data, d)
		}
	}
	return 0
}

func (m *memBacking) WritePage(dev, inode uint, idx int, data []byte) defs.Err_t {
	f, ok := m.files[inode]
	if !ok {
		f = make(map[int][]byte)
		m.files[inode] = f
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f[idx] = cp
	return 0
}

func (m *memBacking) FileSize(dev, inode uint) (int, defs.Err_t) { return 0, 0 }

func TestWriteThenReadRoundtrips(t *testing.T) {
	c := MkCache(newMemBacking(), DefaultMaxPages)
	if _, err := c.Write(1, 7, 10, []byte("hello")); err != 0 {
		t.Fatalf("write: %v", err)
	}
	buf := make([]byte, 5)
	if _, err := c.Read(1, 7, 10, buf); err != 0 {
		t.Fatalf("read: %v", err)
	}
	if string(buf) != "hello" {
		t.Fatalf("got %q", buf)
	}
}

func TestMarkDirtyOnlyAffectsValidPage(t *testing.T) {
	c := MkCache(newMemBacking(), DefaultMaxPages)
	p, _ := c.Get(1, 7, 0)
	c.MarkDirty(p)
	if p.Dirty() {
		t.Fatalf("expected mark_dirty to be a no-op on a non-VALID page")
	}
	c.Put(p)
}

func TestSyncAllClearsDirtyBit(t *testing.T) {
	backing := newMemBacking()
	c := MkCache(backing, DefaultMaxPages)
	c.Write(2, 3, 0, []byte("data"))
	if err := c.SyncAll(); err != 0 {
		t.Fatalf("syncall: %v", err)
	}
	p, _ := c.Get(2, 3, 0)
	if p.Dirty() {
		t.Fatalf("expected SyncAll to clear DIRTY")
	}
	c.Put(p)
}

func TestPutNegativeRefPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic on over-release")
		}
	}()
	c := MkCache(newMemBacking(), DefaultMaxPages)
	p, _ := c.Get(1, 1, 0)
	c.Put(p)
	c.Put(p)
}
