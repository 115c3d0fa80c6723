package vfs

import (
	"testing"

	"coalos/src/defs"
	"coalos/src/fdops"
	"coalos/src/pgcache"
	"coalos/src/ustr"
)

// fakeVnode_t is the narrowest possible fdops.Vnode_i: a fixed
// (dev, inode) pair, no filesystem behind it at all.
type fakeVnode_t struct {
	dev, inode uint
}

func (v fakeVnode_t) VnodeKey() (uint, uint) { return v.dev, v.inode }

// fakeDriver_t is an in-memory Driver_i backing a single file, just
// large enough to exercise Vfs_t.Open/Stat without a real FAT volume.
type fakeDriver_t struct {
	data []byte
}

func (d *fakeDriver_t) ReadPage(dev, inode uint, idx int, out []byte) defs.Err_t {
	start := idx * pgcache.PGSIZE
	if start >= len(d.data) {
		return 0
	}
	copy(out, d.data[start:])
	return 0
}

func (d *fakeDriver_t) WritePage(dev, inode uint, idx int, in []byte) defs.Err_t {
	start := idx * pgcache.PGSIZE
	for len(d.data) < start+pgcache.PGSIZE {
		d.data = append(d.data, 0)
	}
	copy(d.data[start:start+pgcache.PGSIZE], in)
	return 0
}

func (d *fakeDriver_t) FileSize(dev, inode uint) (int, defs.Err_t) { return len(d.data), 0 }

func (d *fakeDriver_t) Open(path ustr.Ustr, flags, mode int) (fdops.Vnode_i, defs.Err_t) {
	return fakeVnode_t{dev: 7, inode: 42}, 0
}
func (d *fakeDriver_t) Unlink(path ustr.Ustr) defs.Err_t { return 0 }
func (d *fakeDriver_t) Mkdir(path ustr.Ustr) defs.Err_t  { return 0 }
func (d *fakeDriver_t) Rmdir(path ustr.Ustr) defs.Err_t  { return 0 }
func (d *fakeDriver_t) Truncate(dev, inode uint, newlen uint) defs.Err_t {
	if int(newlen) < len(d.data) {
		d.data = d.data[:newlen]
	}
	return 0
}
func (d *fakeDriver_t) SetFileSize(dev, inode uint, size uint) defs.Err_t { return 0 }
func (d *fakeDriver_t) DeviceID() uint                                   { return 7 }

func mkMountedVfs(data []byte) *Vfs_t {
	v := MkVfs()
	v.RegisterDriver("fake", &fakeDriver_t{data: data})
	v.MountRoot(ustr.MkUstrRoot(), "fake")
	return v
}

func TestStatReportsInodeSizeAndMode(t *testing.T) {
	v := mkMountedVfs([]byte("hello"))
	st, err := v.Stat(ustr.MkUstrRoot().ExtendStr("f.txt"))
	if err != 0 {
		t.Fatalf("stat: %v", err)
	}
	if st.Rino() != 42 {
		t.Fatalf("expected inode 42, got %d", st.Rino())
	}
	if st.Size() != 5 {
		t.Fatalf("expected size 5, got %d", st.Size())
	}
	if st.Mode() != modeRegular {
		t.Fatalf("expected S_IFREG mode, got %o", st.Mode())
	}
}

func TestStatOnUnmountedPathReturnsEnoent(t *testing.T) {
	v := MkVfs()
	_, err := v.Stat(ustr.MkUstrRoot())
	if err != defs.ENOENT {
		t.Fatalf("expected ENOENT with no mount registered, got %v", err)
	}
}
