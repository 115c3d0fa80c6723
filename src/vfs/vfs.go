// Package vfs implements the VFS layer (spec.md section 4.4, C4): a
// registry of filesystem drivers keyed by name, a mount table keyed by
// mount point, and the process-independent pool of open file handles
// every fd.Fd_t wraps. Grounded on fd.Fd_t's Fdops_i-based file
// description (already in this tree) for the handle shape, and on
// blk.Cache_t/pgcache.Cache_t's bucket-and-lock style for the mount
// table and driver registry.
package vfs

import (
	"sync"

	"coalos/src/defs"
	"coalos/src/fdops"
	"coalos/src/pgcache"
	"coalos/src/stat"
	"coalos/src/ustr"
)

// Driver_i is what a filesystem driver (fat.Fat_t, for instance)
// implements to be mountable. Open/Unlink/Mkdir/Rmdir take a path
// already resolved to be relative to the driver's own root; ReadPage/
// WritePage/FileSize satisfy pgcache.Backing_i directly so the page
// cache can read and write through the same driver without going
// through a file handle (spec.md 4.4's "read_at/write_at/
// get_file_size... used by the page cache to bypass file handles").
type Driver_i interface {
	pgcache.Backing_i
	Open(path ustr.Ustr, flags int, mode int) (fdops.Vnode_i, defs.Err_t)
	Unlink(path ustr.Ustr) defs.Err_t
	Mkdir(path ustr.Ustr) defs.Err_t
	Rmdir(path ustr.Ustr) defs.Err_t
	Truncate(dev, inode uint, newlen uint) defs.Err_t
	// SetFileSize records a file's length after a write extends it past
	// its previous end -- WritePage writes whole pages and has no way
	// to infer the true end of file on its own, so writeAt calls this
	// explicitly once it knows a write grew the file (spec.md 4.3's
	// "file operations" never separates "write" from "grow", matching
	// ordinary POSIX write(2) semantics).
	SetFileSize(dev, inode uint, size uint) defs.Err_t
	DeviceID() uint
}

type mount_t struct {
	point  ustr.Ustr
	driver Driver_i
}

// Vfs_t is the kernel-wide VFS singleton: a driver registry plus a
// mount table. CoalOS only ever needs one root mount (spec.md 4.4:
// "only one root mount is required"), but the registry and table are
// kept general so a second driver could register without code changes
// elsewhere.
type Vfs_t struct {
	sync.Mutex
	drivers map[string]Driver_i
	mounts  []mount_t
}

/// MkVfs returns an empty VFS with no drivers registered.
func MkVfs() *Vfs_t {
	return &Vfs_t{drivers: make(map[string]Driver_i)}
}

/// RegisterDriver adds a named filesystem driver to the registry.
func (v *Vfs_t) RegisterDriver(name string, d Driver_i) {
	v.Lock()
	defer v.Unlock()
	v.drivers[name] = d
}

/// UnregisterDriver removes name from the registry.
func (v *Vfs_t) UnregisterDriver(name string) {
	v.Lock()
	defer v.Unlock()
	delete(v.drivers, name)
}

/// MountRoot instantiates fsName's driver at mountPoint. CoalOS mounts
/// by name only (device selection already happened when the driver was
/// constructed), matching spec.md 4.4's "instantiates a driver context,
/// records it in the mount table".
func (v *Vfs_t) MountRoot(mountPoint ustr.Ustr, fsName string) defs.Err_t {
	v.Lock()
	defer v.Unlock()
	d, ok := v.drivers[fsName]
	if !ok {
		return defs.ENOENT
	}
	v.mounts = append(v.mounts, mount_t{point: mountPoint, driver: d})
	return 0
}

// resolveMount picks the mount whose point is the longest prefix of
// path, matching the usual longest-prefix mount resolution; with one
// root mount this always resolves to it.
func (v *Vfs_t) resolveMount(path ustr.Ustr) (*mount_t, ustr.Ustr) {
	v.Lock()
	defer v.Unlock()
	var best *mount_t
	bestlen := -1
	for i := range v.mounts {
		m := &v.mounts[i]
		if len(m.point) <= len(path) && bytesHasPrefix(path, m.point) && len(m.point) > bestlen {
			best = m
			bestlen = len(m.point)
		}
	}
	if best == nil {
		return nil, nil
	}
	rel := path[bestlen:]
	if len(rel) == 0 {
		rel = ustr.MkUstrRoot()
	}
	return best, rel
}

func bytesHasPrefix(s, prefix ustr.Ustr) bool {
	if len(prefix) > len(s) {
		return false
	}
	for i := range prefix {
		if s[i] != prefix[i] {
			return false
		}
	}
	return true
}

/// Fhandle_t is a process-independent open file object: a vnode plus a
/// byte offset and the driver it came from, matching spec.md 4.4's
/// "wraps the returned vnode in a file handle with initial offset
/// zero".
type Fhandle_t struct {
	sync.Mutex
	vn     fdops.Vnode_i
	driver Driver_i
	off    int
	ra     *readahead_t
}

/// Open resolves path's mount, calls the driver's Open, and returns a
/// fresh file handle with offset zero.
func (v *Vfs_t) Open(path ustr.Ustr, flags, mode int) (*Fhandle_t, defs.Err_t) {
	m, rel := v.resolveMount(path)
	if m == nil {
		return nil, defs.ENOENT
	}
	vn, err := m.driver.Open(rel, flags, mode)
	if err != 0 {
		return nil, err
	}
	return &Fhandle_t{vn: vn, driver: m.driver, ra: newReadahead()}, 0
}

// bounceSize bounds one chunk of a transfer between a file handle and
// a Userio_i, so a single read()/write() covering a huge count never
// allocates a kernel buffer sized to the whole transfer at once
// (spec.md section 4.7: "read/write syscalls chunk long transfers
// through a bounded kernel bounce buffer to bound per-call memory").
const bounceSize = 4096

/// Read satisfies fdops.Fdops_i, reading at the handle's current offset
/// through dst and advancing it, one bounceSize chunk at a time.
func (fh *Fhandle_t) Read(dst fdops.Userio_i) (int, defs.Err_t) {
	bounce := make([]byte, bounceSize)
	total := 0
	for dst.Remain() > 0 {
		want := len(bounce)
		if dst.Remain() < want {
			want = dst.Remain()
		}
		n, err := fh.readBytes(bounce[:want])
		if err != 0 {
			return total, err
		}
		if n == 0 {
			break
		}
		wn, werr := dst.Uiowrite(bounce[:n])
		if werr != 0 {
			return total, werr
		}
		total += wn
	}
	return total, 0
}

// readBytes reads at the handle's current offset, advancing it, and
// feeds the read-ahead cache on a sufficiently large hit-free read
// (spec.md 4.4.1).
func (fh *Fhandle_t) readBytes(buf []byte) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	if n, ok := fh.ra.lookup(fh.off, len(buf)); ok {
		copy(buf, n)
		fh.off += len(buf)
		return len(buf), 0
	}
	return fh.readThrough(buf)
}

func (fh *Fhandle_t) readThrough(buf []byte) (int, defs.Err_t) {
	dev, inode := fh.vn.VnodeKey()
	n, err := fh.driverReadAt(dev, inode, fh.off, buf)
	if err != 0 {
		return 0, err
	}
	if n >= raFillThreshold {
		fh.ra.fill(fh.off, buf[:n])
	}
	fh.off += n
	return n, 0
}

func (fh *Fhandle_t) driverReadAt(dev, inode uint, off int, buf []byte) (int, defs.Err_t) {
	return readAt(fh.driver, dev, inode, off, buf)
}

/// Write satisfies fdops.Fdops_i, writing src at the handle's current
/// offset and advancing it, one bounceSize chunk at a time.
func (fh *Fhandle_t) Write(src fdops.Userio_i) (int, defs.Err_t) {
	bounce := make([]byte, bounceSize)
	total := 0
	for src.Remain() > 0 {
		want := len(bounce)
		if src.Remain() < want {
			want = src.Remain()
		}
		rn, err := src.Uioread(bounce[:want])
		if err != 0 {
			return total, err
		}
		if rn == 0 {
			break
		}
		wn, werr := fh.writeBytes(bounce[:rn])
		if werr != 0 {
			return total, werr
		}
		total += wn
		if wn < rn {
			break
		}
	}
	return total, 0
}

func (fh *Fhandle_t) writeBytes(buf []byte) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	dev, inode := fh.vn.VnodeKey()
	n, err := writeAt(fh.driver, dev, inode, fh.off, buf)
	if err != 0 {
		return 0, err
	}
	fh.ra.invalidate()
	fh.off += n
	return n, 0
}

/// Lseek repositions the handle per whence (defs.SEEK_SET/CUR/END).
func (fh *Fhandle_t) Lseek(off, whence int) (int, defs.Err_t) {
	fh.Lock()
	defer fh.Unlock()
	switch whence {
	case defs.SEEK_SET:
		fh.off = off
	case defs.SEEK_CUR:
		fh.off += off
	case defs.SEEK_END:
		dev, inode := fh.vn.VnodeKey()
		sz, err := fh.driver.FileSize(dev, uint(inode))
		if err != 0 {
			return 0, err
		}
		fh.off = sz + off
	default:
		return 0, defs.EINVAL
	}
	if fh.off < 0 {
		fh.off = 0
	}
	return fh.off, 0
}

/// Close releases the handle. CoalOS's vnodes carry no separate close
/// hook of their own (fat's objects are stateless past their on-disk
/// location), so Close is a no-op kept for symmetry with spec.md 4.4's
/// op list.
func (fh *Fhandle_t) Close() defs.Err_t {
	return 0
}

/// Pathi returns the handle's vnode, satisfying fdops.Fdops_i.
func (fh *Fhandle_t) Pathi() fdops.Vnode_i {
	return fh.vn
}

/// Reopen is a no-op; CoalOS vnodes hold no open-count of their own.
func (fh *Fhandle_t) Reopen() defs.Err_t {
	return 0
}

/// Fstat fills st from the handle's current size and device/inode.
func (fh *Fhandle_t) Fstat(st fdops.StatStore_i) defs.Err_t {
	dev, inode := fh.vn.VnodeKey()
	sz, err := fh.driver.FileSize(dev, inode)
	if err != 0 {
		return err
	}
	st.Wdev(dev)
	st.Wino(inode)
	st.Wmode(modeRegular)
	st.Wsize(uint(sz))
	return 0
}

// modeRegular is S_IFREG; CoalOS's driver interface carries no notion of
// "is this a directory" past Open time, so every path Stat resolves
// reports as a regular file -- directories are never Open'd through this
// path (spec.md 4.4 routes mkdir/rmdir/unlink straight to the driver).
const modeRegular = 0100000

/// Stat resolves path through its mount and returns a filled stat.Stat_t,
/// matching the teacher's ufs.Ufs_t.Stat: open, Fstat, close.
func (v *Vfs_t) Stat(path ustr.Ustr) (*stat.Stat_t, defs.Err_t) {
	fh, err := v.Open(path, defs.O_RDONLY, 0)
	if err != 0 {
		return nil, err
	}
	defer fh.Close()
	st := &stat.Stat_t{}
	if err := fh.Fstat(st); err != 0 {
		return nil, err
	}
	return st, 0
}

/// Pollone always reports ready for read and write; CoalOS's FAT
/// driver has no notion of I/O that blocks once a block read completes.
func (fh *Fhandle_t) Pollone(pm fdops.Pollmsg_t) (fdops.Ready_t, defs.Err_t) {
	return pm.Events & (fdops.R_READ | fdops.R_WRITE), 0
}

/// Truncate shrinks or extends the file through its driver.
func (fh *Fhandle_t) Truncate(newlen uint) defs.Err_t {
	fh.Lock()
	defer fh.Unlock()
	dev, inode := fh.vn.VnodeKey()
	return truncateFile(fh.driver, dev, inode, newlen)
}

/// ReadAt reads directly by (device_id, inode_number), bypassing any
/// file handle -- used by the page cache (spec.md 4.4).
func (v *Vfs_t) ReadAt(d Driver_i, dev, inode uint, off int, buf []byte) (int, defs.Err_t) {
	return readAt(d, dev, inode, off, buf)
}

/// WriteAt writes directly by (device_id, inode_number).
func (v *Vfs_t) WriteAt(d Driver_i, dev, inode uint, off int, buf []byte) (int, defs.Err_t) {
	return writeAt(d, dev, inode, off, buf)
}

/// GetFileSize returns the size of the file identified by (dev, inode).
func (v *Vfs_t) GetFileSize(d Driver_i, dev, inode uint) (int, defs.Err_t) {
	return d.FileSize(dev, inode)
}

func readAt(d Driver_i, dev, inode uint, off int, buf []byte) (int, defs.Err_t) {
	sz, err := d.FileSize(dev, inode)
	if err != 0 {
		return 0, err
	}
	if off >= sz {
		return 0, 0
	}
	n := len(buf)
	if off+n > sz {
		n = sz - off
	}
	done := 0
	for done < n {
		idx := (off + done) / pgcache.PGSIZE
		pgoff := (off + done) % pgcache.PGSIZE
		cnt := pgcache.PGSIZE - pgoff
		if cnt > n-done {
			cnt = n - done
		}
		page := make([]byte, pgcache.PGSIZE)
		if err := d.ReadPage(dev, inode, idx, page); err != 0 {
			return done, err
		}
		copy(buf[done:done+cnt], page[pgoff:pgoff+cnt])
		done += cnt
	}
	return done, 0
}

// truncateFile delegates to the driver, which alone knows how to free
// or extend the file's on-disk allocation (a FAT cluster chain); the
// page cache entries for any truncated-away range are left for the
// driver/caller to invalidate explicitly, matching spec.md 4.4's split
// of on-disk truncation from cache invalidation.
func truncateFile(d Driver_i, dev, inode uint, newlen uint) defs.Err_t {
	return d.Truncate(dev, inode, newlen)
}

func writeAt(d Driver_i, dev, inode uint, off int, buf []byte) (int, defs.Err_t) {
	done := 0
	for done < len(buf) {
		idx := (off + done) / pgcache.PGSIZE
		pgoff := (off + done) % pgcache.PGSIZE
		cnt := pgcache.PGSIZE - pgoff
		if cnt > len(buf)-done {
			cnt = len(buf) - done
		}
		page := make([]byte, pgcache.PGSIZE)
		if pgoff != 0 || cnt != pgcache.PGSIZE {
			d.ReadPage(dev, inode, idx, page)
		}
		copy(page[pgoff:pgoff+cnt], buf[done:done+cnt])
		if err := d.WritePage(dev, inode, idx, page); err != 0 {
			return done, err
		}
		done += cnt
	}
	if done > 0 {
		sz, err := d.FileSize(dev, inode)
		if err == 0 && off+done > sz {
			d.SetFileSize(dev, inode, uint(off+done))
		}
	}
	return done, 0
}

/// Unlink removes path's directory entry through its mount's driver.
func (v *Vfs_t) Unlink(path ustr.Ustr) defs.Err_t {
	m, rel := v.resolveMount(path)
	if m == nil {
		return defs.ENOENT
	}
	return m.driver.Unlink(rel)
}

/// Mkdir creates path as a new, empty directory.
func (v *Vfs_t) Mkdir(path ustr.Ustr) defs.Err_t {
	m, rel := v.resolveMount(path)
	if m == nil {
		return defs.ENOENT
	}
	return m.driver.Mkdir(rel)
}

/// Rmdir removes path, which must name an empty directory.
func (v *Vfs_t) Rmdir(path ustr.Ustr) defs.Err_t {
	m, rel := v.resolveMount(path)
	if m == nil {
		return defs.ENOENT
	}
	return m.driver.Rmdir(rel)
}
