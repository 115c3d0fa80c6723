package fat

import (
	"strings"

	"coalos/src/blk"
	"coalos/src/bpath"
	"coalos/src/defs"
	"coalos/src/fdops"
	"coalos/src/ustr"
)

// Fat_t is one mounted FAT12/16/32 volume: the block cache it reads
// sectors through, its parsed geometry, and its FAT table. It
// implements both vfs.Driver_i and (transitively, since Driver_i
// embeds it) pgcache.Backing_i by duck typing -- this package never
// imports coalos/src/vfs, matching pgcache's own dependency direction
// (spec.md section 4.2: "never imports [the block cache] directly").
type Fat_t struct {
	cache *blk.Cache_t
	geo   *Geometry_t
	table *Table_t
	dev   uint
}

// MountFat parses sector (the volume's boot sector, already read
// through cache) and returns a ready-to-use driver for device dev.
func MountFat(dev uint, cache *blk.Cache_t, sector []byte) (*Fat_t, error) {
	geo, err := ParseGeometry(sector)
	if err != nil {
		return nil, err
	}
	return &Fat_t{
		cache: cache,
		geo:   geo,
		table: MkTable(cache, geo),
		dev:   dev,
	}, nil
}

func (f *Fat_t) DeviceID() uint { return f.dev }

// direntLoc_t locates one on-disk 32-byte directory entry: the
// absolute block it lives in and its byte offset within that block.
type direntLoc_t struct {
	block int
	off   int
}

// dirChain_t is either the fixed FAT12/16 root region or a cluster
// chain (every subdirectory, and the FAT32 root).
type dirChain_t struct {
	fixedBlocks []int  // non-nil for the FAT12/16 fixed root
	startCluster uint32 // 0 for the fixed root
}

func (f *Fat_t) rootChain() dirChain_t {
	if f.geo.Type == FAT32 {
		return dirChain_t{startCluster: f.geo.RootCluster}
	}
	start, count := f.geo.RootRegion()
	blocks := make([]int, count)
	for i := range blocks {
		blocks[i] = int(start) + i
	}
	return dirChain_t{fixedBlocks: blocks}
}

// blocks returns every absolute block number belonging to the
// directory, in order. For a cluster chain, each cluster contributes
// SectorsPerCluster consecutive blocks.
func (f *Fat_t) blocksOf(d dirChain_t) ([]int, defs.Err_t) {
	if d.fixedBlocks != nil {
		return d.fixedBlocks, 0
	}
	if d.startCluster == 0 {
		return nil, 0
	}
	chain, err := f.table.WalkChain(d.startCluster)
	if err != 0 {
		return nil, err
	}
	out := make([]int, 0, len(chain)*int(f.geo.SectorsPerCluster))
	for _, c := range chain {
		base := int(f.geo.ClusterToSector(c))
		for s := uint32(0); s < f.geo.SectorsPerCluster; s++ {
			out = append(out, base+int(s))
		}
	}
	return out, 0
}

// searchDir scans d for a component matching name (by reconstructed
// LFN or case-folded 8.3 form, spec.md section 4.3), returning the
// matching short entry and its on-disk location.
func (f *Fat_t) searchDir(d dirChain_t, name ustr.Ustr) (shortEnt_t, direntLoc_t, defs.Err_t) {
	blocks, err := f.blocksOf(d)
	if err != 0 {
		return shortEnt_t{}, direntLoc_t{}, err
	}
	var lfn lfnAccum_t
	wantFold := strings.ToUpper(name.String())

	for _, block := range blocks {
		b, err := f.cache.Acquire(block, "fat-dir", nil)
		if err != 0 {
			return shortEnt_t{}, direntLoc_t{}, err
		}
		b.Lock()
		data := b.Data[:]
		for off := 0; off+direntSize <= len(data); off += direntSize {
			slot := data[off : off+direntSize]
			switch slot[deName] {
			case deFreeMarker:
				b.Unlock()
				f.cache.Release(b)
				return shortEnt_t{}, direntLoc_t{}, defs.ENOENT
			case deDeletedMarker:
				lfn.clear()
				continue
			}
			if Attr_t(slot[deAttr]) == ATTR_LONG_NAME {
				lfn.feed(slot)
				continue
			}
			e := decodeShortEnt(slot)
			if e.attr&ATTR_VOLUME_ID != 0 {
				lfn.clear()
				continue
			}
			chk := checksum8_3(e.name)
			if longName, ok := lfn.reconstruct(chk); ok && strings.EqualFold(longName, name.String()) {
				b.Unlock()
				f.cache.Release(b)
				return e, direntLoc_t{block, off}, 0
			}
			if strings.EqualFold(shortNameString(e.name), wantFold) {
				b.Unlock()
				f.cache.Release(b)
				return e, direntLoc_t{block, off}, 0
			}
			lfn.clear()
		}
		b.Unlock()
		f.cache.Release(b)
	}
	return shortEnt_t{}, direntLoc_t{}, defs.ENOENT
}

// shortNameString renders a packed 11-byte short name as "NAME.EXT"
// (or "NAME" with no dot when the extension is blank).
func shortNameString(name [11]byte) string {
	base := strings.TrimRight(string(name[0:8]), " ")
	ext := strings.TrimRight(string(name[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

// resolveParent walks every component of path but the last, returning
// the parent directory's chain and the final component. Rejects any
// ".." component per spec.md section 4.3's documented limitation.
func (f *Fat_t) resolveParent(path ustr.Ustr) (dirChain_t, ustr.Ustr, defs.Err_t) {
	if bpath.HasDotDot(path) {
		return dirChain_t{}, nil, defs.EINVAL
	}
	comps := path.Components()
	cur := f.rootChain()
	if len(comps) == 0 {
		return cur, ustr.MkUstr(), 0
	}
	for _, c := range comps[:len(comps)-1] {
		e, _, err := f.searchDir(cur, c)
		if err != 0 {
			return dirChain_t{}, nil, err
		}
		if e.attr&ATTR_DIRECTORY == 0 {
			return dirChain_t{}, nil, defs.ENOTDIR
		}
		cur = dirChain_t{startCluster: e.firstCluster}
	}
	return cur, comps[len(comps)-1], 0
}

// resolve walks every component of path, returning the matched entry,
// its location, and its containing directory's chain.
func (f *Fat_t) resolve(path ustr.Ustr) (shortEnt_t, direntLoc_t, dirChain_t, defs.Err_t) {
	parent, last, err := f.resolveParent(path)
	if err != 0 {
		return shortEnt_t{}, direntLoc_t{}, dirChain_t{}, err
	}
	if len(last) == 0 {
		// the root itself
		return shortEnt_t{attr: ATTR_DIRECTORY, firstCluster: f.geo.RootCluster},
			direntLoc_t{}, parent, 0
	}
	e, loc, err := f.searchDir(parent, last)
	return e, loc, parent, err
}

// rewriteEntry re-reads loc's block, applies mutate to the decoded
// entry, writes it back, and marks the block dirty.
func (f *Fat_t) rewriteEntry(loc direntLoc_t, mutate func(*shortEnt_t)) defs.Err_t {
	b, err := f.cache.Acquire(loc.block, "fat-dir", nil)
	if err != 0 {
		return err
	}
	b.Lock()
	slot := b.Data[loc.off : loc.off+direntSize]
	e := decodeShortEnt(slot)
	mutate(&e)
	encodeShortEnt(slot, e)
	b.Dirty = true
	b.Unlock()
	f.cache.MarkDirty(b)
	f.cache.Release(b)
	return 0
}

// ---- vfs.Driver_i ----

func decodeInode(inode uint) (block, off int) {
	return int(inode >> 16), int(inode & 0xFFFF)
}

func encodeInode(block, off int) uint {
	return uint(block)<<16 | uint(off&0xFFFF)
}

/// Open resolves path, honoring O_CREAT/O_EXCL/O_TRUNC (spec.md section
/// 4.3's "open honors O_CREAT, O_EXCL, O_TRUNC").
func (f *Fat_t) Open(path ustr.Ustr, flags, mode int) (fdops.Vnode_i, defs.Err_t) {
	e, loc, parent, err := f.resolve(path)
	if err == 0 {
		if flags&defs.O_CREAT != 0 && flags&defs.O_EXCL != 0 {
			return nil, defs.EEXIST
		}
		if e.attr&ATTR_DIRECTORY != 0 && flags&(defs.O_WRONLY|defs.O_RDWR) != 0 {
			return nil, defs.EISDIR
		}
		if flags&defs.O_TRUNC != 0 && e.attr&ATTR_DIRECTORY == 0 {
			if terr := f.truncateLocked(loc, e, 0); terr != 0 {
				return nil, terr
			}
		}
		return &vnode_t{dev: f.dev, inode: encodeInode(loc.block, loc.off), isDir: e.attr&ATTR_DIRECTORY != 0}, 0
	}
	if err != defs.ENOENT || flags&defs.O_CREAT == 0 {
		return nil, err
	}
	loc, cerr := f.createEntry(parent, path.Last(), 0)
	if cerr != 0 {
		return nil, cerr
	}
	return &vnode_t{dev: f.dev, inode: encodeInode(loc.block, loc.off)}, 0
}

// createEntry allocates a fresh directory slot in parent for name and
// writes a zero-length, zero-first-cluster short entry into it
// (spec.md section 1's Non-goal rules out ever writing an LFN run, so
// CoalOS-created files are always pure 8.3).
func (f *Fat_t) createEntry(parent dirChain_t, name ustr.Ustr, attr Attr_t) (direntLoc_t, defs.Err_t) {
	loc, err := f.allocSlot(parent)
	if err != 0 {
		return direntLoc_t{}, err
	}
	short := shortNameFor(name.String(), func(cand [11]byte) bool {
		_, _, serr := f.searchDir(parent, ustr.Ustr(shortNameString(cand)))
		return serr == 0
	})
	b, err := f.cache.Acquire(loc.block, "fat-dir", nil)
	if err != 0 {
		return direntLoc_t{}, err
	}
	b.Lock()
	encodeShortEnt(b.Data[loc.off:loc.off+direntSize], shortEnt_t{name: short, attr: attr})
	b.Dirty = true
	b.Unlock()
	f.cache.MarkDirty(b)
	f.cache.Release(b)
	return loc, 0
}

// allocSlot finds one free-or-deleted 32-byte slot in dir, extending
// the directory by a cluster if none is found (spec.md section 4.3's
// directory allocator; CoalOS never writes LFN runs so only a single
// slot is ever needed per new entry). FAT12/16 root cannot grow.
func (f *Fat_t) allocSlot(dir dirChain_t) (direntLoc_t, defs.Err_t) {
	blocks, err := f.blocksOf(dir)
	if err != 0 {
		return direntLoc_t{}, err
	}
	for _, block := range blocks {
		b, err := f.cache.Acquire(block, "fat-dir", nil)
		if err != 0 {
			return direntLoc_t{}, err
		}
		b.Lock()
		for off := 0; off+direntSize <= len(b.Data); off += direntSize {
			m := b.Data[off]
			if m == deFreeMarker || m == deDeletedMarker {
				b.Unlock()
				f.cache.Release(b)
				return direntLoc_t{block, off}, 0
			}
		}
		b.Unlock()
		f.cache.Release(b)
	}
	if dir.fixedBlocks != nil {
		return direntLoc_t{}, defs.ENOSPC
	}
	nc, err := f.growDir(dir)
	if err != 0 {
		return direntLoc_t{}, err
	}
	return direntLoc_t{block: int(f.geo.ClusterToSector(nc)), off: 0}, 0
}

// growDir appends one zeroed cluster to dir's chain and returns it.
func (f *Fat_t) growDir(dir dirChain_t) (uint32, defs.Err_t) {
	last := dir.startCluster
	if last != 0 {
		chain, err := f.table.WalkChain(dir.startCluster)
		if err != 0 {
			return 0, err
		}
		last = chain[len(chain)-1]
	}
	nc, err := f.table.Alloc(last)
	if err != 0 {
		return 0, err
	}
	base := int(f.geo.ClusterToSector(nc))
	for s := uint32(0); s < f.geo.SectorsPerCluster; s++ {
		b, err := f.cache.Acquire(base+int(s), "fat-dir", nil)
		if err != 0 {
			return 0, err
		}
		b.Lock()
		for i := range b.Data {
			b.Data[i] = 0
		}
		b.Dirty = true
		b.Unlock()
		f.cache.MarkDirty(b)
		f.cache.Release(b)
	}
	return nc, 0
}

/// Unlink marks path's directory entry (and any preceding LFN slots)
/// deleted, then frees its cluster chain (spec.md section 4.3).
func (f *Fat_t) Unlink(path ustr.Ustr) defs.Err_t {
	e, loc, _, err := f.resolve(path)
	if err != 0 {
		return err
	}
	if e.attr&ATTR_DIRECTORY != 0 {
		return defs.EISDIR
	}
	if derr := f.markDeleted(loc); derr != 0 {
		return derr
	}
	return f.table.FreeChain(e.firstCluster)
}

// markDeleted stamps loc's slot, and any immediately preceding LFN
// slots belonging to the same run, with the deleted marker (spec.md
// section 4.3: "Unlink freezes the entry plus any preceding LFN slots
// ... with the deleted marker").
func (f *Fat_t) markDeleted(loc direntLoc_t) defs.Err_t {
	b, err := f.cache.Acquire(loc.block, "fat-dir", nil)
	if err != 0 {
		return err
	}
	b.Lock()
	b.Data[loc.off] = deDeletedMarker
	b.Dirty = true
	off := loc.off - direntSize
	for off >= 0 && isLfnEnt(b.Data[off:off+direntSize]) {
		b.Data[off] = deDeletedMarker
		off -= direntSize
	}
	b.Unlock()
	f.cache.MarkDirty(b)
	f.cache.Release(b)
	return 0
}

/// Mkdir allocates a cluster for the new directory, writes "." and
/// ".." into it, then links a directory entry to it from the parent
/// (spec.md section 4.3).
func (f *Fat_t) Mkdir(path ustr.Ustr) defs.Err_t {
	parent, name, err := f.resolveParent(path)
	if err != 0 {
		return err
	}
	if _, _, serr := f.searchDir(parent, name); serr == 0 {
		return defs.EEXIST
	}
	nc, err := f.table.Alloc(0)
	if err != 0 {
		return err
	}
	if derr := f.zeroCluster(nc); derr != 0 {
		return derr
	}
	parentCluster := parent.startCluster // 0 means "the fixed root", matching "." in root's own children
	if werr := f.writeDotEntries(nc, nc, parentCluster); werr != 0 {
		return werr
	}
	loc, err := f.allocSlot(parent)
	if err != 0 {
		return err
	}
	short := shortNameFor(name.String(), func(cand [11]byte) bool {
		_, _, serr := f.searchDir(parent, ustr.Ustr(shortNameString(cand)))
		return serr == 0
	})
	b, err := f.cache.Acquire(loc.block, "fat-dir", nil)
	if err != 0 {
		return err
	}
	b.Lock()
	encodeShortEnt(b.Data[loc.off:loc.off+direntSize], shortEnt_t{name: short, attr: ATTR_DIRECTORY, firstCluster: nc})
	b.Dirty = true
	b.Unlock()
	f.cache.MarkDirty(b)
	f.cache.Release(b)
	return 0
}

func (f *Fat_t) zeroCluster(c uint32) defs.Err_t {
	base := int(f.geo.ClusterToSector(c))
	for s := uint32(0); s < f.geo.SectorsPerCluster; s++ {
		b, err := f.cache.Acquire(base+int(s), "fat-dir", nil)
		if err != 0 {
			return err
		}
		b.Lock()
		for i := range b.Data {
			b.Data[i] = 0
		}
		b.Dirty = true
		b.Unlock()
		f.cache.MarkDirty(b)
		f.cache.Release(b)
	}
	return 0
}

func (f *Fat_t) writeDotEntries(dirCluster, self, parent uint32) defs.Err_t {
	base := int(f.geo.ClusterToSector(dirCluster))
	b, err := f.cache.Acquire(base, "fat-dir", nil)
	if err != 0 {
		return err
	}
	b.Lock()
	encodeShortEnt(b.Data[0:direntSize], shortEnt_t{name: pack8_3(".", ""), attr: ATTR_DIRECTORY, firstCluster: self})
	encodeShortEnt(b.Data[direntSize:2*direntSize], shortEnt_t{name: pack8_3("..", ""), attr: ATTR_DIRECTORY, firstCluster: parent})
	b.Dirty = true
	b.Unlock()
	f.cache.MarkDirty(b)
	f.cache.Release(b)
	return 0
}

/// Rmdir removes path, refusing non-empty directories (spec.md section
/// 4.3's simplified rmdir: only "." and ".." may remain).
func (f *Fat_t) Rmdir(path ustr.Ustr) defs.Err_t {
	e, loc, _, err := f.resolve(path)
	if err != 0 {
		return err
	}
	if e.attr&ATTR_DIRECTORY == 0 {
		return defs.ENOTDIR
	}
	empty, err := f.dirIsEmpty(dirChain_t{startCluster: e.firstCluster})
	if err != 0 {
		return err
	}
	if !empty {
		return defs.ENOTEMPTY
	}
	if derr := f.markDeleted(loc); derr != 0 {
		return derr
	}
	return f.table.FreeChain(e.firstCluster)
}

func (f *Fat_t) dirIsEmpty(d dirChain_t) (bool, defs.Err_t) {
	blocks, err := f.blocksOf(d)
	if err != 0 {
		return false, err
	}
	for _, block := range blocks {
		b, err := f.cache.Acquire(block, "fat-dir", nil)
		if err != 0 {
			return false, err
		}
		b.Lock()
		for off := 0; off+direntSize <= len(b.Data); off += direntSize {
			slot := b.Data[off : off+direntSize]
			switch slot[deName] {
			case deFreeMarker:
				b.Unlock()
				f.cache.Release(b)
				return true, 0
			case deDeletedMarker:
				continue
			}
			if Attr_t(slot[deAttr]) == ATTR_LONG_NAME {
				continue
			}
			name := shortNameString([11]byte(slot[0:11]))
			if name != "." && name != ".." {
				b.Unlock()
				f.cache.Release(b)
				return false, 0
			}
		}
		b.Unlock()
		f.cache.Release(b)
	}
	return true, 0
}

/// Truncate shrinks or (not currently exercised by any caller) extends
/// the file identified by (dev, inode); truncating to zero frees the
/// whole cluster chain and zeros size and first-cluster (spec.md section
/// 4.3), while a shorter non-zero length ends the chain at the last
/// cluster still needed and frees the rest.
func (f *Fat_t) Truncate(dev, inode uint, newlen uint) defs.Err_t {
	block, off := decodeInode(inode)
	loc := direntLoc_t{block, off}
	b, err := f.cache.Acquire(loc.block, "fat-dir", nil)
	if err != 0 {
		return err
	}
	b.Lock()
	e := decodeShortEnt(b.Data[loc.off : loc.off+direntSize])
	b.Unlock()
	f.cache.Release(b)
	return f.truncateLocked(loc, e, newlen)
}

func (f *Fat_t) truncateLocked(loc direntLoc_t, e shortEnt_t, newlen uint) defs.Err_t {
	if newlen == 0 {
		if e.firstCluster != 0 {
			if err := f.table.FreeChain(e.firstCluster); err != 0 {
				return err
			}
		}
		return f.rewriteEntry(loc, func(e *shortEnt_t) {
			e.firstCluster = 0
			e.fileSize = 0
		})
	}
	// Shrinking to a non-zero length frees only the clusters past the
	// new end; growing is left to WritePage's on-demand allocation, so
	// only the size field changes here.
	keep := (int(newlen) + int(f.geo.ClusterBytes()) - 1) / int(f.geo.ClusterBytes())
	chain, err := f.table.WalkChainOrEmpty(e.firstCluster)
	if err != 0 {
		return err
	}
	if keep < len(chain) {
		if keep > 0 {
			if serr := f.table.Set(chain[keep-1], f.table.eocValue()); serr != 0 {
				return serr
			}
		}
		if ferr := f.table.FreeChain(chain[keep]); ferr != 0 {
			return ferr
		}
		if keep == 0 {
			e.firstCluster = 0
		}
	}
	return f.rewriteEntry(loc, func(se *shortEnt_t) {
		se.fileSize = uint32(newlen)
		if keep == 0 {
			se.firstCluster = 0
		}
	})
}

/// SetFileSize records sz as the file's new length, called by the VFS
/// layer once a write has extended past the previous size.
func (f *Fat_t) SetFileSize(dev, inode uint, sz uint) defs.Err_t {
	block, off := decodeInode(inode)
	return f.rewriteEntry(direntLoc_t{block, off}, func(e *shortEnt_t) {
		e.fileSize = uint32(sz)
	})
}

// ---- pgcache.Backing_i ----

/// ReadPage reads the idx'th ClusterBytes()-sized page of the file
/// named by inode. CoalOS requires ClusterBytes() == pgcache.PGSIZE
/// (enforced by cmd/mkfat always formatting with sectors_per_cluster=1
/// on a 4096-byte-sector volume) so page index maps 1:1 onto cluster
/// position in the chain.
func (f *Fat_t) ReadPage(dev, inode uint, idx int, data []byte) defs.Err_t {
	block, off := decodeInode(inode)
	eb, err := f.cache.Acquire(block, "fat-dir", nil)
	if err != 0 {
		return err
	}
	eb.Lock()
	e := decodeShortEnt(eb.Data[off : off+direntSize])
	eb.Unlock()
	f.cache.Release(eb)

	chain, err := f.table.WalkChainOrEmpty(e.firstCluster)
	if err != 0 {
		return err
	}
	if idx >= len(chain) {
		for i := range data {
			data[i] = 0
		}
		return 0
	}
	db, err := f.cache.Acquire(int(f.geo.ClusterToSector(chain[idx])), "fat-data", nil)
	if err != 0 {
		return err
	}
	db.Lock()
	copy(data, db.Data[:])
	db.Unlock()
	f.cache.Release(db)
	return 0
}

/// WritePage writes the idx'th page, allocating and linking new
/// clusters as needed to extend the chain up to idx (spec.md section
/// 4.3's cluster allocator, driven on demand from a write).
func (f *Fat_t) WritePage(dev, inode uint, idx int, data []byte) defs.Err_t {
	block, off := decodeInode(inode)
	loc := direntLoc_t{block, off}
	eb, err := f.cache.Acquire(loc.block, "fat-dir", nil)
	if err != 0 {
		return err
	}
	eb.Lock()
	e := decodeShortEnt(eb.Data[loc.off : loc.off+direntSize])
	eb.Unlock()
	f.cache.Release(eb)

	chain, err := f.table.WalkChainOrEmpty(e.firstCluster)
	if err != 0 {
		return err
	}
	grew := false
	for len(chain) <= idx {
		prev := uint32(0)
		if len(chain) > 0 {
			prev = chain[len(chain)-1]
		}
		nc, aerr := f.table.Alloc(prev)
		if aerr != 0 {
			return aerr
		}
		chain = append(chain, nc)
		grew = true
	}
	if grew && e.firstCluster == 0 {
		if rerr := f.rewriteEntry(loc, func(se *shortEnt_t) { se.firstCluster = chain[0] }); rerr != 0 {
			return rerr
		}
	}

	db, err := f.cache.Acquire(int(f.geo.ClusterToSector(chain[idx])), "fat-data", nil)
	if err != 0 {
		return err
	}
	db.Lock()
	copy(db.Data[:], data)
	db.Dirty = true
	db.Unlock()
	f.cache.MarkDirty(db)
	f.cache.Release(db)
	return 0
}

/// FileSize returns the file's current length from its directory
/// entry.
func (f *Fat_t) FileSize(dev, inode uint) (int, defs.Err_t) {
	block, off := decodeInode(inode)
	b, err := f.cache.Acquire(block, "fat-dir", nil)
	if err != 0 {
		return 0, err
	}
	b.Lock()
	e := decodeShortEnt(b.Data[off : off+direntSize])
	b.Unlock()
	f.cache.Release(b)
	return int(e.fileSize), 0
}
