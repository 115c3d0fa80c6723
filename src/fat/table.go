package fat

import (
	"sync"

	"coalos/src/blk"
	"coalos/src/defs"
)

const freeCluster = 0
const firstDataCluster = 2

// Table_t is the in-memory view of the on-disk FAT, accessed a sector
// at a time through the block cache. spec.md section 4.3: "The FAT
// context lock serializes all mutation of the in-memory FAT table and
// of directory slots within one mount" -- that lock is Table_t.Mutex,
// shared with the directory-mutation paths in fat.go through Fat_t's
// embedding of *Table_t.
type Table_t struct {
	sync.Mutex
	cache *blk.Cache_t
	geo   *Geometry_t
	// hint is the cluster Alloc resumes scanning from, avoiding an
	// O(total_clusters) rescan from cluster 2 on every allocation.
	hint uint32
}

func MkTable(cache *blk.Cache_t, geo *Geometry_t) *Table_t {
	return &Table_t{cache: cache, geo: geo, hint: firstDataCluster}
}

// entryLoc locates the byte offset of cluster's FAT entry: which block
// (relative to the volume's first FAT sector) and the byte offset
// within it. A FAT12 entry straddles a block boundary whenever its
// first byte is the last byte of a block; the caller handles that case
// specially.
func (t *Table_t) entryLoc(cluster uint32) (block int, byteOff uint32) {
	var fatByteOff uint32
	switch t.geo.Type {
	case FAT12:
		fatByteOff = cluster + cluster/2
	case FAT16:
		fatByteOff = cluster * 2
	default:
		fatByteOff = cluster * 4
	}
	absByte := t.geo.firstFatSector*t.geo.BytesPerSector + fatByteOff
	return int(absByte / t.geo.BytesPerSector), absByte % t.geo.BytesPerSector
}

func (t *Table_t) readSector(block int) ([]byte, *blk.Bdev_block_t, defs.Err_t) {
	b, err := t.cache.Acquire(block, "fat-table", nil)
	if err != 0 {
		return nil, nil, err
	}
	b.Lock()
	return b.Data[:], b, 0
}

// Get returns cluster's raw table entry, masked to the FAT type's
// entry width.
func (t *Table_t) Get(cluster uint32) (uint32, defs.Err_t) {
	t.Lock()
	defer t.Unlock()
	return t.get(cluster)
}

func (t *Table_t) get(cluster uint32) (uint32, defs.Err_t) {
	block, off := t.entryLoc(cluster)
	data, b, err := t.readSector(block)
	if err != 0 {
		return 0, err
	}
	defer func() { b.Unlock(); t.cache.Release(b) }()

	if t.geo.Type == FAT12 {
		if off == uint32(blk.BSIZE)-1 {
			// straddles into the next sector
			lo := uint32(data[off])
			nextData, nextB, err := t.readSector(block + 1)
			if err != 0 {
				return 0, err
			}
			hi := uint32(nextData[0])
			nextB.Unlock()
			t.cache.Release(nextB)
			return fat12val(cluster, lo|hi<<8), 0
		}
		v := uint32(data[off]) | uint32(data[off+1])<<8
		return fat12val(cluster, v), 0
	}
	if t.geo.Type == FAT16 {
		return uint32(data[off]) | uint32(data[off+1])<<8, 0
	}
	v := uint32(data[off]) | uint32(data[off+1])<<8 | uint32(data[off+2])<<16 | uint32(data[off+3])<<24
	return v & t.geo.EntryMask(), 0
}

// fat12val extracts the 12-bit entry for cluster from a packed 16-bit
// read spanning its 1.5-byte slot: even clusters occupy the low 12
// bits, odd clusters the high 12.
func fat12val(cluster, packed uint32) uint32 {
	if cluster%2 == 0 {
		return packed & 0xFFF
	}
	return packed >> 4
}

// Set writes cluster's table entry in every copy of the FAT (NumFats
// mirrors, kept identical per the standard format).
func (t *Table_t) Set(cluster, val uint32) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	return t.set(cluster, val)
}

func (t *Table_t) set(cluster, val uint32) defs.Err_t {
	for copyNo := uint32(0); copyNo < t.geo.NumFats; copyNo++ {
		if err := t.setOneCopy(cluster, val, copyNo); err != 0 {
			return err
		}
	}
	return 0
}

func (t *Table_t) setOneCopy(cluster, val, copyNo uint32) defs.Err_t {
	block, off := t.entryLoc(cluster)
	block += int(copyNo * t.geo.FatSz)
	data, b, err := t.readSector(block)
	if err != 0 {
		return err
	}

	switch t.geo.Type {
	case FAT12:
		if off == uint32(blk.BSIZE)-1 {
			data[off] = byte(val12lo(cluster, data[off], val))
			b.Dirty = true
			b.Unlock()
			t.cache.MarkDirty(b)
			t.cache.Release(b)

			nextData, nextB, err := t.readSector(block + 1)
			if err != 0 {
				return err
			}
			nextData[0] = byte(val12hi(cluster, nextData[0], val))
			nextB.Dirty = true
			nextB.Unlock()
			t.cache.MarkDirty(nextB)
			t.cache.Release(nextB)
			return 0
		}
		lo, hi := fat12bytes(cluster, data[off], data[off+1], val)
		data[off] = lo
		data[off+1] = hi
	case FAT16:
		data[off] = byte(val)
		data[off+1] = byte(val >> 8)
	default:
		keep := (uint32(data[off])|uint32(data[off+1])<<8|uint32(data[off+2])<<16|uint32(data[off+3])<<24) &^ t.geo.EntryMask()
		v := (val & t.geo.EntryMask()) | keep
		data[off] = byte(v)
		data[off+1] = byte(v >> 8)
		data[off+2] = byte(v >> 16)
		data[off+3] = byte(v >> 24)
	}
	b.Dirty = true
	b.Unlock()
	t.cache.MarkDirty(b)
	t.cache.Release(b)
	return 0
}

// fat12bytes recomputes the two packed bytes holding cluster's 12-bit
// entry, preserving the neighboring cluster's nibble that shares the
// second byte.
func fat12bytes(cluster uint32, origLo, origHi byte, val uint32) (lo, hi byte) {
	packed := uint32(origLo) | uint32(origHi)<<8
	if cluster%2 == 0 {
		packed = (packed &^ 0xFFF) | (val & 0xFFF)
	} else {
		packed = (packed & 0xFFF) | ((val & 0xFFF) << 4)
	}
	return byte(packed), byte(packed >> 8)
}

func val12lo(cluster uint32, origLo byte, val uint32) byte {
	lo, _ := fat12bytes(cluster, origLo, 0, val)
	return lo
}

func val12hi(cluster uint32, origHi byte, val uint32) byte {
	_, hi := fat12bytes(cluster, 0, origHi, val)
	return hi
}

// IsEOC reports whether v is an end-of-chain marker for this volume's
// FAT type (spec.md section 6).
func (t *Table_t) IsEOC(v uint32) bool {
	return v >= t.geo.EOCMin()
}

// IsFree reports whether v marks an unused cluster.
func (t *Table_t) IsFree(v uint32) bool {
	return v == freeCluster
}

// eocValue is the end-of-chain marker this volume's type writes when
// terminating a chain.
func (t *Table_t) eocValue() uint32 {
	switch t.geo.Type {
	case FAT12:
		return 0xFFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// Alloc finds a free cluster by scanning the table starting from the
// last allocation point (spec.md section 4.3's "locates a free cluster
// via a scan of the FAT table"), marks it EOC, and links prev to it if
// prev is non-zero.
func (t *Table_t) Alloc(prev uint32) (uint32, defs.Err_t) {
	t.Lock()
	defer t.Unlock()

	start := t.hint
	cluster := start
	for {
		v, err := t.get(cluster)
		if err != 0 {
			return 0, err
		}
		if t.IsFree(v) {
			if err := t.set(cluster, t.eocValue()); err != 0 {
				return 0, err
			}
			if prev != 0 {
				if err := t.set(prev, cluster); err != 0 {
					return 0, err
				}
			}
			t.hint = cluster + 1
			if t.hint >= t.geo.totalClusters+firstDataCluster {
				t.hint = firstDataCluster
			}
			return cluster, 0
		}
		cluster++
		if cluster >= t.geo.totalClusters+firstDataCluster {
			cluster = firstDataCluster
		}
		if cluster == start {
			return 0, defs.ENOSPC
		}
	}
}

// FreeChain walks the chain starting at head and marks every cluster
// in it free.
func (t *Table_t) FreeChain(head uint32) defs.Err_t {
	t.Lock()
	defer t.Unlock()
	cur := head
	for cur != 0 && !t.IsEOC(cur) {
		v, err := t.get(cur)
		if err != 0 {
			return err
		}
		if err := t.set(cur, freeCluster); err != 0 {
			return err
		}
		cur = v
	}
	return 0
}

// WalkChainOrEmpty is WalkChain but treats a zero head (an empty file
// that has never been written) as a zero-length chain rather than an
// error.
func (t *Table_t) WalkChainOrEmpty(head uint32) ([]uint32, defs.Err_t) {
	if head == 0 {
		return nil, 0
	}
	return t.WalkChain(head)
}

// WalkChain returns every cluster number in the chain starting at
// head, in order. A chain that terminates without hitting an EOC
// marker (a cluster pointing at 0, or off the end of the volume) is
// "premature termination" (spec.md section 4.3) and returns EIO.
func (t *Table_t) WalkChain(head uint32) ([]uint32, defs.Err_t) {
	var out []uint32
	cur := head
	for {
		if cur == 0 || cur < firstDataCluster || cur >= t.geo.totalClusters+firstDataCluster {
			return nil, defs.EIO
		}
		out = append(out, cur)
		v, err := t.Get(cur)
		if err != 0 {
			return nil, err
		}
		if t.IsEOC(v) {
			return out, 0
		}
		cur = v
	}
}
