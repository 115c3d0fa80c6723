// Package fat implements the FAT12/16/32 driver (spec.md section 4.3,
// C3): BIOS Parameter Block parsing, FAT table access, directory
// entry/LFN decoding, and the file operations the VFS layer (coalos/
// src/vfs) drives through Driver_i.
//
// Authored from general knowledge of the Microsoft FAT12/16/32 on-disk
// format rather than ported from the retrieval pack's FatFs-derived
// reference (_examples/other_examples, a single-global-state port of
// ChaN's FatFs C library): that reference's architecture -- one package
// global FS/File/dir struct -- has no block-cache or page-cache
// boundary to slot into, so only field names and layout are grounded on
// it; the driver shape here is the teacher's own capability-record
// style (coalos/src/blk.Disk_i, coalos/src/fdops.Fdops_i), not FatFs's.
//
// CoalOS's block device uses coalos/src/blk.BSIZE (4096) as its sector
// size rather than the traditional 512 -- a simplification already
// baked into blk's design in this tree -- so the volumes this driver
// reads and cmd/mkfat writes always declare bytes_per_sector=4096.
package fat

import "encoding/binary"

// FatType identifies which FAT table-entry width a volume uses.
type FatType int

const (
	FAT12 FatType = 12
	FAT16 FatType = 16
	FAT32 FatType = 32
)

// BPB byte offsets, standard Microsoft layout (boot sector, sector 0).
const (
	offBytesPerSector    = 11
	offSectorsPerCluster = 13
	offReservedSectors   = 14
	offNumFats           = 16
	offRootEntCnt        = 17
	offTotSec16          = 19
	offMediaType         = 21
	offFatSz16           = 22
	offTotSec32          = 32
	// FAT32 extended BPB, overlaying the FAT12/16 BPB36 region.
	offFatSz32      = 36
	offExtFlags     = 40
	offFsVer        = 42
	offRootCluster  = 44
	offFsInfoSector = 48
	offBootSig      = 510
)

const bootSigValue = 0xAA55

func field8(b []byte, off int) uint8    { return b[off] }
func field16(b []byte, off int) uint16  { return binary.LittleEndian.Uint16(b[off:]) }
func field32(b []byte, off int) uint32  { return binary.LittleEndian.Uint32(b[off:]) }
func setField16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func setField32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }

// Geometry_t is the parsed BPB plus the derived layout values every
// other fat.go file (table.go, fat.go) needs repeatedly: which sector a
// cluster starts at, where the root directory lives, how wide a FAT
// entry is.
type Geometry_t struct {
	Type FatType

	BytesPerSector    uint32
	SectorsPerCluster uint32
	ReservedSectors   uint32
	NumFats           uint32
	RootEntCnt        uint32
	FatSz             uint32
	RootCluster       uint32 // FAT32 only; 0 for FAT12/16

	totalSectors    uint32
	firstFatSector  uint32
	firstRootSector uint32 // FAT12/16 only
	rootDirSectors  uint32
	firstDataSector uint32
	totalClusters   uint32
}

// ParseGeometry reads a boot sector (must be BytesPerSector-wide,
// conventionally one blk.BSIZE block) into a Geometry_t, determining
// the FAT width from the volume's total cluster count per the standard
// Microsoft algorithm (the type is a derived property of the volume,
// never stored directly in the BPB).
func ParseGeometry(sector []byte) (*Geometry_t, error) {
	if len(sector) < 512 {
		return nil, errGeomShort
	}
	if field16(sector, offBootSig) != bootSigValue {
		return nil, errBadBootSig
	}
	g := &Geometry_t{
		BytesPerSector:    uint32(field16(sector, offBytesPerSector)),
		SectorsPerCluster: uint32(field8(sector, offSectorsPerCluster)),
		ReservedSectors:   uint32(field16(sector, offReservedSectors)),
		NumFats:           uint32(field8(sector, offNumFats)),
		RootEntCnt:        uint32(field16(sector, offRootEntCnt)),
	}
	if g.BytesPerSector == 0 || g.SectorsPerCluster == 0 || g.NumFats == 0 {
		return nil, errBadBpb
	}
	totSec16 := uint32(field16(sector, offTotSec16))
	totSec32 := field32(sector, offTotSec32)
	if totSec16 != 0 {
		g.totalSectors = totSec16
	} else {
		g.totalSectors = totSec32
	}
	fatSz16 := uint32(field16(sector, offFatSz16))
	if fatSz16 != 0 {
		g.FatSz = fatSz16
	} else {
		g.FatSz = field32(sector, offFatSz32)
		g.RootCluster = field32(sector, offRootCluster)
	}

	g.rootDirSectors = (g.RootEntCnt*32 + g.BytesPerSector - 1) / g.BytesPerSector
	g.firstFatSector = g.ReservedSectors
	g.firstRootSector = g.firstFatSector + g.NumFats*g.FatSz
	g.firstDataSector = g.firstRootSector + g.rootDirSectors

	dataSectors := g.totalSectors - g.firstDataSector
	g.totalClusters = dataSectors / g.SectorsPerCluster

	switch {
	case g.totalClusters < 4085:
		g.Type = FAT12
	case g.totalClusters < 65525:
		g.Type = FAT16
	default:
		g.Type = FAT32
	}
	return g, nil
}

// ClusterToSector returns the first sector (blk block number, relative
// to the volume's own first block) of cluster. Clusters 0 and 1 are
// reserved and must never reach here (spec.md section 6's "clusters 0
// and 1 reserved").
func (g *Geometry_t) ClusterToSector(cluster uint32) uint32 {
	return g.firstDataSector + (cluster-2)*g.SectorsPerCluster
}

// RootRegion returns the fixed root-directory sector range for
// FAT12/16 volumes; FAT32 has none (its root is an ordinary cluster
// chain starting at RootCluster).
func (g *Geometry_t) RootRegion() (start, count uint32) {
	return g.firstRootSector, g.rootDirSectors
}

// ClusterBytes returns the size of one cluster in bytes.
func (g *Geometry_t) ClusterBytes() uint32 {
	return g.SectorsPerCluster * g.BytesPerSector
}

// EOCMin and BadCluster return the FAT-type-specific end-of-chain and
// bad-cluster thresholds (spec.md section 6's "end-of-chain marker is
// ≥0xFF8 (FAT12), ≥0xFFF8 (FAT16), or ≥0x0FFFFFF8 (FAT32)").
func (g *Geometry_t) EOCMin() uint32 {
	switch g.Type {
	case FAT12:
		return 0xFF8
	case FAT16:
		return 0xFFF8
	default:
		return 0x0FFFFFF8
	}
}

// EntryMask returns the bitmask a raw FAT32 entry must be masked with;
// FAT32 entries are 28-bit, with the top 4 bits reserved. FAT12/16
// entries use their full width already.
func (g *Geometry_t) EntryMask() uint32 {
	if g.Type == FAT32 {
		return 0x0FFFFFFF
	}
	return 0xFFFFFFFF
}
