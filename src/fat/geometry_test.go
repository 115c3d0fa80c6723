package fat

import "testing"

func mkBootSector(bytesPerSector uint16, secPerClus uint8, reserved uint16, numFats uint8, rootEntCnt uint16, totSec16 uint16, fatSz16 uint16, totSec32 uint32) []byte {
	b := make([]byte, 512)
	setField16(b, offBytesPerSector, bytesPerSector)
	b[offSectorsPerCluster] = secPerClus
	setField16(b, offReservedSectors, reserved)
	b[offNumFats] = numFats
	setField16(b, offRootEntCnt, rootEntCnt)
	setField16(b, offTotSec16, totSec16)
	setField16(b, offFatSz16, fatSz16)
	setField32(b, offTotSec32, totSec32)
	setField16(b, offBootSig, bootSigValue)
	return b
}

func TestParseGeometryRejectsShortSector(t *testing.T) {
	if _, err := ParseGeometry(make([]byte, 100)); err == nil {
		t.Fatalf("expected error for a sector shorter than 512 bytes")
	}
}

func TestParseGeometryRejectsBadBootSignature(t *testing.T) {
	b := mkBootSector(4096, 1, 1, 2, 512, 1000, 10, 0)
	setField16(b, offBootSig, 0)
	if _, err := ParseGeometry(b); err == nil {
		t.Fatalf("expected error for a missing 0xAA55 boot signature")
	}
}

func TestParseGeometryRejectsZeroBpbFields(t *testing.T) {
	b := mkBootSector(0, 1, 1, 2, 512, 1000, 10, 0)
	if _, err := ParseGeometry(b); err == nil {
		t.Fatalf("expected error for a zero bytes-per-sector field")
	}
}

func TestParseGeometryClassifiesFat12ForSmallVolume(t *testing.T) {
	b := mkBootSector(4096, 1, 1, 2, 512, 1000, 10, 0)
	g, err := ParseGeometry(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Type != FAT12 {
		t.Fatalf("expected FAT12 for a volume with under 4085 clusters, got %v", g.Type)
	}
}

func TestParseGeometryClassifiesFat32ForLargeVolume(t *testing.T) {
	b := mkBootSector(4096, 8, 32, 2, 0, 0, 0, 2_000_000)
	setField32(b, offFatSz32, 4000)
	setField32(b, offRootCluster, 2)
	g, err := ParseGeometry(b)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if g.Type != FAT32 {
		t.Fatalf("expected FAT32 for a volume with at least 65525 clusters, got %v", g.Type)
	}
	if g.RootCluster != 2 {
		t.Fatalf("expected FAT32 root cluster preserved, got %d", g.RootCluster)
	}
}

func TestClusterToSectorSkipsReservedClusters(t *testing.T) {
	b := mkBootSector(4096, 1, 1, 2, 512, 1000, 10, 0)
	g, _ := ParseGeometry(b)
	first := g.ClusterToSector(2)
	second := g.ClusterToSector(3)
	if second != first+g.SectorsPerCluster {
		t.Fatalf("expected consecutive clusters one SectorsPerCluster apart")
	}
}

func TestEOCMinVariesByFatType(t *testing.T) {
	g12 := &Geometry_t{Type: FAT12}
	g16 := &Geometry_t{Type: FAT16}
	g32 := &Geometry_t{Type: FAT32}
	if g12.EOCMin() != 0xFF8 || g16.EOCMin() != 0xFFF8 || g32.EOCMin() != 0x0FFFFFF8 {
		t.Fatalf("unexpected EOC thresholds: %x %x %x", g12.EOCMin(), g16.EOCMin(), g32.EOCMin())
	}
}

func TestEntryMaskOnlyMasksFat32(t *testing.T) {
	g16 := &Geometry_t{Type: FAT16}
	g32 := &Geometry_t{Type: FAT32}
	if g16.EntryMask() != 0xFFFFFFFF {
		t.Fatalf("expected FAT16 entry mask to be unrestricted")
	}
	if g32.EntryMask() != 0x0FFFFFFF {
		t.Fatalf("expected FAT32 entries masked to 28 bits")
	}
}
