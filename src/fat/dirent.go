package fat

import (
	"encoding/binary"

	"golang.org/x/text/encoding/unicode"
)

// lfnCodec is the UCS-2LE transcoder LFN slots are stored in on disk
// (spec.md section 8: "long filename entries store UCS-2 little-endian
// name fragments"). The FAT spec's LFN encoding is UCS-2, a proper
// subset of UTF-16 with no surrogate pairs, but there is no dedicated
// UCS-2 codec in the ecosystem; UTF-16 with the same byte order decodes
// it identically.
var lfnCodec = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func utf16leDecode(units []uint16) (string, error) {
	b := make([]byte, len(units)*2)
	for i, u := range units {
		binary.LittleEndian.PutUint16(b[i*2:], u)
	}
	out, err := lfnCodec.NewDecoder().Bytes(b)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func utf16leEncode(s string) []uint16 {
	b, err := lfnCodec.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return nil
	}
	units := make([]uint16, len(b)/2)
	for i := range units {
		units[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return units
}

const direntSize = 32

// Short directory entry byte offsets within its 32-byte slot (spec.md
// section 6: "11-byte name, 1-byte attributes, 10 reserved/time bytes,
// 2-byte first-cluster-high ..., time/date, 2-byte first-cluster-low,
// 4-byte file size").
const (
	deName       = 0
	deAttr       = 11
	deNTRes      = 12
	deCrtTimeT   = 13
	deCrtTime    = 14
	deCrtDate    = 16
	deLastAccess = 18
	deFstClusHI  = 20
	deWrtTime    = 22
	deWrtDate    = 24
	deFstClusLO  = 26
	deFileSize   = 28
)

type Attr_t uint8

const (
	ATTR_READ_ONLY Attr_t = 0x01
	ATTR_HIDDEN    Attr_t = 0x02
	ATTR_SYSTEM    Attr_t = 0x04
	ATTR_VOLUME_ID Attr_t = 0x08
	ATTR_DIRECTORY Attr_t = 0x10
	ATTR_ARCHIVE   Attr_t = 0x20
	ATTR_LONG_NAME        = ATTR_READ_ONLY | ATTR_HIDDEN | ATTR_SYSTEM | ATTR_VOLUME_ID
)

const (
	deFreeMarker    = 0x00 // terminates the scan
	deDeletedMarker = 0xE5
)

// shortEnt_t is one decoded 32-byte short directory entry.
type shortEnt_t struct {
	name        [11]byte
	attr        Attr_t
	firstCluster uint32
	fileSize    uint32
}

func decodeShortEnt(b []byte) shortEnt_t {
	var e shortEnt_t
	copy(e.name[:], b[deName:deName+11])
	e.attr = Attr_t(b[deAttr])
	hi := uint32(field16(b, deFstClusHI))
	lo := uint32(field16(b, deFstClusLO))
	e.firstCluster = hi<<16 | lo
	e.fileSize = field32(b, deFileSize)
	return e
}

func encodeShortEnt(b []byte, e shortEnt_t) {
	copy(b[deName:deName+11], e.name[:])
	b[deAttr] = byte(e.attr)
	setField16(b, deFstClusHI, uint16(e.firstCluster>>16))
	setField16(b, deFstClusLO, uint16(e.firstCluster&0xFFFF))
	setField32(b, deFileSize, e.fileSize)
}

// checksum8_3 computes the LFN checksum over an 11-byte short name
// (spec.md section 6: "checksum byte = (sum of 8.3 name bytes, rotated
// right) across all LFN entries of one run").
func checksum8_3(name [11]byte) byte {
	var sum byte
	for _, c := range name {
		if sum&1 != 0 {
			sum = 0x80 + sum>>1 + c
		} else {
			sum = sum>>1 + c
		}
	}
	return sum
}

// LFN entry byte offsets.
const (
	lfnOrd      = 0
	lfnName1    = 1  // 5 UCS-2 units, 10 bytes
	lfnAttr     = 11
	lfnType     = 12
	lfnChecksum = 13
	lfnName2    = 14 // 6 UCS-2 units, 12 bytes
	lfnFstClus  = 26 // always 0
	lfnName3    = 28 // 2 UCS-2 units, 4 bytes

	lfnLastFlag = 0x40
	lfnOrdMask  = 0x3F
)

func isLfnEnt(b []byte) bool {
	return Attr_t(b[lfnAttr]) == ATTR_LONG_NAME && b[lfnOrd] != deFreeMarker && b[lfnOrd] != deDeletedMarker
}

// lfnUnits extracts the 13 UCS-2 code units (some may be 0xFFFF padding
// past a NUL terminator) an LFN slot carries, in file order.
func lfnUnits(b []byte) [13]uint16 {
	var u [13]uint16
	for i := 0; i < 5; i++ {
		u[i] = field16(b, lfnName1+2*i)
	}
	for i := 0; i < 6; i++ {
		u[5+i] = field16(b, lfnName2+2*i)
	}
	for i := 0; i < 2; i++ {
		u[11+i] = field16(b, lfnName3+2*i)
	}
	return u
}

func putLfnUnits(b []byte, u [13]uint16) {
	for i := 0; i < 5; i++ {
		setField16(b, lfnName1+2*i, u[i])
	}
	for i := 0; i < 6; i++ {
		setField16(b, lfnName2+2*i, u[5+i])
	}
	for i := 0; i < 2; i++ {
		setField16(b, lfnName3+2*i, u[11+i])
	}
}

// lfnAccum_t accumulates the LFN slots preceding a short entry, in the
// reverse-ordinal order they appear on disk (spec.md section 4.3:
// "accumulating LFN slots preceding the 8.3 entry"). A run is reset
// whenever a non-LFN, non-matching-checksum, or volume-label entry is
// seen (spec.md section 4.3).
type lfnAccum_t struct {
	checksum byte
	slots    map[int][13]uint16 // keyed by ordinal (1-based)
	maxOrd   int
	active   bool
}

func (a *lfnAccum_t) reset() {
	a.slots = nil
	a.active = false
	a.maxOrd = 0
}

// feed processes one raw 32-byte LFN slot. Returns false if the slot
// breaks an in-progress run (wrong checksum, non-contiguous ordinal),
// in which case the accumulator has already been reset and the caller
// should treat this slot as the start of a fresh, possibly-invalid run.
func (a *lfnAccum_t) feed(b []byte) bool {
	ord := int(b[lfnOrd] &^ lfnLastFlag)
	last := b[lfnOrd]&lfnLastFlag != 0
	chk := b[lfnChecksum]

	if last {
		a.reset()
		a.checksum = chk
		a.maxOrd = ord
		a.slots = make(map[int][13]uint16)
		a.slots[ord] = lfnUnits(b)
		a.active = true
		return true
	}
	if !a.active || chk != a.checksum || ord != a.maxOrd-len(a.slots) {
		a.reset()
		return false
	}
	a.slots[ord] = lfnUnits(b)
	return true
}

// reconstruct assembles the accumulated slots into a name, validating
// against shortChecksum (spec.md section 8 property 5: "a reconstructed
// name is accepted only if its checksum equals the 8.3-derived checksum
// of E"). Returns ok=false if the run is empty, incomplete, or the
// checksum does not match.
func (a *lfnAccum_t) reconstruct(shortChecksum byte) (string, bool) {
	if !a.active || len(a.slots) != a.maxOrd || a.checksum != shortChecksum {
		return "", false
	}
	var units []uint16
	for ord := 1; ord <= a.maxOrd; ord++ {
		slot, ok := a.slots[ord]
		if !ok {
			return "", false
		}
		for _, u := range slot {
			if u == 0 {
				goto done
			}
			units = append(units, u)
		}
	}
done:
	s, err := utf16leDecode(units)
	if err != nil {
		return "", false
	}
	return s, true
}

func (a *lfnAccum_t) clear() {
	a.reset()
}

// buildLfnSlots splits name into the 32-byte LFN slots that would
// precede a short entry with the given checksum, in file order (the
// highest ordinal, flagged last, first). CoalOS never creates long
// filenames (spec.md section 1's Non-goals: "long-filename creation
// (only LFN reading is specified)"), so no mkdir/create code path calls
// it, and no test in this tree calls it either.
func buildLfnSlots(name string, checksum byte) [][]byte {
	units := utf16leEncode(name)
	units = append(units, 0)
	for len(units)%13 != 0 {
		units = append(units, 0xFFFF)
	}
	n := len(units) / 13
	slots := make([][]byte, n)
	for i := 0; i < n; i++ {
		ord := n - i
		b := make([]byte, direntSize)
		o := byte(ord)
		if i == 0 {
			o |= lfnLastFlag
		}
		b[lfnOrd] = o
		b[lfnAttr] = byte(ATTR_LONG_NAME)
		b[lfnChecksum] = checksum
		var u [13]uint16
		copy(u[:], units[(ord-1)*13:ord*13])
		putLfnUnits(b, u)
		slots[i] = b
	}
	return slots
}
