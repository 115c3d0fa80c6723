package fat

import "errors"

// Geometry parse failures surface before there is a device id to
// attach a defs.Err_t to (cmd/mkfat reads a prospective image before
// mounting it), so these stay plain errors; everything past mount time
// speaks defs.Err_t like the rest of the kernel.
var (
	errGeomShort  = errors.New("fat: boot sector short of 512 bytes")
	errBadBootSig = errors.New("fat: missing 0x55AA boot signature")
	errBadBpb     = errors.New("fat: zero bytes-per-sector, sectors-per-cluster, or num-fats")
)
