// Command mkfat builds a bootable FAT32 disk image: a boot sector and
// FAT tables formatted by this tool directly, then a skeleton
// directory tree copied in through the kernel's own fat.Fat_t driver
// running host-side against the image file -- the same trick the
// teacher's mkfs.go played by linking its in-kernel filesystem code
// into a host build tool rather than re-implementing directory/file
// creation a second time.
package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"coalos/src/blk"
	"coalos/src/defs"
	"coalos/src/fat"
	"coalos/src/mem"
	"coalos/src/ustr"
)

const (
	reservedSectors   = 32
	numFats           = 2
	sectorsPerCluster = 1
)

// fileDisk adapts an *os.File to blk.Disk_i, servicing every request
// synchronously before Start returns (there is no concurrent I/O in a
// one-shot host build tool).
type fileDisk struct {
	f *os.File
}

func (d *fileDisk) Start(req *blk.Bdev_req_t) bool {
	req.Blks.Apply(func(b *blk.Bdev_block_t) {
		off := int64(b.Block) * blk.BSIZE
		switch req.Cmd {
		case blk.BDEV_WRITE:
			if _, err := d.f.WriteAt(b.Data[:], off); err != nil {
				panic(err)
			}
		case blk.BDEV_READ:
			if _, err := d.f.ReadAt(b.Data[:], off); err != nil && err != io.EOF {
				panic(err)
			}
		}
	})
	close(req.AckCh)
	return false
}

func (d *fileDisk) Stats() string { return "mkfat file disk" }

type hostMem struct{}

func (hostMem) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	pg, pa, ok := mem.Physmem.Refpg_new_nozero()
	if !ok {
		return 0, nil, false
	}
	return pa, mem.Pg2bytes(pg), true
}
func (hostMem) Free(pa mem.Pa_t)  { mem.Physmem.Refdown(pa) }
func (hostMem) Refup(pa mem.Pa_t) { mem.Physmem.Refup(pa) }

func usage() {
	fmt.Printf("usage: mkfat <image> <size-mib> <skeleton-dir>\n")
	os.Exit(1)
}

func main() {
	if len(os.Args) != 4 {
		usage()
	}
	imagePath := os.Args[1]
	var sizeMiB int
	if _, err := fmt.Sscanf(os.Args[2], "%d", &sizeMiB); err != nil || sizeMiB <= 0 {
		fmt.Printf("bad size %q\n", os.Args[2])
		os.Exit(1)
	}
	skelDir := os.Args[3]

	totalSectors := uint32(sizeMiB*1024*1024) / blk.BSIZE
	fatSz := computeFatSz32(totalSectors)

	f, err := os.Create(imagePath)
	if err != nil {
		panic(err)
	}
	if err := f.Truncate(int64(totalSectors) * blk.BSIZE); err != nil {
		panic(err)
	}

	boot := buildBootSector(totalSectors, fatSz)
	if _, err := f.WriteAt(boot, 0); err != nil {
		panic(err)
	}
	writeInitialFat(f, fatSz)
	zeroCluster(f, reservedSectors+numFats*fatSz)

	mem.Phys_init(int(totalSectors) + 1024)
	disk := &fileDisk{f: f}
	cache := blk.MkCache(disk, hostMem{})

	drv, err := fat.MountFat(0, cache, boot)
	if err != nil {
		panic(err)
	}

	if err := filepath.WalkDir(skelDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(path, skelDir)
		if rel == "" {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, "/") {
			rel = "/" + rel
		}
		if d.IsDir() {
			if e := drv.Mkdir(ustr.Ustr(rel)); e != 0 && e != defs.EEXIST {
				fmt.Printf("mkdir %v: %v\n", rel, e)
			}
			return nil
		}
		if e := copyFile(drv, path, rel); e != 0 {
			fmt.Printf("copy %v: %v\n", rel, e)
		}
		return nil
	}); err != nil {
		panic(err)
	}

	cache.Sync()
	if err := f.Close(); err != nil {
		panic(err)
	}
}

func copyFile(drv *fat.Fat_t, hostPath, fatPath string) defs.Err_t {
	vn, err := drv.Open(ustr.Ustr(fatPath), defs.O_CREAT|defs.O_WRONLY|defs.O_TRUNC, 0644)
	if err != 0 {
		return err
	}
	dev, inode := vn.VnodeKey()

	src, oerr := os.Open(hostPath)
	if oerr != nil {
		panic(oerr)
	}
	defer src.Close()

	buf := make([]byte, blk.BSIZE)
	idx := 0
	total := 0
	for {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			page := buf
			if n < len(buf) {
				page = make([]byte, blk.BSIZE)
				copy(page, buf[:n])
			}
			if werr := drv.WritePage(dev, inode, idx, page); werr != 0 {
				return werr
			}
			total += n
			idx++
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			panic(rerr)
		}
	}
	return drv.SetFileSize(dev, inode, uint(total))
}

// computeFatSz32 solves the circular "FAT size depends on data cluster
// count, which depends on FAT size" relationship by fixed-point
// iteration, the standard approach real FAT32 formatters use (e.g. the
// algorithm published in Microsoft's fatgen103).
func computeFatSz32(totalSectors uint32) uint32 {
	fatSz := uint32(1)
	for i := 0; i < 8; i++ {
		dataSectors := totalSectors - reservedSectors - numFats*fatSz
		dataClusters := dataSectors / sectorsPerCluster
		next := (dataClusters*4 + blk.BSIZE - 1) / blk.BSIZE
		if next == fatSz {
			break
		}
		fatSz = next
	}
	return fatSz
}

func buildBootSector(totalSectors, fatSz uint32) []byte {
	b := make([]byte, blk.BSIZE)
	b[0] = 0xEB
	b[1] = 0x00
	b[2] = 0x90
	copy(b[3:11], "COALOS4.0")
	binary.LittleEndian.PutUint16(b[11:], blk.BSIZE)
	b[13] = sectorsPerCluster
	binary.LittleEndian.PutUint16(b[14:], reservedSectors)
	b[16] = numFats
	binary.LittleEndian.PutUint16(b[17:], 0) // RootEntCnt: 0 for FAT32
	binary.LittleEndian.PutUint16(b[19:], 0) // TotSec16: 0, using TotSec32
	b[21] = 0xF8                             // fixed-disk media descriptor
	binary.LittleEndian.PutUint16(b[22:], 0) // FatSz16: 0, using FatSz32
	binary.LittleEndian.PutUint32(b[32:], totalSectors)
	binary.LittleEndian.PutUint32(b[36:], fatSz)
	binary.LittleEndian.PutUint32(b[44:], 2) // RootCluster
	binary.LittleEndian.PutUint16(b[510:], 0xAA55)
	return b
}

// writeInitialFat stamps the reserved cluster-0/cluster-1 entries and
// terminates the root directory's one-cluster chain, in both FAT
// copies (spec.md section 6: "clusters 0 and 1 reserved").
func writeInitialFat(f *os.File, fatSz uint32) {
	sector := make([]byte, blk.BSIZE)
	binary.LittleEndian.PutUint32(sector[0:], 0x0FFFFFF8)
	binary.LittleEndian.PutUint32(sector[4:], 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(sector[8:], 0x0FFFFFFF) // root dir cluster 2, EOC
	for copyNo := uint32(0); copyNo < numFats; copyNo++ {
		off := int64(reservedSectors+copyNo*fatSz) * blk.BSIZE
		if _, err := f.WriteAt(sector, off); err != nil {
			panic(err)
		}
	}
}

func zeroCluster(f *os.File, sector uint32) {
	z := make([]byte, blk.BSIZE*sectorsPerCluster)
	if _, err := f.WriteAt(z, int64(sector)*blk.BSIZE); err != nil {
		panic(err)
	}
}
