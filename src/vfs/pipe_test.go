package vfs

import (
	"testing"

	"coalos/src/defs"
)

type kernBuf_t struct {
	buf []byte
	off int
}

func (k *kernBuf_t) Uioread(dst []uint8) (int, defs.Err_t) {
	n := copy(dst, k.buf[k.off:])
	k.off += n
	return n, 0
}
func (k *kernBuf_t) Uiowrite(src []uint8) (int, defs.Err_t) {
	n := copy(k.buf[k.off:], src)
	k.off += n
	return n, 0
}
func (k *kernBuf_t) Remain() int  { return len(k.buf) - k.off }
func (k *kernBuf_t) Totalsz() int { return len(k.buf) }

func TestPipeWriteThenReadRoundtrips(t *testing.T) {
	rd, wr := MkPipe()
	src := &kernBuf_t{buf: []byte("hello")}
	n, err := wr.Fops.Write(src)
	if err != 0 || n != 5 {
		t.Fatalf("write: n=%d err=%v", n, err)
	}
	dst := &kernBuf_t{buf: make([]byte, 5)}
	n, err = rd.Fops.Read(dst)
	if err != 0 || n != 5 {
		t.Fatalf("read: n=%d err=%v", n, err)
	}
	if string(dst.buf[:n]) != "hello" {
		t.Fatalf("got %q", dst.buf[:n])
	}
}

func TestPipeReadReturnsEOFAfterWriterCloses(t *testing.T) {
	rd, wr := MkPipe()
	wr.Fops.Close()
	dst := &kernBuf_t{buf: make([]byte, 4)}
	n, err := rd.Fops.Read(dst)
	if err != 0 || n != 0 {
		t.Fatalf("expected EOF (0, nil) reading from a closed-writer empty pipe, got n=%d err=%v", n, err)
	}
}

func TestPipeWriteReturnsEpipeAfterReaderCloses(t *testing.T) {
	rd, wr := MkPipe()
	rd.Fops.Close()
	src := &kernBuf_t{buf: []byte("x")}
	_, err := wr.Fops.Write(src)
	if err != defs.EPIPE {
		t.Fatalf("expected EPIPE writing after reader closed, got %v", err)
	}
}
