// Package block provides the fixed-size, block-addressed byte region that
// backs a flat file system image. An Image is either a shared mapping of
// the image file on disk or an in-memory buffer (for tests); all access
// goes through bounds-checked accessors so that raw offsets never leave
// this package.
package block

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Size is the size of one block in bytes.
const Size = 512

// ErrOutOfRange is returned when a block index or byte offset falls
// outside the image.
var ErrOutOfRange = errors.New("block address out of range")

// Image is a block-addressed view of a file system image. The zero value
// is not usable; obtain an Image from Create, Open or NewMemory.
type Image struct {
	buf     []byte
	nBlocks uint32

	// set for file-backed images only
	f      *os.File
	mapped bool
}

// Create creates (or truncates) the image file at path, grows it to
// nBlocks*Size bytes and maps it shared read-write. The caller must call
// Close to make the image durable.
func Create(path string, nBlocks uint32) (*Image, error) {
	if nBlocks == 0 {
		return nil, fmt.Errorf("create %s: image must have at least one block", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return nil, err
	}
	length := int64(nBlocks) * Size
	if err := f.Truncate(length); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate %s to %d bytes: %w", path, length, err)
	}
	buf, err := unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Image{buf: buf, nBlocks: nBlocks, f: f, mapped: true}, nil
}

// Open maps an existing image file read-only, e.g. for validating a
// previously built image. The file size must be a whole number of blocks.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	length := fi.Size()
	if length == 0 || length%Size != 0 {
		f.Close()
		return nil, fmt.Errorf("open %s: size %d is not a positive multiple of %d", path, length, Size)
	}
	buf, err := unix.Mmap(int(f.Fd()), 0, int(length), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return &Image{buf: buf, nBlocks: uint32(length / Size), f: f, mapped: true}, nil
}

// NewMemory returns an image backed by a zeroed in-memory buffer.
func NewMemory(nBlocks uint32) *Image {
	return &Image{
		buf:     make([]byte, int64(nBlocks)*Size),
		nBlocks: nBlocks,
	}
}

// NBlocks returns the total number of blocks in the image.
func (img *Image) NBlocks() uint32 { return img.nBlocks }

// Slice returns the n bytes starting at byte offset off within block idx.
// The requested range must lie entirely within that block.
func (img *Image) Slice(idx, off, n uint32) ([]byte, error) {
	if idx >= img.nBlocks || off >= Size || off+n > Size {
		return nil, fmt.Errorf("block %d offset %d length %d (of %d blocks): %w",
			idx, off, n, img.nBlocks, ErrOutOfRange)
	}
	base := int64(idx)*Size + int64(off)
	return img.buf[base : base+int64(n)], nil
}

// ReadU32 reads the little-endian uint32 at byte offset off within block idx.
func (img *Image) ReadU32(idx, off uint32) (uint32, error) {
	b, err := img.Slice(idx, off, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteU32 writes v as a little-endian uint32 at byte offset off within
// block idx.
func (img *Image) WriteU32(idx, off, v uint32) error {
	b, err := img.Slice(idx, off, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

// Close flushes a file-backed image to persistent storage and unmaps it.
// The Image must not be used after calling Close. Durability is only
// guaranteed once Close returns without error.
func (img *Image) Close() error {
	if !img.mapped {
		img.buf = nil
		return nil
	}
	if err := unix.Msync(img.buf, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	if err := unix.Munmap(img.buf); err != nil {
		return fmt.Errorf("munmap: %w", err)
	}
	img.buf = nil
	return img.f.Close()
}
