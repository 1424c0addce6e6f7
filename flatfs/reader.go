package flatfs

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/flatfs/mkflat/block"
)

// FileInfo describes one root directory entry.
type FileInfo struct {
	Name       string
	Size       uint32
	FirstBlock uint32
}

// Reader walks a flat file system image, e.g. to validate what a Writer
// produced.
type Reader struct {
	img     *block.Image
	nBlocks uint32
	root    uint32
}

// NewReader validates the superblock of img and returns a Reader.
func NewReader(img *block.Image) (*Reader, error) {
	magic, err := img.Slice(0, offMagic, 4)
	if err != nil {
		return nil, err
	}
	if string(magic) != Magic {
		return nil, fmt.Errorf("bad magic %q, want %q", magic, Magic)
	}
	nBlocks, err := img.ReadU32(0, offNBlocks)
	if err != nil {
		return nil, err
	}
	if nBlocks != img.NBlocks() {
		return nil, fmt.Errorf("superblock says %d blocks, image has %d", nBlocks, img.NBlocks())
	}
	root, err := img.ReadU32(0, offRoot)
	if err != nil {
		return nil, err
	}
	if root == 0 || root >= nBlocks {
		return nil, fmt.Errorf("root directory block %d out of range", root)
	}
	tag, err := img.ReadU32(root, hdrOffTag)
	if err != nil {
		return nil, err
	}
	if tag != TagDirectory {
		return nil, fmt.Errorf("root block %d has tag %d, want %d", root, tag, TagDirectory)
	}
	return &Reader{img: img, nBlocks: nBlocks, root: root}, nil
}

func (r *Reader) table(i uint32) (uint32, error) {
	if i >= r.nBlocks {
		return 0, fmt.Errorf("allocation table slot %d of %d: %w", i, r.nBlocks, block.ErrOutOfRange)
	}
	blk, off := tableSlot(i)
	return r.img.ReadU32(blk, off)
}

// Files decodes the root directory, in entry order. Each entry's size is
// taken from the file's header.
func (r *Reader) Files() ([]FileInfo, error) {
	size, err := r.img.ReadU32(r.root, hdrOffSize)
	if err != nil {
		return nil, err
	}
	if size%entrySize != 0 || size > block.Size-headerSize {
		return nil, fmt.Errorf("root directory size %d is not a whole number of entries", size)
	}
	infos := make([]FileInfo, 0, size/entrySize)
	for i := uint32(0); i < size/entrySize; i++ {
		e, err := r.img.Slice(r.root, headerSize+i*entrySize, entrySize)
		if err != nil {
			return nil, err
		}
		first := binary.LittleEndian.Uint32(e[nameSize:])
		if first == 0 || first >= r.nBlocks {
			return nil, fmt.Errorf("entry %d: first block %d out of range", i, first)
		}
		tag, err := r.img.ReadU32(first, hdrOffTag)
		if err != nil {
			return nil, err
		}
		if tag != TagFile {
			return nil, fmt.Errorf("entry %d: block %d has tag %d, want %d", i, first, tag, TagFile)
		}
		fileSize, err := r.img.ReadU32(first, hdrOffSize)
		if err != nil {
			return nil, err
		}
		infos = append(infos, FileInfo{
			Name:       string(bytes.TrimRight(e[:nameSize], "\x00")),
			Size:       fileSize,
			FirstBlock: first,
		})
	}
	return infos, nil
}

// ReadFile follows fi's block chain through the allocation table and
// returns the file's contents.
func (r *Reader) ReadFile(fi FileInfo) ([]byte, error) {
	out := make([]byte, 0, fi.Size)
	cur := fi.FirstBlock
	off, room := uint32(headerSize), uint32(block.Size-headerSize)
	remaining := fi.Size
	for remaining > 0 {
		n := remaining
		if n > room {
			n = room
		}
		b, err := r.img.Slice(cur, off, n)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
		remaining -= n
		if remaining == 0 {
			break
		}
		next, err := r.table(cur)
		if err != nil {
			return nil, err
		}
		if next == endOfChain {
			return nil, fmt.Errorf("%s: chain ends at block %d with %d bytes unread", fi.Name, cur, remaining)
		}
		cur, off, room = next, 0, block.Size
	}
	return out, nil
}
