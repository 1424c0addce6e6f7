package flatfs

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/flatfs/mkflat/block"
)

// Magic identifies a flat file system image. It occupies the first four
// bytes of the superblock.
const Magic = "F439"

const (
	// TagFile and TagDirectory distinguish the 8-byte header at offset 0
	// of a chain's first block.
	TagFile      = uint32(1)
	TagDirectory = uint32(2)

	// endOfChain terminates both the free list and block chains in the
	// allocation table. Block 0 always holds the superblock, so 0 can
	// never be a valid forward pointer.
	endOfChain = uint32(0)

	headerSize = 8
	entrySize  = 16
	nameSize   = 12

	// MaxRootEntries is the capacity of the single root directory block.
	MaxRootEntries = (block.Size - headerSize) / entrySize
)

// Superblock field offsets within block 0, and header field offsets
// within a chain's first block.
const (
	offMagic   = 0
	offNBlocks = 4
	offAvail   = 8
	offRoot    = 12

	hdrOffTag  = 0
	hdrOffSize = 4
)

var (
	// ErrOutOfSpace is returned once the free list is exhausted. The
	// build cannot continue; blocks already chained to a partially
	// ingested file are not reclaimed.
	ErrOutOfSpace = errors.New("image is full")

	// ErrRootFull is returned when the root directory block cannot hold
	// another entry.
	ErrRootFull = errors.New("root directory is full")
)

// tableSlot returns the position of allocation-table slot i. The table
// holds one uint32 per block and starts in the block directly after the
// superblock.
func tableSlot(i uint32) (blk, off uint32) {
	return 1 + (i*4)/block.Size, (i * 4) % block.Size
}

// geometry computes the number of blocks occupied by the allocation
// table and the index of the last block reserved alongside it.
func geometry(nBlocks uint32) (fatBlocks, lastAvail uint32) {
	fatBlocks = uint32((uint64(nBlocks)*4 + block.Size - 1) / block.Size)
	return fatBlocks, 1 + fatBlocks
}

// Writer builds a flat file system image in place.
type Writer struct {
	img       *block.Image
	nBlocks   uint32
	fatBlocks uint32
	lastAvail uint32
	root      uint32
	nFiles    uint32

	pending *chainWriter
}

// NewWriter initializes the superblock, allocation table and root
// directory of the image and returns a Writer for adding files. The
// image must be large enough to hold the superblock, the table and one
// directory block.
func NewWriter(img *block.Image) (*Writer, error) {
	nBlocks := img.NBlocks()
	fatBlocks, lastAvail := geometry(nBlocks)
	if nBlocks < lastAvail+1 {
		return nil, fmt.Errorf("image of %d blocks cannot hold the superblock, %d allocation table blocks and a root directory", nBlocks, fatBlocks)
	}
	fw := &Writer{
		img:       img,
		nBlocks:   nBlocks,
		fatBlocks: fatBlocks,
		lastAvail: lastAvail,
	}
	if err := fw.writeSuperblock(); err != nil {
		return nil, err
	}
	if err := fw.initFreeList(); err != nil {
		return nil, err
	}
	root, err := fw.getBlock()
	if err != nil {
		return nil, err
	}
	fw.root = root
	if err := fw.img.WriteU32(0, offRoot, root); err != nil {
		return nil, err
	}
	// Root directory header. The size field is filled in by Flush, once
	// the number of entries is known.
	return fw, fw.img.WriteU32(root, hdrOffTag, TagDirectory)
}

func (fw *Writer) writeSuperblock() error {
	b, err := fw.img.Slice(0, offMagic, 4)
	if err != nil {
		return err
	}
	copy(b, Magic)
	if err := fw.img.WriteU32(0, offNBlocks, fw.nBlocks); err != nil {
		return err
	}
	// Block 0 is reserved for the superblock and never enters the free
	// list, so the list head starts at the highest block index.
	return fw.img.WriteU32(0, offAvail, fw.nBlocks-1)
}

// initFreeList links every block above the reserved area into a strictly
// decreasing singly-linked list: table[i] = i-1, ending at the zero slot
// of block lastAvail. The first allocations therefore consume the
// highest indices, descending.
func (fw *Writer) initFreeList() error {
	for i := fw.nBlocks - 1; i > fw.lastAvail; i-- {
		if err := fw.setTable(i, i-1); err != nil {
			return err
		}
	}
	return nil
}

func (fw *Writer) table(i uint32) (uint32, error) {
	if i >= fw.nBlocks {
		return 0, fmt.Errorf("allocation table slot %d of %d: %w", i, fw.nBlocks, block.ErrOutOfRange)
	}
	blk, off := tableSlot(i)
	return fw.img.ReadU32(blk, off)
}

func (fw *Writer) setTable(i, v uint32) error {
	if i >= fw.nBlocks {
		return fmt.Errorf("allocation table slot %d of %d: %w", i, fw.nBlocks, block.ErrOutOfRange)
	}
	blk, off := tableSlot(i)
	return fw.img.WriteU32(blk, off, v)
}

// getBlock pops the head of the free list and advances it. The popped
// slot is zeroed, so the block terminates its chain until linked onward.
func (fw *Writer) getBlock() (uint32, error) {
	idx, err := fw.img.ReadU32(0, offAvail)
	if err != nil {
		return 0, err
	}
	if idx == endOfChain {
		return 0, ErrOutOfSpace
	}
	next, err := fw.table(idx)
	if err != nil {
		return 0, err
	}
	if err := fw.img.WriteU32(0, offAvail, next); err != nil {
		return 0, err
	}
	if err := fw.setTable(idx, endOfChain); err != nil {
		return 0, err
	}
	return idx, nil
}

// File starts a new file and returns the writer for its contents. Only
// the final component of name is recorded in the directory entry,
// truncated to 12 bytes. The returned io.Writer stays valid until the
// next call to File or Flush.
func (fw *Writer) File(name string) (io.Writer, error) {
	if fw.pending != nil {
		if err := fw.pending.finish(); err != nil {
			return nil, err
		}
		fw.pending = nil
	}
	if fw.nFiles == MaxRootEntries {
		return nil, fmt.Errorf("%q would be entry %d: %w", name, fw.nFiles+1, ErrRootFull)
	}
	start, err := fw.getBlock()
	if err != nil {
		return nil, err
	}
	if err := fw.img.WriteU32(start, hdrOffTag, TagFile); err != nil {
		return nil, err
	}
	entry, err := fw.img.Slice(fw.root, headerSize+fw.nFiles*entrySize, entrySize)
	if err != nil {
		return nil, err
	}
	// Shorter names leave the zeroed remainder of the 12-byte field as
	// padding; longer names are truncated without a terminator.
	copy(entry[:nameSize], filepath.Base(name))
	if err := fw.img.WriteU32(fw.root, headerSize+fw.nFiles*entrySize+nameSize, start); err != nil {
		return nil, err
	}
	fw.nFiles++
	fw.pending = &chainWriter{
		fw:    fw,
		start: start,
		cur:   start,
		off:   headerSize,
		left:  block.Size - headerSize,
	}
	return fw.pending, nil
}

// Flush finalizes the pending file and the root directory header. The
// Writer must not be used after calling Flush; durability is the block
// store's concern (see block.Image.Close).
func (fw *Writer) Flush() error {
	if fw.pending != nil {
		if err := fw.pending.finish(); err != nil {
			return err
		}
		fw.pending = nil
	}
	return fw.img.WriteU32(fw.root, hdrOffSize, fw.nFiles*entrySize)
}

// chainWriter streams one file's bytes into a chain of blocks, linking in
// a freshly allocated block through the allocation table whenever the
// current one runs out of room. The first block loses 8 bytes to the
// header; continuation blocks are pure payload.
type chainWriter struct {
	fw    *Writer
	start uint32
	cur   uint32
	off   uint32 // write cursor within cur
	left  uint32 // room remaining in cur
	total uint32
	done  bool
}

func (cw *chainWriter) Write(p []byte) (n int, err error) {
	if cw.done {
		return 0, errors.New("write after file was finished")
	}
	for len(p) > 0 {
		if cw.left == 0 {
			next, err := cw.fw.getBlock()
			if err != nil {
				return n, err
			}
			if err := cw.fw.setTable(cw.cur, next); err != nil {
				return n, err
			}
			cw.cur, cw.off, cw.left = next, 0, block.Size
		}
		chunk := uint32(len(p))
		if chunk > cw.left {
			chunk = cw.left
		}
		dst, err := cw.fw.img.Slice(cw.cur, cw.off, chunk)
		if err != nil {
			return n, err
		}
		copy(dst, p[:chunk])
		p = p[chunk:]
		cw.off += chunk
		cw.left -= chunk
		cw.total += chunk
		n += int(chunk)
	}
	return n, nil
}

// finish records the accumulated byte count in the file header. The
// final block's table slot keeps its zero value from getBlock, which
// terminates the chain.
func (cw *chainWriter) finish() error {
	cw.done = true
	return cw.fw.img.WriteU32(cw.start, hdrOffSize, cw.total)
}
