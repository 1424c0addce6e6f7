// mkflat builds a flat file system image from a set of input files:
//
//	mkflat [flags] <image> <block-count> <file>...
//
// The image holds block-count 512-byte blocks. Exit status is zero only
// if every file was ingested and the image was flushed to disk; after a
// non-zero exit the output image must be considered unusable.
package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"golang.org/x/crypto/blake2b"

	"github.com/flatfs/mkflat/block"
	"github.com/flatfs/mkflat/buildflag"
	"github.com/flatfs/mkflat/flatfs"
	"github.com/flatfs/mkflat/humanize"
	"github.com/flatfs/mkflat/progress"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s [flags] <image> <block-count> <file>...\n", os.Args[0])
	pflag.PrintDefaults()
	os.Exit(2)
}

func ingest(fw *flatfs.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w, err := fw.File(path)
	if err != nil {
		return err
	}
	n, err := io.Copy(io.MultiWriter(w, progress.Writer{}), f)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}
	if buildflag.Verbose() {
		log.Printf("ingested %s (%s)", path, humanize.Bytes(uint64(n)))
	}
	return nil
}

func build(image string, nBlocks uint32, files []string) error {
	img, err := block.Create(image, nBlocks)
	if err != nil {
		return err
	}
	fw, err := flatfs.NewWriter(img)
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := ingest(fw, path); err != nil {
			return err
		}
	}
	if err := fw.Flush(); err != nil {
		return err
	}
	if err := img.Close(); err != nil {
		return err
	}
	if buildflag.Verbose() {
		log.Printf("wrote %s: %d files, %s ingested, %s image",
			image,
			len(files),
			humanize.Bytes(progress.Reset()),
			humanize.Bytes(uint64(nBlocks)*block.Size))
	}
	if buildflag.Digest() {
		digest, err := imageDigest(image)
		if err != nil {
			return err
		}
		log.Printf("blake2b-256(%s) = %s", image, digest)
	}
	return nil
}

func imageDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func main() {
	buildflag.RegisterPflags(pflag.CommandLine)
	pflag.Usage = usage
	pflag.Parse()
	args := pflag.Args()
	if len(args) < 3 {
		usage()
	}
	nBlocks, err := strconv.ParseUint(args[1], 10, 32)
	if err != nil || nBlocks == 0 {
		log.Fatalf("block count %q: must be a positive decimal integer", args[1])
	}
	if err := build(args[0], uint32(nBlocks), args[2:]); err != nil {
		log.Fatal(err)
	}
}
