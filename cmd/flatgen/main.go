// flatgen writes a data file of consecutive 32-bit little-endian
// integers. It gives mkflat a byte source of known length and
// deterministic content; the builder itself treats the file as opaque
// bytes.
package main

import (
	"bufio"
	"encoding/binary"
	"log"
	"os"

	"github.com/spf13/pflag"
)

var (
	out   = pflag.String("out", "big.data", "output file")
	count = pflag.Uint32("count", 3000, "number of 32-bit integers to write")
)

func main() {
	pflag.Parse()

	f, err := os.Create(*out)
	if err != nil {
		log.Fatal(err)
	}
	bw := bufio.NewWriter(f)
	for i := uint32(0); i < *count; i++ {
		if err := binary.Write(bw, binary.LittleEndian, i); err != nil {
			log.Fatal(err)
		}
	}
	if err := bw.Flush(); err != nil {
		log.Fatal(err)
	}
	if err := f.Close(); err != nil {
		log.Fatal(err)
	}
}
