// Package buildflag defines the flags shared by the mkflat command.
// Defaults can be set through the MKFLAT_VERBOSE and MKFLAT_DIGEST
// environment variables.
package buildflag

import (
	"os"

	"github.com/spf13/pflag"
)

var (
	verbose = os.Getenv("MKFLAT_VERBOSE") == "1"
	digest  = os.Getenv("MKFLAT_DIGEST") == "1"
)

func RegisterPflags(fs *pflag.FlagSet) {
	fs.BoolVarP(&verbose,
		"verbose",
		"v",
		verbose,
		`log per-file ingest accounting`)

	fs.BoolVar(&digest,
		"digest",
		digest,
		`print the blake2b-256 digest of the finished image`)
}

func SetVerbose(v bool) {
	verbose = v
}

func SetDigest(d bool) {
	digest = d
}

func Verbose() bool {
	return verbose
}

func Digest() bool {
	return digest
}
