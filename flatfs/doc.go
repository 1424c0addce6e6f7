// Package flatfs implements writing flat file system images: a superblock,
// a block allocation table, a single-level root directory and chained
// 512-byte data blocks. It is an offline image builder in the spirit of
// mkfs, not a file system driver. With regards to reading, walking the
// root directory and reconstructing file contents is implemented, which
// is how images are validated.
//
// File names are restricted to 12 bytes; longer names are silently
// truncated. The root directory occupies a single block and therefore
// holds at most 31 entries.
package flatfs
