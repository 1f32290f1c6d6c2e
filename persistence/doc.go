// Package persistence provides low-level durability helpers shared by the
// snapshot machinery: CRC32 checksumming readers/writers and atomic
// write-then-rename file publication.
package persistence
