// Package mmap provides read-only memory mapping of files.
//
// Mappings are opened with PROT_READ and MAP_SHARED, so any number of
// concurrent readers can share one published snapshot file without locking.
//
//   - Unix (Linux, macOS, BSD): mmap(2) via golang.org/x/sys, with madvise(2)
//     access hints
//   - Windows: CreateFileMapping/MapViewOfFile (advice is a no-op)
package mmap
