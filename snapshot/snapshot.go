// Package snapshot manages immutable, versioned index snapshots: the on-disk
// layout, the manifest, atomic publication and read-only opening.
//
// A snapshot directory holds four files: the raw float32 matrix, the ordered
// id-mapping, the chunk-record lines and the manifest. Builds write into a
// hidden temp directory and publish with a single rename, so a crashed or
// cancelled build never leaves a visible Ready snapshot.
package snapshot

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/retrago/retrago/chunkstore"
	"github.com/retrago/retrago/idmap"
	"github.com/retrago/retrago/matrix"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/persistence"
)

// ErrCorruptSnapshot indicates an internally inconsistent snapshot: mapping
// length disagreeing with matrix row count, checksum mismatches, or chunk
// lookups failing for resolvable rows. Queries against such a snapshot always
// fail rather than return truncated or wrong results.
type ErrCorruptSnapshot struct {
	ID     string
	Reason string
	cause  error
}

func (e *ErrCorruptSnapshot) Error() string {
	return fmt.Sprintf("corrupt snapshot %q: %s", e.ID, e.Reason)
}

func (e *ErrCorruptSnapshot) Unwrap() error { return e.cause }

// Snapshot is an opened, read-only index snapshot.
//
// A Ready snapshot is immutable and shared: any number of concurrent readers
// may query it without locking. Close releases the matrix mapping; the caller
// owns the ordering between Close and in-flight queries.
type Snapshot struct {
	ID       string
	Manifest *Manifest

	chunks  *chunkstore.Store
	mapping *idmap.Mapping
	scanner matrix.Scanner
}

// OpenOptions controls snapshot opening.
type OpenOptions struct {
	// SkipVerify disables CRC32 verification of the data files.
	SkipVerify bool

	// Caps overrides the manifest caps for the in-memory backend.
	// Nil keeps the caps recorded at build time.
	Caps *model.Caps
}

// Open opens the snapshot in dir and validates its internal consistency.
func Open(dir string, optFns ...func(*OpenOptions)) (*Snapshot, error) {
	var opts OpenOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	man, err := LoadManifest(dir)
	if err != nil {
		return nil, err
	}

	corrupt := func(reason string, cause error) error {
		return &ErrCorruptSnapshot{ID: man.ID, Reason: reason, cause: cause}
	}

	// Both line-oriented files are parsed through a streaming checksum reader,
	// so verification never buffers a whole file.
	var chunks *chunkstore.Store
	err = readVerified(filepath.Join(dir, ChunksFileName), man.Checksums.Chunks, opts.SkipVerify,
		func(r io.Reader) (err error) {
			chunks, err = chunkstore.Read(r)
			return err
		})
	if err != nil {
		return nil, corrupt("chunk records", err)
	}

	var mapping *idmap.Mapping
	err = readVerified(filepath.Join(dir, IDMapFileName), man.Checksums.IDMap, opts.SkipVerify,
		func(r io.Reader) (err error) {
			mapping, err = idmap.Read(r)
			return err
		})
	if err != nil {
		return nil, corrupt("id mapping", err)
	}

	caps := man.Caps
	if opts.Caps != nil {
		caps = *opts.Caps
	}

	matrixPath := filepath.Join(dir, MatrixFileName)
	var scanner matrix.Scanner
	switch man.Backend {
	case model.BackendInMemory:
		scanner, err = matrix.OpenInMemory(matrixPath, man.Dimension, man.Normalization, caps)
	case model.BackendFileBacked:
		scanner, err = matrix.OpenFileBacked(matrixPath, man.Dimension, man.Normalization, caps.BatchRows)
	default:
		err = fmt.Errorf("unknown backend kind %q", man.Backend)
	}
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:       man.ID,
		Manifest: man,
		chunks:   chunks,
		mapping:  mapping,
		scanner:  scanner,
	}

	if err := snap.validate(opts); err != nil {
		scanner.Close()
		return nil, err
	}
	return snap, nil
}

// readVerified parses a data file through a CRC32 reader and checks the sum
// recorded in the manifest after the parse has consumed the whole file.
func readVerified(path string, expected uint32, skipVerify bool, parse func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cr := persistence.NewChecksumReader(f)
	if err := parse(cr); err != nil {
		return err
	}
	if skipVerify {
		return nil
	}
	return cr.Verify(expected)
}

// validate enforces the three-way lockstep invariant between the chunk store,
// the id mapping and the matrix.
func (s *Snapshot) validate(opts OpenOptions) error {
	man := s.Manifest
	corrupt := func(reason string) error {
		return &ErrCorruptSnapshot{ID: man.ID, Reason: reason}
	}

	if s.mapping.Len() != s.scanner.Rows() {
		return corrupt(fmt.Sprintf("id mapping length %d != matrix row count %d",
			s.mapping.Len(), s.scanner.Rows()))
	}
	if s.chunks.Len() != s.scanner.Rows() {
		return corrupt(fmt.Sprintf("chunk record count %d != matrix row count %d",
			s.chunks.Len(), s.scanner.Rows()))
	}
	if man.Count != s.scanner.Rows() {
		return corrupt(fmt.Sprintf("manifest count %d != matrix row count %d",
			man.Count, s.scanner.Rows()))
	}
	if !opts.SkipVerify && s.scanner.Checksum() != man.Checksums.Matrix {
		return &ErrCorruptSnapshot{
			ID:     man.ID,
			Reason: "matrix checksum mismatch",
			cause:  &persistence.ChecksumMismatchError{Expected: man.Checksums.Matrix, Actual: s.scanner.Checksum()},
		}
	}

	// Every mapped chunk id must resolve to a record with matching row.
	for row, rec := range s.chunks.Iterate() {
		id, err := s.mapping.Resolve(row)
		if err != nil {
			return corrupt(fmt.Sprintf("row %d unresolvable: %v", row, err))
		}
		if id != rec.ChunkID {
			return corrupt(fmt.Sprintf("row %d maps to %q but chunk store has %q", row, id, rec.ChunkID))
		}
	}
	return nil
}

// Chunks returns the snapshot's chunk store.
func (s *Snapshot) Chunks() *chunkstore.Store { return s.chunks }

// Mapping returns the snapshot's id mapping.
func (s *Snapshot) Mapping() *idmap.Mapping { return s.mapping }

// Scanner returns the snapshot's matrix scanner.
func (s *Snapshot) Scanner() matrix.Scanner { return s.scanner }

// Close releases the snapshot's resources.
func (s *Snapshot) Close() error {
	return s.scanner.Close()
}
