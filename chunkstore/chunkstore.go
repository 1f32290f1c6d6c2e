// Package chunkstore persists chunk provenance records in build/row order.
//
// The store is append-only during a build and frozen once the owning snapshot
// is published. On disk it is one JSON record per line, in row order.
package chunkstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"

	"github.com/retrago/retrago/model"
)

// ErrDuplicateChunkID indicates an append with an already-present chunk id.
type ErrDuplicateChunkID struct {
	ChunkID string
}

func (e *ErrDuplicateChunkID) Error() string {
	return fmt.Sprintf("duplicate chunk id: %q", e.ChunkID)
}

// ErrNotFound indicates a lookup for an absent chunk id or row.
type ErrNotFound struct {
	ChunkID string
	Row     uint32
	ByRow   bool
}

func (e *ErrNotFound) Error() string {
	if e.ByRow {
		return fmt.Sprintf("chunk record not found for row %d", e.Row)
	}
	return fmt.Sprintf("chunk record not found: %q", e.ChunkID)
}

// Store is an ordered collection of chunk records.
// Reads are lock-free once the store is frozen; a single writer owns it
// during a build.
type Store struct {
	records []model.ChunkRecord
	byID    map[string]int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		byID: make(map[string]int),
	}
}

// Append adds a record at the next row offset.
// Fails with ErrDuplicateChunkID if the chunk id is already present.
func (s *Store) Append(rec model.ChunkRecord) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if _, ok := s.byID[rec.ChunkID]; ok {
		return &ErrDuplicateChunkID{ChunkID: rec.ChunkID}
	}
	s.byID[rec.ChunkID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

// Get returns the record for a chunk id.
func (s *Store) Get(chunkID string) (model.ChunkRecord, error) {
	idx, ok := s.byID[chunkID]
	if !ok {
		return model.ChunkRecord{}, &ErrNotFound{ChunkID: chunkID}
	}
	return s.records[idx], nil
}

// ByRow returns the record at a row offset.
func (s *Store) ByRow(row uint32) (model.ChunkRecord, error) {
	if int(row) >= len(s.records) {
		return model.ChunkRecord{}, &ErrNotFound{Row: row, ByRow: true}
	}
	return s.records[row], nil
}

// Len returns the number of records.
func (s *Store) Len() int { return len(s.records) }

// Iterate yields (row, record) pairs in insertion (row) order.
// The sequence is finite and restartable.
func (s *Store) Iterate() iter.Seq2[uint32, model.ChunkRecord] {
	return func(yield func(uint32, model.ChunkRecord) bool) {
		for i, rec := range s.records {
			if !yield(uint32(i), rec) {
				return
			}
		}
	}
}

// WriteTo writes the store as JSON lines in row order.
func (s *Store) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, rec := range s.records {
		// json.Encoder terminates each record with a newline.
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read reads JSON lines into a new store, preserving row order.
func Read(r io.Reader) (*Store, error) {
	s := New()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec model.ChunkRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("chunk records line %d: %w", line, err)
		}
		if err := s.Append(rec); err != nil {
			return nil, fmt.Errorf("chunk records line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return s, nil
}
