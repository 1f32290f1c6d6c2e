// Package idmap maintains the bijection between matrix row offsets and chunk
// ids. It is built incrementally in the same order as chunk-store appends and
// matrix row writes; this three-way lockstep is the core build invariant.
//
// On disk the mapping is one chunk id per line, line number = row offset.
package idmap

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ErrRowOutOfRange indicates a resolve for a row the mapping does not contain.
type ErrRowOutOfRange struct {
	Row  uint32
	Rows int
}

func (e *ErrRowOutOfRange) Error() string {
	return fmt.Sprintf("row offset %d out of range (rows: %d)", e.Row, e.Rows)
}

// ErrUnknownChunkID indicates a reverse lookup for an unmapped chunk id.
type ErrUnknownChunkID struct {
	ChunkID string
}

func (e *ErrUnknownChunkID) Error() string {
	return fmt.Sprintf("chunk id not in mapping: %q", e.ChunkID)
}

// Mapping is the ordered row-offset to chunk-id table.
// Append-only during build, immutable after Freeze. Both lookups are O(1).
type Mapping struct {
	ids    []string
	rows   map[string]uint32
	frozen bool
}

// New creates an empty mapping.
func New() *Mapping {
	return &Mapping{
		rows: make(map[string]uint32),
	}
}

// Append assigns the next row offset to chunkID and returns it.
func (m *Mapping) Append(chunkID string) (uint32, error) {
	if m.frozen {
		return 0, fmt.Errorf("id mapping is frozen")
	}
	if chunkID == "" {
		return 0, fmt.Errorf("empty chunk id")
	}
	if _, ok := m.rows[chunkID]; ok {
		return 0, fmt.Errorf("chunk id already mapped: %q", chunkID)
	}
	row := uint32(len(m.ids))
	m.ids = append(m.ids, chunkID)
	m.rows[chunkID] = row
	return row, nil
}

// Freeze makes the mapping immutable. Called at publish time.
func (m *Mapping) Freeze() { m.frozen = true }

// Resolve returns the chunk id at a row offset.
func (m *Mapping) Resolve(row uint32) (string, error) {
	if int(row) >= len(m.ids) {
		return "", &ErrRowOutOfRange{Row: row, Rows: len(m.ids)}
	}
	return m.ids[row], nil
}

// RowOf returns the row offset of a chunk id.
func (m *Mapping) RowOf(chunkID string) (uint32, error) {
	row, ok := m.rows[chunkID]
	if !ok {
		return 0, &ErrUnknownChunkID{ChunkID: chunkID}
	}
	return row, nil
}

// Len returns the number of mapped rows. Always equals the matrix row count
// in a consistent snapshot.
func (m *Mapping) Len() int { return len(m.ids) }

// WriteTo writes the mapping as one chunk id per line, in row order.
func (m *Mapping) WriteTo(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, id := range m.ids {
		if _, err := bw.WriteString(id); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// Read reads a mapping written by WriteTo. The result is frozen.
func Read(r io.Reader) (*Mapping, error) {
	m := New()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		id := strings.TrimRight(scanner.Text(), "\r")
		if id == "" {
			return nil, fmt.Errorf("id mapping line %d: empty chunk id", line)
		}
		if _, err := m.Append(id); err != nil {
			return nil, fmt.Errorf("id mapping line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	m.Freeze()
	return m, nil
}
