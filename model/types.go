package model

import "fmt"

// BackendKind selects the embedding-matrix storage/scan strategy for a snapshot.
type BackendKind string

const (
	// BackendInMemory keeps the full matrix resident in process memory.
	// Intended for small corpora; capped by Caps.MaxVectors and Caps.MaxBytes.
	BackendInMemory BackendKind = "in_memory"

	// BackendFileBacked memory-maps the matrix file and scans it in fixed-size
	// row batches, bounding the query-time working set regardless of index size.
	BackendFileBacked BackendKind = "file_backed"
)

// Valid reports whether the backend kind is known.
func (k BackendKind) Valid() bool {
	return k == BackendInMemory || k == BackendFileBacked
}

// Normalization is the vector normalization convention fixed per snapshot.
type Normalization string

const (
	// NormalizationL2 means vectors are L2-normalized at build time and the
	// query vector is normalized identically at query time, so the scan is a
	// plain dot product.
	NormalizationL2 Normalization = "l2"

	// NormalizationNone means raw vectors are stored; backends divide by row
	// and query norms during the scan.
	NormalizationNone Normalization = "none"
)

// Valid reports whether the normalization convention is known.
func (n Normalization) Valid() bool {
	return n == NormalizationL2 || n == NormalizationNone
}

// Caps holds backend resource limits.
type Caps struct {
	// MaxVectors caps the row count for the in-memory backend. 0 = unlimited.
	MaxVectors int `json:"max_vectors,omitempty"`

	// MaxBytes caps the resident matrix size (rows*D*4 bytes) for the
	// in-memory backend. 0 = unlimited.
	MaxBytes int64 `json:"max_bytes,omitempty"`

	// BatchRows is the scan batch size for the file-backed backend.
	// 0 = default (chosen so a batch stays within a few megabytes).
	BatchRows int `json:"batch_rows,omitempty"`
}

// Item is a corpus item to be chunked and indexed.
type Item struct {
	ID        string
	Text      string
	SourceURI string
}

// Span is a half-open byte range [Start, End) within an item's text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (s Span) String() string {
	return fmt.Sprintf("[%d:%d)", s.Start, s.End)
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// ChunkRecord is the durable provenance record for one chunk.
// Insertion order equals embedding row order; this is the core build invariant.
type ChunkRecord struct {
	ChunkID   string `json:"chunk_id"`
	ItemID    string `json:"item_id"`
	Text      string `json:"text"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
	SourceURI string `json:"source_uri"`
}

// Span returns the record's byte span within the item text.
func (r ChunkRecord) Span() Span {
	return Span{Start: r.Start, End: r.End}
}

// Validate checks the record's structural invariants.
func (r ChunkRecord) Validate() error {
	if r.ChunkID == "" {
		return fmt.Errorf("chunk record: empty chunk_id")
	}
	if r.ItemID == "" {
		return fmt.Errorf("chunk record %q: empty item_id", r.ChunkID)
	}
	if r.Start < 0 || r.Start >= r.End {
		return fmt.Errorf("chunk record %q: invalid span [%d:%d)", r.ChunkID, r.Start, r.End)
	}
	return nil
}

// Evidence is one ranked query result joined back to chunk provenance.
type Evidence struct {
	ChunkID   string  `json:"chunk_id"`
	ItemID    string  `json:"item_id"`
	Score     float32 `json:"score"`
	Text      string  `json:"text"`
	Span      Span    `json:"span"`
	SourceURI string  `json:"source_uri"`
}
