package matrix

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/retrago/retrago/distance"
	"github.com/retrago/retrago/internal/queue"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/persistence"
)

// Compile-time check.
var _ Scanner = (*InMemory)(nil)

// InMemory holds the full matrix resident in process memory.
//
// Residency is capacity-capped: opening a matrix larger than the configured
// caps fails with ErrCapacityExceeded. The structure is frozen after open and
// needs no locking for concurrent readers.
type InMemory struct {
	data       []float32
	dim        int
	rows       int
	normalized bool
	checksum   uint32
}

// OpenInMemory loads a matrix file fully into memory.
func OpenInMemory(path string, dim int, norm model.Normalization, caps model.Caps) (*InMemory, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("in-memory matrix: invalid dimension %d", dim)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	stride := RowStride(dim)
	if int64(len(raw))%stride != 0 {
		return nil, fmt.Errorf("in-memory matrix: file size %d not a multiple of row stride %d", len(raw), stride)
	}
	rows := int(int64(len(raw)) / stride)

	if err := CheckCapacity(rows, dim, caps); err != nil {
		return nil, err
	}

	data := make([]float32, rows*dim)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}

	return &InMemory{
		data:       data,
		dim:        dim,
		rows:       rows,
		normalized: norm == model.NormalizationL2,
		checksum:   persistence.Checksum(raw),
	}, nil
}

// CheckCapacity verifies that rows of dimension dim fit within the in-memory
// caps. Zero cap values mean unlimited.
func CheckCapacity(rows, dim int, caps model.Caps) error {
	bytes := int64(rows) * RowStride(dim)
	if caps.MaxVectors > 0 && rows > caps.MaxVectors {
		return &ErrCapacityExceeded{Rows: rows, MaxVectors: caps.MaxVectors, Bytes: bytes, MaxBytes: caps.MaxBytes}
	}
	if caps.MaxBytes > 0 && bytes > caps.MaxBytes {
		return &ErrCapacityExceeded{Rows: rows, MaxVectors: caps.MaxVectors, Bytes: bytes, MaxBytes: caps.MaxBytes}
	}
	return nil
}

// Rows implements Scanner.
func (m *InMemory) Rows() int { return m.rows }

// Dimension implements Scanner.
func (m *InMemory) Dimension() int { return m.dim }

// Checksum implements Scanner.
func (m *InMemory) Checksum() uint32 { return m.checksum }

// Close implements Scanner. No resources to release.
func (m *InMemory) Close() error { return nil }

// Search implements Scanner with a single full-pass scan.
func (m *InMemory) Search(ctx context.Context, query []float32, k int, filter func(row uint32) bool) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(m.rows, m.dim, query, k); err != nil {
		return nil, err
	}
	if m.rows == 0 {
		return nil, nil
	}

	var qnorm float32
	if !m.normalized {
		qnorm = distance.Norm(query)
	}

	top := queue.NewTopK(min(k, m.rows))
	for row := 0; row < m.rows; row++ {
		if filter != nil && !filter(uint32(row)) {
			continue
		}
		vec := m.data[row*m.dim : (row+1)*m.dim]
		top.Push(queue.Item{Row: uint32(row), Score: score(query, vec, m.normalized, qnorm)})
	}

	return collect(top), nil
}

// score computes the cosine similarity of q against a stored row.
// With the l2 convention both sides are already unit length, so the dot
// product is the exact cosine.
func score(q, vec []float32, normalized bool, qnorm float32) float32 {
	dot := distance.Dot(q, vec)
	if normalized {
		return dot
	}
	rnorm := distance.Norm(vec)
	if qnorm == 0 || rnorm == 0 {
		return 0
	}
	return dot / (qnorm * rnorm)
}

func collect(top *queue.TopK) []Result {
	items := top.Drain()
	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = Result{Row: it.Row, Score: it.Score}
	}
	return results
}
