// Package matrix stores the embedding matrix and answers exact top-k cosine
// queries over it.
//
// Two interchangeable backends implement the same scan contract with opposite
// resource trade-offs: InMemory is fully resident and capacity-capped,
// FileBacked memory-maps the matrix and scans it in fixed-size row batches so
// the query-time working set stays bounded for indexes of any size. Both
// produce numerically equivalent rankings for the same vectors and query.
package matrix

import (
	"context"
	"errors"
	"fmt"
)

// RowStride returns the fixed per-row byte stride for dimension dim.
func RowStride(dim int) int64 { return int64(dim) * 4 }

// ErrInvalidK is returned when k is not positive.
var ErrInvalidK = errors.New("k must be positive")

// ErrDimensionMismatch indicates a query/matrix dimensionality mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// ErrCapacityExceeded indicates the in-memory backend caps were breached.
type ErrCapacityExceeded struct {
	Rows       int
	MaxVectors int
	Bytes      int64
	MaxBytes   int64
}

func (e *ErrCapacityExceeded) Error() string {
	if e.MaxVectors > 0 && e.Rows > e.MaxVectors {
		return fmt.Sprintf("capacity exceeded: %d vectors > max %d", e.Rows, e.MaxVectors)
	}
	return fmt.Sprintf("capacity exceeded: %d bytes > max %d", e.Bytes, e.MaxBytes)
}

// Result is one scored row from a scan.
type Result struct {
	Row   uint32
	Score float32
}

// Scanner answers top-k queries against an immutable, published matrix.
//
// Implementations are safe for unbounded concurrent readers; the underlying
// storage is frozen at publish time and never locked.
type Scanner interface {
	// Rows returns the matrix row count.
	Rows() int

	// Dimension returns the fixed vector dimension.
	Dimension() int

	// Search returns the top k rows by exact cosine similarity, sorted by
	// descending score with ties broken by ascending row offset. filter, if
	// non-nil, restricts the scan to rows where filter(row) is true. k
	// greater than the row count returns all (matching) rows ranked; an
	// empty matrix returns an empty result.
	Search(ctx context.Context, query []float32, k int, filter func(row uint32) bool) ([]Result, error)

	// Checksum returns the CRC32 of the matrix bytes, computed at open.
	Checksum() uint32

	// Close releases backend resources (the mapping, for FileBacked).
	Close() error
}

func validateQuery(rows, dim int, query []float32, k int) error {
	if k <= 0 {
		return ErrInvalidK
	}
	if len(query) != dim {
		return &ErrDimensionMismatch{Expected: dim, Actual: len(query)}
	}
	return nil
}
