package retrago

import (
	"errors"
	"fmt"

	"github.com/retrago/retrago/chunker"
	"github.com/retrago/retrago/chunkstore"
	"github.com/retrago/retrago/embedding"
	"github.com/retrago/retrago/idmap"
	"github.com/retrago/retrago/matrix"
	"github.com/retrago/retrago/snapshot"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrNotFound is returned when a snapshot, chunk id or row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNoCurrentSnapshot is returned when no snapshot has been published yet.
	ErrNoCurrentSnapshot = errors.New("no current snapshot")

	// ErrInvalidConfig is returned for unusable build or query configuration,
	// including provider/snapshot dimension disagreement.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrClosed is returned for operations on a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrCapacityExceeded indicates the in-memory backend caps would be violated.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrCapacityExceeded struct {
	Rows       int
	MaxVectors int
	Bytes      int64
	MaxBytes   int64
	cause      error
}

func (e *ErrCapacityExceeded) Error() string {
	return fmt.Sprintf("in-memory capacity exceeded: %d rows / %d bytes (caps: %d vectors, %d bytes)",
		e.Rows, e.Bytes, e.MaxVectors, e.MaxBytes)
}

func (e *ErrCapacityExceeded) Unwrap() error { return e.cause }

// translateError normalizes internal package errors into the public taxonomy.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Not found unification.
	if errors.Is(err, snapshot.ErrSnapshotNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if errors.Is(err, snapshot.ErrNoCurrentSnapshot) {
		return fmt.Errorf("%w: %w", ErrNoCurrentSnapshot, err)
	}
	var cnf *chunkstore.ErrNotFound
	if errors.As(err, &cnf) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var ror *idmap.ErrRowOutOfRange
	if errors.As(err, &ror) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	var uci *idmap.ErrUnknownChunkID
	if errors.As(err, &uci) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	// Argument and capacity normalization.
	if errors.Is(err, matrix.ErrInvalidK) {
		return fmt.Errorf("%w: %w", ErrInvalidK, err)
	}
	var dm *matrix.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var ce *matrix.ErrCapacityExceeded
	if errors.As(err, &ce) {
		return &ErrCapacityExceeded{
			Rows:       ce.Rows,
			MaxVectors: ce.MaxVectors,
			Bytes:      ce.Bytes,
			MaxBytes:   ce.MaxBytes,
			cause:      err,
		}
	}

	// Configuration unification.
	var uc *chunker.ErrUnknownChunker
	if errors.As(err, &uc) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	var up *embedding.ErrUnknownProvider
	if errors.As(err, &up) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	return err
}
