package matrix

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/persistence"
	"github.com/retrago/retrago/testutil"
)

// writeMatrix writes vecs to a matrix file and returns its path and checksum.
func writeMatrix(t *testing.T, dim int, vecs [][]float32) (string, uint32) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matrix.f32")

	w, err := NewWriter(path, dim)
	require.NoError(t, err)
	for i, vec := range vecs {
		row, err := w.Append(vec)
		require.NoError(t, err)
		require.Equal(t, uint32(i), row)
	}
	rows, sum, err := w.Finish()
	require.NoError(t, err)
	require.Equal(t, len(vecs), rows)
	return path, sum
}

func openBoth(t *testing.T, path string, dim, batchRows int) map[string]Scanner {
	t.Helper()
	inmem, err := OpenInMemory(path, dim, model.NormalizationNone, model.Caps{})
	require.NoError(t, err)
	fb, err := OpenFileBacked(path, dim, model.NormalizationNone, batchRows)
	require.NoError(t, err)
	t.Cleanup(func() {
		inmem.Close()
		fb.Close()
	})
	return map[string]Scanner{"in_memory": inmem, "file_backed": fb}
}

func TestWriter_ChecksumMatchesFileBytes(t *testing.T) {
	path, sum := writeMatrix(t, 2, [][]float32{{1, 2}, {3, 4}})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(raw)), RowStride(2)*2)
	assert.Equal(t, persistence.Checksum(raw), sum)
}

func TestWriter_RejectsWrongDimension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrix.f32")
	w, err := NewWriter(path, 3)
	require.NoError(t, err)
	defer w.Abort()

	_, err = w.Append([]float32{1, 2})
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 2, dm.Actual)
}

func TestOpen_RoundTripsRows(t *testing.T) {
	vecs := [][]float32{{1, 0, 0}, {0, 1, 0}, {0.5, 0.5, 0}}
	path, sum := writeMatrix(t, 3, vecs)

	for name, s := range openBoth(t, path, 3, 0) {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, 3, s.Rows())
			assert.Equal(t, 3, s.Dimension())
			assert.Equal(t, sum, s.Checksum())
		})
	}
}

func TestOpen_RejectsTruncatedFile(t *testing.T) {
	path, _ := writeMatrix(t, 3, [][]float32{{1, 2, 3}})
	require.NoError(t, os.Truncate(path, 7))

	_, err := OpenInMemory(path, 3, model.NormalizationNone, model.Caps{})
	assert.Error(t, err)
	_, err = OpenFileBacked(path, 3, model.NormalizationNone, 0)
	assert.Error(t, err)
}

func TestSearch_ExactCosineRanking(t *testing.T) {
	// Three 3-d vectors with known cosines against the query (1, 0, 0):
	// row 0 scores 1.0, row 2 about 0.707, row 1 exactly 0.
	vecs := [][]float32{{2, 0, 0}, {0, 3, 0}, {1, 1, 0}}
	path, _ := writeMatrix(t, 3, vecs)

	for name, s := range openBoth(t, path, 3, 1) {
		t.Run(name, func(t *testing.T) {
			results, err := s.Search(context.Background(), []float32{1, 0, 0}, 3, nil)
			require.NoError(t, err)
			require.Len(t, results, 3)

			assert.Equal(t, uint32(0), results[0].Row)
			assert.InDelta(t, 1.0, results[0].Score, 1e-6)
			assert.Equal(t, uint32(2), results[1].Row)
			assert.InDelta(t, 0.70710678, results[1].Score, 1e-6)
			assert.Equal(t, uint32(1), results[2].Row)
			assert.InDelta(t, 0.0, results[2].Score, 1e-6)
		})
	}
}

func TestSearch_KLargerThanRows(t *testing.T) {
	path, _ := writeMatrix(t, 2, [][]float32{{1, 0}, {0, 1}})

	for name, s := range openBoth(t, path, 2, 0) {
		t.Run(name, func(t *testing.T) {
			results, err := s.Search(context.Background(), []float32{1, 1}, 100, nil)
			require.NoError(t, err)
			assert.Len(t, results, 2)
		})
	}
}

func TestSearch_EmptyMatrix(t *testing.T) {
	path, _ := writeMatrix(t, 4, nil)

	for name, s := range openBoth(t, path, 4, 0) {
		t.Run(name, func(t *testing.T) {
			results, err := s.Search(context.Background(), []float32{1, 0, 0, 0}, 5, nil)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestSearch_ArgumentErrors(t *testing.T) {
	path, _ := writeMatrix(t, 2, [][]float32{{1, 0}})

	for name, s := range openBoth(t, path, 2, 0) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Search(context.Background(), []float32{1, 0}, 0, nil)
			assert.ErrorIs(t, err, ErrInvalidK)

			_, err = s.Search(context.Background(), []float32{1, 0, 0}, 1, nil)
			var dm *ErrDimensionMismatch
			assert.ErrorAs(t, err, &dm)
		})
	}
}

func TestSearch_Filter(t *testing.T) {
	path, _ := writeMatrix(t, 2, [][]float32{{1, 0}, {1, 0}, {0, 1}})

	for name, s := range openBoth(t, path, 2, 2) {
		t.Run(name, func(t *testing.T) {
			results, err := s.Search(context.Background(), []float32{1, 0}, 3, func(row uint32) bool {
				return row != 0
			})
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, uint32(1), results[0].Row)
			assert.Equal(t, uint32(2), results[1].Row)
		})
	}
}

func TestSearch_TieBreakLowestRow(t *testing.T) {
	// All rows identical: ranking must be by ascending row offset.
	vecs := [][]float32{{1, 1}, {1, 1}, {1, 1}, {1, 1}}
	path, _ := writeMatrix(t, 2, vecs)

	for name, s := range openBoth(t, path, 2, 3) {
		t.Run(name, func(t *testing.T) {
			results, err := s.Search(context.Background(), []float32{2, 2}, 2, nil)
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, uint32(0), results[0].Row)
			assert.Equal(t, uint32(1), results[1].Row)
		})
	}
}

func TestSearch_BackendsAgreeWithBruteForce(t *testing.T) {
	const (
		rows = 300
		dim  = 16
		k    = 10
	)
	rng := testutil.NewRNG(7)
	vecs := rng.RandomVectors(rows, dim)
	path, _ := writeMatrix(t, dim, vecs)

	query := make([]float32, dim)
	rng.FillGaussian(query)
	want := testutil.ExactTopK(query, vecs, k)

	// A batch size that does not divide the row count exercises the final
	// partial batch.
	for name, s := range openBoth(t, path, dim, 7) {
		t.Run(name, func(t *testing.T) {
			results, err := s.Search(context.Background(), query, k, nil)
			require.NoError(t, err)
			require.Len(t, results, k)
			for i, res := range results {
				assert.Equal(t, want[i].Row, res.Row, "rank %d", i)
				assert.InDelta(t, want[i].Score, res.Score, 1e-6, "rank %d", i)
			}
		})
	}
}

func TestSearch_BackendsNumericallyEquivalent(t *testing.T) {
	const (
		rows = 128
		dim  = 8
	)
	rng := testutil.NewRNG(99)
	vecs := rng.RandomVectors(rows, dim)
	path, _ := writeMatrix(t, dim, vecs)

	scanners := openBoth(t, path, dim, 5)
	query := make([]float32, dim)
	rng.FillUniform(query)

	a, err := scanners["in_memory"].Search(context.Background(), query, rows, nil)
	require.NoError(t, err)
	b, err := scanners["file_backed"].Search(context.Background(), query, rows, nil)
	require.NoError(t, err)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Row, b[i].Row, "rank %d", i)
		assert.InDelta(t, a[i].Score, b[i].Score, 1e-6, "rank %d", i)
	}
}

func TestCheckCapacity(t *testing.T) {
	assert.NoError(t, CheckCapacity(100, 4, model.Caps{}))
	assert.NoError(t, CheckCapacity(10, 4, model.Caps{MaxVectors: 10}))

	err := CheckCapacity(11, 4, model.Caps{MaxVectors: 10})
	var ce *ErrCapacityExceeded
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 11, ce.Rows)

	err = CheckCapacity(10, 4, model.Caps{MaxBytes: 100})
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, int64(160), ce.Bytes)
}

func TestOpenInMemory_EnforcesCaps(t *testing.T) {
	path, _ := writeMatrix(t, 2, [][]float32{{1, 0}, {0, 1}, {1, 1}})

	_, err := OpenInMemory(path, 2, model.NormalizationNone, model.Caps{MaxVectors: 2})
	var ce *ErrCapacityExceeded
	assert.ErrorAs(t, err, &ce)

	s, err := OpenInMemory(path, 2, model.NormalizationNone, model.Caps{MaxVectors: 3})
	require.NoError(t, err)
	s.Close()
}

func TestSearch_CancelledContext(t *testing.T) {
	path, _ := writeMatrix(t, 2, [][]float32{{1, 0}, {0, 1}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	for name, s := range openBoth(t, path, 2, 1) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Search(ctx, []float32{1, 0}, 1, nil)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestFileBackedSearch_ConstantAllocationsAcrossSizes(t *testing.T) {
	// The scan works on zero-copy views of the mapping, so per-query heap
	// allocations are the k-bounded queue and the result slice. They must not
	// grow with the row count: a scan that copied batches would show up here.
	const (
		dim       = 16
		batchRows = 8
		k         = 5
	)
	rng := testutil.NewRNG(3)
	query := make([]float32, dim)
	rng.FillGaussian(query)

	allocs := make(map[int]float64)
	for _, rows := range []int{200, 2000, 20000} {
		path, _ := writeMatrix(t, dim, rng.RandomVectors(rows, dim))
		fb, err := OpenFileBacked(path, dim, model.NormalizationNone, batchRows)
		require.NoError(t, err)

		allocs[rows] = testing.AllocsPerRun(20, func() {
			results, err := fb.Search(context.Background(), query, k, nil)
			if err != nil || len(results) != k {
				t.Errorf("search over %d rows: %d results, err %v", rows, len(results), err)
			}
		})
		require.NoError(t, fb.Close())
	}

	assert.LessOrEqual(t, allocs[2000], allocs[200]+1,
		"allocations grew with row count: %v", allocs)
	assert.LessOrEqual(t, allocs[20000], allocs[200]+1,
		"allocations grew with row count: %v", allocs)
}

func TestFileBacked_DefaultBatchRows(t *testing.T) {
	assert.Equal(t, DefaultBatchBudgetBytes/int(RowStride(128)), DefaultBatchRows(128))
	// Huge dimensions still scan at least one row per batch.
	assert.Equal(t, 1, DefaultBatchRows(1<<22))
}
