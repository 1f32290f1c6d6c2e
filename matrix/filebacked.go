package matrix

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/retrago/retrago/distance"
	"github.com/retrago/retrago/internal/mmap"
	"github.com/retrago/retrago/internal/queue"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/persistence"
)

// Compile-time check.
var _ Scanner = (*FileBacked)(nil)

// DefaultBatchBudgetBytes bounds the per-batch working set when no explicit
// batch size is configured.
const DefaultBatchBudgetBytes = 4 << 20

// FileBacked scans a memory-mapped matrix file in fixed-size row batches.
//
// The mapping is read-only and shared, so any number of concurrent readers
// can query one published snapshot without locking. Peak additional memory per
// query is O(batchRows * dimension) plus the top-k heap, independent of the
// total row count.
//
// The on-disk floats are little-endian; the zero-copy view assumes a
// little-endian host.
type FileBacked struct {
	m          *mmap.File
	data       []float32
	dim        int
	rows       int
	batchRows  int
	normalized bool
	checksum   uint32
}

// DefaultBatchRows returns the batch size chosen for dimension dim so one
// batch stays within DefaultBatchBudgetBytes.
func DefaultBatchRows(dim int) int {
	rows := int(DefaultBatchBudgetBytes / RowStride(dim))
	if rows < 1 {
		rows = 1
	}
	return rows
}

// OpenFileBacked memory-maps a matrix file read-only.
// batchRows of 0 selects DefaultBatchRows(dim).
func OpenFileBacked(path string, dim int, norm model.Normalization, batchRows int) (*FileBacked, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("file-backed matrix: invalid dimension %d", dim)
	}
	if batchRows < 0 {
		return nil, fmt.Errorf("file-backed matrix: invalid batch rows %d", batchRows)
	}
	if batchRows == 0 {
		batchRows = DefaultBatchRows(dim)
	}

	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	stride := RowStride(dim)
	if int64(len(m.Data))%stride != 0 {
		m.Close()
		return nil, fmt.Errorf("file-backed matrix: file size %d not a multiple of row stride %d", len(m.Data), stride)
	}
	rows := int(int64(len(m.Data)) / stride)

	// The scan walks the file front to back; tell the kernel.
	_ = m.AdviseSequential()

	fb := &FileBacked{
		m:          m,
		dim:        dim,
		rows:       rows,
		batchRows:  batchRows,
		normalized: norm == model.NormalizationL2,
		checksum:   persistence.Checksum(m.Data),
	}
	if rows > 0 {
		fb.data = unsafe.Slice((*float32)(unsafe.Pointer(&m.Data[0])), rows*dim)
	}
	return fb, nil
}

// Rows implements Scanner.
func (fb *FileBacked) Rows() int { return fb.rows }

// Dimension implements Scanner.
func (fb *FileBacked) Dimension() int { return fb.dim }

// BatchRows returns the configured scan batch size.
func (fb *FileBacked) BatchRows() int { return fb.batchRows }

// Checksum implements Scanner.
func (fb *FileBacked) Checksum() uint32 { return fb.checksum }

// Close unmaps the matrix file. Results of in-flight searches become invalid.
func (fb *FileBacked) Close() error {
	fb.data = nil
	return fb.m.Close()
}

// Search implements Scanner with a batched scan over the mapping.
func (fb *FileBacked) Search(ctx context.Context, query []float32, k int, filter func(row uint32) bool) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(fb.rows, fb.dim, query, k); err != nil {
		return nil, err
	}
	if fb.rows == 0 {
		return nil, nil
	}
	if fb.data == nil {
		return nil, fmt.Errorf("file-backed matrix: closed")
	}

	var qnorm float32
	if !fb.normalized {
		qnorm = distance.Norm(query)
	}

	top := queue.NewTopK(min(k, fb.rows))
	for base := 0; base < fb.rows; base += fb.batchRows {
		// Cancellation is checked per batch, not per row.
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(base+fb.batchRows, fb.rows)
		batch := fb.data[base*fb.dim : end*fb.dim]
		for i := 0; i < end-base; i++ {
			row := uint32(base + i)
			if filter != nil && !filter(row) {
				continue
			}
			vec := batch[i*fb.dim : (i+1)*fb.dim]
			top.Push(queue.Item{Row: row, Score: score(query, vec, fb.normalized, qnorm)})
		}
	}

	return collect(top), nil
}
