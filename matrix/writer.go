package matrix

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/retrago/retrago/persistence"
)

// Writer appends float32 rows to a matrix file during a build.
//
// The on-disk format is a flat, row-major array of little-endian 32-bit
// floats, fixed stride = dimension * 4 bytes, no header; dimension, row count
// and checksum live in the snapshot manifest.
type Writer struct {
	f    *os.File
	cw   *persistence.ChecksumWriter
	bw   *bufio.Writer
	dim  int
	rows int
	buf  []byte
	done bool
}

// NewWriter creates a matrix writer for the given dimension.
func NewWriter(path string, dim int) (*Writer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("matrix writer: invalid dimension %d", dim)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	cw := persistence.NewChecksumWriter(f)
	return &Writer{
		f:   f,
		cw:  cw,
		bw:  bufio.NewWriterSize(cw, 1<<16),
		dim: dim,
		buf: make([]byte, RowStride(dim)),
	}, nil
}

// Append writes one row and returns its row offset.
func (w *Writer) Append(vec []float32) (uint32, error) {
	if w.done {
		return 0, fmt.Errorf("matrix writer: already finished")
	}
	if len(vec) != w.dim {
		return 0, &ErrDimensionMismatch{Expected: w.dim, Actual: len(vec)}
	}
	for i, v := range vec {
		binary.LittleEndian.PutUint32(w.buf[i*4:], math.Float32bits(v))
	}
	if _, err := w.bw.Write(w.buf); err != nil {
		return 0, err
	}
	row := uint32(w.rows)
	w.rows++
	return row, nil
}

// Rows returns the number of rows appended so far.
func (w *Writer) Rows() int { return w.rows }

// Dimension returns the fixed row dimension.
func (w *Writer) Dimension() int { return w.dim }

// Finish flushes, fsyncs and closes the file, returning the row count and the
// CRC32 checksum of the written bytes.
func (w *Writer) Finish() (rows int, checksum uint32, err error) {
	if w.done {
		return 0, 0, fmt.Errorf("matrix writer: already finished")
	}
	w.done = true
	if err := w.bw.Flush(); err != nil {
		w.f.Close()
		return 0, 0, err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return 0, 0, err
	}
	if err := w.f.Close(); err != nil {
		return 0, 0, err
	}
	return w.rows, w.cw.Sum(), nil
}

// Abort closes the file without flushing remaining buffered rows.
// The caller is expected to discard the whole temp directory.
func (w *Writer) Abort() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.f.Close()
}
