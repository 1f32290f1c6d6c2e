// Package archive packs a snapshot directory into a single compressed
// tarball and unpacks it again, for cold storage and transfer of snapshots
// outside a blob store.
//
// Two codecs are supported: zstd (better ratio, the default) and lz4 (faster
// on both ends). The codec is carried in the file extension, ".tar.zst" or
// ".tar.lz4", so Unpack needs no extra configuration.
package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec selects the compression applied around the tar stream.
type Codec string

const (
	CodecZstd Codec = "zstd"
	CodecLZ4  Codec = "lz4"
)

// File extensions per codec.
const (
	ExtZstd = ".tar.zst"
	ExtLZ4  = ".tar.lz4"
)

// Valid reports whether the codec is known.
func (c Codec) Valid() bool {
	return c == CodecZstd || c == CodecLZ4
}

// Ext returns the file extension for the codec.
func (c Codec) Ext() string {
	if c == CodecLZ4 {
		return ExtLZ4
	}
	return ExtZstd
}

// ForPath derives the codec from an archive path's extension.
func ForPath(path string) (Codec, error) {
	switch {
	case strings.HasSuffix(path, ExtZstd):
		return CodecZstd, nil
	case strings.HasSuffix(path, ExtLZ4):
		return CodecLZ4, nil
	default:
		return "", fmt.Errorf("archive: unrecognized extension on %q (want %s or %s)", path, ExtZstd, ExtLZ4)
	}
}

// Pack writes all regular files of dir into a compressed tarball at outPath.
// Files are archived in sorted order with normalized headers, so packing the
// same snapshot twice yields byte-identical archives.
func Pack(dir, outPath string, codec Codec) error {
	if !codec.Valid() {
		return fmt.Errorf("archive: unknown codec %q", codec)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	cw, err := newCompressor(out, codec)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(cw)

	for _, name := range names {
		if err := packFile(tw, filepath.Join(dir, name), name); err != nil {
			return fmt.Errorf("archive: %s: %w", name, err)
		}
	}

	if err := tw.Close(); err != nil {
		return err
	}
	if err := cw.Close(); err != nil {
		return err
	}
	if err := out.Sync(); err != nil {
		return err
	}
	return out.Close()
}

func packFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	// Timestamps and ownership are zeroed for reproducible archives.
	hdr := &tar.Header{
		Name: name,
		Mode: 0o644,
		Size: info.Size(),
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// Unpack extracts an archive written by Pack into destDir, creating it if
// needed. The codec is derived from the archive extension.
func Unpack(archivePath, destDir string) error {
	codec, err := ForPath(archivePath)
	if err != nil {
		return err
	}

	in, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer in.Close()

	cr, err := newDecompressor(in, codec)
	if err != nil {
		return err
	}
	defer cr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		// Entry names must stay inside destDir.
		name := filepath.Clean(hdr.Name)
		if name != filepath.Base(name) {
			return fmt.Errorf("archive: refusing entry with path %q", hdr.Name)
		}
		if err := unpackFile(tr, filepath.Join(destDir, name)); err != nil {
			return fmt.Errorf("archive: %s: %w", name, err)
		}
	}
}

func unpackFile(r io.Reader, dest string) error {
	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func newCompressor(w io.Writer, codec Codec) (io.WriteCloser, error) {
	switch codec {
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return zstd.NewWriter(w)
	}
}

func newDecompressor(r io.Reader, codec Codec) (io.ReadCloser, error) {
	switch codec {
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr.IOReadCloser(), nil
	}
}
