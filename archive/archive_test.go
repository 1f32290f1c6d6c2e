package archive

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSnapshotDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string][]byte{
		"manifest.json": []byte(`{"version":1,"id":"snap-1"}`),
		"matrix.f32":    {0x00, 0x01, 0x02, 0x03, 0xFF},
		"idmap.txt":     []byte("a:0-4\nb:0-4\n"),
		"chunks.jsonl":  []byte(`{"chunk_id":"a:0-4"}` + "\n"),
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
	return dir
}

func TestPackUnpack_RoundTrip(t *testing.T) {
	for _, codec := range []Codec{CodecZstd, CodecLZ4} {
		t.Run(string(codec), func(t *testing.T) {
			src := writeSnapshotDir(t)
			out := filepath.Join(t.TempDir(), "snap-1"+codec.Ext())
			require.NoError(t, Pack(src, out, codec))

			dest := filepath.Join(t.TempDir(), "restored")
			require.NoError(t, Unpack(out, dest))

			entries, err := os.ReadDir(dest)
			require.NoError(t, err)
			require.Len(t, entries, 4)
			for _, e := range entries {
				want, err := os.ReadFile(filepath.Join(src, e.Name()))
				require.NoError(t, err)
				got, err := os.ReadFile(filepath.Join(dest, e.Name()))
				require.NoError(t, err)
				assert.Equal(t, want, got, e.Name())
			}
		})
	}
}

func TestPack_Reproducible(t *testing.T) {
	src := writeSnapshotDir(t)

	var archives [][]byte
	for i := 0; i < 2; i++ {
		out := filepath.Join(t.TempDir(), "snap.tar.zst")
		require.NoError(t, Pack(src, out, CodecZstd))
		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		archives = append(archives, raw)
	}
	assert.Equal(t, archives[0], archives[1], "packing the same dir twice must be byte-identical")
}

func TestPack_SkipsSubdirectories(t *testing.T) {
	src := writeSnapshotDir(t)
	require.NoError(t, os.Mkdir(filepath.Join(src, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "nested", "x"), []byte("x"), 0o644))

	out := filepath.Join(t.TempDir(), "snap.tar.zst")
	require.NoError(t, Pack(src, out, CodecZstd))

	dest := filepath.Join(t.TempDir(), "restored")
	require.NoError(t, Unpack(out, dest))
	_, err := os.Stat(filepath.Join(dest, "nested"))
	assert.True(t, os.IsNotExist(err))
}

func TestPack_UnknownCodec(t *testing.T) {
	src := writeSnapshotDir(t)
	err := Pack(src, filepath.Join(t.TempDir(), "out.tar.gz"), Codec("gzip"))
	assert.Error(t, err)
}

func TestForPath(t *testing.T) {
	codec, err := ForPath("/backups/snap-1.tar.zst")
	require.NoError(t, err)
	assert.Equal(t, CodecZstd, codec)

	codec, err = ForPath("snap-1.tar.lz4")
	require.NoError(t, err)
	assert.Equal(t, CodecLZ4, codec)

	_, err = ForPath("snap-1.tar.gz")
	assert.Error(t, err)
}

func TestUnpack_RejectsPathTraversal(t *testing.T) {
	// Hand-craft an archive with an escaping entry name.
	out := filepath.Join(t.TempDir(), "evil.tar.zst")
	f, err := os.Create(out)
	require.NoError(t, err)
	zw, err := zstd.NewWriter(f)
	require.NoError(t, err)
	tw := tar.NewWriter(zw)
	payload := []byte("owned")
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "../escape.txt",
		Mode: 0o644,
		Size: int64(len(payload)),
	}))
	_, err = tw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(t.TempDir(), "restored")
	err = Unpack(out, dest)
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
