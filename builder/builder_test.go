package builder

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrago/retrago/chunker"
	"github.com/retrago/retrago/embedding"
	"github.com/retrago/retrago/matrix"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/snapshot"
	"github.com/retrago/retrago/testutil"
)

func hashConfig(backend model.BackendKind) Config {
	return Config{
		Backend:  backend,
		Chunker:  chunker.Config{Name: "paragraph"},
		Provider: embedding.Config{Name: "hash", Dimension: 16},
	}
}

func items(n int) []model.Item {
	out := make([]model.Item, n)
	for i := range out {
		out[i] = model.Item{
			ID:        string(rune('a' + i)),
			Text:      "alpha beta\n\ngamma delta",
			SourceURI: "file://" + string(rune('a'+i)),
		}
	}
	return out
}

func newStore(t *testing.T) *snapshot.Store {
	t.Helper()
	store, err := snapshot.NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestBuild_PublishesConsistentSnapshot(t *testing.T) {
	store := newStore(t)
	b := New(store)

	report, err := b.Build(context.Background(), items(3), hashConfig(model.BackendFileBacked))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Items)
	assert.Equal(t, 6, report.Chunks, "two paragraphs per item")
	assert.Equal(t, 16, report.Dimension)
	assert.Empty(t, report.Skipped)

	// The published snapshot passes full lockstep validation on open.
	snap, err := store.Open(report.SnapshotID)
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, 6, snap.Scanner().Rows())

	id, err := store.CurrentID()
	require.NoError(t, err)
	assert.Equal(t, report.SnapshotID, id)
}

func TestBuild_LockstepOrderFollowsCorpusOrder(t *testing.T) {
	store := newStore(t)
	b := New(store)

	corpus := []model.Item{
		{ID: "doc-b", Text: "one\n\ntwo"},
		{ID: "doc-a", Text: "three"},
	}
	report, err := b.Build(context.Background(), corpus, hashConfig(model.BackendInMemory))
	require.NoError(t, err)

	snap, err := store.Open(report.SnapshotID)
	require.NoError(t, err)
	defer snap.Close()

	// Corpus order, not lexical order: doc-b's chunks first.
	var ids []string
	for _, rec := range collectRecords(snap) {
		ids = append(ids, rec.ChunkID)
	}
	assert.Equal(t, []string{"doc-b:0-3", "doc-b:5-8", "doc-a:0-5"}, ids)
}

func collectRecords(snap *snapshot.Snapshot) []model.ChunkRecord {
	var recs []model.ChunkRecord
	for _, rec := range snap.Chunks().Iterate() {
		recs = append(recs, rec)
	}
	return recs
}

func TestBuild_Deterministic(t *testing.T) {
	cfg := hashConfig(model.BackendFileBacked)

	var sums []snapshot.Checksums
	for i := 0; i < 2; i++ {
		store := newStore(t)
		report, err := New(store).Build(context.Background(), items(4), cfg)
		require.NoError(t, err)

		man, err := snapshot.LoadManifest(store.Path(report.SnapshotID))
		require.NoError(t, err)
		sums = append(sums, man.Checksums)
	}
	assert.Equal(t, sums[0], sums[1], "rebuilding the same corpus must produce identical data files")
}

func TestBuild_FailFastLeavesNoSnapshot(t *testing.T) {
	store := newStore(t)
	provider := testutil.NewFakeProvider(4).
		Set("good", []float32{1, 0, 0, 0})
	// "bad" is not registered, so embedding the second item fails.

	cfg := Config{
		Backend: model.BackendInMemory,
		Chunker: chunker.Config{Name: "paragraph"},
	}
	_, err := New(store, WithProvider(provider)).Build(context.Background(), []model.Item{
		{ID: "ok", Text: "good"},
		{ID: "broken", Text: "bad"},
	}, cfg)
	require.Error(t, err)
	var perr *embedding.ProviderError
	assert.ErrorAs(t, err, &perr)

	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids, "failed build must not publish")
	_, err = store.CurrentID()
	assert.ErrorIs(t, err, snapshot.ErrNoCurrentSnapshot)

	// The staging directory is discarded too.
	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, e.IsDir(), "unexpected leftover dir %s", e.Name())
	}
}

func TestBuild_SkipFailedItems(t *testing.T) {
	store := newStore(t)
	provider := testutil.NewFakeProvider(4).
		Set("good", []float32{1, 0, 0, 0}).
		Set("also good", []float32{0, 1, 0, 0})

	cfg := Config{
		Backend:         model.BackendInMemory,
		Chunker:         chunker.Config{Name: "paragraph"},
		SkipFailedItems: true,
	}
	report, err := New(store, WithProvider(provider)).Build(context.Background(), []model.Item{
		{ID: "one", Text: "good"},
		{ID: "broken", Text: "bad"},
		{ID: "two", Text: "also good"},
	}, cfg)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Chunks)
	require.Len(t, report.Skipped, 1)
	assert.Equal(t, "broken", report.Skipped[0].ItemID)

	snap, err := store.Open(report.SnapshotID)
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, 2, snap.Scanner().Rows())
	_, err = snap.Chunks().Get("broken:0-3")
	assert.Error(t, err, "skipped item must leave no chunks")
}

func TestBuild_CapacityExceededAbortsEvenWithSkipPolicy(t *testing.T) {
	store := newStore(t)

	cfg := hashConfig(model.BackendInMemory)
	cfg.Caps = model.Caps{MaxVectors: 3}
	cfg.SkipFailedItems = true

	_, err := New(store).Build(context.Background(), items(3), cfg) // 6 chunks > 3
	var ce *matrix.ErrCapacityExceeded
	require.ErrorAs(t, err, &ce)

	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBuild_EmptyCorpus(t *testing.T) {
	store := newStore(t)

	report, err := New(store).Build(context.Background(), nil, hashConfig(model.BackendFileBacked))
	require.NoError(t, err)
	assert.Equal(t, 0, report.Chunks)

	snap, err := store.Open(report.SnapshotID)
	require.NoError(t, err)
	defer snap.Close()
	assert.Equal(t, 0, snap.Scanner().Rows())
}

func TestBuild_DuplicateItemIDs(t *testing.T) {
	store := newStore(t)
	_, err := New(store).Build(context.Background(), []model.Item{
		{ID: "same", Text: "a"},
		{ID: "same", Text: "b"},
	}, hashConfig(model.BackendInMemory))
	assert.Error(t, err)
}

func TestBuild_InvalidConfig(t *testing.T) {
	store := newStore(t)
	b := New(store)

	cfg := hashConfig(model.BackendInMemory)
	cfg.Backend = "hybrid"
	_, err := b.Build(context.Background(), items(1), cfg)
	assert.Error(t, err)

	cfg = hashConfig(model.BackendInMemory)
	cfg.Chunker.Name = "sentence"
	_, err = b.Build(context.Background(), items(1), cfg)
	var uc *chunker.ErrUnknownChunker
	assert.ErrorAs(t, err, &uc)
}

func TestBuild_CancelledContext(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(store).Build(ctx, items(2), hashConfig(model.BackendInMemory))
	require.Error(t, err)

	ids, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestBuild_NormalizedRowsAreUnitLength(t *testing.T) {
	store := newStore(t)
	cfg := hashConfig(model.BackendInMemory)
	cfg.Normalization = model.NormalizationL2

	report, err := New(store).Build(context.Background(), items(1), cfg)
	require.NoError(t, err)

	man, err := snapshot.LoadManifest(store.Path(report.SnapshotID))
	require.NoError(t, err)
	assert.Equal(t, model.NormalizationL2, man.Normalization)
}
