package retrago

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/retrago/retrago/builder"
	"github.com/retrago/retrago/chunker"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/testutil"
)

// fruitProvider maps each corpus chunk to a fixed 3-d vector so cosine
// scores are known in closed form.
func fruitProvider() *testutil.FakeProvider {
	return testutil.NewFakeProvider(3).
		Set("red apple", []float32{2, 0, 0}).
		Set("green pear", []float32{0, 3, 0}).
		Set("ripe mango", []float32{1, 1, 0}).
		Set("apple", []float32{1, 0, 0})
}

func fruitItems() []model.Item {
	return []model.Item{
		{ID: "a", Text: "red apple", SourceURI: "file://fruit/a.txt"},
		{ID: "b", Text: "green pear", SourceURI: "file://fruit/b.txt"},
		{ID: "c", Text: "ripe mango", SourceURI: "file://veg/c.txt"},
	}
}

func newFruitEngine(t *testing.T, backend model.BackendKind) *Engine {
	t.Helper()
	provider := fruitProvider()
	eng, err := New(t.TempDir(),
		WithBuildProvider(provider),
		WithQueryProvider(provider),
	)
	require.NoError(t, err)
	t.Cleanup(func() { eng.Close() })

	_, err = eng.Build(context.Background(), fruitItems(), builder.Config{
		Backend: backend,
		Chunker: chunker.Config{Name: "paragraph"},
	})
	require.NoError(t, err)
	return eng
}

func TestEngine_QueryRanking(t *testing.T) {
	for _, backend := range []model.BackendKind{model.BackendInMemory, model.BackendFileBacked} {
		t.Run(string(backend), func(t *testing.T) {
			eng := newFruitEngine(t, backend)

			evidence, err := eng.QueryCurrent(context.Background(), "apple", 3)
			require.NoError(t, err)
			require.Len(t, evidence, 3)

			// cos(q, apple)=1, cos(q, mango)=1/sqrt(2), cos(q, pear)=0.
			assert.Equal(t, "a", evidence[0].ItemID)
			assert.Equal(t, "c", evidence[1].ItemID)
			assert.Equal(t, "b", evidence[2].ItemID)
			assert.InDelta(t, 1.0, evidence[0].Score, 1e-6)
			assert.InDelta(t, 0.70710678, evidence[1].Score, 1e-6)
			assert.InDelta(t, 0.0, evidence[2].Score, 1e-6)

			// Evidence carries full provenance.
			best := evidence[0]
			assert.Equal(t, "a:0-9", best.ChunkID)
			assert.Equal(t, "red apple", best.Text)
			assert.Equal(t, model.Span{Start: 0, End: 9}, best.Span)
			assert.Equal(t, "file://fruit/a.txt", best.SourceURI)
		})
	}
}

func TestEngine_QueryBySnapshotID(t *testing.T) {
	eng := newFruitEngine(t, model.BackendInMemory)

	id, err := eng.CurrentID()
	require.NoError(t, err)

	evidence, err := eng.Query(context.Background(), id, "apple", 1)
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Equal(t, "a", evidence[0].ItemID)
}

func TestEngine_QueryInvalidK(t *testing.T) {
	eng := newFruitEngine(t, model.BackendInMemory)

	for _, k := range []int{0, -1} {
		_, err := eng.QueryCurrent(context.Background(), "apple", k)
		assert.ErrorIs(t, err, ErrInvalidK, "k=%d", k)
	}
}

func TestEngine_QueryKLargerThanCorpus(t *testing.T) {
	eng := newFruitEngine(t, model.BackendFileBacked)

	evidence, err := eng.QueryCurrent(context.Background(), "apple", 100)
	require.NoError(t, err)
	assert.Len(t, evidence, 3)
}

func TestEngine_QueryProviderDimensionMismatch(t *testing.T) {
	dir := t.TempDir()
	provider := fruitProvider()

	eng, err := New(dir, WithBuildProvider(provider), WithQueryProvider(provider))
	require.NoError(t, err)
	_, err = eng.Build(context.Background(), fruitItems(), builder.Config{
		Backend: model.BackendInMemory,
		Chunker: chunker.Config{Name: "paragraph"},
	})
	require.NoError(t, err)
	require.NoError(t, eng.Close())

	// Reopen with a provider whose dimension disagrees with the snapshot.
	eng2, err := New(dir, WithQueryProvider(testutil.NewFakeProvider(4)))
	require.NoError(t, err)
	defer eng2.Close()

	_, err = eng2.QueryCurrent(context.Background(), "apple", 1)
	require.ErrorIs(t, err, ErrInvalidConfig)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 4, dm.Actual)
}

func TestEngine_EmptyCorpus(t *testing.T) {
	provider := fruitProvider()
	eng, err := New(t.TempDir(), WithBuildProvider(provider), WithQueryProvider(provider))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Build(context.Background(), nil, builder.Config{
		Backend: model.BackendInMemory,
		Chunker: chunker.Config{Name: "paragraph"},
	})
	require.NoError(t, err)

	evidence, err := eng.QueryCurrent(context.Background(), "apple", 5)
	require.NoError(t, err)
	assert.Empty(t, evidence)
}

func TestEngine_Filters(t *testing.T) {
	eng := newFruitEngine(t, model.BackendInMemory)
	ctx := context.Background()

	// Item filter drops the best match.
	evidence, err := eng.QueryCurrent(ctx, "apple", 3, FilterItems("b", "c"))
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, "c", evidence[0].ItemID)
	assert.Equal(t, "b", evidence[1].ItemID)

	// Source prefix filter.
	evidence, err = eng.QueryCurrent(ctx, "apple", 3, FilterSourcePrefix("file://fruit/"))
	require.NoError(t, err)
	require.Len(t, evidence, 2)
	assert.Equal(t, "a", evidence[0].ItemID)

	// Chunk id filter; unknown ids match nothing.
	evidence, err = eng.QueryCurrent(ctx, "apple", 3, FilterChunks("c:0-10", "nope:0-1"))
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Equal(t, "c", evidence[0].ItemID)

	// Filters intersect; disjoint filters match nothing.
	evidence, err = eng.QueryCurrent(ctx, "apple", 3,
		FilterItems("a"),
		FilterSourcePrefix("file://veg/"),
	)
	require.NoError(t, err)
	assert.Empty(t, evidence)
}

func TestEngine_QueryVector(t *testing.T) {
	eng := newFruitEngine(t, model.BackendFileBacked)

	id, err := eng.CurrentID()
	require.NoError(t, err)

	evidence, err := eng.QueryVector(context.Background(), id, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, evidence, 1)
	assert.Equal(t, "b", evidence[0].ItemID)
}

func TestEngine_QueryVectorDimensionMismatch(t *testing.T) {
	eng := newFruitEngine(t, model.BackendInMemory)

	id, err := eng.CurrentID()
	require.NoError(t, err)

	// Same error shape as the text-query path: ErrInvalidConfig wrapping the
	// typed mismatch.
	_, err = eng.QueryVector(context.Background(), id, []float32{1, 0, 0, 0}, 1)
	require.ErrorIs(t, err, ErrInvalidConfig)
	var dm *ErrDimensionMismatch
	require.ErrorAs(t, err, &dm)
	assert.Equal(t, 3, dm.Expected)
	assert.Equal(t, 4, dm.Actual)
}

func TestEngine_NoCurrentSnapshot(t *testing.T) {
	eng, err := New(t.TempDir())
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.QueryCurrent(context.Background(), "apple", 1)
	assert.ErrorIs(t, err, ErrNoCurrentSnapshot)

	_, err = eng.CurrentID()
	assert.ErrorIs(t, err, ErrNoCurrentSnapshot)
}

func TestEngine_QueryUnknownSnapshot(t *testing.T) {
	eng, err := New(t.TempDir(), WithQueryProvider(fruitProvider()))
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Query(context.Background(), "missing", "apple", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_DeleteCurrent(t *testing.T) {
	eng := newFruitEngine(t, model.BackendInMemory)
	ctx := context.Background()

	// Warm the snapshot cache, then delete.
	_, err := eng.QueryCurrent(ctx, "apple", 1)
	require.NoError(t, err)

	id, err := eng.CurrentID()
	require.NoError(t, err)
	require.NoError(t, eng.Delete(ctx, id))

	_, err = eng.QueryCurrent(ctx, "apple", 1)
	assert.ErrorIs(t, err, ErrNoCurrentSnapshot)

	_, err = eng.Query(ctx, id, "apple", 1)
	assert.ErrorIs(t, err, ErrNotFound)

	err = eng.Delete(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_SnapshotsAndManifest(t *testing.T) {
	eng := newFruitEngine(t, model.BackendInMemory)

	ids, err := eng.Snapshots()
	require.NoError(t, err)
	require.Len(t, ids, 1)

	man, err := eng.Manifest(ids[0])
	require.NoError(t, err)
	assert.Equal(t, ids[0], man.ID)
	assert.Equal(t, 3, man.Dimension)
	assert.Equal(t, 3, man.Count)
	assert.Equal(t, model.BackendInMemory, man.Backend)
}

func TestEngine_Close(t *testing.T) {
	eng := newFruitEngine(t, model.BackendInMemory)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close(), "close is idempotent")

	_, err := eng.QueryCurrent(context.Background(), "apple", 1)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = eng.Build(context.Background(), fruitItems(), builder.Config{})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = eng.Snapshots()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestEngine_Metrics(t *testing.T) {
	collector := &BasicMetricsCollector{}
	provider := fruitProvider()
	eng, err := New(t.TempDir(),
		WithBuildProvider(provider),
		WithQueryProvider(provider),
		WithMetricsCollector(collector),
	)
	require.NoError(t, err)
	defer eng.Close()

	_, err = eng.Build(context.Background(), fruitItems(), builder.Config{
		Backend: model.BackendInMemory,
		Chunker: chunker.Config{Name: "paragraph"},
	})
	require.NoError(t, err)

	_, err = eng.QueryCurrent(context.Background(), "apple", 2)
	require.NoError(t, err)
	_, err = eng.QueryCurrent(context.Background(), "apple", 0)
	require.Error(t, err)

	stats := collector.GetStats()
	assert.Equal(t, int64(1), stats.BuildCount)
	assert.Equal(t, int64(3), stats.BuildChunks)
	assert.Equal(t, int64(2), stats.QueryCount)
	assert.Equal(t, int64(1), stats.QueryErrors)
}
