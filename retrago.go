// Package retrago is an embedded retrieval engine for text corpora.
//
// A build chunks corpus items into provenance-tracked spans, embeds every
// chunk and writes an immutable snapshot: a flat float32 matrix, an ordered
// row-to-chunk-id mapping and the chunk records, all advancing in lockstep.
// Snapshots publish atomically; readers only ever see a complete one.
//
// Queries embed the query text the same way the snapshot was built and run an
// exact top-k cosine scan. Two backends trade memory for scan style: the
// in-memory backend holds the whole matrix resident (capacity-capped), the
// file-backed backend memory-maps it and scans fixed-size row batches with a
// bounded working set.
//
// Quick start:
//
//	ctx := context.Background()
//	eng, err := retrago.New("./index")
//	if err != nil {
//	    panic(err)
//	}
//	defer eng.Close()
//
//	report, err := eng.Build(ctx, items, builder.Config{
//	    Backend: model.BackendFileBacked,
//	    Chunker: chunker.Config{Name: "paragraph"},
//	    Provider: embedding.Config{Name: "openai"},
//	})
//
//	evidence, err := eng.QueryCurrent(ctx, "how are snapshots published?", 10)
//	for _, ev := range evidence {
//	    fmt.Println(ev.Score, ev.SourceURI, ev.Text)
//	}
package retrago

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/retrago/retrago/builder"
	"github.com/retrago/retrago/distance"
	"github.com/retrago/retrago/embedding"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/snapshot"
)

// Engine ties the snapshot store, the build pipeline and querying together.
//
// All methods are safe for concurrent use. Opened snapshots are cached per
// id; since a published snapshot is immutable, a cached handle stays valid
// until Delete or Close.
type Engine struct {
	store *snapshot.Store
	build *builder.Builder
	opts  options

	mu     sync.Mutex
	open   map[string]*snapshot.Snapshot
	closed bool
}

// New opens (creating if needed) an engine over the snapshot store at dir.
func New(dir string, optFns ...Option) (*Engine, error) {
	opts := options{
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	store, err := snapshot.NewStore(dir)
	if err != nil {
		return nil, err
	}

	buildOpts := []builder.Option{builder.WithLogger(opts.logger.Logger)}
	if opts.buildProvider != nil {
		buildOpts = append(buildOpts, builder.WithProvider(opts.buildProvider))
	}

	return &Engine{
		store: store,
		build: builder.New(store, buildOpts...),
		opts:  opts,
		open:  make(map[string]*snapshot.Snapshot),
	}, nil
}

// Store exposes the underlying snapshot store.
func (e *Engine) Store() *snapshot.Store { return e.store }

// Build runs the build pipeline over items and atomically publishes the
// result as the new current snapshot. On error nothing becomes visible and
// the previously published snapshot, if any, stays current.
func (e *Engine) Build(ctx context.Context, items []model.Item, cfg builder.Config) (*builder.Report, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	start := time.Now()

	report, err := e.build.Build(ctx, items, cfg)
	err = translateError(err)

	duration := time.Since(start)
	if err != nil {
		e.opts.metricsCollector.RecordBuild(0, 0, duration, err)
		e.opts.logger.LogBuild(ctx, "", len(items), 0, 0, duration, err)
		return nil, err
	}
	e.opts.metricsCollector.RecordBuild(report.Chunks, len(report.Skipped), duration, nil)
	e.opts.logger.LogBuild(ctx, report.SnapshotID, len(items), report.Chunks, len(report.Skipped), duration, nil)
	return report, nil
}

// Query embeds text with the snapshot's provider and returns the top k chunks
// by exact cosine similarity, best first. Ties break toward the lower row
// offset, so results are fully deterministic.
func (e *Engine) Query(ctx context.Context, snapshotID, text string, k int, filters ...Filter) ([]model.Evidence, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	start := time.Now()

	evidence, err := e.query(ctx, snapshotID, text, k, filters)

	e.opts.metricsCollector.RecordQuery(k, time.Since(start), err)
	e.opts.logger.LogQuery(ctx, snapshotID, k, len(evidence), err)
	return evidence, err
}

// QueryCurrent runs Query against the published snapshot.
func (e *Engine) QueryCurrent(ctx context.Context, text string, k int, filters ...Filter) ([]model.Evidence, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	id, err := e.store.CurrentID()
	if err != nil {
		return nil, translateError(err)
	}
	return e.Query(ctx, id, text, k, filters...)
}

func (e *Engine) query(ctx context.Context, snapshotID, text string, k int, filters []Filter) ([]model.Evidence, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
	}

	snap, err := e.acquire(snapshotID)
	if err != nil {
		return nil, translateError(err)
	}

	provider, err := e.queryProvider(snap.Manifest)
	if err != nil {
		return nil, err
	}

	vecs, err := provider.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, &embedding.ProviderError{Provider: provider.ModelInfo(), Err: err}
	}
	if len(vecs) != 1 {
		return nil, &embedding.ProviderError{
			Provider: provider.ModelInfo(),
			Err:      fmt.Errorf("got %d vectors for 1 text", len(vecs)),
		}
	}
	query := vecs[0]

	if snap.Manifest.Normalization == model.NormalizationL2 && !distance.NormalizeL2InPlace(query) {
		return nil, fmt.Errorf("%w: query embeds to a zero vector", ErrInvalidConfig)
	}

	return e.search(ctx, snap, query, k, filters)
}

// QueryVector runs a top-k scan with a caller-supplied query vector, skipping
// the embedding step. The vector is normalized per the snapshot's convention.
func (e *Engine) QueryVector(ctx context.Context, snapshotID string, query []float32, k int, filters ...Filter) ([]model.Evidence, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	start := time.Now()

	evidence, err := func() ([]model.Evidence, error) {
		if k <= 0 {
			return nil, fmt.Errorf("%w: got %d", ErrInvalidK, k)
		}
		snap, err := e.acquire(snapshotID)
		if err != nil {
			return nil, translateError(err)
		}
		if len(query) != snap.Manifest.Dimension {
			return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, &ErrDimensionMismatch{
				Expected: snap.Manifest.Dimension,
				Actual:   len(query),
			})
		}
		if snap.Manifest.Normalization == model.NormalizationL2 {
			if nq, ok := distance.NormalizeL2Copy(query); ok {
				query = nq
			}
		}
		return e.search(ctx, snap, query, k, filters)
	}()

	e.opts.metricsCollector.RecordQuery(k, time.Since(start), err)
	e.opts.logger.LogQuery(ctx, snapshotID, k, len(evidence), err)
	return evidence, err
}

func (e *Engine) search(ctx context.Context, snap *snapshot.Snapshot, query []float32, k int, filters []Filter) ([]model.Evidence, error) {
	bm, err := resolveFilters(snap, filters)
	if err != nil {
		return nil, translateError(err)
	}
	var pred func(row uint32) bool
	if bm != nil {
		pred = bm.Contains
	}

	results, err := snap.Scanner().Search(ctx, query, k, pred)
	if err != nil {
		return nil, translateError(err)
	}

	evidence := make([]model.Evidence, 0, len(results))
	for _, res := range results {
		rec, err := snap.Chunks().ByRow(res.Row)
		if err != nil {
			return nil, translateError(err)
		}
		evidence = append(evidence, model.Evidence{
			ChunkID:   rec.ChunkID,
			ItemID:    rec.ItemID,
			Score:     res.Score,
			Text:      rec.Text,
			Span:      rec.Span(),
			SourceURI: rec.SourceURI,
		})
	}
	return evidence, nil
}

// queryProvider resolves the provider for query embedding: the configured
// override if present, otherwise the provider recorded in the manifest with
// engine-level credentials layered on. Either way the dimension must agree
// with the snapshot.
func (e *Engine) queryProvider(man *snapshot.Manifest) (embedding.Provider, error) {
	provider := e.opts.queryProvider
	if provider == nil {
		cfg := man.Provider
		if e.opts.providerOverlay.APIKey != "" {
			cfg.APIKey = e.opts.providerOverlay.APIKey
		}
		if e.opts.providerOverlay.BaseURL != "" {
			cfg.BaseURL = e.opts.providerOverlay.BaseURL
		}
		var err error
		provider, err = embedding.New(cfg)
		if err != nil {
			return nil, translateError(err)
		}
	}
	if provider.Dimension() != man.Dimension {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, &ErrDimensionMismatch{
			Expected: man.Dimension,
			Actual:   provider.Dimension(),
		})
	}
	return provider, nil
}

// acquire returns a cached open snapshot, opening and validating it on first
// use.
func (e *Engine) acquire(id string) (*snapshot.Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if snap, ok := e.open[id]; ok {
		return snap, nil
	}
	snap, err := e.store.Open(id, func(o *snapshot.OpenOptions) {
		o.SkipVerify = e.opts.skipVerify
		o.Caps = e.opts.openCaps
	})
	if err != nil {
		return nil, err
	}
	e.open[id] = snap
	return snap, nil
}

// Snapshots returns the ids of all published snapshots, sorted.
func (e *Engine) Snapshots() ([]string, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	return e.store.List()
}

// CurrentID returns the id of the published snapshot.
func (e *Engine) CurrentID() (string, error) {
	if err := e.live(); err != nil {
		return "", err
	}
	id, err := e.store.CurrentID()
	return id, translateError(err)
}

// Manifest returns the manifest of a snapshot without fully opening it.
func (e *Engine) Manifest(id string) (*snapshot.Manifest, error) {
	if err := e.live(); err != nil {
		return nil, err
	}
	man, err := snapshot.LoadManifest(e.store.Path(id))
	return man, translateError(err)
}

// Delete removes a snapshot as a whole unit, closing any cached handle first.
// Deleting the current snapshot leaves the engine with no current snapshot.
func (e *Engine) Delete(ctx context.Context, id string) error {
	if err := e.live(); err != nil {
		return err
	}
	start := time.Now()

	e.mu.Lock()
	if snap, ok := e.open[id]; ok {
		snap.Close()
		delete(e.open, id)
	}
	e.mu.Unlock()

	err := translateError(e.store.Delete(id))
	e.opts.metricsCollector.RecordDelete(time.Since(start), err)
	e.opts.logger.LogDelete(ctx, id, err)
	return err
}

// Close releases all cached snapshot handles. The engine is unusable after.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var firstErr error
	for id, snap := range e.open {
		if err := snap.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(e.open, id)
	}
	return firstErr
}

func (e *Engine) live() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return nil
}
