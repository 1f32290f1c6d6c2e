// Package builder runs the index build pipeline: chunk the corpus, embed the
// chunks, and write the three snapshot data structures in lockstep before an
// atomic publish.
//
// Items are embedded concurrently, but all appends go through a single writer
// that consumes items in corpus order. The chunk store, the id mapping and the
// matrix therefore always advance together, and a rebuild of the same corpus
// with the same config yields an identical snapshot.
package builder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/retrago/retrago/chunker"
	"github.com/retrago/retrago/chunkstore"
	"github.com/retrago/retrago/distance"
	"github.com/retrago/retrago/embedding"
	"github.com/retrago/retrago/idmap"
	"github.com/retrago/retrago/matrix"
	"github.com/retrago/retrago/model"
	"github.com/retrago/retrago/persistence"
	"github.com/retrago/retrago/snapshot"
)

const (
	// DefaultEmbedBatchSize is the number of chunk texts per provider call.
	DefaultEmbedBatchSize = 64

	// DefaultConcurrency is the number of items embedded concurrently.
	DefaultConcurrency = 4
)

// Config parameterizes one build.
type Config struct {
	// Backend selects the query-time residency strategy recorded in the
	// manifest: "in_memory" or "file_backed".
	Backend model.BackendKind `json:"backend" mapstructure:"backend"`

	// Normalization is the vector normalization convention. Empty selects
	// "l2", under which stored and query vectors are unit length and the
	// scan scores by plain dot product.
	Normalization model.Normalization `json:"normalization" mapstructure:"normalization"`

	// Chunker selects the chunking strategy.
	Chunker chunker.Config `json:"chunker" mapstructure:"chunker"`

	// Provider selects the embedding provider.
	Provider embedding.Config `json:"provider" mapstructure:"provider"`

	// Caps bounds the in-memory backend (max vectors / max bytes) and sets
	// the file-backed scan batch size. Zero values mean unlimited or default.
	Caps model.Caps `json:"caps" mapstructure:"caps"`

	// EmbedBatchSize bounds the texts per provider call. 0 means default.
	EmbedBatchSize int `json:"embed_batch_size" mapstructure:"embed_batch_size"`

	// Concurrency bounds the items embedded in parallel. 0 means default.
	Concurrency int `json:"concurrency" mapstructure:"concurrency"`

	// RateLimit caps provider calls per second across all workers.
	// 0 means unlimited.
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit"`

	// SkipFailedItems records items whose embedding fails and continues the
	// build instead of aborting. Capacity violations always abort.
	SkipFailedItems bool `json:"skip_failed_items" mapstructure:"skip_failed_items"`
}

func (c *Config) setDefaults() {
	if c.Normalization == "" {
		c.Normalization = model.NormalizationL2
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = DefaultEmbedBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = DefaultConcurrency
	}
}

func (c *Config) validate() error {
	if !c.Backend.Valid() {
		return fmt.Errorf("build config: unknown backend kind %q", c.Backend)
	}
	if !c.Normalization.Valid() {
		return fmt.Errorf("build config: unknown normalization %q", c.Normalization)
	}
	return nil
}

// SkippedItem records one item excluded from a build under the skip policy.
type SkippedItem struct {
	ItemID string `json:"item_id"`
	Reason string `json:"reason"`
}

// Report summarizes a finished build.
type Report struct {
	SnapshotID string            `json:"snapshot_id"`
	Backend    model.BackendKind `json:"backend"`
	Dimension  int               `json:"dimension"`
	Items      int               `json:"items"`
	Chunks     int               `json:"chunks"`
	Skipped    []SkippedItem     `json:"skipped,omitempty"`
	Duration   time.Duration     `json:"duration"`
}

// Builder builds snapshots into a snapshot store.
type Builder struct {
	store    *snapshot.Store
	logger   *slog.Logger
	provider embedding.Provider
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the build logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithProvider overrides the embedding provider for all builds, bypassing the
// provider registry. The config's provider section is still recorded in the
// manifest.
func WithProvider(provider embedding.Provider) Option {
	return func(b *Builder) {
		b.provider = provider
	}
}

// New creates a builder writing into store.
func New(store *snapshot.Store, optFns ...Option) *Builder {
	b := &Builder{
		store:  store,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(b)
	}
	return b
}

// itemJob carries one corpus item through the pipeline. Workers fill vectors
// or err; the writer consumes jobs strictly in corpus order.
type itemJob struct {
	item    model.Item
	records []model.ChunkRecord
	texts   []string
	vectors [][]float32
	err     error
	done    chan struct{}
}

// Build chunks and embeds items and publishes the result as a new snapshot.
//
// On any error no snapshot becomes visible: the staging directory is
// discarded and the previously published snapshot, if any, stays current.
func (b *Builder) Build(ctx context.Context, items []model.Item, cfg Config) (*Report, error) {
	start := time.Now()
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ck, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	provider := b.provider
	if provider == nil {
		provider, err = embedding.New(cfg.Provider)
		if err != nil {
			return nil, err
		}
	}
	dim := provider.Dimension()

	jobs, err := chunkItems(items, ck)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	dir, err := b.store.Begin(id)
	if err != nil {
		return nil, err
	}
	published := false
	defer func() {
		if !published {
			if derr := b.store.Discard(id); derr != nil {
				b.logger.Warn("discard failed", "snapshot", id, "error", derr)
			}
		}
	}()

	b.logger.Info("build started",
		"snapshot", id,
		"backend", cfg.Backend,
		"items", len(items),
		"provider", provider.ModelInfo(),
		"dimension", dim,
	)

	w, err := matrix.NewWriter(filepath.Join(dir, snapshot.MatrixFileName), dim)
	if err != nil {
		return nil, err
	}
	defer w.Abort()

	report := &Report{
		SnapshotID: id,
		Backend:    cfg.Backend,
		Dimension:  dim,
		Items:      len(items),
	}

	if err := b.run(ctx, jobs, cfg, provider, w, report); err != nil {
		return nil, err
	}

	chunks := chunkstore.New()
	mapping := idmap.New()
	for _, job := range jobs {
		if job.err != nil {
			continue
		}
		for _, rec := range job.records {
			if err := chunks.Append(rec); err != nil {
				return nil, err
			}
			if _, err := mapping.Append(rec.ChunkID); err != nil {
				return nil, err
			}
		}
	}

	rows, matrixSum, err := w.Finish()
	if err != nil {
		return nil, err
	}
	if rows != chunks.Len() || rows != mapping.Len() {
		return nil, fmt.Errorf("build %s: row count %d, chunk records %d, id mappings %d out of step",
			id, rows, chunks.Len(), mapping.Len())
	}
	report.Chunks = rows
	mapping.Freeze()

	chunksSum, err := writeChecksummed(filepath.Join(dir, snapshot.ChunksFileName), chunks.WriteTo)
	if err != nil {
		return nil, err
	}
	idmapSum, err := writeChecksummed(filepath.Join(dir, snapshot.IDMapFileName), mapping.WriteTo)
	if err != nil {
		return nil, err
	}

	man := &snapshot.Manifest{
		Version:       snapshot.ManifestVersion,
		ID:            id,
		Backend:       cfg.Backend,
		Dimension:     dim,
		Count:         rows,
		Normalization: cfg.Normalization,
		Chunker:       cfg.Chunker,
		Provider:      cfg.Provider,
		Caps:          cfg.Caps,
		Checksums: snapshot.Checksums{
			Matrix: matrixSum,
			IDMap:  idmapSum,
			Chunks: chunksSum,
		},
		CreatedAt: time.Now().UTC(),
	}
	if err := snapshot.SaveManifest(dir, man); err != nil {
		return nil, err
	}
	if err := persistence.SyncDir(dir); err != nil {
		return nil, err
	}

	if err := b.store.Publish(id); err != nil {
		return nil, err
	}
	published = true
	report.Duration = time.Since(start)

	b.logger.Info("build published",
		"snapshot", id,
		"chunks", rows,
		"skipped", len(report.Skipped),
		"duration", report.Duration,
	)
	return report, nil
}

// chunkItems runs the chunker over every item up front. Chunking is cheap and
// deterministic; doing it before any provider call pins the row order.
func chunkItems(items []model.Item, ck chunker.Chunker) ([]*itemJob, error) {
	seen := make(map[string]struct{}, len(items))
	jobs := make([]*itemJob, 0, len(items))
	for _, item := range items {
		if item.ID == "" {
			return nil, fmt.Errorf("item with empty id")
		}
		if _, ok := seen[item.ID]; ok {
			return nil, fmt.Errorf("duplicate item id: %q", item.ID)
		}
		seen[item.ID] = struct{}{}

		job := &itemJob{item: item, done: make(chan struct{})}
		for c := range ck.Chunks(item.Text) {
			job.records = append(job.records, model.ChunkRecord{
				ChunkID:   fmt.Sprintf("%s:%d-%d", item.ID, c.Start, c.End),
				ItemID:    item.ID,
				Text:      c.Text,
				Start:     c.Start,
				End:       c.End,
				SourceURI: item.SourceURI,
			})
			job.texts = append(job.texts, c.Text)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// run embeds jobs with bounded concurrency and appends their vectors to the
// matrix writer in corpus order.
func (b *Builder) run(ctx context.Context, jobs []*itemJob, cfg Config, provider embedding.Provider, w *matrix.Writer, report *Report) error {
	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	sem := semaphore.NewWeighted(int64(cfg.Concurrency))

	g, gctx := errgroup.WithContext(gctx)
	g.Go(func() error {
		for _, job := range jobs {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			job := job
			g.Go(func() error {
				defer sem.Release(1)
				job.vectors, job.err = embedJob(gctx, provider, limiter, job.texts, cfg.EmbedBatchSize)
				close(job.done)
				if job.err != nil && !cfg.SkipFailedItems {
					return job.err
				}
				return nil
			})
		}
		return nil
	})

	writeErr := b.consume(gctx, jobs, cfg, w, report)
	if writeErr != nil {
		cancel()
	}
	groupErr := g.Wait()
	if writeErr != nil {
		return writeErr
	}
	return groupErr
}

// consume appends embedded items in corpus order, keeping the chunk, mapping
// and matrix sequences in lockstep.
func (b *Builder) consume(ctx context.Context, jobs []*itemJob, cfg Config, w *matrix.Writer, report *Report) error {
	inMemory := cfg.Backend == model.BackendInMemory
	normalize := cfg.Normalization == model.NormalizationL2

	for _, job := range jobs {
		select {
		case <-job.done:
		case <-ctx.Done():
			return ctx.Err()
		}

		if job.err != nil {
			if !cfg.SkipFailedItems {
				return job.err
			}
			report.Skipped = append(report.Skipped, SkippedItem{
				ItemID: job.item.ID,
				Reason: job.err.Error(),
			})
			b.logger.Warn("item skipped", "item", job.item.ID, "error", job.err)
			continue
		}

		for i, vec := range job.vectors {
			if normalize && !distance.NormalizeL2InPlace(vec) {
				return fmt.Errorf("item %q chunk %q: zero vector cannot be normalized",
					job.item.ID, job.records[i].ChunkID)
			}
			if inMemory {
				if err := matrix.CheckCapacity(w.Rows()+1, w.Dimension(), cfg.Caps); err != nil {
					return err
				}
			}
			if _, err := w.Append(vec); err != nil {
				return err
			}
		}
	}
	return nil
}

// embedJob embeds one item's chunk texts in bounded batches.
func embedJob(ctx context.Context, provider embedding.Provider, limiter *rate.Limiter, texts []string, batchSize int) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for base := 0; base < len(texts); base += batchSize {
		end := min(base+batchSize, len(texts))
		batch := texts[base:end]

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		out, err := provider.EmbedBatch(ctx, batch)
		if err != nil {
			return nil, &embedding.ProviderError{Provider: provider.ModelInfo(), Err: err}
		}
		if len(out) != len(batch) {
			return nil, &embedding.ProviderError{
				Provider: provider.ModelInfo(),
				Err:      fmt.Errorf("got %d vectors for %d texts", len(out), len(batch)),
			}
		}
		for _, vec := range out {
			if len(vec) != provider.Dimension() {
				return nil, &embedding.ProviderError{
					Provider: provider.ModelInfo(),
					Err:      &matrix.ErrDimensionMismatch{Expected: provider.Dimension(), Actual: len(vec)},
				}
			}
		}
		vectors = append(vectors, out...)
	}
	return vectors, nil
}

// writeChecksummed writes a data file through a CRC32 writer, fsyncs it and
// returns the checksum.
func writeChecksummed(path string, write func(w io.Writer) error) (uint32, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}
	cw := persistence.NewChecksumWriter(f)
	if err := write(cw); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, err
	}
	return cw.Sum(), nil
}
