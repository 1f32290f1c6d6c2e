package retrago

import (
	"github.com/retrago/retrago/embedding"
	"github.com/retrago/retrago/model"
)

type options struct {
	logger           *Logger
	metricsCollector MetricsCollector
	queryProvider    embedding.Provider
	buildProvider    embedding.Provider
	providerOverlay  embedding.Config
	openCaps         *model.Caps
	skipVerify       bool
}

// Option configures Engine constructor behavior.
type Option func(*options)

// WithLogger configures structured logging for all operations.
// If nil is passed, logging is disabled.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(collector MetricsCollector) Option {
	return func(o *options) {
		if collector == nil {
			collector = NoopMetricsCollector{}
		}
		o.metricsCollector = collector
	}
}

// WithQueryProvider overrides the embedding provider used for query vectors.
// By default queries instantiate the provider recorded in the snapshot
// manifest. The override must match the snapshot's dimension; a mismatch
// fails the query with ErrDimensionMismatch.
func WithQueryProvider(provider embedding.Provider) Option {
	return func(o *options) {
		o.queryProvider = provider
	}
}

// WithBuildProvider overrides the embedding provider used during builds,
// bypassing the provider registry.
func WithBuildProvider(provider embedding.Provider) Option {
	return func(o *options) {
		o.buildProvider = provider
	}
}

// WithProviderCredentials supplies query-time provider credentials.
// Credentials are never persisted in snapshot manifests, so they have to be
// re-injected when an engine opens existing snapshots.
func WithProviderCredentials(apiKey, baseURL string) Option {
	return func(o *options) {
		o.providerOverlay.APIKey = apiKey
		o.providerOverlay.BaseURL = baseURL
	}
}

// WithOpenCaps overrides the manifest caps when opening in-memory snapshots.
// Nil keeps the caps recorded at build time.
func WithOpenCaps(caps *model.Caps) Option {
	return func(o *options) {
		o.openCaps = caps
	}
}

// WithSkipVerify disables CRC32 verification when opening snapshots.
// Intended for very large snapshots on trusted storage.
func WithSkipVerify(skip bool) Option {
	return func(o *options) {
		o.skipVerify = skip
	}
}
