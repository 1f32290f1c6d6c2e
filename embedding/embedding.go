// Package embedding defines the embedding-provider contract and its built-in
// implementations. A provider turns batches of chunk texts into fixed-dimension
// float32 vectors, preserving input order.
package embedding

import (
	"context"
	"fmt"
)

// Provider turns text into fixed-dimension vectors.
//
// The dimension must be stable across all calls for one provider instance,
// and a snapshot built with a provider can only be queried with a provider of
// the same dimension and model.
type Provider interface {
	// EmbedBatch embeds texts, returning one vector per input in the same
	// order. Batch size is bounded by the caller.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the fixed vector dimension.
	Dimension() int

	// ModelInfo returns a stable identifier for the provider and model.
	ModelInfo() string
}

// Config selects and parameterizes a provider.
type Config struct {
	// Name identifies the provider: "openai" or "hash".
	Name string `json:"name" mapstructure:"name"`

	// Model is the provider-specific model name (openai only).
	Model string `json:"model,omitempty" mapstructure:"model"`

	// APIKey authenticates against the provider API. Not persisted in
	// snapshot manifests.
	APIKey string `json:"-" mapstructure:"api_key"`

	// BaseURL overrides the provider endpoint (openai only, optional).
	BaseURL string `json:"base_url,omitempty" mapstructure:"base_url"`

	// Dimension is the vector dimension (hash provider only; openai models
	// have fixed dimensions).
	Dimension int `json:"dimension,omitempty" mapstructure:"dimension"`
}

// ErrUnknownProvider indicates an unrecognized provider name.
type ErrUnknownProvider struct {
	Name string
}

func (e *ErrUnknownProvider) Error() string {
	return fmt.Sprintf("unknown embedding provider: %q", e.Name)
}

// New creates a provider from config.
func New(cfg Config) (Provider, error) {
	switch cfg.Name {
	case "openai":
		return NewOpenAI(cfg)
	case "hash":
		return NewHash(cfg.Dimension)
	default:
		return nil, &ErrUnknownProvider{Name: cfg.Name}
	}
}
