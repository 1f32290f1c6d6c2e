// Package testutil provides testing utilities for retrago.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded thread-safe RNG, a deterministic fake embedding
// provider and an exact brute-force top-k for ground truth.
package testutil

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/retrago/retrago/distance"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// FillUniform fills dst with random values in range [0, 1).
func (r *RNG) FillUniform(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = r.rand.Float32()
	}
}

// FillGaussian fills dst with standard normal values.
func (r *RNG) FillGaussian(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range dst {
		dst[i] = float32(r.rand.NormFloat64())
	}
}

// RandomVectors returns count random uniform vectors of dimension dim.
func (r *RNG) RandomVectors(count, dim int) [][]float32 {
	vecs := make([][]float32, count)
	for i := range vecs {
		vecs[i] = make([]float32, dim)
		r.FillUniform(vecs[i])
	}
	return vecs
}

// ExactResult is one brute-force scored row.
type ExactResult struct {
	Row   uint32
	Score float32
}

// ExactTopK computes the exact cosine top-k over dataset, best first.
// Ties break toward the lower row, matching the engine's ordering.
func ExactTopK(query []float32, dataset [][]float32, k int) []ExactResult {
	qnorm := distance.Norm(query)
	results := make([]ExactResult, 0, len(dataset))
	for row, vec := range dataset {
		var score float32
		rnorm := distance.Norm(vec)
		if qnorm != 0 && rnorm != 0 {
			score = distance.Dot(query, vec) / (qnorm * rnorm)
		}
		results = append(results, ExactResult{Row: uint32(row), Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Row < results[j].Row
	})
	if k < len(results) {
		results = results[:k]
	}
	return results
}

// FakeProvider is a deterministic embedding provider backed by a fixed
// text-to-vector table. Unknown texts fail, which makes provider error paths
// easy to exercise.
type FakeProvider struct {
	dim     int
	vectors map[string][]float32

	mu    sync.Mutex
	calls int
}

// NewFakeProvider creates a provider of the given dimension.
func NewFakeProvider(dim int) *FakeProvider {
	return &FakeProvider{
		dim:     dim,
		vectors: make(map[string][]float32),
	}
}

// Set registers the vector returned for text.
func (p *FakeProvider) Set(text string, vec []float32) *FakeProvider {
	p.vectors[text] = vec
	return p
}

// Calls returns the number of EmbedBatch invocations.
func (p *FakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// EmbedBatch implements embedding.Provider.
func (p *FakeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, ok := p.vectors[text]
		if !ok {
			return nil, fmt.Errorf("fake provider: no vector for %q", text)
		}
		if len(vec) != p.dim {
			return nil, fmt.Errorf("fake provider: vector for %q has dimension %d, want %d", text, len(vec), p.dim)
		}
		out[i] = append([]float32(nil), vec...)
	}
	return out, nil
}

// Dimension implements embedding.Provider.
func (p *FakeProvider) Dimension() int { return p.dim }

// ModelInfo implements embedding.Provider.
func (p *FakeProvider) ModelInfo() string {
	return fmt.Sprintf("fake/%d", p.dim)
}
