package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// DefaultHashDimension is used when no dimension is configured.
const DefaultHashDimension = 64

// Hash is an offline, deterministic provider that folds token hashes into a
// fixed-dimension vector. It has no semantic quality and exists for air-gapped
// builds and tests; identical text always embeds to the identical vector.
type Hash struct {
	dim int
}

// NewHash creates a hash provider. dim of 0 selects DefaultHashDimension.
func NewHash(dim int) (*Hash, error) {
	if dim == 0 {
		dim = DefaultHashDimension
	}
	if dim < 1 {
		return nil, fmt.Errorf("hash provider: invalid dimension %d", dim)
	}
	return &Hash{dim: dim}, nil
}

// EmbedBatch implements Provider.
func (p *Hash) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = p.embed(text)
	}
	return out, nil
}

func (p *Hash) embed(text string) []float32 {
	vec := make([]float32, p.dim)

	h := fnv.New64a()
	start := 0
	flush := func(end int) {
		if end <= start {
			return
		}
		h.Reset()
		h.Write([]byte(text[start:end]))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dim))
		// Alternate sign from a high hash bit so vectors spread over the
		// whole sphere instead of the positive orthant.
		if sum&(1<<63) != 0 {
			vec[idx] -= 1
		} else {
			vec[idx] += 1
		}
	}
	for end := 0; end < len(text); end++ {
		if text[end] == ' ' || text[end] == '\n' || text[end] == '\t' {
			flush(end)
			start = end + 1
		}
	}
	flush(len(text))

	// Unit-length output keeps dot products in [-1, 1] even for the raw
	// normalization convention.
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	} else {
		vec[0] = 1
	}
	return vec
}

// Dimension implements Provider.
func (p *Hash) Dimension() int { return p.dim }

// ModelInfo implements Provider.
func (p *Hash) ModelInfo() string {
	return fmt.Sprintf("hash/fnv1a-%d", p.dim)
}
