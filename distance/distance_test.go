package distance

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDot(t *testing.T) {
	assert.InDelta(t, 32.0, Dot([]float32{1, 2, 3}, []float32{4, 5, 6}), 1e-6)
	assert.InDelta(t, 0.0, Dot([]float32{1, 0}, []float32{0, 1}), 1e-6)
}

func TestNorm(t *testing.T) {
	assert.InDelta(t, 5.0, Norm([]float32{3, 4}), 1e-6)
	assert.InDelta(t, 0.0, Norm([]float32{0, 0, 0}), 1e-6)
}

func TestCosine(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{name: "identical", a: []float32{1, 2, 3}, b: []float32{1, 2, 3}, want: 1.0},
		{name: "orthogonal", a: []float32{1, 0, 0}, b: []float32{0, 1, 0}, want: 0.0},
		{name: "opposite", a: []float32{1, 0}, b: []float32{-1, 0}, want: -1.0},
		{name: "scaled", a: []float32{1, 1}, b: []float32{10, 10}, want: 1.0},
		{name: "zero vector", a: []float32{0, 0}, b: []float32{1, 1}, want: 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, float64(Cosine(tt.a, tt.b)), 1e-6)
		})
	}
}

func TestNormalizeL2InPlace(t *testing.T) {
	v := []float32{3, 4}
	require.True(t, NormalizeL2InPlace(v))
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1.0, Norm(v), 1e-6)
}

func TestNormalizeL2InPlace_ZeroVector(t *testing.T) {
	v := []float32{0, 0, 0}
	require.False(t, NormalizeL2InPlace(v))
	for _, x := range v {
		require.False(t, math.IsNaN(float64(x)))
		assert.Equal(t, float32(0), x)
	}
}

func TestNormalizeL2Copy(t *testing.T) {
	v := []float32{0, 5}
	got, ok := NormalizeL2Copy(v)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 5}, v, "input must not be mutated")
	assert.InDelta(t, 1.0, Norm(got), 1e-6)

	_, ok = NormalizeL2Copy([]float32{0, 0})
	assert.False(t, ok)
}

func TestNormalizedDotEqualsCosine(t *testing.T) {
	a := []float32{0.3, -1.2, 4.5, 0.01}
	b := []float32{-2.2, 0.9, 1.1, 3.3}

	an, ok := NormalizeL2Copy(a)
	require.True(t, ok)
	bn, ok := NormalizeL2Copy(b)
	require.True(t, ok)
	assert.InDelta(t, float64(Cosine(a, b)), float64(Dot(an, bn)), 1e-6)
}
