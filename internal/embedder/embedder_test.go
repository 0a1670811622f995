// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embedder

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashDeterministic(t *testing.T) {
	h := NewHash()

	a, err := h.Embed("the same text")
	require.NoError(t, err)
	b, err := h.Embed("the same text")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestHashDistinctTextsDiffer(t *testing.T) {
	h := NewHash()

	a, err := h.Embed("first text")
	require.NoError(t, err)
	b, err := h.Embed("second text")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashDimensionAndNorm(t *testing.T) {
	h := NewHashWithDimension(64)
	assert.Equal(t, 64, h.Dimension())

	vec, err := h.Embed("anything")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var norm float64
	for _, x := range vec {
		norm += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(norm), 1e-5)
}

func TestHashEmbedBatch(t *testing.T) {
	h := NewHash()

	vecs, err := h.EmbedBatch([]string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	single, err := h.Embed("alpha")
	require.NoError(t, err)
	assert.Equal(t, single, vecs[0])
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, CosineSimilarity([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineSimilarity([]float32{1, 0}, []float32{-1, 0}), 1e-6)
	assert.Equal(t, float64(0), CosineSimilarity([]float32{1, 0}, []float32{1}))
}

func TestCachedReturnsSameVectors(t *testing.T) {
	cached, err := NewCached(NewHash(), 1<<20)
	require.NoError(t, err)

	first, err := cached.Embed("cache me")
	require.NoError(t, err)
	second, err := cached.Embed("cache me")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	direct, err := NewHash().Embed("cache me")
	require.NoError(t, err)
	assert.Equal(t, direct, first)
}

func TestCachedBatchMixedHits(t *testing.T) {
	cached, err := NewCached(NewHash(), 1<<20)
	require.NoError(t, err)

	_, err = cached.Embed("warm")
	require.NoError(t, err)

	vecs, err := cached.EmbedBatch([]string{"warm", "cold"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	h := NewHash()
	warm, _ := h.Embed("warm")
	cold, _ := h.Embed("cold")
	assert.Equal(t, warm, vecs[0])
	assert.Equal(t, cold, vecs[1])
}
