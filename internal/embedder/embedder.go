// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package embedder turns text into fixed-dimension vectors.
package embedder

import (
	"hash/fnv"
	"math"
)

// Embedder converts text to unit vectors. Implementations are pure and
// deterministic for a given model and never fail on empty input: every
// stored record needs a vector, so "" maps to a defined degenerate one.
type Embedder interface {
	// Dimension is the fixed output vector size.
	Dimension() int

	// Embed converts one text.
	Embed(text string) ([]float32, error)

	// EmbedBatch converts texts in order. It must agree with per-item
	// Embed and exists only for throughput.
	EmbedBatch(texts []string) ([][]float32, error)
}

// DefaultDimension matches the all-MiniLM-L6-v2 model.
const DefaultDimension = 384

// Hash is a deterministic embedder that derives vectors from an FNV hash
// of the text. It carries no semantics but is stable, cheap, and
// dimension-correct, which makes it the default for builds without the
// onnx tag and the fixture for tests.
type Hash struct {
	dimension int
}

// NewHash creates a hash embedder with the default dimension.
func NewHash() *Hash {
	return &Hash{dimension: DefaultDimension}
}

// NewHashWithDimension creates a hash embedder with a custom dimension.
func NewHashWithDimension(dimension int) *Hash {
	return &Hash{dimension: dimension}
}

func (h *Hash) Dimension() int { return h.dimension }

func (h *Hash) Embed(text string) ([]float32, error) {
	fn := fnv.New64a()
	fn.Write([]byte(text))
	seed := fn.Sum64()

	vec := make([]float32, h.dimension)
	for i := range vec {
		// LCG walk from the hash keeps the whole vector deterministic.
		seed = seed*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(vec), nil
}

func (h *Hash) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := h.Embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

// CosineSimilarity compares two vectors; zero when either has no magnitude.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
