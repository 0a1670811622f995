// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package embedder

import (
	"github.com/dgraph-io/ristretto"
)

// Cached memoizes an Embedder behind a ristretto cache. Embedding the same
// text twice is common: tag vocabularies are re-embedded on every cache
// rebuild and file chunks repeat across reconcile passes.
type Cached struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCached wraps an embedder with an in-memory vector cache of roughly
// maxBytes. A zero maxBytes picks a 64 MiB default.
func NewCached(inner Embedder, maxBytes int64) (*Cached, error) {
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: cache}, nil
}

func (c *Cached) Dimension() int { return c.inner.Dimension() }

func (c *Cached) Embed(text string) ([]float32, error) {
	if hit, ok := c.cache.Get(text); ok {
		if vec, ok := hit.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := c.inner.Embed(text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, vec, int64(len(vec)*4))
	return vec, nil
}

func (c *Cached) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		if hit, ok := c.cache.Get(text); ok {
			if vec, ok := hit.([]float32); ok {
				out[i] = vec
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return out, nil
	}
	vecs, err := c.inner.EmbedBatch(missing)
	if err != nil {
		return nil, err
	}
	for j, vec := range vecs {
		out[missingIdx[j]] = vec
		c.cache.Set(missing[j], vec, int64(len(vec)*4))
	}
	return out, nil
}
