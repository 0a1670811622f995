// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"github.com/annalhq/annal/internal/backend"
	"github.com/annalhq/annal/internal/embedder"
)

// ListTopics returns the tag histogram across the whole collection.
func (s *MemoryStore) ListTopics() (map[string]int, error) {
	counts := map[string]int{}
	err := s.iterMetadata(func(r backend.Result) {
		tags, _ := r.Metadata[backend.KeyTags].([]string)
		for _, tag := range tags {
			counts[tag]++
		}
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func (s *MemoryStore) invalidateTagCache() {
	s.tagMu.Lock()
	s.tagCache = nil
	s.tagMu.Unlock()
}

// tagEmbeddings returns the cached tag → vector map for the full known
// vocabulary, rebuilding it after any mutation invalidated the cache.
func (s *MemoryStore) tagEmbeddings() (map[string][]float32, error) {
	s.tagMu.Lock()
	cached := s.tagCache
	s.tagMu.Unlock()
	if cached != nil {
		return cached, nil
	}

	topics, err := s.ListTopics()
	if err != nil {
		return nil, err
	}
	cache := make(map[string][]float32, len(topics))
	if len(topics) > 0 {
		names := make([]string, 0, len(topics))
		for name := range topics {
			names = append(names, name)
		}
		vectors, err := s.emb.EmbedBatch(names)
		if err != nil {
			return nil, err
		}
		for i, name := range names {
			cache[name] = vectors[i]
		}
	}

	s.tagMu.Lock()
	s.tagCache = cache
	s.tagMu.Unlock()
	return cache, nil
}

// expandTags widens a tag filter with every known tag whose embedding
// similarity clears the fuzzy threshold, so "auth" also matches records
// tagged "authentication".
func (s *MemoryStore) expandTags(filterTags []string) ([]string, error) {
	known, err := s.tagEmbeddings()
	if err != nil {
		return nil, err
	}
	expanded := dedupeTags(filterTags)
	if len(known) == 0 {
		return expanded, nil
	}

	queryVectors, err := s.emb.EmbedBatch(filterTags)
	if err != nil {
		return nil, err
	}
	have := make(map[string]struct{}, len(expanded))
	for _, tag := range expanded {
		have[tag] = struct{}{}
	}
	for i := range filterTags {
		for knownTag, knownVec := range known {
			if _, ok := have[knownTag]; ok {
				continue
			}
			if embedder.CosineSimilarity(queryVectors[i], knownVec) >= s.thresholds.FuzzyTag {
				have[knownTag] = struct{}{}
				expanded = append(expanded, knownTag)
			}
		}
	}
	return expanded, nil
}
