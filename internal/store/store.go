// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store implements the business logic above the vector backends:
// deduplication, supersession, fuzzy tag expansion, temporal and source
// filtering, pagination, and stale pruning.
package store

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/annalhq/annal/internal/backend"
	"github.com/annalhq/annal/internal/config"
	"github.com/annalhq/annal/internal/embedder"
)

// deleteBatchSize bounds one backend delete/update call.
const deleteBatchSize = 5000

// MemoryStore routes records to one or two backends by chunk type and owns
// the tag-embedding cache.
type MemoryStore struct {
	agent      backend.Backend
	file       backend.Backend
	emb        embedder.Embedder
	thresholds config.Thresholds

	tagMu    sync.Mutex
	tagCache map[string][]float32
}

// New builds a store over a single backend.
func New(b backend.Backend, emb embedder.Embedder, thresholds config.Thresholds) *MemoryStore {
	return NewSplit(b, b, emb, thresholds)
}

// NewSplit routes agent memories and file chunks to separate backends.
func NewSplit(agent, file backend.Backend, emb embedder.Embedder, thresholds config.Thresholds) *MemoryStore {
	if thresholds.DedupCandidates < 5 {
		thresholds.DedupCandidates = 5
	}
	return &MemoryStore{
		agent:      agent,
		file:       file,
		emb:        emb,
		thresholds: thresholds,
	}
}

// backends returns the distinct backends, agent first.
func (s *MemoryStore) backends() []backend.Backend {
	if s.agent == s.file {
		return []backend.Backend{s.agent}
	}
	return []backend.Backend{s.agent, s.file}
}

func (s *MemoryStore) backendFor(chunkType string) backend.Backend {
	if chunkType == ChunkFileIndexed {
		return s.file
	}
	return s.agent
}

// Close releases every distinct backend.
func (s *MemoryStore) Close() error {
	var firstErr error
	for _, b := range s.backends() {
		if err := b.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Store embeds and inserts a record. An existing same-chunk-type record at
// or above the dedup threshold rejects the insert and returns its id;
// candidates in the softer band ride along as hints on a successful insert.
func (s *MemoryStore) Store(req StoreRequest) (StoreResult, error) {
	if req.ChunkType == "" {
		req.ChunkType = ChunkAgentMemory
	}
	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	req.Tags = dedupeTags(req.Tags)

	embedding, err := s.emb.Embed(req.Content)
	if err != nil {
		return StoreResult{}, fmt.Errorf("embed content: %w", err)
	}

	b := s.backendFor(req.ChunkType)
	result := StoreResult{}

	// Dedup looks at the top K nearest neighbors, not just the nearest:
	// the hard-duplicate may rank behind closer but unrelated content.
	count, err := b.Count(nil)
	if err != nil {
		return StoreResult{}, err
	}
	if count > 0 {
		where := backend.Where{backend.KeyChunkType: backend.Eq(req.ChunkType)}
		candidates, err := b.Query(embedding, s.thresholds.DedupCandidates, where)
		if err != nil {
			return StoreResult{}, err
		}
		for _, c := range candidates {
			similarity := 1.0 - c.Distance
			if similarity >= s.thresholds.Dedup {
				return StoreResult{ID: c.ID, Deduplicated: true}, nil
			}
			if similarity >= s.thresholds.SoftDedup {
				result.PossibleDuplicates = append(result.PossibleDuplicates, c.ID)
			}
		}
	}

	id := uuid.NewString()
	meta := map[string]any{
		backend.KeyTags:           req.Tags,
		backend.KeySource:         req.Source,
		backend.KeyChunkType:      req.ChunkType,
		backend.KeyCreatedAt:      nowISO(),
		backend.KeyUpdatedAt:      "",
		backend.KeyLastAccessedAt: "",
		backend.KeyHitCount:       0,
		backend.KeyPriority:       req.Priority,
		backend.KeySupersededBy:   "",
	}
	if req.FileMtime != 0 {
		meta[backend.KeyFileMtime] = req.FileMtime
	}
	if err := b.Insert(id, req.Content, embedding, meta); err != nil {
		return StoreResult{}, err
	}
	s.invalidateTagCache()
	result.ID = id

	if req.Supersedes != "" {
		if err := s.markSuperseded(req.Supersedes, id); err != nil {
			return result, err
		}
	}
	return result, nil
}

// markSuperseded sets superseded_by on the old record. The reference is
// weak: a missing target is not an error.
func (s *MemoryStore) markSuperseded(oldID, newID string) error {
	res, b, err := s.getOne(oldID)
	if err != nil {
		if errors.Is(err, backend.ErrNotFound) {
			return nil
		}
		return err
	}
	meta := res.Metadata
	meta[backend.KeySupersededBy] = newID
	meta[backend.KeyUpdatedAt] = nowISO()
	return b.Update(oldID, nil, nil, meta)
}

// getOne finds a record in whichever backend holds it.
func (s *MemoryStore) getOne(id string) (backend.Result, backend.Backend, error) {
	for _, b := range s.backends() {
		results, err := b.Get([]string{id})
		if err != nil {
			return backend.Result{}, nil, err
		}
		if len(results) > 0 {
			return results[0], b, nil
		}
	}
	return backend.Result{}, nil, backend.ErrNotFound
}

// GetByIDs retrieves full records. Missing ids are omitted.
func (s *MemoryStore) GetByIDs(ids []string) ([]Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []Memory
	seen := map[string]struct{}{}
	for _, b := range s.backends() {
		results, err := b.Get(ids)
		if err != nil {
			return nil, err
		}
		for _, r := range results {
			if _, ok := seen[r.ID]; ok {
				continue
			}
			seen[r.ID] = struct{}{}
			out = append(out, memoryFromResult(r))
		}
	}
	return out, nil
}

// Update modifies content, tags, and/or source in place, re-embedding when
// the content changes. Nil slices and empty strings leave fields unchanged.
func (s *MemoryStore) Update(id string, content *string, tags []string, source *string) error {
	res, b, err := s.getOne(id)
	if err != nil {
		return err
	}

	var newText *string
	var newEmbedding []float32
	if content != nil {
		newText = content
		newEmbedding, err = s.emb.Embed(*content)
		if err != nil {
			return fmt.Errorf("embed content: %w", err)
		}
	}

	meta := res.Metadata
	meta[backend.KeyUpdatedAt] = nowISO()
	if tags != nil {
		meta[backend.KeyTags] = dedupeTags(tags)
	}
	if source != nil {
		meta[backend.KeySource] = *source
	}
	if err := b.Update(id, newText, newEmbedding, meta); err != nil {
		return err
	}
	s.invalidateTagCache()
	return nil
}

// Retag modifies a record's tags. Either setTags replaces the whole set,
// or addTags/removeTags apply a delta; mixing the modes is an error.
// Returns the final tag list.
func (s *MemoryStore) Retag(id string, addTags, removeTags, setTags []string) ([]string, error) {
	if setTags != nil && (len(addTags) > 0 || len(removeTags) > 0) {
		return nil, &backend.ValidationError{Field: "tags", Message: "cannot mix set_tags with add_tags/remove_tags"}
	}
	if setTags == nil && len(addTags) == 0 && len(removeTags) == 0 {
		return nil, &backend.ValidationError{Field: "tags", Message: "provide at least one of add_tags, remove_tags, or set_tags"}
	}

	res, b, err := s.getOne(id)
	if err != nil {
		return nil, err
	}
	current, _ := res.Metadata[backend.KeyTags].([]string)

	var final []string
	if setTags != nil {
		final = dedupeTags(setTags)
	} else {
		final = dedupeTags(current)
		for _, tag := range addTags {
			found := false
			for _, have := range final {
				if have == tag {
					found = true
					break
				}
			}
			if !found {
				final = append(final, tag)
			}
		}
		if len(removeTags) > 0 {
			drop := make(map[string]struct{}, len(removeTags))
			for _, tag := range removeTags {
				drop[tag] = struct{}{}
			}
			kept := final[:0]
			for _, tag := range final {
				if _, ok := drop[tag]; !ok {
					kept = append(kept, tag)
				}
			}
			final = kept
		}
	}

	meta := res.Metadata
	meta[backend.KeyTags] = final
	meta[backend.KeyUpdatedAt] = nowISO()
	if err := b.Update(id, nil, nil, meta); err != nil {
		return nil, err
	}
	s.invalidateTagCache()
	return final, nil
}

// Delete removes one record.
func (s *MemoryStore) Delete(id string) error {
	return s.DeleteMany([]string{id})
}

// DeleteMany removes records in bounded batches across both backends.
func (s *MemoryStore) DeleteMany(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, b := range s.backends() {
		for start := 0; start < len(ids); start += deleteBatchSize {
			end := start + deleteBatchSize
			if end > len(ids) {
				end = len(ids)
			}
			if err := b.Delete(ids[start:end]); err != nil {
				return err
			}
		}
	}
	s.invalidateTagCache()
	return nil
}

// DeleteByTags removes every record carrying at least one of the tags.
// Tag matching here is exact; fuzzy expansion is a search-time behavior.
func (s *MemoryStore) DeleteByTags(tags []string) (int, error) {
	if len(tags) == 0 {
		return 0, nil
	}
	want := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		want[tag] = struct{}{}
	}
	var ids []string
	err := s.iterMetadata(func(r backend.Result) {
		have, _ := r.Metadata[backend.KeyTags].([]string)
		for _, tag := range have {
			if _, ok := want[tag]; ok {
				ids = append(ids, r.ID)
				return
			}
		}
	})
	if err != nil {
		return 0, err
	}
	if err := s.DeleteMany(ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DeleteBySourcePrefix removes every record whose source starts with the
// prefix; the reconciler uses it to clear a file's chunks before re-index.
func (s *MemoryStore) DeleteBySourcePrefix(prefix string) (int, error) {
	var ids []string
	err := s.iterMetadata(func(r backend.Result) {
		source, _ := r.Metadata[backend.KeySource].(string)
		if len(source) >= len(prefix) && source[:len(prefix)] == prefix {
			ids = append(ids, r.ID)
		}
	})
	if err != nil {
		return 0, err
	}
	if err := s.DeleteMany(ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Count returns the total record count across backends.
func (s *MemoryStore) Count() (int, error) {
	total := 0
	for _, b := range s.backends() {
		n, err := b.Count(nil)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

// iterMetadata feeds every record through fn via paged scans.
func (s *MemoryStore) iterMetadata(fn func(backend.Result)) error {
	for _, b := range s.backends() {
		offset := 0
		for {
			page, total, err := b.Scan(offset, deleteBatchSize, nil)
			if err != nil {
				return err
			}
			for _, r := range page {
				fn(r)
			}
			offset += len(page)
			if len(page) == 0 || offset >= total {
				break
			}
		}
	}
	return nil
}
