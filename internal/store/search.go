// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/annalhq/annal/internal/backend"
)

var isoDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(T\d{2}:\d{2}:\d{2})?`)

// normalizeDateBound widens a date-only bound to a full timestamp so
// lexicographic range filters behave as callers expect. An unparseable
// value is a validation error, never an empty result.
func normalizeDateBound(field, value string, endOfDay bool) (string, error) {
	if !isoDateRe.MatchString(value) {
		return "", &backend.ValidationError{
			Field:   field,
			Message: fmt.Sprintf("expected ISO 8601 date, got %q", value),
		}
	}
	for _, r := range value {
		if r == 'T' {
			return value, nil
		}
	}
	if endOfDay {
		return value + "T23:59:59", nil
	}
	return value + "T00:00:00", nil
}

// buildWhere assembles the compound filter for search and browse.
func (s *MemoryStore) buildWhere(chunkType, sourcePrefix string, tags []string, after, before string, includeSuperseded bool) (backend.Where, error) {
	where := backend.Where{}
	if chunkType != "" {
		where[backend.KeyChunkType] = backend.Eq(chunkType)
	}
	if sourcePrefix != "" {
		where[backend.KeySource] = backend.Clause{Prefix: sourcePrefix}
	}
	if len(tags) > 0 {
		expanded, err := s.expandTags(tags)
		if err != nil {
			return nil, err
		}
		where[backend.KeyTags] = backend.Clause{ContainsAny: expanded}
	}
	if after != "" || before != "" {
		where[backend.KeyCreatedAt] = backend.Clause{Gt: after, Lt: before}
	}
	if !includeSuperseded {
		where[backend.KeySupersededBy] = backend.Eq("")
	}
	if len(where) == 0 {
		return nil, nil
	}
	return where, nil
}

// Search embeds the query and returns the top matches. Tag filters are
// fuzzy-expanded against the known vocabulary; MinScore applies only when
// no tag filter is present, because with one the tag overlap is the real
// match signal and a content-similarity floor would suppress correct hits.
// Each returned record's hit count and last-accessed time advance exactly
// once per query.
func (s *MemoryStore) Search(query string, opts SearchOptions) ([]Memory, error) {
	if opts.Limit <= 0 {
		opts.Limit = 5
	}
	after, before := opts.After, opts.Before
	var err error
	if after != "" {
		if after, err = normalizeDateBound("after", after, false); err != nil {
			return nil, err
		}
	}
	if before != "" {
		if before, err = normalizeDateBound("before", before, true); err != nil {
			return nil, err
		}
	}

	total, err := s.Count()
	if err != nil {
		return nil, err
	}
	if total == 0 {
		return nil, nil
	}

	embedding, err := s.emb.Embed(query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	where, err := s.buildWhere("", opts.SourcePrefix, opts.Tags, after, before, opts.IncludeSuperseded)
	if err != nil {
		return nil, err
	}

	var merged []backend.Result
	fused := false
	for _, b := range s.backends() {
		var results []backend.Result
		if hq, ok := b.(backend.HybridQuerier); ok && query != "" {
			results, err = hq.QueryHybrid(embedding, query, opts.Limit, where)
			fused = true
		} else {
			results, err = b.Query(embedding, opts.Limit, where)
		}
		if err != nil {
			return nil, err
		}
		merged = append(merged, results...)
	}

	// Hybrid backends already rank by fused score; re-sorting on raw
	// distance would throw the lexical leg away. Fused scores from split
	// collections share the same formula, so they merge directly.
	sort.SliceStable(merged, func(i, j int) bool {
		if fused {
			if merged[i].Fused != merged[j].Fused {
				return merged[i].Fused > merged[j].Fused
			}
		} else if merged[i].Distance != merged[j].Distance {
			return merged[i].Distance < merged[j].Distance
		}
		return merged[i].ID < merged[j].ID
	})
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}

	memories := make([]Memory, 0, len(merged))
	for _, r := range merged {
		m := memoryFromResult(r)
		m.Score = 1.0 - r.Distance
		if len(opts.Tags) == 0 && m.Score < opts.MinScore {
			continue
		}
		memories = append(memories, m)
	}

	if err := s.recordHits(memories); err != nil {
		return nil, err
	}
	return memories, nil
}

// recordHits bumps hit accounting for each distinct returned record. This
// is the only implicit mutation in the record lifecycle; it deliberately
// leaves the tag cache alone since tags are untouched.
func (s *MemoryStore) recordHits(memories []Memory) error {
	now := nowISO()
	seen := make(map[string]struct{}, len(memories))
	for i := range memories {
		m := &memories[i]
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}

		res, b, err := s.getOne(m.ID)
		if err != nil {
			continue // record vanished between query and accounting
		}
		meta := res.Metadata
		hits, _ := meta[backend.KeyHitCount].(int)
		meta[backend.KeyHitCount] = hits + 1
		meta[backend.KeyLastAccessedAt] = now
		if err := b.Update(m.ID, nil, nil, meta); err != nil {
			return err
		}
		m.HitCount = hits + 1
		m.LastAccessedAt = now
	}
	return nil
}

// Browse pages through the collection in stable order with no ranking and
// no hit accounting. Filtered browses past large offsets pay a scan cost.
func (s *MemoryStore) Browse(opts BrowseOptions) ([]Memory, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	where, err := s.buildWhere(opts.ChunkType, opts.SourcePrefix, opts.Tags, "", "", true)
	if err != nil {
		return nil, 0, err
	}

	backends := s.backends()
	if len(backends) == 1 {
		page, total, err := backends[0].Scan(opts.Offset, opts.Limit, where)
		if err != nil {
			return nil, 0, err
		}
		out := make([]Memory, len(page))
		for i, r := range page {
			out[i] = memoryFromResult(r)
		}
		return out, total, nil
	}

	// Split stores paginate over the concatenation: agent records first,
	// then file chunks, preserving each backend's stable order.
	total := 0
	var out []Memory
	remainingOffset := opts.Offset
	remainingLimit := opts.Limit
	for _, b := range backends {
		count, err := b.Count(where)
		if err != nil {
			return nil, 0, err
		}
		total += count
		if remainingLimit > 0 && remainingOffset < count {
			page, _, err := b.Scan(remainingOffset, remainingLimit, where)
			if err != nil {
				return nil, 0, err
			}
			for _, r := range page {
				out = append(out, memoryFromResult(r))
			}
			remainingLimit -= len(page)
			remainingOffset = 0
		} else {
			remainingOffset -= count
			if remainingOffset < 0 {
				remainingOffset = 0
			}
		}
	}
	return out, total, nil
}
