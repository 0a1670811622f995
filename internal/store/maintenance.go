// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"strings"
	"time"

	"github.com/annalhq/annal/internal/backend"
)

// PruneStale selects agent memories whose last access (or creation, for
// never-accessed records when includeNeverAccessed is set) predates the
// cutoff. Dry-run returns the candidates without mutating anything and is
// repeatable; commit mode batch-deletes them.
func (s *MemoryStore) PruneStale(maxAge time.Duration, includeNeverAccessed, dryRun bool) ([]Memory, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)

	var candidates []Memory
	err := s.iterMetadata(func(r backend.Result) {
		chunkType, _ := r.Metadata[backend.KeyChunkType].(string)
		if chunkType != ChunkAgentMemory {
			return // file chunks are regenerated by reconciliation, never pruned
		}
		lastAccessed, _ := r.Metadata[backend.KeyLastAccessedAt].(string)
		if lastAccessed != "" {
			if lastAccessed < cutoff {
				candidates = append(candidates, memoryFromResult(r))
			}
			return
		}
		if includeNeverAccessed {
			created, _ := r.Metadata[backend.KeyCreatedAt].(string)
			if created != "" && created < cutoff {
				candidates = append(candidates, memoryFromResult(r))
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if dryRun {
		return candidates, nil
	}

	ids := make([]string, len(candidates))
	for i, m := range candidates {
		ids[i] = m.ID
	}
	if err := s.DeleteMany(ids); err != nil {
		return nil, err
	}
	return candidates, nil
}

// Stats summarizes the collection in one full metadata scan. staleAfter
// defines the staleness window for the stale/never-accessed counters.
func (s *MemoryStore) Stats(staleAfter time.Duration) (Stats, error) {
	cutoff := time.Now().UTC().Add(-staleAfter).Format(time.RFC3339)
	stats := Stats{
		ByChunkType: map[string]int{},
		ByTag:       map[string]int{},
	}
	err := s.iterMetadata(func(r backend.Result) {
		stats.Total++
		chunkType, _ := r.Metadata[backend.KeyChunkType].(string)
		stats.ByChunkType[chunkType]++
		tags, _ := r.Metadata[backend.KeyTags].([]string)
		for _, tag := range tags {
			stats.ByTag[tag]++
		}
		if chunkType != ChunkAgentMemory {
			return
		}
		lastAccessed, _ := r.Metadata[backend.KeyLastAccessedAt].(string)
		if lastAccessed == "" {
			stats.NeverAccessed++
		} else if lastAccessed < cutoff {
			stats.Stale++
		}
	})
	if err != nil {
		return Stats{}, err
	}
	return stats, nil
}

// FileMtimes maps each indexed file's source key to its recorded mtime so
// the reconciler can skip unchanged files. The source convention is
// "file:<path>|<heading>"; the key is everything before the pipe.
func (s *MemoryStore) FileMtimes() (map[string]float64, error) {
	mtimes := map[string]float64{}
	err := s.iterMetadata(func(r backend.Result) {
		source, _ := r.Metadata[backend.KeySource].(string)
		if !strings.HasPrefix(source, "file:") {
			return
		}
		mtime, ok := r.Metadata[backend.KeyFileMtime].(float64)
		if !ok {
			return
		}
		key := source
		if idx := strings.IndexByte(source, '|'); idx >= 0 {
			key = source[:idx]
		}
		if _, ok := mtimes[key]; !ok {
			mtimes[key] = mtime
		}
	})
	if err != nil {
		return nil, err
	}
	return mtimes, nil
}
