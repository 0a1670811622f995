// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"time"

	"github.com/annalhq/annal/internal/backend"
)

// Chunk types. Agent memories are stored deliberately by callers; file
// chunks are derived from indexed sources and are regenerated, never pruned.
const (
	ChunkAgentMemory = "agent-memory"
	ChunkFileIndexed = "file-indexed"
)

// Priorities.
const (
	PriorityNormal    = "normal"
	PriorityImportant = "important"
	PriorityCritical  = "critical"
)

// Memory is one knowledge record. Timestamps are ISO-8601 strings; empty
// means unset.
type Memory struct {
	ID             string   `json:"id"`
	Content        string   `json:"content"`
	Tags           []string `json:"tags"`
	Source         string   `json:"source"`
	ChunkType      string   `json:"chunk_type"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at,omitempty"`
	LastAccessedAt string   `json:"last_accessed_at,omitempty"`
	HitCount       int      `json:"hit_count"`
	Priority       string   `json:"priority,omitempty"`
	SupersededBy   string   `json:"superseded_by,omitempty"`
	FileMtime      float64  `json:"file_mtime,omitempty"`

	// Score is the similarity score for search results.
	Score float64 `json:"score,omitempty"`
	// Project is set by cross-project search to tag the origin.
	Project string `json:"project,omitempty"`
}

// StoreRequest describes a record to store.
type StoreRequest struct {
	Content   string
	Tags      []string
	Source    string
	ChunkType string
	// Supersedes marks an older record replaced by this one. The old
	// record is updated, never deleted, and a dangling id is tolerated.
	Supersedes string
	Priority   string
	FileMtime  float64
}

// StoreResult reports the outcome of a store call.
type StoreResult struct {
	// ID of the stored record — or of the existing near-identical record
	// when the insert was rejected as a duplicate.
	ID string
	// Deduplicated is true when no new record was created.
	Deduplicated bool
	// PossibleDuplicates lists existing ids in the soft-similarity band.
	// The insert still succeeded; these are hints.
	PossibleDuplicates []string
}

// SearchOptions restrict and shape a search.
type SearchOptions struct {
	Tags              []string
	After             string
	Before            string
	SourcePrefix      string
	Limit             int
	MinScore          float64
	IncludeSuperseded bool
}

// BrowseOptions page through a collection without ranking.
type BrowseOptions struct {
	Offset       int
	Limit        int
	ChunkType    string
	SourcePrefix string
	Tags         []string
}

// Stats summarizes a collection from one full metadata scan.
type Stats struct {
	Total         int            `json:"total"`
	ByChunkType   map[string]int `json:"by_chunk_type"`
	ByTag         map[string]int `json:"by_tag"`
	Stale         int            `json:"stale"`
	NeverAccessed int            `json:"never_accessed"`
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func memoryFromResult(r backend.Result) Memory {
	m := Memory{ID: r.ID, Content: r.Text}
	meta := r.Metadata
	if tags, ok := meta[backend.KeyTags].([]string); ok {
		m.Tags = tags
	}
	m.Source, _ = meta[backend.KeySource].(string)
	m.ChunkType, _ = meta[backend.KeyChunkType].(string)
	m.CreatedAt, _ = meta[backend.KeyCreatedAt].(string)
	m.UpdatedAt, _ = meta[backend.KeyUpdatedAt].(string)
	m.LastAccessedAt, _ = meta[backend.KeyLastAccessedAt].(string)
	if n, ok := meta[backend.KeyHitCount].(int); ok {
		m.HitCount = n
	}
	m.Priority, _ = meta[backend.KeyPriority].(string)
	m.SupersededBy, _ = meta[backend.KeySupersededBy].(string)
	if f, ok := meta[backend.KeyFileMtime].(float64); ok {
		m.FileMtime = f
	}
	return m
}

// dedupeTags normalizes a tag list into a deduplicated set, preserving
// first-seen order.
func dedupeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if _, ok := seen[tag]; ok || tag == "" {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
