// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/annalhq/annal/internal/backend"
)

const (
	exportBatch = 500
	importBatch = 100
)

// transferRecord is one JSONL line of a project export. Embeddings are not
// exported; import re-embeds the text, so exports move cleanly between
// embedder models and dimensions.
type transferRecord struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// ExportJSONL streams every record as one JSON object per line and returns
// the number of records written.
func (s *MemoryStore) ExportJSONL(w io.Writer) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	for _, b := range s.backends() {
		offset := 0
		for {
			results, _, err := b.Scan(offset, exportBatch, nil)
			if err != nil {
				return count, err
			}
			if len(results) == 0 {
				break
			}
			for _, r := range results {
				rec := transferRecord{ID: r.ID, Text: r.Text, Metadata: r.Metadata}
				if err := enc.Encode(rec); err != nil {
					return count, fmt.Errorf("write export record: %w", err)
				}
				count++
			}
			offset += len(results)
		}
	}
	return count, nil
}

// ImportJSONL reads records written by ExportJSONL and inserts them,
// re-embedding each text in batches. IDs and metadata are preserved
// verbatim; records route to the agent or file collection by chunk type.
func (s *MemoryStore) ImportJSONL(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	count := 0
	var batch []transferRecord
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		texts := make([]string, len(batch))
		for i, rec := range batch {
			texts[i] = rec.Text
		}
		embeddings, err := s.emb.EmbedBatch(texts)
		if err != nil {
			return fmt.Errorf("embed import batch: %w", err)
		}
		for i, rec := range batch {
			meta := normalizeImportedMeta(rec.Metadata)
			chunkType, _ := meta[backend.KeyChunkType].(string)
			if err := s.backendFor(chunkType).Insert(rec.ID, rec.Text, embeddings[i], meta); err != nil {
				return err
			}
			count++
		}
		batch = batch[:0]
		return nil
	}

	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var rec transferRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return count, &backend.ValidationError{
				Field:   "import",
				Message: fmt.Sprintf("line %d: %v", line, err),
			}
		}
		if rec.ID == "" || rec.Text == "" {
			return count, &backend.ValidationError{
				Field:   "import",
				Message: fmt.Sprintf("line %d: id and text are required", line),
			}
		}
		batch = append(batch, rec)
		if len(batch) >= importBatch {
			if err := flush(); err != nil {
				return count, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("read import stream: %w", err)
	}
	if err := flush(); err != nil {
		return count, err
	}
	s.invalidateTagCache()
	return count, nil
}

// normalizeImportedMeta repairs the types JSON decoding flattens: tags come
// back as []any and counters as float64.
func normalizeImportedMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		out[key] = value
	}
	if raw, ok := out[backend.KeyTags].([]any); ok {
		tags := make([]string, 0, len(raw))
		for _, v := range raw {
			if tag, ok := v.(string); ok {
				tags = append(tags, tag)
			}
		}
		out[backend.KeyTags] = tags
	}
	if f, ok := out[backend.KeyHitCount].(float64); ok {
		out[backend.KeyHitCount] = int(f)
	}
	return out
}
