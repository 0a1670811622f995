// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package chromem implements the vector backend on top of chromem-go,
// an embedded pure-Go vector database.
//
// chromem evaluates plain equality filters server-side. Every other
// grammar clause is honored by over-fetching similarity candidates and
// filtering client-side before truncation.
package chromem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	cg "github.com/philippgille/chromem-go"

	"github.com/annalhq/annal/internal/backend"
)

const engine = "chromem"

// Store is a chromem-go backed vector collection.
type Store struct {
	col       *cg.Collection
	dimension int
}

// New opens (or creates) a collection. An empty path keeps the database
// in memory, which the tests rely on.
func New(path, collection string, dimension int) (*Store, error) {
	var db *cg.DB
	if path == "" {
		db = cg.NewDB()
	} else {
		var err error
		db, err = cg.NewPersistentDB(path, false)
		if err != nil {
			return nil, backend.WrapErr(engine, "open", err)
		}
	}
	col, err := db.GetOrCreateCollection(collection, nil, nil)
	if err != nil {
		return nil, backend.WrapErr(engine, "create collection", err)
	}
	return &Store{col: col, dimension: dimension}, nil
}

func (s *Store) Insert(id, text string, embedding []float32, metadata map[string]any) error {
	if len(embedding) != s.dimension {
		return &backend.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match collection dimension %d", len(embedding), s.dimension),
		}
	}
	doc := cg.Document{
		ID:        id,
		Content:   text,
		Embedding: embedding,
		Metadata:  serializeMeta(metadata),
	}
	return backend.WrapErr(engine, "insert", s.col.AddDocument(context.Background(), doc))
}

func (s *Store) Update(id string, text *string, embedding []float32, metadata map[string]any) error {
	current, err := s.col.GetByID(context.Background(), id)
	if err != nil {
		return backend.ErrNotFound
	}
	doc := current
	if text != nil {
		doc.Content = *text
	}
	if embedding != nil {
		doc.Embedding = embedding
	}
	if metadata != nil {
		doc.Metadata = serializeMeta(metadata)
	}
	// AddDocument overwrites by id, which is chromem's update path.
	return backend.WrapErr(engine, "update", s.col.AddDocument(context.Background(), doc))
}

func (s *Store) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return backend.WrapErr(engine, "delete", s.col.Delete(context.Background(), nil, nil, ids...))
}

func (s *Store) Query(embedding []float32, limit int, where backend.Where) ([]backend.Result, error) {
	total := s.col.Count()
	if total == 0 || limit <= 0 {
		return nil, nil
	}

	pushed, rest := where.Split(s.nativeClause)
	n := limit
	if len(rest) > 0 {
		n = backend.OverfetchLimit(limit)
	}
	if n > total {
		n = total
	}

	results, err := s.queryCandidates(embedding, n, toNativeWhere(pushed))
	if err != nil {
		return nil, err
	}

	out := make([]backend.Result, 0, limit)
	for _, r := range results {
		meta := deserializeMeta(r.Metadata)
		if len(rest) > 0 && !rest.Matches(meta) {
			continue
		}
		out = append(out, backend.Result{
			ID:       r.ID,
			Text:     r.Content,
			Metadata: meta,
			Distance: 1.0 - float64(r.Similarity),
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) Get(ids []string) ([]backend.Result, error) {
	out := make([]backend.Result, 0, len(ids))
	for _, id := range ids {
		doc, err := s.col.GetByID(context.Background(), id)
		if err != nil {
			continue // missing ids are omitted
		}
		out = append(out, backend.Result{
			ID:       doc.ID,
			Text:     doc.Content,
			Metadata: deserializeMeta(doc.Metadata),
		})
	}
	return out, nil
}

func (s *Store) Scan(offset, limit int, where backend.Where) ([]backend.Result, int, error) {
	all, err := s.enumerate(where)
	if err != nil {
		return nil, 0, err
	}
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (s *Store) Count(where backend.Where) (int, error) {
	if len(where) == 0 {
		return s.col.Count(), nil
	}
	all, err := s.enumerate(where)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (s *Store) Close() error { return nil }

// enumerate lists every matching record in a stable (created_at, id) order.
// chromem has no native scan, so this ranks the full collection against a
// probe vector; the documented latency cliff for large collections.
func (s *Store) enumerate(where backend.Where) ([]backend.Result, error) {
	total := s.col.Count()
	if total == 0 {
		return nil, nil
	}
	probe := make([]float32, s.dimension)
	probe[0] = 1.0
	results, err := s.queryCandidates(probe, total, nil)
	if err != nil {
		return nil, err
	}
	out := make([]backend.Result, 0, len(results))
	for _, r := range results {
		meta := deserializeMeta(r.Metadata)
		if len(where) > 0 && !where.Matches(meta) {
			continue
		}
		out = append(out, backend.Result{ID: r.ID, Text: r.Content, Metadata: meta})
	}
	sort.Slice(out, func(i, j int) bool {
		ci, _ := out[i].Metadata[backend.KeyCreatedAt].(string)
		cj, _ := out[j].Metadata[backend.KeyCreatedAt].(string)
		if ci != cj {
			return ci < cj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// queryCandidates wraps QueryEmbedding, shrinking nResults when chromem
// rejects it for exceeding the filtered document count.
func (s *Store) queryCandidates(embedding []float32, n int, where map[string]string) ([]cg.Result, error) {
	for n >= 1 {
		results, err := s.col.QueryEmbedding(context.Background(), embedding, n, where, nil)
		if err == nil {
			return results, nil
		}
		if !strings.Contains(err.Error(), "nResults") {
			return nil, backend.WrapErr(engine, "query", err)
		}
		n /= 2
	}
	return nil, nil
}

// nativeClause reports the clauses chromem can push down: bare string
// equality on keys stored verbatim in document metadata.
func (s *Store) nativeClause(key string, c backend.Clause) bool {
	if !c.IsEqualityOnly() {
		return false
	}
	switch key {
	case backend.KeyTags, backend.KeyHitCount, backend.KeyFileMtime:
		return false // stored re-encoded, not comparable verbatim
	default:
		return true
	}
}

func toNativeWhere(w backend.Where) map[string]string {
	if len(w) == 0 {
		return nil
	}
	out := make(map[string]string, len(w))
	for key, clause := range w {
		out[key] = *clause.Eq
	}
	return out
}

// serializeMeta flattens metadata to chromem's string map. Tags become a
// JSON array, counters and mtimes their decimal forms; the same scheme the
// original collections used.
func serializeMeta(meta map[string]any) map[string]string {
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		switch v := value.(type) {
		case string:
			out[key] = v
		case []string:
			b, _ := json.Marshal(v)
			out[key] = string(b)
		case int:
			out[key] = strconv.Itoa(v)
		case int64:
			out[key] = strconv.FormatInt(v, 10)
		case float64:
			out[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			b, _ := json.Marshal(v)
			out[key] = string(b)
		}
	}
	return out
}

func deserializeMeta(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		switch key {
		case backend.KeyTags:
			var tags []string
			if err := json.Unmarshal([]byte(value), &tags); err == nil {
				out[key] = tags
			} else {
				out[key] = []string{}
			}
		case backend.KeyHitCount:
			n, _ := strconv.Atoi(value)
			out[key] = n
		case backend.KeyFileMtime:
			f, _ := strconv.ParseFloat(value, 64)
			out[key] = f
		default:
			out[key] = value
		}
	}
	return out
}
