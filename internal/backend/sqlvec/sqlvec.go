// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package sqlvec implements the vector backend on a relational database
// through GORM. SQLite is the default engine; Postgres is selected by DSN.
//
// The whole filter grammar compiles to SQL, so filtered queries never
// over-fetch. Similarity ranking runs in-process over the filtered rows.
// When a query carries text, a lexical term-frequency leg is fused with
// the dense leg via Reciprocal Rank Fusion.
package sqlvec

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/annalhq/annal/internal/backend"
)

const engine = "sqlvec"

// Options selects the relational engine for a collection.
type Options struct {
	// SQLitePath is the database file; ":memory:" keeps it in memory.
	SQLitePath string
	// PostgresDSN, when set, takes precedence over SQLitePath.
	PostgresDSN string
}

// Store is a GORM-backed vector collection.
type Store struct {
	db        *gorm.DB
	dimension int
}

// New opens the collection, migrating the schema if needed.
func New(opts Options, dimension int) (*Store, error) {
	gormCfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	var db *gorm.DB
	var err error
	if opts.PostgresDSN != "" {
		db, err = gorm.Open(postgres.Open(opts.PostgresDSN), gormCfg)
	} else {
		path := opts.SQLitePath
		if path == "" {
			path = ":memory:"
		}
		db, err = gorm.Open(sqlite.Open(path), gormCfg)
	}
	if err != nil {
		return nil, backend.WrapErr(engine, "open", err)
	}
	if err := db.AutoMigrate(&record{}); err != nil {
		return nil, backend.WrapErr(engine, "migrate", err)
	}
	return &Store{db: db, dimension: dimension}, nil
}

func (s *Store) Insert(id, text string, embedding []float32, metadata map[string]any) error {
	if len(embedding) != s.dimension {
		return &backend.ValidationError{
			Field:   "embedding",
			Message: fmt.Sprintf("dimension %d does not match collection dimension %d", len(embedding), s.dimension),
		}
	}
	rec := toRecord(id, text, embedding, metadata)
	return backend.WrapErr(engine, "insert", s.db.Create(&rec).Error)
}

func (s *Store) Update(id string, text *string, embedding []float32, metadata map[string]any) error {
	var current record
	if err := s.db.First(&current, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backend.ErrNotFound
		}
		return backend.WrapErr(engine, "update", err)
	}

	next := current
	if text != nil {
		next.Text = *text
	}
	if embedding != nil {
		next.Vector = blobFromFloat32(embedding)
	}
	if metadata != nil {
		merged := toRecord(id, next.Text, nil, metadata)
		merged.Vector = next.Vector
		next = merged
	}
	return backend.WrapErr(engine, "update", s.db.Save(&next).Error)
}

func (s *Store) Delete(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return backend.WrapErr(engine, "delete", s.db.Delete(&record{}, "id IN ?", ids).Error)
}

func (s *Store) Query(embedding []float32, limit int, where backend.Where) ([]backend.Result, error) {
	return s.QueryHybrid(embedding, "", limit, where)
}

// QueryHybrid ranks filtered rows by cosine distance and, when queryText is
// non-empty, fuses in a lexical term-frequency ranking via RRF.
func (s *Store) QueryHybrid(embedding []float32, queryText string, limit int, where backend.Where) ([]backend.Result, error) {
	if limit <= 0 {
		return nil, nil
	}
	tx, clientSide, err := s.compile(where)
	if err != nil {
		return nil, err
	}

	var rows []record
	if err := tx.Find(&rows).Error; err != nil {
		return nil, backend.WrapErr(engine, "query", err)
	}

	type candidate struct {
		rec      record
		distance float64
	}
	candidates := make([]candidate, 0, len(rows))
	for _, row := range rows {
		meta := row.metadata()
		if len(clientSide) > 0 && !clientSide.Matches(meta) {
			continue
		}
		vec := float32FromBlob(row.Vector)
		candidates = append(candidates, candidate{
			rec:      row,
			distance: 1.0 - cosineSimilarity(embedding, vec),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].rec.ID < candidates[j].rec.ID
	})

	var fusedScores map[string]float64
	if queryText != "" {
		dense := make([]string, len(candidates))
		texts := make(map[string]string, len(candidates))
		byID := make(map[string]candidate, len(candidates))
		for i, c := range candidates {
			dense[i] = c.rec.ID
			texts[c.rec.ID] = c.rec.Text
			byID[c.rec.ID] = c
		}
		fused, scores := fuseRanks(dense, lexicalRank(queryText, texts))
		fusedScores = scores
		reordered := make([]candidate, 0, len(fused))
		for _, id := range fused {
			reordered = append(reordered, byID[id])
		}
		candidates = reordered
	}

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	out := make([]backend.Result, len(candidates))
	for i, c := range candidates {
		out[i] = backend.Result{
			ID:       c.rec.ID,
			Text:     c.rec.Text,
			Metadata: c.rec.metadata(),
			Distance: c.distance,
			Fused:    fusedScores[c.rec.ID],
		}
	}
	return out, nil
}

func (s *Store) Get(ids []string) ([]backend.Result, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var rows []record
	if err := s.db.Find(&rows, "id IN ?", ids).Error; err != nil {
		return nil, backend.WrapErr(engine, "get", err)
	}
	out := make([]backend.Result, len(rows))
	for i, row := range rows {
		out[i] = backend.Result{ID: row.ID, Text: row.Text, Metadata: row.metadata()}
	}
	return out, nil
}

func (s *Store) Scan(offset, limit int, where backend.Where) ([]backend.Result, int, error) {
	tx, clientSide, err := s.compile(where)
	if err != nil {
		return nil, 0, err
	}

	if len(clientSide) == 0 {
		var total int64
		if err := tx.Model(&record{}).Count(&total).Error; err != nil {
			return nil, 0, backend.WrapErr(engine, "scan", err)
		}
		var rows []record
		if err := tx.Order("created_at, id").Offset(offset).Limit(limit).Find(&rows).Error; err != nil {
			return nil, 0, backend.WrapErr(engine, "scan", err)
		}
		out := make([]backend.Result, len(rows))
		for i, row := range rows {
			out[i] = backend.Result{ID: row.ID, Text: row.Text, Metadata: row.metadata()}
		}
		return out, int(total), nil
	}

	// Clauses on open-map keys can't compile to SQL; scan and filter.
	var rows []record
	if err := tx.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, 0, backend.WrapErr(engine, "scan", err)
	}
	matched := make([]backend.Result, 0, len(rows))
	for _, row := range rows {
		meta := row.metadata()
		if !clientSide.Matches(meta) {
			continue
		}
		matched = append(matched, backend.Result{ID: row.ID, Text: row.Text, Metadata: meta})
	}
	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *Store) Count(where backend.Where) (int, error) {
	tx, clientSide, err := s.compile(where)
	if err != nil {
		return 0, err
	}
	if len(clientSide) == 0 {
		var total int64
		if err := tx.Model(&record{}).Count(&total).Error; err != nil {
			return 0, backend.WrapErr(engine, "count", err)
		}
		return int(total), nil
	}
	var rows []record
	if err := tx.Find(&rows).Error; err != nil {
		return 0, backend.WrapErr(engine, "count", err)
	}
	n := 0
	for _, row := range rows {
		if clientSide.Matches(row.metadata()) {
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return backend.WrapErr(engine, "close", err)
	}
	return sqlDB.Close()
}

// compile translates the filter into a GORM query. Clauses on keys without
// a dedicated column are returned for client-side evaluation.
func (s *Store) compile(where backend.Where) (*gorm.DB, backend.Where, error) {
	tx := s.db.Model(&record{})
	var clientSide backend.Where

	for key, clause := range where {
		if key == backend.KeyTags {
			if len(clause.ContainsAny) > 0 {
				group := s.db.Session(&gorm.Session{NewDB: true})
				for i, tag := range clause.ContainsAny {
					pattern := "%" + escapeLike(jsonQuoted(tag)) + "%"
					if i == 0 {
						group = group.Where(`tags_json LIKE ? ESCAPE '\'`, pattern)
					} else {
						group = group.Or(`tags_json LIKE ? ESCAPE '\'`, pattern)
					}
				}
				tx = tx.Where(group)
			}
			continue
		}
		col, ok := columnFor[key]
		if !ok {
			if clientSide == nil {
				clientSide = backend.Where{}
			}
			clientSide[key] = clause
			continue
		}
		if clause.Eq != nil {
			tx = tx.Where(col+" = ?", *clause.Eq)
		}
		if clause.Prefix != "" {
			tx = tx.Where(col+` LIKE ? ESCAPE '\'`, escapeLike(clause.Prefix)+"%")
		}
		if clause.Gt != "" {
			tx = tx.Where(col+" > ?", clause.Gt)
		}
		if clause.Lt != "" {
			tx = tx.Where(col+" < ?", clause.Lt)
		}
		if len(clause.ContainsAny) > 0 {
			tx = tx.Where(col+" IN ?", clause.ContainsAny)
		}
	}
	return tx, clientSide, nil
}

// jsonQuoted renders a tag the way it appears inside the tags JSON array.
func jsonQuoted(tag string) string {
	return `"` + tag + `"`
}

// escapeLike neutralizes LIKE wildcards. Every LIKE in this package pairs
// the result with an explicit ESCAPE '\' clause; SQLite has no default
// escape character.
func escapeLike(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r == '%' || r == '_' || r == '\\' {
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

func cosineSimilarity(a, b []float32) float64 {
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
