// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sqlvec

import (
	"encoding/binary"
	"encoding/json"
	"math"

	"github.com/annalhq/annal/internal/backend"
)

// record is the relational shape of a memory. Timestamps are ISO-8601
// strings so range filters compare correctly in SQL and in Go.
type record struct {
	ID             string `gorm:"primaryKey"`
	Text           string
	Vector         []byte `gorm:"type:blob"`
	TagsJSON       string
	Source         string `gorm:"index"`
	ChunkType      string `gorm:"index"`
	CreatedAt      string `gorm:"index"`
	UpdatedAt      string
	LastAccessedAt string
	HitCount       int
	Priority       string
	SupersededBy   string
	FileMtime      float64
	ExtraJSON      string
}

func (record) TableName() string { return "memories" }

// columnFor maps grammar keys to the columns the filter compiles against.
// Keys outside this map live in ExtraJSON and are filtered client-side.
var columnFor = map[string]string{
	backend.KeySource:         "source",
	backend.KeyChunkType:      "chunk_type",
	backend.KeyCreatedAt:      "created_at",
	backend.KeyUpdatedAt:      "updated_at",
	backend.KeyLastAccessedAt: "last_accessed_at",
	backend.KeyPriority:       "priority",
	backend.KeySupersededBy:   "superseded_by",
}

func toRecord(id, text string, embedding []float32, meta map[string]any) record {
	r := record{ID: id, Text: text, Vector: blobFromFloat32(embedding)}
	extra := map[string]any{}
	for key, value := range meta {
		switch key {
		case backend.KeyTags:
			tags, _ := value.([]string)
			b, _ := json.Marshal(tags)
			r.TagsJSON = string(b)
		case backend.KeySource:
			r.Source, _ = value.(string)
		case backend.KeyChunkType:
			r.ChunkType, _ = value.(string)
		case backend.KeyCreatedAt:
			r.CreatedAt, _ = value.(string)
		case backend.KeyUpdatedAt:
			r.UpdatedAt, _ = value.(string)
		case backend.KeyLastAccessedAt:
			r.LastAccessedAt, _ = value.(string)
		case backend.KeyHitCount:
			r.HitCount = toInt(value)
		case backend.KeyPriority:
			r.Priority, _ = value.(string)
		case backend.KeySupersededBy:
			r.SupersededBy, _ = value.(string)
		case backend.KeyFileMtime:
			r.FileMtime = toFloat(value)
		default:
			extra[key] = value
		}
	}
	if len(extra) > 0 {
		b, _ := json.Marshal(extra)
		r.ExtraJSON = string(b)
	}
	return r
}

func (r record) metadata() map[string]any {
	var tags []string
	if r.TagsJSON != "" {
		_ = json.Unmarshal([]byte(r.TagsJSON), &tags)
	}
	meta := map[string]any{
		backend.KeyTags:           tags,
		backend.KeySource:         r.Source,
		backend.KeyChunkType:      r.ChunkType,
		backend.KeyCreatedAt:      r.CreatedAt,
		backend.KeyUpdatedAt:      r.UpdatedAt,
		backend.KeyLastAccessedAt: r.LastAccessedAt,
		backend.KeyHitCount:       r.HitCount,
		backend.KeyPriority:       r.Priority,
		backend.KeySupersededBy:   r.SupersededBy,
	}
	if r.FileMtime != 0 {
		meta[backend.KeyFileMtime] = r.FileMtime
	}
	if r.ExtraJSON != "" {
		var extra map[string]any
		if err := json.Unmarshal([]byte(r.ExtraJSON), &extra); err == nil {
			for k, v := range extra {
				meta[k] = v
			}
		}
	}
	return meta
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// blobFromFloat32 packs a vector into a little-endian blob.
func blobFromFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// float32FromBlob unpacks a little-endian blob into a vector.
func float32FromBlob(b []byte) []float32 {
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
