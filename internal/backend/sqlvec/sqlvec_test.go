// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package sqlvec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annalhq/annal/internal/backend"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Options{}, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func meta(chunkType, createdAt string, tags ...string) map[string]any {
	return map[string]any{
		backend.KeyTags:         tags,
		backend.KeySource:       "conversation",
		backend.KeyChunkType:    chunkType,
		backend.KeyCreatedAt:    createdAt,
		backend.KeySupersededBy: "",
		backend.KeyHitCount:     0,
	}
}

func vec(x, y float32) []float32 { return []float32{x, y, 0, 0} }

func TestInsertAndGet(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Insert("a", "hello", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z", "greeting")))

	got, err := s.Get([]string{"a", "missing"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "hello", got[0].Text)
	assert.Equal(t, []string{"greeting"}, got[0].Metadata[backend.KeyTags])
}

func TestInsertRejectsWrongDimension(t *testing.T) {
	s := newTestStore(t)

	err := s.Insert("a", "hello", []float32{1}, meta("agent-memory", "2026-01-01T00:00:00Z"))
	require.Error(t, err)
	assert.True(t, backend.IsValidation(err))
}

func TestVectorBlobRoundTrip(t *testing.T) {
	in := []float32{0.5, -1.25, 3, 0}
	out := float32FromBlob(blobFromFloat32(in))
	assert.Equal(t, in, out)
}

func TestQueryRanksByCosine(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("near", "close match", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z")))
	require.NoError(t, s.Insert("far", "unrelated", vec(0, 1), meta("agent-memory", "2026-01-02T00:00:00Z")))

	results, err := s.Query(vec(1, 0), 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0].ID)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.InDelta(t, 1, results[1].Distance, 1e-6)
}

func TestQueryTagFilterCompilesToSQL(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("auth", "token rotation", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z", "auth", "backend")))
	require.NoError(t, s.Insert("ui", "button styles", vec(0.9, 0.1), meta("agent-memory", "2026-01-02T00:00:00Z", "frontend")))

	results, err := s.Query(vec(1, 0), 5, backend.Where{
		backend.KeyTags: {ContainsAny: []string{"auth", "security"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "auth", results[0].ID)
}

func TestQueryDateRange(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("old", "january note", vec(1, 0), meta("agent-memory", "2026-01-15T00:00:00Z")))
	require.NoError(t, s.Insert("new", "july note", vec(1, 0), meta("agent-memory", "2026-07-15T00:00:00Z")))

	results, err := s.Query(vec(1, 0), 5, backend.Where{
		backend.KeyCreatedAt: {Gt: "2026-06-01T00:00:00", Lt: "2026-12-31T23:59:59"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new", results[0].ID)
}

func TestQuerySourcePrefix(t *testing.T) {
	s := newTestStore(t)
	fileMeta := meta("file-indexed", "2026-01-01T00:00:00Z")
	fileMeta[backend.KeySource] = "file:/docs/readme.md|intro"
	require.NoError(t, s.Insert("chunk", "project overview", vec(1, 0), fileMeta))
	require.NoError(t, s.Insert("memory", "a conversation note", vec(1, 0), meta("agent-memory", "2026-01-02T00:00:00Z")))

	results, err := s.Query(vec(1, 0), 5, backend.Where{
		backend.KeySource: {Prefix: "file:/docs/"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk", results[0].ID)
}

func TestQuerySourcePrefixWithUnderscore(t *testing.T) {
	s := newTestStore(t)
	fileMeta := meta("file-indexed", "2026-01-01T00:00:00Z")
	fileMeta[backend.KeySource] = "file:/docs/my_notes.md|intro"
	require.NoError(t, s.Insert("chunk", "meeting notes", vec(1, 0), fileMeta))
	decoyMeta := meta("file-indexed", "2026-01-02T00:00:00Z")
	decoyMeta[backend.KeySource] = "file:/docs/myxnotes.md|intro"
	require.NoError(t, s.Insert("decoy", "other notes", vec(1, 0), decoyMeta))

	results, err := s.Query(vec(1, 0), 5, backend.Where{
		backend.KeySource: {Prefix: "file:/docs/my_notes"},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk", results[0].ID)
}

func TestQueryTagWithLikeWildcards(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("exact", "tagged record", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z", "my_tag")))
	require.NoError(t, s.Insert("near", "lookalike tag", vec(1, 0), meta("agent-memory", "2026-01-02T00:00:00Z", "myxtag")))

	results, err := s.Query(vec(1, 0), 5, backend.Where{
		backend.KeyTags: {ContainsAny: []string{"my_tag"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "exact", results[0].ID)

	results, err = s.Query(vec(1, 0), 5, backend.Where{
		backend.KeyTags: {ContainsAny: []string{"100%"}},
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQueryHybridBoostsLexicalMatch(t *testing.T) {
	s := newTestStore(t)
	// Both records are equidistant from the query vector; the lexical leg
	// breaks the tie toward the record containing the query terms.
	require.NoError(t, s.Insert("lexical", "postgres connection pooling guide", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z")))
	require.NoError(t, s.Insert("plain", "weekly planning notes", vec(1, 0), meta("agent-memory", "2026-01-02T00:00:00Z")))

	results, err := s.QueryHybrid(vec(1, 0), "postgres pooling", 2, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "lexical", results[0].ID)
	assert.Greater(t, results[0].Fused, results[1].Fused)
}

func TestUpdateReplacesMetadata(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("a", "before", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z", "draft")))

	updated := meta("agent-memory", "2026-01-01T00:00:00Z", "final")
	updated[backend.KeyHitCount] = 2
	text := "after"
	require.NoError(t, s.Update("a", &text, nil, updated))

	got, err := s.Get([]string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "after", got[0].Text)
	assert.Equal(t, []string{"final"}, got[0].Metadata[backend.KeyTags])
	assert.Equal(t, 2, got[0].Metadata[backend.KeyHitCount])
}

func TestUpdateMissingID(t *testing.T) {
	s := newTestStore(t)
	err := s.Update("ghost", nil, nil, map[string]any{backend.KeyHitCount: 1})
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestUpdateKeepsVectorWhenNil(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("a", "original", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z")))

	require.NoError(t, s.Update("a", nil, nil, meta("agent-memory", "2026-01-01T00:00:00Z", "retagged")))

	results, err := s.Query(vec(1, 0), 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
}

func TestDeleteIgnoresUnknownIDs(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("a", "x", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z")))

	require.NoError(t, s.Delete([]string{"a", "ghost"}))

	n, err := s.Count(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScanPagination(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("b", "second", vec(0, 1), meta("agent-memory", "2026-01-02T00:00:00Z")))
	require.NoError(t, s.Insert("a", "first", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z")))
	require.NoError(t, s.Insert("c", "third", vec(1, 1), meta("file-indexed", "2026-01-03T00:00:00Z")))

	page, total, err := s.Scan(0, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].ID)
	assert.Equal(t, "b", page[1].ID)

	page, total, err = s.Scan(2, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].ID)
}

func TestScanTagFilterCountsMatchesOnly(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Insert("a", "x", vec(1, 0), meta("agent-memory", "2026-01-01T00:00:00Z", "keep")))
	require.NoError(t, s.Insert("b", "y", vec(0, 1), meta("agent-memory", "2026-01-02T00:00:00Z", "drop")))

	page, total, err := s.Scan(0, 10, backend.Where{backend.KeyTags: {ContainsAny: []string{"keep"}}})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestExtraMetadataRoundTrip(t *testing.T) {
	s := newTestStore(t)
	m := meta("agent-memory", "2026-01-01T00:00:00Z")
	m["custom_key"] = "custom value"
	require.NoError(t, s.Insert("a", "x", vec(1, 0), m))

	got, err := s.Get([]string{"a"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "custom value", got[0].Metadata["custom_key"])

	// Unknown keys can't compile to SQL; they filter client-side.
	n, err := s.Count(backend.Where{"custom_key": backend.Eq("custom value")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
