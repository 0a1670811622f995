// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annalhq/annal/internal/backend"
	"github.com/annalhq/annal/internal/backend/chromem"
	"github.com/annalhq/annal/internal/config"
)

const testDim = 8

// stubEmbedder hands out fixed vectors for texts the test registers and a
// fresh orthogonal axis for everything else, so similarity between any two
// texts is exactly what the test arranged.
type stubEmbedder struct {
	vecs map[string][]float32
	next int
}

func newStubEmbedder() *stubEmbedder {
	return &stubEmbedder{vecs: map[string][]float32{}}
}

func (e *stubEmbedder) set(text string, vec []float32) {
	e.vecs[text] = vec
}

func axis(i int) []float32 {
	v := make([]float32, testDim)
	v[i%testDim] = 1
	return v
}

func (e *stubEmbedder) Dimension() int { return testDim }

func (e *stubEmbedder) Embed(text string) ([]float32, error) {
	if v, ok := e.vecs[text]; ok {
		return v, nil
	}
	v := axis(e.next)
	e.next++
	e.vecs[text] = v
	return v, nil
}

func (e *stubEmbedder) EmbedBatch(texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := e.Embed(text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func testThresholds() config.Thresholds {
	return config.Thresholds{Dedup: 0.95, SoftDedup: 0.80, FuzzyTag: 0.72, DedupCandidates: 5}
}

func newTestStore(t *testing.T) (*MemoryStore, *stubEmbedder) {
	t.Helper()
	b, err := chromem.New("", "test", testDim)
	require.NoError(t, err)
	emb := newStubEmbedder()
	s := New(b, emb, testThresholds())
	t.Cleanup(func() { _ = s.Close() })
	return s, emb
}

func TestStoreAndGet(t *testing.T) {
	s, _ := newTestStore(t)

	result, err := s.Store(StoreRequest{
		Content: "we decided on postgres",
		Tags:    []string{"decision", "db", "decision"},
		Source:  "conversation",
	})
	require.NoError(t, err)
	assert.False(t, result.Deduplicated)
	require.NotEmpty(t, result.ID)

	memories, err := s.GetByIDs([]string{result.ID})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	m := memories[0]
	assert.Equal(t, "we decided on postgres", m.Content)
	assert.Equal(t, []string{"decision", "db"}, m.Tags, "duplicate tags collapse")
	assert.Equal(t, ChunkAgentMemory, m.ChunkType)
	assert.Equal(t, PriorityNormal, m.Priority)
	assert.NotEmpty(t, m.CreatedAt)
	assert.Zero(t, m.HitCount)
}

func TestHardDedupReturnsExistingID(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.Store(StoreRequest{Content: "identical note"})
	require.NoError(t, err)

	second, err := s.Store(StoreRequest{Content: "identical note"})
	require.NoError(t, err)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.ID, second.ID)

	total, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestSoftDedupAttachesHints(t *testing.T) {
	s, emb := newTestStore(t)
	emb.set("original phrasing", []float32{1, 0, 0, 0, 0, 0, 0, 0})
	emb.set("similar phrasing", []float32{0.9, 0.43589, 0, 0, 0, 0, 0, 0})

	first, err := s.Store(StoreRequest{Content: "original phrasing"})
	require.NoError(t, err)

	second, err := s.Store(StoreRequest{Content: "similar phrasing"})
	require.NoError(t, err)
	assert.False(t, second.Deduplicated)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Contains(t, second.PossibleDuplicates, first.ID)

	total, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, total)
}

func TestDedupScopedToChunkType(t *testing.T) {
	s, _ := newTestStore(t)

	agent, err := s.Store(StoreRequest{Content: "shared text", ChunkType: ChunkAgentMemory})
	require.NoError(t, err)

	file, err := s.Store(StoreRequest{Content: "shared text", ChunkType: ChunkFileIndexed, FileMtime: 1})
	require.NoError(t, err)
	assert.False(t, file.Deduplicated, "identical content in another chunk type is not a duplicate")
	assert.NotEqual(t, agent.ID, file.ID)
}

func TestSupersedeHidesOldRecord(t *testing.T) {
	s, _ := newTestStore(t)

	old, err := s.Store(StoreRequest{Content: "use API v1"})
	require.NoError(t, err)
	replacement, err := s.Store(StoreRequest{Content: "use API v2", Supersedes: old.ID})
	require.NoError(t, err)

	memories, err := s.GetByIDs([]string{old.ID})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, replacement.ID, memories[0].SupersededBy)

	results, err := s.Search("use API v1", SearchOptions{Limit: 10})
	require.NoError(t, err)
	for _, m := range results {
		assert.NotEqual(t, old.ID, m.ID, "superseded record leaked into default search")
	}

	results, err = s.Search("use API v1", SearchOptions{Limit: 10, IncludeSuperseded: true})
	require.NoError(t, err)
	ids := make([]string, len(results))
	for i, m := range results {
		ids[i] = m.ID
	}
	assert.Contains(t, ids, old.ID)
}

func TestSupersedeDanglingIDTolerated(t *testing.T) {
	s, _ := newTestStore(t)

	result, err := s.Store(StoreRequest{Content: "replacement", Supersedes: "no-such-id"})
	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
}

func TestUpdateReembedsContent(t *testing.T) {
	s, _ := newTestStore(t)

	result, err := s.Store(StoreRequest{Content: "old topic"})
	require.NoError(t, err)

	newContent := "entirely new topic"
	require.NoError(t, s.Update(result.ID, &newContent, nil, nil))

	results, err := s.Search("entirely new topic", SearchOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, result.ID, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	assert.NotEmpty(t, results[0].UpdatedAt)
}

func TestRetagModesAreExclusive(t *testing.T) {
	s, _ := newTestStore(t)
	result, err := s.Store(StoreRequest{Content: "a note", Tags: []string{"one"}})
	require.NoError(t, err)

	_, err = s.Retag(result.ID, []string{"two"}, nil, []string{"three"})
	require.Error(t, err)
	assert.True(t, backend.IsValidation(err))

	_, err = s.Retag(result.ID, nil, nil, nil)
	require.Error(t, err)
	assert.True(t, backend.IsValidation(err))
}

func TestRetagAddRemoveAndSet(t *testing.T) {
	s, _ := newTestStore(t)
	result, err := s.Store(StoreRequest{Content: "a note", Tags: []string{"one", "two"}})
	require.NoError(t, err)

	tags, err := s.Retag(result.ID, []string{"three", "one"}, []string{"two"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "three"}, tags)

	tags, err = s.Retag(result.ID, nil, nil, []string{"fresh"})
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, tags)

	memories, err := s.GetByIDs([]string{result.ID})
	require.NoError(t, err)
	require.Len(t, memories, 1)
	assert.Equal(t, []string{"fresh"}, memories[0].Tags)
}

func TestDeleteByTagsIsExact(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Store(StoreRequest{Content: "auth note", Tags: []string{"authentication"}})
	require.NoError(t, err)

	deleted, err := s.DeleteByTags([]string{"auth"})
	require.NoError(t, err)
	assert.Zero(t, deleted, "delete must not fuzzy-expand tags")

	deleted, err = s.DeleteByTags([]string{"authentication"})
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
}

func TestDeleteBySourcePrefix(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Store(StoreRequest{Content: "chunk one", Source: "file:/docs/a.md|intro", ChunkType: ChunkFileIndexed, FileMtime: 1})
	require.NoError(t, err)
	_, err = s.Store(StoreRequest{Content: "chunk two", Source: "file:/docs/a.md|usage", ChunkType: ChunkFileIndexed, FileMtime: 1})
	require.NoError(t, err)
	keep, err := s.Store(StoreRequest{Content: "unrelated", Source: "conversation"})
	require.NoError(t, err)

	deleted, err := s.DeleteBySourcePrefix("file:/docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	memories, err := s.GetByIDs([]string{keep.ID})
	require.NoError(t, err)
	assert.Len(t, memories, 1)
}

func TestFileMtimes(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Store(StoreRequest{Content: "chunk one", Source: "file:/docs/a.md|intro", ChunkType: ChunkFileIndexed, FileMtime: 42.5})
	require.NoError(t, err)
	_, err = s.Store(StoreRequest{Content: "a memory", Source: "conversation"})
	require.NoError(t, err)

	mtimes, err := s.FileMtimes()
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"file:/docs/a.md": 42.5}, mtimes)
}
