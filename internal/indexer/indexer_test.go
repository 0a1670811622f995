// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package indexer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/annalhq/annal/internal/backend/chromem"
	"github.com/annalhq/annal/internal/config"
	"github.com/annalhq/annal/internal/embedder"
	"github.com/annalhq/annal/internal/store"
)

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	b, err := chromem.New("", "files", 16)
	require.NoError(t, err)
	return store.New(b, embedder.NewHashWithDimension(16), config.Thresholds{
		Dedup:     0.95,
		SoftDedup: 0.80,
		FuzzyTag:  0.72,
	})
}

func TestChunkMarkdownHeadingPaths(t *testing.T) {
	content := `intro text

# Setup

install steps

## Linux

apt instructions

## Mac

brew instructions

# Usage

run the binary
`
	chunks := ChunkMarkdown(content, "guide.md")
	require.Len(t, chunks, 5)

	assert.Equal(t, "guide.md", chunks[0].Heading)
	assert.Equal(t, "intro text", chunks[0].Content)

	assert.Equal(t, "guide.md > Setup", chunks[1].Heading)
	assert.Equal(t, "install steps", chunks[1].Content)

	assert.Equal(t, "guide.md > Setup > Linux", chunks[2].Heading)
	assert.Equal(t, "guide.md > Setup > Mac", chunks[3].Heading)

	// A fresh h1 resets the path instead of nesting under Setup.
	assert.Equal(t, "guide.md > Usage", chunks[4].Heading)
	assert.Equal(t, "run the binary", chunks[4].Content)
}

func TestChunkMarkdownDeepNestingPopsSiblings(t *testing.T) {
	content := `## A

one

### A1

two

## B

three
`
	chunks := ChunkMarkdown(content, "notes.md")
	require.Len(t, chunks, 3)
	assert.Equal(t, "notes.md > A", chunks[0].Heading)
	assert.Equal(t, "notes.md > A > A1", chunks[1].Heading)
	assert.Equal(t, "notes.md > B", chunks[2].Heading)
}

func TestChunkMarkdownHeadingOnlySection(t *testing.T) {
	content := `# Roadmap

# Done
`
	chunks := ChunkMarkdown(content, "plan.md")
	require.Len(t, chunks, 2)
	assert.Equal(t, "plan.md > Roadmap", chunks[0].Heading)
	assert.Equal(t, "Roadmap", chunks[0].Content)
	assert.Equal(t, "plan.md > Done", chunks[1].Heading)
	assert.Equal(t, "Done", chunks[1].Content)
}

func TestChunkMarkdownEmpty(t *testing.T) {
	assert.Empty(t, ChunkMarkdown("", "empty.md"))
	assert.Empty(t, ChunkMarkdown("\n\n  \n", "blank.md"))
}

func TestChunkConfigFile(t *testing.T) {
	chunks := ChunkConfigFile("  key: value\n", "app.yaml")
	require.Len(t, chunks, 1)
	assert.Equal(t, "app.yaml", chunks[0].Heading)
	assert.Equal(t, "key: value", chunks[0].Content)
}

func TestIndexFileMarkdown(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(path, []byte("# Overview\n\nwhat this does\n"), 0o644))

	n, err := IndexFile(s, path, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, _, err := s.Browse(store.BrowseOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	m := results[0]
	assert.Equal(t, "file:"+path+"|README.md > Overview", m.Source)
	assert.Equal(t, store.ChunkFileIndexed, m.ChunkType)
	assert.Contains(t, m.Tags, "indexed")
	assert.Contains(t, m.Tags, "docs")
	assert.Greater(t, m.FileMtime, 0.0)
}

func TestIndexFileReplacesPriorChunks(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.md")

	require.NoError(t, os.WriteFile(path, []byte("# One\n\na\n\n# Two\n\nb\n"), 0o644))
	n, err := IndexFile(s, path, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, os.WriteFile(path, []byte("# One\n\nrewritten\n"), 0o644))
	n, err = IndexFile(s, path, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, _, err := s.Browse(store.BrowseOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "rewritten", results[0].Content)
}

func TestIndexFileLeavesSiblingWithExtendedPath(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "a.md")
	backup := path + ".bak"
	require.NoError(t, os.WriteFile(path, []byte("# A\n\ncurrent\n"), 0o644))
	require.NoError(t, os.WriteFile(backup, []byte("previous draft\n"), 0o644))

	_, err := IndexFile(s, backup, 0)
	require.NoError(t, err)
	_, err = IndexFile(s, path, 0)
	require.NoError(t, err)

	// Reindexing a.md must not wipe a.md.bak's chunks.
	_, err = IndexFile(s, path, 0)
	require.NoError(t, err)

	results, _, err := s.Browse(store.BrowseOptions{Limit: 10, SourcePrefix: "file:" + backup})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "previous draft", results[0].Content)
}

func TestIndexFileConfigAndUnknownExtensions(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "claude.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("model: opus\ntools: []\n"), 0o644))
	n, err := IndexFile(s, yamlPath, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	txtPath := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("plain notes\n"), 0o644))
	n, err = IndexFile(s, txtPath, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, _, err := s.Browse(store.BrowseOptions{Limit: 10, SourcePrefix: "file:" + yamlPath})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Tags, "agent-config")
}

func TestIndexFileMissingAndEmpty(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()

	n, err := IndexFile(s, filepath.Join(dir, "gone.md"), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	empty := filepath.Join(dir, "empty.md")
	require.NoError(t, os.WriteFile(empty, []byte("   \n"), 0o644))
	n, err = IndexFile(s, empty, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestIndexFileExplicitMtime(t *testing.T) {
	s := newTestStore(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "pinned.md")
	require.NoError(t, os.WriteFile(path, []byte("content\n"), 0o644))

	_, err := IndexFile(s, path, 42.5)
	require.NoError(t, err)

	mtimes, err := s.FileMtimes()
	require.NoError(t, err)
	assert.Equal(t, 42.5, mtimes["file:"+path])
}
