// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package indexer chunks source files and feeds them into a memory store
// as file-indexed records.
package indexer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/annalhq/annal/internal/store"
)

// Chunk is one indexable unit of a source file.
type Chunk struct {
	Heading string
	Content string
}

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// ChunkMarkdown splits markdown by heading boundaries. Each chunk's heading
// is the full heading path from the filename down; h1 headings reset the
// path rather than nesting.
func ChunkMarkdown(content, filename string) []Chunk {
	var chunks []Chunk
	var currentContent []string
	var headingStack []string
	var headingLevels []int
	currentHeading := filename
	lastHeadingText := ""

	flush := func() {
		text := strings.TrimSpace(strings.Join(currentContent, "\n"))
		if text != "" {
			chunks = append(chunks, Chunk{Heading: currentHeading, Content: text})
		} else if lastHeadingText != "" {
			// Heading-only section: the heading text is the content.
			chunks = append(chunks, Chunk{Heading: currentHeading, Content: lastHeadingText})
		}
		currentContent = nil
	}

	for _, line := range strings.Split(content, "\n") {
		match := headingRe.FindStringSubmatch(line)
		if match == nil {
			currentContent = append(currentContent, line)
			continue
		}
		flush()

		level := len(match[1])
		headingText := strings.TrimSpace(match[2])
		lastHeadingText = headingText

		for len(headingLevels) > 0 && headingLevels[len(headingLevels)-1] >= level {
			headingLevels = headingLevels[:len(headingLevels)-1]
			headingStack = headingStack[:len(headingStack)-1]
		}
		if level > 1 {
			headingStack = append(headingStack, headingText)
			headingLevels = append(headingLevels, level)
			currentHeading = filename + " > " + strings.Join(headingStack, " > ")
		} else {
			headingStack = headingStack[:0]
			headingLevels = headingLevels[:0]
			currentHeading = filename + " > " + headingText
		}
	}
	flush()
	return chunks
}

// ChunkConfigFile treats an entire config file as a single chunk.
func ChunkConfigFile(content, filename string) []Chunk {
	return []Chunk{{Heading: filename, Content: strings.TrimSpace(content)}}
}

// IndexFile chunks one file into the store, replacing any chunks previously
// derived from it. Returns the number of chunks stored.
func IndexFile(s *store.MemoryStore, filePath string, fileMtime float64) (int, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read %s: %w", filePath, err)
	}
	content := string(raw)
	if strings.TrimSpace(content) == "" {
		return 0, nil
	}

	if fileMtime == 0 {
		info, err := os.Stat(filePath)
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", filePath, err)
		}
		fileMtime = float64(info.ModTime().UnixNano()) / 1e9
	}

	// The trailing pipe closes the path component so "a.md" never wipes
	// chunks belonging to "a.md.bak".
	if _, err := s.DeleteBySourcePrefix("file:" + filePath + "|"); err != nil {
		return 0, err
	}

	name := filepath.Base(filePath)
	var chunks []Chunk
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".md":
		chunks = ChunkMarkdown(content, name)
	case ".json", ".yaml", ".yml", ".toml":
		chunks = ChunkConfigFile(content, name)
	default:
		chunks = []Chunk{{Heading: name, Content: content}}
	}

	tags := deriveTags(name)
	for _, chunk := range chunks {
		_, err := s.Store(store.StoreRequest{
			Content:   chunk.Content,
			Tags:      tags,
			Source:    fmt.Sprintf("file:%s|%s", filePath, chunk.Heading),
			ChunkType: store.ChunkFileIndexed,
			FileMtime: fileMtime,
		})
		if err != nil {
			return 0, err
		}
	}
	return len(chunks), nil
}

// deriveTags assigns automatic tags from the filename.
func deriveTags(name string) []string {
	tags := []string{"indexed"}
	lower := strings.ToLower(name)
	if strings.Contains(lower, "claude") || strings.Contains(lower, "agent") {
		tags = append(tags, "agent-config")
	}
	if strings.Contains(lower, "readme") {
		tags = append(tags, "docs")
	}
	return tags
}
