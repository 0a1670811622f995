// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package backend

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClauseEquality(t *testing.T) {
	where := Where{KeyChunkType: Eq("agent-memory")}

	assert.True(t, where.Matches(map[string]any{KeyChunkType: "agent-memory"}))
	assert.False(t, where.Matches(map[string]any{KeyChunkType: "file-indexed"}))
	assert.False(t, where.Matches(map[string]any{}))
}

func TestClauseEmptyStringEquality(t *testing.T) {
	// Filtering superseded_by == "" must match records that carry the
	// empty marker, not records missing the key entirely.
	where := Where{KeySupersededBy: Eq("")}

	assert.True(t, where.Matches(map[string]any{KeySupersededBy: ""}))
	assert.False(t, where.Matches(map[string]any{KeySupersededBy: "other-id"}))
}

func TestClausePrefix(t *testing.T) {
	where := Where{KeySource: {Prefix: "file:/docs/"}}

	assert.True(t, where.Matches(map[string]any{KeySource: "file:/docs/readme.md|intro"}))
	assert.False(t, where.Matches(map[string]any{KeySource: "conversation"}))
}

func TestClauseDateRange(t *testing.T) {
	where := Where{KeyCreatedAt: {Gt: "2026-01-01T00:00:00", Lt: "2026-06-30T23:59:59"}}

	assert.True(t, where.Matches(map[string]any{KeyCreatedAt: "2026-03-15T12:00:00Z"}))
	assert.False(t, where.Matches(map[string]any{KeyCreatedAt: "2025-12-31T23:59:59Z"}))
	assert.False(t, where.Matches(map[string]any{KeyCreatedAt: "2026-07-01T00:00:00Z"}))
}

func TestClauseContainsAny(t *testing.T) {
	where := Where{KeyTags: {ContainsAny: []string{"auth", "security"}}}

	assert.True(t, where.Matches(map[string]any{KeyTags: []string{"backend", "auth"}}))
	assert.False(t, where.Matches(map[string]any{KeyTags: []string{"frontend"}}))
	assert.False(t, where.Matches(map[string]any{KeyTags: []string{}}))
}

func TestWhereImplicitAnd(t *testing.T) {
	where := Where{
		KeyChunkType: Eq("agent-memory"),
		KeyTags:      {ContainsAny: []string{"auth"}},
	}
	meta := map[string]any{
		KeyChunkType: "agent-memory",
		KeyTags:      []string{"auth"},
	}
	assert.True(t, where.Matches(meta))

	meta[KeyChunkType] = "file-indexed"
	assert.False(t, where.Matches(meta))
}

func TestWhereSplit(t *testing.T) {
	where := Where{
		KeyChunkType: Eq("agent-memory"),
		KeySource:    {Prefix: "file:"},
	}
	// An engine that can only push equality keeps prefix client-side.
	native, client := where.Split(func(key string, c Clause) bool {
		return c.IsEqualityOnly()
	})

	assert.Len(t, native, 1)
	assert.Contains(t, native, KeyChunkType)
	assert.Len(t, client, 1)
	assert.Contains(t, client, KeySource)
}

func TestOverfetchLimit(t *testing.T) {
	assert.Equal(t, 15, OverfetchLimit(5))
	assert.Equal(t, OverfetchCap, OverfetchLimit(4000))
}
