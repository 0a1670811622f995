// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/annalhq/annal/internal/store"
)

// NewBrowseTool creates the annal_browse tool definition
func NewBrowseTool() mcp.Tool {
	return mcp.NewTool("annal_browse",
		mcp.WithDescription("Page through memories without ranking, ordered by creation time."),
		mcp.WithNumber("offset",
			mcp.Description("Records to skip"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Page size (default 20)"),
		),
		mcp.WithString("chunk_type",
			mcp.Description("agent-memory | file-indexed"),
		),
		mcp.WithString("source_prefix",
			mcp.Description("Restrict to sources starting with this prefix"),
		),
		mcp.WithArray("tags",
			mcp.Description("Restrict to memories carrying any of these exact tags"),
		),
		mcp.WithString("project",
			mcp.Description("Project to browse. Defaults to the caller's project."),
		),
	)
}

// BrowseHandler handles the annal_browse tool
func BrowseHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}
		memories, total, err := s.Browse(store.BrowseOptions{
			Offset:       int(request.GetFloat("offset", 0)),
			Limit:        int(request.GetFloat("limit", 20)),
			ChunkType:    request.GetString("chunk_type", ""),
			SourcePrefix: request.GetString("source_prefix", ""),
			Tags:         request.GetStringSlice("tags", nil),
		})
		if err != nil {
			return errResult(err)
		}
		return jsonResult(memories, map[string]any{
			"count":   len(memories),
			"total":   total,
			"project": project,
		})
	}
}

// NewListTopicsTool creates the annal_list_topics tool definition
func NewListTopicsTool() mcp.Tool {
	return mcp.NewTool("annal_list_topics",
		mcp.WithDescription("List every tag in use with its memory count."),
		mcp.WithString("project",
			mcp.Description("Project to inspect. Defaults to the caller's project."),
		),
	)
}

// ListTopicsHandler handles the annal_list_topics tool
func ListTopicsHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}
		topics, err := s.ListTopics()
		if err != nil {
			return errResult(err)
		}
		return jsonResult(topics, map[string]any{"count": len(topics), "project": project})
	}
}
