// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/annalhq/annal/internal/events"
	"github.com/annalhq/annal/internal/store"
)

// NewStoreTool creates the annal_store tool definition
func NewStoreTool() mcp.Tool {
	return mcp.NewTool("annal_store",
		mcp.WithDescription("Store a memory. Near-identical content is rejected and the existing memory's id returned instead. If this replaces an older memory, pass 'supersedes' to link them."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The information to remember"),
		),
		mcp.WithArray("tags",
			mcp.Description("Labels for retrieval, e.g. [\"decision\", \"auth\"]"),
		),
		mcp.WithString("source",
			mcp.Description("Where this came from, e.g. 'conversation' or a file path"),
		),
		mcp.WithString("supersedes",
			mcp.Description("Id of an older memory this one replaces. The old memory is kept but hidden from default search."),
		),
		mcp.WithString("priority",
			mcp.Description("normal | important | critical"),
		),
		mcp.WithString("project",
			mcp.Description("Project to store into. Defaults to the caller's project."),
		),
	)
}

// StoreHandler handles the annal_store tool
func StoreHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}

		result, err := s.Store(store.StoreRequest{
			Content:    content,
			Tags:       request.GetStringSlice("tags", nil),
			Source:     request.GetString("source", "conversation"),
			ChunkType:  store.ChunkAgentMemory,
			Supersedes: request.GetString("supersedes", ""),
			Priority:   request.GetString("priority", store.PriorityNormal),
		})
		if err != nil {
			return errResult(err)
		}

		if !result.Deduplicated {
			tc.Bus.Push(events.Event{Type: events.TypeMemoryStored, Project: project, Detail: result.ID})
		}
		meta := map[string]any{"project": project, "deduplicated": result.Deduplicated}
		if len(result.PossibleDuplicates) > 0 {
			meta["possible_duplicates"] = result.PossibleDuplicates
		}
		return jsonResult(map[string]any{"id": result.ID}, meta)
	}
}
