// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/annalhq/annal/internal/events"
)

// NewUpdateTool creates the annal_update tool definition
func NewUpdateTool() mcp.Tool {
	return mcp.NewTool("annal_update",
		mcp.WithDescription("Edit an existing memory in place. Changed content is re-embedded."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory id"),
		),
		mcp.WithString("content",
			mcp.Description("New content"),
		),
		mcp.WithArray("tags",
			mcp.Description("Replacement tag list"),
		),
		mcp.WithString("source",
			mcp.Description("New source"),
		),
		mcp.WithString("project",
			mcp.Description("Project to edit. Defaults to the caller's project."),
		),
	)
}

// UpdateHandler handles the annal_update tool
func UpdateHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}

		var content, source *string
		if v := request.GetString("content", ""); v != "" {
			content = &v
		}
		if v := request.GetString("source", ""); v != "" {
			source = &v
		}
		if err := s.Update(id, content, request.GetStringSlice("tags", nil), source); err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"id": id, "updated": true}, map[string]any{"project": project})
	}
}

// NewRetagTool creates the annal_retag tool definition
func NewRetagTool() mcp.Tool {
	return mcp.NewTool("annal_retag",
		mcp.WithDescription("Adjust a memory's tags. Pass add_tags/remove_tags to edit incrementally, or set_tags to replace the list. The two modes are exclusive."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Memory id"),
		),
		mcp.WithArray("add_tags",
			mcp.Description("Tags to add"),
		),
		mcp.WithArray("remove_tags",
			mcp.Description("Tags to remove"),
		),
		mcp.WithArray("set_tags",
			mcp.Description("Replace all tags with this list"),
		),
		mcp.WithString("project",
			mcp.Description("Project to edit. Defaults to the caller's project."),
		),
	)
}

// RetagHandler handles the annal_retag tool
func RetagHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}
		tags, err := s.Retag(id,
			request.GetStringSlice("add_tags", nil),
			request.GetStringSlice("remove_tags", nil),
			request.GetStringSlice("set_tags", nil),
		)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(map[string]any{"id": id, "tags": tags}, map[string]any{"project": project})
	}
}

// NewDeleteTool creates the annal_delete tool definition
func NewDeleteTool() mcp.Tool {
	return mcp.NewTool("annal_delete",
		mcp.WithDescription("Delete memories by id, by exact tags, or by source prefix. Exactly one selector is required."),
		mcp.WithArray("ids",
			mcp.Description("Memory ids to delete"),
		),
		mcp.WithArray("tags",
			mcp.Description("Delete every memory carrying any of these exact tags"),
		),
		mcp.WithString("source_prefix",
			mcp.Description("Delete every memory whose source starts with this prefix"),
		),
		mcp.WithString("project",
			mcp.Description("Project to delete from. Defaults to the caller's project."),
		),
	)
}

// DeleteHandler handles the annal_delete tool
func DeleteHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := request.GetStringSlice("ids", nil)
		tags := request.GetStringSlice("tags", nil)
		sourcePrefix := request.GetString("source_prefix", "")

		selectors := 0
		for _, set := range []bool{len(ids) > 0, len(tags) > 0, sourcePrefix != ""} {
			if set {
				selectors++
			}
		}
		if selectors != 1 {
			return mcp.NewToolResultError("exactly one of ids, tags, source_prefix is required"), nil
		}

		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}

		var deleted int
		switch {
		case len(ids) > 0:
			if err := s.DeleteMany(ids); err != nil {
				return errResult(err)
			}
			deleted = len(ids)
		case len(tags) > 0:
			deleted, err = s.DeleteByTags(tags)
		default:
			deleted, err = s.DeleteBySourcePrefix(sourcePrefix)
		}
		if err != nil {
			return errResult(err)
		}

		tc.Bus.Push(events.Event{Type: events.TypeMemoryDeleted, Project: project})
		return jsonResult(map[string]any{"deleted": deleted}, map[string]any{"project": project})
	}
}
