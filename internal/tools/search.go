// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/annalhq/annal/internal/store"
)

// NewSearchTool creates the annal_search tool definition
func NewSearchTool() mcp.Tool {
	return mcp.NewTool("annal_search",
		mcp.WithDescription("Semantic search over memories. Tag filters expand to semantically similar known tags. Date bounds accept ISO dates ('2026-08-01') or datetimes. Pass projects: [\"*\"] to search every project."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for"),
		),
		mcp.WithArray("tags",
			mcp.Description("Restrict to memories carrying any similar tag"),
		),
		mcp.WithString("after",
			mcp.Description("Only memories created after this ISO date"),
		),
		mcp.WithString("before",
			mcp.Description("Only memories created before this ISO date"),
		),
		mcp.WithString("source_prefix",
			mcp.Description("Restrict to sources starting with this prefix, e.g. 'file:'"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default 5)"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Drop results scoring below this. Ignored when tags are given."),
		),
		mcp.WithBoolean("include_superseded",
			mcp.Description("Include memories replaced by newer ones"),
		),
		mcp.WithArray("projects",
			mcp.Description("Additional projects to search, or [\"*\"] for all"),
		),
		mcp.WithObject("weights",
			mcp.Description("Per-project score multipliers for cross-project search, e.g. {\"api\": 2.0}. Overrides configured project weights."),
		),
		mcp.WithString("project",
			mcp.Description("Project to search. Defaults to the caller's project."),
		),
	)
}

func searchOptions(request mcp.CallToolRequest) store.SearchOptions {
	return store.SearchOptions{
		Tags:              request.GetStringSlice("tags", nil),
		After:             request.GetString("after", ""),
		Before:            request.GetString("before", ""),
		SourcePrefix:      request.GetString("source_prefix", ""),
		Limit:             int(request.GetFloat("limit", 0)),
		MinScore:          request.GetFloat("min_score", 0),
		IncludeSuperseded: request.GetBool("include_superseded", false),
	}
}

// weightArgs extracts the optional per-project weight map.
func weightArgs(request mcp.CallToolRequest) map[string]float64 {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil
	}
	raw, ok := args["weights"].(map[string]interface{})
	if !ok {
		return nil
	}
	weights := make(map[string]float64, len(raw))
	for project, v := range raw {
		if f, ok := v.(float64); ok {
			weights[project] = f
		}
	}
	return weights
}

// SearchHandler handles the annal_search tool
func SearchHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		opts := searchOptions(request)
		caller := tc.project(request)

		if projects := request.GetStringSlice("projects", nil); len(projects) > 0 {
			results, err := tc.Coordinator.SearchAcross(caller, query, projects, weightArgs(request), opts)
			if err != nil {
				return errResult(err)
			}
			return jsonResult(results, map[string]any{"count": len(results), "cross_project": true})
		}

		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}
		results, err := s.Search(query, opts)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(results, map[string]any{"count": len(results), "project": project})
	}
}

// NewGetTool creates the annal_get tool definition
func NewGetTool() mcp.Tool {
	return mcp.NewTool("annal_get",
		mcp.WithDescription("Fetch memories by id."),
		mcp.WithArray("ids",
			mcp.Required(),
			mcp.Description("Memory ids to fetch"),
		),
		mcp.WithString("project",
			mcp.Description("Project to read from. Defaults to the caller's project."),
		),
	)
}

// GetHandler handles the annal_get tool
func GetHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := request.GetStringSlice("ids", nil)
		if len(ids) == 0 {
			return mcp.NewToolResultError("ids is required"), nil
		}
		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}
		memories, err := s.GetByIDs(ids)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(memories, map[string]any{"count": len(memories), "project": project})
	}
}
