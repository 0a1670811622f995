// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/annalhq/annal/internal/config"
)

// NewInitProjectTool creates the annal_init_project tool definition
func NewInitProjectTool() mcp.Tool {
	return mcp.NewTool("annal_init_project",
		mcp.WithDescription("Register a project with the paths to index and start its first index pass in the background."),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project name"),
		),
		mcp.WithArray("watch_paths",
			mcp.Description("Directories to index"),
		),
		mcp.WithArray("watch_patterns",
			mcp.Description("Glob patterns to include (default markdown and config files)"),
		),
		mcp.WithArray("watch_exclude",
			mcp.Description("Glob patterns to skip"),
		),
		mcp.WithBoolean("watch",
			mcp.Description("Keep watching the paths for live changes"),
		),
	)
}

// InitProjectHandler handles the annal_init_project tool
func InitProjectHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		project, err := request.RequireString("project")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		cfg := tc.Pool.Config()
		proj := cfg.Projects[project]
		if paths := request.GetStringSlice("watch_paths", nil); len(paths) > 0 {
			proj.WatchPaths = paths
		}
		if patterns := request.GetStringSlice("watch_patterns", nil); len(patterns) > 0 {
			proj.WatchPatterns = patterns
		}
		if exclude := request.GetStringSlice("watch_exclude", nil); len(exclude) > 0 {
			proj.WatchExclude = exclude
		}
		proj.Watch = request.GetBool("watch", proj.Watch)
		if cfg.Projects == nil {
			cfg.Projects = map[string]config.ProjectConfig{}
		}
		cfg.Projects[project] = proj
		if err := cfg.Save(); err != nil {
			return errResult(err)
		}

		// Opens the store so the project exists even with no watch paths.
		if _, err := tc.Pool.Get(project); err != nil {
			return errResult(err)
		}
		if len(proj.WatchPaths) > 0 {
			tc.Pool.ReconcileAsync(project)
		}
		return jsonResult(map[string]any{"project": project, "indexing": len(proj.WatchPaths) > 0}, nil)
	}
}

// NewReindexTool creates the annal_reindex tool definition
func NewReindexTool() mcp.Tool {
	return mcp.NewTool("annal_reindex",
		mcp.WithDescription("Start a background index pass over a project's watch paths. Unchanged files are skipped by mtime."),
		mcp.WithString("project",
			mcp.Description("Project to reindex. Defaults to the caller's project."),
		),
	)
}

// ReindexHandler handles the annal_reindex tool
func ReindexHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		project := tc.project(request)
		if !tc.Pool.Config().HasProject(project) {
			return mcp.NewToolResultError("unknown project: " + project), nil
		}
		tc.Pool.ReconcileAsync(project)
		return jsonResult(map[string]any{"project": project, "indexing": true}, nil)
	}
}

// NewStatusTool creates the annal_status tool definition
func NewStatusTool() mcp.Tool {
	return mcp.NewTool("annal_status",
		mcp.WithDescription("Report per-project indexing state: whether a pass is running and the last outcome."),
	)
}

// StatusHandler handles the annal_status tool
func StatusHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		status := tc.Pool.Status()
		return jsonResult(status, map[string]any{
			"projects":    tc.Pool.Config().ProjectNames(),
			"open_stores": tc.Pool.Projects(),
		})
	}
}

// NewEventsTool creates the annal_events tool definition
func NewEventsTool() mcp.Tool {
	return mcp.NewTool("annal_events",
		mcp.WithDescription("Recent store and indexing events, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum events to return (default 50)"),
		),
	)
}

// EventsHandler handles the annal_events tool
func EventsHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := int(request.GetFloat("limit", 50))
		recent := tc.Bus.Recent(limit)
		return jsonResult(recent, map[string]any{"count": len(recent)})
	}
}
