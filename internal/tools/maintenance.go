// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewPruneTool creates the annal_prune tool definition
func NewPruneTool() mcp.Tool {
	return mcp.NewTool("annal_prune",
		mcp.WithDescription("Remove stale agent memories that have not been retrieved recently. Dry-run by default: returns the candidates without deleting. File-indexed chunks are never pruned."),
		mcp.WithNumber("max_age_days",
			mcp.Description("Staleness horizon in days (default 90)"),
		),
		mcp.WithBoolean("include_never_accessed",
			mcp.Description("Also prune memories that were never retrieved"),
		),
		mcp.WithBoolean("commit",
			mcp.Description("Actually delete. Without this the call only reports candidates."),
		),
		mcp.WithString("project",
			mcp.Description("Project to prune. Defaults to the caller's project."),
		),
	)
}

// PruneHandler handles the annal_prune tool
func PruneHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}
		maxAge := time.Duration(request.GetFloat("max_age_days", 90)) * 24 * time.Hour
		dryRun := !request.GetBool("commit", false)
		pruned, err := s.PruneStale(maxAge, request.GetBool("include_never_accessed", false), dryRun)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(pruned, map[string]any{
			"count":   len(pruned),
			"dry_run": dryRun,
			"project": project,
		})
	}
}

// NewStatsTool creates the annal_stats tool definition
func NewStatsTool() mcp.Tool {
	return mcp.NewTool("annal_stats",
		mcp.WithDescription("Collection statistics: totals, per-chunk-type and per-tag counts, stale and never-accessed counts."),
		mcp.WithNumber("stale_after_days",
			mcp.Description("Staleness horizon for the stale count (default 90)"),
		),
		mcp.WithString("project",
			mcp.Description("Project to inspect. Defaults to the caller's project."),
		),
	)
}

// StatsHandler handles the annal_stats tool
func StatsHandler(tc *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		s, project, err := tc.storeFor(request)
		if err != nil {
			return errResult(err)
		}
		staleAfter := time.Duration(request.GetFloat("stale_after_days", 90)) * 24 * time.Hour
		stats, err := s.Stats(staleAfter)
		if err != nil {
			return errResult(err)
		}
		return jsonResult(stats, map[string]any{"project": project})
	}
}
