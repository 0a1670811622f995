// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tools defines the MCP tool surface over the store pool.
package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/annalhq/annal/internal/backend"
	"github.com/annalhq/annal/internal/coordinator"
	"github.com/annalhq/annal/internal/events"
	"github.com/annalhq/annal/internal/pool"
	"github.com/annalhq/annal/internal/store"
)

// ToolContext holds shared dependencies for all tools.
type ToolContext struct {
	Pool        *pool.StorePool
	Coordinator *coordinator.Coordinator
	Bus         *events.Bus
	// DefaultProject is used when a tool call names no project.
	DefaultProject string
}

// NewToolContext creates a tool context over a pool.
func NewToolContext(p *pool.StorePool, defaultProject string) *ToolContext {
	return &ToolContext{
		Pool:           p,
		Coordinator:    coordinator.New(p),
		Bus:            p.Bus(),
		DefaultProject: defaultProject,
	}
}

// project resolves the project a request addresses.
func (tc *ToolContext) project(request mcp.CallToolRequest) string {
	if name := request.GetString("project", ""); name != "" {
		return name
	}
	return tc.DefaultProject
}

// storeFor opens the store a request addresses.
func (tc *ToolContext) storeFor(request mcp.CallToolRequest) (*store.MemoryStore, string, error) {
	project := tc.project(request)
	s, err := tc.Pool.Get(project)
	return s, project, err
}

// jsonResult renders the uniform {results, meta} envelope every tool
// returns.
func jsonResult(results any, meta map[string]any) (*mcp.CallToolResult, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.MarshalIndent(map[string]any{
		"results": results,
		"meta":    meta,
	}, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// errResult maps an error to a tool error, keeping validation messages
// verbatim so the caller can correct the request.
func errResult(err error) (*mcp.CallToolResult, error) {
	if backend.IsValidation(err) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if errors.Is(err, backend.ErrNotFound) {
		return mcp.NewToolResultError("not found"), nil
	}
	return mcp.NewToolResultError(err.Error()), nil
}
