// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package server assembles the MCP server over the store pool.
package server

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/mark3labs/mcp-go/server"

	"github.com/annalhq/annal/internal/config"
	"github.com/annalhq/annal/internal/embedder"
	"github.com/annalhq/annal/internal/events"
	"github.com/annalhq/annal/internal/pool"
	"github.com/annalhq/annal/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// MCPServer wraps the mcp-go server with the store pool behind it.
type MCPServer struct {
	mcpServer *server.MCPServer
	pool      *pool.StorePool
	config    *config.Config
}

// Options adjust server construction.
type Options struct {
	// DefaultProject receives tool calls that name no project.
	DefaultProject string
	// EmbedderCacheBytes bounds the embedding cache. Zero uses the
	// package default.
	EmbedderCacheBytes int64
}

// New builds the server: embedder, event bus, pool, and tool registry.
func New(cfg *config.Config, opts Options) (*MCPServer, error) {
	emb, err := newEmbedder(opts.EmbedderCacheBytes)
	if err != nil {
		return nil, fmt.Errorf("init embedder: %w", err)
	}

	bus := events.NewBus()
	storePool := pool.New(cfg, emb, bus)

	defaultProject := opts.DefaultProject
	if defaultProject == "" {
		defaultProject = "default"
	}

	mcpServer := server.NewMCPServer(
		"Annal",
		Version,
		server.WithToolCapabilities(true),
	)

	srv := &MCPServer{
		mcpServer: mcpServer,
		pool:      storePool,
		config:    cfg,
	}
	srv.registerTools(defaultProject)
	return srv, nil
}

func newEmbedder(cacheBytes int64) (embedder.Embedder, error) {
	base, err := buildEmbedder()
	if err != nil {
		return nil, err
	}
	return embedder.NewCached(base, cacheBytes)
}

func (s *MCPServer) registerTools(defaultProject string) {
	tc := tools.NewToolContext(s.pool, defaultProject)

	s.mcpServer.AddTool(tools.NewStoreTool(), tools.StoreHandler(tc))
	s.mcpServer.AddTool(tools.NewSearchTool(), tools.SearchHandler(tc))
	s.mcpServer.AddTool(tools.NewGetTool(), tools.GetHandler(tc))
	s.mcpServer.AddTool(tools.NewBrowseTool(), tools.BrowseHandler(tc))
	s.mcpServer.AddTool(tools.NewListTopicsTool(), tools.ListTopicsHandler(tc))
	s.mcpServer.AddTool(tools.NewUpdateTool(), tools.UpdateHandler(tc))
	s.mcpServer.AddTool(tools.NewRetagTool(), tools.RetagHandler(tc))
	s.mcpServer.AddTool(tools.NewDeleteTool(), tools.DeleteHandler(tc))
	s.mcpServer.AddTool(tools.NewPruneTool(), tools.PruneHandler(tc))
	s.mcpServer.AddTool(tools.NewStatsTool(), tools.StatsHandler(tc))
	s.mcpServer.AddTool(tools.NewInitProjectTool(), tools.InitProjectHandler(tc))
	s.mcpServer.AddTool(tools.NewReindexTool(), tools.ReindexHandler(tc))
	s.mcpServer.AddTool(tools.NewStatusTool(), tools.StatusHandler(tc))
	s.mcpServer.AddTool(tools.NewEventsTool(), tools.EventsHandler(tc))
}

// Start dispatches the startup reconcile passes and live watchers. It
// returns immediately; indexing proceeds in the background.
func (s *MCPServer) Start() {
	s.pool.ReconcileAll()
	s.pool.StartWatching()
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *MCPServer) ServeStdio() error {
	s.Start()
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP blocks serving MCP over streamable HTTP on the given address.
func (s *MCPServer) ServeHTTP(addr string) error {
	s.Start()
	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	log.Info("listening", "addr", addr)
	return httpServer.Start(addr)
}

// Pool exposes the store pool for the CLI's direct-access commands.
func (s *MCPServer) Pool() *pool.StorePool { return s.pool }

// GetMCPServer returns the underlying MCP server.
func (s *MCPServer) GetMCPServer() *server.MCPServer { return s.mcpServer }
