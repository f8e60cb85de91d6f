// Package mcp implements the Model Context Protocol server for the fact store.
//
// It exposes fact ingestion, fact reads and canonical key generation as MCP
// tools so agents that enrich records can write facts through the same
// conflict-detection policy as the HTTP API.
package mcp

import (
	"log/slog"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/factstore/internal/model"
	"github.com/ashita-ai/factstore/internal/service/facts"
)

// lookupWindow is how long a slot read counts as a review of that slot.
const lookupWindow = 30 * time.Minute

// Server wraps the MCP server with the fact store's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	factSvc   *facts.Service
	taxonomy  model.Taxonomy
	lookups   *lookupTracker
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools, resources and
// prompts registered.
func New(factSvc *facts.Service, taxonomy model.Taxonomy, logger *slog.Logger, version string) *Server {
	s := &Server{
		factSvc:  factSvc,
		taxonomy: taxonomy,
		lookups:  newLookupTracker(lookupWindow),
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"factstore",
		version,
		mcpserver.WithResourceCapabilities(false, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}
