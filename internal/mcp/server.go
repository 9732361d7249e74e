// ABOUTME: MCP server setup for the coach engine.
// ABOUTME: Wraps MCP server with the ledger, ingest pipeline, and storage Repository.
package mcp

import (
	"context"
	"fmt"

	"github.com/harperreed/coach/internal/ingest"
	"github.com/harperreed/coach/internal/ledger"
	"github.com/harperreed/coach/internal/storage"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Server wraps the MCP server with engine access.
type Server struct {
	mcpServer *mcp.Server
	repo      storage.Repository
	ledger    *ledger.Ledger
	pipeline  *ingest.Pipeline
}

// NewServer creates a new MCP server over the given components.
func NewServer(repo storage.Repository, l *ledger.Ledger, p *ingest.Pipeline) (*Server, error) {
	if repo == nil || l == nil || p == nil {
		return nil, fmt.Errorf("mcp server needs a repository, ledger, and pipeline")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "coach",
			Version: "1.0.0",
		},
		nil,
	)

	s := &Server{
		mcpServer: mcpServer,
		repo:      repo,
		ledger:    l,
		pipeline:  p,
	}

	s.registerTools()
	s.registerResources()

	return s, nil
}

// Serve starts the MCP server using stdio transport.
func (s *Server) Serve(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcp.StdioTransport{})
}
