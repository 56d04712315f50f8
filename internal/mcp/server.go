package mcp

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ServerConfig contains configuration for creating an MCP server
type ServerConfig struct {
	Name    string
	Version string
}

// CreateServer creates an MCP server without any tools.
func CreateServer(cfg ServerConfig) *mcp.Server {
	return mcp.NewServer(&mcp.Implementation{
		Name:    cfg.Name,
		Version: cfg.Version,
	}, nil)
}

// NewCodebaseServer creates the server queried by the RAG pipeline over the
// tool bridge: code tools and file listing resources only.
func NewCodebaseServer(ctx context.Context, cfg ServerConfig, code *CodeTools, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := CreateServer(cfg)
	code.Register(s)
	code.RegisterResources(ctx, s, logger)
	return s
}

// NewAppServer creates the server exposed by the binary: the code tools
// plus ingestion and conversation tools.
func NewAppServer(ctx context.Context, cfg ServerConfig, code *CodeTools, app *AppTools, logger *slog.Logger) *mcp.Server {
	s := NewCodebaseServer(ctx, cfg, code, logger)
	app.Register(s)
	return s
}
