// Package mcp publishes the tool registry as an MCP server so MCP-capable
// chat clients can read and write memory.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aschepis/backscratcher/recall/tools"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

// Server serves registry tools over MCP for a single owner.
type Server struct {
	mcp      *server.MCPServer
	registry *tools.Registry
	names    []string
	ownerID  string
	logger   zerolog.Logger
}

// NewServer creates an MCP server exposing every tool in registry. Calls act
// on behalf of ownerID.
func NewServer(registry *tools.Registry, ownerID, version string, logger zerolog.Logger) (*Server, error) {
	s := &Server{
		mcp: server.NewMCPServer(
			"recall",
			version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		registry: registry,
		ownerID:  ownerID,
		logger:   logger.With().Str("component", "mcpServer").Logger(),
	}

	for _, t := range registry.Tools() {
		schema, err := json.Marshal(t.Schema.Schema)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", t.Name, err)
		}
		s.mcp.AddTool(mcp.NewToolWithRawSchema(t.Name, t.Schema.Description, schema), s.handler(t.Name))
		s.names = append(s.names, t.Name)
		s.logger.Debug().Str("tool", t.Name).Msg("Registered MCP tool")
	}
	return s, nil
}

// ToolNames lists the published tools.
func (s *Server) ToolNames() []string { return s.names }

// handler adapts a registry tool to an MCP tool handler. Tool failures are
// returned as error results so the calling model sees them.
func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
		}
		out, err := s.registry.Handle(ctx, name, s.ownerID, args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		text, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
		}
		return mcp.NewToolResultText(string(text)), nil
	}
}

// Serve speaks MCP over the given streams until ctx is done or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info().Str("owner", s.ownerID).Msg("Serving MCP over stdio")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}
