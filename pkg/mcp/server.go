// Package mcp exposes the SRS engine to model agents over the Model Context Protocol.
package mcp

import (
	"net/http"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"
)

// Instructions is sent to clients on initialize.
const Instructions = `Tools for maintaining a versioned software requirements specification (SRS).
Every tool takes project_id. Call get_srs before proposing edits.
update_srs replaces whole sections; an edit that contradicts a recorded constraint fact is rejected with the reasons and nothing is stored.
Use remember_fact for preferences, requirements and constraints that should outlive the conversation.`

// Server wraps the mcp-go MCPServer with tool-call observation.
type Server struct {
	mcp      *server.MCPServer
	observer *ToolObserver
	logger   *zap.Logger
}

// NewServer creates an MCP server. Every tool call is timed, counted and
// logged through a ToolObserver; tool handler panics become JSON-RPC errors.
func NewServer(name, version string, logger *zap.Logger) *Server {
	observer := NewToolObserver(logger)
	return &Server{
		mcp: server.NewMCPServer(
			name,
			version,
			server.WithToolCapabilities(false),
			server.WithInstructions(Instructions),
			server.WithHooks(observer.Hooks()),
			server.WithRecovery(),
		),
		observer: observer,
		logger:   logger.Named("mcp"),
	}
}

// MCP returns the underlying MCPServer for tool registration.
func (s *Server) MCP() *server.MCPServer {
	return s.mcp
}

// HTTPHandler serves JSON-RPC over streamable HTTP without sessions. Each
// request carries its own project_id, so there is no per-client state.
func (s *Server) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp, server.WithStateLess(true))
}
