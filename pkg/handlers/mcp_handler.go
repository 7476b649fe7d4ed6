package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/mcp"
	"github.com/ekaya-inc/ekaya-srs/pkg/middleware"
)

// MCPHandler mounts the MCP JSON-RPC endpoint.
type MCPHandler struct {
	rpc    http.Handler
	logger *zap.Logger
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger) *MCPHandler {
	return &MCPHandler{
		rpc:    middleware.MCPRequestLogger(logger)(mcpServer.HTTPHandler()),
		logger: logger,
	}
}

// RegisterRoutes registers POST /mcp. Tools take project_id as an argument,
// so one endpoint serves every project. Other methods get 405 because the
// server is stateless and has no SSE stream or session to delete.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.Handle("POST /mcp", h.rpc)
	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}
