package mcp

import (
	"context"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/logging"
	"github.com/ekaya-inc/ekaya-srs/pkg/metrics"
)

// ToolObserver records latency and outcome metrics for MCP tool calls and
// logs failures. Structured error results count separately from Go errors.
type ToolObserver struct {
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
}

// NewToolObserver creates a ToolObserver.
func NewToolObserver(logger *zap.Logger) *ToolObserver {
	return &ToolObserver{logger: logger.Named("mcp-tools")}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (o *ToolObserver) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(o.beforeCallTool)
	hooks.AddAfterCallTool(o.afterCallTool)
	hooks.AddOnError(o.onError)
	return hooks
}

func (o *ToolObserver) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	o.startTimes.Store(id, time.Now())
}

func (o *ToolObserver) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	elapsed := o.elapsed(id)
	status := metrics.ToolOK
	if result != nil && result.IsError {
		status = metrics.ToolErrorResult
	}
	metrics.ObserveToolCall(req.Params.Name, status, elapsed)

	if status == metrics.ToolErrorResult {
		o.logger.Debug("Tool returned error result",
			zap.String("tool", req.Params.Name),
			zap.Duration("duration", elapsed))
	}
}

func (o *ToolObserver) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	elapsed := o.elapsed(id)
	metrics.ObserveToolCall(req.Params.Name, metrics.ToolFailed, elapsed)

	args, _ := req.Params.Arguments.(map[string]any)
	o.logger.Warn("Tool call failed",
		zap.String("tool", req.Params.Name),
		zap.Any("arguments", logging.SanitizeArguments(args)),
		zap.String("error", logging.SanitizeError(err)),
		zap.Duration("duration", elapsed))
}

func (o *ToolObserver) elapsed(id any) time.Duration {
	if v, ok := o.startTimes.LoadAndDelete(id); ok {
		return time.Since(v.(time.Time))
	}
	return 0
}
