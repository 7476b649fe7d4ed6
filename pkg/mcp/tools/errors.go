package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

// ErrorResponse represents a structured error in tool results.
// Actionable errors are returned as tool results rather than JSON-RPC
// errors so the calling agent sees the code and message and can correct
// its next call.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable/actionable errors (invalid parameters, unknown
// project or version). System failures should still return Go errors.
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// serviceErrorResult turns a service error into a structured error result
// when the agent can act on it. Other errors are returned unchanged so
// mcp-go reports them as JSON-RPC errors.
func serviceErrorResult(err error) (*mcp.CallToolResult, error) {
	var vErr *apperrors.ValidationError
	switch {
	case errors.As(err, &vErr):
		return NewErrorResultWithDetails("validation_error", vErr.Message, map[string]string{"field": vErr.Field}), nil
	case errors.Is(err, apperrors.ErrValidation):
		return NewErrorResult("validation_error", err.Error()), nil
	case errors.Is(err, apperrors.ErrNotFound):
		return NewErrorResult("not_found", err.Error()), nil
	case errors.Is(err, apperrors.ErrConflict):
		return NewErrorResult("version_conflict", err.Error()), nil
	default:
		return nil, err
	}
}

// PartialTurnDetails is the details payload of a partially applied turn.
type PartialTurnDetails struct {
	Version string               `json:"version,omitempty"`
	Result  *services.TurnResult `json:"result"`
}

// partialTurnResult reports a turn whose version was stored but whose facts
// were not all saved. The agent should retry the whole turn.
func partialTurnResult(result *services.TurnResult, err error) *mcp.CallToolResult {
	details := PartialTurnDetails{Result: result}
	message := "the turn was only partially applied: " + err.Error()
	if result.Version != nil {
		details.Version = result.Version.Label
		message = fmt.Sprintf("%s was saved but the turn was only partially applied: %v", result.Version.Label, err)
	}
	return NewErrorResultWithDetails("partially_applied", message, details)
}
