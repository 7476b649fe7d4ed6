package tools

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

// requireProjectID reads and parses the project_id argument. A non-nil
// result is an error result to return to the caller as-is.
func requireProjectID(req mcp.CallToolRequest) (uuid.UUID, *mcp.CallToolResult) {
	raw, err := req.RequireString("project_id")
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", err.Error())
	}
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, NewErrorResult("invalid_parameters", fmt.Sprintf("project_id %q is not a valid UUID", raw))
	}
	return id, nil
}

// requireNonBlank reads a required string argument that may not be blank.
func requireNonBlank(req mcp.CallToolRequest, key string) (string, *mcp.CallToolResult) {
	v, err := req.RequireString(key)
	if err != nil {
		return "", NewErrorResult("invalid_parameters", err.Error())
	}
	v = strings.TrimSpace(v)
	if v == "" {
		return "", NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' cannot be empty", key))
	}
	return v, nil
}

// decodeArgument re-decodes a structured argument (object or array) into out.
// Absent arguments leave out untouched.
func decodeArgument(req mcp.CallToolRequest, key string, out any) *mcp.CallToolResult {
	raw, ok := req.GetArguments()[key]
	if !ok || raw == nil {
		return nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' is malformed: %v", key, err))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return NewErrorResult("invalid_parameters", fmt.Sprintf("parameter '%s' has the wrong shape: %v", key, err))
	}
	return nil
}

// jsonResult marshals v as the text content of a successful tool result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return mcp.NewToolResultText(string(b)), nil
}

// trimString trims surrounding whitespace from a string argument.
func trimString(s string) string {
	return strings.TrimSpace(s)
}
