package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Tool names recorded in a turn's tool-call record.
const (
	ToolUpdateSRS    = "update_srs"
	ToolRememberFact = "remember_fact"
	ToolChat         = "chat"
)

// ToolCallRecord is one entry of a turn's persisted tool_calls document.
type ToolCallRecord struct {
	Tool              string    `json:"tool"`
	Section           string    `json:"section"`
	Changes           string    `json:"changes"`
	ConflictsDetected bool      `json:"conflicts_detected"`
	Timestamp         time.Time `json:"timestamp"`
	Reasons           []string  `json:"reasons,omitempty"`
	Version           string    `json:"version,omitempty"`
	Error             string    `json:"error,omitempty"`
}

// ChatTurn is the immutable audit record of one user/agent exchange.
// Turns within a session are ordered by CreatedAt ascending.
type ChatTurn struct {
	ID            uuid.UUID        `json:"id"`
	ProjectID     uuid.UUID        `json:"project_id"`
	SessionID     string           `json:"session_id"`
	UserMessage   string           `json:"user_message"`
	AgentResponse string           `json:"agent_response"`
	ToolCalls     []ToolCallRecord `json:"tool_calls,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// ConflictDetected reports whether any tool call in the turn flagged a conflict.
func (t *ChatTurn) ConflictDetected() bool {
	for _, tc := range t.ToolCalls {
		if tc.ConflictsDetected {
			return true
		}
	}
	return false
}

// VersionLabel returns the version produced by the turn, or "" if none.
func (t *ChatTurn) VersionLabel() string {
	for _, tc := range t.ToolCalls {
		if tc.Version != "" {
			return tc.Version
		}
	}
	return ""
}

// NewSessionID returns a lexically sortable session identifier.
func NewSessionID() string {
	return ulid.Make().String()
}
