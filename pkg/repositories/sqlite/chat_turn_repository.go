package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
)

type chatTurnRepository struct {
	db *sql.DB
}

// NewChatTurnRepository creates a SQLite-backed ChatTurnRepository.
func NewChatTurnRepository(db *sql.DB) repositories.ChatTurnRepository {
	return &chatTurnRepository{db: db}
}

var _ repositories.ChatTurnRepository = (*chatTurnRepository)(nil)

const chatTurnColumns = `id, project_id, session_id, user_message, agent_response, tool_calls, created_at`

func (r *chatTurnRepository) Create(ctx context.Context, turn *models.ChatTurn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	calls := turn.ToolCalls
	if calls == nil {
		calls = []models.ToolCallRecord{}
	}
	raw, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("failed to marshal tool calls: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO chat_turns (`+chatTurnColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		turn.ID.String(), turn.ProjectID.String(), turn.SessionID, turn.UserMessage,
		turn.AgentResponse, string(raw), formatTime(turn.CreatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to create chat turn: %w", err)
	}
	return nil
}

func (r *chatTurnRepository) ListBySession(ctx context.Context, projectID uuid.UUID, sessionID string, limit int) ([]*models.ChatTurn, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+chatTurnColumns+` FROM (
				SELECT `+chatTurnColumns+`
				FROM chat_turns
				WHERE project_id = ? AND session_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)
			ORDER BY created_at ASC, id ASC`, projectID.String(), sessionID, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, `
			SELECT `+chatTurnColumns+`
			FROM chat_turns
			WHERE project_id = ? AND session_id = ?
			ORDER BY created_at ASC, id ASC`, projectID.String(), sessionID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list session turns: %w", err)
	}
	return collectChatTurns(rows)
}

func (r *chatTurnRepository) ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+chatTurnColumns+`
		FROM chat_turns
		WHERE project_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, projectID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list project turns: %w", err)
	}
	return collectChatTurns(rows)
}

func collectChatTurns(rows *sql.Rows) ([]*models.ChatTurn, error) {
	defer rows.Close()

	turns := make([]*models.ChatTurn, 0)
	for rows.Next() {
		var t models.ChatTurn
		var id, projectID, toolCalls, createdAt string
		if err := rows.Scan(&id, &projectID, &t.SessionID, &t.UserMessage,
			&t.AgentResponse, &toolCalls, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat turn: %w", err)
		}

		var err error
		if t.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid chat turn id %q: %w", id, err)
		}
		if t.ProjectID, err = uuid.Parse(projectID); err != nil {
			return nil, fmt.Errorf("invalid project id %q: %w", projectID, err)
		}
		if t.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if toolCalls != "" {
			if err := json.Unmarshal([]byte(toolCalls), &t.ToolCalls); err != nil {
				return nil, fmt.Errorf("failed to unmarshal tool calls: %w", err)
			}
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat turns: %w", err)
	}
	return turns, nil
}
