package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/database"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

// ChatTurnRepository provides append-only access to the conversation audit log.
type ChatTurnRepository interface {
	Create(ctx context.Context, turn *models.ChatTurn) error
	// ListBySession returns the most recent `limit` turns of a session in
	// ascending time order. limit <= 0 returns the whole session.
	ListBySession(ctx context.Context, projectID uuid.UUID, sessionID string, limit int) ([]*models.ChatTurn, error)
	// ListByProject returns the most recent turns across all sessions, newest first.
	ListByProject(ctx context.Context, projectID uuid.UUID, limit int) ([]*models.ChatTurn, error)
}

type chatTurnRepository struct {
	db *database.DB
}

// NewChatTurnRepository creates a Postgres-backed ChatTurnRepository.
func NewChatTurnRepository(db *database.DB) ChatTurnRepository {
	return &chatTurnRepository{db: db}
}

var _ ChatTurnRepository = (*chatTurnRepository)(nil)

const chatTurnColumns = `id, project_id, session_id, user_message, agent_response, tool_calls, created_at`

func (r *chatTurnRepository) Create(ctx context.Context, turn *models.ChatTurn) error {
	if turn.ID == uuid.Nil {
		turn.ID = uuid.New()
	}
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	toolCalls, err := marshalToolCalls(turn.ToolCalls)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chat_turns (` + chatTurnColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.Exec(ctx, query,
		turn.ID, turn.ProjectID, turn.SessionID, turn.UserMessage, turn.AgentResponse, toolCalls, turn.CreatedAt)
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
		rows pgx.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.Query(ctx, `
			SELECT `+chatTurnColumns+` FROM (
				SELECT `+chatTurnColumns+`
				FROM chat_turns
				WHERE project_id = $1 AND session_id = $2
				ORDER BY created_at DESC, id DESC
				LIMIT $3
			) recent
			ORDER BY created_at ASC, id ASC`, projectID, sessionID, limit)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+chatTurnColumns+`
			FROM chat_turns
			WHERE project_id = $1 AND session_id = $2
			ORDER BY created_at ASC, id ASC`, projectID, sessionID)
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
	rows, err := r.db.Query(ctx, `
		SELECT `+chatTurnColumns+`
		FROM chat_turns
		WHERE project_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list project turns: %w", err)
	}
	return collectChatTurns(rows)
}

func collectChatTurns(rows pgx.Rows) ([]*models.ChatTurn, error) {
	defer rows.Close()

	turns := make([]*models.ChatTurn, 0)
	for rows.Next() {
		var t models.ChatTurn
		var toolCalls []byte
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.SessionID, &t.UserMessage,
			&t.AgentResponse, &toolCalls, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat turn: %w", err)
		}
		if err := unmarshalToolCalls(toolCalls, &t); err != nil {
			return nil, err
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat turns: %w", err)
	}

	return turns, nil
}

func marshalToolCalls(calls []models.ToolCallRecord) ([]byte, error) {
	if calls == nil {
		calls = []models.ToolCallRecord{}
	}
	b, err := json.Marshal(calls)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal tool calls: %w", err)
	}
	return b, nil
}

func unmarshalToolCalls(raw []byte, t *models.ChatTurn) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &t.ToolCalls); err != nil {
		return fmt.Errorf("failed to unmarshal tool calls: %w", err)
	}
	return nil
}
