package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
)

type factRepository struct {
	db *sql.DB
}

// NewFactRepository creates a SQLite-backed FactRepository.
func NewFactRepository(db *sql.DB) repositories.FactRepository {
	return &factRepository{db: db}
}

var _ repositories.FactRepository = (*factRepository)(nil)

func (r *factRepository) Upsert(ctx context.Context, fact *models.Fact) error {
	now := time.Now().UTC()
	if fact.ID == uuid.Nil {
		fact.ID = uuid.New()
	}

	var id, createdAt, updatedAt string
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO memory_facts (
			id, project_id, fact_key, fact_value, fact_kind, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, fact_key)
		DO UPDATE SET
			fact_value = excluded.fact_value,
			fact_kind = excluded.fact_kind,
			updated_at = excluded.updated_at
		RETURNING id, created_at, updated_at`,
		fact.ID.String(), fact.ProjectID.String(), fact.Key, fact.Value, string(fact.Kind),
		formatTime(now), formatTime(now),
	).Scan(&id, &createdAt, &updatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	if fact.ID, err = uuid.Parse(id); err != nil {
		return fmt.Errorf("invalid fact id %q: %w", id, err)
	}
	if fact.CreatedAt, err = parseTime(createdAt); err != nil {
		return err
	}
	if fact.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return err
	}
	return nil
}

func (r *factRepository) GetByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Fact, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, project_id, fact_key, fact_value, fact_kind, created_at, updated_at
		FROM memory_facts
		WHERE project_id = ?
		ORDER BY updated_at DESC, fact_key ASC`, projectID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to get facts: %w", err)
	}
	defer rows.Close()

	facts := make([]*models.Fact, 0)
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		facts = append(facts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating facts: %w", err)
	}
	return facts, nil
}

func (r *factRepository) GetByKey(ctx context.Context, projectID uuid.UUID, key string) (*models.Fact, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, project_id, fact_key, fact_value, fact_kind, created_at, updated_at
		FROM memory_facts
		WHERE project_id = ? AND fact_key = ?`, projectID.String(), key)

	f, err := scanFact(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func scanFact(row scanner) (*models.Fact, error) {
	var f models.Fact
	var id, projectID, kind, createdAt, updatedAt string
	if err := row.Scan(&id, &projectID, &f.Key, &f.Value, &kind, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan fact: %w", err)
	}

	var err error
	if f.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid fact id %q: %w", id, err)
	}
	if f.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("invalid project id %q: %w", projectID, err)
	}
	if f.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if f.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	f.Kind = models.FactKind(kind)
	return &f, nil
}
