package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/database"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

// FactRepository provides data access for long-term project facts.
type FactRepository interface {
	// Upsert inserts or overwrites the fact keyed on (project, key) in one statement.
	// ID, CreatedAt and UpdatedAt are refreshed from the stored row.
	Upsert(ctx context.Context, fact *models.Fact) error
	// GetByProject returns facts ordered by updated_at descending, then key.
	GetByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Fact, error)
	// GetByKey returns nil when the key is absent.
	GetByKey(ctx context.Context, projectID uuid.UUID, key string) (*models.Fact, error)
}

type factRepository struct {
	db *database.DB
}

// NewFactRepository creates a Postgres-backed FactRepository.
func NewFactRepository(db *database.DB) FactRepository {
	return &factRepository{db: db}
}

var _ FactRepository = (*factRepository)(nil)

func (r *factRepository) Upsert(ctx context.Context, fact *models.Fact) error {
	now := time.Now().UTC()
	if fact.ID == uuid.Nil {
		fact.ID = uuid.New()
	}
	fact.CreatedAt = now
	fact.UpdatedAt = now

	query := `
		INSERT INTO memory_facts (
			id, project_id, fact_key, fact_value, fact_kind, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id, fact_key)
		DO UPDATE SET
			fact_value = EXCLUDED.fact_value,
			fact_kind = EXCLUDED.fact_kind,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		fact.ID, fact.ProjectID, fact.Key, fact.Value, string(fact.Kind), fact.CreatedAt, fact.UpdatedAt,
	).Scan(&fact.ID, &fact.CreatedAt, &fact.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.ErrNotFound
		}
		return fmt.Errorf("failed to upsert fact: %w", err)
	}

	return nil
}

func (r *factRepository) GetByProject(ctx context.Context, projectID uuid.UUID) ([]*models.Fact, error) {
	query := `
		SELECT id, project_id, fact_key, fact_value, fact_kind, created_at, updated_at
		FROM memory_facts
		WHERE project_id = $1
		ORDER BY updated_at DESC, fact_key ASC`

	rows, err := r.db.Query(ctx, query, projectID)
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
	query := `
		SELECT id, project_id, fact_key, fact_value, fact_kind, created_at, updated_at
		FROM memory_facts
		WHERE project_id = $1 AND fact_key = $2`

	f, err := scanFact(r.db.QueryRow(ctx, query, projectID, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return f, nil
}

func scanFact(row pgx.Row) (*models.Fact, error) {
	var f models.Fact
	var kind string
	err := row.Scan(&f.ID, &f.ProjectID, &f.Key, &f.Value, &kind, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan fact: %w", err)
	}
	f.Kind = models.FactKind(kind)
	return &f, nil
}
