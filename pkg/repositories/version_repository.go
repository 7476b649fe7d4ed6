package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/database"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
)

// VersionRepository provides append-only access to SRS versions.
type VersionRepository interface {
	// Insert stores a new version. A label already used by the project yields
	// *apperrors.ConflictError; a missing project yields apperrors.ErrNotFound.
	Insert(ctx context.Context, version *models.SrsVersion) error
	// GetLatest returns the version with the greatest created_at, or nil.
	GetLatest(ctx context.Context, projectID uuid.UUID) (*models.SrsVersion, error)
	// GetByLabel returns nil when the label does not exist.
	GetByLabel(ctx context.Context, projectID uuid.UUID, label string) (*models.SrsVersion, error)
	// ListPage returns up to limit versions created strictly after `after`, ascending.
	ListPage(ctx context.Context, projectID uuid.UUID, after time.Time, limit int) ([]*models.SrsVersion, error)
}

type versionRepository struct {
	db *database.DB
}

// NewVersionRepository creates a Postgres-backed VersionRepository.
func NewVersionRepository(db *database.DB) VersionRepository {
	return &versionRepository{db: db}
}

var _ VersionRepository = (*versionRepository)(nil)

const versionColumns = `id, project_id, version_label, body, rendered_text, changelog, created_by, created_at`

func (r *versionRepository) Insert(ctx context.Context, version *models.SrsVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	body, err := json.Marshal(bodyOrEmpty(version.Body))
	if err != nil {
		return fmt.Errorf("failed to marshal version body: %w", err)
	}

	// ON CONFLICT DO NOTHING turns a label race into zero affected rows
	// instead of an aborted statement.
	query := `
		INSERT INTO srs_versions (` + versionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (project_id, version_label) DO NOTHING`

	tag, err := r.db.Exec(ctx, query,
		version.ID, version.ProjectID, version.Label, body,
		version.RenderedText, version.Changelog, version.CreatedBy, version.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{Resource: "version", Key: version.Label}
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &apperrors.ConflictError{Resource: "version", Key: version.Label}
	}

	return nil
}

func (r *versionRepository) GetLatest(ctx context.Context, projectID uuid.UUID) (*models.SrsVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM srs_versions
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	v, err := scanVersion(r.db.QueryRow(ctx, query, projectID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (r *versionRepository) GetByLabel(ctx context.Context, projectID uuid.UUID, label string) (*models.SrsVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM srs_versions
		WHERE project_id = $1 AND version_label = $2`

	v, err := scanVersion(r.db.QueryRow(ctx, query, projectID, label))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func (r *versionRepository) ListPage(ctx context.Context, projectID uuid.UUID, after time.Time, limit int) ([]*models.SrsVersion, error) {
	query := `
		SELECT ` + versionColumns + `
		FROM srs_versions
		WHERE project_id = $1 AND created_at > $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, projectID, after, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	versions := make([]*models.SrsVersion, 0, limit)
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating versions: %w", err)
	}

	return versions, nil
}

func scanVersion(row pgx.Row) (*models.SrsVersion, error) {
	var v models.SrsVersion
	var body []byte
	err := row.Scan(&v.ID, &v.ProjectID, &v.Label, &body,
		&v.RenderedText, &v.Changelog, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	v.Body = models.Document{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &v.Body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version body: %w", err)
		}
	}
	return &v, nil
}

func bodyOrEmpty(d models.Document) models.Document {
	if d == nil {
		return models.Document{}
	}
	return d
}
