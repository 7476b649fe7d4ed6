package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
)

type versionRepository struct {
	db *sql.DB
}

// NewVersionRepository creates a SQLite-backed VersionRepository.
func NewVersionRepository(db *sql.DB) repositories.VersionRepository {
	return &versionRepository{db: db}
}

var _ repositories.VersionRepository = (*versionRepository)(nil)

const versionColumns = `id, project_id, version_label, body, rendered_text, changelog, created_by, created_at`

func (r *versionRepository) Insert(ctx context.Context, version *models.SrsVersion) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.CreatedAt.IsZero() {
		version.CreatedAt = time.Now().UTC()
	}

	body := version.Body
	if body == nil {
		body = models.Document{}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal version body: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO srs_versions (`+versionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (project_id, version_label) DO NOTHING`,
		version.ID.String(), version.ProjectID.String(), version.Label, string(raw),
		version.RenderedText, version.Changelog, version.CreatedBy, formatTime(version.CreatedAt))
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperrors.ErrNotFound
		}
		if isUniqueViolation(err) {
			return &apperrors.ConflictError{Resource: "version", Key: version.Label}
		}
		return fmt.Errorf("failed to insert version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return &apperrors.ConflictError{Resource: "version", Key: version.Label}
	}
	return nil
}

func (r *versionRepository) GetLatest(ctx context.Context, projectID uuid.UUID) (*models.SrsVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM srs_versions
		WHERE project_id = ?
		ORDER BY created_at DESC
		LIMIT 1`, projectID.String())
	return scanOptionalVersion(row)
}

func (r *versionRepository) GetByLabel(ctx context.Context, projectID uuid.UUID, label string) (*models.SrsVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+versionColumns+`
		FROM srs_versions
		WHERE project_id = ? AND version_label = ?`, projectID.String(), label)
	return scanOptionalVersion(row)
}

func (r *versionRepository) ListPage(ctx context.Context, projectID uuid.UUID, after time.Time, limit int) ([]*models.SrsVersion, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+versionColumns+`
		FROM srs_versions
		WHERE project_id = ? AND created_at > ?
		ORDER BY created_at ASC
		LIMIT ?`, projectID.String(), formatTime(after), limit)
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

func scanOptionalVersion(row scanner) (*models.SrsVersion, error) {
	v, err := scanVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return v, nil
}

func scanVersion(row scanner) (*models.SrsVersion, error) {
	var v models.SrsVersion
	var id, projectID, body, createdAt string
	err := row.Scan(&id, &projectID, &v.Label, &body,
		&v.RenderedText, &v.Changelog, &v.CreatedBy, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan version: %w", err)
	}

	if v.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid version id %q: %w", id, err)
	}
	if v.ProjectID, err = uuid.Parse(projectID); err != nil {
		return nil, fmt.Errorf("invalid project id %q: %w", projectID, err)
	}
	if v.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	v.Body = models.Document{}
	if body != "" {
		if err := json.Unmarshal([]byte(body), &v.Body); err != nil {
			return nil, fmt.Errorf("failed to unmarshal version body: %w", err)
		}
	}
	return &v, nil
}
