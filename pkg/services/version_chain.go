package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/metrics"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-srs/pkg/retry"
)

var tracer = otel.Tracer("ekaya-srs/services")

// AppendRequest is the content of the next version. The label and creation
// time are assigned by the chain.
type AppendRequest struct {
	Body         models.Document
	RenderedText string
	Changelog    string
	CreatedBy    string
	// ReleaseBump assigns the next major label (v1.4 -> v2.0) instead of the next minor.
	ReleaseBump bool
	// Parent is the label Body was merged onto, "" for an empty chain. When
	// CheckParent is set and the latest version is no longer Parent, Append
	// stores nothing and returns *apperrors.StaleError.
	Parent      string
	CheckParent bool
}

// VersionService is the append-only version chain of a project.
type VersionService interface {
	// Latest returns the most recently created version, or nil.
	Latest(ctx context.Context, projectID uuid.UUID) (*models.SrsVersion, error)
	// Append stores the next version. A label collision is retried with a
	// recomputed label up to the configured attempts, then returned as
	// *apperrors.ConflictError. A moved parent is never retried here.
	Append(ctx context.Context, projectID uuid.UUID, req AppendRequest) (*models.SrsVersion, error)
	// Get returns nil when the label does not exist; malformed labels are a ValidationError.
	Get(ctx context.Context, projectID uuid.UUID, label string) (*models.SrsVersion, error)
	// History returns a restartable iterator over versions in creation order.
	History(projectID uuid.UUID) *VersionIterator
}

// VersionServiceConfig tunes the version chain.
type VersionServiceConfig struct {
	MaxAppendAttempts int
	HistoryPageSize   int
}

type versionService struct {
	repo     repositories.VersionRepository
	locker   AppendLocker
	cfg      VersionServiceConfig
	now      func() time.Time
	retryCfg *retry.Config
	logger   *zap.Logger
}

// NewVersionService creates a version chain. A nil locker serializes appends
// in-process only.
func NewVersionService(repo repositories.VersionRepository, locker AppendLocker, cfg VersionServiceConfig, logger *zap.Logger) VersionService {
	if locker == nil {
		locker = NewProjectLocks()
	}
	if cfg.MaxAppendAttempts < 1 {
		cfg.MaxAppendAttempts = 3
	}
	if cfg.HistoryPageSize < 1 {
		cfg.HistoryPageSize = 50
	}
	return &versionService{
		repo:     repo,
		locker:   locker,
		cfg:      cfg,
		now:      time.Now,
		retryCfg: retry.AppendConfig(cfg.MaxAppendAttempts),
		logger:   logger.Named("versions"),
	}
}

var _ VersionService = (*versionService)(nil)

func (s *versionService) Latest(ctx context.Context, projectID uuid.UUID) (*models.SrsVersion, error) {
	v, err := s.repo.GetLatest(ctx, projectID)
	if err != nil {
		return nil, apperrors.Persistence("get latest version", err)
	}
	return v, nil
}

func (s *versionService) Get(ctx context.Context, projectID uuid.UUID, label string) (*models.SrsVersion, error) {
	if _, err := models.ParseVersionLabel(label); err != nil {
		return nil, err
	}
	v, err := s.repo.GetByLabel(ctx, projectID, label)
	if err != nil {
		return nil, apperrors.Persistence("get version", err)
	}
	return v, nil
}

func (s *versionService) Append(ctx context.Context, projectID uuid.UUID, req AppendRequest) (*models.SrsVersion, error) {
	ctx, span := tracer.Start(ctx, "versions.Append",
		trace.WithAttributes(attribute.String("project_id", projectID.String())))
	defer span.End()

	unlock, err := s.locker.Lock(ctx, projectID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock failed")
		return nil, fmt.Errorf("failed to lock project for append: %w", err)
	}
	defer unlock()

	attempts := 0
	var appended *models.SrsVersion
	err = retry.DoIfRetryable(ctx, s.retryCfg, func() error {
		attempts++
		v, err := s.nextVersion(ctx, projectID, req)
		if err != nil {
			var stale *apperrors.StaleError
			if errors.As(err, &stale) {
				metrics.RecordAppendAttempt(metrics.AppendStale)
			}
			return err
		}

		if err := s.repo.Insert(ctx, v); err != nil {
			var conflict *apperrors.ConflictError
			if errors.As(err, &conflict) {
				metrics.RecordAppendAttempt(metrics.AppendCollision)
				s.logger.Warn("Version label already claimed, recomputing",
					zap.String("project_id", projectID.String()),
					zap.String("label", v.Label),
					zap.Int("attempt", attempts))
				return err
			}
			metrics.RecordAppendAttempt(metrics.AppendError)
			return apperrors.Persistence("insert version", err)
		}

		metrics.RecordAppendAttempt(metrics.AppendCommitted)
		appended = v
		return nil
	})
	span.SetAttributes(attribute.Int("attempts", attempts))
	var stale *apperrors.StaleError
	if errors.As(err, &stale) {
		s.logger.Info("Latest version moved, append abandoned",
			zap.String("project_id", projectID.String()),
			zap.String("parent", req.Parent),
			zap.String("latest", stale.Actual))
		span.SetStatus(codes.Error, "parent moved")
		return nil, err
	}
	if err != nil {
		s.logger.Error("Failed to append version",
			zap.String("project_id", projectID.String()),
			zap.Int("attempts", attempts),
			zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, err
	}

	span.SetAttributes(attribute.String("version", appended.Label))
	s.logger.Info("Appended version",
		zap.String("project_id", projectID.String()),
		zap.String("version", appended.Label),
		zap.Int("attempts", attempts))
	return appended, nil
}

// nextVersion computes the label and creation time following the latest version.
// CreatedAt is kept strictly after the latest one at microsecond precision so
// that creation order and label order agree.
func (s *versionService) nextVersion(ctx context.Context, projectID uuid.UUID, req AppendRequest) (*models.SrsVersion, error) {
	latest, err := s.repo.GetLatest(ctx, projectID)
	if err != nil {
		return nil, apperrors.Persistence("get latest version", err)
	}

	if req.CheckParent {
		head := ""
		if latest != nil {
			head = latest.Label
		}
		if head != req.Parent {
			return nil, &apperrors.StaleError{Resource: "srs version", Expected: req.Parent, Actual: head}
		}
	}

	label := models.FirstVersionLabel
	createdAt := s.now().UTC().Truncate(time.Microsecond)
	if latest != nil {
		prev, err := models.ParseVersionLabel(latest.Label)
		if err != nil {
			return nil, err
		}
		if req.ReleaseBump {
			label = prev.NextMajor()
		} else {
			label = prev.Next()
		}
		if !createdAt.After(latest.CreatedAt) {
			createdAt = latest.CreatedAt.Add(time.Microsecond)
		}
	}

	return &models.SrsVersion{
		ProjectID:    projectID,
		Label:        label.String(),
		Body:         req.Body.Clone(),
		RenderedText: req.RenderedText,
		Changelog:    req.Changelog,
		CreatedBy:    req.CreatedBy,
		CreatedAt:    createdAt,
	}, nil
}

func (s *versionService) History(projectID uuid.UUID) *VersionIterator {
	return &VersionIterator{
		repo:      s.repo,
		projectID: projectID,
		pageSize:  s.cfg.HistoryPageSize,
	}
}

// VersionIterator lazily pages through a project's versions in creation
// order. It is finite and can be restarted with Reset.
//
//	it := versions.History(projectID)
//	for it.Next(ctx) {
//		v := it.Version()
//	}
//	if err := it.Err(); err != nil { ... }
type VersionIterator struct {
	repo      repositories.VersionRepository
	projectID uuid.UUID
	pageSize  int

	page    []*models.SrsVersion
	idx     int
	cursor  time.Time
	done    bool
	current *models.SrsVersion
	err     error
}

// Next advances to the next version, fetching a new page when needed.
func (it *VersionIterator) Next(ctx context.Context) bool {
	if it.err != nil {
		return false
	}
	if it.idx >= len(it.page) {
		if it.done {
			it.current = nil
			return false
		}
		page, err := it.repo.ListPage(ctx, it.projectID, it.cursor, it.pageSize)
		if err != nil {
			it.err = apperrors.Persistence("list versions", err)
			it.current = nil
			return false
		}
		if len(page) < it.pageSize {
			it.done = true
		}
		if len(page) == 0 {
			it.current = nil
			return false
		}
		it.page = page
		it.idx = 0
		it.cursor = page[len(page)-1].CreatedAt
	}

	it.current = it.page[it.idx]
	it.idx++
	return true
}

// Version returns the version at the current position.
func (it *VersionIterator) Version() *models.SrsVersion {
	return it.current
}

// Err returns the error that stopped iteration, if any.
func (it *VersionIterator) Err() error {
	return it.err
}

// Reset rewinds the iterator to the first version.
func (it *VersionIterator) Reset() {
	it.page = nil
	it.idx = 0
	it.cursor = time.Time{}
	it.done = false
	it.current = nil
	it.err = nil
}

// Collect drains the iterator from its current position.
func (it *VersionIterator) Collect(ctx context.Context) ([]*models.SrsVersion, error) {
	var out []*models.SrsVersion
	for it.Next(ctx) {
		out = append(out, it.Version())
	}
	return out, it.Err()
}
