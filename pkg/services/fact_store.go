package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-srs/pkg/models"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
)

// FactService is the fact store: one mutable fact per (project, key).
type FactService interface {
	// UpsertFact inserts or overwrites the fact for key. Unknown kinds and
	// blank keys fail with *apperrors.ValidationError.
	UpsertFact(ctx context.Context, projectID uuid.UUID, key, value string, kind models.FactKind) (*models.Fact, error)
	// GetFacts returns all facts, most recently updated first, ties by key.
	GetFacts(ctx context.Context, projectID uuid.UUID) ([]*models.Fact, error)
	// GetFact returns nil when the key is absent.
	GetFact(ctx context.Context, projectID uuid.UUID, key string) (*models.Fact, error)
}

type factService struct {
	repo   repositories.FactRepository
	logger *zap.Logger
}

// NewFactService creates a new fact service.
func NewFactService(repo repositories.FactRepository, logger *zap.Logger) FactService {
	return &factService{
		repo:   repo,
		logger: logger.Named("facts"),
	}
}

var _ FactService = (*factService)(nil)

func (s *factService) UpsertFact(ctx context.Context, projectID uuid.UUID, key, value string, kind models.FactKind) (*models.Fact, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, apperrors.NewValidationError("key", "fact key is required")
	}
	parsed, err := models.ParseFactKind(string(kind))
	if err != nil {
		return nil, err
	}

	fact := &models.Fact{
		ProjectID: projectID,
		Key:       key,
		Value:     strings.TrimSpace(value),
		Kind:      parsed,
	}
	if err := s.repo.Upsert(ctx, fact); err != nil {
		s.logger.Error("Failed to upsert fact",
			zap.String("project_id", projectID.String()),
			zap.String("key", key),
			zap.Error(err))
		return nil, apperrors.Persistence("upsert fact", err)
	}

	s.logger.Debug("Upserted fact",
		zap.String("project_id", projectID.String()),
		zap.String("key", key),
		zap.String("kind", string(parsed)))
	return fact, nil
}

func (s *factService) GetFacts(ctx context.Context, projectID uuid.UUID) ([]*models.Fact, error) {
	facts, err := s.repo.GetByProject(ctx, projectID)
	if err != nil {
		return nil, apperrors.Persistence("get facts", err)
	}
	return facts, nil
}

func (s *factService) GetFact(ctx context.Context, projectID uuid.UUID, key string) (*models.Fact, error) {
	fact, err := s.repo.GetByKey(ctx, projectID, strings.TrimSpace(key))
	if err != nil {
		return nil, apperrors.Persistence("get fact", err)
	}
	return fact, nil
}
