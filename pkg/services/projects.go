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

// ProjectService defines the interface for project operations.
type ProjectService interface {
	Create(ctx context.Context, name, description string) (*models.Project, error)
	// Get returns apperrors.ErrNotFound for unknown projects.
	Get(ctx context.Context, id uuid.UUID) (*models.Project, error)
	List(ctx context.Context) ([]*models.Project, error)
	// Delete removes the project with all of its versions, facts and turns.
	Delete(ctx context.Context, id uuid.UUID) error
}

type projectService struct {
	repo   repositories.ProjectRepository
	logger *zap.Logger
}

// NewProjectService creates a new project service.
func NewProjectService(repo repositories.ProjectRepository, logger *zap.Logger) ProjectService {
	return &projectService{
		repo:   repo,
		logger: logger.Named("projects"),
	}
}

var _ ProjectService = (*projectService)(nil)

func (s *projectService) Create(ctx context.Context, name, description string) (*models.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.NewValidationError("name", "project name is required")
	}

	project := &models.Project{Name: name, Description: strings.TrimSpace(description)}
	if err := s.repo.Create(ctx, project); err != nil {
		s.logger.Error("Failed to create project", zap.String("name", name), zap.Error(err))
		return nil, apperrors.Persistence("create project", err)
	}

	s.logger.Info("Created project",
		zap.String("project_id", project.ID.String()),
		zap.String("name", project.Name))
	return project, nil
}

func (s *projectService) Get(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	project, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperrors.Persistence("get project", err)
	}
	return project, nil
}

func (s *projectService) List(ctx context.Context) ([]*models.Project, error) {
	projects, err := s.repo.List(ctx)
	if err != nil {
		return nil, apperrors.Persistence("list projects", err)
	}
	return projects, nil
}

func (s *projectService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		if !apperrors.IsNotFound(err) {
			s.logger.Error("Failed to delete project", zap.String("project_id", id.String()), zap.Error(err))
		}
		return apperrors.Persistence("delete project", err)
	}
	s.logger.Info("Deleted project", zap.String("project_id", id.String()))
	return nil
}
