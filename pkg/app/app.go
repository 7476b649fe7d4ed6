// Package app assembles storage, repositories and services from configuration.
// The HTTP server and srsctl share it so both see the same data.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/config"
	"github.com/ekaya-inc/ekaya-srs/pkg/database"
	"github.com/ekaya-inc/ekaya-srs/pkg/llm"
	"github.com/ekaya-inc/ekaya-srs/pkg/logging"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories"
	"github.com/ekaya-inc/ekaya-srs/pkg/repositories/sqlite"
	"github.com/ekaya-inc/ekaya-srs/pkg/services"
)

const (
	appendLockTTL  = 10 * time.Second
	appendLockWait = 5 * time.Second
)

// App holds the wired services for one storage backend.
type App struct {
	Projects services.ProjectService
	Facts    services.FactService
	Versions services.VersionService
	Revision services.RevisionService

	// Ping reports whether the storage backend is reachable.
	Ping func(ctx context.Context) error

	closers []func()
}

type repos struct {
	projects  repositories.ProjectRepository
	facts     repositories.FactRepository
	versions  repositories.VersionRepository
	chatTurns repositories.ChatTurnRepository
}

// Open connects to the configured backend, applies pending migrations and
// builds the services. Callers must Close the returned App.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{}

	var (
		r   *repos
		err error
	)
	switch cfg.Database.Type {
	case config.DatabaseTypeSQLite:
		r, err = a.openSQLite(cfg, logger)
	default:
		r, err = a.openPostgres(ctx, cfg, logger)
	}
	if err != nil {
		a.Close()
		return nil, err
	}

	locker, err := a.appendLocker(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	proposer, err := newProposer(cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Projects = services.NewProjectService(r.projects, logger)
	a.Facts = services.NewFactService(r.facts, logger)
	a.Versions = services.NewVersionService(r.versions, locker, services.VersionServiceConfig{
		MaxAppendAttempts: cfg.Engine.MaxAppendAttempts,
		HistoryPageSize:   cfg.Engine.HistoryPageSize,
	}, logger)
	a.Revision = services.NewRevisionService(
		r.projects,
		a.Versions,
		a.Facts,
		r.chatTurns,
		services.NewConflictDetector(),
		proposer,
		cfg.Engine.PromptHistoryTurns,
		logger,
	)
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) openPostgres(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*repos, error) {
	dbCfg := database.ConfigFrom(&cfg.Database)
	logger.Info("Connecting to PostgreSQL",
		zap.String("database", logging.SanitizeConnectionString(dbCfg.URL)))

	db, err := database.NewConnection(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.closers = append(a.closers, db.Close)

	sqlDB := stdlib.OpenDBFromPool(db.Pool)
	a.closers = append(a.closers, func() { _ = sqlDB.Close() })
	if err := database.RunMigrations(sqlDB, config.DatabaseTypePostgres, logger); err != nil {
		return nil, err
	}

	a.Ping = db.Ping
	return &repos{
		projects:  repositories.NewProjectRepository(db),
		facts:     repositories.NewFactRepository(db),
		versions:  repositories.NewVersionRepository(db),
		chatTurns: repositories.NewChatTurnRepository(db),
	}, nil
}

func (a *App) openSQLite(cfg *config.Config, logger *zap.Logger) (*repos, error) {
	logger.Info("Opening SQLite database", zap.String("path", cfg.Database.SQLitePath))

	db, err := database.OpenSQLite(cfg.Database.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	a.closers = append(a.closers, func() { _ = db.Close() })

	if err := database.RunMigrations(db, config.DatabaseTypeSQLite, logger); err != nil {
		return nil, err
	}

	a.Ping = db.PingContext
	store := sqlite.New(db)
	return &repos{
		projects:  store.Projects,
		facts:     store.Facts,
		versions:  store.Versions,
		chatTurns: store.ChatTurns,
	}, nil
}

// appendLocker returns a Redis-backed locker when Redis is configured, or nil
// so the version chain falls back to in-process locks.
func (a *App) appendLocker(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.AppendLocker, error) {
	client, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, nil
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	logger.Info("Using Redis append lock", zap.String("addr", cfg.Redis.Addr()))
	return database.NewRedisLocker(client, appendLockTTL, appendLockWait, logger), nil
}

func newProposer(cfg *config.Config, logger *zap.Logger) (llm.Proposer, error) {
	if !cfg.LLM.IsAvailable() {
		logger.Info("No model configured; chat turns are disabled")
		return nil, nil
	}
	client, err := llm.NewClientFromConfig(&cfg.LLM, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Model proposer enabled",
		zap.String("provider", cfg.LLM.Provider),
		zap.String("model", cfg.LLM.Model))
	return llm.NewModelProposer(client, logger), nil
}
