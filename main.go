package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-srs/pkg/app"
	"github.com/ekaya-inc/ekaya-srs/pkg/config"
	"github.com/ekaya-inc/ekaya-srs/pkg/handlers"
	"github.com/ekaya-inc/ekaya-srs/pkg/mcp"
	"github.com/ekaya-inc/ekaya-srs/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-srs/pkg/middleware"
	"github.com/ekaya-inc/ekaya-srs/pkg/telemetry"
)

// Version is set at build time via ldflags
var Version = "dev"

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		// Logger is not configured yet.
		_, _ = os.Stderr.WriteString("failed to load config: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Env == "local" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger.With(zap.String("service", telemetry.ServiceName))
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Configuration loaded",
		zap.String("env", cfg.Env),
		zap.String("version", cfg.Version),
		zap.String("base_url", cfg.BaseURL),
		zap.String("database_type", cfg.Database.Type),
		zap.Bool("mcp_enabled", cfg.MCP.Enabled),
		zap.Bool("llm_available", cfg.LLM.IsAvailable()),
		zap.String("trace_exporter", cfg.Tracing.Exporter))

	shutdownTracing, err := telemetry.InitTracing(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg, a.Ping, logger).RegisterRoutes(mux)
	handlers.NewProjectsHandler(a.Projects, logger).RegisterRoutes(mux)
	handlers.NewFactsHandler(a.Facts, logger).RegisterRoutes(mux)
	handlers.NewVersionsHandler(a.Versions, logger).RegisterRoutes(mux)
	handlers.NewTurnsHandler(a.Revision, logger).RegisterRoutes(mux)

	if cfg.MCP.Enabled {
		mcpServer := mcp.NewServer("ekaya-srs", cfg.Version, logger)
		tools.RegisterHealthTool(mcpServer.MCP(), cfg.Version, a.Ping)
		tools.RegisterSRSTools(mcpServer.MCP(), &tools.SRSToolDeps{
			Versions: a.Versions,
			Facts:    a.Facts,
			Revision: a.Revision,
			Logger:   logger,
		})
		handlers.NewMCPHandler(mcpServer, logger).RegisterRoutes(mux)
	}

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Starting ekaya-srs", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
