// Package app wires the process: config, logger, store, alert delivery and
// the engine. The CLI and the HTTP server both start from here.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"manutenzioni/internal/alert"
	"manutenzioni/internal/checklist"
	"manutenzioni/internal/config"
	"manutenzioni/internal/db"
	"manutenzioni/internal/engine"
	"manutenzioni/internal/logging"
	"manutenzioni/internal/metrics"
	"manutenzioni/internal/migrate"
	"manutenzioni/internal/server"
)

// Overrides are values set from flags or MANUTENZIONI_* variables. Empty
// fields keep the file value.
type Overrides struct {
	Addr      string
	BasePath  string
	JWTSecret string
	LogLevel  string
}

// Apply copies non-empty overrides onto cfg and validates the result.
func (o Overrides) Apply(cfg *config.Config) error {
	if v := strings.TrimSpace(o.Addr); v != "" {
		cfg.Server.Addr = v
	}
	if v := strings.TrimSpace(o.BasePath); v != "" {
		cfg.Server.BasePath = v
	}
	if o.JWTSecret != "" {
		cfg.Server.JWTSecret = o.JWTSecret
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Log.Level = v
	}
	return cfg.Validate()
}

// App holds the long-lived collaborators of one process.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	DB      *sql.DB
	Metrics *metrics.Metrics
	Engine  engine.Engine

	closeAlerts func(context.Context) error
}

// Open loads manutenzioni.yml from workspace (defaults when absent), applies
// overrides and migrates the store.
func Open(ctx context.Context, workspace string, o Overrides) (*App, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if err := o.Apply(cfg); err != nil {
		return nil, err
	}
	return New(ctx, workspace, cfg)
}

// New builds an App from an already loaded config.
func New(ctx context.Context, workspace string, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if applied > 0 {
		logger.Info("schema migrated", zap.Int("applied", applied), zap.String("db", db.Path(workspace)))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	dispatcher, closeAlerts := alert.FromConfig(cfg.Alerts, logger, m)
	e := engine.New(conn, checklist.NewCatalog(cfg.Checklist), dispatcher, logger.Named("engine"), m)
	return &App{
		Config:      cfg,
		Logger:      logger,
		DB:          conn,
		Metrics:     m,
		Engine:      e,
		closeAlerts: closeAlerts,
	}, nil
}

// Handler builds the HTTP API for this App.
func (a *App) Handler() (http.Handler, error) {
	s := a.Config.Server
	return server.New(server.Config{
		Engine:         a.Engine,
		BasePath:       s.BasePath,
		Auth:           server.AuthConfig{JWTSecret: s.JWTSecret, Logger: a.Logger.Named("auth")},
		RateLimit:      s.RateLimit,
		RequestTimeout: s.RequestTimeout(),
		Metrics:        a.Metrics,
		Logger:         a.Logger,
	})
}

// Close drains pending alerts, then closes the store.
func (a *App) Close(ctx context.Context) error {
	var err error
	if a.closeAlerts != nil {
		err = a.closeAlerts(ctx)
	}
	err = errors.Join(err, a.DB.Close())
	_ = a.Logger.Sync()
	return err
}
