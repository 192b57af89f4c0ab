package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database/postgres"
	"github.com/kozaktomas/rollcall/internal/embedder"
	"github.com/kozaktomas/rollcall/internal/pipeline"
)

// app bundles the long-lived dependencies of a command.
type app struct {
	cfg      *config.Config
	log      *logrus.Logger
	pool     *postgres.Pool
	store    *postgres.Store
	embedder *embedder.Service
	pipeline *pipeline.Pipeline
}

// newEmbedder builds the embedding service without touching the database.
func newEmbedder(cfg *config.Config, log logrus.FieldLogger) (*embedder.Service, error) {
	registry, err := cfg.Registry()
	if err != nil {
		return nil, err
	}
	launcher, err := embedder.NewExecLauncher(cfg.Embedding.Python, cfg.Embedding.WorkerDir, cfg.Embedding.ModelsDir)
	if err != nil {
		return nil, err
	}
	return embedder.New(registry, launcher, embedder.Options{
		Timeout: cfg.Embedding.Timeout,
		Logger:  log,
	}), nil
}

// openApp connects to PostgreSQL, applies migrations and wires the pipeline.
func openApp(ctx context.Context, cfg *config.Config, log *logrus.Logger) (*app, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}

	log.Debug("connecting to PostgreSQL")
	pool, err := postgres.Initialize(ctx, &cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}

	emb, err := newEmbedder(cfg, log)
	if err != nil {
		pool.Close()
		return nil, err
	}

	store := postgres.NewStore(pool)
	p := pipeline.New(store, emb, pipeline.Options{
		HNSWMinPool: cfg.Assign.HNSWMinPool,
		IndexDir:    cfg.Database.HNSWIndexPath,
		Logger:      log,
	})

	return &app{cfg: cfg, log: log, pool: pool, store: store, embedder: emb, pipeline: p}, nil
}

// openAppFromCmd loads the configuration and opens the app for cmd.
func openAppFromCmd(cmd *cobra.Command) (*app, error) {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return openApp(cmd.Context(), cfg, log)
}

func (a *app) Close() {
	if err := a.pool.Close(); err != nil {
		a.log.WithError(err).Warn("failed to close database pool")
	}
}
