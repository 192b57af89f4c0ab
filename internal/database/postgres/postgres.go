// Package postgres implements database.Store on PostgreSQL with pgvector.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/rollcall/internal/config"
)

// Pool holds the two connection pools: database/sql (lib/pq) for migrations and
// pgxpool with pgvector types for runtime access.
type Pool struct {
	db  *sql.DB
	pgx *pgxpool.Pool
}

// NewPool opens both pools and verifies connectivity. The vector extension is created
// first because pgvector type registration needs it.
func NewPool(ctx context.Context, cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(max(cfg.MaxOpenConns/2, 1))
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(pingCtx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create vector extension: %w", err)
	}

	pgxCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	pgxCfg.MaxConns = int32(max(cfg.MaxOpenConns, 2)) //nolint:gosec // small config value
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pgxPool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pgxPool.Ping(pingCtx); err != nil {
		pgxPool.Close()
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db, pgx: pgxPool}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Ping checks the runtime pool.
func (p *Pool) Ping(ctx context.Context) error {
	return p.pgx.Ping(ctx)
}

// Close closes both pools.
func (p *Pool) Close() error {
	if p.pgx != nil {
		p.pgx.Close()
	}
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Initialize opens the pools and applies pending migrations.
func Initialize(ctx context.Context, cfg *config.DatabaseConfig, log logrus.FieldLogger) (*Pool, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	pool, err := NewPool(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err := pool.Migrate(ctx, log); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return pool, nil
}
