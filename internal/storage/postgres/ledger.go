// Package postgres provides a Postgres-backed compaction ledger.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mediaharvest/internal/compactor"
)

// Schema creates the ledger tables when missing.
const Schema = `
CREATE TABLE IF NOT EXISTS compaction_batches (
	label       TEXT        NOT NULL,
	start_index INTEGER     NOT NULL,
	end_index   INTEGER     NOT NULL,
	archive     TEXT        NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (label, start_index)
);
CREATE TABLE IF NOT EXISTS archived_units (
	label     TEXT NOT NULL,
	unit_path TEXT NOT NULL,
	archive   TEXT NOT NULL,
	PRIMARY KEY (label, unit_path)
);`

// LedgerConfig controls the Postgres connection pool.
type LedgerConfig struct {
	DSN             string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Ledger stores compaction batches in Postgres.
type Ledger struct {
	pool pool
}

// NewLedger connects to cfg.DSN and ensures the schema exists.
func NewLedger(ctx context.Context, cfg LedgerConfig) (*Ledger, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	l := &Ledger{pool: p}
	if err := l.EnsureSchema(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return l, nil
}

// NewLedgerWithPool wraps an existing pool (primarily for testing).
func NewLedgerWithPool(p pool) (*Ledger, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Ledger{pool: p}, nil
}

// EnsureSchema creates the ledger tables.
func (l *Ledger) EnsureSchema(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (l *Ledger) Close() {
	if l == nil || l.pool == nil {
		return
	}
	l.pool.Close()
}

// NextIndex implements compactor.Ledger.
func (l *Ledger) NextIndex(ctx context.Context, label string) (int, error) {
	var next int
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(end_index), 0) FROM compaction_batches WHERE label = $1`,
		label,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("query next index: %w", err)
	}
	return next, nil
}

// IsArchived implements compactor.Ledger.
func (l *Ledger) IsArchived(ctx context.Context, label, unit string) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM archived_units WHERE label = $1 AND unit_path = $2)`,
		label, unit,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query archived unit: %w", err)
	}
	return exists, nil
}

// RecordBatch implements compactor.Ledger in a single transaction.
func (l *Ledger) RecordBatch(ctx context.Context, b compactor.Batch) error {
	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	archive := filepath.Base(b.Archive)
	if _, err := tx.Exec(ctx,
		`INSERT INTO compaction_batches (label, start_index, end_index, archive, created_at) VALUES ($1, $2, $3, $4, $5)`,
		b.Label, b.Start, b.End, archive, b.CreatedAt,
	); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("insert batch: %w", err)
	}
	for _, unit := range b.Units {
		if _, err := tx.Exec(ctx,
			`INSERT INTO archived_units (label, unit_path, archive) VALUES ($1, $2, $3) ON CONFLICT (label, unit_path) DO UPDATE SET archive = EXCLUDED.archive`,
			b.Label, unit, archive,
		); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("insert archived unit: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}
