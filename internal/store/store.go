// SPDX-License-Identifier: Apache-2.0

// Package store provides Postgres access for the pipeline: raw-table
// upserts, report queries, the bulk score writeback, and the daily alert
// rebuild. One Store is constructed per run and passed to components
// explicitly; every logical operation runs in its own transaction.
package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ErrScriptNotFound signals that an expected SQL batch-transform script is
// absent from the configured sql directory.
var ErrScriptNotFound = errors.New("sql script not found")

// Store wraps the pooled connection.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.SugaredLogger
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Store{pool: pool, log: logger.Sugar()}, nil
}

func (s *Store) Close() { s.pool.Close() }

// ExecScript runs a SQL file as a single batch statement. The report
// transforms and table creation are opaque scripts executed this way.
func (s *Store) ExecScript(ctx context.Context, path string) error {
	stmt, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrScriptNotFound, path)
		}
		return fmt.Errorf("reading sql script %s: %w", path, err)
	}
	if _, err := s.pool.Exec(ctx, string(stmt)); err != nil {
		return fmt.Errorf("executing sql script %s: %w", path, err)
	}
	s.log.Debugw("sql script executed", "path", path)
	return nil
}
