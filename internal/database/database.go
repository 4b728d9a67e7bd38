// Attriflow - AI Traffic Attribution for E-Commerce Orders
// Copyright 2026 Attriflow Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/attriflow/attriflow

package database

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"time"

	// Postgres driver registration.
	_ "github.com/lib/pq"

	"github.com/attriflow/attriflow/internal/logging"
)

// Config holds database connection configuration.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxOpenConns caps the pool size. 0 means runtime.NumCPU().
	MaxOpenConns int

	// ConnectTimeout bounds the initial ping.
	ConnectTimeout time.Duration
}

// DB wraps the sql connection pool with Attriflow-specific operations.
type DB struct {
	conn *sql.DB
	cfg  Config
}

// Open connects to Postgres, configures the pool, verifies connectivity and
// bootstraps the schema.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	conn, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}
	db.configureConnectionPool()

	if err := pingWithRetry(ctx, conn, cfg.ConnectTimeout); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := db.initializeSchema(ctx); err != nil {
		closeQuietly(conn)
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logging.Info().Int("max_open_conns", conn.Stats().MaxOpenConnections).Msg("database ready")
	return db, nil
}

// pingWithRetry verifies connectivity, retrying while the failure looks like
// the server is still coming up. Container orchestration routinely starts the
// app before Postgres accepts connections; query-level errors (bad DSN
// credentials, for one) fail immediately.
func pingWithRetry(ctx context.Context, conn *sql.DB, timeout time.Duration) error {
	const attempts = 5

	var err error
	for i := 0; i < attempts; i++ {
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		err = conn.PingContext(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if !IsConnectionError(err) {
			return err
		}
		logging.Warn().Err(err).Int("attempt", i+1).Msg("database not reachable yet, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return err
}

// configureConnectionPool sets connection pool parameters.
func (db *DB) configureConnectionPool() {
	maxOpen := db.cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = runtime.NumCPU()
	}
	db.conn.SetMaxOpenConns(maxOpen)
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// Ping verifies the connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close shuts down the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func closeQuietly(c *sql.DB) {
	if err := c.Close(); err != nil {
		logging.Warn().Err(err).Msg("error closing database connection")
	}
}
