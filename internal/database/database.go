// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package database persists the territory event log and ownership snapshots
// in an embedded DuckDB database. It implements history.Store.
//
// All timestamps are stored in UTC. The ownership column holds the
// pre-serialized JSON projection produced by the snapshot capture task.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/SequoiaWynncraft/sequoia-map/internal/config"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
)

// DB wraps the DuckDB connection and provides the history data access
// methods.
type DB struct {
	conn *sql.DB
	cfg  *config.DatabaseConfig
}

// New opens (or creates) the database at cfg.URL and initializes the schema.
func New(cfg *config.DatabaseConfig) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database url is empty")
	}

	// Ensure the parent directory exists so first startup does not fail with
	// "No such file or directory". 0750 per gosec G301.
	if dir := filepath.Dir(databasePath(cfg.URL)); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	conn, err := sql.Open("duckdb", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn, cfg: cfg}
	db.configureConnectionPool()

	if err := db.createSchema(); err != nil {
		if closeErr := conn.Close(); closeErr != nil {
			logging.Error().Err(closeErr).Msg("error closing database after failed init")
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// databasePath strips DSN options so the parent directory can be created.
func databasePath(url string) string {
	if idx := strings.IndexByte(url, '?'); idx >= 0 {
		return url[:idx]
	}
	return url
}

func (db *DB) configureConnectionPool() {
	maxConns := db.cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = 10
	}
	db.conn.SetMaxOpenConns(maxConns)
	db.conn.SetMaxIdleConns(2)
	db.conn.SetConnMaxLifetime(time.Hour)
	db.conn.SetConnMaxIdleTime(5 * time.Minute)
}

// Conn returns the underlying SQL connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Ping checks whether the database connection is alive.
func (db *DB) Ping(ctx context.Context) error {
	if db.conn == nil {
		return fmt.Errorf("database connection is nil")
	}
	return db.conn.PingContext(ctx)
}

// Close flushes and closes the database.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	// Best-effort checkpoint flushes the WAL into the main file so the next
	// startup does not replay it.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.conn.ExecContext(ctx, "CHECKPOINT"); err != nil {
		logging.Warn().Err(err).Msg("failed to checkpoint database before close")
	}
	return db.conn.Close()
}
