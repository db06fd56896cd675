// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/SequoiaWynncraft/sequoia-map/internal/history"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// InsertSnapshot records one ownership snapshot. ownershipJSON is the
// pre-serialized projection from the live snapshot cache.
func (db *DB) InsertSnapshot(ctx context.Context, createdAt time.Time, ownershipJSON []byte) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO territory_snapshots (created_at, ownership) VALUES (?, ?)`,
		createdAt.UTC(), string(ownershipJSON))
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// LatestSnapshotBefore returns the newest ownership snapshot with
// created_at <= t, or nil when none exists.
func (db *DB) LatestSnapshotBefore(ctx context.Context, t time.Time) (*history.SnapshotRecord, error) {
	var (
		id            int64
		createdAt     time.Time
		ownershipJSON string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, created_at, ownership FROM territory_snapshots
		 WHERE created_at <= ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		t.UTC(),
	).Scan(&id, &createdAt, &ownershipJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}

	ownership := map[string]models.OwnershipRecord{}
	if err := json.Unmarshal([]byte(ownershipJSON), &ownership); err != nil {
		return nil, fmt.Errorf("decode snapshot %d ownership: %w", id, err)
	}

	return &history.SnapshotRecord{
		ID:        id,
		CreatedAt: createdAt.UTC(),
		Ownership: ownership,
	}, nil
}
