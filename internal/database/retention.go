// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package database

import (
	"context"
	"fmt"
	"time"
)

// DeleteOlderThan removes event and snapshot rows older than cutoff in
// batches of batchSize to avoid long table locks. It returns the number of
// rows deleted from each table.
func (db *DB) DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (int64, int64, error) {
	eventsDeleted, err := db.deleteBatched(ctx,
		`DELETE FROM territory_events WHERE stream_seq IN
			(SELECT stream_seq FROM territory_events WHERE recorded_at < ? LIMIT ?)`,
		cutoff, batchSize)
	if err != nil {
		return eventsDeleted, 0, fmt.Errorf("delete old events: %w", err)
	}

	snapshotsDeleted, err := db.deleteBatched(ctx,
		`DELETE FROM territory_snapshots WHERE id IN
			(SELECT id FROM territory_snapshots WHERE created_at < ? LIMIT ?)`,
		cutoff, batchSize)
	if err != nil {
		return eventsDeleted, snapshotsDeleted, fmt.Errorf("delete old snapshots: %w", err)
	}

	return eventsDeleted, snapshotsDeleted, nil
}

func (db *DB) deleteBatched(ctx context.Context, query string, cutoff time.Time, batchSize int) (int64, error) {
	var total int64
	for {
		result, err := db.conn.ExecContext(ctx, query, cutoff.UTC(), batchSize)
		if err != nil {
			return total, err
		}
		deleted, err := result.RowsAffected()
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < int64(batchSize) {
			return total, nil
		}
	}
}
