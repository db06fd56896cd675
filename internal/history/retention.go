// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package history

import (
	"context"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
)

// RetentionTask deletes history rows older than the configured horizon.
// Deletes run in bounded batches to avoid long table locks. The task runs
// once immediately on startup, then on the check interval (daily by
// default).
//
// Implements suture.Service.
type RetentionTask struct {
	store         Store
	retentionDays int
	checkInterval time.Duration
	batchSize     int
}

// NewRetentionTask creates the retention cleanup task.
func NewRetentionTask(store Store, retentionDays int, checkInterval time.Duration, batchSize int) *RetentionTask {
	if retentionDays <= 0 {
		retentionDays = 365
	}
	if checkInterval <= 0 {
		checkInterval = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = 10_000
	}
	return &RetentionTask{
		store:         store,
		retentionDays: retentionDays,
		checkInterval: checkInterval,
		batchSize:     batchSize,
	}
}

// Serve implements suture.Service.
func (t *RetentionTask) Serve(ctx context.Context) error {
	logging.Info().
		Int("retention_days", t.retentionDays).
		Dur("check_interval", t.checkInterval).
		Msg("retention task started")

	t.cleanupOnce(ctx)

	ticker := time.NewTicker(t.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.cleanupOnce(ctx)
		}
	}
}

func (t *RetentionTask) cleanupOnce(ctx context.Context) {
	cutoff := time.Now().UTC().AddDate(0, 0, -t.retentionDays)

	events, snapshots, err := t.store.DeleteOlderThan(ctx, cutoff, t.batchSize)
	if err != nil {
		logging.Warn().Err(err).Msg("retention cleanup failed")
	}
	if events > 0 || snapshots > 0 {
		metrics.RetentionDeleted.WithLabelValues("territory_events").Add(float64(events))
		metrics.RetentionDeleted.WithLabelValues("territory_snapshots").Add(float64(snapshots))
		logging.Info().
			Int64("events_deleted", events).
			Int64("snapshots_deleted", snapshots).
			Int("retention_days", t.retentionDays).
			Msg("retention cleanup removed expired rows")
	}
}

// String implements fmt.Stringer for supervisor logging.
func (t *RetentionTask) String() string {
	return "history-retention"
}
