// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package history

import (
	"bytes"
	"context"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/live"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
)

// Snapshotter periodically records the live ownership projection so history
// replays are bounded to one snapshot interval of events. It runs once
// immediately on startup, then waits one full period between captures.
//
// Implements suture.Service.
type Snapshotter struct {
	store    Store
	state    *live.State
	interval time.Duration
}

// NewSnapshotter creates the snapshot capture task.
func NewSnapshotter(store Store, state *live.State, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &Snapshotter{store: store, state: state, interval: interval}
}

// Serve implements suture.Service.
func (s *Snapshotter) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", s.interval).Msg("snapshot capture task started")

	s.captureOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.captureOnce(ctx)
		}
	}
}

func (s *Snapshotter) captureOnce(ctx context.Context) {
	snap := s.state.View()
	if len(snap.Territories) == 0 || isEmptyJSONObject(snap.OwnershipJSON) {
		return
	}

	if err := s.store.InsertSnapshot(ctx, time.Now().UTC(), snap.OwnershipJSON); err != nil {
		logging.Warn().Err(err).Msg("failed to insert ownership snapshot")
		return
	}

	metrics.SnapshotsCaptured.Inc()
	logging.Info().Int("territories", len(snap.Territories)).Msg("saved ownership snapshot")
}

func isEmptyJSONObject(data []byte) bool {
	return len(bytes.TrimSpace(data)) <= 2
}

// String implements fmt.Stringer for supervisor logging.
func (s *Snapshotter) String() string {
	return "history-snapshotter"
}
