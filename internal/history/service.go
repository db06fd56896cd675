// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package history

import (
	"context"
	"fmt"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// Query limit clamping per the events endpoint contract.
const (
	DefaultEventsLimit = 500
	MaxEventsLimit     = 1000
)

// Service answers history queries against a Store. A nil-store Service is
// valid and reports ErrUnavailable from every query, which the API layer
// maps to 503.
type Service struct {
	store Store
}

// NewService creates a history service. store may be nil when no database is
// configured.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Available reports whether history queries can be served.
func (s *Service) Available() bool {
	return s.store != nil
}

// Store returns the underlying store, or nil when history is disabled.
func (s *Service) Store() Store {
	return s.store
}

// At reconstructs territory ownership at the target time: the newest
// persisted snapshot at or before the target, plus an ordered replay of all
// events recorded after it up to the target.
func (s *Service) At(ctx context.Context, target time.Time) (models.HistorySnapshot, error) {
	if s.store == nil {
		return models.HistorySnapshot{}, ErrUnavailable
	}
	start := time.Now()
	defer func() { metrics.RecordHistoryQuery("at", time.Since(start)) }()

	base := map[string]models.OwnershipRecord{}
	replayFrom := time.Unix(0, 0).UTC()

	snapshot, err := s.store.LatestSnapshotBefore(ctx, target)
	if err != nil {
		return models.HistorySnapshot{}, fmt.Errorf("load snapshot: %w", err)
	}
	if snapshot != nil {
		base = snapshot.Ownership
		replayFrom = snapshot.CreatedAt
	}

	events, err := s.store.EventsInRange(ctx, replayFrom, target)
	if err != nil {
		return models.HistorySnapshot{}, fmt.Errorf("load events: %w", err)
	}

	return models.HistorySnapshot{
		Timestamp: target.UTC().Format(time.RFC3339),
		Ownership: FoldOwnership(base, events),
	}, nil
}

// Events returns one seq-ordered page of history events. limit is clamped to
// [1, MaxEventsLimit]; limit+1 rows are fetched to compute has_more.
func (s *Service) Events(ctx context.Context, from, to time.Time, afterSeq *uint64, limit int) (models.HistoryEvents, error) {
	if s.store == nil {
		return models.HistoryEvents{}, ErrUnavailable
	}
	start := time.Now()
	defer func() { metrics.RecordHistoryQuery("events", time.Since(start)) }()

	if limit < 1 {
		limit = 1
	}
	if limit > MaxEventsLimit {
		limit = MaxEventsLimit
	}

	rows, err := s.store.EventsPage(ctx, from, to, afterSeq, limit+1)
	if err != nil {
		return models.HistoryEvents{}, fmt.Errorf("load events page: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}

	events := make([]models.HistoryEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, models.HistoryEvent{
			StreamSeq:       uint64(row.StreamSeq),
			Timestamp:       row.RecordedAt.UTC().Format(time.RFC3339),
			AcquiredAt:      row.AcquiredAt.UTC().Format(time.RFC3339),
			Territory:       row.Territory,
			GuildUUID:       row.GuildUUID,
			GuildName:       row.GuildName,
			GuildPrefix:     row.GuildPrefix,
			PrevGuildName:   row.PrevGuildName,
			PrevGuildPrefix: row.PrevGuildPrefix,
		})
	}

	return models.HistoryEvents{Events: events, HasMore: hasMore}, nil
}

// Bounds returns the timeline extent of the persisted log.
func (s *Service) Bounds(ctx context.Context) (models.HistoryBounds, error) {
	if s.store == nil {
		return models.HistoryBounds{}, ErrUnavailable
	}
	start := time.Now()
	defer func() { metrics.RecordHistoryQuery("bounds", time.Since(start)) }()

	record, err := s.store.Bounds(ctx)
	if err != nil {
		return models.HistoryBounds{}, fmt.Errorf("load bounds: %w", err)
	}

	bounds := models.HistoryBounds{EventCount: record.EventCount}
	if record.Earliest != nil {
		earliest := record.Earliest.UTC().Format(time.RFC3339)
		bounds.Earliest = &earliest
	}
	if record.Latest != nil {
		latest := record.Latest.UTC().Format(time.RFC3339)
		bounds.Latest = &latest
	}
	if record.MaxSeq != nil && *record.MaxSeq >= 0 {
		seq := uint64(*record.MaxSeq)
		bounds.LatestSeq = &seq
	}
	return bounds, nil
}
