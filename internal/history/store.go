// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package history implements the history query layer: ownership
// reconstruction at a point in time (newest snapshot plus ordered event
// replay), seq-keyed paginated event queries, timeline bounds, and the
// background snapshot-capture and retention tasks.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// ErrUnavailable is returned when no history database is configured.
var ErrUnavailable = errors.New("history storage unavailable")

// SequencedChange is one territory change with its reserved stream sequence,
// handed from the sequencer to the persister.
type SequencedChange struct {
	Seq        uint64
	RecordedAt time.Time
	Change     models.TerritoryChange
}

// EventRecord is one row of the persisted event log.
type EventRecord struct {
	StreamSeq       int64
	RecordedAt      time.Time
	AcquiredAt      time.Time
	Territory       string
	GuildUUID       string
	GuildName       string
	GuildPrefix     string
	PrevGuildUUID   *string
	PrevGuildName   *string
	PrevGuildPrefix *string
}

// SnapshotRecord is one row of the ownership-snapshot table.
type SnapshotRecord struct {
	ID        int64
	CreatedAt time.Time
	Ownership map[string]models.OwnershipRecord
}

// BoundsRecord is the aggregate extent of the persisted log.
type BoundsRecord struct {
	Earliest   *time.Time
	Latest     *time.Time
	EventCount int64
	MaxSeq     *int64
}

// Store is the persistence contract the history layer is built on,
// implemented by the database package.
type Store interface {
	// InsertEvents appends the batch within one transaction, in seq order.
	InsertEvents(ctx context.Context, changes []SequencedChange) error

	// InsertSnapshot records one ownership snapshot.
	InsertSnapshot(ctx context.Context, createdAt time.Time, ownershipJSON []byte) error

	// LatestSnapshotBefore returns the newest snapshot with created_at <= t,
	// or nil when none exists.
	LatestSnapshotBefore(ctx context.Context, t time.Time) (*SnapshotRecord, error)

	// EventsInRange returns all events with recorded_at in (from, to],
	// ordered by stream_seq ascending.
	EventsInRange(ctx context.Context, from, to time.Time) ([]EventRecord, error)

	// EventsPage returns up to limit events with recorded_at in (from, to]
	// and, when afterSeq is non-nil, stream_seq > *afterSeq, ordered by
	// stream_seq ascending.
	EventsPage(ctx context.Context, from, to time.Time, afterSeq *uint64, limit int) ([]EventRecord, error)

	// Bounds returns the timeline extent of the event log.
	Bounds(ctx context.Context) (BoundsRecord, error)

	// MaxStreamSeq returns the largest persisted stream sequence, or 0 for
	// an empty log.
	MaxStreamSeq(ctx context.Context) (uint64, error)

	// DeleteOlderThan removes event and snapshot rows older than cutoff in
	// batches of batchSize, returning the deleted row counts.
	DeleteOlderThan(ctx context.Context, cutoff time.Time, batchSize int) (eventsDeleted, snapshotsDeleted int64, err error)

	// Ping reports whether the database is reachable.
	Ping(ctx context.Context) error
}
