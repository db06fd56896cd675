// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package database

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/history"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
)

// InsertEvents appends the sequenced batch within one transaction, in seq
// order. Either every row commits or none does.
func (db *DB) InsertEvents(ctx context.Context, changes []history.SequencedChange) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		// No-op after a successful commit.
		if rollbackErr := tx.Rollback(); rollbackErr != nil && rollbackErr != sql.ErrTxDone {
			logging.Warn().Err(rollbackErr).Msg("event batch rollback failed")
		}
	}()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO territory_events
			(stream_seq, recorded_at, acquired_at, territory,
			 guild_uuid, guild_name, guild_prefix,
			 prev_guild_uuid, prev_guild_name, prev_guild_prefix)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("failed to close insert statement")
		}
	}()

	for _, sc := range changes {
		if sc.Seq > math.MaxInt64 {
			return fmt.Errorf("sequence %d is out of int64 range", sc.Seq)
		}

		change := sc.Change
		acquiredAt, err := time.Parse(time.RFC3339, change.Acquired)
		if err != nil {
			logging.Warn().
				Str("territory", change.Territory).
				Uint64("seq", sc.Seq).
				Msg("invalid acquired timestamp, using recorded_at")
			acquiredAt = sc.RecordedAt
		}

		var prevUUID, prevName, prevPrefix *string
		if change.PreviousGuild != nil {
			prevUUID = &change.PreviousGuild.UUID
			prevName = &change.PreviousGuild.Name
			prevPrefix = &change.PreviousGuild.Prefix
		}

		if _, err := stmt.ExecContext(ctx,
			int64(sc.Seq), sc.RecordedAt.UTC(), acquiredAt.UTC(),
			change.Territory,
			change.Guild.UUID, change.Guild.Name, change.Guild.Prefix,
			prevUUID, prevName, prevPrefix,
		); err != nil {
			return fmt.Errorf("insert event seq %d for territory %s: %w", sc.Seq, change.Territory, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// EventsInRange returns all events with recorded_at in (from, to], ordered
// by stream_seq ascending.
func (db *DB) EventsInRange(ctx context.Context, from, to time.Time) ([]history.EventRecord, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT stream_seq, recorded_at, acquired_at, territory,
		        guild_uuid, guild_name, guild_prefix,
		        prev_guild_uuid, prev_guild_name, prev_guild_prefix
		 FROM territory_events
		 WHERE recorded_at > ? AND recorded_at <= ?
		 ORDER BY stream_seq ASC`,
		from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	return scanEventRows(rows)
}

// EventsPage returns up to limit events with recorded_at in (from, to] and,
// when afterSeq is set, stream_seq > *afterSeq. Seq-keyed pagination is
// gap-safe where timestamp-keyed pagination is not: many events may share a
// second, but stream_seq is strictly unique and total.
func (db *DB) EventsPage(ctx context.Context, from, to time.Time, afterSeq *uint64, limit int) ([]history.EventRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if afterSeq != nil {
		if *afterSeq > math.MaxInt64 {
			return nil, fmt.Errorf("after_seq %d is out of int64 range", *afterSeq)
		}
		rows, err = db.conn.QueryContext(ctx,
			`SELECT stream_seq, recorded_at, acquired_at, territory,
			        guild_uuid, guild_name, guild_prefix,
			        prev_guild_uuid, prev_guild_name, prev_guild_prefix
			 FROM territory_events
			 WHERE stream_seq > ? AND recorded_at > ? AND recorded_at <= ?
			 ORDER BY stream_seq ASC
			 LIMIT ?`,
			int64(*afterSeq), from.UTC(), to.UTC(), limit)
	} else {
		rows, err = db.conn.QueryContext(ctx,
			`SELECT stream_seq, recorded_at, acquired_at, territory,
			        guild_uuid, guild_name, guild_prefix,
			        prev_guild_uuid, prev_guild_name, prev_guild_prefix
			 FROM territory_events
			 WHERE recorded_at > ? AND recorded_at <= ?
			 ORDER BY stream_seq ASC
			 LIMIT ?`,
			from.UTC(), to.UTC(), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events page: %w", err)
	}
	return scanEventRows(rows)
}

// Bounds returns the timeline extent of the event log.
func (db *DB) Bounds(ctx context.Context) (history.BoundsRecord, error) {
	var (
		earliest sql.NullTime
		latest   sql.NullTime
		count    int64
		maxSeq   sql.NullInt64
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT MIN(recorded_at), MAX(recorded_at), COUNT(*), MAX(stream_seq) FROM territory_events`,
	).Scan(&earliest, &latest, &count, &maxSeq)
	if err != nil {
		return history.BoundsRecord{}, fmt.Errorf("query bounds: %w", err)
	}

	record := history.BoundsRecord{EventCount: count}
	if earliest.Valid {
		t := earliest.Time.UTC()
		record.Earliest = &t
	}
	if latest.Valid {
		t := latest.Time.UTC()
		record.Latest = &t
	}
	if maxSeq.Valid {
		v := maxSeq.Int64
		record.MaxSeq = &v
	}
	return record, nil
}

// MaxStreamSeq returns the largest persisted stream sequence, or 0 for an
// empty log. Used to initialize the in-memory next-seq counter on startup.
func (db *DB) MaxStreamSeq(ctx context.Context) (uint64, error) {
	var maxSeq sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `SELECT MAX(stream_seq) FROM territory_events`).Scan(&maxSeq)
	if err != nil {
		return 0, fmt.Errorf("query max stream_seq: %w", err)
	}
	if !maxSeq.Valid || maxSeq.Int64 < 0 {
		return 0, nil
	}
	return uint64(maxSeq.Int64), nil
}

func scanEventRows(rows *sql.Rows) ([]history.EventRecord, error) {
	defer func() {
		if err := rows.Close(); err != nil {
			logging.Warn().Err(err).Msg("failed to close event rows")
		}
	}()

	var records []history.EventRecord
	for rows.Next() {
		var (
			record     history.EventRecord
			prevUUID   sql.NullString
			prevName   sql.NullString
			prevPrefix sql.NullString
		)
		if err := rows.Scan(
			&record.StreamSeq, &record.RecordedAt, &record.AcquiredAt, &record.Territory,
			&record.GuildUUID, &record.GuildName, &record.GuildPrefix,
			&prevUUID, &prevName, &prevPrefix,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if prevUUID.Valid {
			record.PrevGuildUUID = &prevUUID.String
		}
		if prevName.Valid {
			record.PrevGuildName = &prevName.String
		}
		if prevPrefix.Valid {
			record.PrevGuildPrefix = &prevPrefix.String
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return records, nil
}
