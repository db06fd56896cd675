// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package database

import (
	"fmt"
)

// schemaStatements create the persisted event log and snapshot tables.
// stream_seq is the primary ordering key; the secondary index on recorded_at
// supports time-window queries.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS territory_events (
		stream_seq        BIGINT PRIMARY KEY,
		recorded_at       TIMESTAMP NOT NULL,
		acquired_at       TIMESTAMP NOT NULL,
		territory         TEXT NOT NULL,
		guild_uuid        TEXT NOT NULL,
		guild_name        TEXT NOT NULL,
		guild_prefix      TEXT NOT NULL,
		prev_guild_uuid   TEXT,
		prev_guild_name   TEXT,
		prev_guild_prefix TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_territory_events_recorded_at
		ON territory_events (recorded_at)`,
	`CREATE SEQUENCE IF NOT EXISTS territory_snapshots_id_seq START 1`,
	`CREATE TABLE IF NOT EXISTS territory_snapshots (
		id         BIGINT PRIMARY KEY DEFAULT nextval('territory_snapshots_id_seq'),
		created_at TIMESTAMP NOT NULL,
		ownership  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_territory_snapshots_created_at
		ON territory_snapshots (created_at)`,
}

func (db *DB) createSchema() error {
	for _, stmt := range schemaStatements {
		if _, err := db.conn.Exec(stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
