// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package models

// OwnershipRecord is the ownership of a single territory at a point in time.
// Unlike Territory it carries no geometry; history replays merge these with
// an immutable geometry snapshot captured client-side.
type OwnershipRecord struct {
	GuildUUID   string `json:"guild_uuid"`
	GuildName   string `json:"guild_name"`
	GuildPrefix string `json:"guild_prefix"`
	GuildColor  *RGB   `json:"guild_color,omitempty"`
	AcquiredAt  string `json:"acquired_at"`
}

// HistorySnapshot is the reconstructed ownership of all territories at a
// specific timestamp, as returned by /api/history/at.
type HistorySnapshot struct {
	Timestamp string                     `json:"timestamp"`
	Ownership map[string]OwnershipRecord `json:"ownership"`
}

// HistoryEvent is one territory change read back from the persisted log.
type HistoryEvent struct {
	StreamSeq       uint64  `json:"stream_seq"`
	Timestamp       string  `json:"timestamp"`
	AcquiredAt      string  `json:"acquired_at,omitempty"`
	Territory       string  `json:"territory"`
	GuildUUID       string  `json:"guild_uuid"`
	GuildName       string  `json:"guild_name"`
	GuildPrefix     string  `json:"guild_prefix"`
	PrevGuildName   *string `json:"prev_guild_name"`
	PrevGuildPrefix *string `json:"prev_guild_prefix"`
}

// HistoryEvents is a seq-ordered page of history events.
type HistoryEvents struct {
	Events  []HistoryEvent `json:"events"`
	HasMore bool           `json:"has_more"`
}

// HistoryBounds describes the extent of the persisted timeline.
type HistoryBounds struct {
	Earliest   *string `json:"earliest"`
	Latest     *string `json:"latest"`
	EventCount int64   `json:"event_count"`
	LatestSeq  *uint64 `json:"latest_seq"`
}
