// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package models

// EventType discriminates the two territory event variants on the wire.
type EventType string

const (
	// EventTypeSnapshot carries a full territory map replacing the client's
	// world view wholesale.
	EventTypeSnapshot EventType = "Snapshot"

	// EventTypeUpdate carries one or more incremental ownership changes.
	EventTypeUpdate EventType = "Update"
)

// TerritoryEvent is the tagged union broadcast to clients. Exactly one of
// Territories (Snapshot) or Changes (Update) is populated, selected by Type.
//
// Seq 0 is reserved for "not yet assigned / legacy"; clients apply such
// events without advancing their sequence tracking.
type TerritoryEvent struct {
	Type        EventType         `json:"type"`
	Seq         uint64            `json:"seq"`
	Territories TerritoryMap      `json:"territories,omitempty"`
	Changes     []TerritoryChange `json:"changes,omitempty"`
	Timestamp   string            `json:"timestamp"`
}

// LiveState is the gap-free handoff payload served by /api/live/state: the
// current territory map together with the seq of the last event folded into
// it.
type LiveState struct {
	Seq         uint64       `json:"seq"`
	Timestamp   string       `json:"timestamp"`
	Territories TerritoryMap `json:"territories"`
}
