// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package poller

import (
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// ComputeDiff compares the proposed map against the current one and returns
// one self-contained change record per changed territory.
//
// A territory is changed iff it is new (absent from old) or its owning
// guild's uuid differs. Non-uuid fields (name, prefix, color) drifting on
// the same uuid are not a change; they are folded into the next snapshot
// refresh.
func ComputeDiff(old, proposed models.TerritoryMap) []models.TerritoryChange {
	var changes []models.TerritoryChange

	for name, territory := range proposed {
		previous, existed := old[name]
		if existed && previous.Guild.UUID == territory.Guild.UUID {
			continue
		}

		var previousGuild *models.GuildRef
		if existed {
			guild := previous.Guild
			previousGuild = &guild
		}

		changes = append(changes, models.TerritoryChange{
			Territory:     name,
			Guild:         territory.Guild,
			PreviousGuild: previousGuild,
			Acquired:      territory.Acquired.UTC().Format(time.RFC3339),
			Location:      territory.Location,
			Resources:     territory.Resources,
			Connections:   territory.Connections,
		})
	}

	return changes
}

// HasRemovedTerritories reports whether any territory present in old is
// absent from proposed. The append-only event model cannot express removal,
// so one removal forces a full snapshot broadcast.
func HasRemovedTerritories(old, proposed models.TerritoryMap) bool {
	for name := range old {
		if _, ok := proposed[name]; !ok {
			return true
		}
	}
	return false
}
