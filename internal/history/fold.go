// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package history

import (
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// FoldOwnership applies an ordered event slice on top of a base ownership
// map and returns the result. The fold is idempotent and order-preserving on
// stream_seq: applying the same prefix of events to the same base always
// yields the same ownership map. The base map is not mutated.
func FoldOwnership(base map[string]models.OwnershipRecord, events []EventRecord) map[string]models.OwnershipRecord {
	ownership := make(map[string]models.OwnershipRecord, len(base)+len(events))
	for name, record := range base {
		ownership[name] = record
	}

	for _, event := range events {
		ownership[event.Territory] = models.OwnershipRecord{
			GuildUUID:   event.GuildUUID,
			GuildName:   event.GuildName,
			GuildPrefix: event.GuildPrefix,
			AcquiredAt:  event.AcquiredAt.UTC().Format(time.RFC3339),
		}
	}

	return ownership
}
