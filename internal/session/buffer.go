// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package session

import (
	"sort"

	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// MaxBufferedUpdates caps the mid-history live-update buffer. On overflow
// the oldest entries are drained and the handoff is forced through a fresh
// snapshot instead of a pure replay.
const MaxBufferedUpdates = 20_000

// BufferedUpdate is one live update captured while the session is in
// history mode, keyed by its stream sequence.
type BufferedUpdate struct {
	Seq     uint64
	Changes []models.TerritoryChange
}

// bufferUpdateLocked inserts one update into the sorted, deduplicated
// buffer. Callers hold s.mu.
func (s *Session) bufferUpdateLocked(update BufferedUpdate) {
	for _, existing := range s.buffered {
		if existing.Seq == update.Seq {
			return
		}
	}

	s.buffered = append(s.buffered, update)
	sort.Slice(s.buffered, func(i, j int) bool {
		return s.buffered[i].Seq < s.buffered[j].Seq
	})

	if len(s.buffered) > MaxBufferedUpdates {
		overflow := len(s.buffered) - MaxBufferedUpdates
		s.buffered = append(s.buffered[:0:0], s.buffered[overflow:]...)
		s.needsLiveResync = true
		s.counters.BufferOverflows++
		logging.Warn().Msg("history buffer overflowed; forcing live resync on handoff")
	}

	if len(s.buffered) > s.bufferSizeMax {
		s.bufferSizeMax = len(s.buffered)
	}
}

// ReplayUpdatesAfterSeq filters a buffer against a baseline snapshot seq:
// entries at or below the baseline are dropped, consecutive equal seqs are
// deduplicated, and the remainder comes back in ascending seq order.
// Applying the result in order is monotone and idempotent.
func ReplayUpdatesAfterSeq(baselineSeq uint64, buffered []BufferedUpdate) []BufferedUpdate {
	ordered := make([]BufferedUpdate, len(buffered))
	copy(ordered, buffered)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	var replay []BufferedUpdate
	lastSeen := baselineSeq
	for _, update := range ordered {
		if update.Seq <= baselineSeq || update.Seq == lastSeen {
			continue
		}
		lastSeen = update.Seq
		replay = append(replay, update)
	}
	return replay
}

// HasSeqGap reports whether incoming does not directly follow the tracked
// sequence. Legacy (seq 0) events and untracked sessions never gap.
func HasSeqGap(lastLiveSeq uint64, haveLiveSeq bool, incoming uint64) bool {
	if incoming == 0 || !haveLiveSeq {
		return false
	}
	return incoming != lastLiveSeq+1
}
