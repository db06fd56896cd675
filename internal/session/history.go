// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package session

import (
	"context"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// EnterHistory switches the session to history mode at the current wall
// time.
//
// The current territory geometry and guild-color table are captured into an
// immutable store first: history replays rely on them because historical
// events carry only ownership and identity. Buffer mode starts before any
// fetch so no live update is lost. A bounds failure (no database) reverts
// the session to live mode.
func (s *Session) EnterHistory(ctx context.Context) error {
	s.mu.Lock()

	s.fetchNonce++
	nonce := s.fetchNonce
	s.bufferModeActive = true
	s.buffered = nil
	s.needsLiveResync = false

	entryTime := s.now().UTC().Truncate(time.Second)
	s.historyTimestamp = entryTime
	s.hasHistoryTimestamp = true
	s.mode = ModeHistory

	// Immutable geometry + color snapshot for the whole history session.
	geometry := make(map[string]Geometry, len(s.territories))
	colors := map[string]models.RGB{}
	for name, territory := range s.territories {
		geometry[name] = Geometry{
			Location:    territory.Location,
			Resources:   territory.Resources,
			Connections: territory.Connections,
		}
		if territory.Guild.Color != nil {
			colors[territory.Guild.Name] = *territory.Guild.Color
		}
	}
	s.geometry = geometry
	s.guildColors = colors
	s.mu.Unlock()

	bounds, err := s.api.Bounds(ctx)

	s.mu.Lock()
	if s.fetchNonce != nonce || s.mode != ModeHistory {
		s.mu.Unlock()
		return nil
	}

	if err != nil {
		// Server does not support history; fall back to live.
		s.bufferModeActive = false
		s.buffered = nil
		s.mode = ModeLive
		s.hasHistoryTimestamp = false
		s.mu.Unlock()
		logging.Warn().Err(err).Msg("history bounds unavailable; staying live")
		return err
	}

	s.bounds = resolveBounds(bounds, entryTime)
	s.mu.Unlock()

	return s.fetchAndApply(ctx, entryTime, nonce)
}

// resolveBounds parses the reported bounds, defaulting to the last day when
// a bound is missing or unparseable.
func resolveBounds(bounds models.HistoryBounds, now time.Time) *Bounds {
	resolved := &Bounds{
		Earliest: now.Add(-24 * time.Hour),
		Latest:   now,
	}
	if bounds.Earliest != nil {
		if t, err := time.Parse(time.RFC3339, *bounds.Earliest); err == nil {
			resolved.Earliest = t
		}
	}
	if bounds.Latest != nil {
		if t, err := time.Parse(time.RFC3339, *bounds.Latest); err == nil {
			resolved.Latest = t
		}
	}
	return resolved
}

// Scrub moves the history view to the target time, cancelling any in-flight
// history fetch.
func (s *Session) Scrub(ctx context.Context, target time.Time) error {
	s.mu.Lock()
	if s.mode != ModeHistory {
		s.mu.Unlock()
		return nil
	}
	s.fetchNonce++
	nonce := s.fetchNonce
	s.playback.active = false
	s.historyTimestamp = target.UTC()
	s.hasHistoryTimestamp = true
	s.mu.Unlock()

	return s.fetchAndApply(ctx, target, nonce)
}

// HistoryTimestamp returns the virtual history time, if any.
func (s *Session) HistoryTimestamp() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.historyTimestamp, s.hasHistoryTimestamp
}

// fetchAndApply loads the history snapshot at target and replaces the
// visible map, unless the nonce moved on or the mode changed while the
// fetch was in flight. A fetch failure keeps the currently displayed state.
func (s *Session) fetchAndApply(ctx context.Context, target time.Time, nonce uint64) error {
	snapshot, err := s.api.At(ctx, target)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchNonce != nonce || s.mode != ModeHistory {
		return nil
	}
	if err != nil {
		logging.Warn().Err(err).Msg("history fetch failed; keeping displayed state")
		return err
	}

	s.territories = MergeWithStatic(snapshot, s.geometry, s.guildColors)
	return nil
}

// MergeWithStatic joins historical ownership with the immutable geometry
// captured at history entry. Territories without known geometry are skipped
// rather than given a zero-sized region.
func MergeWithStatic(snapshot models.HistorySnapshot, geometry map[string]Geometry, guildColors map[string]models.RGB) models.TerritoryMap {
	merged := make(models.TerritoryMap, len(snapshot.Ownership))

	for name, record := range snapshot.Ownership {
		geo, ok := geometry[name]
		if !ok {
			continue
		}

		acquired, err := time.Parse(time.RFC3339, record.AcquiredAt)
		if err != nil {
			acquired = time.Now().UTC()
		}

		color := record.GuildColor
		if color == nil {
			if rgb, ok := guildColors[record.GuildName]; ok {
				c := rgb
				color = &c
			}
		}

		merged[name] = models.Territory{
			Guild: models.GuildRef{
				UUID:   record.GuildUUID,
				Name:   record.GuildName,
				Prefix: record.GuildPrefix,
				Color:  color,
			},
			Acquired:    acquired,
			Location:    geo.Location,
			Resources:   geo.Resources,
			Connections: geo.Connections,
		}
	}

	return merged
}

// ExitHistory performs the gap-free history→live handoff:
//
//  1. Invalidate in-flight history fetches and stop playback.
//  2. Fetch the live state (snapshot + seq).
//  3. On success, replace the map, then apply buffered updates with
//     seq > snapshot.seq in seq order; track the newest applied seq.
//  4. On failure, fall back to the plain territory snapshot, clear seq
//     tracking, and flag a resync.
func (s *Session) ExitHistory(ctx context.Context) error {
	s.mu.Lock()
	if s.mode != ModeHistory {
		s.mu.Unlock()
		return nil
	}
	s.fetchNonce++
	nonce := s.fetchNonce
	s.playback.active = false
	s.counters.LiveHandoffResync++
	s.mu.Unlock()

	state, err := s.api.LiveState(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchNonce != nonce || s.mode != ModeHistory {
		return nil
	}

	if err != nil {
		logging.Warn().Err(err).Msg("live-state handoff failed; falling back to territory snapshot")
		return s.exitHistoryFallbackLocked(ctx, nonce)
	}

	s.territories = cloneTerritories(state.Territories)
	newestSeq := state.Seq

	replay := ReplayUpdatesAfterSeq(state.Seq, s.buffered)
	for _, update := range replay {
		applyChanges(s.territories, update.Changes)
		if update.Seq > newestSeq {
			newestSeq = update.Seq
		}
	}

	s.buffered = nil
	s.bufferModeActive = false
	s.needsLiveResync = false
	s.hasHistoryTimestamp = false
	s.lastLiveSeq = newestSeq
	s.haveLiveSeq = newestSeq > 0
	s.mode = ModeLive
	return nil
}

// exitHistoryFallbackLocked is the mixed-version fallback: take the plain
// territory snapshot without a seq and force a resync. Callers hold s.mu.
func (s *Session) exitHistoryFallbackLocked(ctx context.Context, nonce uint64) error {
	s.mu.Unlock()
	territories, err := s.api.Territories(ctx)
	s.mu.Lock()

	if s.fetchNonce != nonce || s.mode != ModeHistory {
		return nil
	}

	if err == nil {
		s.territories = cloneTerritories(territories)
	}

	s.buffered = nil
	s.bufferModeActive = false
	s.hasHistoryTimestamp = false
	s.lastLiveSeq = 0
	s.haveLiveSeq = false
	s.needsLiveResync = true
	s.mode = ModeLive
	return err
}
