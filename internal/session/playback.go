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

// PlaybackTickInterval is the engine cadence; each tick advances the
// virtual timestamp by speed × tick seconds.
const PlaybackTickInterval = 100 * time.Millisecond

const (
	// playbackRefillLowWater triggers a refill when fewer events remain.
	playbackRefillLowWater = 50
	// playbackRefillWindow is how far ahead one refill reads.
	playbackRefillWindow = time.Hour
	// playbackRefillLead refills when the buffer covers less than this much
	// of the upcoming timeline.
	playbackRefillLead = 30 * time.Minute
	// playbackMaxRefillPages bounds one refill to 10 pages of 500 events.
	playbackMaxRefillPages = 10
	playbackPageLimit      = 500
	// playbackRetryBackoff delays refills after a fetch failure.
	playbackRetryBackoff = 5 * time.Second
)

// playbackState is the playback engine's mutable state, guarded by the
// session mutex.
type playbackState struct {
	active bool
	speed  float64

	// fracAcc accumulates sub-second advancement at low speeds.
	fracAcc float64

	eventBuffer  []models.HistoryEvent
	bufferEnd    int64 // unix seconds the buffer has been filled through
	lastTS       int64 // last virtual timestamp, for scrub detection
	nextAfterSeq uint64
	fetching     bool
	retryAfter   time.Time
}

func (p *playbackState) invalidate() {
	p.eventBuffer = nil
	p.bufferEnd = 0
	p.nextAfterSeq = 0
	p.fracAcc = 0
}

// StartPlayback begins advancing the virtual timestamp at the given speed
// (virtual seconds per wall second). No-op outside history mode.
func (s *Session) StartPlayback(speed float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode != ModeHistory || speed <= 0 {
		return
	}
	s.playback.active = true
	s.playback.speed = speed
}

// StopPlayback pauses the engine.
func (s *Session) StopPlayback() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playback.active = false
}

// PlaybackActive reports whether the engine is running.
func (s *Session) PlaybackActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playback.active
}

// PlaybackAnimationDuration returns the ownership-transition animation
// length for the given playback speed. Faster playback gets shorter or no
// transitions so animations never pile up.
func PlaybackAnimationDuration(speed float64) time.Duration {
	switch {
	case speed >= 360:
		return 0
	case speed >= 60:
		return 50 * time.Millisecond
	case speed >= 10:
		return 100 * time.Millisecond
	default:
		return 200 * time.Millisecond
	}
}

// PlaybackTick advances the engine by one tick. The driver calls this every
// PlaybackTickInterval; ticks while paused or outside history mode are
// no-ops.
func (s *Session) PlaybackTick(ctx context.Context) {
	s.mu.Lock()

	if s.mode != ModeHistory || !s.playback.active || !s.hasHistoryTimestamp {
		s.mu.Unlock()
		return
	}

	// Advance the virtual clock, accumulating sub-second fractions.
	advance := s.playback.speed*PlaybackTickInterval.Seconds() + s.playback.fracAcc
	advanceWhole := int64(advance)
	s.playback.fracAcc = advance - float64(advanceWhole)

	current := s.historyTimestamp.Unix()

	if advanceWhole > 0 && s.bounds != nil {
		latest := s.bounds.Latest.Unix()
		if current >= latest {
			// End of the timeline: wrap to the earliest bound and reload.
			earliest := s.bounds.Earliest
			s.historyTimestamp = earliest.UTC()
			s.playback.invalidate()
			s.playback.lastTS = earliest.Unix()
			s.fetchNonce++
			nonce := s.fetchNonce
			s.mu.Unlock()

			if err := s.fetchAndApply(ctx, earliest, nonce); err != nil {
				logging.Warn().Err(err).Msg("playback wrap reload failed")
			}
			return
		}
		current += advanceWhole
		if current > latest {
			current = latest
		}
		s.historyTimestamp = time.Unix(current, 0).UTC()
	} else if advanceWhole > 0 {
		current += advanceWhole
		s.historyTimestamp = time.Unix(current, 0).UTC()
	}

	// A scrub that jumped the clock by more than twice the tick invalidates
	// the buffered events; they belong to the old position.
	scrubThreshold := 2 * advanceWhole
	if scrubThreshold < 2 {
		scrubThreshold = 2
	}
	if s.playback.lastTS != 0 && absInt64(current-s.playback.lastTS) > scrubThreshold {
		s.playback.invalidate()
	}
	s.playback.lastTS = current

	// Consume events the virtual clock has passed.
	var passed, remaining []models.HistoryEvent
	for _, event := range s.playback.eventBuffer {
		eventTS, err := time.Parse(time.RFC3339, event.Timestamp)
		if err != nil || eventTS.Unix() <= current {
			passed = append(passed, event)
		} else {
			remaining = append(remaining, event)
		}
	}
	s.playback.eventBuffer = remaining

	if len(passed) > 0 {
		changes := s.syntheticChangesLocked(passed)
		applyChanges(s.territories, changes)
	}

	needRefill := len(s.playback.eventBuffer) < playbackRefillLowWater &&
		!s.playback.fetching &&
		!s.now().Before(s.playback.retryAfter) &&
		(s.playback.bufferEnd == 0 || current+int64(playbackRefillLead.Seconds()) > s.playback.bufferEnd)

	if !needRefill {
		s.mu.Unlock()
		return
	}

	s.playback.fetching = true
	fetchFrom := current
	if s.playback.bufferEnd > current {
		fetchFrom = s.playback.bufferEnd
	}
	fetchTo := fetchFrom + int64(playbackRefillWindow.Seconds())
	afterSeq := s.playback.nextAfterSeq
	s.mu.Unlock()

	s.refillPlaybackBuffer(ctx, fetchFrom, fetchTo, afterSeq)
}

// syntheticChangesLocked converts passed history events into change records
// using the immutable geometry store. Events for unknown territories are
// dropped. Callers hold s.mu.
func (s *Session) syntheticChangesLocked(events []models.HistoryEvent) []models.TerritoryChange {
	changes := make([]models.TerritoryChange, 0, len(events))
	for _, event := range events {
		geo, ok := s.geometry[event.Territory]
		if !ok {
			continue
		}

		var previousGuild *models.GuildRef
		if event.PrevGuildName != nil && event.PrevGuildPrefix != nil {
			prev := models.GuildRef{
				Name:   *event.PrevGuildName,
				Prefix: *event.PrevGuildPrefix,
			}
			if rgb, ok := s.guildColors[prev.Name]; ok {
				color := rgb
				prev.Color = &color
			}
			previousGuild = &prev
		}

		guild := models.GuildRef{
			UUID:   event.GuildUUID,
			Name:   event.GuildName,
			Prefix: event.GuildPrefix,
		}
		if rgb, ok := s.guildColors[guild.Name]; ok {
			color := rgb
			guild.Color = &color
		}

		acquired := event.AcquiredAt
		if acquired == "" {
			acquired = event.Timestamp
		}

		changes = append(changes, models.TerritoryChange{
			Territory:     event.Territory,
			Guild:         guild,
			PreviousGuild: previousGuild,
			Acquired:      acquired,
			Location:      geo.Location,
			Resources:     geo.Resources,
			Connections:   geo.Connections,
		})
	}
	return changes
}

// refillPlaybackBuffer pages upcoming events into the buffer, cursored on
// stream seq for gap-safe pagination. Fetch failures back off.
func (s *Session) refillPlaybackBuffer(ctx context.Context, fromSecs, toSecs int64, afterSeq uint64) {
	from := time.Unix(fromSecs, 0).UTC()
	to := time.Unix(toSecs, 0).UTC()

	cursor := afterSeq
	var fetched []models.HistoryEvent
	errored := false

	for page := 0; page < playbackMaxRefillPages; page++ {
		result, err := s.api.Events(ctx, from, to, &cursor, playbackPageLimit)
		if err != nil {
			logging.Warn().Err(err).Msg("playback refill fetch failed")
			errored = true
			break
		}
		if len(result.Events) == 0 {
			break
		}

		for _, event := range result.Events {
			if event.StreamSeq > cursor {
				cursor = event.StreamSeq
			}
		}
		fetched = append(fetched, result.Events...)

		if !result.HasMore {
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.playback.fetching = false

	if errored {
		s.playback.retryAfter = s.now().Add(playbackRetryBackoff)
		return
	}

	s.playback.eventBuffer = append(s.playback.eventBuffer, fetched...)
	s.playback.bufferEnd = toSecs
	s.playback.nextAfterSeq = cursor
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
