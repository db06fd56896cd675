// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package session implements the client-side live/history state machine: a
// per-tab session that consumes the SSE event stream and the history query
// API and keeps the visible territory map correct across mode changes,
// scrubbing, connection drops, server restarts, and log gaps.
//
// All session state lives in one struct owned by its session task; handlers
// take the session mutex, and long fetches release it, re-validating a
// monotonically increasing nonce on completion so stale results are
// discarded.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// Mode is the session's primary view mode.
type Mode int

const (
	// ModeLive follows the SSE stream.
	ModeLive Mode = iota
	// ModeHistory shows a reconstructed past state.
	ModeHistory
)

// ConnectionStatus tracks the SSE connection lifecycle.
type ConnectionStatus int

const (
	// StatusConnecting is the initial dial state.
	StatusConnecting ConnectionStatus = iota
	// StatusLive means the stream is open.
	StatusLive
	// StatusReconnecting means the stream dropped and a reconnect is due.
	StatusReconnecting
)

// API is the server surface the session consumes. Implemented by Client for
// real HTTP use and by fakes in tests.
type API interface {
	LiveState(ctx context.Context) (models.LiveState, error)
	Territories(ctx context.Context) (models.TerritoryMap, error)
	At(ctx context.Context, t time.Time) (models.HistorySnapshot, error)
	Events(ctx context.Context, from, to time.Time, afterSeq *uint64, limit int) (models.HistoryEvents, error)
	Bounds(ctx context.Context) (models.HistoryBounds, error)
}

// Geometry is the immutable per-territory shape captured when entering
// history mode. Historical events carry only ownership and identity, so
// replays merge against this store.
type Geometry struct {
	Location    models.Region
	Resources   models.Resources
	Connections []string
}

// Counters are the session's diagnostic counters.
type Counters struct {
	SeqGapDetected    uint64
	LiveHandoffResync uint64
	BufferOverflows   uint64
	SeqResetDetected  uint64
}

// Bounds is the history timeline extent in the session's clock domain.
type Bounds struct {
	Earliest time.Time
	Latest   time.Time
}

// Session is one browser tab's state machine.
type Session struct {
	mu  sync.Mutex
	api API
	now func() time.Time

	mode       Mode
	connection ConnectionStatus

	// Visible map. In history mode this is the reconstructed past state and
	// live updates must never touch it.
	territories models.TerritoryMap

	lastLiveSeq     uint64
	haveLiveSeq     bool
	needsLiveResync bool
	resyncInFlight  bool

	bufferModeActive bool
	buffered         []BufferedUpdate
	bufferSizeMax    int

	// fetchNonce invalidates in-flight history/handoff fetches: a fetch
	// captures the nonce at start and its result is discarded when the
	// nonce has moved on.
	fetchNonce uint64

	historyTimestamp    time.Time
	hasHistoryTimestamp bool
	bounds              *Bounds

	geometry    map[string]Geometry
	guildColors map[string]models.RGB

	retry    retryState
	counters Counters

	playback playbackState
}

// New creates a live-mode session backed by the given API.
func New(api API) *Session {
	return &Session{
		api:         api,
		now:         time.Now,
		mode:        ModeLive,
		connection:  StatusConnecting,
		territories: models.TerritoryMap{},
		geometry:    map[string]Geometry{},
		guildColors: map[string]models.RGB{},
	}
}

// Mode returns the current mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Connection returns the SSE connection status.
func (s *Session) Connection() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connection
}

// Territories returns the visible territory map. The returned map is shared;
// callers must not mutate it.
func (s *Session) Territories() models.TerritoryMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.territories
}

// LastLiveSeq returns the last live sequence observed and whether one is
// tracked.
func (s *Session) LastLiveSeq() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLiveSeq, s.haveLiveSeq
}

// NeedsLiveResync reports whether the session has flagged a resync.
func (s *Session) NeedsLiveResync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsLiveResync
}

// CountersSnapshot returns a copy of the diagnostic counters.
func (s *Session) CountersSnapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// BufferedUpdates returns a copy of the mid-history update buffer.
func (s *Session) BufferedUpdates() []BufferedUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BufferedUpdate, len(s.buffered))
	copy(out, s.buffered)
	return out
}

// HandleSnapshot processes one SSE snapshot event.
//
// In live mode the visible map is replaced wholesale (a snapshot is a full
// replacement, never a diff) and seq tracking resets to the snapshot's seq,
// or clears for a legacy seq 0. In history mode the visible (historical) map
// is never touched; a seq-bearing snapshot only flags that the eventual
// history→live handoff cannot be a pure replay.
func (s *Session) HandleSnapshot(_ context.Context, seq uint64, territories models.TerritoryMap) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == ModeHistory || s.bufferModeActive {
		if seq > 0 {
			s.needsLiveResync = true
		}
		return
	}

	if s.haveLiveSeq && seq > 0 && seq < s.lastLiveSeq {
		// A server restart reset the stream; note it and adopt the new seq.
		s.counters.SeqResetDetected++
		logging.Info().
			Uint64("last_seq", s.lastLiveSeq).
			Uint64("snapshot_seq", seq).
			Msg("sse seq reset detected")
	}

	s.territories = territories
	if seq > 0 {
		s.lastLiveSeq = seq
		s.haveLiveSeq = true
	} else {
		s.lastLiveSeq = 0
		s.haveLiveSeq = false
	}
	s.needsLiveResync = false
	s.retry.reset()
}

// HandleUpdate processes one SSE update event.
func (s *Session) HandleUpdate(ctx context.Context, seq uint64, changes []models.TerritoryChange) {
	s.mu.Lock()

	if s.mode == ModeHistory || s.bufferModeActive {
		if seq > 0 {
			s.bufferUpdateLocked(BufferedUpdate{Seq: seq, Changes: changes})
		} else {
			// Legacy events cannot be replayed on handoff.
			s.needsLiveResync = true
		}
		s.mu.Unlock()
		return
	}

	if s.needsLiveResync {
		s.mu.Unlock()
		s.TriggerResync(ctx)
		return
	}

	if seq == 0 {
		// Legacy event without sequence tracking: apply but do not track.
		applyChanges(s.territories, changes)
		s.lastLiveSeq = 0
		s.haveLiveSeq = false
		s.mu.Unlock()
		return
	}

	if s.haveLiveSeq {
		if seq <= s.lastLiveSeq {
			// Duplicate.
			s.mu.Unlock()
			return
		}
		if HasSeqGap(s.lastLiveSeq, true, seq) {
			s.counters.SeqGapDetected++
			s.needsLiveResync = true
			logging.Warn().
				Uint64("last_seq", s.lastLiveSeq).
				Uint64("incoming_seq", seq).
				Uint64("gap_count", s.counters.SeqGapDetected).
				Msg("sse seq gap detected")
			s.mu.Unlock()
			s.TriggerResync(ctx)
			return
		}
	}

	applyChanges(s.territories, changes)
	s.lastLiveSeq = seq
	s.haveLiveSeq = true
	s.mu.Unlock()
}

// OnConnectionOpen marks the stream live and resyncs if one was pending.
func (s *Session) OnConnectionOpen(ctx context.Context) {
	s.mu.Lock()
	s.connection = StatusLive
	pending := s.mode == ModeLive && s.needsLiveResync
	s.mu.Unlock()

	if pending {
		s.TriggerResync(ctx)
	}
}

// OnConnectionLost marks the stream down; the next successful event or
// reconnect drives recovery.
func (s *Session) OnConnectionLost() {
	s.mu.Lock()
	s.connection = StatusReconnecting
	s.needsLiveResync = true
	s.mu.Unlock()
}

// applyChanges folds self-contained change records into the visible map.
func applyChanges(territories models.TerritoryMap, changes []models.TerritoryChange) {
	for _, change := range changes {
		acquired, err := time.Parse(time.RFC3339, change.Acquired)
		if err != nil {
			acquired = time.Now().UTC()
		}
		territories[change.Territory] = models.Territory{
			Guild:       change.Guild,
			Acquired:    acquired,
			Location:    change.Location,
			Resources:   change.Resources,
			Connections: change.Connections,
		}
	}
}
