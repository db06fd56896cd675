// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package live holds the single authoritative in-memory state of the
// territory map: the current snapshot with its stream sequence and
// pre-serialized payload caches, plus the process-wide next-seq counter.
//
// Single-writer invariant: only the poll pipeline swaps the snapshot and
// advances the counter. Readers (SSE sessions, history handlers, metrics)
// take a read lock around the copy-out; the writer takes the exclusive lock
// only around the final swap.
package live

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"

	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// MaxSeq is the largest assignable stream sequence. The persisted log column
// is a signed 64-bit integer, so crossing this bound is a fatal,
// unrecoverable condition for the pipeline.
const MaxSeq = uint64(math.MaxInt64)

// Snapshot is one immutable view of the live territory state. The maps and
// byte slices are shared read-only between all holders; a new Snapshot is
// built for every swap.
type Snapshot struct {
	Seq         uint64
	Timestamp   string
	Territories models.TerritoryMap

	// Pre-serialized payloads, encoded once per poll cycle:
	// SnapshotJSON is the full snapshot event, TerritoriesJSON the bare map,
	// LiveStateJSON the /api/live/state body, OwnershipJSON the
	// ownership-only projection stored by the snapshot capture task.
	SnapshotJSON    []byte
	TerritoriesJSON []byte
	LiveStateJSON   []byte
	OwnershipJSON   []byte
}

// State is the process-wide live snapshot holder.
type State struct {
	mu      sync.RWMutex
	snap    Snapshot
	nextSeq atomic.Uint64
}

// NewState creates a State holding an empty snapshot with seq 0.
func NewState() *State {
	timestamp := time.Now().UTC().Format(time.RFC3339)
	empty := models.LiveState{Seq: 0, Timestamp: timestamp, Territories: models.TerritoryMap{}}
	liveStateJSON, err := json.Marshal(empty)
	if err != nil {
		liveStateJSON = []byte(`{"seq":0,"timestamp":"","territories":{}}`)
	}

	return &State{
		snap: Snapshot{
			Seq:             0,
			Timestamp:       timestamp,
			Territories:     models.TerritoryMap{},
			SnapshotJSON:    nil,
			TerritoriesJSON: []byte("{}"),
			LiveStateJSON:   liveStateJSON,
			OwnershipJSON:   []byte("{}"),
		},
	}
}

// View returns the current snapshot. The returned value shares its map and
// byte slices with the state; callers must treat them as read-only.
func (s *State) View() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Swap replaces the snapshot. Called only by the poll pipeline at the end of
// a cycle.
func (s *State) Swap(snap Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	metrics.Territories.Set(float64(len(snap.Territories)))
	metrics.StreamSeq.Set(float64(snap.Seq))
}

// Seq returns the seq of the current snapshot.
func (s *State) Seq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Seq
}

// TerritoryCount returns the number of territories in the current snapshot.
func (s *State) TerritoryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snap.Territories)
}

// NextSeq returns the value of the next-seq counter: the last sequence
// number handed out, or the recovered maximum after startup.
func (s *State) NextSeq() uint64 {
	return s.nextSeq.Load()
}

// StoreNextSeq sets the next-seq counter. Used on startup (recovery from the
// persisted log's maximum) and by the pipeline after a successful cycle.
func (s *State) StoreNextSeq(v uint64) {
	s.nextSeq.Store(v)
}
