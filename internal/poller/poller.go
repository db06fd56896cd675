// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package poller runs the sequenced event pipeline: fetch the upstream
// territory map on a fixed cadence, merge supplemental data, diff against
// the live snapshot, reserve stream sequence numbers, persist the batch,
// swap the live snapshot, and publish pre-serialized events to the
// broadcaster.
//
// The poller task is the single writer of the live snapshot and the
// next-seq counter. Cycles never overlap: one loop, one tick at a time.
package poller

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/SequoiaWynncraft/sequoia-map/internal/broadcast"
	"github.com/SequoiaWynncraft/sequoia-map/internal/history"
	"github.com/SequoiaWynncraft/sequoia-map/internal/live"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// EventWriter persists sequenced update batches. Implemented by database.DB;
// nil when no history database is configured.
type EventWriter interface {
	InsertEvents(ctx context.Context, changes []history.SequencedChange) error
}

// TerritoryFetcher fetches the authoritative territory map.
type TerritoryFetcher interface {
	FetchTerritories(ctx context.Context) (models.TerritoryMap, error)
}

// Poller drives the poll → diff → persist → broadcast cycle.
// Implements suture.Service.
type Poller struct {
	fetcher      TerritoryFetcher
	state        *live.State
	hub          *broadcast.Hub
	store        EventWriter // nil disables persistence
	supplemental *SupplementalData
	interval     time.Duration

	now func() time.Time
}

// New creates the poller. store may be nil when history is disabled.
func New(fetcher TerritoryFetcher, state *live.State, hub *broadcast.Hub, store EventWriter, supplemental *SupplementalData, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	if supplemental == nil {
		supplemental = NewSupplementalData()
	}
	return &Poller{
		fetcher:      fetcher,
		state:        state,
		hub:          hub,
		store:        store,
		supplemental: supplemental,
		interval:     interval,
		now:          time.Now,
	}
}

// Serve implements suture.Service: one fetch cycle per tick, never
// overlapping.
func (p *Poller) Serve(ctx context.Context) error {
	logging.Info().Dur("interval", p.interval).Msg("territory poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.runCycle(ctx)
		}
	}
}

// String implements fmt.Stringer for supervisor logging.
func (p *Poller) String() string {
	return "territory-poller"
}

func (p *Poller) runCycle(ctx context.Context) {
	start := p.now()
	defer func() { metrics.PollCycleDuration.Observe(p.now().Sub(start).Seconds()) }()

	territories, err := p.fetcher.FetchTerritories(ctx)
	if err != nil {
		// A failed cycle is silently retried next tick; live state is not
		// mutated and no events are emitted.
		metrics.PollCycles.WithLabelValues("fetch_error").Inc()
		logging.Warn().Err(err).Msg("failed to fetch territories")
		return
	}

	p.supplemental.Merge(territories)
	p.processMap(ctx, territories)
}

// processMap is the differ/sequencer/persister step of one cycle. Sequence
// numbers are reserved while building events and committed to the counter
// only after the cycle cannot fail anymore; an abort leaves all state
// untouched.
func (p *Poller) processMap(ctx context.Context, proposed models.TerritoryMap) {
	current := p.state.View()
	changes := ComputeDiff(current.Territories, proposed)
	hasRemovals := HasRemovedTerritories(current.Territories, proposed)

	liveSeq := current.Seq
	liveTimestamp := current.Timestamp

	initialSeq := p.state.NextSeq()
	seqCursor := initialSeq

	var (
		outgoing     []broadcast.Event
		sequenced    []history.SequencedChange
		snapshotJSON []byte
		outcome      = "unchanged"
	)

	switch {
	case hasRemovals:
		seq, ok := checkedNextSeq(seqCursor)
		if !ok {
			metrics.PollCycles.WithLabelValues("aborted").Inc()
			return
		}
		seqCursor = seq
		timestamp := p.now().UTC().Format(time.RFC3339)

		payload, err := serializeEvent(models.TerritoryEvent{
			Type:        models.EventTypeSnapshot,
			Seq:         seq,
			Territories: proposed,
			Timestamp:   timestamp,
		})
		if err != nil {
			metrics.PollCycles.WithLabelValues("aborted").Inc()
			logging.Warn().Err(err).Msg("failed to serialize snapshot broadcast event")
			return
		}

		logging.Info().Uint64("seq", seq).Msg("territory set changed (removals detected), broadcasting snapshot")
		liveSeq = seq
		liveTimestamp = timestamp
		snapshotJSON = payload
		outgoing = append(outgoing, broadcast.Event{Kind: broadcast.KindSnapshot, Seq: seq, Payload: payload})
		outcome = "snapshot"

	case len(changes) > 0:
		timestamp := p.now().UTC().Format(time.RFC3339)
		logging.Info().Int("changes", len(changes)).Msg("territory changes detected")

		for _, change := range changes {
			seq, ok := checkedNextSeq(seqCursor)
			if !ok {
				metrics.PollCycles.WithLabelValues("aborted").Inc()
				return
			}
			seqCursor = seq

			payload, err := serializeEvent(models.TerritoryEvent{
				Type:      models.EventTypeUpdate,
				Seq:       seq,
				Changes:   []models.TerritoryChange{change},
				Timestamp: timestamp,
			})
			if err != nil {
				metrics.PollCycles.WithLabelValues("aborted").Inc()
				logging.Warn().Err(err).Msg("failed to serialize update broadcast event")
				return
			}

			liveSeq = seq
			liveTimestamp = timestamp
			outgoing = append(outgoing, broadcast.Event{Kind: broadcast.KindUpdate, Seq: seq, Payload: payload})
			sequenced = append(sequenced, history.SequencedChange{
				Seq:        seq,
				RecordedAt: p.now().UTC(),
				Change:     change,
			})
		}
		outcome = "changes"
	}

	// Persistence commits happen-before publish. On failure the live view
	// still advances: availability over durability, with the gap surfaced
	// through counters and client-side resync.
	if len(sequenced) > 0 {
		batch := uint64(len(sequenced))
		if p.store == nil {
			metrics.DroppedUpdateEvents.Add(float64(batch))
			logging.Warn().
				Uint64("dropped_update_events", batch).
				Msg("database unavailable; continuing with in-memory live update only")
		} else if err := p.store.InsertEvents(ctx, sequenced); err != nil {
			metrics.PersistFailures.Inc()
			metrics.DroppedUpdateEvents.Add(float64(batch))
			logging.Warn().
				Err(err).
				Uint64("first_seq", sequenced[0].Seq).
				Uint64("last_seq", sequenced[len(sequenced)-1].Seq).
				Msg("failed to persist updates; continuing with in-memory live update")
		} else {
			metrics.PersistedUpdateEvents.Add(float64(batch))
		}
	}

	// Regenerate the pre-serialized caches. An empty diff still reaches this
	// point so non-uuid field drift (guild names, colors) shows up without
	// consuming a sequence number.
	if snapshotJSON == nil {
		payload, err := serializeEvent(models.TerritoryEvent{
			Type:        models.EventTypeSnapshot,
			Seq:         liveSeq,
			Territories: proposed,
			Timestamp:   liveTimestamp,
		})
		if err != nil {
			metrics.PollCycles.WithLabelValues("aborted").Inc()
			logging.Warn().Err(err).Msg("failed to serialize live snapshot cache payload")
			return
		}
		snapshotJSON = payload
	}

	territoriesJSON, err := json.Marshal(proposed)
	if err != nil {
		metrics.PollCycles.WithLabelValues("aborted").Inc()
		logging.Warn().Err(err).Msg("failed to serialize live territory map")
		return
	}
	liveStateJSON, err := json.Marshal(models.LiveState{Seq: liveSeq, Timestamp: liveTimestamp, Territories: proposed})
	if err != nil {
		metrics.PollCycles.WithLabelValues("aborted").Inc()
		logging.Warn().Err(err).Msg("failed to serialize live state payload")
		return
	}
	ownershipJSON, err := json.Marshal(ownershipProjection(proposed))
	if err != nil {
		metrics.PollCycles.WithLabelValues("aborted").Inc()
		logging.Warn().Err(err).Msg("failed to serialize ownership projection")
		return
	}

	p.state.Swap(live.Snapshot{
		Seq:             liveSeq,
		Timestamp:       liveTimestamp,
		Territories:     proposed,
		SnapshotJSON:    snapshotJSON,
		TerritoriesJSON: territoriesJSON,
		LiveStateJSON:   liveStateJSON,
		OwnershipJSON:   ownershipJSON,
	})

	if seqCursor != initialSeq {
		p.state.StoreNextSeq(seqCursor)
	}

	for _, event := range outgoing {
		p.hub.Publish(event)
	}

	metrics.PollCycles.WithLabelValues(outcome).Inc()
}

// checkedNextSeq reserves the next sequence number, refusing to cross the
// signed-64-bit bound of the persisted log.
func checkedNextSeq(cursor uint64) (uint64, bool) {
	if cursor >= live.MaxSeq {
		logging.Error().Uint64("seq", cursor).Msg("sequence counter overflow; aborting cycle")
		return 0, false
	}
	return cursor + 1, true
}

func serializeEvent(event models.TerritoryEvent) ([]byte, error) {
	return json.Marshal(event)
}

// ownershipProjection reduces the territory map to the ownership-only view
// stored by the snapshot capture task.
func ownershipProjection(territories models.TerritoryMap) map[string]models.OwnershipRecord {
	ownership := make(map[string]models.OwnershipRecord, len(territories))
	for name, territory := range territories {
		ownership[name] = models.OwnershipRecord{
			GuildUUID:   territory.Guild.UUID,
			GuildName:   territory.Guild.Name,
			GuildPrefix: territory.Guild.Prefix,
			GuildColor:  territory.Guild.Color,
			AcquiredAt:  territory.Acquired.UTC().Format(time.RFC3339),
		}
	}
	return ownership
}
