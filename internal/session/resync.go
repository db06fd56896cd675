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

const (
	resyncRetryBase = 500 * time.Millisecond
	resyncRetryMax  = 10 * time.Second
)

// retryState implements the bounded exponential backoff gate for live
// resyncs.
type retryState struct {
	consecutiveFailures uint32
	nextAllowedAt       time.Time
}

func (r *retryState) reset() {
	r.consecutiveFailures = 0
	r.nextAllowedAt = time.Time{}
}

func (r *retryState) ready(now time.Time) bool {
	return !now.Before(r.nextAllowedAt)
}

// markFailure records one failed attempt and returns the attempt number and
// the backoff applied.
func (r *retryState) markFailure(now time.Time) (uint32, time.Duration) {
	r.consecutiveFailures++
	backoff := resyncBackoff(r.consecutiveFailures)
	r.nextAllowedAt = now.Add(backoff)
	return r.consecutiveFailures, backoff
}

// resyncBackoff computes base × 2^(min(failures−1, 6)) capped at the
// maximum.
func resyncBackoff(consecutiveFailures uint32) time.Duration {
	if consecutiveFailures == 0 {
		return 0
	}
	exponent := consecutiveFailures - 1
	if exponent > 6 {
		exponent = 6
	}
	backoff := resyncRetryBase << exponent
	if backoff > resyncRetryMax {
		backoff = resyncRetryMax
	}
	return backoff
}

// TriggerResync fetches the gap-free live state to recover from gaps, lag,
// or disconnect. The gate admits at most one resync in flight, only in live
// mode, and only once the backoff window has passed.
func (s *Session) TriggerResync(ctx context.Context) {
	s.mu.Lock()
	if s.mode != ModeLive || s.resyncInFlight || !s.retry.ready(s.now()) {
		s.mu.Unlock()
		return
	}
	s.resyncInFlight = true
	s.mu.Unlock()

	state, err := s.api.LiveState(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resyncInFlight = false

	if s.mode != ModeLive {
		return
	}

	if err != nil {
		s.needsLiveResync = true
		attempt, backoff := s.retry.markFailure(s.now())
		logging.Warn().
			Err(err).
			Uint32("attempt", attempt).
			Dur("backoff", backoff).
			Msg("live resync failed")
		return
	}

	s.territories = cloneTerritories(state.Territories)
	s.lastLiveSeq = state.Seq
	s.haveLiveSeq = state.Seq > 0
	s.needsLiveResync = false
	s.retry.reset()
}

// cloneTerritories copies a fetched map so later in-place updates cannot
// alias the API response.
func cloneTerritories(in models.TerritoryMap) models.TerritoryMap {
	out := make(models.TerritoryMap, len(in))
	for name, territory := range in {
		out[name] = territory
	}
	return out
}
