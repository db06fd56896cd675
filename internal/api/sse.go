// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/SequoiaWynncraft/sequoia-map/internal/broadcast"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
)

// Events is the SSE endpoint. Session protocol:
//
//  1. On connect, one `snapshot` event with the cached live snapshot and its
//     seq as the event id.
//  2. Stream broadcast events as `snapshot`/`update` with `id: <seq>`.
//  3. When the subscription reports dropped events, discard the stale queue
//     and replay a fresh snapshot before resuming. The replay carries the
//     current seq, resetting this consumer's view.
//  4. A keep-alive comment frame on the configured interval.
//
// No durable per-consumer state exists: dropping the connection releases the
// subscription and discards queued bytes.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	connID := uuid.NewString()
	sub := h.hub.Subscribe()
	defer sub.Close()

	metrics.SSEClients.Inc()
	defer metrics.SSEClients.Dec()
	logging.Info().Str("conn", connID).Int("clients", h.hub.SubscriberCount()).Msg("sse client connected")
	defer func() {
		logging.Info().Str("conn", connID).Msg("sse client disconnected")
	}()

	// The initial event after connect is always a snapshot.
	if !h.writeLiveSnapshot(w) {
		return
	}
	flusher.Flush()

	keepalive := newKeepaliveTicker(h.cfg.SSE.KeepaliveInterval)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		case <-keepalive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev := <-sub.Events():
			if skipped := sub.Lagged(); skipped > 0 {
				metrics.SubscriberLagReplays.Inc()
				logging.Warn().
					Str("conn", connID).
					Uint64("skipped_events", skipped).
					Msg("sse client lagged behind broadcast buffer; replaying snapshot")
				drainSubscription(sub)
				if !h.writeLiveSnapshot(w) {
					return
				}
				flusher.Flush()
				continue
			}

			if err := writeSSEEvent(w, ev.Seq, ev.Kind.String(), ev.Payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeLiveSnapshot emits the cached snapshot event, reporting false when
// the connection is gone. An empty cache (startup before the first poll)
// emits an empty-map snapshot with seq 0 so the first subscriber still gets
// its initial snapshot.
func (h *Handler) writeLiveSnapshot(w http.ResponseWriter) bool {
	snap := h.state.View()
	payload := snap.SnapshotJSON
	if len(payload) == 0 {
		payload = []byte(fmt.Sprintf(
			`{"type":"Snapshot","seq":0,"territories":{},"timestamp":%q}`, snap.Timestamp))
	}
	return writeSSEEvent(w, snap.Seq, "snapshot", payload) == nil
}

// drainSubscription discards events buffered before a lag-forced replay;
// their seqs predate the snapshot about to be sent.
func drainSubscription(sub *broadcast.Subscription) {
	for {
		select {
		case <-sub.Events():
		default:
			return
		}
	}
}

func newKeepaliveTicker(interval time.Duration) *time.Ticker {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return time.NewTicker(interval)
}

func writeSSEEvent(w http.ResponseWriter, seq uint64, event string, data []byte) error {
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: ", strconv.FormatUint(seq, 10), event); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\n\n")
	return err
}
