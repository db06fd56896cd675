// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The event stream is public read-only data; origins are not restricted.
	CheckOrigin: func(*http.Request) bool { return true },
}

// WebSocket mirrors the SSE event stream for websocket consumers. The wire
// payloads are identical: one snapshot on connect, then the broadcast events
// as JSON text messages, with a fresh snapshot after lag.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logging.Debug().Err(closeErr).Msg("websocket close failed")
		}
	}()

	sub := h.hub.Subscribe()
	defer sub.Close()

	metrics.WSClients.Inc()
	defer metrics.WSClients.Dec()

	// Reader goroutine: discard client messages, surface disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	writeMessage := func(payload []byte) error {
		if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, payload)
	}

	snap := h.state.View()
	payload := snap.SnapshotJSON
	if len(payload) == 0 {
		payload = []byte(fmt.Sprintf(
			`{"type":"Snapshot","seq":0,"territories":{},"timestamp":%q}`, snap.Timestamp))
	}
	if err := writeMessage(payload); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return

		case <-ping.C:
			if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case ev := <-sub.Events():
			if skipped := sub.Lagged(); skipped > 0 {
				metrics.SubscriberLagReplays.Inc()
				drainSubscription(sub)
				replay := h.state.View()
				if len(replay.SnapshotJSON) > 0 {
					if err := writeMessage(replay.SnapshotJSON); err != nil {
						return
					}
				}
				continue
			}
			if err := writeMessage(ev.Payload); err != nil {
				return
			}
		}
	}
}
