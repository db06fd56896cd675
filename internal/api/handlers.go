// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package api provides the HTTP surface of the Sequoia Map server: the
// territory map and live-state endpoints, the SSE event stream, the history
// query routes, and health/metrics.
package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/SequoiaWynncraft/sequoia-map/internal/broadcast"
	"github.com/SequoiaWynncraft/sequoia-map/internal/config"
	"github.com/SequoiaWynncraft/sequoia-map/internal/history"
	"github.com/SequoiaWynncraft/sequoia-map/internal/live"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
	"github.com/SequoiaWynncraft/sequoia-map/internal/upstream"
)

// Handler bundles the shared state every route reads.
type Handler struct {
	state   *live.State
	hub     *broadcast.Hub
	history *history.Service
	guilds  *upstream.GuildService
	cfg     *config.Config
}

// NewHandler creates the API handler.
func NewHandler(state *live.State, hub *broadcast.Hub, historyService *history.Service, guilds *upstream.GuildService, cfg *config.Config) *Handler {
	return &Handler{
		state:   state,
		hub:     hub,
		history: historyService,
		guilds:  guilds,
		cfg:     cfg,
	}
}

// Territories serves the pre-serialized territory map with an ETag derived
// from the stream seq; a matching If-None-Match short-circuits to 304
// without re-encoding.
func (h *Handler) Territories(w http.ResponseWriter, r *http.Request) {
	snap := h.state.View()
	etag := fmt.Sprintf("\"territories-%d\"", snap.Seq)

	w.Header().Set("Cache-Control", "public, max-age=5")
	w.Header().Set("ETag", etag)

	if ifNoneMatchMatches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(snap.TerritoriesJSON); err != nil {
		logging.Debug().Err(err).Msg("failed to write territories response")
	}
}

// LiveState serves the gap-safe handoff payload: the current snapshot with
// its seq, from the pre-serialized cache.
func (h *Handler) LiveState(w http.ResponseWriter, _ *http.Request) {
	metrics.LiveStateRequests.Inc()

	snap := h.state.View()
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	if _, err := w.Write(snap.LiveStateJSON); err != nil {
		logging.Debug().Err(err).Msg("failed to write live state response")
	}
}

// healthPayload is the /api/health response body.
type healthPayload struct {
	Status           string         `json:"status"`
	Territories      int            `json:"territories"`
	GuildCacheSize   int            `json:"guild_cache_size"`
	HistoryAvailable bool           `json:"history_available"`
	SeqLiveHandoffV1 bool           `json:"seq_live_handoff_v1"`
	Observability    map[string]int `json:"observability"`
}

// Health reports liveness plus the counters clients poll before enabling
// history mode.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	payload := healthPayload{
		Status:           "ok",
		Territories:      h.state.TerritoryCount(),
		GuildCacheSize:   h.guilds.CacheSize(),
		HistoryAvailable: h.history.Available(),
		SeqLiveHandoffV1: h.cfg.Features.SeqLiveHandoffV1,
		Observability: map[string]int{
			"sse_clients": h.hub.SubscriberCount(),
		},
	}
	writeJSON(w, http.StatusOK, payload)
}

// Guild proxies one upstream guild lookup through the TTL cache. Upstream
// 404s pass through; other upstream failures map to 502.
func (h *Handler) Guild(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "guild name is required")
		return
	}

	data, err := h.guilds.Lookup(r.Context(), name)
	if err != nil {
		var statusErr *upstream.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusNotFound {
			writeError(w, statusErr.StatusCode, "upstream guild lookup failed")
			return
		}
		writeError(w, http.StatusBadGateway, "upstream guild lookup failed")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=300")
	if _, err := w.Write(data); err != nil {
		logging.Debug().Err(err).Msg("failed to write guild response")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logging.Debug().Err(err).Msg("failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func normalizeETag(candidate string) string {
	return strings.TrimSpace(strings.TrimPrefix(candidate, "W/"))
}

// ifNoneMatchMatches implements the If-None-Match comparison including weak
// validators and comma-separated candidate lists.
func ifNoneMatchMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || normalizeETag(candidate) == normalizeETag(etag) {
			return true
		}
	}
	return false
}
