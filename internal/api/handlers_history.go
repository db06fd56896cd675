// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/history"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
)

// HistoryAt reconstructs territory ownership at the requested timestamp.
// Recent timestamps cache briefly; older ones aggressively.
func (h *Handler) HistoryAt(w http.ResponseWriter, r *http.Request) {
	target, err := time.Parse(time.RFC3339, r.URL.Query().Get("t"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "t must be an RFC 3339 timestamp")
		return
	}

	snapshot, err := h.history.At(r.Context(), target)
	if err != nil {
		h.writeHistoryError(w, err, "history reconstruction failed")
		return
	}

	maxAge := 86400
	if time.Since(target) <= time.Hour {
		maxAge = 60
	}
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", maxAge))
	writeJSON(w, http.StatusOK, snapshot)
}

// HistoryEvents serves one seq-ordered page of the persisted event log.
func (h *Handler) HistoryEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	from, err := time.Parse(time.RFC3339, query.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "from must be an RFC 3339 timestamp")
		return
	}
	to, err := time.Parse(time.RFC3339, query.Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "to must be an RFC 3339 timestamp")
		return
	}

	var afterSeq *uint64
	if raw := query.Get("after_seq"); raw != "" {
		seq, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after_seq must be an unsigned integer")
			return
		}
		afterSeq = &seq
	}

	limit := history.DefaultEventsLimit
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = parsed
	}

	events, err := h.history.Events(r.Context(), from, to, afterSeq, limit)
	if err != nil {
		h.writeHistoryError(w, err, "history events query failed")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, events)
}

// HistoryBounds serves the timeline extent.
func (h *Handler) HistoryBounds(w http.ResponseWriter, r *http.Request) {
	bounds, err := h.history.Bounds(r.Context())
	if err != nil {
		h.writeHistoryError(w, err, "history bounds query failed")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=30")
	writeJSON(w, http.StatusOK, bounds)
}

func (h *Handler) writeHistoryError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, history.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "history storage unavailable")
		return
	}
	logging.Error().Err(err).Msg(message)
	writeError(w, http.StatusInternalServerError, message)
}
