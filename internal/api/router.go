// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
)

// NewRouter wires all routes with the global middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "If-None-Match", "Last-Event-ID"},
		MaxAge:         86400,
	}))

	r.Route("/api", func(r chi.Router) {
		// Streaming endpoints stay outside the rate limiter: one connection
		// serves many events.
		r.Get("/events", handler.Events)
		r.Get("/ws", handler.WebSocket)

		r.Group(func(r chi.Router) {
			r.Use(httprate.Limit(300, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
			r.Use(prometheusMiddleware)

			r.Get("/territories", handler.Territories)
			r.Get("/live/state", handler.LiveState)
			r.Get("/health", handler.Health)
			r.Get("/guild/{name}", handler.Guild)

			r.Route("/history", func(r chi.Router) {
				r.Get("/at", handler.HistoryAt)
				r.Get("/events", handler.HistoryEvents)
				r.Get("/bounds", handler.HistoryBounds)
			})
		})

		r.Handle("/metrics", noStore(promhttp.Handler()))
	})

	return r
}

// noStore disables caching on the wrapped handler.
func noStore(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// prometheusMiddleware records request counts and latency per route pattern.
func prometheusMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = r.URL.Path
		}
		metrics.RecordAPIRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
