// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package main is the entry point for the Sequoia Map server.
//
// The server polls the Wynncraft API for territory ownership, diffs each
// poll against the live snapshot, assigns monotone stream sequence numbers,
// persists changes to an append-only event log, and fans pre-serialized
// events out to browser clients over SSE. A history query layer reconstructs
// ownership at any past time from periodic snapshots plus event replay.
//
// # Initialization order
//
//  1. Configuration (Koanf v2: defaults, optional YAML file, environment)
//  2. Logging (zerolog)
//  3. Database (DuckDB event log; optional: without DATABASE_URL the
//     history endpoints return 503 and history mode is disabled)
//  4. Sequence recovery from MAX(stream_seq)
//  5. Live state, broadcast hub, upstream client
//  6. Supervisor tree: history tasks / pipeline / HTTP server
//
// # Signal handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the server stops accepting
// connections, outstanding handlers drain within the shutdown timeout, and
// unstopped services are reported.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/api"
	"github.com/SequoiaWynncraft/sequoia-map/internal/broadcast"
	"github.com/SequoiaWynncraft/sequoia-map/internal/config"
	"github.com/SequoiaWynncraft/sequoia-map/internal/database"
	"github.com/SequoiaWynncraft/sequoia-map/internal/history"
	"github.com/SequoiaWynncraft/sequoia-map/internal/live"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/poller"
	"github.com/SequoiaWynncraft/sequoia-map/internal/supervisor"
	"github.com/SequoiaWynncraft/sequoia-map/internal/supervisor/services"
	"github.com/SequoiaWynncraft/sequoia-map/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Dur("poll_interval", cfg.Poller.Interval).
		Bool("history_enabled", cfg.HistoryEnabled()).
		Bool("seq_live_handoff_v1", cfg.Features.SeqLiveHandoffV1).
		Msg("starting sequoia-map server")
	if !cfg.Features.SeqLiveHandoffV1 {
		logging.Warn().Msg("seq_live_handoff_v1 feature flag is disabled")
	}

	state := live.NewState()
	hub := broadcast.NewHub(cfg.SSE.BroadcastBuffer)
	client := upstream.NewClient(cfg.Upstream)
	guilds := upstream.NewGuildService(client, cfg.Upstream)
	supplemental := poller.NewSupplementalData()

	// History persistence is optional: without DATABASE_URL the server runs
	// live-only. With it configured, a connection failure aborts startup.
	var (
		db          *database.DB
		store       history.Store
		eventWriter poller.EventWriter
	)
	if cfg.HistoryEnabled() {
		db, err = database.New(&cfg.Database)
		if err != nil {
			logging.Fatal().Err(err).Msg("failed to initialize database")
		}
		defer func() {
			if closeErr := db.Close(); closeErr != nil {
				logging.Error().Err(closeErr).Msg("error closing database")
			}
		}()
		store = db
		eventWriter = db

		// Resume the stream sequence from the persisted log.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		maxSeq, err := db.MaxStreamSeq(ctx)
		cancel()
		if err != nil {
			logging.Warn().Err(err).Msg("failed to initialize stream sequence counter")
		} else {
			state.StoreNextSeq(maxSeq)
			logging.Info().Uint64("seq", maxSeq).Msg("initialized stream sequence counter")
		}
	} else {
		logging.Warn().Msg("DATABASE_URL not set; history endpoints disabled")
	}

	historyService := history.NewService(store)
	territoryPoller := poller.New(client, state, hub, eventWriter, supplemental, cfg.Poller.Interval)

	handler := api.NewHandler(state, hub, historyService, guilds, cfg)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(handler),
		ReadTimeout:  cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
		// No WriteTimeout: SSE responses are long-lived streams.
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())

	if store != nil {
		tree.AddDataService(history.NewSnapshotter(store, state, cfg.History.SnapshotInterval))
		tree.AddDataService(history.NewRetentionTask(store,
			cfg.History.RetentionDays, cfg.History.RetentionCheckInterval, cfg.History.RetentionBatchSize))
	}

	tree.AddPipelineService(territoryPoller)
	tree.AddPipelineService(poller.NewExtraDataLoader(client, supplemental, cfg.Upstream.TerrExtraRefresh))
	tree.AddPipelineService(poller.NewGuildColorLoader(client, supplemental, cfg.Upstream.GuildColorsRefresh))

	tree.AddAPIService(services.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("http server added to supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		cancel()
	}()

	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logging.Warn().Str("service", svc.Name).Msg("service failed to stop within timeout")
	}

	logging.Info().Msg("server stopped gracefully")
}
