// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package poller

import (
	"context"
	"sync"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
	"github.com/SequoiaWynncraft/sequoia-map/internal/upstream"
)

// SupplementalData caches the background-loaded tables merged into every
// polled map: per-territory resources/connections and per-guild colors.
// Written by the loader services, read by the poll cycle's merge step.
type SupplementalData struct {
	mu     sync.RWMutex
	extra  map[string]upstream.ExtraTerrInfo
	colors map[string]models.RGB
}

// NewSupplementalData creates empty supplemental caches. A partial merge is
// acceptable: until the loaders succeed, resources and connections default
// to empty.
func NewSupplementalData() *SupplementalData {
	return &SupplementalData{
		extra:  map[string]upstream.ExtraTerrInfo{},
		colors: map[string]models.RGB{},
	}
}

// SetExtra replaces the supplemental territory table.
func (s *SupplementalData) SetExtra(extra map[string]upstream.ExtraTerrInfo) {
	s.mu.Lock()
	s.extra = extra
	s.mu.Unlock()
}

// SetColors replaces the guild color table.
func (s *SupplementalData) SetColors(colors map[string]models.RGB) {
	s.mu.Lock()
	s.colors = colors
	s.mu.Unlock()
}

// Merge overlays the supplemental tables onto the polled map in place: for
// territories present in the extra table, resources and connections are
// overwritten; guilds with a known color get it set.
func (s *SupplementalData) Merge(territories models.TerritoryMap) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, territory := range territories {
		if info, ok := s.extra[name]; ok {
			territory.Resources = info.Resources
			territory.Connections = info.Connections
		}
		if rgb, ok := s.colors[territory.Guild.Name]; ok {
			color := rgb
			territory.Guild.Color = &color
		}
		territories[name] = territory
	}
}

// ExtraDataLoader periodically refreshes the supplemental territory table.
// Implements suture.Service.
type ExtraDataLoader struct {
	client   *upstream.Client
	data     *SupplementalData
	interval time.Duration
}

// NewExtraDataLoader creates the hourly supplemental-data loader.
func NewExtraDataLoader(client *upstream.Client, data *SupplementalData, interval time.Duration) *ExtraDataLoader {
	if interval <= 0 {
		interval = time.Hour
	}
	return &ExtraDataLoader{client: client, data: data, interval: interval}
}

// Serve implements suture.Service. The first fetch runs immediately.
func (l *ExtraDataLoader) Serve(ctx context.Context) error {
	l.loadOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.loadOnce(ctx)
		}
	}
}

func (l *ExtraDataLoader) loadOnce(ctx context.Context) {
	extra, err := l.client.FetchExtraData(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to fetch extra territory data")
		return
	}
	l.data.SetExtra(extra)
	logging.Info().Int("territories", len(extra)).Msg("loaded extra territory data")
}

// String implements fmt.Stringer for supervisor logging.
func (l *ExtraDataLoader) String() string {
	return "extra-data-loader"
}

// GuildColorLoader periodically refreshes the guild color table.
// Implements suture.Service.
type GuildColorLoader struct {
	client   *upstream.Client
	data     *SupplementalData
	interval time.Duration
}

// NewGuildColorLoader creates the guild color loader.
func NewGuildColorLoader(client *upstream.Client, data *SupplementalData, interval time.Duration) *GuildColorLoader {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &GuildColorLoader{client: client, data: data, interval: interval}
}

// Serve implements suture.Service. The first fetch runs immediately.
func (l *GuildColorLoader) Serve(ctx context.Context) error {
	l.loadOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.loadOnce(ctx)
		}
	}
}

func (l *GuildColorLoader) loadOnce(ctx context.Context) {
	colors, err := l.client.FetchGuildColors(ctx)
	if err != nil {
		logging.Warn().Err(err).Msg("failed to fetch guild colors")
		return
	}
	l.data.SetColors(colors)
	logging.Info().Int("guilds", len(colors)).Msg("loaded guild colors")
}

// String implements fmt.Stringer for supervisor logging.
func (l *GuildColorLoader) String() string {
	return "guild-color-loader"
}
