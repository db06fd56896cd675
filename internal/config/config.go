// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package config loads the server configuration via Koanf v2 with layered
// sources (highest priority wins): environment variables, an optional YAML
// config file, and built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the Sequoia Map server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Upstream UpstreamConfig `koanf:"upstream"`
	Poller   PollerConfig   `koanf:"poller"`
	SSE      SSEConfig      `koanf:"sse"`
	Database DatabaseConfig `koanf:"database"`
	History  HistoryConfig  `koanf:"history"`
	Features FeatureConfig  `koanf:"features"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// UpstreamConfig holds the upstream authority endpoints and client limits.
type UpstreamConfig struct {
	TerritoryURL   string `koanf:"territory_url" validate:"required,url"`
	GuildURL       string `koanf:"guild_url" validate:"required,url"`
	TerrExtraURL   string `koanf:"terrextra_url" validate:"omitempty,url"`
	GuildColorsURL string `koanf:"guild_colors_url" validate:"omitempty,url"`

	// HTTPTimeout bounds the whole request; ConnectTimeout bounds dialing.
	HTTPTimeout    time.Duration `koanf:"http_timeout"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	TerrExtraRefresh   time.Duration `koanf:"terrextra_refresh"`
	GuildColorsRefresh time.Duration `koanf:"guild_colors_refresh"`

	GuildCacheTTL        time.Duration `koanf:"guild_cache_ttl"`
	GuildCacheMaxEntries int           `koanf:"guild_cache_max_entries" validate:"min=1"`
	GuildFetchPerSecond  float64       `koanf:"guild_fetch_per_second" validate:"gt=0"`
}

// PollerConfig holds the poll cadence.
type PollerConfig struct {
	Interval time.Duration `koanf:"interval"`
}

// SSEConfig holds broadcast fan-out settings.
type SSEConfig struct {
	BroadcastBuffer   int           `koanf:"broadcast_buffer" validate:"min=1"`
	KeepaliveInterval time.Duration `koanf:"keepalive_interval"`
}

// DatabaseConfig holds history persistence settings. URL is the DuckDB
// database path (or DSN); when empty the server runs without history and the
// history endpoints return 503.
type DatabaseConfig struct {
	URL            string `koanf:"url"`
	MaxConnections int    `koanf:"max_connections" validate:"min=1"`
}

// HistoryConfig holds the snapshot and retention task settings.
type HistoryConfig struct {
	SnapshotInterval       time.Duration `koanf:"snapshot_interval"`
	RetentionDays          int           `koanf:"retention_days" validate:"min=1"`
	RetentionCheckInterval time.Duration `koanf:"retention_check_interval"`
	RetentionBatchSize     int           `koanf:"retention_batch_size" validate:"min=1"`
}

// FeatureConfig holds feature flags.
type FeatureConfig struct {
	// SeqLiveHandoffV1 is logged at startup and reported in the health
	// payload. The poller assigns real sequence numbers whether it is on or
	// off; setting it off does not switch the server to seq=0 events.
	SeqLiveHandoffV1 bool `koanf:"seq_live_handoff_v1"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// HistoryEnabled reports whether a history database is configured.
func (c *Config) HistoryEnabled() bool {
	return c.Database.URL != ""
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if c.Poller.Interval < time.Second {
		return fmt.Errorf("poller interval %s is below the 1s minimum", c.Poller.Interval)
	}
	if c.Upstream.ConnectTimeout > c.Upstream.HTTPTimeout {
		return fmt.Errorf("upstream connect timeout %s exceeds total timeout %s",
			c.Upstream.ConnectTimeout, c.Upstream.HTTPTimeout)
	}
	return nil
}
