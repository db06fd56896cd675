// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/sequoia-map/config.yaml",
	"/etc/sequoia-map/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all default values. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3000,
			Timeout: 30 * time.Second,
		},
		Upstream: UpstreamConfig{
			TerritoryURL:   "https://api.wynncraft.com/v3/guild/list/territory",
			GuildURL:       "https://api.wynncraft.com/v3/guild",
			TerrExtraURL:   "https://gist.githubusercontent.com/Zatzou/14c82f2df0eb4093dfa1d543b78a73a8/raw/d03273fce33c031498c07e21b94f17644c8aae98/terrextra.json",
			GuildColorsURL: "https://athena.wynntils.com/cache/get/territoryList",

			HTTPTimeout:    10 * time.Second,
			ConnectTimeout: 3 * time.Second,

			TerrExtraRefresh:   time.Hour,
			GuildColorsRefresh: 10 * time.Minute,

			GuildCacheTTL:        10 * time.Minute,
			GuildCacheMaxEntries: 64,
			GuildFetchPerSecond:  8,
		},
		Poller: PollerConfig{
			Interval: 10 * time.Second,
		},
		SSE: SSEConfig{
			BroadcastBuffer:   256,
			KeepaliveInterval: 15 * time.Second,
		},
		Database: DatabaseConfig{
			URL:            "", // history disabled unless DATABASE_URL is set
			MaxConnections: 10,
		},
		History: HistoryConfig{
			SnapshotInterval:       6 * time.Hour,
			RetentionDays:          365,
			RetentionCheckInterval: 24 * time.Hour,
			RetentionBatchSize:     10_000,
		},
		Features: FeatureConfig{
			SeqLiveHandoffV1: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in values
//  2. Config file: optional YAML (CONFIG_PATH or DefaultConfigPaths)
//  3. Environment variables: highest priority
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("", ".", envTransformValue), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
// Unmapped variables are skipped so random environment does not pollute the
// config.
//
// Duration-valued seconds variables (POLL_INTERVAL_SECS et al.) keep their
// historical names; their values parse as plain integers of seconds or as Go
// duration strings.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		// Upstream
		"upstream_territory_url":        "upstream.territory_url",
		"upstream_guild_url":            "upstream.guild_url",
		"terrextra_url":                 "upstream.terrextra_url",
		"guild_colors_url":              "upstream.guild_colors_url",
		"upstream_http_timeout_secs":    "upstream.http_timeout",
		"upstream_connect_timeout_secs": "upstream.connect_timeout",
		"terrextra_refresh_secs":        "upstream.terrextra_refresh",
		"guild_colors_refresh_secs":     "upstream.guild_colors_refresh",
		"guild_cache_ttl_secs":          "upstream.guild_cache_ttl",
		"guild_cache_max_entries":       "upstream.guild_cache_max_entries",
		"guild_fetch_per_second":        "upstream.guild_fetch_per_second",

		// Poller
		"poll_interval_secs": "poller.interval",

		// SSE
		"sse_broadcast_buffer": "sse.broadcast_buffer",
		"sse_keepalive_secs":   "sse.keepalive_interval",

		// Database
		"database_url":       "database.url",
		"db_max_connections": "database.max_connections",

		// History
		"snapshot_interval_secs": "history.snapshot_interval",
		"retention_days":         "history.retention_days",
		"retention_check_secs":   "history.retention_check_interval",
		"retention_batch_size":   "history.retention_batch_size",

		// Features
		"seq_live_handoff_v1": "features.seq_live_handoff_v1",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}

// secondsPaths are duration-valued config paths fed by *_SECS environment
// variables whose values are plain integers of seconds.
var secondsPaths = map[string]bool{
	"server.timeout":                   true,
	"upstream.http_timeout":            true,
	"upstream.connect_timeout":         true,
	"upstream.terrextra_refresh":       true,
	"upstream.guild_colors_refresh":    true,
	"upstream.guild_cache_ttl":         true,
	"poller.interval":                  true,
	"sse.keepalive_interval":           true,
	"history.snapshot_interval":        true,
	"history.retention_check_interval": true,
}

// envTransformValue maps an environment variable to its koanf path and
// normalizes bare-integer *_SECS values into duration strings.
func envTransformValue(key, value string) (string, interface{}) {
	path := envTransformFunc(key)
	if path == "" {
		return "", nil
	}
	if secondsPaths[path] && isAllDigits(value) {
		return path, value + "s"
	}
	return path, value
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
