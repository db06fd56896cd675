// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package config

import (
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}

	if cfg.Poller.Interval != 10*time.Second {
		t.Errorf("default poll interval = %s, want 10s", cfg.Poller.Interval)
	}
	if cfg.SSE.BroadcastBuffer != 256 {
		t.Errorf("default broadcast buffer = %d, want 256", cfg.SSE.BroadcastBuffer)
	}
	if cfg.History.RetentionDays != 365 {
		t.Errorf("default retention = %d days, want 365", cfg.History.RetentionDays)
	}
	if !cfg.Features.SeqLiveHandoffV1 {
		t.Error("seq_live_handoff_v1 should default on")
	}
	if cfg.HistoryEnabled() {
		t.Error("history should be disabled without DATABASE_URL")
	}
}

func TestLoadAppliesEnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "/data/history.duckdb")
	t.Setenv("SSE_BROADCAST_BUFFER", "512")
	t.Setenv("POLL_INTERVAL_SECS", "30")
	t.Setenv("UPSTREAM_HTTP_TIMEOUT_SECS", "20")
	t.Setenv("UPSTREAM_CONNECT_TIMEOUT_SECS", "5")
	t.Setenv("SEQ_LIVE_HANDOFF_V1", "false")
	t.Setenv("DB_MAX_CONNECTIONS", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Database.URL != "/data/history.duckdb" {
		t.Errorf("database url = %q", cfg.Database.URL)
	}
	if !cfg.HistoryEnabled() {
		t.Error("history should be enabled with DATABASE_URL set")
	}
	if cfg.SSE.BroadcastBuffer != 512 {
		t.Errorf("broadcast buffer = %d, want 512", cfg.SSE.BroadcastBuffer)
	}
	if cfg.Poller.Interval != 30*time.Second {
		t.Errorf("poll interval = %s, want 30s", cfg.Poller.Interval)
	}
	if cfg.Upstream.HTTPTimeout != 20*time.Second {
		t.Errorf("http timeout = %s, want 20s", cfg.Upstream.HTTPTimeout)
	}
	if cfg.Upstream.ConnectTimeout != 5*time.Second {
		t.Errorf("connect timeout = %s, want 5s", cfg.Upstream.ConnectTimeout)
	}
	if cfg.Features.SeqLiveHandoffV1 {
		t.Error("feature flag should be off")
	}
	if cfg.Database.MaxConnections != 4 {
		t.Errorf("db max connections = %d, want 4", cfg.Database.MaxConnections)
	}
}

func TestUnmappedEnvironmentIsIgnored(t *testing.T) {
	t.Setenv("PATH_INFO_GARBAGE", "whatever")

	if _, err := Load(); err != nil {
		t.Fatalf("Load() failed on unrelated env: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sub-second poll interval", func(c *Config) { c.Poller.Interval = 500 * time.Millisecond }},
		{"connect timeout above total", func(c *Config) { c.Upstream.ConnectTimeout = time.Minute }},
		{"zero broadcast buffer", func(c *Config) { c.SSE.BroadcastBuffer = 0 }},
		{"invalid log format", func(c *Config) { c.Logging.Format = "xml" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestEnvTransformValueNormalizesSeconds(t *testing.T) {
	path, value := envTransformValue("POLL_INTERVAL_SECS", "10")
	if path != "poller.interval" || value != "10s" {
		t.Errorf("got (%q, %v)", path, value)
	}

	// Full duration strings pass through untouched.
	path, value = envTransformValue("POLL_INTERVAL_SECS", "2m")
	if path != "poller.interval" || value != "2m" {
		t.Errorf("got (%q, %v)", path, value)
	}

	// Unmapped variables are dropped.
	if path, _ := envTransformValue("HOME", "/root"); path != "" {
		t.Errorf("expected unmapped env to be skipped, got %q", path)
	}
}
