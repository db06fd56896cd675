// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/SequoiaWynncraft/sequoia-map/internal/config"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

func testConfig(serverURL string) config.UpstreamConfig {
	return config.UpstreamConfig{
		TerritoryURL:         serverURL + "/territories",
		GuildURL:             serverURL + "/guild",
		TerrExtraURL:         serverURL + "/terrextra",
		GuildColorsURL:       serverURL + "/colors",
		HTTPTimeout:          2 * time.Second,
		ConnectTimeout:       time.Second,
		GuildCacheTTL:        time.Minute,
		GuildCacheMaxEntries: 2,
		GuildFetchPerSecond:  1000,
	}
}

func TestFetchTerritoriesDecodesMap(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/territories" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{
			"Detlas": {
				"guild": {"uuid": "g1", "name": "Guild One", "prefix": "G1"},
				"acquired": "2026-07-01T12:00:00Z",
				"location": {"start": [-100, 50], "end": [-50, 120]},
				"resources": {"emeralds": 9000, "ore": 0, "crops": 0, "fish": 0, "wood": 0},
				"connections": []
			}
		}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	territories, err := client.FetchTerritories(context.Background())
	if err != nil {
		t.Fatalf("FetchTerritories() failed: %v", err)
	}

	detlas, ok := territories["Detlas"]
	if !ok {
		t.Fatal("Detlas missing from decoded map")
	}
	if detlas.Guild.UUID != "g1" || detlas.Resources.Emeralds != 9000 {
		t.Errorf("decoded territory = %+v", detlas)
	}
}

func TestFetchTerritoriesPropagatesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	_, err := client.FetchTerritories(context.Background())
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusBadGateway {
		t.Errorf("expected StatusError 502, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	for i := 0; i < 8; i++ {
		if _, err := client.FetchTerritories(context.Background()); err == nil {
			t.Fatal("expected failure")
		}
	}

	// After 5 consecutive failures the breaker opens and stops hitting the
	// upstream.
	if hits > 5 {
		t.Errorf("breaker did not open: upstream hit %d times", hits)
	}
}

func TestFetchGuildColorsParsesHex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"territories": {
			"Detlas": {"guild": "Guild One", "guildColor": "#2a5bc9"},
			"Ragni": {"guild": "Guild Two", "guildColor": "not-a-color"}
		}}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL))
	colors, err := client.FetchGuildColors(context.Background())
	if err != nil {
		t.Fatalf("FetchGuildColors() failed: %v", err)
	}

	if got := colors["Guild One"]; got != (models.RGB{0x2a, 0x5b, 0xc9}) {
		t.Errorf("Guild One color = %v", got)
	}
	if _, ok := colors["Guild Two"]; ok {
		t.Error("invalid color should be skipped")
	}
}

func TestParseHexColor(t *testing.T) {
	tests := []struct {
		input string
		want  models.RGB
		ok    bool
	}{
		{"#ff0080", models.RGB{255, 0, 128}, true},
		{"FF0080", models.RGB{255, 0, 128}, true},
		{"#fff", models.RGB{}, false},
		{"#gg0000", models.RGB{}, false},
		{"", models.RGB{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseHexColor(tt.input)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseHexColor(%q) = %v, %v; want %v, %v", tt.input, got, ok, tt.want, tt.ok)
		}
	}
}

func TestGuildLookupCachesWithinTTL(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_, _ = w.Write([]byte(`{"name": "` + r.URL.Path + `"}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	service := NewGuildService(NewClient(cfg), cfg)

	for i := 0; i < 3; i++ {
		if _, err := service.Lookup(context.Background(), "Guild%20One"); err != nil {
			t.Fatalf("Lookup() failed: %v", err)
		}
	}
	if hits != 1 {
		t.Errorf("upstream hit %d times, want 1 (cached)", hits)
	}
}

func TestGuildLookupEvictsOldestWhenFull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	cfg := testConfig(server.URL) // max 2 entries
	service := NewGuildService(NewClient(cfg), cfg)

	current := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	service.now = func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}

	for _, name := range []string{"a", "b", "c"} {
		if _, err := service.Lookup(context.Background(), name); err != nil {
			t.Fatalf("Lookup(%s) failed: %v", name, err)
		}
	}
	if got := service.CacheSize(); got != 2 {
		t.Errorf("cache size = %d, want 2", got)
	}
}

func TestGuildLookupPropagates404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := testConfig(server.URL)
	service := NewGuildService(NewClient(cfg), cfg)

	_, err := service.Lookup(context.Background(), "Nope")
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected StatusError 404, got %v", err)
	}
}
