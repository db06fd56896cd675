// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

// Package upstream talks to the authoritative Wynncraft API and the
// supplemental data sources. One shared HTTP client with separate connect
// and total timeouts is used for every fetch; the territory fetch sits
// behind a circuit breaker so a flapping upstream cannot pile up requests.
package upstream

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/SequoiaWynncraft/sequoia-map/internal/config"
	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

const userAgent = "sequoia-map/1.0"

// maxResponseBytes caps upstream response bodies (the full territory map is
// well under 1 MiB).
const maxResponseBytes = 8 << 20

// ExtraTerrInfo is the supplemental per-territory data (resources and
// connection graph) merged into the polled map.
type ExtraTerrInfo struct {
	Resources   models.Resources `json:"resources"`
	Connections []string         `json:"connections"`
}

// Client is the shared upstream HTTP client.
type Client struct {
	http    *http.Client
	cfg     config.UpstreamConfig
	breaker *gobreaker.CircuitBreaker[[]byte]
}

// NewClient builds the shared client with the configured connect and total
// timeouts.
func NewClient(cfg config.UpstreamConfig) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:    "wynncraft-territories",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("upstream circuit breaker state changed")
		},
	})

	return &Client{
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.HTTPTimeout,
		},
		cfg:     cfg,
		breaker: breaker,
	}
}

// FetchTerritories fetches the authoritative territory map through the
// circuit breaker.
func (c *Client) FetchTerritories(ctx context.Context) (models.TerritoryMap, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		return c.get(ctx, c.cfg.TerritoryURL)
	})
	metrics.RecordUpstreamFetch("territories", err)
	if err != nil {
		return nil, fmt.Errorf("fetch territories: %w", err)
	}

	var territories models.TerritoryMap
	if err := json.Unmarshal(body, &territories); err != nil {
		return nil, fmt.Errorf("decode territories: %w", err)
	}
	return territories, nil
}

// FetchExtraData fetches the supplemental territory table (resources and
// connections).
func (c *Client) FetchExtraData(ctx context.Context) (map[string]ExtraTerrInfo, error) {
	body, err := c.get(ctx, c.cfg.TerrExtraURL)
	metrics.RecordUpstreamFetch("terrextra", err)
	if err != nil {
		return nil, fmt.Errorf("fetch extra territory data: %w", err)
	}

	var extra map[string]ExtraTerrInfo
	if err := json.Unmarshal(body, &extra); err != nil {
		return nil, fmt.Errorf("decode extra territory data: %w", err)
	}
	return extra, nil
}

type colorListResponse struct {
	Territories map[string]struct {
		Guild      string `json:"guild"`
		GuildColor string `json:"guildColor"`
	} `json:"territories"`
}

// FetchGuildColors fetches the guild color table keyed by guild name.
func (c *Client) FetchGuildColors(ctx context.Context) (map[string]models.RGB, error) {
	body, err := c.get(ctx, c.cfg.GuildColorsURL)
	metrics.RecordUpstreamFetch("colors", err)
	if err != nil {
		return nil, fmt.Errorf("fetch guild colors: %w", err)
	}

	var payload colorListResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("decode guild colors: %w", err)
	}

	colors := make(map[string]models.RGB, len(payload.Territories))
	for _, entry := range payload.Territories {
		rgb, ok := ParseHexColor(entry.GuildColor)
		if !ok {
			continue
		}
		if _, exists := colors[entry.Guild]; !exists {
			colors[entry.Guild] = rgb
		}
	}
	return colors, nil
}

// StatusError reports a non-2xx upstream response so handlers can propagate
// the status (404 from guild lookups in particular).
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d for %s", e.StatusCode, e.URL)
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logging.Warn().Err(closeErr).Msg("failed to close upstream response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return body, nil
}

// ParseHexColor parses "#RRGGBB" (or "RRGGBB") into an RGB triple.
func ParseHexColor(hex string) (models.RGB, bool) {
	if len(hex) > 0 && hex[0] == '#' {
		hex = hex[1:]
	}
	if len(hex) != 6 {
		return models.RGB{}, false
	}

	var out models.RGB
	for i := 0; i < 3; i++ {
		hi, ok1 := hexNibble(hex[i*2])
		lo, ok2 := hexNibble(hex[i*2+1])
		if !ok1 || !ok2 {
			return models.RGB{}, false
		}
		out[i] = hi<<4 | lo
	}
	return out, true
}

func hexNibble(c byte) (uint8, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}
