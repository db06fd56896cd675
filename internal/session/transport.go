// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package session

import (
	"bufio"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/SequoiaWynncraft/sequoia-map/internal/logging"
	"github.com/SequoiaWynncraft/sequoia-map/internal/models"
)

// Client implements API over HTTP against a Sequoia Map server.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an API client. httpClient may be nil for a default
// client with a 10s timeout; note the SSE runner uses its own client
// without a total timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

// LiveState fetches the gap-free handoff payload.
func (c *Client) LiveState(ctx context.Context) (models.LiveState, error) {
	var state models.LiveState
	err := c.getJSON(ctx, "/api/live/state", nil, &state)
	return state, err
}

// Territories fetches the bare territory map.
func (c *Client) Territories(ctx context.Context) (models.TerritoryMap, error) {
	var territories models.TerritoryMap
	err := c.getJSON(ctx, "/api/territories", nil, &territories)
	return territories, err
}

// At fetches the reconstructed ownership at t.
func (c *Client) At(ctx context.Context, t time.Time) (models.HistorySnapshot, error) {
	var snapshot models.HistorySnapshot
	query := url.Values{"t": {t.UTC().Format(time.RFC3339)}}
	err := c.getJSON(ctx, "/api/history/at", query, &snapshot)
	return snapshot, err
}

// Events fetches one page of history events.
func (c *Client) Events(ctx context.Context, from, to time.Time, afterSeq *uint64, limit int) (models.HistoryEvents, error) {
	query := url.Values{
		"from":  {from.UTC().Format(time.RFC3339)},
		"to":    {to.UTC().Format(time.RFC3339)},
		"limit": {strconv.Itoa(limit)},
	}
	if afterSeq != nil {
		query.Set("after_seq", strconv.FormatUint(*afterSeq, 10))
	}
	var events models.HistoryEvents
	err := c.getJSON(ctx, "/api/history/events", query, &events)
	return events, err
}

// Bounds fetches the timeline extent.
func (c *Client) Bounds(ctx context.Context) (models.HistoryBounds, error) {
	var bounds models.HistoryBounds
	err := c.getJSON(ctx, "/api/history/bounds", nil, &bounds)
	return bounds, err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logging.Debug().Err(closeErr).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s returned HTTP %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Runner connects a Session to the server's SSE stream, reconnecting with a
// fixed delay after drops. Each reconnect flags a resync so the session
// recovers any events missed while disconnected.
type Runner struct {
	session        *Session
	baseURL        string
	http           *http.Client
	reconnectDelay time.Duration
}

// NewRunner creates the SSE stream runner. The HTTP client must not carry a
// total request timeout; the stream is long-lived.
func NewRunner(session *Session, baseURL string) *Runner {
	return &Runner{
		session:        session,
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{},
		reconnectDelay: 2 * time.Second,
	}
}

// Run consumes the event stream until the context is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	for {
		if err := r.streamOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Msg("sse stream dropped; reconnecting")
			r.session.OnConnectionLost()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.reconnectDelay):
		}
	}
}

func (r *Runner) streamOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := r.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logging.Debug().Err(closeErr).Msg("failed to close stream body")
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned HTTP %d", resp.StatusCode)
	}

	r.session.OnConnectionOpen(ctx)

	reader := bufio.NewReader(resp.Body)
	var eventName string
	var data strings.Builder

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if eventName != "" && data.Len() > 0 {
				r.dispatch(ctx, eventName, data.String())
			}
			eventName = ""
			data.Reset()

		case strings.HasPrefix(line, ":"):
			// Keep-alive comment frame.

		case strings.HasPrefix(line, "event: "):
			eventName = strings.TrimPrefix(line, "event: ")

		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(line, "data: "))

		case strings.HasPrefix(line, "id: "):
			// The payload carries its own seq; the frame id is redundant.
		}
	}
}

func (r *Runner) dispatch(ctx context.Context, eventName, payload string) {
	var event models.TerritoryEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		logging.Warn().Err(err).Str("event", eventName).Msg("failed to decode sse payload")
		return
	}

	switch eventName {
	case "snapshot":
		r.session.HandleSnapshot(ctx, event.Seq, event.Territories)
	case "update":
		r.session.HandleUpdate(ctx, event.Seq, event.Changes)
	default:
		logging.Debug().Str("event", eventName).Msg("ignoring unknown sse event")
	}
}
