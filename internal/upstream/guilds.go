// Sequoia Map - Real-Time Wynncraft Territory Observability
// Copyright 2026 SequoiaWynncraft
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/SequoiaWynncraft/sequoia-map

package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/SequoiaWynncraft/sequoia-map/internal/config"
	"github.com/SequoiaWynncraft/sequoia-map/internal/metrics"
)

// cachedGuild is one TTL-bound guild lookup result.
type cachedGuild struct {
	data      []byte
	fetchedAt time.Time
}

// GuildService proxies on-demand guild lookups with a TTL cache bounded to
// a fixed number of entries and a rate limiter on upstream fetches.
type GuildService struct {
	client     *Client
	ttl        time.Duration
	maxEntries int
	limiter    *rate.Limiter

	mu    sync.Mutex
	cache map[string]cachedGuild

	now func() time.Time
}

// NewGuildService creates the guild lookup proxy.
func NewGuildService(client *Client, cfg config.UpstreamConfig) *GuildService {
	perSecond := cfg.GuildFetchPerSecond
	if perSecond <= 0 {
		perSecond = 8
	}
	maxEntries := cfg.GuildCacheMaxEntries
	if maxEntries <= 0 {
		maxEntries = 64
	}
	ttl := cfg.GuildCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &GuildService{
		client:     client,
		ttl:        ttl,
		maxEntries: maxEntries,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), int(perSecond)+1),
		cache:      make(map[string]cachedGuild),
		now:        time.Now,
	}
}

// Lookup returns the raw guild JSON for name, serving from cache within the
// TTL and fetching upstream otherwise. Upstream status errors (404 in
// particular) surface as *StatusError.
func (g *GuildService) Lookup(ctx context.Context, name string) ([]byte, error) {
	g.mu.Lock()
	if entry, ok := g.cache[name]; ok && g.now().Sub(entry.fetchedAt) < g.ttl {
		g.mu.Unlock()
		return entry.data, nil
	}
	g.mu.Unlock()

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("guild fetch rate limit: %w", err)
	}

	url := fmt.Sprintf("%s/%s", g.client.cfg.GuildURL, name)
	data, err := g.client.get(ctx, url)
	metrics.RecordUpstreamFetch("guild", err)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.store(name, data)
	size := len(g.cache)
	g.mu.Unlock()
	metrics.GuildCacheSize.Set(float64(size))

	return data, nil
}

// CacheSize returns the number of cached guild entries.
func (g *GuildService) CacheSize() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.cache)
}

// store inserts under g.mu, evicting the oldest entry when full.
func (g *GuildService) store(name string, data []byte) {
	if len(g.cache) >= g.maxEntries {
		if _, exists := g.cache[name]; !exists {
			oldestName := ""
			var oldestAt time.Time
			for cachedName, entry := range g.cache {
				if oldestName == "" || entry.fetchedAt.Before(oldestAt) {
					oldestName = cachedName
					oldestAt = entry.fetchedAt
				}
			}
			delete(g.cache, oldestName)
		}
	}
	g.cache[name] = cachedGuild{data: data, fetchedAt: g.now()}
}
