package storage

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"
)

// Tier selects which cache a query result lives in. TierNone bypasses the
// cache entirely; TierAuto infers the tier from the statement text.
type Tier string

const (
	TierNone      Tier = ""
	TierAuto      Tier = "auto"
	TierQuick     Tier = "quick"
	TierMedium    Tier = "medium"
	TierReport    Tier = "report"
	TierDashboard Tier = "dashboard"
)

type TierConfig struct {
	TTL        time.Duration
	MaxEntries int
}

type CacheConfig struct {
	Quick         TierConfig
	Medium        TierConfig
	Report        TierConfig
	Dashboard     TierConfig
	SweepInterval time.Duration
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Quick:         TierConfig{TTL: 5 * time.Minute, MaxEntries: 5000},
		Medium:        TierConfig{TTL: 15 * time.Minute, MaxEntries: 10000},
		Report:        TierConfig{TTL: 30 * time.Minute, MaxEntries: 2000},
		Dashboard:     TierConfig{TTL: 10 * time.Minute, MaxEntries: 500},
		SweepInterval: 3 * time.Minute,
	}
}

type cacheEntry struct {
	value      any
	insertedAt time.Time
}

// QueryCache is the tiered read cache. Each tier has its own TTL and capacity
// and is swept independently. The clock is injected so tests can age entries
// without sleeping.
type QueryCache struct {
	cfg CacheConfig
	now func() time.Time

	mu    sync.Mutex
	tiers map[Tier]map[string]cacheEntry

	sweepStop chan struct{}
	sweepDone chan struct{}
}

func NewQueryCache(cfg CacheConfig, now func() time.Time) *QueryCache {
	if now == nil {
		now = time.Now
	}
	c := &QueryCache{
		cfg: cfg,
		now: now,
		tiers: map[Tier]map[string]cacheEntry{
			TierQuick:     {},
			TierMedium:    {},
			TierReport:    {},
			TierDashboard: {},
		},
	}
	if cfg.SweepInterval > 0 {
		c.sweepStop = make(chan struct{})
		c.sweepDone = make(chan struct{})
		go c.sweepLoop()
	}
	return c
}

// CacheKey derives the cache key from the statement and a deterministic
// serialization of its parameters.
func CacheKey(query string, params []any) string {
	if len(params) == 0 {
		return query + "[]"
	}
	raw, err := json.Marshal(params)
	if err != nil {
		// Unserializable parameters produce an unshareable key, which
		// degrades to a cache miss.
		return query + "!"
	}
	return query + string(raw)
}

// InferTier routes a statement to a tier by its text: aggregates go to the
// dashboard tier, joins and groupings to the report tier, point lookups to
// the quick tier, everything else to medium.
func InferTier(query string) Tier {
	switch {
	case strings.Contains(query, "dashboard"), strings.Contains(query, "COUNT"), strings.Contains(query, "SUM"):
		return TierDashboard
	case strings.Contains(query, "relatório"), strings.Contains(query, "GROUP BY"), strings.Contains(query, "JOIN"):
		return TierReport
	case strings.Contains(query, "SELECT *"), strings.Contains(query, "WHERE id ="):
		return TierQuick
	default:
		return TierMedium
	}
}

func (c *QueryCache) tierConfig(tier Tier) TierConfig {
	switch tier {
	case TierQuick:
		return c.cfg.Quick
	case TierReport:
		return c.cfg.Report
	case TierDashboard:
		return c.cfg.Dashboard
	default:
		return c.cfg.Medium
	}
}

func (c *QueryCache) resolve(tier Tier, query string) Tier {
	if tier == TierAuto {
		tier = InferTier(query)
	}
	if _, ok := c.tiers[tier]; !ok {
		tier = TierMedium
	}
	return tier
}

// Get returns the cached value when present and fresh. A stale hit is a miss;
// the entry stays in place and is overwritten by the next successful store.
func (c *QueryCache) Get(tier Tier, query string, params []any) (any, bool) {
	tier = c.resolve(tier, query)
	key := CacheKey(query, params)
	ttl := c.tierConfig(tier).TTL

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.tiers[tier][key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.insertedAt) >= ttl {
		return nil, false
	}
	return entry.value, true
}

// Put stores a read result. When the tier is at capacity the oldest 20% of
// entries by insertion time are evicted first, a cheap approximation of LRU.
func (c *QueryCache) Put(tier Tier, query string, params []any, value any) {
	tier = c.resolve(tier, query)
	key := CacheKey(query, params)
	cfg := c.tierConfig(tier)

	c.mu.Lock()
	defer c.mu.Unlock()
	entries := c.tiers[tier]
	if cfg.MaxEntries > 0 && len(entries) >= cfg.MaxEntries {
		evictOldest(entries, cfg.MaxEntries/5)
	}
	entries[key] = cacheEntry{value: value, insertedAt: c.now()}
}

func evictOldest(entries map[string]cacheEntry, count int) {
	if count <= 0 {
		count = 1
	}
	type keyed struct {
		key string
		at  time.Time
	}
	ordered := make([]keyed, 0, len(entries))
	for key, entry := range entries {
		ordered = append(ordered, keyed{key: key, at: entry.insertedAt})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].at.Before(ordered[j].at) })
	if count > len(ordered) {
		count = len(ordered)
	}
	for _, victim := range ordered[:count] {
		delete(entries, victim.key)
	}
}

// Clear purges every tier when pattern is empty, otherwise every entry whose
// key contains pattern. Returns the number of removed entries. Invalidation
// is substring-based, not table-aware.
func (c *QueryCache) Clear(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pattern == "" {
		total := 0
		for tier, entries := range c.tiers {
			total += len(entries)
			c.tiers[tier] = map[string]cacheEntry{}
		}
		return total
	}

	cleared := 0
	for _, entries := range c.tiers {
		for key := range entries {
			if strings.Contains(key, pattern) {
				delete(entries, key)
				cleared++
			}
		}
	}
	return cleared
}

// Len reports the total entry count across tiers.
func (c *QueryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, entries := range c.tiers {
		total += len(entries)
	}
	return total
}

// TierLen reports the entry count of a single tier.
func (c *QueryCache) TierLen(tier Tier) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tiers[tier])
}

// Sweep removes expired entries from every tier. Runs periodically in the
// background; exported so tests and maintenance can force a pass.
func (c *QueryCache) Sweep() {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for tier, entries := range c.tiers {
		ttl := c.tierConfig(tier).TTL
		for key, entry := range entries {
			if now.Sub(entry.insertedAt) >= ttl {
				delete(entries, key)
			}
		}
	}
}

func (c *QueryCache) sweepLoop() {
	defer close(c.sweepDone)
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.sweepStop:
			return
		}
	}
}

// Close stops the background sweeper.
func (c *QueryCache) Close() {
	if c.sweepStop == nil {
		return
	}
	select {
	case <-c.sweepStop:
	default:
		close(c.sweepStop)
		<-c.sweepDone
	}
}
