// probes/cache.go
package probes

import (
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default verdict lifetimes. Negative verdicts expire quickly so a user who
// just completed a task is not told "no" for long.
const (
	DefaultPositiveTTL = 30 * time.Minute
	DefaultNegativeTTL = 30 * time.Second
)

type cacheEntry struct {
	verdict   Verdict
	expiresAt time.Time
}

// VerdictCache holds recent probe verdicts keyed by probe, subject and target.
// Each entry lives for a fixed TTL from insertion.
type VerdictCache struct {
	mu          sync.Mutex
	clock       clockwork.Clock
	positiveTTL time.Duration
	negativeTTL time.Duration
	entries     map[string]cacheEntry
}

func NewVerdictCache(clock clockwork.Clock, positiveTTL, negativeTTL time.Duration) *VerdictCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if positiveTTL <= 0 {
		positiveTTL = DefaultPositiveTTL
	}
	if negativeTTL < 0 {
		negativeTTL = 0
	}
	return &VerdictCache{
		clock:       clock,
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		entries:     make(map[string]cacheEntry),
	}
}

func cacheKey(probe, subject, target string) string {
	return probe + "|" + subject + "|" + strings.ToLower(strings.TrimSpace(target))
}

// Get returns a live cached verdict.
func (c *VerdictCache) Get(probe, subject, target string) (Verdict, bool) {
	if c == nil {
		return Verdict{}, false
	}
	key := cacheKey(probe, subject, target)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Verdict{}, false
	}
	if !c.clock.Now().Before(e.expiresAt) {
		delete(c.entries, key)
		return Verdict{}, false
	}
	return e.verdict, true
}

// Put stores v. Failed and optimistic verdicts are never cached.
func (c *VerdictCache) Put(probe, subject, target string, v Verdict) {
	if c == nil || v.Failed() || v.Optimistic {
		return
	}
	ttl := c.positiveTTL
	if !v.Verified {
		ttl = c.negativeTTL
	}
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(probe, subject, target)] = cacheEntry{verdict: v, expiresAt: c.clock.Now().Add(ttl)}
}

// Purge drops expired entries and returns how many were removed.
func (c *VerdictCache) Purge() int {
	if c == nil {
		return 0
	}
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Reset empties the cache.
func (c *VerdictCache) Reset() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
}

// Len is the number of stored entries, expired or not.
func (c *VerdictCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
