// Package ratelimit enforces per-key request quotas with fixed windows.
// Denied requests are rejected with a retry-after hint, never queued.
package ratelimit

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// Tier names a quota configuration.
type Tier struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// Default tiers, matching the upstream deployment profile.
const (
	TierStrict   = "strict"
	TierStandard = "standard"
	TierRelaxed  = "relaxed"
)

// DefaultTiers returns the built-in tier table.
func DefaultTiers() map[string]Tier {
	return map[string]Tier{
		TierStrict:   {MaxRequests: 10, Window: time.Minute},
		TierStandard: {MaxRequests: 60, Window: time.Minute},
		TierRelaxed:  {MaxRequests: 300, Window: time.Minute},
	}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

type bucket struct {
	windowStart time.Time
	count       int
}

// Limiter is a fixed-window counter per (tier, key). Safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	tiers   map[string]Tier
	buckets map[string]*bucket

	allowed atomic.Uint64
	denied  atomic.Uint64

	now func() time.Time
}

// New creates a Limiter with the given tier table; nil means DefaultTiers.
func New(tiers map[string]Tier) *Limiter {
	if tiers == nil {
		tiers = DefaultTiers()
	}
	return &Limiter{
		tiers:   tiers,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Allow checks and consumes one request for key under the named tier.
// Unknown tiers fall back to standard so a config typo fails safe, not open.
func (l *Limiter) Allow(key, tier string) Decision {
	t, ok := l.tiers[tier]
	if !ok {
		t = l.tiers[TierStandard]
		if t.MaxRequests == 0 {
			t = Tier{MaxRequests: 60, Window: time.Minute}
		}
	}

	now := l.now()
	bkey := tier + ":" + key

	l.mu.Lock()
	b, ok := l.buckets[bkey]
	if !ok || now.Sub(b.windowStart) >= t.Window {
		b = &bucket{windowStart: now}
		l.buckets[bkey] = b
	}

	if b.count >= t.MaxRequests {
		retry := t.Window - now.Sub(b.windowStart)
		l.mu.Unlock()
		l.denied.Add(1)
		return Decision{Allowed: false, RetryAfter: retry}
	}

	b.count++
	remaining := t.MaxRequests - b.count
	l.mu.Unlock()

	l.allowed.Add(1)
	return Decision{Allowed: true, Remaining: remaining}
}

// Sweep drops buckets whose window elapsed before cutoff. Called periodically
// so abandoned keys do not accumulate.
func (l *Limiter) Sweep(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for k, b := range l.buckets {
		if b.windowStart.Before(cutoff) {
			delete(l.buckets, k)
			removed++
		}
	}
	return removed
}

// Counters reports allowed/denied totals and live bucket count for health.
func (l *Limiter) Counters() (allowed, denied uint64, buckets int) {
	l.mu.Lock()
	buckets = len(l.buckets)
	l.mu.Unlock()
	return l.allowed.Load(), l.denied.Load(), buckets
}

// tierFile is the YAML configuration surface for tiers.
type tierFile struct {
	Tiers map[string]Tier `yaml:"tiers"`
}

// LoadTiers reads a tier table from a YAML file, filling gaps from defaults.
func LoadTiers(path string) (map[string]Tier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var file tierFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tier config: %w", err)
	}

	tiers := DefaultTiers()
	for name, t := range file.Tiers {
		if t.MaxRequests <= 0 {
			return nil, fmt.Errorf("tier %q: max_requests must be positive", name)
		}
		if t.Window <= 0 {
			t.Window = time.Minute
		}
		tiers[name] = t
	}
	return tiers, nil
}
