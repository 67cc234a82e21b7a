package ratelimit

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestLimiter(tiers map[string]Tier) (*Limiter, *time.Time) {
	l := New(tiers)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestFixedWindowDeniesSixthRequest(t *testing.T) {
	l, now := newTestLimiter(map[string]Tier{
		TierStandard: {MaxRequests: 5, Window: 60 * time.Second},
	})

	for i := 0; i < 5; i++ {
		d := l.Allow("user-1", TierStandard)
		if !d.Allowed {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}

	d := l.Allow("user-1", TierStandard)
	if d.Allowed {
		t.Fatal("6th request allowed, want denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 60*time.Second {
		t.Errorf("RetryAfter = %v, want in (0, 60s]", d.RetryAfter)
	}

	// After the window elapses a new request is permitted.
	*now = now.Add(61 * time.Second)
	if d := l.Allow("user-1", TierStandard); !d.Allowed {
		t.Fatal("request after window reset denied, want allowed")
	}
}

func TestKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(map[string]Tier{
		TierStrict: {MaxRequests: 1, Window: time.Minute},
	})

	if d := l.Allow("a", TierStrict); !d.Allowed {
		t.Fatal("first request for key a denied")
	}
	if d := l.Allow("a", TierStrict); d.Allowed {
		t.Fatal("second request for key a allowed, want denied")
	}
	if d := l.Allow("b", TierStrict); !d.Allowed {
		t.Fatal("request for key b denied despite fresh bucket")
	}
}

func TestUnknownTierFallsBackToStandard(t *testing.T) {
	l, _ := newTestLimiter(map[string]Tier{
		TierStandard: {MaxRequests: 2, Window: time.Minute},
	})

	l.Allow("k", "no-such-tier")
	l.Allow("k", "no-such-tier")
	if d := l.Allow("k", "no-such-tier"); d.Allowed {
		t.Fatal("unknown tier did not inherit standard limit")
	}
}

// Count can never exceed the limit even with concurrent callers on one key.
func TestConcurrentAllowNeverOverAdmits(t *testing.T) {
	l := New(map[string]Tier{
		TierStandard: {MaxRequests: 50, Window: time.Minute},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if d := l.Allow("shared", TierStandard); d.Allowed {
					mu.Lock()
					allowed++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()

	if allowed != 50 {
		t.Fatalf("allowed %d requests, want exactly 50", allowed)
	}
}

func TestSweepDropsStaleBuckets(t *testing.T) {
	l, now := newTestLimiter(nil)

	l.Allow("old", TierStandard)
	start := *now
	*now = now.Add(2 * time.Hour)
	l.Allow("fresh", TierStandard)

	removed := l.Sweep(start.Add(time.Hour))
	if removed != 1 {
		t.Fatalf("Sweep removed %d buckets, want 1", removed)
	}
	_, _, buckets := l.Counters()
	if buckets != 1 {
		t.Fatalf("%d buckets remain, want 1", buckets)
	}
}

func TestLoadTiersMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	content := []byte("tiers:\n  strict:\n    max_requests: 3\n    window: 30s\n  vip:\n    max_requests: 1000\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	tiers, err := LoadTiers(path)
	if err != nil {
		t.Fatalf("LoadTiers: %v", err)
	}

	if got := tiers[TierStrict]; got.MaxRequests != 3 || got.Window != 30*time.Second {
		t.Fatalf("strict = %+v, want 3/30s override", got)
	}
	// Window defaults to a minute when omitted.
	if got := tiers["vip"]; got.MaxRequests != 1000 || got.Window != time.Minute {
		t.Fatalf("vip = %+v", got)
	}
	// Untouched defaults survive.
	if got := tiers[TierRelaxed]; got.MaxRequests != 300 {
		t.Fatalf("relaxed = %+v, want default 300", got)
	}
}

func TestLoadTiersRejectsBadLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiers.yaml")
	if err := os.WriteFile(path, []byte("tiers:\n  strict:\n    max_requests: 0\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadTiers(path); err == nil {
		t.Fatal("zero max_requests accepted")
	}
}
