// Package mock simulates the trading terminal for dry runs and tests.
package mock

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"signal-core/pkg/vault"
	"signal-core/pkg/venue"
)

// Config controls the simulated terminal behavior.
type Config struct {
	LatencyMinMs int
	LatencyMaxMs int
	FailRate     float64 // 0..1, fraction of calls rejected by the "venue"
	Seed         int64   // 0 means time-seeded
}

// Gateway is an in-process venue that fills every accepted trade.
type Gateway struct {
	cfg    Config
	mu     sync.Mutex
	rng    *rand.Rand
	ticket atomic.Int64
	calls  atomic.Int64
	down   atomic.Bool
}

func New(cfg Config) *Gateway {
	if cfg.LatencyMaxMs > 0 && cfg.LatencyMinMs > cfg.LatencyMaxMs {
		cfg.LatencyMinMs, cfg.LatencyMaxMs = cfg.LatencyMaxMs, cfg.LatencyMinMs
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	g := &Gateway{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
	g.ticket.Store(100000)
	return g
}

// SetDown toggles simulated connectivity loss; Ping and Execute fail while down.
func (g *Gateway) SetDown(down bool) {
	g.down.Store(down)
}

// Calls reports how many Execute calls were made.
func (g *Gateway) Calls() int64 {
	return g.calls.Load()
}

func (g *Gateway) Execute(ctx context.Context, _ vault.Credentials, req venue.TradeRequest) (venue.TradeResult, error) {
	g.calls.Add(1)

	if g.down.Load() {
		return venue.TradeResult{}, context.DeadlineExceeded
	}

	if delay := g.latency(); delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return venue.TradeResult{}, ctx.Err()
		}
	}

	if g.roll() < g.cfg.FailRate {
		return venue.TradeResult{
			Success:   false,
			ErrorKind: venue.ErrorKindVenueRejected,
			Message:   "not enough money",
		}, nil
	}

	ticket := req.Ticket
	if ticket == 0 {
		ticket = g.ticket.Add(1)
	}
	return venue.TradeResult{
		Success: true,
		Ticket:  ticket,
	}, nil
}

func (g *Gateway) Ping(ctx context.Context) error {
	if g.down.Load() {
		return context.DeadlineExceeded
	}
	return ctx.Err()
}

func (g *Gateway) latency() time.Duration {
	if g.cfg.LatencyMaxMs <= 0 {
		return 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	span := g.cfg.LatencyMaxMs - g.cfg.LatencyMinMs
	ms := g.cfg.LatencyMinMs
	if span > 0 {
		ms += g.rng.Intn(span + 1)
	}
	return time.Duration(ms) * time.Millisecond
}

func (g *Gateway) roll() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.Float64()
}
