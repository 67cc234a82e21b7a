// Package health aggregates per-dependency connectivity and service counters
// into a single composite view, and alerts on status transitions.
package health

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/denisbrodbeck/machineid"

	"signal-core/internal/events"
	"signal-core/internal/notify"
	"signal-core/internal/supervisor"
)

// Overall is the composite service status.
type Overall string

const (
	OverallOK       Overall = "ok"
	OverallDegraded Overall = "degraded"
	OverallDown     Overall = "down"
)

// Component is one dependency's contribution to the snapshot.
type Component struct {
	Status              supervisor.Status `json:"status"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	NextRetryAt         time.Time         `json:"next_retry_at,omitzero"`
}

// Counters carries service-level numbers alongside connectivity.
type Counters struct {
	RequestsAllowed uint64 `json:"requests_allowed"`
	RequestsDenied  uint64 `json:"requests_denied"`
	SessionsIssued  uint64 `json:"sessions_issued"`
	SessionsRevoked int    `json:"sessions_revoked"`
}

// Snapshot is the point-in-time health view exposed to operators.
type Snapshot struct {
	Overall    Overall              `json:"overall"`
	InstanceID string               `json:"instance_id,omitempty"`
	Components map[string]Component `json:"components"`
	Counters   Counters             `json:"counters"`
	CheckedAt  time.Time            `json:"checked_at"`
}

// CounterSource reports service counters for the snapshot.
type CounterSource func() Counters

// Aggregator polls the supervisor and counter sources on a fixed interval.
// Alerts fire on overall-status transitions only, bounded by a cooldown.
type Aggregator struct {
	sup      *supervisor.Supervisor
	counters CounterSource
	notifier notify.Notifier
	bus      *events.Bus

	interval time.Duration
	cooldown time.Duration

	mu         sync.RWMutex
	last       Snapshot
	lastStatus Overall
	lastAlert  time.Time

	instanceID string
	now        func() time.Time
}

// New builds an Aggregator. counters and notifier may be nil.
func New(sup *supervisor.Supervisor, counters CounterSource, notifier notify.Notifier, bus *events.Bus, interval, cooldown time.Duration) *Aggregator {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	id, err := machineid.ProtectedID("signal-core")
	if err != nil {
		log.Printf("health: machine id unavailable: %v", err)
	}
	a := &Aggregator{
		sup:        sup,
		counters:   counters,
		notifier:   notifier,
		bus:        bus,
		interval:   interval,
		cooldown:   cooldown,
		lastStatus: OverallOK,
		instanceID: id,
		now:        time.Now,
	}
	a.last = a.collect()
	return a
}

// Run polls until ctx is canceled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.poll(ctx)
		}
	}
}

// Snapshot returns the most recent composite view.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

func (a *Aggregator) poll(ctx context.Context) {
	snap := a.collect()

	a.mu.Lock()
	prev := a.lastStatus
	a.last = snap
	a.lastStatus = snap.Overall
	transition := snap.Overall != prev
	shouldAlert := transition && a.notifier != nil &&
		a.now().Sub(a.lastAlert) >= a.cooldown
	if shouldAlert {
		a.lastAlert = a.now()
	}
	a.mu.Unlock()

	if !transition {
		return
	}

	log.Printf("health: overall %s -> %s", prev, snap.Overall)
	if a.bus != nil {
		a.bus.Publish(events.EventHealthChanged, snap)
	}
	if shouldAlert {
		msg := fmt.Sprintf("Service health changed: %s -> %s", prev, snap.Overall)
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := a.notifier.Send(sendCtx, msg); err != nil {
			log.Printf("health: alert delivery failed: %v", err)
		}
		cancel()
	}
}

func (a *Aggregator) collect() Snapshot {
	snap := Snapshot{
		Overall:    OverallOK,
		InstanceID: a.instanceID,
		Components: make(map[string]Component),
		CheckedAt:  a.now(),
	}

	if a.sup != nil {
		for name, st := range a.sup.Snapshot() {
			snap.Components[name] = Component{
				Status:              st.Status,
				ConsecutiveFailures: st.ConsecutiveFailures,
				NextRetryAt:         st.NextRetryAt,
			}
			switch st.Status {
			case supervisor.StatusDisconnected:
				snap.Overall = OverallDown
			case supervisor.StatusReconnecting:
				if snap.Overall == OverallOK {
					snap.Overall = OverallDegraded
				}
			}
		}
	}
	if a.counters != nil {
		snap.Counters = a.counters()
	}
	return snap
}
