// Package supervisor watches external dependencies, recovers lost
// connectivity with backoff, and raises alerts when a dependency stays down.
// Request-path code reads connection snapshots; it never waits on a watcher.
package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"signal-core/internal/events"
)

// Status is the connectivity state of one monitored dependency.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusDisconnected Status = "disconnected"
)

// ConnectionState is the externally visible state of one dependency.
type ConnectionState struct {
	Name                string    `json:"name"`
	Status              Status    `json:"status"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextRetryAt         time.Time `json:"next_retry_at,omitzero"`
	LastConnected       time.Time `json:"last_connected,omitzero"`
}

// Probe checks one dependency; read-only and safe to repeat.
type Probe func(ctx context.Context) error

// AlertSink receives operator alerts (typically the notifier).
type AlertSink interface {
	Send(ctx context.Context, message string) error
}

// Config holds supervisor tuning.
type Config struct {
	ProbeInterval  time.Duration
	ProbeTimeout   time.Duration
	AlertThreshold int // consecutive failures before the dependency is disconnected + alerted
	AlertCooldown  time.Duration
	Backoff        *Backoff
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ProbeInterval:  30 * time.Second,
		ProbeTimeout:   10 * time.Second,
		AlertThreshold: 5,
		AlertCooldown:  15 * time.Minute,
		Backoff:        NewBackoff(time.Second, 60*time.Second, 2),
	}
}

type dependency struct {
	name      string
	probe     Probe
	state     ConnectionState
	alerted   bool // fire-once per incident
	lastAlert time.Time
	downSince time.Time
}

type report struct {
	name    string
	failure bool
}

// Supervisor runs one watcher goroutine per registered dependency plus a
// consumer for externally reported outcomes (e.g. gateway call failures).
type Supervisor struct {
	cfg  Config
	sink AlertSink
	bus  *events.Bus

	mu   sync.RWMutex
	deps map[string]*dependency

	// Bounded feed decoupling request-path producers from this consumer.
	reports chan report

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates a Supervisor. sink and bus may be nil.
func New(cfg Config, sink AlertSink, bus *events.Bus) *Supervisor {
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoff(time.Second, 60*time.Second, 2)
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.AlertThreshold <= 0 {
		cfg.AlertThreshold = 5
	}
	return &Supervisor{
		cfg:     cfg,
		sink:    sink,
		bus:     bus,
		deps:    make(map[string]*dependency),
		reports: make(chan report, 128),
		now:     time.Now,
	}
}

// Register adds a dependency to watch. Must be called before Start.
func (s *Supervisor) Register(name string, probe Probe) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deps[name] = &dependency{
		name:  name,
		probe: probe,
		state: ConnectionState{
			Name:          name,
			Status:        StatusConnected,
			LastConnected: s.now(),
		},
	}
}

// Start launches the watcher goroutines. They stop when ctx is canceled.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.RLock()
	names := make([]string, 0, len(s.deps))
	for name := range s.deps {
		names = append(names, name)
	}
	s.mu.RUnlock()

	for _, name := range names {
		s.wg.Add(1)
		go func(name string) {
			defer s.wg.Done()
			s.watch(ctx, name)
		}(name)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.consumeReports(ctx)
	}()
}

// Wait blocks until all watcher goroutines have exited.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}

// ReportFailure feeds an externally observed transport failure for name.
// Non-blocking: when the feed is full the report is dropped, the next probe
// will catch up.
func (s *Supervisor) ReportFailure(name string) {
	select {
	case s.reports <- report{name: name, failure: true}:
	default:
	}
}

// ReportSuccess feeds an externally observed healthy call for name.
func (s *Supervisor) ReportSuccess(name string) {
	select {
	case s.reports <- report{name: name, failure: false}:
	default:
	}
}

// Snapshot returns a copy of all connection states.
func (s *Supervisor) Snapshot() map[string]ConnectionState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]ConnectionState, len(s.deps))
	for name, d := range s.deps {
		out[name] = d.state
	}
	return out
}

// State returns the state for one dependency.
func (s *Supervisor) State(name string) (ConnectionState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.deps[name]
	if !ok {
		return ConnectionState{}, false
	}
	return d.state, true
}

func (s *Supervisor) watch(ctx context.Context, name string) {
	log.Printf("supervisor: watching %s", name)

	for {
		delay := s.nextDelay(name)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		probeCtx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout)
		err := s.probeOf(name)(probeCtx)
		cancel()

		if err != nil {
			s.markFailure(ctx, name)
		} else {
			s.markSuccess(ctx, name)
		}
	}
}

// nextDelay is the probe interval while connected, or the remaining backoff
// while reconnecting.
func (s *Supervisor) nextDelay(name string) time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deps[name]
	if !ok || d.state.Status == StatusConnected {
		return s.cfg.ProbeInterval
	}
	if wait := d.state.NextRetryAt.Sub(s.now()); wait > 0 {
		return wait
	}
	return time.Millisecond
}

func (s *Supervisor) probeOf(name string) Probe {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if d, ok := s.deps[name]; ok && d.probe != nil {
		return d.probe
	}
	return func(context.Context) error { return nil }
}

func (s *Supervisor) consumeReports(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-s.reports:
			if r.failure {
				s.markFailure(ctx, r.name)
			} else {
				s.markSuccess(ctx, r.name)
			}
		}
	}
}

func (s *Supervisor) markFailure(ctx context.Context, name string) {
	s.mu.Lock()
	d, ok := s.deps[name]
	if !ok {
		s.mu.Unlock()
		return
	}

	now := s.now()
	wasConnected := d.state.Status == StatusConnected
	if wasConnected {
		d.downSince = now
	}

	d.state.ConsecutiveFailures++
	d.state.Status = StatusReconnecting
	if d.state.ConsecutiveFailures >= s.cfg.AlertThreshold {
		d.state.Status = StatusDisconnected
	}
	// next-retry-at is monotone while failures continue: the backoff delay
	// grows with the failure count.
	d.state.NextRetryAt = now.Add(s.cfg.Backoff.Next(d.state.ConsecutiveFailures))

	shouldAlert := d.state.Status == StatusDisconnected && !d.alerted &&
		now.Sub(d.lastAlert) >= s.cfg.AlertCooldown
	if shouldAlert {
		d.alerted = true
		d.lastAlert = now
	}
	failures := d.state.ConsecutiveFailures
	s.mu.Unlock()

	if wasConnected {
		log.Printf("supervisor: %s connection lost", name)
	}
	s.publish(name)

	if shouldAlert {
		s.alert(ctx, fmt.Sprintf("🔴 %s unreachable after %d attempts. Manual intervention may be required.", name, failures))
	}
}

func (s *Supervisor) markSuccess(ctx context.Context, name string) {
	s.mu.Lock()
	d, ok := s.deps[name]
	if !ok {
		s.mu.Unlock()
		return
	}

	now := s.now()
	recovered := d.state.Status != StatusConnected
	notifyRecovery := d.alerted
	downtime := time.Duration(0)
	if recovered && !d.downSince.IsZero() {
		downtime = now.Sub(d.downSince)
	}

	// First success resets backoff to the base interval.
	d.state.Status = StatusConnected
	d.state.ConsecutiveFailures = 0
	d.state.NextRetryAt = time.Time{}
	d.state.LastConnected = now
	d.alerted = false
	d.downSince = time.Time{}
	s.mu.Unlock()

	if recovered {
		log.Printf("supervisor: %s connection established", name)
		s.publish(name)
	}
	if notifyRecovery {
		s.alert(ctx, fmt.Sprintf("🟢 %s reconnected. Downtime: %s.", name, downtime.Round(time.Second)))
	}
}

func (s *Supervisor) publish(name string) {
	if s.bus == nil {
		return
	}
	if st, ok := s.State(name); ok {
		s.bus.Publish(events.EventConnectivity, st)
	}
}

func (s *Supervisor) alert(ctx context.Context, message string) {
	if s.sink == nil {
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.sink.Send(sendCtx, message); err != nil {
		log.Printf("supervisor: alert delivery failed: %v", err)
	}
}
