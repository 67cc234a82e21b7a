package supervisor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu       sync.Mutex
	messages []string
}

func (c *captureSink) Send(_ context.Context, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func (c *captureSink) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.messages...)
}

func newTestSupervisor(sink AlertSink) (*Supervisor, *time.Time) {
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := New(Config{
		ProbeInterval:  30 * time.Second,
		ProbeTimeout:   time.Second,
		AlertThreshold: 3,
		AlertCooldown:  15 * time.Minute,
		Backoff:        NewBackoff(time.Second, 60*time.Second, 2),
	}, sink, nil)
	s.now = func() time.Time { return clock }
	return s, &clock
}

func TestFailuresEscalateToDisconnected(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.Register("terminal", nil)
	ctx := context.Background()

	s.markFailure(ctx, "terminal")
	st, _ := s.State("terminal")
	if st.Status != StatusReconnecting {
		t.Fatalf("after 1 failure: status = %s, want reconnecting", st.Status)
	}
	if st.ConsecutiveFailures != 1 {
		t.Fatalf("failures = %d, want 1", st.ConsecutiveFailures)
	}

	s.markFailure(ctx, "terminal")
	s.markFailure(ctx, "terminal")
	st, _ = s.State("terminal")
	if st.Status != StatusDisconnected {
		t.Fatalf("after 3 failures: status = %s, want disconnected", st.Status)
	}
	if st.NextRetryAt.IsZero() {
		t.Fatal("next retry not scheduled")
	}
}

func TestAlertFiresOncePerIncident(t *testing.T) {
	sink := &captureSink{}
	s, _ := newTestSupervisor(sink)
	s.Register("terminal", nil)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		s.markFailure(ctx, "terminal")
	}

	msgs := sink.all()
	if len(msgs) != 1 {
		t.Fatalf("got %d alerts, want 1: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[0], "terminal") {
		t.Fatalf("alert does not name the dependency: %q", msgs[0])
	}
}

func TestRecoveryResetsStateAndNotifies(t *testing.T) {
	sink := &captureSink{}
	s, clock := newTestSupervisor(sink)
	s.Register("terminal", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.markFailure(ctx, "terminal")
	}
	*clock = clock.Add(2 * time.Minute)
	s.markSuccess(ctx, "terminal")

	st, _ := s.State("terminal")
	if st.Status != StatusConnected {
		t.Fatalf("status = %s, want connected", st.Status)
	}
	if st.ConsecutiveFailures != 0 {
		t.Fatalf("failures = %d, want 0 after recovery", st.ConsecutiveFailures)
	}
	if !st.NextRetryAt.IsZero() {
		t.Fatal("retry still scheduled after recovery")
	}

	msgs := sink.all()
	if len(msgs) != 2 {
		t.Fatalf("got %d alerts, want outage + recovery: %v", len(msgs), msgs)
	}
	if !strings.Contains(msgs[1], "2m0s") {
		t.Fatalf("recovery alert missing downtime: %q", msgs[1])
	}
}

func TestRecoveryWithoutAlertStaysQuiet(t *testing.T) {
	sink := &captureSink{}
	s, _ := newTestSupervisor(sink)
	s.Register("terminal", nil)
	ctx := context.Background()

	// Below the alert threshold: no outage alert, so no recovery alert.
	s.markFailure(ctx, "terminal")
	s.markSuccess(ctx, "terminal")

	if msgs := sink.all(); len(msgs) != 0 {
		t.Fatalf("unexpected alerts: %v", msgs)
	}
}

func TestAlertCooldownSuppressesRepeatIncidents(t *testing.T) {
	sink := &captureSink{}
	s, clock := newTestSupervisor(sink)
	s.Register("terminal", nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		s.markFailure(ctx, "terminal")
	}
	s.markSuccess(ctx, "terminal")

	// Second incident one minute later, inside the 15m cooldown.
	*clock = clock.Add(time.Minute)
	for i := 0; i < 3; i++ {
		s.markFailure(ctx, "terminal")
	}

	msgs := sink.all()
	if len(msgs) != 2 { // first outage + its recovery only
		t.Fatalf("got %d alerts, want 2: %v", len(msgs), msgs)
	}
}

func TestRetryDelaysNonDecreasing(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.Register("terminal", nil)
	ctx := context.Background()

	var prev time.Duration
	base := s.now()
	for i := 0; i < 12; i++ {
		s.markFailure(ctx, "terminal")
		st, _ := s.State("terminal")
		delay := st.NextRetryAt.Sub(base)
		if delay < prev {
			t.Fatalf("attempt %d: delay %v decreased from %v", i+1, delay, prev)
		}
		if delay > 60*time.Second {
			t.Fatalf("attempt %d: delay %v exceeds cap", i+1, delay)
		}
		prev = delay
	}

	// One success resets the schedule to the base interval.
	s.markSuccess(ctx, "terminal")
	s.markFailure(ctx, "terminal")
	st, _ := s.State("terminal")
	if delay := st.NextRetryAt.Sub(base); delay > 1200*time.Millisecond {
		t.Fatalf("delay after recovery = %v, want about 1s", delay)
	}
}

func TestExternalReportsConsumed(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.Register("terminal", func(context.Context) error { return nil })

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	s.ReportFailure("terminal")

	deadline := time.After(2 * time.Second)
	for {
		st, _ := s.State("terminal")
		if st.ConsecutiveFailures >= 1 || st.Status != StatusConnected {
			break
		}
		select {
		case <-deadline:
			t.Fatal("reported failure never consumed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	s.Wait()
}

func TestSnapshotCopies(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.Register("terminal", nil)
	s.Register("notifier", nil)

	snap := s.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	snap["terminal"] = ConnectionState{Status: StatusDisconnected}

	st, _ := s.State("terminal")
	if st.Status != StatusConnected {
		t.Fatal("mutating the snapshot changed internal state")
	}
}

func TestUnknownDependencyIgnored(t *testing.T) {
	s, _ := newTestSupervisor(nil)
	s.ReportFailure("ghost")
	s.markFailure(context.Background(), "ghost")
	if _, ok := s.State("ghost"); ok {
		t.Fatal("unregistered dependency appeared in state")
	}
}
