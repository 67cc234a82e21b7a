package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"signal-core/pkg/vault"
	"signal-core/pkg/venue"
)

type fakeVenue struct {
	delay   time.Duration
	execErr error
	result  venue.TradeResult
	pingErr error
}

func (f *fakeVenue) Execute(ctx context.Context, _ vault.Credentials, _ venue.TradeRequest) (venue.TradeResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return venue.TradeResult{}, ctx.Err()
		}
	}
	if f.execErr != nil {
		return venue.TradeResult{}, f.execErr
	}
	return f.result, nil
}

func (f *fakeVenue) Ping(context.Context) error { return f.pingErr }

type recordingReporter struct {
	mu        sync.Mutex
	successes []string
	failures  []string
}

func (r *recordingReporter) ReportSuccess(dep string) {
	r.mu.Lock()
	r.successes = append(r.successes, dep)
	r.mu.Unlock()
}

func (r *recordingReporter) ReportFailure(dep string) {
	r.mu.Lock()
	r.failures = append(r.failures, dep)
	r.mu.Unlock()
}

func TestExecuteTimeoutMarksTransportTimeout(t *testing.T) {
	rep := &recordingReporter{}
	e := New(&fakeVenue{delay: 200 * time.Millisecond}, 20*time.Millisecond, rep, "venue")

	res := e.Execute(context.Background(), vault.Credentials{}, venue.TradeRequest{Kind: venue.KindOpenBuy})

	if res.Success {
		t.Fatal("timed-out execute reported success")
	}
	if res.ErrorKind != venue.ErrorKindTransportTimeout {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, venue.ErrorKindTransportTimeout)
	}
	if len(rep.failures) != 1 || rep.failures[0] != "venue" {
		t.Errorf("failures = %v, want one report for venue", rep.failures)
	}
	// Operator-facing message must not leak the raw transport error.
	if res.Message != "service degraded" {
		t.Errorf("Message = %q, want service degraded", res.Message)
	}
}

func TestExecuteTransportErrorClassified(t *testing.T) {
	rep := &recordingReporter{}
	e := New(&fakeVenue{execErr: errors.New("connection refused")}, time.Second, rep, "venue")

	res := e.Execute(context.Background(), vault.Credentials{}, venue.TradeRequest{})

	if res.ErrorKind != venue.ErrorKindTransport {
		t.Errorf("ErrorKind = %q, want %q", res.ErrorKind, venue.ErrorKindTransport)
	}
	if len(rep.failures) != 1 {
		t.Errorf("transport error not reported to supervisor")
	}
}

// A venue-side rejection means transport worked: the supervisor sees success
// and the result keeps the business error kind.
func TestVenueRejectionDoesNotCountAsConnectivityFailure(t *testing.T) {
	rep := &recordingReporter{}
	e := New(&fakeVenue{result: venue.TradeResult{
		Success:   false,
		ErrorKind: venue.ErrorKindVenueRejected,
		Message:   "not enough money",
	}}, time.Second, rep, "venue")

	res := e.Execute(context.Background(), vault.Credentials{}, venue.TradeRequest{})

	if res.ErrorKind != venue.ErrorKindVenueRejected {
		t.Errorf("ErrorKind = %q, want venue_rejected", res.ErrorKind)
	}
	if len(rep.failures) != 0 {
		t.Errorf("rejection reported as connectivity failure: %v", rep.failures)
	}
	if len(rep.successes) != 1 {
		t.Errorf("successes = %v, want one", rep.successes)
	}
}

func TestExecuteSuccessCarriesTicketAndLatency(t *testing.T) {
	e := New(&fakeVenue{result: venue.TradeResult{Success: true, Ticket: 123456}}, time.Second, nil, "venue")

	res := e.Execute(context.Background(), vault.Credentials{}, venue.TradeRequest{})

	if !res.Success || res.Ticket != 123456 {
		t.Fatalf("result = %+v, want success with ticket 123456", res)
	}
	if res.LatencyMs < 0 {
		t.Errorf("negative latency %d", res.LatencyMs)
	}
}

func TestProbeRetriesOnce(t *testing.T) {
	f := &fakeVenue{pingErr: errors.New("down")}
	e := New(f, time.Second, nil, "venue")

	if err := e.Probe(context.Background()); err == nil {
		t.Fatal("Probe succeeded against a down venue")
	}

	f.pingErr = nil
	if err := e.Probe(context.Background()); err != nil {
		t.Fatalf("Probe failed against healthy venue: %v", err)
	}
}
