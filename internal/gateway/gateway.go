// Package gateway wraps the venue adapter behind one execution interface
// with bounded timeouts and normalized error kinds.
package gateway

import (
	"context"
	"errors"
	"log"
	"net"
	"time"

	"signal-core/pkg/vault"
	"signal-core/pkg/venue"
)

// ConnectivityReporter receives transport-level outcomes so the reconnection
// supervisor can track gateway health. Venue rejections are business
// failures and are never reported here.
type ConnectivityReporter interface {
	ReportSuccess(dependency string)
	ReportFailure(dependency string)
}

// Executor drives trade actions against a venue.Gateway.
type Executor struct {
	venue    venue.Gateway
	timeout  time.Duration
	reporter ConnectivityReporter
	depName  string
}

// New creates an Executor. reporter may be nil (tests).
func New(v venue.Gateway, timeout time.Duration, reporter ConnectivityReporter, depName string) *Executor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if depName == "" {
		depName = "gateway"
	}
	return &Executor{venue: v, timeout: timeout, reporter: reporter, depName: depName}
}

// Execute places, modifies, or closes a trade. The call is non-retryable:
// a timeout or ambiguous response is reported as failed rather than resent,
// since the order may have reached the venue.
func (e *Executor) Execute(ctx context.Context, creds vault.Credentials, req venue.TradeRequest) venue.TradeResult {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	res, err := e.venue.Execute(ctx, creds, req)
	latency := time.Since(start)
	res.LatencyMs = latency.Milliseconds()

	if err != nil {
		kind := classifyTransport(err)
		log.Printf("gateway: execute %s %s failed after %v: %v", req.Kind, req.Instrument, latency, err)
		e.reportFailure()
		return venue.TradeResult{
			Success:   false,
			ErrorKind: kind,
			Message:   "service degraded",
			LatencyMs: latency.Milliseconds(),
		}
	}

	// The venue answered; transport is healthy even when the trade was
	// rejected for business reasons.
	e.reportSuccess()

	if !res.Success && res.ErrorKind == venue.ErrorKindNone {
		res.ErrorKind = venue.ErrorKindVenueRejected
	}
	return res
}

// Probe is a read-only reachability check. Unlike trade placement it is safe
// to retry, so it makes bounded attempts before giving up.
func (e *Executor) Probe(ctx context.Context) error {
	const attempts = 2

	var err error
	for i := 0; i < attempts; i++ {
		probeCtx, cancel := context.WithTimeout(ctx, e.timeout)
		err = e.venue.Ping(probeCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return err
}

func (e *Executor) reportSuccess() {
	if e.reporter != nil {
		e.reporter.ReportSuccess(e.depName)
	}
}

func (e *Executor) reportFailure() {
	if e.reporter != nil {
		e.reporter.ReportFailure(e.depName)
	}
}

func classifyTransport(err error) venue.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return venue.ErrorKindTransportTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return venue.ErrorKindTransportTimeout
	}
	return venue.ErrorKindTransport
}
