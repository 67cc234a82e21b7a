// Package venue abstracts the trading terminal behind a capability interface
// so a mock and a live adapter are interchangeable at construction time.
package venue

import (
	"context"

	"signal-core/pkg/vault"
)

// TradeKind mirrors the signal kinds the upstream producer emits.
type TradeKind string

const (
	KindOpenBuy       TradeKind = "open_buy"
	KindOpenSell      TradeKind = "open_sell"
	KindOpenBuyLimit  TradeKind = "open_buy_limit"
	KindOpenSellLimit TradeKind = "open_sell_limit"
	KindOpenBuyStop   TradeKind = "open_buy_stop"
	KindOpenSellStop  TradeKind = "open_sell_stop"
	KindClose         TradeKind = "close"
	KindModify        TradeKind = "modify"
)

// ErrorKind classifies a failed call. Venue rejections are business failures;
// transport kinds feed the reconnection supervisor.
type ErrorKind string

const (
	ErrorKindNone             ErrorKind = ""
	ErrorKindVenueRejected    ErrorKind = "venue_rejected"
	ErrorKindTransport        ErrorKind = "transport"
	ErrorKindTransportTimeout ErrorKind = "transport_timeout"
)

// TradeRequest captures a single trade action to run against the terminal.
type TradeRequest struct {
	SignalID   string
	Kind       TradeKind
	Instrument string
	Volume     float64
	Price      float64
	Stop       float64
	Target     float64
	Ticket     int64 // existing position for close/modify
	Comment    string
}

// TradeResult is the normalized outcome of one call.
type TradeResult struct {
	Success   bool
	Ticket    int64
	ErrorKind ErrorKind
	Message   string
	LatencyMs int64
}

// Gateway is the capability interface a terminal adapter provides.
// Execute places, modifies, or closes a trade; it is never retried by
// callers. Ping is a read-only probe and may be retried.
type Gateway interface {
	Execute(ctx context.Context, creds vault.Credentials, req TradeRequest) (TradeResult, error)
	Ping(ctx context.Context) error
}
