// Package signal implements the execution pipeline: intake, dedup, gating,
// routing, and asynchronous execution of trading signals.
package signal

import (
	"fmt"
	"time"
)

// Kind enumerates the accepted trade instructions.
type Kind string

const (
	KindOpenBuy       Kind = "open_buy"
	KindOpenSell      Kind = "open_sell"
	KindOpenBuyLimit  Kind = "open_buy_limit"
	KindOpenSellLimit Kind = "open_sell_limit"
	KindOpenBuyStop   Kind = "open_buy_stop"
	KindOpenSellStop  Kind = "open_sell_stop"
	KindClose         Kind = "close"
	KindModify        Kind = "modify"
)

var knownKinds = map[Kind]bool{
	KindOpenBuy: true, KindOpenSell: true,
	KindOpenBuyLimit: true, KindOpenSellLimit: true,
	KindOpenBuyStop: true, KindOpenSellStop: true,
	KindClose: true, KindModify: true,
}

// IsOpen reports whether k places a new position or order.
func (k Kind) IsOpen() bool {
	return k != KindClose && k != KindModify
}

// Status is the lifecycle state of a signal. Transitions only move forward:
// pending -> gated -> executing -> one of the terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusGated     Status = "gated"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusRejected  Status = "rejected"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusExecuted, StatusRejected, StatusFailed, StatusExpired:
		return true
	}
	return false
}

// Signal is the ingestion record consumed from an upstream producer.
type Signal struct {
	ID         string  `json:"id"`
	Kind       Kind    `json:"kind"`
	Instrument string  `json:"instrument"`
	Volume     float64 `json:"volume"`
	Price      float64 `json:"price,omitempty"`
	Stop       float64 `json:"stop,omitempty"`
	Target     float64 `json:"target,omitempty"`
	Ticket     int64   `json:"ticket,omitempty"`
	Owner      string  `json:"owner"`
	AccountRef string  `json:"account_ref,omitempty"`
	Comment    string  `json:"comment,omitempty"`
	Tag        string  `json:"tag,omitempty"`

	SubmittedAt time.Time `json:"submitted_at,omitzero"`
}

// ValidationError describes a malformed field. Rejected synchronously,
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid signal: %s %s", e.Field, e.Reason)
}

// Validate checks required fields and range constraints.
func (s *Signal) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if !knownKinds[s.Kind] {
		return &ValidationError{Field: "kind", Reason: fmt.Sprintf("%q is not a known kind", s.Kind)}
	}
	if s.Owner == "" {
		return &ValidationError{Field: "owner", Reason: "is required"}
	}
	switch s.Kind {
	case KindClose, KindModify:
		if s.Ticket <= 0 {
			return &ValidationError{Field: "ticket", Reason: "must be positive"}
		}
		if s.Kind == KindModify && s.Stop <= 0 && s.Target <= 0 {
			return &ValidationError{Field: "stop", Reason: "or target must be set for modify"}
		}
	default:
		if s.Instrument == "" {
			return &ValidationError{Field: "instrument", Reason: "is required"}
		}
		if s.Volume <= 0 {
			return &ValidationError{Field: "volume", Reason: "must be positive"}
		}
		// Pending orders need an entry price; market orders take the
		// venue's current quote.
		if s.Kind != KindOpenBuy && s.Kind != KindOpenSell && s.Price <= 0 {
			return &ValidationError{Field: "price", Reason: "is required for pending orders"}
		}
	}
	return nil
}
