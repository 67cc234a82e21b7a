// Package notify delivers operator-facing messages. The Telegram notifier is
// the production sink; the log notifier stands in when no bot is configured.
package notify

import (
	"context"
	"log"
)

// Notifier sends one message to every configured recipient.
type Notifier interface {
	Send(ctx context.Context, message string) error
	// Ping verifies the delivery channel is reachable.
	Ping(ctx context.Context) error
}

// LogNotifier writes messages to the process log. Used when Telegram is not
// configured so alerts still land somewhere visible.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, message string) error {
	log.Printf("notify: %s", message)
	return nil
}

func (LogNotifier) Ping(context.Context) error { return nil }
