package db

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Queries {
	t.Helper()

	database, err := New(filepath.Join(t.TempDir(), "queries_test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := ApplyMigrations(database); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewQueries(database)
}

func insertTestSignal(t *testing.T, q *Queries, id, status string) {
	t.Helper()
	err := q.InsertSignal(context.Background(), SignalRecord{
		ID: id, Kind: "open_buy", Instrument: "EURUSD", Volume: 0.1,
		OwnerID: "owner-1", Status: status, SubmittedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("insert signal: %v", err)
	}
}

func TestSignalStatusNeverMovesBackward(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()
	insertTestSignal(t, q, "sig-1", "executed")

	// A stale worker still holding pre-execution state must be a no-op.
	ok, err := q.UpdateSignalStatus(ctx, "sig-1", "gated", "", "pending")
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if ok {
		t.Fatal("executed signal transitioned from pending guard")
	}

	rec, err := q.GetSignal(ctx, "sig-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != "executed" {
		t.Fatalf("status = %s, want executed", rec.Status)
	}
}

func TestUpdateSignalStatusGuard(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		current string
		to      string
		from    []string
		want    bool
	}{
		{"pending to gated", "pending", "gated", []string{"pending"}, true},
		{"gated to executing", "gated", "executing", []string{"gated"}, true},
		{"cancel pending or gated", "gated", "rejected", []string{"pending", "gated"}, true},
		{"cancel after executing", "executing", "rejected", []string{"pending", "gated"}, false},
		{"terminal is final", "failed", "executed", []string{"executing"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := "guard-" + strings.ReplaceAll(tt.name, " ", "-")
			insertTestSignal(t, q, id, tt.current)

			ok, err := q.UpdateSignalStatus(ctx, id, tt.to, "", tt.from...)
			if err != nil {
				t.Fatalf("update: %v", err)
			}
			if ok != tt.want {
				t.Fatalf("transition %s -> %s: ok = %v, want %v", tt.current, tt.to, ok, tt.want)
			}
		})
	}
}

func TestUpdateSignalStatusRequiresSourceStatuses(t *testing.T) {
	q := newTestDB(t)
	insertTestSignal(t, q, "sig-nf", "pending")

	if _, err := q.UpdateSignalStatus(context.Background(), "sig-nf", "gated", ""); err == nil {
		t.Fatal("expected error when no source statuses are given")
	}
}

func TestOneExecutionResultPerSignal(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()
	insertTestSignal(t, q, "sig-r", "executed")

	first := ExecutionResult{
		ID: "res-1", SignalID: "sig-r", AccountID: "acct-1",
		Success: true, Ticket: 100001, LatencyMs: 12, CreatedAt: time.Now(),
	}
	if err := q.InsertExecutionResult(ctx, first); err != nil {
		t.Fatalf("first insert: %v", err)
	}

	second := first
	second.ID = "res-2"
	if err := q.InsertExecutionResult(ctx, second); err == nil {
		t.Fatal("second result for the same signal was accepted")
	}

	results, err := q.ResultsByAccount(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
}

func TestSweepSignalsRemovesOldTerminalRows(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	old := SignalRecord{
		ID: "sig-old", Kind: "open_buy", Instrument: "EURUSD", Volume: 0.1,
		OwnerID: "owner-1", Status: "executed",
		SubmittedAt: time.Now().Add(-48 * time.Hour),
	}
	if err := q.InsertSignal(ctx, old); err != nil {
		t.Fatalf("insert: %v", err)
	}
	res := ExecutionResult{
		ID: "res-old", SignalID: "sig-old", AccountID: "acct-1",
		Success: true, Ticket: 100001, CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	if err := q.InsertExecutionResult(ctx, res); err != nil {
		t.Fatalf("insert result: %v", err)
	}
	insertTestSignal(t, q, "sig-new", "pending")

	n, err := q.SweepSignals(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d rows, want 1", n)
	}

	rec, err := q.GetSignal(ctx, "sig-new")
	if err != nil || rec == nil {
		t.Fatalf("pending signal missing after sweep: %v", err)
	}
	results, err := q.ResultsByAccount(ctx, "acct-1", 10)
	if err != nil {
		t.Fatalf("results: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("got %d results after sweep, want 0", len(results))
	}
}

func TestDeleteSignalOnlyRemovesTerminalRows(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	insertTestSignal(t, q, "sig-del", "executed")
	res := ExecutionResult{
		ID: "res-del", SignalID: "sig-del", AccountID: "acct-1",
		Success: true, Ticket: 100002, CreatedAt: time.Now(),
	}
	if err := q.InsertExecutionResult(ctx, res); err != nil {
		t.Fatalf("insert result: %v", err)
	}

	ok, err := q.DeleteSignal(ctx, "sig-del")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !ok {
		t.Fatal("terminal signal was not deleted")
	}
	if rec, _ := q.GetSignal(ctx, "sig-del"); rec != nil {
		t.Fatalf("signal row survived deletion with status %s", rec.Status)
	}
	if results, _ := q.ResultsByAccount(ctx, "acct-1", 10); len(results) != 0 {
		t.Fatalf("got %d results after deletion, want 0", len(results))
	}

	insertTestSignal(t, q, "sig-live", "executing")
	ok, err = q.DeleteSignal(ctx, "sig-live")
	if err != nil {
		t.Fatalf("delete executing: %v", err)
	}
	if ok {
		t.Fatal("executing signal was deleted")
	}
}

func TestUpdateAccountCredentials(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	a := Account{
		ID: "acct-1", OwnerID: "owner-1", Name: "main", Server: "Broker-Demo",
		CredentialsEncrypted: "ENC[v1]:old", CreatedAt: time.Now(),
	}
	if err := q.CreateAccount(ctx, a); err != nil {
		t.Fatalf("create account: %v", err)
	}

	if err := q.UpdateAccountCredentials(ctx, "acct-1", "ENC[v2]:new"); err != nil {
		t.Fatalf("update credentials: %v", err)
	}

	accounts, err := q.ListActiveAccounts(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(accounts) != 1 || accounts[0].CredentialsEncrypted != "ENC[v2]:new" {
		t.Fatalf("accounts = %+v, want one with updated blob", accounts)
	}

	if err := q.UpdateAccountCredentials(ctx, "ghost", "ENC[v2]:x"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("update unknown account: err = %v, want sql.ErrNoRows", err)
	}
}

func TestUserRoundTrip(t *testing.T) {
	q := newTestDB(t)
	ctx := context.Background()

	u := User{ID: "u-1", Email: "trader@example.com", PasswordHash: "hash", CreatedAt: time.Now()}
	if err := q.CreateUser(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := q.GetUserByEmail(ctx, "trader@example.com")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.ID != "u-1" {
		t.Fatalf("got %+v, want id u-1", got)
	}

	missing, err := q.GetUserByEmail(ctx, "ghost@example.com")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Fatalf("got %+v for unknown email", missing)
	}
}
