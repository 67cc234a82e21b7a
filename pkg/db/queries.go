package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Queries bundles the hand-written SQL the core components use.
type Queries struct {
	db *sql.DB
}

// NewQueries wraps a Database.
func NewQueries(d *Database) *Queries {
	return &Queries{db: d.DB}
}

// --- Users ---

func (q *Queries) CreateUser(ctx context.Context, u User) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, u.ID, u.Email, u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (q *Queries) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, email)

	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// --- Accounts ---

func (q *Queries) CreateAccount(ctx context.Context, a Account) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// First active account for an owner becomes the default.
	var active int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM accounts WHERE owner_id = ? AND is_active = 1
	`, a.OwnerID).Scan(&active); err != nil {
		return fmt.Errorf("count accounts: %w", err)
	}
	isDefault := a.IsDefault || active == 0

	if isDefault {
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts SET is_default = 0 WHERE owner_id = ?
		`, a.OwnerID); err != nil {
			return fmt.Errorf("clear default: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO accounts (id, owner_id, name, server, credentials_encrypted, is_default, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?)
	`, a.ID, a.OwnerID, a.Name, a.Server, a.CredentialsEncrypted, isDefault, a.CreatedAt); err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	return tx.Commit()
}

func (q *Queries) GetAccountByID(ctx context.Context, ownerID, accountID string) (*Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, server, credentials_encrypted, is_default, is_active, created_at
		FROM accounts WHERE id = ? AND owner_id = ? AND is_active = 1
	`, accountID, ownerID)
	return scanAccount(row)
}

func (q *Queries) GetDefaultAccount(ctx context.Context, ownerID string) (*Account, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, owner_id, name, server, credentials_encrypted, is_default, is_active, created_at
		FROM accounts
		WHERE owner_id = ? AND is_active = 1
		ORDER BY is_default DESC, created_at ASC
		LIMIT 1
	`, ownerID)
	return scanAccount(row)
}

func (q *Queries) ListAccountsByOwner(ctx context.Context, ownerID string) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner_id, name, server, credentials_encrypted, is_default, is_active, created_at
		FROM accounts
		WHERE owner_id = ? AND is_active = 1
		ORDER BY is_default DESC, created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Server, &a.CredentialsEncrypted,
			&a.IsDefault, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeactivateAccount soft-deletes so historical signals still resolve.
func (q *Queries) DeactivateAccount(ctx context.Context, ownerID, accountID string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE accounts SET is_active = 0, is_default = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ?
	`, accountID, ownerID)
	if err != nil {
		return fmt.Errorf("deactivate account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (q *Queries) SetDefaultAccount(ctx context.Context, ownerID, accountID string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		UPDATE accounts SET is_default = 0 WHERE owner_id = ?
	`, ownerID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE accounts SET is_default = 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND owner_id = ? AND is_active = 1
	`, accountID, ownerID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return tx.Commit()
}

// ListActiveAccounts returns every active account regardless of owner. Used
// by the startup credential re-seal pass.
func (q *Queries) ListActiveAccounts(ctx context.Context) ([]Account, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, owner_id, name, server, credentials_encrypted, is_default, is_active, created_at
		FROM accounts WHERE is_active = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Server, &a.CredentialsEncrypted,
			&a.IsDefault, &a.IsActive, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccountCredentials replaces the stored credential blob.
func (q *Queries) UpdateAccountCredentials(ctx context.Context, accountID, blob string) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE accounts SET credentials_encrypted = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, blob, accountID)
	if err != nil {
		return fmt.Errorf("update account credentials: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var a Account
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Server, &a.CredentialsEncrypted,
		&a.IsDefault, &a.IsActive, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return &a, nil
}

// --- Signals ---

func (q *Queries) InsertSignal(ctx context.Context, s SignalRecord) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO signals (id, kind, instrument, volume, price, stop, target, ticket,
			owner_id, account_ref, comment, status, error_kind, submitted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Kind, s.Instrument, s.Volume, s.Price, s.Stop, s.Target, s.Ticket,
		s.OwnerID, s.AccountRef, s.Comment, s.Status, s.ErrorKind, s.SubmittedAt)
	if err != nil {
		return fmt.Errorf("insert signal: %w", err)
	}
	return nil
}

func (q *Queries) GetSignal(ctx context.Context, id string) (*SignalRecord, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, kind, instrument, volume, price, stop, target, ticket,
		       owner_id, account_ref, comment, status, error_kind, submitted_at, updated_at
		FROM signals WHERE id = ?
	`, id)

	var s SignalRecord
	if err := row.Scan(&s.ID, &s.Kind, &s.Instrument, &s.Volume, &s.Price, &s.Stop, &s.Target,
		&s.Ticket, &s.OwnerID, &s.AccountRef, &s.Comment, &s.Status, &s.ErrorKind,
		&s.SubmittedAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get signal: %w", err)
	}
	return &s, nil
}

// UpdateSignalStatus advances a signal, guarded against backward transitions
// by listing the statuses the move is valid from.
func (q *Queries) UpdateSignalStatus(ctx context.Context, id, status, errorKind string, from ...string) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("update signal %s: no source statuses given", id)
	}
	query := `UPDATE signals SET status = ?, error_kind = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (?` + strings.Repeat(",?", len(from)-1) + `)`
	args := []any{status, errorKind, id}
	for _, f := range from {
		args = append(args, f)
	}
	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update signal status: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Execution results ---

func (q *Queries) InsertExecutionResult(ctx context.Context, r ExecutionResult) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO execution_results (id, signal_id, account_id, success, ticket, error_kind, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SignalID, r.AccountID, r.Success, r.Ticket, r.ErrorKind, r.LatencyMs, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert execution result: %w", err)
	}
	return nil
}

func (q *Queries) ResultsByAccount(ctx context.Context, accountID string, limit int) ([]ExecutionResult, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, signal_id, account_id, success, ticket, error_kind, latency_ms, created_at
		FROM execution_results
		WHERE account_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("results by account: %w", err)
	}
	defer rows.Close()

	var out []ExecutionResult
	for rows.Next() {
		var r ExecutionResult
		if err := rows.Scan(&r.ID, &r.SignalID, &r.AccountID, &r.Success, &r.Ticket,
			&r.ErrorKind, &r.LatencyMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DeleteSignal removes one terminal signal and its execution result, making
// the id available again. It reports whether a row was removed; non-terminal
// signals are left untouched.
func (q *Queries) DeleteSignal(ctx context.Context, id string) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		DELETE FROM signals
		WHERE id = ? AND status IN ('executed', 'rejected', 'failed', 'expired')
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete signal: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM execution_results WHERE signal_id = ?
	`, id); err != nil {
		return false, fmt.Errorf("delete result: %w", err)
	}
	return true, tx.Commit()
}

// SweepSignals archives terminal signals older than the retention cutoff,
// together with their execution results so a later reuse of the id can record
// a fresh one. Returns the number of signal rows removed.
func (q *Queries) SweepSignals(ctx context.Context, olderThan time.Time) (int64, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM execution_results
		WHERE signal_id IN (
			SELECT id FROM signals
			WHERE submitted_at < ? AND status IN ('executed', 'rejected', 'failed', 'expired')
		)
	`, olderThan); err != nil {
		return 0, fmt.Errorf("sweep results: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM signals
		WHERE submitted_at < ? AND status IN ('executed', 'rejected', 'failed', 'expired')
	`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("sweep signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
