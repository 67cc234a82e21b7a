package db

import "time"

// User is an authenticated owner of trading accounts.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Account is a credentialed trading identity. Accounts are soft-deactivated so
// historical signals keep resolving.
type Account struct {
	ID                   string
	OwnerID              string
	Name                 string
	Server               string
	CredentialsEncrypted string
	IsDefault            bool
	IsActive             bool
	CreatedAt            time.Time
}

// SignalRecord is the persisted view of a signal as the pipeline advances it.
type SignalRecord struct {
	ID          string
	Kind        string
	Instrument  string
	Volume      float64
	Price       float64
	Stop        float64
	Target      float64
	Ticket      int64
	OwnerID     string
	AccountRef  string
	Comment     string
	Status      string
	ErrorKind   string
	SubmittedAt time.Time
	UpdatedAt   time.Time
}

// ExecutionResult is one append-only audit row per terminal signal.
type ExecutionResult struct {
	ID        string
	SignalID  string
	AccountID string
	Success   bool
	Ticket    int64
	ErrorKind string
	LatencyMs int64
	CreatedAt time.Time
}
