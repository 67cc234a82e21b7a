// Package session issues and validates short-lived access tokens gating
// privileged operations. Tokens are signed JWTs, so validation needs no store
// lookup beyond a revocation check. TTL is fixed at issuance; there is no
// sliding renewal.
package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrSessionExpired = errors.New("session expired")
	ErrSessionRevoked = errors.New("session revoked")
	ErrTokenInvalid   = errors.New("invalid session token")
)

// Session is what a caller receives at issuance.
type Session struct {
	Token     string
	Owner     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type claims struct {
	Owner string `json:"owner"`
	jwt.RegisteredClaims
}

// Manager signs, validates, and revokes session tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration

	mu      sync.RWMutex
	revoked map[string]time.Time // jti -> token expiry, for sweeping

	issued atomic.Uint64

	now func() time.Time
}

// NewManager creates a session manager with a fixed TTL.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Issue signs a token for owner with the manager's fixed TTL.
func (m *Manager) Issue(owner string) (Session, error) {
	now := m.now()
	expiresAt := now.Add(m.ttl)

	c := claims{
		Owner: owner,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   owner,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return Session{}, err
	}

	m.issued.Add(1)
	return Session{
		Token:     token,
		Owner:     owner,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks signature, expiry, and revocation, returning the owner.
func (m *Manager) Validate(token string) (string, error) {
	c, err := m.parse(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrSessionExpired
		}
		return "", ErrTokenInvalid
	}

	m.mu.RLock()
	_, revoked := m.revoked[c.ID]
	m.mu.RUnlock()
	if revoked {
		return "", ErrSessionRevoked
	}

	return c.Owner, nil
}

// Revoke invalidates a token immediately regardless of remaining TTL.
// Revoking an already-expired or malformed token is a no-op.
func (m *Manager) Revoke(token string) {
	c, err := m.parse(token)
	if err != nil {
		return
	}

	expiry := m.now().Add(m.ttl)
	if c.ExpiresAt != nil {
		expiry = c.ExpiresAt.Time
	}

	m.mu.Lock()
	m.revoked[c.ID] = expiry
	m.mu.Unlock()
}

// Sweep drops revocation entries for tokens that have expired anyway.
func (m *Manager) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for jti, exp := range m.revoked {
		if exp.Before(now) {
			delete(m.revoked, jti)
			removed++
		}
	}
	return removed
}

// Counters reports issuance and live revocation counts for health.
func (m *Manager) Counters() (issued uint64, revoked int) {
	m.mu.RLock()
	revoked = len(m.revoked)
	m.mu.RUnlock()
	return m.issued.Load(), revoked
}

func (m *Manager) parse(token string) (*claims, error) {
	tok, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}
	c, ok := tok.Claims.(*claims)
	if !ok || !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return c, nil
}
