// Package router resolves which trading account a signal targets.
package router

import (
	"context"
	"errors"
	"fmt"

	"signal-core/pkg/db"
)

// ErrNoActiveAccount means neither an explicit reference nor a default active
// account resolved. Resolution fails closed; it never picks an arbitrary
// account.
var ErrNoActiveAccount = errors.New("no active account")

// Router resolves accounts. Credential blobs stay encrypted here; decryption
// happens only inside the vault at execution time.
type Router struct {
	q *db.Queries
}

func New(q *db.Queries) *Router {
	return &Router{q: q}
}

// Resolve returns the account a signal targets: the explicit account
// reference when present, otherwise the owner's default active account.
func (r *Router) Resolve(ctx context.Context, ownerID, accountRef string) (*db.Account, error) {
	if accountRef != "" {
		acc, err := r.q.GetAccountByID(ctx, ownerID, accountRef)
		if err != nil {
			return nil, fmt.Errorf("resolve account %s: %w", accountRef, err)
		}
		if acc == nil {
			// An explicit reference that no longer resolves must not fall
			// back to the default account.
			return nil, ErrNoActiveAccount
		}
		return acc, nil
	}

	acc, err := r.q.GetDefaultAccount(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("resolve default account: %w", err)
	}
	if acc == nil {
		return nil, ErrNoActiveAccount
	}
	return acc, nil
}
