// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package accounttest provides an in-memory account.Repository for tests.
package accounttest

import (
	"context"
	"sort"
	"sync"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/identity"
)

// Repository is a mutex-guarded in-memory account.Repository. Upsert holds
// the lock for the whole mutation, which serializes it like a row lock.
type Repository struct {
	mu       sync.Mutex
	accounts map[string]*account.Account

	// Err, when set, is returned by every call.
	Err error
}

var _ account.Repository = (*Repository)(nil)

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{accounts: make(map[string]*account.Account)}
}

// Put stores acct directly, bypassing lifecycle rules.
func (r *Repository) Put(acct *account.Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[acct.Identity.String()] = acct.Clone()
}

// Get returns a copy of the stored account, or nil.
func (r *Repository) Get(id identity.Identity) *account.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[id.String()].Clone()
}

// GetByIdentity implements account.Repository.
func (r *Repository) GetByIdentity(_ context.Context, id identity.Identity) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	acct, ok := r.accounts[id.String()]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("identity", id.String()).Wrap(account.ErrNotFound)
	}
	return acct.Clone(), nil
}

// GetByActivationCodeHash implements account.Repository.
func (r *Repository) GetByActivationCodeHash(_ context.Context, hash string) (*account.Account, error) {
	return r.find(func(a *account.Account) bool { return a.ActivationCodeHash == hash })
}

// GetByRecoveryCodeHash implements account.Repository.
func (r *Repository) GetByRecoveryCodeHash(_ context.Context, hash string) (*account.Account, error) {
	return r.find(func(a *account.Account) bool { return a.RecoveryCodeHash == hash })
}

func (r *Repository) find(match func(*account.Account) bool) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	for _, acct := range r.accounts {
		if match(acct) {
			return acct.Clone(), nil
		}
	}
	return nil, oops.Code("ACCOUNT_NOT_FOUND").Wrap(account.ErrNotFound)
}

// Upsert implements account.Repository.
func (r *Repository) Upsert(_ context.Context, id identity.Identity, mutate account.MutateFunc) (*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	next, err := mutate(r.accounts[id.String()].Clone())
	if err != nil {
		return nil, err
	}
	r.accounts[id.String()] = next.Clone()
	return next, nil
}

// ListCRMPending implements account.Repository.
func (r *Repository) ListCRMPending(_ context.Context, after account.Cursor, limit int) ([]*account.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	var out []*account.Account
	for _, acct := range r.accounts {
		if acct.CRMState == account.CRMPending && !after.Before(acct) {
			out = append(out, acct.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.Compare(out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
