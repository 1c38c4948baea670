// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package account

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/keyward/keyward/internal/identity"
)

// State is the activation state of an account.
type State string

// Activation states.
const (
	StateWaitlisted        State = "waitlisted"
	StatePendingActivation State = "pending_activation"
	StateActivated         State = "activated"
)

// CRMState tracks whether the account is mirrored to the CRM.
type CRMState string

// CRM sync states.
const (
	CRMPending CRMState = "pending"
	CRMSynced  CRMState = "synced"
)

// Account is a durable identity record.
type Account struct {
	ID               ulid.ULID
	Identity         identity.Identity
	PasswordEnvelope []byte
	Wallet           string
	Salt             string
	State            State
	// Eligible is the waitlist approval flag.
	Eligible           bool
	ActivationCodeHash string
	RecoveryCodeHash   string
	RecoveryExpiresAt  *time.Time
	CRMState           CRMState
	CRMContactID       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Registered reports whether a password envelope has been stored.
func (a *Account) Registered() bool {
	return len(a.PasswordEnvelope) > 0
}

// IsEmail reports whether the account is addressed by email.
func (a *Account) IsEmail() bool {
	return a.Identity != nil && a.Identity.Kind() == identity.KindEmail
}

// RecoveryLive reports whether a recovery code is outstanding at now.
func (a *Account) RecoveryLive(now time.Time) bool {
	return a.RecoveryCodeHash != "" && a.RecoveryExpiresAt != nil && now.Before(*a.RecoveryExpiresAt)
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	c := *a
	if a.PasswordEnvelope != nil {
		c.PasswordEnvelope = append([]byte(nil), a.PasswordEnvelope...)
	}
	if a.RecoveryExpiresAt != nil {
		t := *a.RecoveryExpiresAt
		c.RecoveryExpiresAt = &t
	}
	return &c
}

// Cursor is a keyset position in the CRM-pending listing, ordered by
// (CreatedAt, ID). The zero Cursor starts before the oldest account.
type Cursor struct {
	CreatedAt time.Time
	ID        ulid.ULID
}

// CursorAfter positions a cursor just past a.
func CursorAfter(a *Account) Cursor {
	return Cursor{CreatedAt: a.CreatedAt, ID: a.ID}
}

// Before reports whether a sorts before the cursor position or on it.
func (c Cursor) Before(a *Account) bool {
	if a.CreatedAt.Equal(c.CreatedAt) {
		return a.ID.Compare(c.ID) <= 0
	}
	return a.CreatedAt.Before(c.CreatedAt)
}

// MutateFunc computes the row to write from the locked current row.
// existing is nil when no row exists for the identity. Returning an error
// aborts the transaction.
type MutateFunc func(existing *Account) (*Account, error)

// Repository manages account persistence.
type Repository interface {
	// GetByIdentity retrieves an account by identity.
	GetByIdentity(ctx context.Context, id identity.Identity) (*Account, error)

	// GetByActivationCodeHash retrieves the account holding an activation code.
	GetByActivationCodeHash(ctx context.Context, hash string) (*Account, error)

	// GetByRecoveryCodeHash retrieves the account holding a recovery code.
	GetByRecoveryCodeHash(ctx context.Context, hash string) (*Account, error)

	// Upsert locks the row for id, applies mutate and writes the result,
	// inserting when no row exists.
	Upsert(ctx context.Context, id identity.Identity, mutate MutateFunc) (*Account, error)

	// ListCRMPending returns up to limit accounts awaiting CRM sync that sort
	// after the cursor, ordered by (created_at, id).
	ListCRMPending(ctx context.Context, after Cursor, limit int) ([]*Account, error)
}
