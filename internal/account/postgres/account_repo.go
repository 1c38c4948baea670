// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package postgres implements account.Repository on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/identity"
)

// poolIface is the subset of pgxpool.Pool the repository uses. pgxmock
// satisfies it in unit tests.
type poolIface interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// upsertAttempts bounds retries when two inserts race on the same identity.
const upsertAttempts = 2

const selectColumns = `
	SELECT id, identity, identity_kind, password_envelope, wallet, salt,
	       state, eligible, activation_code_hash, recovery_code_hash,
	       recovery_expires_at, crm_state, crm_contact_id, created_at, updated_at
	FROM accounts`

// AccountRepository implements account.Repository using PostgreSQL.
type AccountRepository struct {
	pool poolIface
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(pool poolIface) *AccountRepository {
	return &AccountRepository{pool: pool}
}

// GetByIdentity retrieves an account by identity.
func (r *AccountRepository) GetByIdentity(ctx context.Context, id identity.Identity) (*account.Account, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` WHERE identity = $1`, id.String())
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("identity_kind", id.Kind()).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by identity").
			Wrap(err)
	}
	return acct, nil
}

// GetByActivationCodeHash retrieves the account holding an activation code.
func (r *AccountRepository) GetByActivationCodeHash(ctx context.Context, hash string) (*account.Account, error) {
	return r.getByCodeHash(ctx, "activation_code_hash", hash)
}

// GetByRecoveryCodeHash retrieves the account holding a recovery code.
func (r *AccountRepository) GetByRecoveryCodeHash(ctx context.Context, hash string) (*account.Account, error) {
	return r.getByCodeHash(ctx, "recovery_code_hash", hash)
}

// getByCodeHash looks up by one of the two code columns. column is never
// caller input.
func (r *AccountRepository) getByCodeHash(ctx context.Context, column, hash string) (*account.Account, error) {
	row := r.pool.QueryRow(ctx, selectColumns+` WHERE `+column+` = $1`, hash)
	acct, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("lookup", column).
			Wrap(account.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_FAILED").
			With("operation", "get account by code").
			With("lookup", column).
			Wrap(err)
	}
	return acct, nil
}

// Upsert locks the identity's row with SELECT ... FOR UPDATE, applies
// mutate and writes the result in the same transaction. When no row exists
// two callers can both attempt the insert; the loser sees a unique
// violation and retries against the committed row.
func (r *AccountRepository) Upsert(ctx context.Context, id identity.Identity, mutate account.MutateFunc) (*account.Account, error) {
	var lastErr error
	for attempt := 1; attempt <= upsertAttempts; attempt++ {
		acct, err := r.upsertOnce(ctx, id, mutate)
		if err == nil {
			return acct, nil
		}
		if !isUniqueViolation(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, oops.Code("ACCOUNT_UPSERT_CONTENDED").
		With("attempts", upsertAttempts).
		Wrap(lastErr)
}

func (r *AccountRepository) upsertOnce(ctx context.Context, id identity.Identity, mutate account.MutateFunc) (*account.Account, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, oops.Code("ACCOUNT_TX_BEGIN_FAILED").Wrap(err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx) //nolint:errcheck // rollback after failure; original error wins
		}
	}()

	existing, err := scanAccount(tx.QueryRow(ctx, selectColumns+` WHERE identity = $1 FOR UPDATE`, id.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		existing = nil
	} else if err != nil {
		return nil, oops.Code("ACCOUNT_LOCK_FAILED").
			With("operation", "select for update").
			Wrap(err)
	}

	next, err := mutate(existing)
	if err != nil {
		return nil, err
	}

	if existing == nil {
		err = insertAccount(ctx, tx, next)
	} else {
		err = updateAccount(ctx, tx, next)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, oops.Code("ACCOUNT_TX_COMMIT_FAILED").Wrap(err)
	}
	committed = true
	return next, nil
}

func insertAccount(ctx context.Context, tx pgx.Tx, a *account.Account) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO accounts (
			id, identity, identity_kind, password_envelope, wallet, salt,
			state, eligible, activation_code_hash, recovery_code_hash,
			recovery_expires_at, crm_state, crm_contact_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		a.ID.String(),
		a.Identity.String(),
		string(a.Identity.Kind()),
		a.PasswordEnvelope,
		a.Wallet,
		a.Salt,
		string(a.State),
		a.Eligible,
		nullable(a.ActivationCodeHash),
		nullable(a.RecoveryCodeHash),
		a.RecoveryExpiresAt,
		string(a.CRMState),
		nullable(a.CRMContactID),
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return oops.Code("ACCOUNT_INSERT_FAILED").
			With("operation", "insert account").
			With("id", a.ID.String()).
			Wrap(err)
	}
	return nil
}

func updateAccount(ctx context.Context, tx pgx.Tx, a *account.Account) error {
	tag, err := tx.Exec(ctx, `
		UPDATE accounts SET
			password_envelope = $2, wallet = $3, salt = $4, state = $5,
			eligible = $6, activation_code_hash = $7, recovery_code_hash = $8,
			recovery_expires_at = $9, crm_state = $10, crm_contact_id = $11,
			updated_at = $12
		WHERE id = $1
	`,
		a.ID.String(),
		a.PasswordEnvelope,
		a.Wallet,
		a.Salt,
		string(a.State),
		a.Eligible,
		nullable(a.ActivationCodeHash),
		nullable(a.RecoveryCodeHash),
		a.RecoveryExpiresAt,
		string(a.CRMState),
		nullable(a.CRMContactID),
		a.UpdatedAt,
	)
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_FAILED").
			With("operation", "update account").
			With("id", a.ID.String()).
			Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", a.ID.String()).
			Wrap(account.ErrNotFound)
	}
	return nil
}

// ListCRMPending returns up to limit accounts awaiting CRM sync that sort
// after the cursor, ordered by (created_at, id).
func (r *AccountRepository) ListCRMPending(ctx context.Context, after account.Cursor, limit int) ([]*account.Account, error) {
	rows, err := r.pool.Query(ctx, selectColumns+`
		WHERE crm_state = 'pending' AND identity <> ''
		  AND (created_at, id) > ($1, $2)
		ORDER BY created_at, id
		LIMIT $3`, after.CreatedAt, after.ID.String(), limit)
	if err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "list crm pending").
			Wrap(err)
	}
	defer rows.Close()

	var accts []*account.Account
	for rows.Next() {
		acct, err := scanAccount(rows)
		if err != nil {
			return nil, oops.Code("ACCOUNT_LIST_FAILED").
				With("operation", "scan crm pending").
				Wrap(err)
		}
		accts = append(accts, acct)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("ACCOUNT_LIST_FAILED").
			With("operation", "iterate crm pending").
			Wrap(err)
	}
	return accts, nil
}

// scanAccount scans a single row into an Account.
// Database errors, pgx.ErrNoRows included, are returned unwrapped for callers
// to code.
func scanAccount(row pgx.Row) (*account.Account, error) {
	var (
		idStr              string
		identityValue      string
		identityKind       string
		envelope           []byte
		wallet             string
		salt               string
		state              string
		eligible           bool
		activationCodeHash *string
		recoveryCodeHash   *string
		recoveryExpiresAt  *time.Time
		crmState           string
		crmContactID       *string
		createdAt          time.Time
		updatedAt          time.Time
	)

	err := row.Scan(
		&idStr,
		&identityValue,
		&identityKind,
		&envelope,
		&wallet,
		&salt,
		&state,
		&eligible,
		&activationCodeHash,
		&recoveryCodeHash,
		&recoveryExpiresAt,
		&crmState,
		&crmContactID,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err //nolint:wrapcheck // Callers wrap with context-specific info
	}

	id, err := ulid.Parse(idStr)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_ID").
			With("id", idStr).
			Wrap(err)
	}

	ident, err := identity.Restore(identity.Kind(identityKind), identityValue)
	if err != nil {
		return nil, oops.Code("ACCOUNT_INVALID_IDENTITY").
			With("id", idStr).
			With("identity_kind", identityKind).
			Wrap(err)
	}

	return &account.Account{
		ID:                 id,
		Identity:           ident,
		PasswordEnvelope:   envelope,
		Wallet:             wallet,
		Salt:               salt,
		State:              account.State(state),
		Eligible:           eligible,
		ActivationCodeHash: deref(activationCodeHash),
		RecoveryCodeHash:   deref(recoveryCodeHash),
		RecoveryExpiresAt:  recoveryExpiresAt,
		CRMState:           account.CRMState(crmState),
		CRMContactID:       deref(crmContactID),
		CreatedAt:          createdAt,
		UpdatedAt:          updatedAt,
	}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Compile-time interface check.
var _ account.Repository = (*AccountRepository)(nil)
