// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/pkg/errutil"
)

var accountColumns = []string{
	"id", "identity", "identity_kind", "password_envelope", "wallet", "salt",
	"state", "eligible", "activation_code_hash", "recovery_code_hash",
	"recovery_expires_at", "crm_state", "crm_contact_id", "created_at", "updated_at",
}

func accountRows(id ulid.ULID, email string, state account.State, envelope []byte) *pgxmock.Rows {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	activation := "abc123"
	return pgxmock.NewRows(accountColumns).AddRow(
		id.String(), email, "email", envelope, "wallet", "salt",
		string(state), false, &activation, (*string)(nil),
		(*time.Time)(nil), "pending", (*string)(nil), now, now,
	)
}

func mustEmail(t *testing.T, raw string) identity.Email {
	t.Helper()
	id, err := identity.ParseEmail(raw)
	require.NoError(t, err)
	return id
}

func TestAccountRepository_GetByIdentity(t *testing.T) {
	id := ulid.Make()
	alice := mustEmail(t, "alice@example.com")

	tests := []struct {
		name      string
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   bool
		wantCode  string
		notFound  bool
	}{
		{
			name: "found",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, identity, identity_kind`).
					WithArgs("alice@example.com").
					WillReturnRows(accountRows(id, "alice@example.com", account.StatePendingActivation, []byte("env")))
			},
		},
		{
			name: "no rows",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, identity, identity_kind`).
					WithArgs("alice@example.com").
					WillReturnError(pgx.ErrNoRows)
			},
			wantErr:  true,
			wantCode: "ACCOUNT_NOT_FOUND",
			notFound: true,
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT id, identity, identity_kind`).
					WithArgs("alice@example.com").
					WillReturnError(errors.New("connection refused"))
			},
			wantErr:  true,
			wantCode: "ACCOUNT_GET_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			repo := NewAccountRepository(mock)
			got, err := repo.GetByIdentity(context.Background(), alice)

			if tt.wantErr {
				require.Error(t, err)
				if tt.wantCode != "" {
					errutil.AssertErrorCode(t, err, tt.wantCode)
				}
				assert.Equal(t, tt.notFound, errors.Is(err, account.ErrNotFound))
			} else {
				require.NoError(t, err)
				assert.Equal(t, id, got.ID)
				assert.Equal(t, "alice@example.com", got.Identity.String())
				assert.Equal(t, account.StatePendingActivation, got.State)
				assert.Equal(t, "abc123", got.ActivationCodeHash)
				assert.Empty(t, got.RecoveryCodeHash)
				assert.True(t, got.Registered())
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_GetByCodeHash(t *testing.T) {
	tests := []struct {
		name     string
		column   string
		lookup   func(r *AccountRepository, ctx context.Context, hash string) (*account.Account, error)
		queryErr error
		wantCode string
		notFound bool
	}{
		{
			name:     "activation code not found",
			column:   "activation_code_hash",
			lookup:   (*AccountRepository).GetByActivationCodeHash,
			queryErr: pgx.ErrNoRows,
			wantCode: "ACCOUNT_NOT_FOUND",
			notFound: true,
		},
		{
			name:     "activation code database error",
			column:   "activation_code_hash",
			lookup:   (*AccountRepository).GetByActivationCodeHash,
			queryErr: errors.New("connection refused"),
			wantCode: "ACCOUNT_GET_FAILED",
		},
		{
			name:     "recovery code not found",
			column:   "recovery_code_hash",
			lookup:   (*AccountRepository).GetByRecoveryCodeHash,
			queryErr: pgx.ErrNoRows,
			wantCode: "ACCOUNT_NOT_FOUND",
			notFound: true,
		},
		{
			name:     "recovery code database error",
			column:   "recovery_code_hash",
			lookup:   (*AccountRepository).GetByRecoveryCodeHash,
			queryErr: errors.New("connection refused"),
			wantCode: "ACCOUNT_GET_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err)
			defer mock.Close()

			mock.ExpectQuery(`WHERE ` + tt.column + ` = \$1`).
				WithArgs("hash").
				WillReturnError(tt.queryErr)

			repo := NewAccountRepository(mock)
			_, err = tt.lookup(repo, context.Background(), "hash")
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.wantCode)
			errutil.AssertErrorContext(t, err, "lookup", tt.column)
			assert.Equal(t, tt.notFound, errors.Is(err, account.ErrNotFound))
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func insertArgs() []any {
	args := make([]any, 15)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func updateArgs() []any {
	args := make([]any, 12)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestAccountRepository_Upsert(t *testing.T) {
	alice := mustEmail(t, "alice@example.com")
	existingID := ulid.Make()

	create := func(existing *account.Account) (*account.Account, error) {
		if existing != nil {
			existing.Salt = "updated"
			return existing, nil
		}
		now := time.Now()
		return &account.Account{
			ID: ulid.Make(), Identity: alice, State: account.StateWaitlisted,
			CRMState: account.CRMPending, CreatedAt: now, UpdatedAt: now,
		}, nil
	}

	tests := []struct {
		name      string
		mutate    account.MutateFunc
		setupMock func(mock pgxmock.PgxPoolIface)
		wantErr   bool
		wantCode  string
		wantSalt  string
	}{
		{
			name:   "inserts when no row exists",
			mutate: create,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FOR UPDATE`).WithArgs("alice@example.com").WillReturnError(pgx.ErrNoRows)
				mock.ExpectExec(`INSERT INTO accounts`).WithArgs(insertArgs()...).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit()
			},
		},
		{
			name:   "updates locked row",
			mutate: create,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FOR UPDATE`).WithArgs("alice@example.com").
					WillReturnRows(accountRows(existingID, "alice@example.com", account.StateActivated, []byte("env")))
				mock.ExpectExec(`UPDATE accounts SET`).WithArgs(updateArgs()...).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			},
			wantSalt: "updated",
		},
		{
			name: "mutation error rolls back",
			mutate: func(*account.Account) (*account.Account, error) {
				return nil, errutil.Client(errutil.KindConflict, "ACCOUNT_ALREADY_REGISTERED", "taken").Errorf("taken")
			},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FOR UPDATE`).WithArgs("alice@example.com").
					WillReturnRows(accountRows(existingID, "alice@example.com", account.StateActivated, []byte("env")))
				mock.ExpectRollback()
			},
			wantErr:  true,
			wantCode: "ACCOUNT_ALREADY_REGISTERED",
		},
		{
			name:   "retries after losing insert race",
			mutate: create,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FOR UPDATE`).WithArgs("alice@example.com").WillReturnError(pgx.ErrNoRows)
				mock.ExpectExec(`INSERT INTO accounts`).WithArgs(insertArgs()...).
					WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
				mock.ExpectRollback()

				mock.ExpectBegin()
				mock.ExpectQuery(`FOR UPDATE`).WithArgs("alice@example.com").
					WillReturnRows(accountRows(existingID, "alice@example.com", account.StateWaitlisted, nil))
				mock.ExpectExec(`UPDATE accounts SET`).WithArgs(updateArgs()...).
					WillReturnResult(pgxmock.NewResult("UPDATE", 1))
				mock.ExpectCommit()
			},
			wantSalt: "updated",
		},
		{
			name:   "begin failure",
			mutate: create,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin().WillReturnError(errors.New("pool exhausted"))
			},
			wantErr:  true,
			wantCode: "ACCOUNT_TX_BEGIN_FAILED",
		},
		{
			name:   "commit failure",
			mutate: create,
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectBegin()
				mock.ExpectQuery(`FOR UPDATE`).WithArgs("alice@example.com").WillReturnError(pgx.ErrNoRows)
				mock.ExpectExec(`INSERT INTO accounts`).WithArgs(insertArgs()...).
					WillReturnResult(pgxmock.NewResult("INSERT", 1))
				mock.ExpectCommit().WillReturnError(errors.New("serialization failure"))
				mock.ExpectRollback()
			},
			wantErr:  true,
			wantCode: "ACCOUNT_TX_COMMIT_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, err := pgxmock.NewPool()
			require.NoError(t, err, "failed to create mock")
			defer mock.Close()

			tt.setupMock(mock)

			repo := NewAccountRepository(mock)
			got, err := repo.Upsert(context.Background(), alice, tt.mutate)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantCode)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantSalt, got.Salt)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestAccountRepository_ListCRMPending(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	first, second := ulid.Make(), ulid.Make()
	rows := accountRows(first, "a@example.com", account.StatePendingActivation, []byte("e"))
	now := time.Now()
	rows.AddRow(
		second.String(), "b@example.com", "email", []byte("e"), "", "",
		string(account.StateWaitlisted), false, (*string)(nil), (*string)(nil),
		(*time.Time)(nil), "pending", (*string)(nil), now, now,
	)
	after := account.Cursor{CreatedAt: now.Add(-time.Hour), ID: ulid.Make()}
	mock.ExpectQuery(`\(created_at, id\) > \(\$1, \$2\)`).
		WithArgs(after.CreatedAt, after.ID.String(), 50).
		WillReturnRows(rows)

	repo := NewAccountRepository(mock)
	got, err := repo.ListCRMPending(context.Background(), after, 50)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, first, got[0].ID)
	assert.Equal(t, account.StateWaitlisted, got[1].State)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ListCRMPendingRowError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	rows := pgxmock.NewRows(accountColumns).
		AddRow(
			ulid.Make().String(), "a@example.com", "email", []byte("e"), "", "",
			"pending_activation", false, (*string)(nil), (*string)(nil),
			(*time.Time)(nil), "pending", (*string)(nil), time.Now(), time.Now(),
		).
		RowError(0, errors.New("connection reset"))
	mock.ExpectQuery(`crm_state = 'pending'`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), 10).
		WillReturnRows(rows)

	repo := NewAccountRepository(mock)
	_, err = repo.ListCRMPending(context.Background(), account.Cursor{}, 10)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "ACCOUNT_LIST_FAILED")
	assert.NoError(t, mock.ExpectationsWereMet())
}
