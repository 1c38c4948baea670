// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package account_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/account/accounttest"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/pake/paketest"
	"github.com/keyward/keyward/pkg/errutil"
)

func newService(t *testing.T) (*account.Service, *accounttest.Repository, *accounttest.Notifier) {
	t.Helper()
	repo := accounttest.NewRepository()
	notifier := &accounttest.Notifier{}
	svc := account.NewService(repo, notifier, account.ServiceConfig{RecoveryCodeTTL: time.Hour}, nil)
	return svc, repo, notifier
}

func mustEmail(t *testing.T, raw string) identity.Email {
	t.Helper()
	id, err := identity.ParseEmail(raw)
	require.NoError(t, err)
	return id
}

func mustPublicKey(t *testing.T) identity.PublicKey {
	t.Helper()
	_, pub := paketest.KeyPair()
	id, err := identity.FromPoint(pub)
	require.NoError(t, err)
	return id
}

func TestUpsertFromRegistration_NewEmailAccount(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	alice := mustEmail(t, "alice@example.com")

	res, err := svc.UpsertFromRegistration(ctx, account.Registration{
		Identity: alice,
		Envelope: []byte("env-1"),
		Wallet:   "wallet-1",
		Salt:     "s1",
	})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.NotEmpty(t, res.ActivationCode)
	assert.Equal(t, account.StatePendingActivation, res.Account.State)
	assert.Equal(t, account.CRMPending, res.Account.CRMState)

	stored := repo.Get(alice)
	require.NotNil(t, stored)
	assert.Equal(t, account.HashCode(res.ActivationCode), stored.ActivationCodeHash)
	assert.Equal(t, "s1", stored.Salt)
}

func TestUpsertFromRegistration_NewPublicKeyAccount(t *testing.T) {
	svc, _, _ := newService(t)
	res, err := svc.UpsertFromRegistration(context.Background(), account.Registration{
		Identity: mustPublicKey(t),
		Envelope: []byte("env"),
		Salt:     "salt",
	})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Empty(t, res.ActivationCode)
	assert.Equal(t, account.StateActivated, res.Account.State)
	assert.Equal(t, account.CRMSynced, res.Account.CRMState)
}

func TestUpsertFromRegistration_ConflictAndReset(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	alice := mustEmail(t, "alice@example.com")

	first, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env-1"), Salt: "s1"})
	require.NoError(t, err)
	_, err = svc.ConsumeActivationCode(ctx, first.ActivationCode)
	require.NoError(t, err)

	_, err = svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env-2"), Salt: "s2"})
	errutil.AssertErrorKind(t, err, errutil.KindConflict)
	errutil.AssertErrorCode(t, err, "ACCOUNT_ALREADY_REGISTERED")
	assert.Equal(t, []byte("env-1"), repo.Get(alice).PasswordEnvelope)

	res, err := svc.UpsertFromRegistration(ctx, account.Registration{
		Identity: alice, Envelope: []byte("env-2"), Wallet: "w2", Salt: "s2", Reset: true,
	})
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, account.StateActivated, res.Account.State)
	assert.Equal(t, []byte("env-2"), repo.Get(alice).PasswordEnvelope)
	assert.Equal(t, "s2", repo.Get(alice).Salt)
}

func TestUpsertFromRegistration_ConcurrentFirstRegistrations(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	alice := mustEmail(t, "alice@example.com")

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte{byte(i + 1)}, Salt: "s"})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errutil.IsKind(err, errutil.KindConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, n-1, conflicts)
}

func TestUpsertFromRegistration_PromotesWaitlistRow(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newService(t)
	bob := mustEmail(t, "bob@example.com")

	_, err := svc.AddToWaitlist(ctx, bob)
	require.NoError(t, err)
	errutil.AssertErrorKind(t, svc.CheckEligible(ctx, bob), errutil.KindForbidden)

	_, err = svc.ApproveWaitlisted(ctx, bob)
	require.NoError(t, err)
	require.NoError(t, svc.CheckEligible(ctx, bob))

	res, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: bob, Envelope: []byte("env"), Salt: "s"})
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, account.StatePendingActivation, res.Account.State)
}

func TestCheckEligible_UnknownIdentity(t *testing.T) {
	svc, _, _ := newService(t)
	err := svc.CheckEligible(context.Background(), mustEmail(t, "nobody@example.com"))
	errutil.AssertErrorCode(t, err, "WAITLIST_NOT_ELIGIBLE")
}

func TestConsumeActivationCode_SingleUse(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	alice := mustEmail(t, "alice@example.com")

	res, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env"), Salt: "s1"})
	require.NoError(t, err)

	acct, err := svc.ConsumeActivationCode(ctx, res.ActivationCode)
	require.NoError(t, err)
	assert.Equal(t, account.StateActivated, acct.State)
	assert.Empty(t, repo.Get(alice).ActivationCodeHash)
	assert.Equal(t, account.CRMPending, repo.Get(alice).CRMState)

	_, err = svc.ConsumeActivationCode(ctx, res.ActivationCode)
	errutil.AssertErrorKind(t, err, errutil.KindNotFound)
	errutil.AssertErrorCode(t, err, "ACTIVATION_CODE_NOT_FOUND")

	_, err = svc.ConsumeActivationCode(ctx, "")
	errutil.AssertErrorKind(t, err, errutil.KindNotFound)
}

func TestResendActivation(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newService(t)
	alice := mustEmail(t, "alice@example.com")

	res, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env"), Salt: "s"})
	require.NoError(t, err)

	require.NoError(t, svc.ResendActivation(ctx, alice))
	sent, ok := notifier.Last("verification")
	require.True(t, ok)
	assert.NotEqual(t, res.ActivationCode, sent.Code, "resend must rotate the code")
	assert.Equal(t, account.HashCode(sent.Code), repo.Get(alice).ActivationCodeHash)

	_, err = svc.ConsumeActivationCode(ctx, res.ActivationCode)
	errutil.AssertErrorKind(t, err, errutil.KindNotFound)

	assert.NoError(t, svc.ResendActivation(ctx, mustEmail(t, "ghost@example.com")))
}

func TestSendVerification_DeliveryFailure(t *testing.T) {
	ctx := context.Background()
	svc, _, notifier := newService(t)
	notifier.Err = errors.New("smtp: connection refused")

	res, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: mustEmail(t, "a@example.com"), Envelope: []byte("e"), Salt: "s"})
	require.NoError(t, err)

	err = svc.SendVerification(ctx, res.Account, res.ActivationCode)
	errutil.AssertErrorKind(t, err, errutil.KindDeliveryFailed)
}

func TestIssueRecoveryCode(t *testing.T) {
	ctx := context.Background()
	svc, repo, notifier := newService(t)
	alice := mustEmail(t, "alice@example.com")
	_, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env"), Salt: "s"})
	require.NoError(t, err)

	t.Run("unknown identity is a silent no-op", func(t *testing.T) {
		code, err := svc.IssueRecoveryCode(ctx, mustEmail(t, "ghost@example.com"))
		require.NoError(t, err)
		assert.Empty(t, code)
	})

	t.Run("public key identity is a silent no-op", func(t *testing.T) {
		code, err := svc.IssueRecoveryCode(ctx, mustPublicKey(t))
		require.NoError(t, err)
		assert.Empty(t, code)
	})

	t.Run("second issue invalidates the first", func(t *testing.T) {
		first, err := svc.IssueRecoveryCode(ctx, alice)
		require.NoError(t, err)
		second, err := svc.IssueRecoveryCode(ctx, alice)
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		_, err = svc.PeekRecoveryCode(ctx, first)
		errutil.AssertErrorKind(t, err, errutil.KindNotFound)

		acct, err := svc.PeekRecoveryCode(ctx, second)
		require.NoError(t, err)
		assert.Equal(t, alice.String(), acct.Identity.String())

		sent, ok := notifier.Last("recovery")
		require.True(t, ok)
		assert.Equal(t, second, sent.Code)
	})

	t.Run("consume is single use", func(t *testing.T) {
		code, err := svc.IssueRecoveryCode(ctx, alice)
		require.NoError(t, err)
		_, err = svc.ConsumeRecoveryCode(ctx, code)
		require.NoError(t, err)
		assert.Empty(t, repo.Get(alice).RecoveryCodeHash)

		_, err = svc.ConsumeRecoveryCode(ctx, code)
		errutil.AssertErrorCode(t, err, "RECOVERY_CODE_NOT_FOUND")
	})

	t.Run("delivery failure stays silent", func(t *testing.T) {
		notifier.Err = errors.New("relay down")
		defer func() { notifier.Err = nil }()
		code, err := svc.IssueRecoveryCode(ctx, alice)
		require.NoError(t, err)
		assert.NotEmpty(t, code)
	})
}

func TestRecoveryCodeExpiry(t *testing.T) {
	ctx := context.Background()
	repo := accounttest.NewRepository()
	svc := account.NewService(repo, &accounttest.Notifier{}, account.ServiceConfig{RecoveryCodeTTL: time.Nanosecond}, nil)
	alice := mustEmail(t, "alice@example.com")
	_, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env"), Salt: "s"})
	require.NoError(t, err)

	code, err := svc.IssueRecoveryCode(ctx, alice)
	require.NoError(t, err)
	time.Sleep(time.Millisecond)

	_, err = svc.PeekRecoveryCode(ctx, code)
	errutil.AssertErrorKind(t, err, errutil.KindNotFound)
}

func TestUpsertFromRegistration_WithRecoveryCode(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	alice := mustEmail(t, "alice@example.com")
	_, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env-1"), Salt: "s"})
	require.NoError(t, err)

	code, err := svc.IssueRecoveryCode(ctx, alice)
	require.NoError(t, err)

	_, err = svc.UpsertFromRegistration(ctx, account.Registration{
		Identity: alice, Envelope: []byte("env-2"), Salt: "s2", Reset: true, RecoveryCode: "wrong",
	})
	errutil.AssertErrorCode(t, err, "RECOVERY_CODE_NOT_FOUND")

	_, err = svc.UpsertFromRegistration(ctx, account.Registration{
		Identity: alice, Envelope: []byte("env-2"), Salt: "s2", Reset: true, RecoveryCode: code,
	})
	require.NoError(t, err)
	stored := repo.Get(alice)
	assert.Equal(t, []byte("env-2"), stored.PasswordEnvelope)
	assert.Empty(t, stored.RecoveryCodeHash)
	assert.Nil(t, stored.RecoveryExpiresAt)
}

func TestMarkCRMSynced(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)
	alice := mustEmail(t, "alice@example.com")
	res, err := svc.UpsertFromRegistration(ctx, account.Registration{Identity: alice, Envelope: []byte("env"), Salt: "s"})
	require.NoError(t, err)

	snapshot := res.Account.Clone()

	t.Run("state moved since snapshot keeps account pending", func(t *testing.T) {
		_, err := svc.ConsumeActivationCode(ctx, res.ActivationCode)
		require.NoError(t, err)

		require.NoError(t, svc.MarkCRMSynced(ctx, snapshot, "contact-1"))
		stored := repo.Get(alice)
		assert.Equal(t, account.CRMPending, stored.CRMState)
		assert.Equal(t, "contact-1", stored.CRMContactID)
	})

	t.Run("current snapshot is marked synced", func(t *testing.T) {
		current := repo.Get(alice)
		require.NoError(t, svc.MarkCRMSynced(ctx, current, ""))
		stored := repo.Get(alice)
		assert.Equal(t, account.CRMSynced, stored.CRMState)
		assert.Equal(t, "contact-1", stored.CRMContactID)

		pending, err := svc.ListCRMPending(ctx, account.Cursor{}, 10)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("mark pending again", func(t *testing.T) {
		acct, err := svc.MarkCRMPending(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, account.CRMPending, acct.CRMState)
		pending, err := svc.ListCRMPending(ctx, account.Cursor{}, 10)
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("mark pending for unknown identity", func(t *testing.T) {
		_, err := svc.MarkCRMPending(ctx, mustEmail(t, "ghost@example.com"))
		errutil.AssertErrorKind(t, err, errutil.KindNotFound)
	})
}

func TestFindByIdentity(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newService(t)

	_, err := svc.FindByIdentity(ctx, mustEmail(t, "ghost@example.com"))
	errutil.AssertErrorKind(t, err, errutil.KindNotFound)
	assert.ErrorIs(t, err, account.ErrNotFound)

	repo.Err = errors.New("connection reset")
	_, err = svc.FindByIdentity(ctx, mustEmail(t, "ghost@example.com"))
	errutil.AssertErrorKind(t, err, errutil.KindInternal)
	errutil.AssertErrorCode(t, err, "ACCOUNT_LOOKUP_FAILED")
}
