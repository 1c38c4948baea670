// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package handshake carries OPAQUE registration and login exchanges across
// their two round-trips. A started exchange is parked in a Store under a
// random token; the finish call takes it back out exactly once.
package handshake

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/account"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/pake"
	"github.com/keyward/keyward/pkg/errutil"
)

// DefaultOperationTimeout bounds each coordinator call.
const DefaultOperationTimeout = 10 * time.Second

// tokenAttempts bounds retries on the vanishingly rare token collision.
const tokenAttempts = 3

// Accounts is the part of the account lifecycle the coordinator drives.
type Accounts interface {
	FindByIdentity(ctx context.Context, id identity.Identity) (*account.Account, error)
	CheckEligible(ctx context.Context, id identity.Identity) error
	PeekRecoveryCode(ctx context.Context, code string) (*account.Account, error)
	UpsertFromRegistration(ctx context.Context, reg account.Registration) (*account.RegistrationResult, error)
	SendVerification(ctx context.Context, acct *account.Account, code string) error
}

// SyncTrigger nudges CRM reconciliation. It must not block.
type SyncTrigger interface {
	Trigger()
}

// Observer records handshake outcomes.
type Observer interface {
	ObserveHandshake(step, outcome string)
}

// Config selects optional behavior.
type Config struct {
	// WaitlistEnabled requires identities to be approved before registering.
	WaitlistEnabled bool
	// RequireOwnershipProof makes public key identities sign a server nonce.
	RequireOwnershipProof bool
	// OperationTimeout bounds every call. Zero selects DefaultOperationTimeout.
	OperationTimeout time.Duration
}

// Coordinator runs the four handshake steps.
type Coordinator struct {
	engine   pake.Engine
	store    Store
	accounts Accounts
	crm      SyncTrigger
	observer Observer
	cfg      Config
	logger   *slog.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithSyncTrigger sets the CRM nudge fired after registrations.
func WithSyncTrigger(t SyncTrigger) Option {
	return func(c *Coordinator) { c.crm = t }
}

// WithObserver sets the outcome observer.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(engine pake.Engine, store Store, accounts Accounts, cfg Config, opts ...Option) *Coordinator {
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	c := &Coordinator{
		engine:   engine,
		store:    store,
		accounts: accounts,
		cfg:      cfg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RegisterStartRequest begins a registration.
type RegisterStartRequest struct {
	Identity string
	Request  []byte
	Wallet   string
	Salt     string
	Reset    bool
	// RecoveryCode authorizes a reset for an email identity.
	RecoveryCode string
}

// StartResult is returned by the start steps.
type StartResult struct {
	Token    string
	Response []byte
	// Challenge is hex(sha256(nonce)) for public key registrations and
	// empty otherwise. The client signs the decoded digest.
	Challenge string
}

// RegisterFinishRequest completes a registration.
type RegisterFinishRequest struct {
	Token     string
	Finish    []byte
	Signature string
}

// RegisterFinishResult describes the stored account.
type RegisterFinishResult struct {
	Account *account.Account
	IsNew   bool
}

// LoginResult is returned by LoginFinish. SessionKey is the key exchange
// output and is for the caller's use only.
type LoginResult struct {
	Wallet     string
	Salt       string
	State      account.State
	SessionKey []byte
}

// RegisterStart validates a registration request, runs the first OPAQUE
// step and parks the server state.
func (c *Coordinator) RegisterStart(ctx context.Context, req RegisterStartRequest) (result *StartResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()
	defer c.observe("register_start", &err)

	id, err := identity.Parse(req.Identity)
	if err != nil {
		return nil, err
	}
	if len(req.Request) == 0 {
		return nil, errutil.Client(errutil.KindInvalidInput, "REGISTRATION_REQUEST_MISSING",
			"Must include valid OPAQUE registration request").Errorf("empty registration request")
	}
	if req.Salt == "" {
		return nil, errutil.Client(errutil.KindInvalidInput, "SALT_MISSING", "No salt value provided").
			Errorf("empty salt")
	}

	if c.cfg.WaitlistEnabled {
		if err := c.accounts.CheckEligible(ctx, id); err != nil {
			return nil, err
		}
	}
	if req.Reset || req.RecoveryCode != "" {
		if err := c.authorizeReset(ctx, id, req.RecoveryCode); err != nil {
			return nil, err
		}
	}

	state, response, err := c.engine.StartRegistration(ctx, id.String(), req.Request)
	if err != nil {
		return nil, engineError(err, "REGISTRATION_REQUEST_INVALID", "Must include valid OPAQUE registration request")
	}

	pending := &Pending{
		Kind:         KindRegistration,
		State:        state,
		Identity:     id,
		Wallet:       req.Wallet,
		Salt:         req.Salt,
		Reset:        req.Reset || req.RecoveryCode != "",
		RecoveryCode: req.RecoveryCode,
	}
	result = &StartResult{Response: response}
	if _, ok := id.(identity.PublicKey); ok && c.cfg.RequireOwnershipProof {
		nonce, err := newChallenge()
		if err != nil {
			return nil, err
		}
		pending.Challenge = nonce
		result.Challenge = hex.EncodeToString(ChallengeDigest(nonce))
	}

	if result.Token, err = c.park(ctx, pending); err != nil {
		return nil, err
	}
	return result, nil
}

// authorizeReset admits a password reset when the caller holds a live
// recovery code for id, or proves key ownership at finish.
func (c *Coordinator) authorizeReset(ctx context.Context, id identity.Identity, code string) error {
	if code != "" {
		acct, err := c.accounts.PeekRecoveryCode(ctx, code)
		if err != nil {
			return err
		}
		if acct.Identity.String() != id.String() {
			return resetForbidden(id)
		}
		return nil
	}
	if _, ok := id.(identity.PublicKey); ok && c.cfg.RequireOwnershipProof {
		return nil
	}
	return resetForbidden(id)
}

func resetForbidden(id identity.Identity) error {
	return errutil.Client(errutil.KindForbidden, "RESET_NOT_AUTHORIZED",
		"Password reset requires a recovery code").
		With("identity_kind", id.Kind()).
		Errorf("reset without authorization")
}

// RecoverFinish starts a reset registration for the account holding a live
// recovery code. The returned token is finished with RegisterFinish.
func (c *Coordinator) RecoverFinish(ctx context.Context, code string, request []byte, wallet, salt string) (*StartResult, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	acct, err := c.accounts.PeekRecoveryCode(lookupCtx, code)
	cancel()
	if err != nil {
		c.record("recover_finish", err)
		return nil, err
	}
	return c.RegisterStart(ctx, RegisterStartRequest{
		Identity:     acct.Identity.String(),
		Request:      request,
		Wallet:       wallet,
		Salt:         salt,
		Reset:        true,
		RecoveryCode: code,
	})
}

// RegisterFinish consumes a registration handshake and stores the envelope.
// A verification delivery failure is returned after the account is stored.
func (c *Coordinator) RegisterFinish(ctx context.Context, req RegisterFinishRequest) (result *RegisterFinishResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()
	defer c.observe("register_finish", &err)

	pending, err := c.take(ctx, KindRegistration, req.Token, "Registration does not exist")
	if err != nil {
		return nil, err
	}

	if pending.Challenge != nil {
		key, ok := pending.Identity.(identity.PublicKey)
		if !ok {
			return nil, oops.Code("HANDSHAKE_CHALLENGE_MISMATCH").Errorf("challenge set for non public key identity")
		}
		if err := key.Verify(ChallengeDigest(pending.Challenge), req.Signature); err != nil {
			return nil, err
		}
	}

	envelope, err := c.engine.CompleteRegistration(ctx, pending.State, req.Finish)
	if err != nil {
		return nil, engineError(err, "REGISTRATION_FINISH_INVALID", "Invalid registration key")
	}

	if c.cfg.WaitlistEnabled {
		if err := c.accounts.CheckEligible(ctx, pending.Identity); err != nil {
			return nil, err
		}
	}

	reg, err := c.accounts.UpsertFromRegistration(ctx, account.Registration{
		Identity:     pending.Identity,
		Envelope:     envelope,
		Wallet:       pending.Wallet,
		Salt:         pending.Salt,
		Reset:        pending.Reset,
		RecoveryCode: pending.RecoveryCode,
	})
	if err != nil {
		return nil, err
	}

	if c.crm != nil && reg.Account.CRMState == account.CRMPending {
		c.crm.Trigger()
	}

	result = &RegisterFinishResult{Account: reg.Account, IsNew: reg.IsNew}
	if reg.IsNew && reg.ActivationCode != "" {
		if err := c.accounts.SendVerification(ctx, reg.Account, reg.ActivationCode); err != nil {
			return result, err
		}
	}

	c.logger.InfoContext(ctx, "registration finished",
		"account_id", reg.Account.ID.String(),
		"identity_kind", pending.Identity.Kind(),
		"new", reg.IsNew,
		"reset", pending.Reset)
	return result, nil
}

// LoginStart runs the first login step against the stored envelope.
// Unknown identities are reported as not found.
func (c *Coordinator) LoginStart(ctx context.Context, rawIdentity string, request []byte) (result *StartResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()
	defer c.observe("login_start", &err)

	id, err := identity.Parse(rawIdentity)
	if err != nil {
		return nil, err
	}
	if len(request) == 0 {
		return nil, errutil.Client(errutil.KindInvalidInput, "CREDENTIAL_REQUEST_MISSING",
			"Must include valid OPAQUE credential request").Errorf("empty credential request")
	}

	acct, err := c.accounts.FindByIdentity(ctx, id)
	if err != nil {
		return nil, err
	}
	if !acct.Registered() {
		return nil, errutil.Client(errutil.KindNotFound, "ACCOUNT_NOT_FOUND", "User not found").
			With("account_id", acct.ID.String()).
			Errorf("account has no password envelope")
	}

	state, response, err := c.engine.StartLogin(ctx, id.String(), acct.PasswordEnvelope, request)
	if err != nil {
		return nil, engineError(err, "CREDENTIAL_REQUEST_INVALID", "Must include valid OPAQUE credential request")
	}

	token, err := c.park(ctx, &Pending{Kind: KindLogin, State: state, Identity: id})
	if err != nil {
		return nil, err
	}
	return &StartResult{Token: token, Response: response}, nil
}

// LoginFinish consumes a login handshake and returns the account payload.
func (c *Coordinator) LoginFinish(ctx context.Context, token string, finish []byte) (result *LoginResult, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.OperationTimeout)
	defer cancel()
	defer c.observe("login_finish", &err)

	pending, err := c.take(ctx, KindLogin, token, "Login does not exist")
	if err != nil {
		return nil, err
	}

	sessionKey, err := c.engine.CompleteLogin(ctx, pending.State, finish)
	if err != nil {
		return nil, engineError(err, "LOGIN_FINISH_INVALID", "Invalid login key")
	}

	acct, err := c.accounts.FindByIdentity(ctx, pending.Identity)
	if errutil.IsKind(err, errutil.KindNotFound) {
		return nil, errutil.Client(errutil.KindNotFound, "ACCOUNT_VANISHED", "User does not exist").
			Errorf("account removed during login")
	}
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Wallet:     acct.Wallet,
		Salt:       acct.Salt,
		State:      acct.State,
		SessionKey: sessionKey,
	}, nil
}

// park stores p under a fresh random token.
func (c *Coordinator) park(ctx context.Context, p *Pending) (string, error) {
	var lastErr error
	for range tokenAttempts {
		token, err := newToken()
		if err != nil {
			return "", err
		}
		p.Token = token
		err = c.store.Put(ctx, p)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", oops.Code("HANDSHAKE_STORE_FAILED").With("kind", p.Kind).Wrap(err)
		}
		lastErr = err
	}
	return "", oops.Code("HANDSHAKE_STORE_FAILED").With("attempts", tokenAttempts).Wrap(lastErr)
}

func (c *Coordinator) take(ctx context.Context, kind Kind, token, public string) (*Pending, error) {
	pending, err := c.store.Take(ctx, kind, token)
	if errors.Is(err, ErrNotFound) {
		return nil, errutil.Client(errutil.KindNotFound, "HANDSHAKE_NOT_FOUND", public).
			With("kind", kind).
			Wrap(err)
	}
	if err != nil {
		return nil, oops.Code("HANDSHAKE_STORE_FAILED").With("kind", kind).Wrap(err)
	}
	return pending, nil
}

// engineError maps malformed protocol input to InvalidInput and leaves
// everything else internal.
func engineError(err error, code, public string) error {
	if errors.Is(err, pake.ErrMalformed) || errors.Is(err, pake.ErrWrongState) || errors.Is(err, pake.ErrStateConsumed) {
		return errutil.Client(errutil.KindInvalidInput, code, public).Wrap(err)
	}
	return oops.Code("PAKE_ENGINE_FAILED").With("public_code", code).Wrap(err)
}

func (c *Coordinator) observe(step string, errp *error) {
	c.record(step, *errp)
}

func (c *Coordinator) record(step string, err error) {
	if c.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = string(errutil.KindOf(err))
	}
	c.observer.ObserveHandshake(step, outcome)
}
