// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package account

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/pkg/errutil"
)

// Notifier delivers account emails.
type Notifier interface {
	SendVerification(ctx context.Context, to identity.Email, code string) error
	SendRecovery(ctx context.Context, to identity.Email, code string) error
}

// ServiceConfig tunes the lifecycle manager.
type ServiceConfig struct {
	RecoveryCodeTTL time.Duration
}

// Registration is the outcome of a completed registration handshake.
type Registration struct {
	Identity identity.Identity
	Envelope []byte
	Wallet   string
	Salt     string
	Reset    bool
	// RecoveryCode, when set, must match the account's live recovery code.
	// It is consumed in the same transaction as the envelope write.
	RecoveryCode string
}

// RegistrationResult describes what UpsertFromRegistration did.
type RegistrationResult struct {
	Account *Account
	IsNew   bool
	// ActivationCode is the plaintext code for a new email account.
	ActivationCode string
}

// Service manages account state transitions.
type Service struct {
	repo     Repository
	notifier Notifier
	cfg      ServiceConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a new Service.
func NewService(repo Repository, notifier Notifier, cfg ServiceConfig, logger *slog.Logger) *Service {
	if cfg.RecoveryCodeTTL <= 0 {
		cfg.RecoveryCodeTTL = DefaultRecoveryTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// FindByIdentity returns the account for id.
func (s *Service) FindByIdentity(ctx context.Context, id identity.Identity) (*Account, error) {
	acct, err := s.repo.GetByIdentity(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, errutil.Client(errutil.KindNotFound, "ACCOUNT_NOT_FOUND", "User not found").
				With("identity_kind", id.Kind()).
				Wrap(err)
		}
		return nil, oops.Code("ACCOUNT_LOOKUP_FAILED").
			With("operation", "GetByIdentity").
			Wrap(err)
	}
	return acct, nil
}

// CheckEligible fails with Forbidden unless id may register while the
// waitlist is enabled. Accounts that already left the waitlist stay eligible.
func (s *Service) CheckEligible(ctx context.Context, id identity.Identity) error {
	acct, err := s.repo.GetByIdentity(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return notEligible(id)
	}
	if err != nil {
		return oops.Code("ELIGIBILITY_CHECK_FAILED").
			With("operation", "GetByIdentity").
			Wrap(err)
	}
	if acct.State == StateWaitlisted && !acct.Eligible {
		return notEligible(id)
	}
	return nil
}

func notEligible(id identity.Identity) error {
	return errutil.Client(errutil.KindForbidden, "WAITLIST_NOT_ELIGIBLE", "Not yet eligible to register").
		With("identity_kind", id.Kind()).
		Errorf("identity is not approved on the waitlist")
}

// UpsertFromRegistration stores the password envelope from a finished
// registration. A first registration creates the account (or promotes a
// waitlist row); a reset overwrites envelope, wallet and salt and leaves the
// activation state alone.
func (s *Service) UpsertFromRegistration(ctx context.Context, reg Registration) (*RegistrationResult, error) {
	if reg.Identity == nil || len(reg.Envelope) == 0 {
		return nil, oops.Code("REGISTRATION_INVALID").Errorf("registration requires identity and envelope")
	}

	result := &RegistrationResult{}
	acct, err := s.repo.Upsert(ctx, reg.Identity, func(existing *Account) (*Account, error) {
		now := s.now()
		result.IsNew = false
		result.ActivationCode = ""

		if existing != nil && existing.Registered() && !reg.Reset {
			return nil, errutil.Client(errutil.KindConflict, "ACCOUNT_ALREADY_REGISTERED",
				"Account already registered. Pass 'reset' to reset password.").
				With("account_id", existing.ID.String()).
				Errorf("registration without reset intent")
		}

		if reg.RecoveryCode != "" {
			if existing == nil || !existing.RecoveryLive(now) || !MatchCode(reg.RecoveryCode, existing.RecoveryCodeHash) {
				return nil, recoveryNotFound()
			}
			existing.RecoveryCodeHash = ""
			existing.RecoveryExpiresAt = nil
		}

		next := existing
		if next == nil || !next.Registered() {
			if next == nil {
				next = &Account{ID: ulid.Make(), Identity: reg.Identity, CreatedAt: now}
			}
			if err := s.initializeNew(next, result); err != nil {
				return nil, err
			}
			result.IsNew = true
		}

		next.PasswordEnvelope = reg.Envelope
		next.Wallet = reg.Wallet
		next.Salt = reg.Salt
		next.UpdatedAt = now
		return next, nil
	})
	if err != nil {
		return nil, wrapUpsertError(err, "UpsertFromRegistration")
	}

	result.Account = acct
	return result, nil
}

func (s *Service) initializeNew(acct *Account, result *RegistrationResult) error {
	if !acct.IsEmail() {
		acct.State = StateActivated
		acct.CRMState = CRMSynced
		acct.ActivationCodeHash = ""
		return nil
	}
	code, hash, err := GenerateCode()
	if err != nil {
		return err
	}
	acct.State = StatePendingActivation
	acct.ActivationCodeHash = hash
	acct.CRMState = CRMPending
	result.ActivationCode = code
	return nil
}

// SendVerification emails the activation link. Delivery failure is returned
// as a DeliveryFailed error; the account has already been persisted.
func (s *Service) SendVerification(ctx context.Context, acct *Account, code string) error {
	email, ok := acct.Identity.(identity.Email)
	if !ok || code == "" {
		return nil
	}
	if err := s.notifier.SendVerification(ctx, email, code); err != nil {
		return errutil.Client(errutil.KindDeliveryFailed, "VERIFICATION_DELIVERY_FAILED",
			"Account created but the verification email could not be sent").
			With("account_id", acct.ID.String()).
			Wrap(err)
	}
	return nil
}

// IssueActivationCode rotates the activation code of a pending account.
func (s *Service) IssueActivationCode(ctx context.Context, id identity.Identity) (*Account, string, error) {
	var code string
	acct, err := s.repo.Upsert(ctx, id, func(existing *Account) (*Account, error) {
		if existing == nil || existing.State != StatePendingActivation {
			return nil, activationNotFound()
		}
		c, hash, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		code = c
		existing.ActivationCodeHash = hash
		existing.UpdatedAt = s.now()
		return existing, nil
	})
	if err != nil {
		return nil, "", wrapUpsertError(err, "IssueActivationCode")
	}
	return acct, code, nil
}

// ResendActivation issues and emails a fresh activation code. It reports
// success for unknown or already activated identities.
func (s *Service) ResendActivation(ctx context.Context, id identity.Identity) error {
	acct, code, err := s.IssueActivationCode(ctx, id)
	if errutil.IsKind(err, errutil.KindNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.SendVerification(ctx, acct, code)
}

// ConsumeActivationCode activates the account holding code. Codes are
// single-use: a second call with the same code fails NotFound.
func (s *Service) ConsumeActivationCode(ctx context.Context, code string) (*Account, error) {
	if code == "" {
		return nil, activationNotFound()
	}
	hash := HashCode(code)
	found, err := s.repo.GetByActivationCodeHash(ctx, hash)
	if errors.Is(err, ErrNotFound) {
		return nil, activationNotFound()
	}
	if err != nil {
		return nil, oops.Code("ACTIVATION_FAILED").With("operation", "GetByActivationCodeHash").Wrap(err)
	}

	acct, err := s.repo.Upsert(ctx, found.Identity, func(existing *Account) (*Account, error) {
		if existing == nil || !MatchCode(code, existing.ActivationCodeHash) {
			return nil, activationNotFound()
		}
		existing.ActivationCodeHash = ""
		existing.State = StateActivated
		existing.CRMState = CRMPending
		existing.UpdatedAt = s.now()
		return existing, nil
	})
	if err != nil {
		return nil, wrapUpsertError(err, "ConsumeActivationCode")
	}
	return acct, nil
}

// IssueRecoveryCode starts a password recovery for id. It returns the
// plaintext code, or "" when nothing was issued; callers must not reveal the
// difference. Issuing a new code invalidates the previous one.
func (s *Service) IssueRecoveryCode(ctx context.Context, id identity.Identity) (string, error) {
	email, ok := id.(identity.Email)
	if !ok {
		return "", nil
	}

	var code string
	_, err := s.repo.Upsert(ctx, id, func(existing *Account) (*Account, error) {
		if existing == nil || !existing.Registered() {
			return nil, ErrNotFound
		}
		c, hash, err := GenerateCode()
		if err != nil {
			return nil, err
		}
		now := s.now()
		expires := now.Add(s.cfg.RecoveryCodeTTL)
		code = c
		existing.RecoveryCodeHash = hash
		existing.RecoveryExpiresAt = &expires
		existing.UpdatedAt = now
		return existing, nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", oops.Code("RECOVERY_ISSUE_FAILED").With("operation", "Upsert").Wrap(err)
	}

	if err := s.notifier.SendRecovery(ctx, email, code); err != nil {
		errutil.LogError(s.logger, "recovery email delivery failed", err)
	}
	return code, nil
}

// PeekRecoveryCode returns the account holding a live recovery code without
// consuming it.
func (s *Service) PeekRecoveryCode(ctx context.Context, code string) (*Account, error) {
	if code == "" {
		return nil, recoveryNotFound()
	}
	acct, err := s.repo.GetByRecoveryCodeHash(ctx, HashCode(code))
	if errors.Is(err, ErrNotFound) {
		return nil, recoveryNotFound()
	}
	if err != nil {
		return nil, oops.Code("RECOVERY_LOOKUP_FAILED").With("operation", "GetByRecoveryCodeHash").Wrap(err)
	}
	if !acct.RecoveryLive(s.now()) {
		return nil, recoveryNotFound()
	}
	return acct, nil
}

// ConsumeRecoveryCode clears a live recovery code and returns its account
// without touching the password. Recovery registrations clear the code inside
// UpsertFromRegistration; this is the standalone revocation used by the
// recovery admin command.
func (s *Service) ConsumeRecoveryCode(ctx context.Context, code string) (*Account, error) {
	found, err := s.PeekRecoveryCode(ctx, code)
	if err != nil {
		return nil, err
	}
	acct, err := s.repo.Upsert(ctx, found.Identity, func(existing *Account) (*Account, error) {
		if existing == nil || !existing.RecoveryLive(s.now()) || !MatchCode(code, existing.RecoveryCodeHash) {
			return nil, recoveryNotFound()
		}
		existing.RecoveryCodeHash = ""
		existing.RecoveryExpiresAt = nil
		existing.UpdatedAt = s.now()
		return existing, nil
	})
	if err != nil {
		return nil, wrapUpsertError(err, "ConsumeRecoveryCode")
	}
	return acct, nil
}

// MarkCRMPending flags the account for the next CRM sweep.
func (s *Service) MarkCRMPending(ctx context.Context, id identity.Identity) (*Account, error) {
	acct, err := s.repo.Upsert(ctx, id, func(existing *Account) (*Account, error) {
		if existing == nil {
			return nil, errutil.Client(errutil.KindNotFound, "ACCOUNT_NOT_FOUND", "User not found").
				Wrap(ErrNotFound)
		}
		existing.CRMState = CRMPending
		existing.UpdatedAt = s.now()
		return existing, nil
	})
	if err != nil {
		return nil, wrapUpsertError(err, "MarkCRMPending")
	}
	return acct, nil
}

// MarkCRMSynced records a successful sync of the snapshot acct. When the
// activation state moved since the snapshot was read, the contact id is kept
// and the account stays pending so the next sweep pushes the new segment.
func (s *Service) MarkCRMSynced(ctx context.Context, acct *Account, contactID string) error {
	_, err := s.repo.Upsert(ctx, acct.Identity, func(existing *Account) (*Account, error) {
		if existing == nil {
			return nil, ErrNotFound
		}
		if contactID != "" {
			existing.CRMContactID = contactID
		}
		if existing.State == acct.State {
			existing.CRMState = CRMSynced
		}
		existing.UpdatedAt = s.now()
		return existing, nil
	})
	if err != nil {
		return wrapUpsertError(err, "MarkCRMSynced")
	}
	return nil
}

// RecordCRMContact stores the CRM contact id of acct and leaves it pending,
// so a later failure in the same sync does not create the contact twice.
func (s *Service) RecordCRMContact(ctx context.Context, acct *Account, contactID string) error {
	_, err := s.repo.Upsert(ctx, acct.Identity, func(existing *Account) (*Account, error) {
		if existing == nil {
			return nil, ErrNotFound
		}
		existing.CRMContactID = contactID
		existing.UpdatedAt = s.now()
		return existing, nil
	})
	if err != nil {
		return wrapUpsertError(err, "RecordCRMContact")
	}
	return nil
}

// ListCRMPending returns one page of accounts awaiting CRM sync, starting
// after the cursor.
func (s *Service) ListCRMPending(ctx context.Context, after Cursor, limit int) ([]*Account, error) {
	accts, err := s.repo.ListCRMPending(ctx, after, limit)
	if err != nil {
		return nil, oops.Code("CRM_PENDING_LIST_FAILED").With("limit", limit).Wrap(err)
	}
	return accts, nil
}

// AddToWaitlist pre-seeds a waitlist row for id. Existing accounts are
// returned unchanged.
func (s *Service) AddToWaitlist(ctx context.Context, id identity.Identity) (*Account, error) {
	acct, err := s.repo.Upsert(ctx, id, func(existing *Account) (*Account, error) {
		if existing != nil {
			return existing, nil
		}
		now := s.now()
		crm := CRMSynced
		if id.Kind() == identity.KindEmail {
			crm = CRMPending
		}
		return &Account{
			ID:        ulid.Make(),
			Identity:  id,
			State:     StateWaitlisted,
			CRMState:  crm,
			CreatedAt: now,
			UpdatedAt: now,
		}, nil
	})
	if err != nil {
		return nil, wrapUpsertError(err, "AddToWaitlist")
	}
	return acct, nil
}

// ApproveWaitlisted marks a waitlisted identity eligible to register.
func (s *Service) ApproveWaitlisted(ctx context.Context, id identity.Identity) (*Account, error) {
	acct, err := s.repo.Upsert(ctx, id, func(existing *Account) (*Account, error) {
		if existing == nil {
			return nil, errutil.Client(errutil.KindNotFound, "ACCOUNT_NOT_FOUND", "User not found").
				Wrap(ErrNotFound)
		}
		if existing.Eligible {
			return existing, nil
		}
		existing.Eligible = true
		if existing.IsEmail() {
			existing.CRMState = CRMPending
		}
		existing.UpdatedAt = s.now()
		return existing, nil
	})
	if err != nil {
		return nil, wrapUpsertError(err, "ApproveWaitlisted")
	}
	return acct, nil
}

func activationNotFound() error {
	return errutil.Client(errutil.KindNotFound, "ACTIVATION_CODE_NOT_FOUND", "Activation code does not exist").
		Wrap(ErrNotFound)
}

func recoveryNotFound() error {
	return errutil.Client(errutil.KindNotFound, "RECOVERY_CODE_NOT_FOUND", "Recovery code does not exist").
		Wrap(ErrNotFound)
}

// wrapUpsertError keeps client errors raised inside a mutation intact and
// tags storage faults with the failing operation.
func wrapUpsertError(err error, operation string) error {
	if errutil.KindOf(err) != errutil.KindInternal {
		return err
	}
	return oops.Code("ACCOUNT_UPSERT_FAILED").With("operation", operation).Wrap(err)
}
