// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keyward/keyward/internal/handshake"
	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/pkg/errutil"
)

// identityFields accepts the identity under its current name or either of
// the older per-kind names.
type identityFields struct {
	Identity string `json:"identity"`
	PubKey   string `json:"pubKey"`
	Email    string `json:"email"`
}

func (f identityFields) value() string {
	switch {
	case f.Identity != "":
		return f.Identity
	case f.PubKey != "":
		return f.PubKey
	default:
		return f.Email
	}
}

type registerStartBody struct {
	identityFields
	Request      Bytes  `json:"request"`
	Wallet       string `json:"wallet"`
	Salt         string `json:"salt"`
	Reset        bool   `json:"reset"`
	RecoveryCode string `json:"recoveryCode"`
}

type startResponse struct {
	Key          Bytes  `json:"key"`
	Token        string `json:"token"`
	SigChallenge string `json:"sigChallenge,omitempty"`
}

type registerFinishBody struct {
	Key       Bytes  `json:"key"`
	Signature string `json:"signature"`
}

type loginStartBody struct {
	identityFields
	Request Bytes `json:"request"`
}

type loginFinishBody struct {
	Key Bytes `json:"key"`
}

type loginFinishResponse struct {
	Wallet string `json:"wallet"`
	Salt   string `json:"salt"`
	State  string `json:"state"`
}

type recoverFinishBody struct {
	Request Bytes  `json:"request"`
	Wallet  string `json:"wallet"`
	Salt    string `json:"salt"`
}

type successResponse struct {
	Success bool `json:"success"`
}

var success = successResponse{Success: true}

func (a *API) requestLogger(r *http.Request) *slog.Logger {
	return a.logger.With("request_id", logging.RequestID(r.Context()))
}

func (a *API) handleTest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, a.logger, http.StatusOK, map[string]string{"test": "test"})
}

func (a *API) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	var body registerStartBody
	if err := decode(r, &body); err != nil {
		writeError(w, logger, err)
		return
	}
	res, err := a.handshakes.RegisterStart(r.Context(), handshake.RegisterStartRequest{
		Identity:     body.value(),
		Request:      body.Request,
		Wallet:       body.Wallet,
		Salt:         body.Salt,
		Reset:        body.Reset,
		RecoveryCode: body.RecoveryCode,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, startResponse{Key: res.Response, Token: res.Token, SigChallenge: res.Challenge})
}

func (a *API) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	var body registerFinishBody
	if err := decode(r, &body); err != nil {
		writeError(w, logger, err)
		return
	}
	_, err := a.handshakes.RegisterFinish(r.Context(), handshake.RegisterFinishRequest{
		Token:     chi.URLParam(r, "token"),
		Finish:    body.Key,
		Signature: body.Signature,
	})
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, success)
}

func (a *API) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	var body loginStartBody
	if err := decode(r, &body); err != nil {
		writeError(w, logger, err)
		return
	}
	res, err := a.handshakes.LoginStart(r.Context(), body.value(), body.Request)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, startResponse{Key: res.Response, Token: res.Token})
}

func (a *API) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	var body loginFinishBody
	if err := decode(r, &body); err != nil {
		writeError(w, logger, err)
		return
	}
	res, err := a.handshakes.LoginFinish(r.Context(), chi.URLParam(r, "token"), body.Key)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, loginFinishResponse{Wallet: res.Wallet, Salt: res.Salt, State: string(res.State)})
}

// handleRecoverStart answers identically whether or not the identity has an
// account.
func (a *API) handleRecoverStart(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	var body identityFields
	if err := decode(r, &body); err != nil {
		writeError(w, logger, err)
		return
	}
	id, err := identity.Parse(body.value())
	if err != nil {
		writeError(w, logger, err)
		return
	}
	if err := a.limiter.Allow(r.Context(), ScopeRecovery, id.String()); err != nil {
		writeError(w, logger, err)
		return
	}
	if _, err := a.accounts.IssueRecoveryCode(r.Context(), id); err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, success)
}

func (a *API) handleRecoverFinish(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	var body recoverFinishBody
	if err := decode(r, &body); err != nil {
		writeError(w, logger, err)
		return
	}
	res, err := a.handshakes.RecoverFinish(r.Context(), chi.URLParam(r, "code"), body.Request, body.Wallet, body.Salt)
	if err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, startResponse{Key: res.Response, Token: res.Token})
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	if _, err := a.accounts.ConsumeActivationCode(r.Context(), chi.URLParam(r, "code")); err != nil {
		writeError(w, logger, err)
		return
	}
	if a.trigger != nil {
		a.trigger.Trigger()
	}
	writeJSON(w, logger, http.StatusOK, success)
}

func (a *API) handleResendActivation(w http.ResponseWriter, r *http.Request) {
	logger := a.requestLogger(r)
	var body identityFields
	if err := decode(r, &body); err != nil {
		writeError(w, logger, err)
		return
	}
	id, err := identity.Parse(body.value())
	if err != nil {
		writeError(w, logger, err)
		return
	}
	if err := a.limiter.Allow(r.Context(), ScopeActivation, id.String()); err != nil {
		writeError(w, logger, err)
		return
	}
	if err := a.accounts.ResendActivation(r.Context(), id); err != nil {
		writeError(w, logger, err)
		return
	}
	writeJSON(w, logger, http.StatusOK, success)
}

// decode reads a JSON body into v. Client-classified errors from field
// decoders pass through unchanged.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil {
		return nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errutil.Client(errutil.KindInvalidInput, "BODY_TOO_LARGE", "Request body too large").
			With("limit", tooLarge.Limit).
			Wrap(err)
	}
	if errutil.KindOf(err) != errutil.KindInternal {
		return err
	}
	return errutil.Client(errutil.KindInvalidInput, "BODY_INVALID", "Request body must be a JSON object").Wrap(err)
}
