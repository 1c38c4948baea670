// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package pake

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/cretz/gopaque/gopaque"
	"github.com/samber/oops"
	"go.dedis.ch/kyber/v3"
)

// OpaqueEngine implements Engine with gopaque and an embedded SIGMA key
// exchange. One server key signs every exchange.
type OpaqueEngine struct {
	crypto gopaque.Crypto
	key    kyber.Scalar
}

var _ Engine = (*OpaqueEngine)(nil)

// NewOpaqueEngine creates an engine bound to the server's long-term key.
func NewOpaqueEngine(key kyber.Scalar) *OpaqueEngine {
	return &OpaqueEngine{crypto: gopaque.CryptoDefault, key: key}
}

// GenerateServerKey returns a fresh hex-encoded server key.
func GenerateServerKey() (string, error) {
	data, err := gopaque.CryptoDefault.NewKey(nil).MarshalBinary()
	if err != nil {
		return "", oops.Code("SERVER_KEY_GENERATE_FAILED").Wrap(err)
	}
	return hex.EncodeToString(data), nil
}

// ParseServerKey decodes a hex-encoded server key.
func ParseServerKey(encoded string) (kyber.Scalar, error) {
	data, err := hex.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, oops.Code("SERVER_KEY_INVALID").Wrap(err)
	}
	key := gopaque.CryptoDefault.Scalar()
	if err := key.UnmarshalBinary(data); err != nil {
		return nil, oops.Code("SERVER_KEY_INVALID").Wrap(err)
	}
	return key, nil
}

// ServerPublicKey returns the hex public key clients pin.
func (e *OpaqueEngine) ServerPublicKey() string {
	data, err := e.crypto.Point().Mul(e.key, nil).MarshalBinary()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(data)
}

type registrationState struct {
	userID   string
	register *gopaque.ServerRegister
	used     atomic.Bool
}

func (s *registrationState) Kind() StateKind { return StateRegistration }
func (s *registrationState) UserID() string  { return s.userID }

type loginState struct {
	userID string
	kex    *gopaque.KeyExchangeSigma
	auth   *gopaque.ServerAuth
	used   atomic.Bool
}

func (s *loginState) Kind() StateKind { return StateLogin }
func (s *loginState) UserID() string  { return s.userID }

// StartRegistration implements Engine.
func (e *OpaqueEngine) StartRegistration(ctx context.Context, userID string, request []byte) (st State, resp []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	defer recoverMalformed(&err)

	var init gopaque.UserRegisterInit
	if err := init.FromBytes(e.crypto, request); err != nil {
		return nil, nil, malformed("decode registration request", err)
	}
	if string(init.UserID) != userID {
		return nil, nil, malformed("registration user id mismatch", nil)
	}

	register := gopaque.NewServerRegister(e.crypto, e.key)
	resp, err = register.Init(&init).ToBytes()
	if err != nil {
		return nil, nil, oops.Code("PAKE_ENCODE_FAILED").With("step", "registration_init").Wrap(err)
	}
	return &registrationState{userID: userID, register: register}, resp, nil
}

// CompleteRegistration implements Engine.
func (e *OpaqueEngine) CompleteRegistration(ctx context.Context, state State, finish []byte) (envelope []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := state.(*registrationState)
	if !ok {
		return nil, ErrWrongState
	}
	if !st.used.CompareAndSwap(false, true) {
		return nil, ErrStateConsumed
	}
	defer recoverMalformed(&err)

	var complete gopaque.UserRegisterComplete
	if err := complete.FromBytes(e.crypto, finish); err != nil {
		return nil, malformed("decode registration finish", err)
	}
	if complete.UserPublicKey == nil || len(complete.EnvU) == 0 {
		return nil, malformed("registration finish is empty", nil)
	}
	return encodeRecord(st.register.Complete(&complete))
}

// StartLogin implements Engine.
func (e *OpaqueEngine) StartLogin(ctx context.Context, userID string, envelope, request []byte) (st State, resp []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	defer recoverMalformed(&err)

	record, err := decodeRecord(e.crypto, envelope, e.key)
	if err != nil {
		return nil, nil, err
	}

	var init gopaque.UserAuthInit
	if err := init.FromBytes(e.crypto, request); err != nil {
		return nil, nil, malformed("decode credential request", err)
	}
	// ServerAuth.Complete panics on mismatched user ids.
	if !bytes.Equal(init.UserID, record.UserID) || string(init.UserID) != userID {
		return nil, nil, malformed("credential request user id mismatch", nil)
	}

	kex := gopaque.NewKeyExchangeSigma(e.crypto)
	auth := gopaque.NewServerAuth(e.crypto, kex)
	complete, err := auth.Complete(&init, record)
	if err != nil {
		return nil, nil, malformed("run key exchange", err)
	}
	resp, err = complete.ToBytes()
	if err != nil {
		return nil, nil, oops.Code("PAKE_ENCODE_FAILED").With("step", "login_init").Wrap(err)
	}
	return &loginState{userID: userID, kex: kex, auth: auth}, resp, nil
}

// CompleteLogin implements Engine.
func (e *OpaqueEngine) CompleteLogin(ctx context.Context, state State, finish []byte) (sessionKey []byte, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, ok := state.(*loginState)
	if !ok {
		return nil, ErrWrongState
	}
	if !st.used.CompareAndSwap(false, true) {
		return nil, ErrStateConsumed
	}
	defer recoverMalformed(&err)

	var complete gopaque.UserAuthComplete
	if err := complete.FromBytes(e.crypto, finish); err != nil {
		return nil, malformed("decode login finish", err)
	}
	if err := st.auth.Finish(&complete); err != nil {
		return nil, malformed("verify login finish", err)
	}
	if st.kex.SharedSecret == nil {
		return nil, malformed("key exchange produced no secret", nil)
	}
	sessionKey, err = st.kex.SharedSecret.MarshalBinary()
	if err != nil {
		return nil, oops.Code("PAKE_ENCODE_FAILED").With("step", "session_key").Wrap(err)
	}
	return sessionKey, nil
}

func malformed(step string, cause error) error {
	if cause == nil {
		return oops.Code("PAKE_MALFORMED").With("step", step).Wrap(ErrMalformed)
	}
	return oops.Code("PAKE_MALFORMED").With("step", step).With("cause", cause.Error()).Wrap(ErrMalformed)
}

// recoverMalformed turns a panic inside the kyber/gopaque stack into
// ErrMalformed. Decoding hostile points can panic deep in the suite.
func recoverMalformed(err *error) {
	if r := recover(); r != nil {
		*err = malformed("recovered panic", fmt.Errorf("%v", r))
	}
}
