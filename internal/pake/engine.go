// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package pake wraps the OPAQUE asymmetric password-authenticated key
// exchange behind a small start/complete interface. The package owns no
// storage: intermediate states are handed back to the caller, and the
// password envelope is an opaque byte slice the caller persists.
package pake

import (
	"context"
	"errors"
)

// StateKind distinguishes registration states from login states.
type StateKind string

// State kinds.
const (
	StateRegistration StateKind = "registration"
	StateLogin        StateKind = "login"
)

var (
	// ErrMalformed is returned when a protocol message cannot be decoded or
	// does not verify. It always indicates bad caller input.
	ErrMalformed = errors.New("malformed protocol message")

	// ErrStateConsumed is returned when a state is completed twice.
	ErrStateConsumed = errors.New("protocol state already consumed")

	// ErrWrongState is returned when a state of one kind is passed to the
	// completion of the other.
	ErrWrongState = errors.New("protocol state of wrong kind")
)

// State is the server half of an in-flight exchange. It is single-use.
type State interface {
	Kind() StateKind
	UserID() string
}

// Engine runs the server side of registration and login.
type Engine interface {
	// StartRegistration processes the client's registration request for
	// userID and returns the state to keep plus the response to send back.
	StartRegistration(ctx context.Context, userID string, request []byte) (State, []byte, error)

	// CompleteRegistration consumes state with the client's finish message
	// and returns the password envelope to persist.
	CompleteRegistration(ctx context.Context, state State, finish []byte) ([]byte, error)

	// StartLogin processes a credential request against a stored envelope.
	StartLogin(ctx context.Context, userID string, envelope, request []byte) (State, []byte, error)

	// CompleteLogin consumes state with the client's finish message and
	// returns the derived session key.
	CompleteLogin(ctx context.Context, state State, finish []byte) ([]byte, error)
}
