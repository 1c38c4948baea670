// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package errutil

import (
	"github.com/samber/oops"
)

// Kind classifies an error for callers outside the process. Kinds travel as
// oops tags so they survive further wrapping with oops.With(...).Wrap.
type Kind string

// Error kinds.
const (
	KindInvalidInput   Kind = "invalid_input"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindConflict       Kind = "conflict"
	KindRateLimited    Kind = "rate_limited"
	KindDeliveryFailed Kind = "delivery_failed"
	KindInternal       Kind = "internal"
)

var knownKinds = map[string]Kind{
	string(KindInvalidInput):   KindInvalidInput,
	string(KindNotFound):       KindNotFound,
	string(KindForbidden):      KindForbidden,
	string(KindConflict):       KindConflict,
	string(KindRateLimited):    KindRateLimited,
	string(KindDeliveryFailed): KindDeliveryFailed,
}

// Client starts an error whose public message may be shown to the caller.
//
//	errutil.Client(errutil.KindNotFound, "HANDSHAKE_NOT_FOUND", "Login does not exist").
//		With("token_prefix", prefix).
//		Errorf("token not present in store")
func Client(kind Kind, code, public string) oops.OopsErrorBuilder {
	return oops.Code(code).Tags(string(kind)).Public(public)
}

// KindOf returns the outermost kind attached to err, or KindInternal when
// err carries none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return KindInternal
	}
	for _, tag := range oopsErr.Tags() {
		if kind, ok := knownKinds[tag]; ok {
			return kind
		}
	}
	return KindInternal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// PublicMessage returns the message safe to show a caller. Internal errors
// never expose their detail.
func PublicMessage(err error) string {
	if KindOf(err) == KindInternal {
		return "Internal Server Error"
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok || oopsErr.Public() == "" {
		return "Internal Server Error"
	}
	return oopsErr.Public()
}
