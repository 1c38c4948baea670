// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package identity defines the two ways an account can be addressed: by email
// address or by an Ed25519 public key that proves ownership with Schnorr
// signatures.
package identity

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/cretz/gopaque/gopaque"
	"go.dedis.ch/kyber/v3"

	"github.com/keyward/keyward/pkg/errutil"
)

// Kind names the identity variant. It is persisted alongside the identity.
type Kind string

// Identity kinds.
const (
	KindEmail     Kind = "email"
	KindPublicKey Kind = "public_key"
)

// MaxEmailLength bounds email identities (RFC 5321 path limit).
const MaxEmailLength = 254

// publicKeyHexLen is the hex length of a marshalled Ed25519 point.
const publicKeyHexLen = 64

var emailPattern = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

// Identity is an account key: either an email address or a public key.
type Identity interface {
	// Kind returns the identity variant.
	Kind() Kind
	// String returns the canonical form used for storage and as the OPAQUE user id.
	String() string
}

// Email is an identity addressed by a normalized email address.
type Email struct {
	address string
}

// Kind implements Identity.
func (e Email) Kind() Kind { return KindEmail }

// String implements Identity.
func (e Email) String() string { return e.address }

// PublicKey is an identity addressed by an Ed25519 point. Key possession is
// proven by signing a server-issued challenge.
type PublicKey struct {
	encoded string
	point   kyber.Point
}

// Kind implements Identity.
func (p PublicKey) Kind() Kind { return KindPublicKey }

// String implements Identity.
func (p PublicKey) String() string { return p.encoded }

// Verify checks a hex-encoded Schnorr signature over msg.
func (p PublicKey) Verify(msg []byte, signatureHex string) error {
	sig, err := hex.DecodeString(strings.TrimSpace(signatureHex))
	if err != nil || len(sig) == 0 {
		return errutil.Client(errutil.KindInvalidInput, "SIGNATURE_INVALID", "Invalid Signature").
			Errorf("signature is not hex")
	}
	if err := gopaque.CryptoDefault.Verify(p.point, msg, sig); err != nil {
		return errutil.Client(errutil.KindInvalidInput, "SIGNATURE_INVALID", "Invalid Signature").
			Wrap(err)
	}
	return nil
}

// Parse classifies raw as an email address when it contains "@" and as a
// hex public key otherwise.
func Parse(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if strings.Contains(raw, "@") {
		return ParseEmail(raw)
	}
	return ParsePublicKey(raw)
}

// ParseEmail validates and lower-cases an email address.
func ParseEmail(raw string) (Email, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if len(normalized) > MaxEmailLength || !emailPattern.MatchString(normalized) {
		return Email{}, invalidIdentity("email")
	}
	return Email{address: normalized}, nil
}

// ParsePublicKey decodes a 32-byte hex-encoded Ed25519 point.
func ParsePublicKey(raw string) (PublicKey, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if len(normalized) != publicKeyHexLen {
		return PublicKey{}, invalidIdentity("public_key")
	}
	data, err := hex.DecodeString(normalized)
	if err != nil {
		return PublicKey{}, invalidIdentity("public_key")
	}
	point := gopaque.CryptoDefault.Point()
	if err := point.UnmarshalBinary(data); err != nil {
		return PublicKey{}, invalidIdentity("public_key")
	}
	return PublicKey{encoded: normalized, point: point}, nil
}

// FromPoint builds a public key identity from a kyber point.
func FromPoint(point kyber.Point) (PublicKey, error) {
	data, err := point.MarshalBinary()
	if err != nil {
		return PublicKey{}, invalidIdentity("public_key")
	}
	return ParsePublicKey(hex.EncodeToString(data))
}

// Restore rebuilds a persisted identity from its kind and canonical value.
func Restore(kind Kind, value string) (Identity, error) {
	switch kind {
	case KindEmail:
		return ParseEmail(value)
	case KindPublicKey:
		return ParsePublicKey(value)
	default:
		return nil, invalidIdentity(string(kind))
	}
}

func invalidIdentity(kind string) error {
	return errutil.Client(errutil.KindInvalidInput, "IDENTITY_INVALID", "Must be a valid public key or email").
		With("identity_kind", kind).
		Errorf("identity failed validation")
}
