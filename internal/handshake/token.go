// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package handshake

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/samber/oops"
)

const (
	tokenBytes     = 32
	challengeBytes = 64
)

// newToken returns a random handshake token, independent of any protocol
// message.
func newToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", oops.Code("HANDSHAKE_TOKEN_FAILED").Wrap(err)
	}
	return hex.EncodeToString(buf), nil
}

func newChallenge() ([]byte, error) {
	buf := make([]byte, challengeBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, oops.Code("HANDSHAKE_CHALLENGE_FAILED").Wrap(err)
	}
	return buf, nil
}

// ChallengeDigest is the message a public key holder signs to prove
// possession: the sha256 of the server nonce.
func ChallengeDigest(nonce []byte) []byte {
	sum := sha256.Sum256(nonce)
	return sum[:]
}
