// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package account

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/samber/oops"
)

// Code configuration.
const (
	CodeBytes          = 32        // 32 bytes = 64 hex chars
	DefaultRecoveryTTL = time.Hour // recovery codes expire after an hour
)

// GenerateCode creates a random activation or recovery code and its hash.
// The plaintext goes into the email; only the hash is stored.
func GenerateCode() (code, hash string, err error) {
	codeBytes := make([]byte, CodeBytes)
	if _, err = rand.Read(codeBytes); err != nil {
		return "", "", oops.Code("CODE_GENERATE_FAILED").Wrap(err)
	}

	code = hex.EncodeToString(codeBytes)
	return code, HashCode(code), nil
}

// HashCode computes the stored form of a code.
func HashCode(code string) string {
	h := sha256.Sum256([]byte(code))
	return hex.EncodeToString(h[:])
}

// MatchCode compares a plaintext code with a stored hash in constant time.
func MatchCode(code, hash string) bool {
	if code == "" || hash == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(HashCode(code)), []byte(hash)) == 1
}
