// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package paketest drives the client half of OPAQUE for tests.
package paketest

import (
	"testing"

	"github.com/cretz/gopaque/gopaque"
	"github.com/stretchr/testify/require"
	"go.dedis.ch/kyber/v3"
)

// Client is a test OPAQUE client for one user id and password.
type Client struct {
	t        testing.TB
	userID   string
	password []byte
	register *gopaque.UserRegister
	auth     *gopaque.UserAuth
}

// NewClient creates a client for userID.
func NewClient(t testing.TB, userID, password string) *Client {
	t.Helper()
	return &Client{t: t, userID: userID, password: []byte(password)}
}

// RegisterRequest returns the first registration message.
func (c *Client) RegisterRequest() []byte {
	c.t.Helper()
	c.register = gopaque.NewUserRegister(gopaque.CryptoDefault, []byte(c.userID), nil)
	data, err := c.register.Init(c.password).ToBytes()
	require.NoError(c.t, err)
	return data
}

// RegisterFinish answers the server's registration response.
func (c *Client) RegisterFinish(response []byte) []byte {
	c.t.Helper()
	var init gopaque.ServerRegisterInit
	require.NoError(c.t, init.FromBytes(gopaque.CryptoDefault, response))
	data, err := c.register.Complete(&init).ToBytes()
	require.NoError(c.t, err)
	return data
}

// LoginRequest returns the credential request.
func (c *Client) LoginRequest() []byte {
	c.t.Helper()
	c.auth = gopaque.NewUserAuth(gopaque.CryptoDefault, []byte(c.userID), gopaque.NewKeyExchangeSigma(gopaque.CryptoDefault))
	init, err := c.auth.Init(c.password)
	require.NoError(c.t, err)
	data, err := init.ToBytes()
	require.NoError(c.t, err)
	return data
}

// LoginFinish answers the server's credential response. It returns an error
// instead of failing when the password does not open the envelope.
func (c *Client) LoginFinish(response []byte) ([]byte, error) {
	c.t.Helper()
	var complete gopaque.ServerAuthComplete
	require.NoError(c.t, complete.FromBytes(gopaque.CryptoDefault, response))
	_, finish, err := c.auth.Complete(&complete)
	if err != nil {
		return nil, err
	}
	data, err := finish.ToBytes()
	require.NoError(c.t, err)
	return data, nil
}

// ServerKey returns a fresh server key.
func ServerKey() kyber.Scalar {
	return gopaque.CryptoDefault.NewKey(nil)
}

// KeyPair returns a fresh Ed25519 key pair for public key identities.
func KeyPair() (kyber.Scalar, kyber.Point) {
	priv := gopaque.CryptoDefault.NewKey(nil)
	return priv, gopaque.CryptoDefault.Point().Mul(priv, nil)
}

// Sign produces a Schnorr signature over msg.
func Sign(t testing.TB, priv kyber.Scalar, msg []byte) []byte {
	t.Helper()
	sig, err := gopaque.CryptoDefault.Sign(priv, msg)
	require.NoError(t, err)
	return sig
}
