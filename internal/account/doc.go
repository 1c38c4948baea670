// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package account owns the durable Account entity and its lifecycle.
//
// # Lifecycle
//
// An account moves through three activation states:
//   - waitlisted - pre-seeded row that only gates registration
//   - pending_activation - registered email identity waiting for its link
//   - activated - usable account
//
// Public key identities skip pending_activation: possession of the key is
// proven during registration and there is no mailbox to verify.
//
// # Concurrency
//
// Every transition goes through Repository.Upsert, which runs the mutation
// under a row lock on the identity. Checks such as "already registered
// without reset" and "code still valid" live inside the mutation so they are
// evaluated at write time.
package account
