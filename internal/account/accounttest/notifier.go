// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package accounttest

import (
	"context"
	"sync"

	"github.com/keyward/keyward/internal/identity"
)

// Sent is one recorded email.
type Sent struct {
	Kind string
	To   string
	Code string
}

// Notifier records emails instead of sending them.
type Notifier struct {
	mu   sync.Mutex
	sent []Sent

	// Err, when set, fails every send after recording it.
	Err error
}

// SendVerification implements account.Notifier.
func (n *Notifier) SendVerification(_ context.Context, to identity.Email, code string) error {
	return n.record("verification", to, code)
}

// SendRecovery implements account.Notifier.
func (n *Notifier) SendRecovery(_ context.Context, to identity.Email, code string) error {
	return n.record("recovery", to, code)
}

func (n *Notifier) record(kind string, to identity.Email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Sent{Kind: kind, To: to.String(), Code: code})
	return n.Err
}

// Sent returns a copy of everything recorded.
func (n *Notifier) Sent() []Sent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Sent(nil), n.sent...)
}

// Last returns the most recent email of kind, if any.
func (n *Notifier) Last(kind string) (Sent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return Sent{}, false
}
