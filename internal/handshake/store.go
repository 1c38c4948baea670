// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package handshake

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/keyward/keyward/internal/identity"
	"github.com/keyward/keyward/internal/pake"
)

// Kind distinguishes registration handshakes from login handshakes.
type Kind string

// Handshake kinds.
const (
	KindRegistration Kind = "registration"
	KindLogin        Kind = "login"
)

// DefaultTTL is how long a started handshake waits for its finish call.
const DefaultTTL = 5 * time.Minute

var (
	// ErrNotFound is returned by Take for unknown, expired or already
	// consumed tokens.
	ErrNotFound = errors.New("handshake not found")

	// ErrConflict is returned by Put when the token is already live.
	ErrConflict = errors.New("handshake token already in use")
)

// Pending is the server side of a started handshake.
type Pending struct {
	Token    string
	Kind     Kind
	State    pake.State
	Identity identity.Identity

	// Registration only.
	Wallet       string
	Salt         string
	Reset        bool
	RecoveryCode string
	// Challenge is the raw ownership nonce. Only its digest leaves the server.
	Challenge []byte

	CreatedAt time.Time
}

// Store holds pending handshakes between their start and finish calls.
type Store interface {
	// Put stores p under p.Token and fails with ErrConflict if the token is live.
	Put(ctx context.Context, p *Pending) error
	// Take removes and returns the handshake of kind stored under token.
	// Concurrent calls for one token have exactly one winner.
	Take(ctx context.Context, kind Kind, token string) (*Pending, error)
}

// MemoryStore is an in-process Store. Protocol states hold live curve
// points and cannot be serialized, so handshakes stay on the node that
// started them.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*Pending
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// NewMemoryStore creates a store that forgets handshakes older than ttl.
func NewMemoryStore(ttl time.Duration, logger *slog.Logger) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryStore{
		entries: make(map[string]*Pending),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, p *Pending) error {
	if p == nil || p.Token == "" {
		return oops.Code("HANDSHAKE_INVALID").Errorf("pending handshake requires a token")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[p.Token]; ok && !s.expired(existing) {
		return oops.Code("HANDSHAKE_TOKEN_CONFLICT").With("kind", p.Kind).Wrap(ErrConflict)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	s.entries[p.Token] = p
	return nil
}

// Take implements Store. A token presented for the wrong kind is left in
// place and reported as not found.
func (s *MemoryStore) Take(_ context.Context, kind Kind, token string) (*Pending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.entries[token]
	if !ok || p.Kind != kind {
		return nil, oops.Code("HANDSHAKE_NOT_FOUND").With("kind", kind).Wrap(ErrNotFound)
	}
	delete(s.entries, token)
	if s.expired(p) {
		return nil, oops.Code("HANDSHAKE_NOT_FOUND").With("kind", kind).With("expired", true).Wrap(ErrNotFound)
	}
	return p, nil
}

// Len returns the number of stored handshakes, including expired ones not
// yet swept.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep evicts abandoned handshakes and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for token, p := range s.entries {
		if s.expired(p) {
			delete(s.entries, token)
			evicted++
		}
	}
	return evicted
}

// Run sweeps every interval until ctx is cancelled.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = s.ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Debug("evicted abandoned handshakes", "count", n)
			}
		}
	}
}

func (s *MemoryStore) expired(p *Pending) bool {
	return s.now().Sub(p.CreatedAt) > s.ttl
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)
