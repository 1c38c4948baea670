// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

// Package ratelimit throttles the endpoints that send email.
package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/keyward/keyward/pkg/errutil"
)

// Defaults.
const (
	DefaultMaxRequests = 5
	DefaultWindow      = 15 * time.Minute
)

// Limiter admits or rejects one request for subject within scope.
type Limiter interface {
	Allow(ctx context.Context, scope, subject string) error
}

// Config tunes a fixed-window limiter.
type Config struct {
	MaxRequests int
	Window      time.Duration
}

// RedisLimiter is a fixed-window counter per (scope, subject) in Redis.
// Subjects are hashed so addresses never land in Redis in clear.
type RedisLimiter struct {
	redis redis.Cmdable
	cfg   Config
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client redis.Cmdable, cfg Config) *RedisLimiter {
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultMaxRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &RedisLimiter{redis: client, cfg: cfg}
}

// Allow implements Limiter. A Redis outage rejects the request.
func (l *RedisLimiter) Allow(ctx context.Context, scope, subject string) error {
	key := windowKey(scope, subject)

	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return oops.Code("RATE_LIMITER_UNAVAILABLE").With("scope", scope).Wrap(err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, key, l.cfg.Window).Err(); err != nil {
			return oops.Code("RATE_LIMITER_UNAVAILABLE").With("scope", scope).Wrap(err)
		}
	}

	if count > int64(l.cfg.MaxRequests) {
		return errutil.Client(errutil.KindRateLimited, "RATE_LIMITED", "Too many requests, try again later").
			With("scope", scope).
			With("count", count).
			Errorf("fixed window exhausted")
	}
	return nil
}

func windowKey(scope, subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return "kw:rl:" + scope + ":" + hex.EncodeToString(sum[:12])
}

// Unlimited admits everything. It stands in when no Redis is configured.
type Unlimited struct{}

// Allow implements Limiter.
func (Unlimited) Allow(context.Context, string, string) error { return nil }

// Compile-time interface checks.
var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = Unlimited{}
)
