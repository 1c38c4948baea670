// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/pkg/errutil"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) Ping(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitForDatabase(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		attempts  uint64
		wantErr   bool
		wantCalls int
	}{
		{name: "ready immediately", failures: 0, attempts: 3, wantCalls: 1},
		{name: "ready after retries", failures: 2, attempts: 3, wantCalls: 3},
		{name: "never ready", failures: 10, attempts: 3, wantErr: true, wantCalls: 3},
		{name: "zero attempts means one", failures: 1, attempts: 0, wantErr: true, wantCalls: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &flakyPinger{failures: tt.failures}
			err := waitForDatabase(context.Background(), p, ConnectOptions{Attempts: tt.attempts, Backoff: time.Millisecond})
			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, "DB_CONNECT_FAILED")
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalls, p.calls)
		})
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	_, err := Connect(context.Background(), "://not a url", DefaultConnectOptions)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
