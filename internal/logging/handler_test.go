// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "not JSON: %s", buf.String())
	return entry
}

func TestSetup_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("keyward", "1.2.3", Options{}, &buf)

	logger.Info("registration finished", "identity_kind", "email")

	entry := decode(t, &buf)
	assert.Equal(t, "registration finished", entry["msg"])
	assert.Equal(t, "keyward", entry["service"])
	assert.Equal(t, "1.2.3", entry["version"])
	assert.Equal(t, "email", entry["identity_kind"])
}

func TestSetup_Text(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("keyward", "dev", Options{Format: "text"}, &buf)

	logger.Warn("crm sync failed")
	assert.Contains(t, buf.String(), "crm sync failed")
	assert.Contains(t, buf.String(), "service=keyward")
}

func TestSetup_Level(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("keyward", "dev", Options{Level: "warn"}, &buf)

	logger.Info("hidden")
	assert.Empty(t, buf.String())
	logger.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestHandler_TraceAndRequestID(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("keyward", "dev", Options{}, &buf)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	ctx := trace.ContextWithSpanContext(context.Background(),
		trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID}))
	ctx = WithRequestID(ctx, "req-1")

	logger.InfoContext(ctx, "handled")

	entry := decode(t, &buf)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", entry["trace_id"])
	assert.Equal(t, "00f067aa0ba902b7", entry["span_id"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestHandler_NoTraceWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	Setup("keyward", "dev", Options{}, &buf).InfoContext(context.Background(), "plain")

	entry := decode(t, &buf)
	assert.NotContains(t, entry, "trace_id")
	assert.NotContains(t, entry, "request_id")
}

func TestHandler_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("keyward", "dev", Options{}, &buf).With("token", "abc")

	logger.Info("issued", "recovery_code", "deadbeef", "code", "RECOVERY_ISSUE_FAILED", "account_id", "01H")

	entry := decode(t, &buf)
	assert.Equal(t, "[REDACTED]", entry["recovery_code"])
	assert.Equal(t, "RECOVERY_ISSUE_FAILED", entry["code"], "error codes stay visible")
	assert.Equal(t, "[REDACTED]", entry["token"])
	assert.Equal(t, "01H", entry["account_id"])
}

func TestHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := Setup("keyward", "dev", Options{}, &buf).WithGroup("crm")

	logger.Info("sync", "failed", 2)

	entry := decode(t, &buf)
	group, ok := entry["crm"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 2, group["failed"], 0)
}
