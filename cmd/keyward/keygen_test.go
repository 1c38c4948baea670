// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/pake"
	"github.com/keyward/keyward/pkg/errutil"
)

func TestKeygen_Prints(t *testing.T) {
	isolate(t)

	out, err := execute(t, newKeygenCmd())

	require.NoError(t, err)
	_, err = pake.ParseServerKey(strings.TrimSpace(out))
	assert.NoError(t, err)
}

func TestKeygen_WritesLoadableConfig(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	out, err := execute(t, newKeygenCmd(), "--write", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	cfg, err := config.Load(config.LoadOptions{File: path})
	require.NoError(t, err)
	_, err = pake.ParseServerKey(cfg.Opaque.ServerKey)
	assert.NoError(t, err)
}

func TestKeygen_WritesXDGConfigByDefault(t *testing.T) {
	isolate(t)

	_, err := execute(t, newKeygenCmd(), "--write")
	require.NoError(t, err)

	cfg, err := config.Load(config.LoadOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Opaque.ServerKey)
}

func TestKeygen_RefusesToOverwrite(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("http:\n  addr: \":9000\"\n"), 0o600))

	_, err := execute(t, newKeygenCmd(), "--write", "--output", path)

	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_EXISTS")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "server_key")
}
