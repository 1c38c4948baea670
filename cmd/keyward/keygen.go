// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/keyward/keyward/internal/pake"
	"github.com/keyward/keyward/internal/xdg"
)

func newKeygenCmd() *cobra.Command {
	var write bool
	var path string

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an OPAQUE server key",
		Long: `Generate a new OPAQUE server private key and print it.

Changing the server key invalidates every stored password envelope, so
existing users must recover their accounts afterwards.

With --write the key is saved as opaque.server_key in a new config file.
An existing file is never overwritten.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := pake.GenerateServerKey()
			if err != nil {
				return err
			}
			if !write {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), key)
				return err
			}
			if path == "" {
				path = xdg.ConfigFile()
			}
			if err := writeServerKey(path, key); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "Server key written to %s\n", path)
			return err
		},
	}

	cmd.Flags().BoolVar(&write, "write", false, "write the key to a new config file")
	cmd.Flags().StringVar(&path, "output", "", "config file to create with --write (default: $XDG_CONFIG_HOME/keyward/config.yaml)")

	return cmd
}

func writeServerKey(path, key string) error {
	if _, err := os.Stat(path); err == nil {
		return oops.Code("CONFIG_EXISTS").With("path", path).
			Errorf("config file already exists; add opaque.server_key to it by hand")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return oops.Code("CONFIG_STAT_FAILED").With("path", path).Wrap(err)
	}

	k := koanf.New(".")
	if err := k.Set("opaque.server_key", key); err != nil {
		return oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}
	data, err := k.Marshal(yaml.Parser())
	if err != nil {
		return oops.Code("CONFIG_ENCODE_FAILED").Wrap(err)
	}

	if err := xdg.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close() //nolint:errcheck // write error wins
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	if err := f.Close(); err != nil {
		return oops.Code("CONFIG_WRITE_FAILED").With("path", path).Wrap(err)
	}
	return nil
}
