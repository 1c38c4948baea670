// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyward Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

const statusTimeout = 5 * time.Second

// probeStatus is the result of one health probe.
type probeStatus struct {
	Probe  string `json:"probe"`
	Status string `json:"status"`
	Code   int    `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`
}

// serverStatus is the combined health of a running server.
type serverStatus struct {
	Addr      string        `json:"addr"`
	Healthy   bool          `json:"healthy"`
	Probes    []probeStatus `json:"probes"`
	CheckedAt time.Time     `json:"checked_at"`
}

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running server",
		Long: `Query the liveness and readiness probes on the metrics listener
and report the result. Exits non-zero when the server is not healthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Metrics.Addr == "" {
				return oops.Code("CONFIG_INVALID").With("key", "metrics.addr").
					Errorf("metrics.addr is empty; health probes are disabled")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), statusTimeout)
			defer cancel()
			status := queryStatus(ctx, defaultStatusClient(), cfg.Metrics.Addr)

			out := cmd.OutOrStdout()
			if jsonOutput {
				if err := writeStatusJSON(out, status); err != nil {
					return err
				}
			} else {
				writeStatusTable(out, status)
			}

			if !status.Healthy {
				return oops.Code("SERVER_UNHEALTHY").With("addr", status.Addr).Errorf("server is not healthy")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.Flags().String("metrics-addr", "127.0.0.1:9100", "metrics/health address of the server")

	return cmd
}

func defaultStatusClient() *http.Client {
	return &http.Client{Timeout: statusTimeout}
}

func queryStatus(ctx context.Context, client *http.Client, addr string) serverStatus {
	base := addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	status := serverStatus{Addr: addr, Healthy: true, CheckedAt: time.Now().UTC()}
	for _, probe := range []string{"liveness", "readiness"} {
		p := checkProbe(ctx, client, base+"/healthz/"+probe)
		p.Probe = probe
		if p.Status != "ok" {
			status.Healthy = false
		}
		status.Probes = append(status.Probes, p)
	}
	return status
}

func checkProbe(ctx context.Context, client *http.Client, url string) probeStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return probeStatus{Status: "error", Error: err.Error()}
	}
	resp, err := client.Do(req)
	if err != nil {
		return probeStatus{Status: "unreachable", Error: err.Error()}
	}
	defer func() {
		_ = resp.Body.Close() //nolint:errcheck // body fully drained
	}()
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // drain for connection reuse

	if resp.StatusCode != http.StatusOK {
		return probeStatus{Status: "failing", Code: resp.StatusCode}
	}
	return probeStatus{Status: "ok", Code: resp.StatusCode}
}

func writeStatusJSON(w io.Writer, status serverStatus) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(status); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}

func writeStatusTable(w io.Writer, status serverStatus) {
	rows := make([][]string, 0, len(status.Probes))
	for _, p := range status.Probes {
		code := "-"
		if p.Code != 0 {
			code = fmt.Sprintf("%d", p.Code)
		}
		detail := p.Error
		if detail == "" {
			detail = "-"
		}
		rows = append(rows, []string{p.Probe, p.Status, code, detail})
	}
	renderTable(w, []string{"Probe", "Status", "HTTP", "Detail"}, rows)
}
