// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/bbsgraph/internal/store"
	"github.com/sigil-dev/bbsgraph/pkg/health"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// statusClient is the HTTP client used for remote status checks.
// Overridden in tests.
var statusClient = &http.Client{Timeout: 5 * time.Second}

// errServerNotRunning indicates the server refused the connection.
var errServerNotRunning = errors.New("server is not running (connection refused)")

func newStatusCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show graph, index and provider status",
		Long: `Without --address, opens the local stores and reports node, edge and vector
counts with the sync and index watermarks. With --address, queries the
/health endpoint of a running server instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr, _ := cmd.Flags().GetString("address"); addr != "" {
				return runRemoteStatus(cmd.OutOrStdout(), addr)
			}
			return c.runLocalStatus(cmd)
		},
	}

	cmd.Flags().String("address", "", "host:port of a running server to query")

	return cmd
}

func (c *cli) runLocalStatus(cmd *cobra.Command) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	rt := newRuntime(cfg, c.logger)
	defer func() { _ = rt.Close() }()

	ctx := cmd.Context()
	report := rt.Health(ctx)
	out := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(out, "Data directory: %s\n", cfg.Storage.DataDir)
	printReport(out, report)

	if gs, err := rt.Graph(); err == nil {
		if wm, err := gs.Watermarks().GetWatermark(ctx, store.WatermarkIndex); err == nil {
			_, _ = fmt.Fprintf(out, "Index watermark: %s\n", formatWatermark(wm))
		}
	}
	return nil
}

func formatWatermark(wm *store.Watermark) string {
	if !wm.IsSet() {
		return "unset"
	}
	return fmt.Sprintf("%d", wm.LastSequenceNo)
}

func runRemoteStatus(out io.Writer, addr string) error {
	var report health.Report
	if err := getJSON("http://"+addr+"/health", &report); err != nil {
		if errors.Is(err, errServerNotRunning) {
			_, _ = fmt.Fprintf(out, "Server at %s is not running (connection refused)\n", addr)
			return nil
		}
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "querying %s: %w", addr, err)
	}
	_, _ = fmt.Fprintf(out, "Server at %s\n", addr)
	printReport(out, report)
	return nil
}

func printReport(out io.Writer, r health.Report) {
	_, _ = fmt.Fprintf(out, "Status:         %s\n", r.Status)
	_, _ = fmt.Fprintf(out, "Nodes:          %d\n", r.Nodes)
	_, _ = fmt.Fprintf(out, "Edges:          %d\n", r.Edges)
	_, _ = fmt.Fprintf(out, "Vectors:        %d\n", r.Vectors)
	_, _ = fmt.Fprintf(out, "Sync watermark: %d\n", r.Watermark)

	names := make([]string, 0, len(r.Providers))
	for name := range r.Providers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		m := r.Providers[name]
		state := "available"
		if !m.Available {
			state = "cooling down"
		}
		_, _ = fmt.Fprintf(out, "Provider %s: %s (failures: %d)\n", name, state, m.FailureCount)
	}
}

// getJSON performs a GET request and decodes the JSON response into dest.
// Returns errServerNotRunning on connection refused.
func getJSON(url string, dest any) error {
	resp, err := statusClient.Get(url)
	if err != nil {
		if isDialError(err) {
			return errServerNotRunning
		}
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("invalid response: %w", err)
	}
	return nil
}

// isDialError returns true if err is a net dial error (connection refused, etc.).
func isDialError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Op == "dial"
	}
	return false
}
