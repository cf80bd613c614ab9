// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/bbsgraph/internal/server"
)

func newServeCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ask API over HTTP",
		Long: `Starts the HTTP API: POST /api/v1/ask streams answers as server-sent events
(or returns a JSON array without Accept: text/event-stream), GET /health reports
store and provider state and GET /metrics exposes Prometheus metrics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
				cfg.Server.Listen = listen
			}

			rt := newRuntime(cfg, c.logger)
			defer func() { _ = rt.Close() }()

			ctx := cmd.Context()
			wf, err := rt.Workflow(ctx)
			if err != nil {
				return err
			}

			srv, err := server.New(server.Config{
				ListenAddr:        cfg.Server.Listen,
				CORSOrigins:       cfg.Server.CORSOrigins,
				MaxQuestionLength: cfg.Server.MaxQuestionLength,
				RateLimit: server.RateLimitConfig{
					RequestsPerSecond: cfg.Server.RateLimit,
					Burst:             cfg.Server.RateBurst,
				},
				AskHandler: server.NewWorkflowHandler(wf, c.logger),
				Health:     rt.Health,
				Metrics:    rt.metrics.Handler(),
				Logger:     c.logger,
			})
			if err != nil {
				return err
			}
			defer func() { _ = srv.Close() }()

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Serving bbsgraph on %s\n", cfg.Server.Listen)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().String("listen", "", "listen address (default from server.listen)")

	return cmd
}
