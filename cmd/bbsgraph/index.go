// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/bbsgraph/internal/index"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func newIndexCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Embed graph nodes into the vector index",
		Long: `Embeds every node added since the last index run and stores the vectors
for similarity search. --rebuild clears the index and embeds everything again,
for example after switching embedding models.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rebuild, _ := cmd.Flags().GetBool("rebuild")
			batchSize, _ := cmd.Flags().GetInt("batch-size")
			if batchSize < 0 {
				return sigilerr.Errorf(sigilerr.CodeCLIInputInvalid, "--batch-size must not be negative, got %d", batchSize)
			}

			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			rt := newRuntime(cfg, c.logger)
			defer func() { _ = rt.Close() }()

			ix, err := rt.Indexer()
			if err != nil {
				return err
			}

			report, err := ix.Run(cmd.Context(), index.Options{Rebuild: rebuild, BatchSize: batchSize})
			if report != nil {
				out := cmd.OutOrStdout()
				_, _ = fmt.Fprintf(out, "Index finished\n")
				_, _ = fmt.Fprintf(out, "  batches:   %d\n", report.Batches)
				_, _ = fmt.Fprintf(out, "  embedded:  %d\n", report.Embedded)
				_, _ = fmt.Fprintf(out, "  refreshed: %d\n", report.Refreshed)
				_, _ = fmt.Fprintf(out, "  skipped:   %d\n", report.Skipped)
				_, _ = fmt.Fprintf(out, "  watermark: %d\n", report.LastSequenceNo)
			}
			return err
		},
	}

	cmd.Flags().Bool("rebuild", false, "clear the index and embed every node again")
	cmd.Flags().Int("batch-size", 0, "nodes per embedding call (default 64)")

	return cmd
}
