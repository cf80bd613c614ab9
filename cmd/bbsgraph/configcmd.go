// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sigil-dev/bbsgraph/internal/config"
)

func newConfigCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create configuration",
	}

	cmd.AddCommand(newConfigInitCmd(), newConfigCheckCmd(c))

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with every default",
		Long: `Writes bbsgraph.yaml with every setting at its default value. API keys
default to env:// references, so the file holds no secrets.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("path")
			force, _ := cmd.Flags().GetBool("force")

			if path == "" {
				p, err := config.DefaultConfigPath()
				if err != nil {
					return err
				}
				path = p
			}

			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().String("path", "", "where to write the file (default ~/.config/bbsgraph/bbsgraph.yaml)")
	cmd.Flags().Bool("force", false, "overwrite an existing file")

	return cmd
}

func newConfigCheckCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if used := c.v.ConfigFileUsed(); used != "" {
				_, _ = fmt.Fprintf(out, "Config file: %s\n", used)
			} else {
				_, _ = fmt.Fprintln(out, "Config file: none (defaults and environment)")
			}
			_, _ = fmt.Fprintf(out, "Source:      %s\n", cfg.Source.Driver)
			_, _ = fmt.Fprintf(out, "Data dir:    %s\n", cfg.Storage.DataDir)
			_, _ = fmt.Fprintf(out, "Generation:  %s\n", cfg.Models.Generation)
			_, _ = fmt.Fprintf(out, "Embedding:   %s\n", cfg.Models.Embedding)
			for _, path := range c.insecure {
				_, _ = fmt.Fprintf(out, "Warning: %s is readable by other users; run chmod 600 %s\n", path, path)
			}
			_, _ = fmt.Fprintln(out, "Configuration is valid.")
			return nil
		},
	}
}
