// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package main

import (
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sigil-dev/bbsgraph/internal/config"
	"github.com/sigil-dev/bbsgraph/internal/secrets"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// secretStoreFactory creates the store that resolves keyring:// references
// and backs the secret command. Tests substitute an in-memory store.
var secretStoreFactory = func() secrets.Store {
	return secrets.NewKeyringStore()
}

// cli carries state shared by every subcommand of one root command.
type cli struct {
	v      *viper.Viper
	logger *slog.Logger

	// insecure lists secret-bearing files other users can read.
	insecure []string
}

// NewRootCmd creates the root bbsgraph command with all subcommands registered.
func NewRootCmd() *cobra.Command {
	c := &cli{v: viper.New(), logger: slog.Default()}

	root := &cobra.Command{
		Use:           "bbsgraph",
		Short:         "bbsgraph: question answering over a forum archive",
		Long:          "bbsgraph builds a knowledge graph from forum posts, indexes it for similarity search and answers questions with cited posts.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.initViper(cmd)
		},
	}

	// Global flags; initViper maps them to config keys.
	root.PersistentFlags().StringP("config", "c", "", "path to config file")
	root.PersistentFlags().String("data-dir", "", "path to data directory")
	root.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newSyncCmd(c),
		newIndexCmd(c),
		newAskCmd(c),
		newServeCmd(c),
		newStatusCmd(c),
		newConfigCmd(c),
		newSecretCmd(),
		newVersionCmd(),
	)

	return root
}

// initViper sets up defaults, env bindings, the optional config file and
// flag bindings so the standard precedence (flag > env > file > defaults)
// is handled uniformly.
func (c *cli) initViper(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}

	config.SetDefaults(c.v)
	config.SetupEnv(c.v)

	cfgFile, _ := cmd.Flags().GetString("config")
	used, err := config.ReadFile(c.v, cfgFile)
	if err != nil {
		return err
	}

	flags := cmd.Root().PersistentFlags()
	if err := c.v.BindPFlag("storage.data_dir", flags.Lookup("data-dir")); err != nil {
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "binding data-dir flag: %w", err)
	}
	if err := c.v.BindPFlag("verbose", flags.Lookup("verbose")); err != nil {
		return sigilerr.Errorf(sigilerr.CodeCLISetupFailure, "binding verbose flag: %w", err)
	}

	c.logger = newLogger(cmd.ErrOrStderr(),
		c.v.GetString("logging.level"),
		c.v.GetString("logging.format"),
		c.v.GetBool("verbose"))
	slog.SetDefault(c.logger)

	if used != "" {
		c.logger.Debug("config loaded", "path", used)
	}
	c.insecure = config.WarnInsecurePermissions(c.logger, used, ".env")
	return nil
}

// loadConfig resolves secret references and decodes the validated config.
func (c *cli) loadConfig() (*config.Config, error) {
	if unresolved := secrets.ResolveViper(c.v, secretStoreFactory()); len(unresolved) > 0 {
		c.logger.Debug("secret references left unresolved", "keys", unresolved)
	}
	return config.FromViper(c.v)
}

// newLogger builds the process logger. Unknown levels fall back to info;
// config validation reports them.
func newLogger(w io.Writer, level, format string, verbose bool) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	if verbose {
		lvl = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
