// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// DefaultConfigPath returns ~/.config/bbsgraph/bbsgraph.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "bbsgraph", "bbsgraph.yaml"), nil
}

// DefaultConfigYAML renders every default as a YAML document.
func DefaultConfigYAML() ([]byte, error) {
	v := viper.New()
	SetDefaults(v)
	out, err := yaml.Marshal(v.AllSettings())
	if err != nil {
		return nil, sigilerr.Errorf(sigilerr.CodeConfigParseInvalidFormat, "rendering default config: %w", err)
	}
	return out, nil
}

// WriteDefault writes the default config to path with owner-only
// permissions. An existing file is kept unless overwrite is set.
func WriteDefault(path string, overwrite bool) error {
	if _, err := os.Stat(path); err == nil && !overwrite {
		return sigilerr.Errorf(sigilerr.CodeCLIInputInvalid, "config file %s already exists", path)
	}

	data, err := DefaultConfigYAML()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "creating config directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return sigilerr.Errorf(sigilerr.CodeConfigLoadReadFailure, "writing config %s: %w", path, err)
	}

	slog.Info("created default config", "path", path)
	return nil
}
