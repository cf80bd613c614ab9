// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config

import (
	"io/fs"
	"log/slog"
	"os"
)

// groupOrOtherRead covers the mode bits that let other users read a file.
const groupOrOtherRead fs.FileMode = 0o044

// WarnInsecurePermissions logs a warning for every file among paths that
// other users can read, and returns those paths. The config file and .env
// may both hold API keys. Empty and missing paths are skipped; startup never
// fails on this check.
func WarnInsecurePermissions(logger *slog.Logger, paths ...string) []string {
	if logger == nil {
		logger = slog.Default()
	}

	var insecure []string
	for _, path := range paths {
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			logger.Debug("skipping permission check", "path", path, "error", err)
			continue
		}
		if info.Mode().Perm()&groupOrOtherRead == 0 {
			continue
		}
		logger.Warn("file with API keys has insecure permissions",
			"path", path,
			"mode", info.Mode(),
			"recommended", "0600",
		)
		insecure = append(insecure, path)
	}
	return insecure
}
