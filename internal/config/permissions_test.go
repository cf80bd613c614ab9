// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build !windows

package config_test

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigil-dev/bbsgraph/internal/config"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

func TestWarnInsecurePermissions(t *testing.T) {
	tests := []struct {
		name     string
		perm     os.FileMode
		insecure bool
	}{
		{"owner only 0600", 0o600, false},
		{"read only 0400", 0o400, false},
		{"group readable 0640", 0o640, true},
		{"other readable 0604", 0o604, true},
		{"everyone 0644", 0o644, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bbsgraph.yaml")
			require.NoError(t, os.WriteFile(path, []byte("source:\n  dsn: x\n"), 0o600))
			require.NoError(t, os.Chmod(path, tt.perm))

			logger, buf := captureLogger()
			got := config.WarnInsecurePermissions(logger, path)

			if tt.insecure {
				assert.Equal(t, []string{path}, got)
				assert.Contains(t, buf.String(), "insecure permissions")
				assert.Contains(t, buf.String(), "0600")
			} else {
				assert.Empty(t, got)
				assert.NotContains(t, buf.String(), "insecure permissions")
			}
		})
	}
}

func TestWarnInsecurePermissions_ChecksEveryPath(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "bbsgraph.yaml")
	env := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(cfg, nil, 0o600))
	require.NoError(t, os.WriteFile(env, nil, 0o600))
	require.NoError(t, os.Chmod(env, 0o644))

	logger, _ := captureLogger()
	assert.Equal(t, []string{env}, config.WarnInsecurePermissions(logger, cfg, env))
}

func TestWarnInsecurePermissions_SkipsEmptyAndMissing(t *testing.T) {
	logger, buf := captureLogger()

	got := config.WarnInsecurePermissions(logger, "", "/nonexistent/path/bbsgraph.yaml")
	assert.Empty(t, got)
	assert.NotContains(t, buf.String(), "insecure permissions")
	assert.Contains(t, buf.String(), "skipping permission check")
}
