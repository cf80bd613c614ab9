// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

//go:build windows

package config

import "log/slog"

// WarnInsecurePermissions reports nothing on Windows, where access is
// governed by ACLs rather than mode bits.
func WarnInsecurePermissions(_ *slog.Logger, _ ...string) []string {
	return nil
}
