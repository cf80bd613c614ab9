// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets resolves credential references in configuration values.
// A value may be a literal, a keyring://service/key reference into the OS
// keyring, or an env://NAME reference to an environment variable (which may
// itself have been loaded from a .env file).
package secrets

// DefaultService is the keyring service name used by the CLI.
const DefaultService = "bbsgraph"

// Store provides secret storage keyed by service and key.
type Store interface {
	Set(service, key, value string) error
	// Get returns a CodeSecretNotFound error when the key does not exist.
	Get(service, key string) (string, error)
	Delete(service, key string) error
}
