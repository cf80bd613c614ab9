// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

const (
	keyringScheme = "keyring://"
	envScheme     = "env://"
)

// IsReference reports whether value points at a secret rather than holding it.
func IsReference(value string) bool {
	return strings.HasPrefix(value, keyringScheme) || strings.HasPrefix(value, envScheme)
}

// ParseKeyringURI extracts service and key from a keyring://service/key URI.
func ParseKeyringURI(uri string) (service, key string, err error) {
	path, ok := strings.CutPrefix(uri, keyringScheme)
	if !ok {
		return "", "", sigilerr.Errorf(sigilerr.CodeSecretInvalidInput, "not a keyring URI: %q", uri)
	}

	service, key, found := strings.Cut(path, "/")
	if !found || service == "" || key == "" {
		return "", "", sigilerr.Errorf(sigilerr.CodeSecretInvalidInput,
			"invalid keyring URI %q: expected keyring://service/key", uri)
	}
	return service, key, nil
}

// Resolve returns the secret a reference points at, or value unchanged when
// it is a literal. store may be nil when no keyring is available; keyring
// references then fail.
func Resolve(store Store, value string) (string, error) {
	if name, ok := strings.CutPrefix(value, envScheme); ok {
		if name == "" {
			return "", sigilerr.Errorf(sigilerr.CodeSecretInvalidInput, "invalid env reference %q", value)
		}
		secret, found := os.LookupEnv(name)
		if !found {
			return "", sigilerr.Errorf(sigilerr.CodeSecretNotFound, "environment variable %s is not set", name)
		}
		return secret, nil
	}

	if !strings.HasPrefix(value, keyringScheme) {
		return value, nil
	}

	service, key, err := ParseKeyringURI(value)
	if err != nil {
		return "", err
	}
	if store == nil {
		return "", sigilerr.Errorf(sigilerr.CodeSecretResolveFailure, "no keyring available for %q", value)
	}

	secret, err := store.Get(service, key)
	if err != nil {
		return "", sigilerr.Wrapf(err, sigilerr.CodeSecretResolveFailure, "resolving keyring URI %q", value)
	}
	return secret, nil
}

// ResolveViper replaces every secret reference among v's string values with
// the secret itself. Unresolvable references are logged and left in place
// so the component that needs the value reports the failure; their config
// keys are returned.
func ResolveViper(v *viper.Viper, store Store) []string {
	var unresolved []string
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if !IsReference(val) {
			continue
		}

		resolved, err := Resolve(store, val)
		if err != nil {
			slog.Warn("failed to resolve secret reference, keeping original value",
				"config_key", key,
				"error", err,
			)
			unresolved = append(unresolved, key)
			continue
		}

		v.Set(key, resolved)
	}
	return unresolved
}
