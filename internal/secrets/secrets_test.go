// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets_test

import (
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/sigil-dev/bbsgraph/internal/secrets"
	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

func init() {
	// Use the mock keyring so tests never touch the real OS keyring.
	keyring.MockInit()
}

func TestKeyringStore_RoundTrip(t *testing.T) {
	ks := secrets.NewKeyringStore()

	require.NoError(t, ks.Set("bbsgraph-test", "openai", "sk-123"))
	val, err := ks.Get("bbsgraph-test", "openai")
	require.NoError(t, err)
	assert.Equal(t, "sk-123", val)

	require.NoError(t, ks.Delete("bbsgraph-test", "openai"))
	_, err = ks.Get("bbsgraph-test", "openai")
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeSecretNotFound))

	err = ks.Delete("bbsgraph-test", "openai")
	assert.True(t, sigilerr.IsNotFound(err))
}

func TestKeyringStore_RejectsEmptyNames(t *testing.T) {
	ks := secrets.NewKeyringStore()
	assert.True(t, sigilerr.IsInvalidInput(ks.Set("", "k", "v")))
	_, err := ks.Get("svc", "")
	assert.True(t, sigilerr.IsInvalidInput(err))
}

func TestParseKeyringURI(t *testing.T) {
	tests := []struct {
		name        string
		uri         string
		wantService string
		wantKey     string
		wantErr     bool
	}{
		{"valid", "keyring://bbsgraph/openai", "bbsgraph", "openai", false},
		{"slashes in key", "keyring://bbsgraph/path/to/key", "bbsgraph", "path/to/key", false},
		{"other scheme", "vault://secret/key", "", "", true},
		{"no key", "keyring://bbsgraph/", "", "", true},
		{"just scheme", "keyring://", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, key, err := secrets.ParseKeyringURI(tt.uri)
			if tt.wantErr {
				assert.True(t, sigilerr.IsInvalidInput(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantService, svc)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestResolve(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Set("bbsgraph", "anthropic", "sk-ant"))
	t.Setenv("BBSGRAPH_TEST_KEY", "sk-env")

	tests := []struct {
		name    string
		value   string
		want    string
		wantErr bool
	}{
		{"literal", "sk-literal", "sk-literal", false},
		{"keyring", "keyring://bbsgraph/anthropic", "sk-ant", false},
		{"env", "env://BBSGRAPH_TEST_KEY", "sk-env", false},
		{"missing env", "env://BBSGRAPH_TEST_MISSING", "", true},
		{"missing keyring key", "keyring://bbsgraph/nope", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := secrets.Resolve(ks, tt.value)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := secrets.Resolve(nil, "keyring://bbsgraph/anthropic")
	assert.Error(t, err)
}

func TestResolveViper(t *testing.T) {
	ks := secrets.NewKeyringStore()
	require.NoError(t, ks.Set("bbsgraph", "openai", "sk-openai"))

	v := viper.New()
	v.Set("providers.openai.api_key", "keyring://bbsgraph/openai")
	v.Set("providers.google.api_key", "keyring://bbsgraph/absent")
	v.Set("archive.dsn", "postgres://localhost/bbs")

	unresolved := secrets.ResolveViper(v, ks)

	assert.Equal(t, "sk-openai", v.GetString("providers.openai.api_key"))
	assert.Equal(t, "keyring://bbsgraph/absent", v.GetString("providers.google.api_key"))
	assert.Equal(t, "postgres://localhost/bbs", v.GetString("archive.dsn"))
	assert.Equal(t, []string{"providers.google.api_key"}, unresolved)
}
