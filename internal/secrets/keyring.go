// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package secrets

import (
	"errors"

	"github.com/zalando/go-keyring"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
)

// KeyringStore implements Store using the OS keyring via zalando/go-keyring.
type KeyringStore struct{}

// NewKeyringStore returns a KeyringStore.
func NewKeyringStore() *KeyringStore {
	return &KeyringStore{}
}

func (s *KeyringStore) Set(service, key, value string) error {
	if err := checkName(service, key); err != nil {
		return err
	}
	if err := keyring.Set(service, key, value); err != nil {
		return sigilerr.Wrapf(err, sigilerr.CodeSecretStoreFailure, "storing secret %s/%s", service, key)
	}
	return nil
}

func (s *KeyringStore) Get(service, key string) (string, error) {
	if err := checkName(service, key); err != nil {
		return "", err
	}
	val, err := keyring.Get(service, key)
	if err != nil {
		return "", keyringErr(err, "retrieving", service, key)
	}
	return val, nil
}

func (s *KeyringStore) Delete(service, key string) error {
	if err := checkName(service, key); err != nil {
		return err
	}
	if err := keyring.Delete(service, key); err != nil {
		return keyringErr(err, "deleting", service, key)
	}
	return nil
}

func keyringErr(err error, op, service, key string) error {
	if errors.Is(err, keyring.ErrNotFound) {
		return sigilerr.Errorf(sigilerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
	}
	return sigilerr.Wrapf(err, sigilerr.CodeSecretStoreFailure, "%s secret %s/%s", op, service, key)
}

func checkName(service, key string) error {
	if service == "" {
		return sigilerr.New(sigilerr.CodeSecretInvalidInput, "secret service must not be empty")
	}
	if key == "" {
		return sigilerr.New(sigilerr.CodeSecretInvalidInput, "secret key must not be empty")
	}
	return nil
}
