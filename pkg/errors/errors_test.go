// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors_test

import (
	"context"
	stderrors "errors"
	"net/http"
	"testing"

	sigilerr "github.com/sigil-dev/bbsgraph/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// New / Errorf
// ---------------------------------------------------------------------------

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := sigilerr.New(
		sigilerr.CodeStoreEdgeIntegrityViolation,
		"edge endpoint missing",
		sigilerr.FieldSequenceNo(42),
		sigilerr.FieldProvider("openai"),
	)

	require.Error(t, err)
	assert.Equal(t, sigilerr.CodeStoreEdgeIntegrityViolation, sigilerr.CodeOf(err))
	assert.True(t, sigilerr.HasCode(err, sigilerr.CodeStoreEdgeIntegrityViolation))

	fields := sigilerr.FieldsOf(err)
	assert.Equal(t, int64(42), fields["sequence_no"])
	assert.Equal(t, "openai", fields["provider"])
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("disk full")
	err := sigilerr.Errorf(sigilerr.CodeStoreDatabaseFailure, "write failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, sigilerr.CodeStoreDatabaseFailure, sigilerr.CodeOf(err))
	assert.Contains(t, err.Error(), "write failed")
}

// ---------------------------------------------------------------------------
// Wrap / Reclassify
// ---------------------------------------------------------------------------

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, sigilerr.Wrap(nil, sigilerr.CodeServerInternalFailure, "ignored"))
	assert.NoError(t, sigilerr.Wrapf(nil, sigilerr.CodeServerInternalFailure, "ignored %s", "arg"))
	assert.NoError(t, sigilerr.Reclassify(nil, sigilerr.CodeRetryAttemptsExhausted, "ignored"))
}

func TestWrapKeepsInnermostCode(t *testing.T) {
	inner := sigilerr.New(sigilerr.CodeStoreDatabaseFailure, "db")
	outer := sigilerr.Wrap(inner, sigilerr.CodeSyncBatchFailure, "batch")

	assert.Equal(t, sigilerr.CodeStoreDatabaseFailure, sigilerr.CodeOf(outer))
	assert.True(t, sigilerr.IsTransient(outer))
}

func TestReclassifyOverridesInnerCode(t *testing.T) {
	sentinel := stderrors.New("connection reset")
	inner := sigilerr.Wrap(sentinel, sigilerr.CodeInferenceUpstreamFailure, "calling model")
	err := sigilerr.Reclassify(inner, sigilerr.CodeInferenceRetriesExhausted, "inference gave up")

	assert.Equal(t, sigilerr.CodeInferenceRetriesExhausted, sigilerr.CodeOf(err))
	assert.True(t, sigilerr.IsExhausted(err))
	assert.False(t, sigilerr.IsTransient(err))
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestReclassifyKeepsContextErrors(t *testing.T) {
	err := sigilerr.Reclassify(context.Canceled, sigilerr.CodeRetrievalGenerateAborted, "stopped")
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, sigilerr.IsAborted(err))
}

func TestWithOnPlainErrorDefaultsToInternalCode(t *testing.T) {
	enriched := sigilerr.With(stderrors.New("something broke"), sigilerr.FieldState("TRAVERSING"))

	require.Error(t, enriched)
	assert.Equal(t, sigilerr.CodeServerInternalFailure, sigilerr.CodeOf(enriched))
	assert.Equal(t, "TRAVERSING", sigilerr.FieldsOf(enriched)["state"])
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

func TestClassifiers(t *testing.T) {
	tests := []struct {
		name string
		code sigilerr.Code
		is   func(error) bool
	}{
		{"transient store", sigilerr.CodeStoreDatabaseFailure, sigilerr.IsTransient},
		{"transient archive", sigilerr.CodeArchiveReadFailure, sigilerr.IsTransient},
		{"transient inference", sigilerr.CodeInferenceUpstreamFailure, sigilerr.IsTransient},
		{"invalid response", sigilerr.CodeInferenceResponseInvalid, sigilerr.IsInvalidResponse},
		{"integrity", sigilerr.CodeStoreEdgeIntegrityViolation, sigilerr.IsIntegrityViolation},
		{"exhausted retries", sigilerr.CodeRetryAttemptsExhausted, sigilerr.IsExhausted},
		{"aborted", sigilerr.CodeRetrievalGenerateAborted, sigilerr.IsAborted},
		{"not found", sigilerr.CodeStoreNodeNotFound, sigilerr.IsNotFound},
		{"conflict", sigilerr.CodeStoreWatermarkConflict, sigilerr.IsConflict},
		{"lease conflict", sigilerr.CodeLeaseHeld, sigilerr.IsConflict},
		{"invalid input", sigilerr.CodeRetrievalRequestInvalid, sigilerr.IsInvalidInput},
		{"timeout", sigilerr.CodeRetrievalCallTimeout, sigilerr.IsTimeout},
		{"circuit open", sigilerr.CodeInferenceCircuitOpen, sigilerr.IsUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.is(sigilerr.New(tt.code, "x")))
		})
	}
}

func TestClassifiersRejectPlainErrors(t *testing.T) {
	plain := stderrors.New("plain")
	assert.False(t, sigilerr.IsTransient(plain))
	assert.False(t, sigilerr.IsIntegrityViolation(plain))
	assert.False(t, sigilerr.IsExhausted(nil))
	assert.Equal(t, sigilerr.Code(""), sigilerr.CodeOf(plain))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code sigilerr.Code
		want int
	}{
		{sigilerr.CodeRetrievalRequestInvalid, http.StatusBadRequest},
		{sigilerr.CodeStoreNodeNotFound, http.StatusNotFound},
		{sigilerr.CodeLeaseHeld, http.StatusConflict},
		{sigilerr.CodeRetrievalCallTimeout, http.StatusGatewayTimeout},
		{sigilerr.CodeProviderAllUnavailable, http.StatusServiceUnavailable},
		{sigilerr.CodeProviderUpstreamFailure, http.StatusBadGateway},
		{sigilerr.CodeStoreDatabaseFailure, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, sigilerr.HTTPStatus(sigilerr.New(tt.code, "x")))
		})
	}
}

func TestJoinKeepsAllErrors(t *testing.T) {
	a := stderrors.New("a")
	b := stderrors.New("b")
	err := sigilerr.Join(a, b)
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
}
