// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error.
// Codes follow <domain>.<entity>.<op>.<reason>; the reason segment drives
// the Is* classifiers below.
type Code string

const (
	CodeStoreDatabaseFailure         Code = "store.database.failure"
	CodeStoreBackendUnsupported      Code = "store.backend.unsupported"
	CodeStoreInvalidInput            Code = "store.invalid_input"
	CodeStoreNodeNotFound            Code = "store.node.get.not_found"
	CodeStoreEdgeIntegrityViolation  Code = "store.edge.put.integrity_violation"
	CodeStoreWatermarkConflict       Code = "store.watermark.advance.conflict"
	CodeStoreLeaseConflict           Code = "store.lease.acquire.conflict"
	CodeStoreVectorDimensionMismatch Code = "store.vector.put.invalid_input"

	CodeConfigLoadReadFailure      Code = "config.load.read.failure"
	CodeConfigParseInvalidFormat   Code = "config.parse.invalid_format"
	CodeConfigValidateInvalidValue Code = "config.validate.invalid_value"

	CodeArchiveOpenFailure        Code = "archive.open.failure"
	CodeArchiveReadFailure        Code = "archive.read.failure"
	CodeArchiveRowInvalid         Code = "archive.read.invalid_input"
	CodeArchiveDialectUnsupported Code = "archive.dialect.invalid_input"

	CodeProviderRequestInvalid  Code = "provider.request.invalid"
	CodeProviderResponseInvalid Code = "provider.response.invalid"
	CodeProviderUpstreamFailure Code = "provider.upstream.failure"
	CodeProviderNotFound        Code = "provider.registry.not_found"
	CodeProviderAllUnavailable  Code = "provider.routing.all_unavailable"
	CodeProviderNoDefault       Code = "provider.routing.no_default"
	CodeProviderInvalidModelRef Code = "provider.routing.invalid_model_ref"

	CodeInferenceUpstreamFailure  Code = "inference.upstream.failure"
	CodeInferenceResponseInvalid  Code = "inference.response.invalid"
	CodeInferenceRetriesExhausted Code = "inference.retries.exhausted"
	CodeInferenceCircuitOpen      Code = "inference.circuit.unavailable"
	CodeInferencePolicyInvalid    Code = "inference.policy.invalid"

	CodeLeaseHeld               Code = "lease.acquire.conflict"
	CodeLeaseBackendFailure     Code = "lease.backend.failure"
	CodeLeaseBackendUnsupported Code = "lease.backend.invalid_input"

	CodeRetryAttemptsExhausted Code = "retry.attempts.exhausted"
	CodeRetryAttemptTimeout    Code = "retry.attempt.timeout"

	CodeSyncRequestInvalid Code = "sync.request.invalid_input"
	CodeSyncBatchFailure   Code = "sync.batch.failure"
	CodeSyncLeaseConflict  Code = "sync.lease.conflict"

	CodeIndexRequestInvalid Code = "index.request.invalid_input"
	CodeIndexEmbedFailure   Code = "index.embed.failure"

	CodeGraphTraverseInvalid Code = "graph.traverse.invalid_input"

	CodeRetrievalRequestInvalid    Code = "retrieval.request.invalid_input"
	CodeRetrievalSeedFailure       Code = "retrieval.seed.failure"
	CodeRetrievalTraverseFailure   Code = "retrieval.traverse.failure"
	CodeRetrievalSynthesizeFailure Code = "retrieval.synthesize.failure"
	CodeRetrievalGenerateFailure   Code = "retrieval.generate.failure"
	CodeRetrievalGenerateAborted   Code = "retrieval.generate.aborted"
	CodeRetrievalCallTimeout       Code = "retrieval.call.timeout"

	CodeSecretInvalidInput   Code = "secret.input.invalid_input"
	CodeSecretNotFound       Code = "secret.get.not_found"
	CodeSecretStoreFailure   Code = "secret.store.failure"
	CodeSecretResolveFailure Code = "secret.resolve.failure"

	CodeServerRequestInvalid  Code = "server.request.invalid"
	CodeServerInternalFailure Code = "server.internal.failure"
	CodeServerConfigInvalid   Code = "server.config.invalid"
	CodeServerStartFailure    Code = "server.start.failure"
	CodeServerShutdownFailure Code = "server.shutdown.failure"

	CodeCLISetupFailure Code = "cli.setup.failure"
	CodeCLIInputInvalid Code = "cli.input.invalid"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldSequenceNo(value int64) Attr {
	return Field("sequence_no", value)
}

func FieldNodeID(value fmt.Stringer) Attr {
	return Field("node_id", value.String())
}

func FieldProvider(value string) Attr {
	return Field("provider", value)
}

func FieldState(value string) Attr {
	return Field("state", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// Reclassify wraps err under a new code. Unlike Wrap, the codes of err are
// hidden from CodeOf so the new classification wins; errors.Is still
// reaches every error in the original chain.
func Reclassify(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(sealed{err: err}, "%s", msg)
}

// With adds structured fields to an existing error chain.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeServerInternalFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

// CodeOf returns the innermost code in the chain.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsConflict(err error) bool {
	return reason(CodeOf(err)) == "conflict"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "invalid_format"
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsUpstreamFailure(err error) bool {
	code := CodeOf(err)
	return strings.Contains(string(code), "upstream") && reason(code) == "failure"
}

// IsTransient reports whether a retry of the same idempotent call may
// succeed: database, archive, lease backend and upstream failures.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeStoreDatabaseFailure,
		CodeArchiveReadFailure,
		CodeLeaseBackendFailure,
		CodeInferenceUpstreamFailure,
		CodeProviderUpstreamFailure,
		CodeProviderAllUnavailable:
		return true
	}
	return false
}

// IsInvalidResponse reports a capability that answered with output that
// could not be parsed.
func IsInvalidResponse(err error) bool {
	code := CodeOf(err)
	return code == CodeInferenceResponseInvalid || code == CodeProviderResponseInvalid
}

func IsIntegrityViolation(err error) bool {
	return reason(CodeOf(err)) == "integrity_violation"
}

func IsExhausted(err error) bool {
	return reason(CodeOf(err)) == "exhausted"
}

func IsAborted(err error) bool {
	return reason(CodeOf(err)) == "aborted"
}

func IsUnavailable(err error) bool {
	r := reason(CodeOf(err))
	return r == "unavailable" || r == "all_unavailable"
}

func HTTPStatus(err error) int {
	switch {
	case IsNotFound(err):
		return http.StatusNotFound
	case IsConflict(err):
		return http.StatusConflict
	case IsInvalidInput(err):
		return http.StatusBadRequest
	case IsTimeout(err):
		return http.StatusGatewayTimeout
	case IsUnavailable(err):
		return http.StatusServiceUnavailable
	case IsUpstreamFailure(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func Join(errs ...error) error {
	return oops.Code(CodeServerInternalFailure).Wrap(stderrors.Join(errs...))
}

// sealed hides the codes of the wrapped chain from oops.AsOops while
// keeping errors.Is working.
type sealed struct {
	err error
}

func (s sealed) Error() string { return s.err.Error() }

func (s sealed) Is(target error) bool { return stderrors.Is(s.err, target) }

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
