// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/sigil-dev/bbsgraph/internal/telemetry"
)

func TestSetup_WithoutEndpointRecordsSpans(t *testing.T) {
	p, err := telemetry.Setup(context.Background(), telemetry.Config{ServiceVersion: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })

	_, span := p.Tracer().Start(context.Background(), "ask")
	assert.True(t, span.SpanContext().IsValid())
	assert.True(t, span.IsRecording())
	span.End()

	_, global := otel.Tracer(telemetry.TracerName).Start(context.Background(), "global")
	assert.True(t, global.SpanContext().IsValid(), "provider is installed globally")
	global.End()
}

func TestShutdown_IsIdempotent(t *testing.T) {
	p, err := telemetry.Setup(context.Background(), telemetry.Config{SampleRate: 0.5})
	require.NoError(t, err)
	require.NoError(t, p.Shutdown(context.Background()))
	assert.NoError(t, p.Shutdown(context.Background()))
}
