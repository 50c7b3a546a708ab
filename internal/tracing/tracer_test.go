/*
 * Copyright (c) 2026, WSO2 LLC. (https://www.wso2.com).
 *
 * WSO2 LLC. licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package tracing

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/config"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

const testTraceparent = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

func setupPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// =============================================================================
// InitTracer Tests
// =============================================================================

func TestInitTracer_Disabled(t *testing.T) {
	cfg := &config.Config{
		TracingConfig: config.TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
		},
	}

	shutdown, err := InitTracer(cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

func TestInitTracer_NilConfig(t *testing.T) {
	shutdown, err := InitTracer(nil)
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	shutdown()
}

// =============================================================================
// Trace Context Extraction Tests
// =============================================================================

func TestExtractTraceContext_NoMetadata(t *testing.T) {
	setupPropagator()
	ctx := ExtractTraceContext(context.Background())

	assert.False(t, trace.SpanContextFromContext(ctx).IsValid())
}

func TestExtractTraceContext_WithTraceparent(t *testing.T) {
	setupPropagator()
	md := metadata.MD{"traceparent": []string{testTraceparent}}
	ctx := metadata.NewIncomingContext(context.Background(), md)

	sc := trace.SpanContextFromContext(ExtractTraceContext(ctx))
	assert.True(t, sc.IsValid())
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", sc.TraceID().String())
}

func TestExtractHTTPTraceContext(t *testing.T) {
	setupPropagator()
	headers := http.Header{}
	headers.Set("Traceparent", testTraceparent)

	sc := trace.SpanContextFromContext(ExtractHTTPTraceContext(context.Background(), headers))
	assert.True(t, sc.IsValid())
	assert.True(t, sc.IsRemote())
}

// =============================================================================
// Hook Tests
// =============================================================================

func newRecordingHook() (*Hook, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	return NewHook(tp.Tracer("test")), recorder
}

func TestHook_SpanPerPolicy(t *testing.T) {
	hook, recorder := newRecordingHook()
	execCtx := policy.NewExecutionContext(&policy.Request{Method: "GET", Path: "/"})
	execCtx.Metrics.APIID = "petstore"
	info := policy.ExecutionInfo{ChainID: "petstore-all", Phase: policy.PhaseRequest, PolicyID: "set-header"}

	ctx, err := hook.Pre(context.Background(), info, execCtx)
	require.NoError(t, err)
	assert.True(t, trace.SpanFromContext(ctx).IsRecording())
	require.NoError(t, hook.Post(ctx, info, execCtx, nil))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "policy.request.set-header", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, HookID, hook.ID())
}

func TestHook_FailureMarksSpan(t *testing.T) {
	hook, recorder := newRecordingHook()
	execCtx := policy.NewExecutionContext(&policy.Request{Method: "GET", Path: "/"})
	info := policy.ExecutionInfo{ChainID: "c", Phase: policy.PhaseResponse, PolicyID: "api-key"}

	ctx, err := hook.Pre(context.Background(), info, execCtx)
	require.NoError(t, err)
	failure := policy.NewExecutionFailure(http.StatusUnauthorized).WithMessage("denied").WithKey("API_KEY_INVALID")
	require.NoError(t, hook.Post(ctx, info, execCtx, failure))

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "policy.response.api-key", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "denied", spans[0].Status().Description)
}
