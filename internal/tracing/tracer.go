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
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/metadata"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/config"
)

// InitTracer initializes the OpenTelemetry tracer using values from cfg and
// returns a shutdown function. If tracing is disabled this is a no-op.
func InitTracer(cfg *config.Config) (func(), error) {
	ctx := context.Background()
	if cfg == nil || !cfg.TracingConfig.Enabled {
		slog.InfoContext(ctx, "Tracing is disabled by configuration")
		return func() {}, nil
	}

	endpoint := cfg.TracingConfig.Endpoint
	if endpoint == "" {
		endpoint = "otel-collector:4317"
	}

	slog.InfoContext(ctx, "Initializing OTLP exporter", "endpoint", endpoint)

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if cfg.TracingConfig.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	serviceName := cfg.FlowEngine.TracingServiceName
	if serviceName == "" {
		serviceName = "flow-engine"
	}
	serviceVersion := cfg.TracingConfig.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = "1.0.0"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, err
	}

	batchTimeout := cfg.TracingConfig.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = time.Second
	}
	maxBatch := cfg.TracingConfig.MaxExportBatchSize
	if maxBatch <= 0 {
		maxBatch = 512
	}

	samplingRate := cfg.TracingConfig.SamplingRate
	if samplingRate <= 0.0 {
		samplingRate = 1.0
	}

	var sampler sdktrace.Sampler
	if samplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(samplingRate)
	}

	slog.InfoContext(ctx, "Using trace sampler", "sampling_rate", samplingRate)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithBatchTimeout(batchTimeout),
			sdktrace.WithMaxExportBatchSize(maxBatch),
		),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	slog.InfoContext(ctx, "OpenTelemetry tracer initialized successfully")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			slog.ErrorContext(ctx, "Error shutting down tracer provider", "error", err)
		}
	}, nil
}

// ExtractTraceContext extracts W3C Trace Context from incoming gRPC metadata (ext_proc mode)
func ExtractTraceContext(ctx context.Context) context.Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ctx
	}

	carrier := propagation.MapCarrier{}
	for key, values := range md {
		lowerKey := strings.ToLower(key)
		if (lowerKey == "traceparent" || lowerKey == "tracestate") && len(values) > 0 {
			carrier.Set(lowerKey, values[0])
		}
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// ExtractHTTPTraceContext extracts W3C Trace Context from HTTP request headers (http mode)
func ExtractHTTPTraceContext(ctx context.Context, headers http.Header) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(headers))
}
