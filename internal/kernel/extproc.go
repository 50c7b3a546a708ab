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

package kernel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strconv"
	"strings"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocconfigv3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_proc/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/prototext"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/tracing"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// routeFilterMetadata is the route filter metadata namespace carrying the api id
const routeFilterMetadata = "wso2.route"

// ExternalProcessorServer implements the Envoy external processor service.
// Envoy sends headers only; the engine never buffers bodies.
type ExternalProcessorServer struct {
	extprocv3.UnimplementedExternalProcessorServer

	kernel          *Kernel
	requestIDHeader string
	tracer          trace.Tracer
}

// NewExternalProcessorServer creates the ext_proc server
func NewExternalProcessorServer(k *Kernel, requestIDHeader string, tracer trace.Tracer) *ExternalProcessorServer {
	if requestIDHeader == "" {
		requestIDHeader = "X-Request-Id"
	}
	return &ExternalProcessorServer{
		kernel:          k,
		requestIDHeader: requestIDHeader,
		tracer:          tracer,
	}
}

// streamState is the exchange carried across the messages of one stream.
// One stream is one HTTP request.
type streamState struct {
	reactor  *Reactor
	exchange *Exchange

	// headers as received from Envoy, to compute the mutation sent back
	snapshot http.Header
}

// errCancelled ends a stream whose exchange was cancelled, without a reply
var errCancelled = status.Error(grpccodes.Canceled, "exchange cancelled")

// Process implements the bidirectional streaming RPC handler
func (s *ExternalProcessorServer) Process(stream extprocv3.ExternalProcessor_ProcessServer) error {
	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	traceCtx := tracing.ExtractTraceContext(stream.Context())
	ctx, span := s.tracer.Start(traceCtx, constants.SpanExternalProcessingProcess,
		trace.WithSpanKind(trace.SpanKindServer),
	)
	defer span.End()

	var state *streamState

	for {
		req, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			// Envoy closes the stream with a cancellation once the request is done
			if errors.Is(err, context.Canceled) || status.Code(err) == grpccodes.Canceled {
				slog.DebugContext(ctx, "Stream closed due to context cancellation")
				return nil
			}
			slog.ErrorContext(ctx, "Error receiving from stream", "error", err)
			metrics.StreamErrorsTotal.WithLabelValues("receive").Inc()
			return status.Errorf(grpccodes.Unknown, "failed to receive request: %v", err)
		}

		resp, err := s.handleProcessingPhase(ctx, req, &state, span)
		if err != nil {
			if errors.Is(err, errCancelled) {
				span.SetStatus(codes.Error, "cancelled")
			}
			return err
		}

		if err := stream.Send(resp); err != nil {
			slog.ErrorContext(ctx, "Error sending response", "error", err)
			metrics.StreamErrorsTotal.WithLabelValues("send").Inc()
			return status.Errorf(grpccodes.Unknown, "failed to send response: %v", err)
		}
	}
}

// handleProcessingPhase routes processing to the appropriate phase handler
func (s *ExternalProcessorServer) handleProcessingPhase(ctx context.Context, req *extprocv3.ProcessingRequest, state **streamState, parentSpan trace.Span) (*extprocv3.ProcessingResponse, error) {
	switch req.Request.(type) {
	case *extprocv3.ProcessingRequest_RequestHeaders:
		ctx, span := s.tracer.Start(ctx, constants.SpanProcessRequestHeaders,
			trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()

		execCtx := policy.NewExecutionContext(s.buildRequest(req.GetRequestHeaders()))
		reactor, ok := s.resolveReactor(req, execCtx.Request.Path)
		if !ok {
			slog.DebugContext(ctx, "No API deployed for request, skipping all processing",
				"path", execCtx.Request.Path)
			return skipAllProcessing(), nil
		}
		if parentSpan.IsRecording() {
			parentSpan.SetAttributes(
				attribute.String(constants.AttrAPIID, reactor.API().ID),
				attribute.String(constants.AttrAPIContext, reactor.API().ContextPath),
			)
		}

		st := &streamState{
			reactor:  reactor,
			exchange: reactor.NewExchange(execCtx),
			snapshot: execCtx.Request.Headers.Clone(),
		}
		*state = st

		outcome := reactor.HandleRequest(ctx, st.exchange)
		switch outcome {
		case OutcomeContinue:
			return requestHeadersResponse(headerMutation(st.snapshot, execCtx.Request.Headers)), nil
		case OutcomeCompleted:
			// Envoy skips the response path of a local reply, so run it here
			if o := reactor.HandleResponse(ctx, st.exchange); o != OutcomeContinue {
				outcome = o
			}
		}
		return s.finish(ctx, st, outcome, span)

	case *extprocv3.ProcessingRequest_ResponseHeaders:
		ctx, span := s.tracer.Start(ctx, constants.SpanProcessResponseHeaders,
			trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()

		st := *state
		if st == nil {
			slog.WarnContext(ctx, "Response headers received without execution context")
			return &extprocv3.ProcessingResponse{
				Response: &extprocv3.ProcessingResponse_ResponseHeaders{
					ResponseHeaders: &extprocv3.HeadersResponse{},
				},
			}, nil
		}

		execCtx := st.exchange.ExecCtx
		execCtx.Response = buildResponse(req.GetResponseHeaders())
		st.snapshot = execCtx.Response.Headers.Clone()

		outcome := st.reactor.HandleResponse(ctx, st.exchange)
		if outcome == OutcomeContinue {
			st.reactor.Observe(st.exchange, outcome)
			return responseHeadersResponse(headerMutation(st.snapshot, execCtx.Response.Headers)), nil
		}
		return s.finish(ctx, st, outcome, span)

	case *extprocv3.ProcessingRequest_RequestBody:
		return &extprocv3.ProcessingResponse{
			Response: &extprocv3.ProcessingResponse_RequestBody{
				RequestBody: &extprocv3.BodyResponse{},
			},
		}, nil

	case *extprocv3.ProcessingRequest_ResponseBody:
		return &extprocv3.ProcessingResponse{
			Response: &extprocv3.ProcessingResponse_ResponseBody{
				ResponseBody: &extprocv3.BodyResponse{},
			},
		}, nil

	default:
		slog.WarnContext(ctx, "Unknown request type", "type", fmt.Sprintf("%T", req.Request))
		metrics.StreamErrorsTotal.WithLabelValues("unknown_type").Inc()
		return &extprocv3.ProcessingResponse{
			Response: &extprocv3.ProcessingResponse_ImmediateResponse{
				ImmediateResponse: &extprocv3.ImmediateResponse{
					Status: &typev3.HttpStatus{Code: typev3.StatusCode_InternalServerError},
				},
			},
		}, nil
	}
}

// finish ends an exchange that will not continue through Envoy
func (s *ExternalProcessorServer) finish(ctx context.Context, st *streamState, outcome Outcome, span trace.Span) (*extprocv3.ProcessingResponse, error) {
	st.reactor.Observe(st.exchange, outcome)
	if outcome == OutcomeCancelled {
		return nil, errCancelled
	}

	resp := st.exchange.ExecCtx.Response
	if outcome == OutcomeFailed && span.IsRecording() {
		span.SetStatus(codes.Error, strconv.Itoa(resp.Status))
		span.SetAttributes(attribute.Int(constants.AttrFailureStatus, resp.Status))
	}
	slog.DebugContext(ctx, "Exchange completed by the engine",
		"api_id", st.reactor.API().ID, "outcome", outcome, "status", resp.Status)
	return immediateResponse(resp), nil
}

// resolveReactor finds the API from the route metadata set by the control plane,
// falling back to a context path lookup
func (s *ExternalProcessorServer) resolveReactor(req *extprocv3.ProcessingRequest, path string) (*Reactor, bool) {
	if apiID := routeAPIID(req); apiID != "" {
		if r, ok := s.kernel.Get(apiID); ok {
			return r, true
		}
	}
	return s.kernel.Lookup(path)
}

// routeAPIID extracts the api id from the xds route metadata attribute
func routeAPIID(req *extprocv3.ProcessingRequest) string {
	if req.Attributes == nil {
		return ""
	}
	attrs, ok := req.Attributes[constants.ExtProcFilter]
	if !ok || attrs.Fields == nil {
		return ""
	}
	value, ok := attrs.Fields["xds.route_metadata"]
	if !ok || value.GetStringValue() == "" {
		return ""
	}

	var md corev3.Metadata
	if err := prototext.Unmarshal([]byte(value.GetStringValue()), &md); err != nil {
		slog.Warn("Failed to unmarshal route metadata", "error", err)
		return ""
	}
	route, ok := md.FilterMetadata[routeFilterMetadata]
	if !ok || route.Fields == nil {
		return ""
	}
	if id, ok := route.Fields["api_id"]; ok {
		return id.GetStringValue()
	}
	return ""
}

// buildRequest maps Envoy request headers onto the engine request.
// Pseudo-headers become the request line; the rest are kept as headers.
func (s *ExternalProcessorServer) buildRequest(headers *extprocv3.HttpHeaders) *policy.Request {
	req := &policy.Request{Headers: make(http.Header)}
	for _, h := range headers.GetHeaders().GetHeaders() {
		value := headerValue(h)
		switch h.Key {
		case ":path":
			req.Path = value
		case ":method":
			req.Method = value
		case ":authority":
			req.Host = value
		case ":scheme":
			req.Scheme = value
		default:
			if !strings.HasPrefix(h.Key, ":") {
				req.Headers.Add(h.Key, value)
			}
		}
	}

	req.ID = req.Headers.Get(s.requestIDHeader)
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	return req
}

func buildResponse(headers *extprocv3.HttpHeaders) *policy.Response {
	resp := &policy.Response{Status: http.StatusOK, Headers: make(http.Header)}
	for _, h := range headers.GetHeaders().GetHeaders() {
		value := headerValue(h)
		if h.Key == ":status" {
			if code, err := strconv.Atoi(value); err == nil {
				resp.Status = code
			}
			continue
		}
		if !strings.HasPrefix(h.Key, ":") {
			resp.Headers.Add(h.Key, value)
		}
	}
	resp.Reason = http.StatusText(resp.Status)
	return resp
}

func headerValue(h *corev3.HeaderValue) string {
	if len(h.RawValue) > 0 {
		return string(h.RawValue)
	}
	return h.Value
}

// headerMutation returns the changes turning before into after
func headerMutation(before, after http.Header) *extprocv3.HeaderMutation {
	mutation := &extprocv3.HeaderMutation{}

	names := make([]string, 0, len(after))
	for name := range after {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		values := after[name]
		if slices.Equal(before[name], values) {
			continue
		}
		mutation.SetHeaders = append(mutation.SetHeaders, &corev3.HeaderValueOption{
			Header: &corev3.HeaderValue{
				Key:      strings.ToLower(name),
				RawValue: []byte(strings.Join(values, ",")),
			},
			AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
		})
	}

	for name := range before {
		if _, ok := after[name]; !ok {
			mutation.RemoveHeaders = append(mutation.RemoveHeaders, strings.ToLower(name))
		}
	}
	sort.Strings(mutation.RemoveHeaders)
	return mutation
}

func requestHeadersResponse(mutation *extprocv3.HeaderMutation) *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{HeaderMutation: mutation},
			},
		},
	}
}

func responseHeadersResponse(mutation *extprocv3.HeaderMutation) *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ResponseHeaders{
			ResponseHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{HeaderMutation: mutation},
			},
		},
	}
}

// immediateResponse turns the engine response into an Envoy local reply.
// Envoy owns the downstream connection, so connection-scoped headers are dropped.
func immediateResponse(resp *policy.Response) *extprocv3.ProcessingResponse {
	headers := resp.Headers.Clone()
	removeHopHeaders(headers)
	headers.Del("Content-Length")

	mutation := &extprocv3.HeaderMutation{}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		mutation.SetHeaders = append(mutation.SetHeaders, &corev3.HeaderValueOption{
			Header: &corev3.HeaderValue{
				Key:      strings.ToLower(name),
				RawValue: []byte(strings.Join(headers[name], ",")),
			},
			AppendAction: corev3.HeaderValueOption_OVERWRITE_IF_EXISTS_OR_ADD,
		})
	}

	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &extprocv3.ImmediateResponse{
				Status:  &typev3.HttpStatus{Code: typev3.StatusCode(resp.Status)},
				Headers: mutation,
				Body:    resp.Body,
			},
		},
	}
}

// skipAllProcessing lets Envoy bypass the engine for the rest of the stream
func skipAllProcessing() *extprocv3.ProcessingResponse {
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{},
		},
		ModeOverride: &extprocconfigv3.ProcessingMode{
			ResponseHeaderMode:  extprocconfigv3.ProcessingMode_SKIP,
			RequestTrailerMode:  extprocconfigv3.ProcessingMode_SKIP,
			ResponseTrailerMode: extprocconfigv3.ProcessingMode_SKIP,
			RequestBodyMode:     extprocconfigv3.ProcessingMode_NONE,
			ResponseBodyMode:    extprocconfigv3.ProcessingMode_NONE,
		},
	}
}
