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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/tracing"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// ErrNoUpstream is returned when an exchange reaches an API without an upstream
var ErrNoUpstream = errors.New("no upstream configured")

// hopHeaders are connection-scoped and never forwarded
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Handler serves deployed APIs as a standalone reverse proxy
type Handler struct {
	kernel          *Kernel
	invoker         Invoker
	requestIDHeader string
	tracer          trace.Tracer
}

// NewHandler creates the traffic handler. Request ids are read from requestIDHeader
// and generated when absent.
func NewHandler(k *Kernel, invoker Invoker, requestIDHeader string, tracer trace.Tracer) *Handler {
	if requestIDHeader == "" {
		requestIDHeader = "X-Request-Id"
	}
	return &Handler{
		kernel:          k,
		invoker:         invoker,
		requestIDHeader: requestIDHeader,
		tracer:          tracer,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ctx := tracing.ExtractHTTPTraceContext(req.Context(), req.Header)
	ctx, span := h.tracer.Start(ctx, constants.SpanHandleRequest, trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		slog.WarnContext(ctx, "Failed to read request body", "error", err)
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	execCtx := policy.NewExecutionContext(h.newRequest(req, body))

	reactor, ok := h.kernel.Lookup(req.URL.Path)
	if !ok {
		execCtx.SetFailure(policy.NewExecutionFailure(http.StatusNotFound).
			WithMessage("No context path matches the request").
			WithKey(KeyNoAPIMatched))
		h.kernel.Failures().Execute(ctx, execCtx)
		writeResponse(w, execCtx.Response)
		return
	}

	if span.IsRecording() {
		span.SetAttributes(
			attribute.String(constants.AttrAPIID, reactor.API().ID),
			attribute.String(constants.AttrAPIContext, reactor.API().ContextPath),
		)
	}

	outcome := reactor.Handle(ctx, execCtx, h.invoker)
	if outcome == OutcomeCancelled {
		span.SetStatus(codes.Error, "cancelled")
		return
	}
	if outcome == OutcomeFailed {
		span.SetStatus(codes.Error, strconv.Itoa(execCtx.Response.Status))
	}
	writeResponse(w, execCtx.Response)
}

func (h *Handler) newRequest(req *http.Request, body []byte) *policy.Request {
	headers := req.Header.Clone()
	id := headers.Get(h.requestIDHeader)
	if id == "" {
		id = uuid.New().String()
		headers.Set(h.requestIDHeader, id)
	}

	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	if proto := headers.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return &policy.Request{
		ID:      id,
		Method:  req.Method,
		Path:    req.URL.RequestURI(),
		Host:    req.Host,
		Scheme:  scheme,
		Headers: headers,
		Body:    body,
	}
}

func writeResponse(w http.ResponseWriter, resp *policy.Response) {
	header := w.Header()
	for k, values := range resp.Headers {
		header[k] = append([]string(nil), values...)
	}
	removeHopHeaders(header, "Connection")
	header.Set("Content-Length", strconv.Itoa(len(resp.Body)))

	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		_, _ = w.Write(resp.Body)
	}
}

// removeHopHeaders strips connection-scoped headers, keeping the listed ones
func removeHopHeaders(header http.Header, keep ...string) {
	for _, name := range hopHeaders {
		kept := false
		for _, k := range keep {
			if strings.EqualFold(k, name) {
				kept = true
				break
			}
		}
		if !kept {
			header.Del(name)
		}
	}
}

// HTTPInvoker forwards exchanges to the API upstream over HTTP
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates an invoker whose calls are bounded by timeout
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	return &HTTPInvoker{client: &http.Client{Timeout: timeout}}
}

// Invoke sends the request to the upstream. The path below the context path and the
// query string are appended to the upstream URL.
func (i *HTTPInvoker) Invoke(ctx context.Context, api *definition.Api, execCtx *policy.ExecutionContext) error {
	if api.Upstream == "" {
		return fmt.Errorf("%w for api %s", ErrNoUpstream, api.ID)
	}

	in := execCtx.Request
	target := strings.TrimSuffix(api.Upstream, "/") + api.RelativePath(in.Path)
	if q := strings.IndexByte(in.Path, '?'); q >= 0 {
		target += in.Path[q:]
	}

	out, err := http.NewRequestWithContext(ctx, in.Method, target, bytes.NewReader(in.Body))
	if err != nil {
		return fmt.Errorf("failed to create upstream request: %w", err)
	}
	out.Header = in.Headers.Clone()
	removeHopHeaders(out.Header)
	out.Header.Set("X-Forwarded-Host", in.Host)
	out.Header.Set("X-Forwarded-Proto", in.Scheme)

	resp, err := i.client.Do(out)
	if err != nil {
		return fmt.Errorf("upstream request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read upstream response: %w", err)
	}

	headers := resp.Header.Clone()
	removeHopHeaders(headers)
	execCtx.Response = &policy.Response{
		Status:  resp.StatusCode,
		Reason:  http.StatusText(resp.StatusCode),
		Headers: headers,
		Body:    body,
	}
	return nil
}
