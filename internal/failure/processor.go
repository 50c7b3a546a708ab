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

package failure

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

const (
	// DefaultAnonymousApplicationID is reported for requests without an identified application
	DefaultAnonymousApplicationID = "1"

	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// body is the JSON rendering of an ExecutionFailure
type body struct {
	Message        string `json:"message"`
	HTTPStatusCode int    `json:"http_status_code"`
	Key            string `json:"key,omitempty"`
}

// marshal is swapped in tests to exercise the text fallback
var marshal = json.Marshal

// Processor renders the failure recorded on an execution context into the response
type Processor struct {
	anonymousApplicationID string
	logger                 *slog.Logger
}

// NewProcessor creates a failure processor. An empty anonymousApplicationID
// falls back to DefaultAnonymousApplicationID.
func NewProcessor(anonymousApplicationID string, logger *slog.Logger) *Processor {
	if anonymousApplicationID == "" {
		anonymousApplicationID = DefaultAnonymousApplicationID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		anonymousApplicationID: anonymousApplicationID,
		logger:                 logger,
	}
}

// Execute consumes the failure recorded on the context and writes the error response.
// Without a recorded failure a 500 is written. Execute always leaves a complete response.
func (p *Processor) Execute(ctx context.Context, execCtx *policy.ExecutionContext) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicRecoveriesTotal.WithLabelValues(constants.ComponentFailure).Inc()
			p.logger.ErrorContext(ctx, "Failure processor panicked, writing fallback response", "panic", r)
			fallback(execCtx)
		}
	}()

	failure := execCtx.ConsumeFailure()
	if failure == nil {
		failure = policy.NewExecutionFailure(http.StatusInternalServerError).
			WithMessage(http.StatusText(http.StatusInternalServerError))
	}

	status := failure.StatusCode
	if status < 100 || status > 599 {
		status = http.StatusInternalServerError
	}

	if execCtx.Metrics.ApplicationID == "" {
		execCtx.Metrics.ApplicationID = p.anonymousApplicationID
	}
	execCtx.Metrics.ErrorKey = failure.Key

	resp := execCtx.Response
	if resp == nil {
		resp = &policy.Response{}
		execCtx.Response = resp
	}
	if resp.Headers == nil {
		resp.Headers = make(http.Header)
	}

	resp.Status = status
	resp.Reason = http.StatusText(status)
	resp.Body = nil
	resp.Headers.Del("Content-Encoding")
	resp.Headers.Del("Transfer-Encoding")
	resp.Headers.Del("Content-Type")
	resp.Headers.Del("Content-Length")

	if status < 400 || status >= 500 {
		resp.Headers.Set("Connection", "close")
	}

	contentType := ""
	if failure.Message != "" {
		var payload []byte
		payload, contentType = p.render(ctx, failure, status, execCtx.Request)
		resp.Body = payload
		resp.Headers.Set("Content-Type", contentType)
		resp.Headers.Set("Content-Length", strconv.Itoa(len(payload)))
	}

	metrics.FailureResponsesTotal.WithLabelValues(strconv.Itoa(status), contentType).Inc()
	p.logger.DebugContext(ctx, "Failure response written",
		"status", status, "key", failure.Key, "content_type", contentType)
}

// render negotiates the body format from the request Accept header
func (p *Processor) render(ctx context.Context, failure *policy.ExecutionFailure, status int, req *policy.Request) ([]byte, string) {
	if !acceptsJSON(req) {
		return []byte(failure.Message), ContentTypeText
	}
	if isJSON(failure.ContentType) {
		return []byte(failure.Message), ContentTypeJSON
	}
	payload, err := marshal(body{
		Message:        failure.Message,
		HTTPStatusCode: status,
		Key:            failure.Key,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "Failed to encode failure as JSON, sending plain text", "error", err)
		return []byte(failure.Message), ContentTypeText
	}
	return payload, ContentTypeJSON
}

// acceptsJSON reports whether the Accept header asks for JSON or anything
func acceptsJSON(req *policy.Request) bool {
	if req == nil || req.Headers == nil {
		return false
	}
	accept := strings.ToLower(strings.Join(req.Headers.Values("Accept"), ","))
	return strings.Contains(accept, ContentTypeJSON) || strings.Contains(accept, "*/*")
}

// isJSON reports whether a content type denotes JSON (application/json or any +json type)
func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == ContentTypeJSON || strings.HasSuffix(mediaType, "+json")
}

// fallback writes a bare 500 when rendering itself failed
func fallback(execCtx *policy.ExecutionContext) {
	text := http.StatusText(http.StatusInternalServerError)
	execCtx.Response = &policy.Response{
		Status:  http.StatusInternalServerError,
		Reason:  text,
		Headers: make(http.Header),
		Body:    []byte(text),
	}
	execCtx.Response.Headers.Set("Connection", "close")
	execCtx.Response.Headers.Set("Content-Type", ContentTypeText)
	execCtx.Response.Headers.Set("Content-Length", strconv.Itoa(len(text)))
}
