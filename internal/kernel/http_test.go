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
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/testutils"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// =============================================================================
// Helper Functions
// =============================================================================

type upstreamCall struct {
	mu      sync.Mutex
	path    string
	query   string
	headers http.Header
	body    string
}

func (c *upstreamCall) get() upstreamCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	return upstreamCall{path: c.path, query: c.query, headers: c.headers, body: c.body}
}

// newUpstream starts a backend recording the last call it served
func newUpstream(t *testing.T, delay time.Duration) (*httptest.Server, *upstreamCall) {
	t.Helper()
	call := &upstreamCall{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		call.mu.Lock()
		call.path = r.URL.Path
		call.query = r.URL.RawQuery
		call.headers = r.Header.Clone()
		call.body = string(body)
		call.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Backend", "orders")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	t.Cleanup(srv.Close)
	return srv, call
}

func newTestHandler(t *testing.T, api *definition.Api, policies map[string]policy.Policy, timeout time.Duration) *httptest.Server {
	t.Helper()
	k := NewKernel(testutils.NewMockInstanceFactory(policies))
	if api != nil {
		require.NoError(t, k.Deploy(api))
	}
	h := NewHandler(k, NewHTTPInvoker(timeout), "X-Request-Id", noop.NewTracerProvider().Tracer("test"))
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

// =============================================================================
// Handler Tests
// =============================================================================

func TestHandler_ProxiesThroughChains(t *testing.T) {
	upstream, recorded := newUpstream(t, 0)

	api := testAPI("orders", "/orders")
	api.Upstream = upstream.URL + "/backend"
	api.Flows = []definition.Flow{
		flow("all", "/", []definition.Step{step("tenant")}, []definition.Step{step("served-by")}),
	}
	srv := newTestHandler(t, api, map[string]policy.Policy{
		"tenant":    &testutils.HeaderModifyingPolicy{Key: "X-Tenant", Value: "acme"},
		"served-by": &testutils.HeaderModifyingPolicy{Key: "X-Served-By", Value: "flow-engine"},
	}, time.Second)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/orders/42?expand=items", strings.NewReader(`{"qty":1}`))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, `{"id":42}`, string(body))
	assert.Equal(t, "orders", resp.Header.Get("X-Backend"))
	assert.Equal(t, "flow-engine", resp.Header.Get("X-Served-By"))

	call := recorded.get()
	assert.Equal(t, "/backend/42", call.path)
	assert.Equal(t, "expand=items", call.query)
	assert.Equal(t, `{"qty":1}`, call.body)
	assert.Equal(t, "acme", call.headers.Get("X-Tenant"))
	assert.NotEmpty(t, call.headers.Get("X-Request-Id"), "a request id is generated")
	assert.NotEmpty(t, call.headers.Get("X-Forwarded-Host"))
	assert.Equal(t, "http", call.headers.Get("X-Forwarded-Proto"))
}

func TestHandler_KeepsIncomingRequestID(t *testing.T) {
	upstream, recorded := newUpstream(t, 0)
	api := testAPI("orders", "/orders")
	api.Upstream = upstream.URL
	srv := newTestHandler(t, api, nil, time.Second)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/orders", nil)
	require.NoError(t, err)
	req.Header.Set("X-Request-Id", "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "req-123", recorded.get().headers.Get("X-Request-Id"))
}

func TestHandler_NoMatchingAPI(t *testing.T) {
	srv := newTestHandler(t, nil, nil, time.Second)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/unknown", nil)
	require.NoError(t, err)
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"message":"No context path matches the request","http_status_code":404,"key":"NO_API_MATCHED"}`, string(body))
	assert.False(t, resp.Close, "4xx keeps the connection open")
}

func TestHandler_PolicyFailure(t *testing.T) {
	upstream, recorded := newUpstream(t, 0)
	api := testAPI("orders", "/orders")
	api.Upstream = upstream.URL
	api.Security = []definition.Step{step("deny")}
	srv := newTestHandler(t, api, map[string]policy.Policy{
		"deny": &testutils.FailingPolicy{StatusCode: http.StatusServiceUnavailable, Message: "maintenance"},
	}, time.Second)

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "maintenance", string(body))
	assert.True(t, resp.Close, "5xx closes the connection")
	assert.Empty(t, recorded.get().path, "upstream is not called")
}

func TestHandler_UpstreamTimeout(t *testing.T) {
	upstream, _ := newUpstream(t, 300*time.Millisecond)
	api := testAPI("orders", "/orders")
	api.Upstream = upstream.URL
	srv := newTestHandler(t, api, nil, 50*time.Millisecond)

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusGatewayTimeout, resp.StatusCode)
}

func TestHandler_UpstreamUnreachable(t *testing.T) {
	upstream, _ := newUpstream(t, 0)
	api := testAPI("orders", "/orders")
	api.Upstream = upstream.URL
	upstream.Close()
	srv := newTestHandler(t, api, nil, time.Second)

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestHandler_ShortCircuit(t *testing.T) {
	upstream, recorded := newUpstream(t, 0)
	api := testAPI("orders", "/orders")
	api.Upstream = upstream.URL
	api.Flows = []definition.Flow{flow("mock", "/", []definition.Step{step("mock")}, nil)}
	srv := newTestHandler(t, api, map[string]policy.Policy{
		"mock": &testutils.ShortCircuitingPolicy{StatusCode: http.StatusAccepted, Body: []byte("queued")},
	}, time.Second)

	resp, err := http.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "queued", string(body))
	assert.Empty(t, recorded.get().path)
}

func TestRemoveHopHeaders(t *testing.T) {
	h := http.Header{}
	h.Set("Connection", "close")
	h.Set("Keep-Alive", "timeout=5")
	h.Set("Transfer-Encoding", "chunked")
	h.Set("X-Custom", "1")

	removeHopHeaders(h, "Connection")

	assert.Equal(t, "close", h.Get("Connection"))
	assert.Empty(t, h.Get("Keep-Alive"))
	assert.Empty(t, h.Get("Transfer-Encoding"))
	assert.Equal(t, "1", h.Get("X-Custom"))
}
