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
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/testutils"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// =============================================================================
// Helper Functions
// =============================================================================

func step(id string) definition.Step {
	return definition.Step{PolicyID: id, Enabled: true}
}

func flow(name, path string, request, response []definition.Step) definition.Flow {
	return definition.Flow{
		Name:     name,
		Enabled:  true,
		Selector: definition.Selector{Path: path},
		Request:  request,
		Response: response,
	}
}

// recorder appends "<name>:req" and "<name>:resp" to events when it runs
func recorder(events *[]string, name string) *testutils.ConfigurableMockPolicy {
	return &testutils.ConfigurableMockPolicy{
		OnReqFn: func(context.Context, *policy.ExecutionContext) (policy.Action, error) {
			*events = append(*events, name+":req")
			return policy.Continue{}, nil
		},
		OnRespFn: func(context.Context, *policy.ExecutionContext) (policy.Action, error) {
			*events = append(*events, name+":resp")
			return policy.Continue{}, nil
		},
	}
}

// authenticator selects the given plan, as an api-key policy would
func authenticator(events *[]string, plan string) *testutils.ConfigurableMockPolicy {
	return &testutils.ConfigurableMockPolicy{
		OnReqFn: func(_ context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
			*events = append(*events, "auth:req")
			execCtx.SetAttribute(policy.AttrPlan, plan)
			execCtx.Metrics.PlanID = plan
			return policy.Continue{}, nil
		},
	}
}

// stubInvoker plays the upstream with a fixed answer
type stubInvoker struct {
	events  *[]string
	status  int
	body    []byte
	err     error
	calls   int
	headers http.Header
}

func (i *stubInvoker) Invoke(_ context.Context, _ *definition.Api, execCtx *policy.ExecutionContext) error {
	i.calls++
	i.headers = execCtx.Request.Headers.Clone()
	if i.events != nil {
		*i.events = append(*i.events, "upstream")
	}
	if i.err != nil {
		return i.err
	}
	status := i.status
	if status == 0 {
		status = http.StatusOK
	}
	execCtx.Response = &policy.Response{
		Status:  status,
		Reason:  http.StatusText(status),
		Headers: http.Header{"Content-Type": []string{"application/json"}},
		Body:    i.body,
	}
	return nil
}

func testAPI(id, contextPath string) *definition.Api {
	return &definition.Api{
		ID:          id,
		Name:        id,
		ContextPath: contextPath,
		Upstream:    "http://upstream.local",
	}
}

// =============================================================================
// Deployment Tests
// =============================================================================

func TestDeploy_GetAndUndeploy(t *testing.T) {
	k := NewKernel(testutils.NewMockInstanceFactory(nil))

	require.NoError(t, k.Deploy(testAPI("orders", "/orders")))

	r, ok := k.Get("orders")
	require.True(t, ok)
	assert.Equal(t, "orders", r.API().ID)
	assert.Equal(t, definition.ExecutionModeV4, r.API().ExecutionMode, "defaults are filled on deploy")
	assert.False(t, r.DeployedAt().IsZero())
	assert.Nil(t, r.RuleCache(), "v4 APIs have no rule cache")

	require.NoError(t, k.Undeploy("orders"))
	_, ok = k.Get("orders")
	assert.False(t, ok)
}

func TestDeploy_Conflicts(t *testing.T) {
	k := NewKernel(testutils.NewMockInstanceFactory(nil))
	require.NoError(t, k.Deploy(testAPI("orders", "/orders")))

	err := k.Deploy(testAPI("orders", "/other"))
	assert.ErrorIs(t, err, ErrAlreadyDeployed)

	err = k.Deploy(testAPI("orders-v2", "/orders"))
	assert.ErrorIs(t, err, ErrAlreadyDeployed)
}

func TestDeploy_InvalidAPI(t *testing.T) {
	k := NewKernel(testutils.NewMockInstanceFactory(nil))

	err := k.Deploy(testAPI("orders", "orders"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must start with '/'")
	assert.Empty(t, k.Reactors())
}

func TestUndeploy_Unknown(t *testing.T) {
	k := NewKernel(testutils.NewMockInstanceFactory(nil))
	assert.ErrorIs(t, k.Undeploy("missing"), ErrAPINotFound)
}

func TestUndeploy_DestroysChainCache(t *testing.T) {
	var events []string
	instances := testutils.NewMockInstanceFactory(map[string]policy.Policy{"a": recorder(&events, "a")})
	k := NewKernel(instances)

	api := testAPI("orders", "/orders")
	api.Flows = []definition.Flow{flow("all", "/", []definition.Step{step("a")}, nil)}
	require.NoError(t, k.Deploy(api))

	r, _ := k.Get("orders")
	r.Handle(context.Background(), testutils.NewTestExecutionContextFor(http.MethodGet, "/orders/1"), &stubInvoker{})
	require.Positive(t, r.Factory().Cache().Len())

	require.NoError(t, k.Undeploy("orders"))
	assert.Zero(t, r.Factory().Cache().Len())
}

func TestLookup_LongestContextPath(t *testing.T) {
	k := NewKernel(testutils.NewMockInstanceFactory(nil))
	require.NoError(t, k.Deploy(testAPI("shop", "/shop")))
	require.NoError(t, k.Deploy(testAPI("shop-orders", "/shop/orders")))

	tests := []struct {
		path   string
		wantID string
		found  bool
	}{
		{"/shop", "shop", true},
		{"/shop/items/1", "shop", true},
		{"/shop/orders", "shop-orders", true},
		{"/shop/orders/7?expand=true", "shop-orders", true},
		{"/shopping", "", false},
		{"/other", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			r, ok := k.Lookup(tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.wantID, r.API().ID)
			}
		})
	}
}

func TestReactors_SortedByID(t *testing.T) {
	k := NewKernel(testutils.NewMockInstanceFactory(nil))
	require.NoError(t, k.Deploy(testAPI("b", "/b")))
	require.NoError(t, k.Deploy(testAPI("a", "/a")))
	require.NoError(t, k.Deploy(testAPI("c", "/c")))

	var ids []string
	for _, r := range k.Reactors() {
		ids = append(ids, r.API().ID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestShutdown_UndeploysAll(t *testing.T) {
	k := NewKernel(testutils.NewMockInstanceFactory(nil))
	require.NoError(t, k.Deploy(testAPI("a", "/a")))
	require.NoError(t, k.Deploy(testAPI("b", "/b")))

	k.Shutdown()

	assert.Empty(t, k.Reactors())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "continue", OutcomeContinue.String())
	assert.Equal(t, "completed", OutcomeCompleted.String())
	assert.Equal(t, "failed", OutcomeFailed.String())
	assert.Equal(t, "cancelled", OutcomeCancelled.String())
	assert.Equal(t, "unknown", Outcome(42).String())
}

func TestIsTimeout(t *testing.T) {
	assert.True(t, isTimeout(context.DeadlineExceeded))
	assert.True(t, isTimeout(errors.Join(errors.New("wrapped"), context.DeadlineExceeded)))
	assert.True(t, isTimeout(timeoutError{}))
	assert.False(t, isTimeout(errors.New("connection refused")))
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }
