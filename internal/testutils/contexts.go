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

package testutils

import (
	"net/http"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// NewTestRequest creates a Request with default test values.
func NewTestRequest() *policy.Request {
	return &policy.Request{
		ID:     "test-request-id",
		Method: http.MethodGet,
		Path:   "/users/123",
		Host:   "api.example.com",
		Scheme: "https",
		Headers: http.Header{
			"Content-Type": []string{"application/json"},
		},
	}
}

// NewTestExecutionContext creates an ExecutionContext with default test values.
func NewTestExecutionContext() *policy.ExecutionContext {
	return policy.NewExecutionContext(NewTestRequest())
}

// NewTestExecutionContextFor creates an ExecutionContext for the given method and path.
func NewTestExecutionContextFor(method, path string) *policy.ExecutionContext {
	req := NewTestRequest()
	req.Method = method
	req.Path = path
	return policy.NewExecutionContext(req)
}

// NewTestExecutionContextWithHeaders creates an ExecutionContext with custom request headers.
func NewTestExecutionContextWithHeaders(headers map[string]string) *policy.ExecutionContext {
	req := NewTestRequest()
	req.Headers = make(http.Header, len(headers))
	for k, v := range headers {
		req.Headers.Set(k, v)
	}
	return policy.NewExecutionContext(req)
}
