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

package admin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestConfigDumpHandler_MethodNotAllowed tests that non-GET methods return 405
func TestConfigDumpHandler_MethodNotAllowed(t *testing.T) {
	handler := NewConfigDumpHandler(nil, nil)

	methods := []string{
		http.MethodPost,
		http.MethodPut,
		http.MethodDelete,
		http.MethodPatch,
	}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/config_dump", nil)
			recorder := httptest.NewRecorder()

			handler.ServeHTTP(recorder, req)

			assert.Equal(t, http.StatusMethodNotAllowed, recorder.Code)
			assert.Contains(t, recorder.Body.String(), "Method not allowed")
		})
	}
}

func TestConfigDumpHandler_Get(t *testing.T) {
	k, reg := newDumpFixture(t)
	handler := NewConfigDumpHandler(k, reg)

	req := httptest.NewRequest(http.MethodGet, "/config_dump", nil)
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "application/json", recorder.Header().Get("Content-Type"))

	var dump ConfigDumpResponse
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &dump))
	assert.Equal(t, 2, dump.PolicyRegistry.TotalPolicies)
	require.Equal(t, 2, dump.APIs.TotalAPIs)
	assert.Equal(t, "legacy", dump.APIs.APIs[0].ID)
	assert.Equal(t, "orders", dump.APIs.APIs[1].ID)
	assert.False(t, dump.Timestamp.IsZero())
}

func TestConfigDumpHandler_RedactsConfiguration(t *testing.T) {
	k, reg := newDumpFixture(t)
	handler := NewConfigDumpHandler(k, reg)

	req := httptest.NewRequest(http.MethodGet, "/config_dump", nil)
	recorder := httptest.NewRecorder()

	handler.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusOK, recorder.Code)
	assert.NotContains(t, recorder.Body.String(), "s3cr3t")
}
