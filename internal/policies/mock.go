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

package policies

import (
	"context"
	"fmt"
	"net/http"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

const MockName = "mock"

// MockConfig is the configuration of the mock policy
type MockConfig struct {
	Status  int               `mapstructure:"status"`
	Headers map[string]string `mapstructure:"headers"`
	Content string            `mapstructure:"content"`
}

// MockPolicy answers with a static response, skipping the rest of the phase and
// the upstream call when used in the request phase
type MockPolicy struct {
	response policy.ImmediateResponse
}

// NewMockPolicy is the PolicyFactory of mock
func NewMockPolicy(_ policy.PolicyMetadata, initParams, params map[string]any) (policy.Policy, error) {
	cfg := MockConfig{Status: http.StatusOK}
	if err := decode(merge(initParams, params), &cfg); err != nil {
		return nil, fmt.Errorf("invalid mock configuration: %w", err)
	}
	if cfg.Status < 100 || cfg.Status > 599 {
		return nil, fmt.Errorf("invalid mock configuration: status %d out of range", cfg.Status)
	}
	return &MockPolicy{response: policy.ImmediateResponse{
		StatusCode: cfg.Status,
		Headers:    cfg.Headers,
		Body:       []byte(cfg.Content),
	}}, nil
}

func (p *MockPolicy) OnRequest(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return p.response, nil
}

func (p *MockPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return p.response, nil
}
