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

const SetHeaderName = "set-header"

// HeaderEntry is a single header to set
type HeaderEntry struct {
	Name  string `mapstructure:"name"`
	Value string `mapstructure:"value"`
}

// SetHeaderConfig is the configuration of the set-header policy
type SetHeaderConfig struct {
	// Headers are set in order, replacing existing values
	Headers []HeaderEntry `mapstructure:"headers"`

	// Remove lists headers deleted before Headers are applied
	Remove []string `mapstructure:"remove"`
}

// SetHeaderPolicy sets headers on the request in the request phase and on the
// response in the response phase
type SetHeaderPolicy struct {
	config SetHeaderConfig
}

// NewSetHeaderPolicy is the PolicyFactory of set-header
func NewSetHeaderPolicy(_ policy.PolicyMetadata, initParams, params map[string]any) (policy.Policy, error) {
	var cfg SetHeaderConfig
	if err := decode(merge(initParams, params), &cfg); err != nil {
		return nil, fmt.Errorf("invalid set-header configuration: %w", err)
	}
	if len(cfg.Headers) == 0 && len(cfg.Remove) == 0 {
		return nil, fmt.Errorf("invalid set-header configuration: headers or remove is required")
	}
	for i, h := range cfg.Headers {
		if h.Name == "" {
			return nil, fmt.Errorf("invalid set-header configuration: headers[%d].name is required", i)
		}
	}
	return &SetHeaderPolicy{config: cfg}, nil
}

func (p *SetHeaderPolicy) OnRequest(_ context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
	p.apply(execCtx.Request.Headers)
	return policy.Continue{}, nil
}

func (p *SetHeaderPolicy) OnResponse(_ context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
	p.apply(execCtx.Response.Headers)
	return policy.Continue{}, nil
}

func (p *SetHeaderPolicy) apply(headers http.Header) {
	for _, name := range p.config.Remove {
		headers.Del(name)
	}
	for _, h := range p.config.Headers {
		headers.Set(h.Name, h.Value)
	}
}
