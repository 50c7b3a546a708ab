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
	"fmt"

	"github.com/go-viper/mapstructure/v2"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/registry"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// Built-in policies registered at startup
var builtins = []struct {
	def     policy.PolicyDefinition
	factory policy.PolicyFactory
}{
	{
		def: policy.PolicyDefinition{
			Name:        SetHeaderName,
			Version:     "v1.0.0",
			Description: "Sets and removes request or response headers",
		},
		factory: NewSetHeaderPolicy,
	},
	{
		def: policy.PolicyDefinition{
			Name:        MockName,
			Version:     "v1.0.0",
			Description: "Completes the phase with a static response",
		},
		factory: NewMockPolicy,
	},
	{
		def: policy.PolicyDefinition{
			Name:        APIKeyName,
			Version:     "v1.0.0",
			Description: "Validates the API key header and identifies the plan and application",
			SystemParameters: map[string]any{
				"header": "X-API-Key",
			},
		},
		factory: NewAPIKeyPolicy,
	},
}

// Register adds the built-in policies to the registry
func Register(reg *registry.PolicyRegistry) error {
	for _, b := range builtins {
		def := b.def
		if err := reg.Register(&def, b.factory); err != nil {
			return fmt.Errorf("failed to register built-in policy %s: %w", def.Name, err)
		}
	}
	return nil
}

// decode maps policy parameters onto a typed configuration struct.
// Unknown keys are rejected so that typos surface at chain build time.
func decode(params map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(params)
}

// merge returns initParams overlaid with params
func merge(initParams, params map[string]any) map[string]any {
	out := make(map[string]any, len(initParams)+len(params))
	for k, v := range initParams {
		out[k] = v
	}
	for k, v := range params {
		out[k] = v
	}
	return out
}
