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

package policyv1alpha

import "context"

// PolicyMetadata is passed to the PolicyFactory to build a policy instance for one step
type PolicyMetadata struct {
	// ID of the policy implementation (e.g., "set-header")
	ID string

	// Raw step configuration (JSON). May be empty.
	Configuration string

	// Optional guard expression evaluated before each execution
	Condition string

	// Engine-supplied tags such as the execution mode
	Metadata map[string]string
}

// Get returns a metadata tag, or "" if absent
func (m PolicyMetadata) Get(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

// Policy is the base interface that all policies must implement
type Policy interface {
	// OnRequest executes the policy during the request phase.
	// Returns nil (or Continue) to pass control to the next policy.
	// A returned error is an unexpected failure and is rendered as a 500.
	OnRequest(ctx context.Context, execCtx *ExecutionContext) (Action, error)

	// OnResponse executes the policy during the response phase
	OnResponse(ctx context.Context, execCtx *ExecutionContext) (Action, error)
}

// PolicyFactory is the function signature for creating policy instances.
//
// Parameters:
//   - metadata: step-level metadata (id, raw configuration, condition, tags)
//   - initParams: static configuration from the policy definition
//   - params: parsed step configuration with $config references resolved
//
// A factory should do all parsing and validation here so that execution is cheap.
type PolicyFactory func(metadata PolicyMetadata, initParams map[string]any, params map[string]any) (Policy, error)

// PolicyDefinition describes a registered policy implementation
type PolicyDefinition struct {
	// Policy id referenced by steps and rules (e.g., "api-key")
	Name string `yaml:"name" json:"name"`

	// Semantic version of the implementation
	Version string `yaml:"version" json:"version"`

	Description string `yaml:"description" json:"description"`

	// Static parameters handed to every instance as initParams
	SystemParameters map[string]any `yaml:"systemParameters,omitempty" json:"systemParameters,omitempty"`
}
