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

package definition

import (
	"fmt"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// ExecutionMode selects the engine used to run an API's flows
type ExecutionMode string

const (
	// ExecutionModeV4 runs the flow-based engine
	ExecutionModeV4 ExecutionMode = "v4"

	// ExecutionModeV2 runs the legacy rule-based engine
	ExecutionModeV2 ExecutionMode = "v2"
)

// FlowMode selects how API flows are matched against a request
type FlowMode string

const (
	// FlowModeDefault executes every matching flow in declared order
	FlowModeDefault FlowMode = "DEFAULT"

	// FlowModeBestMatch executes only the most specific matching flow
	FlowModeBestMatch FlowMode = "BEST_MATCH"
)

// PathOperator defines how a selector path is compared to the request path
type PathOperator string

const (
	PathOperatorStartsWith PathOperator = "STARTS_WITH"
	PathOperatorEquals     PathOperator = "EQUALS"
)

// Step is a single configured policy reference belonging to a Flow
type Step struct {
	Name        string `yaml:"name" json:"name,omitempty"`
	Description string `yaml:"description" json:"description,omitempty"`

	// PolicyID identifies the policy implementation
	PolicyID string `yaml:"policy" json:"policy"`

	// Configuration is the opaque policy configuration as JSON
	Configuration string `yaml:"configuration" json:"configuration,omitempty"`

	// Condition is an optional CEL guard expression
	Condition string `yaml:"condition" json:"condition,omitempty"`

	Enabled bool `yaml:"enabled" json:"enabled"`
}

// UnmarshalYAML decodes a step, defaulting enabled to true and accepting the
// configuration either as a JSON string or as an inline YAML mapping
func (s *Step) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Name          string    `yaml:"name"`
		Description   string    `yaml:"description"`
		PolicyID      string    `yaml:"policy"`
		Configuration yaml.Node `yaml:"configuration"`
		Condition     string    `yaml:"condition"`
		Enabled       bool      `yaml:"enabled"`
	}
	raw.Enabled = true
	if err := value.Decode(&raw); err != nil {
		return err
	}
	configuration, err := configurationJSON(&raw.Configuration)
	if err != nil {
		return fmt.Errorf("step %q: %w", raw.PolicyID, err)
	}
	*s = Step{
		Name:          raw.Name,
		Description:   raw.Description,
		PolicyID:      raw.PolicyID,
		Configuration: configuration,
		Condition:     raw.Condition,
		Enabled:       raw.Enabled,
	}
	return nil
}

// Selector decides whether a flow applies to a request
type Selector struct {
	// Path pattern. Segments starting with ':' or wrapped in '{}' match any single segment.
	Path string `yaml:"path" json:"path,omitempty"`

	// PathOperator defaults to STARTS_WITH
	PathOperator PathOperator `yaml:"pathOperator" json:"pathOperator,omitempty"`

	// Methods restricts the flow to the given HTTP methods. Empty means all methods.
	Methods []string `yaml:"methods" json:"methods,omitempty"`

	// Condition is an optional CEL expression evaluated against the request
	Condition string `yaml:"condition" json:"condition,omitempty"`
}

// Flow is a named, selector-guarded pair of ordered step lists
type Flow struct {
	ID       string   `yaml:"id" json:"id,omitempty"`
	Name     string   `yaml:"name" json:"name,omitempty"`
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Selector Selector `yaml:"selector" json:"selector"`
	Request  []Step   `yaml:"request" json:"request,omitempty"`
	Response []Step   `yaml:"response" json:"response,omitempty"`
}

// UnmarshalYAML decodes a flow, defaulting enabled to true
func (f *Flow) UnmarshalYAML(value *yaml.Node) error {
	type plain Flow
	raw := plain{Enabled: true}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	*f = Flow(raw)
	return nil
}

// Rule is a legacy path-scoped policy binding
type Rule struct {
	Description   string   `yaml:"description" json:"description,omitempty"`
	Methods       []string `yaml:"methods" json:"methods,omitempty"`
	PolicyID      string   `yaml:"policy" json:"policy"`
	Configuration string   `yaml:"configuration" json:"configuration,omitempty"`
	Enabled       bool     `yaml:"enabled" json:"enabled"`
}

// UnmarshalYAML decodes a rule, defaulting enabled to true
func (r *Rule) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Description   string    `yaml:"description"`
		Methods       []string  `yaml:"methods"`
		PolicyID      string    `yaml:"policy"`
		Configuration yaml.Node `yaml:"configuration"`
		Enabled       bool      `yaml:"enabled"`
	}
	raw.Enabled = true
	if err := value.Decode(&raw); err != nil {
		return err
	}
	configuration, err := configurationJSON(&raw.Configuration)
	if err != nil {
		return fmt.Errorf("rule %q: %w", raw.PolicyID, err)
	}
	*r = Rule{
		Description:   raw.Description,
		Methods:       raw.Methods,
		PolicyID:      raw.PolicyID,
		Configuration: configuration,
		Enabled:       raw.Enabled,
	}
	return nil
}

// Plan groups the flows and rules applied to subscribers of the plan
type Plan struct {
	ID       string            `yaml:"id" json:"id"`
	Name     string            `yaml:"name" json:"name,omitempty"`
	Security string            `yaml:"security" json:"security,omitempty"`
	Flows    []Flow            `yaml:"flows" json:"flows,omitempty"`
	Paths    map[string][]Rule `yaml:"paths" json:"paths,omitempty"`
}

// Api is an immutable deployed API definition
type Api struct {
	ID            string        `yaml:"id" json:"id"`
	Name          string        `yaml:"name" json:"name"`
	Version       string        `yaml:"version" json:"version,omitempty"`
	ContextPath   string        `yaml:"contextPath" json:"contextPath"`
	Upstream      string        `yaml:"upstream" json:"upstream,omitempty"`
	ExecutionMode ExecutionMode `yaml:"executionMode" json:"executionMode"`
	FlowMode      FlowMode      `yaml:"flowMode" json:"flowMode,omitempty"`

	// Security steps run before any flow or rule. They authenticate the caller
	// and select the subscribed plan.
	Security []Step `yaml:"security" json:"security,omitempty"`

	Flows []Flow            `yaml:"flows" json:"flows,omitempty"`
	Paths map[string][]Rule `yaml:"paths" json:"paths,omitempty"`
	Plans []Plan            `yaml:"plans" json:"plans,omitempty"`

	// PlanStreams limits legacy plan rules to the given stream types. Empty means both.
	PlanStreams []policy.StreamType `yaml:"planStreams" json:"planStreams,omitempty"`
}

// SecurityFlow returns the security steps as a request-only flow so that they are
// built and cached like any other flow
func (a *Api) SecurityFlow() *Flow {
	return &Flow{
		Name:     "security",
		Enabled:  true,
		Selector: Selector{Path: "/"},
		Request:  a.Security,
	}
}

// Plan returns the plan with the given id
func (a *Api) Plan(id string) (*Plan, bool) {
	for i := range a.Plans {
		if a.Plans[i].ID == id {
			return &a.Plans[i], true
		}
	}
	return nil, false
}

// configurationJSON turns a configuration node into its JSON string form
func configurationJSON(node *yaml.Node) (string, error) {
	switch node.Kind {
	case 0:
		return "", nil
	case yaml.ScalarNode:
		return node.Value, nil
	default:
		var v any
		if err := node.Decode(&v); err != nil {
			return "", fmt.Errorf("invalid configuration: %w", err)
		}
		b, err := json.Marshal(v)
		if err != nil {
			return "", fmt.Errorf("failed to encode configuration: %w", err)
		}
		return string(b), nil
	}
}
