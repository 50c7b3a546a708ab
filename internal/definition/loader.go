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
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the root of an API definitions file
type File struct {
	APIs []Api `yaml:"apis"`
}

// LoadFile reads and validates API definitions from a YAML file
func LoadFile(path string) ([]Api, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read definitions file %s: %w", path, err)
	}
	apis, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse definitions file %s: %w", path, err)
	}
	return apis, nil
}

// Parse decodes and validates API definitions from YAML
func Parse(data []byte) ([]Api, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(file.APIs))
	for i := range file.APIs {
		api := &file.APIs[i]
		if err := api.Validate(); err != nil {
			return nil, fmt.Errorf("api[%d]: %w", i, err)
		}
		if _, dup := seen[api.ID]; dup {
			return nil, fmt.Errorf("api[%d]: duplicate api id %q", i, api.ID)
		}
		seen[api.ID] = struct{}{}
	}
	return file.APIs, nil
}

// Validate checks an API definition and fills defaults
func (a *Api) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("id is required")
	}
	if a.ContextPath == "" {
		return fmt.Errorf("contextPath is required")
	}
	if !strings.HasPrefix(a.ContextPath, "/") {
		return fmt.Errorf("contextPath %q must start with '/'", a.ContextPath)
	}

	switch a.ExecutionMode {
	case "":
		a.ExecutionMode = ExecutionModeV4
	case ExecutionModeV4, ExecutionModeV2:
	default:
		return fmt.Errorf("unsupported executionMode %q", a.ExecutionMode)
	}

	switch a.FlowMode {
	case "":
		a.FlowMode = FlowModeDefault
	case FlowModeDefault, FlowModeBestMatch:
	default:
		return fmt.Errorf("unsupported flowMode %q", a.FlowMode)
	}

	for i, step := range a.Security {
		if step.PolicyID == "" {
			return fmt.Errorf("security[%d]: policy is required", i)
		}
	}
	if err := validateFlows(a.Flows); err != nil {
		return err
	}
	if err := validatePaths(a.Paths); err != nil {
		return err
	}

	for i, stream := range a.PlanStreams {
		if stream.Phase() == "" {
			return fmt.Errorf("planStreams[%d]: unsupported stream type %q", i, stream)
		}
	}

	for i := range a.Plans {
		plan := &a.Plans[i]
		if plan.ID == "" {
			return fmt.Errorf("plan[%d]: id is required", i)
		}
		if err := validateFlows(plan.Flows); err != nil {
			return fmt.Errorf("plan %s: %w", plan.ID, err)
		}
		if err := validatePaths(plan.Paths); err != nil {
			return fmt.Errorf("plan %s: %w", plan.ID, err)
		}
	}
	return nil
}

func validateFlows(flows []Flow) error {
	for i, flow := range flows {
		switch flow.Selector.PathOperator {
		case "", PathOperatorStartsWith, PathOperatorEquals:
		default:
			return fmt.Errorf("flow[%d]: unsupported pathOperator %q", i, flow.Selector.PathOperator)
		}
		for j, step := range flow.Request {
			if step.PolicyID == "" {
				return fmt.Errorf("flow[%d].request[%d]: policy is required", i, j)
			}
		}
		for j, step := range flow.Response {
			if step.PolicyID == "" {
				return fmt.Errorf("flow[%d].response[%d]: policy is required", i, j)
			}
		}
	}
	return nil
}

func validatePaths(paths map[string][]Rule) error {
	for path, rules := range paths {
		for i, rule := range rules {
			if rule.PolicyID == "" {
				return fmt.Errorf("path %s rule[%d]: policy is required", path, i)
			}
		}
	}
	return nil
}
