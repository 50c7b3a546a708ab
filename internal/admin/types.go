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
	"time"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/chain"
)

// ConfigDumpResponse is the body of GET /config_dump
type ConfigDumpResponse struct {
	Timestamp      time.Time          `json:"timestamp"`
	PolicyRegistry PolicyRegistryDump `json:"policy_registry"`
	APIs           APIsDump           `json:"apis"`
}

// PolicyRegistryDump lists the registered policies
type PolicyRegistryDump struct {
	TotalPolicies int          `json:"total_policies"`
	Policies      []PolicyInfo `json:"policies"`
}

// PolicyInfo describes one registered policy
type PolicyInfo struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Description string `json:"description,omitempty"`
}

// APIsDump lists the deployed APIs
type APIsDump struct {
	TotalAPIs int       `json:"total_apis"`
	APIs      []APIDump `json:"apis"`
}

// APIDump is the deployed view of one API. Step configurations are left out
// as they may carry credentials.
type APIDump struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Version       string    `json:"version,omitempty"`
	ContextPath   string    `json:"context_path"`
	Upstream      string    `json:"upstream,omitempty"`
	ExecutionMode string    `json:"execution_mode"`
	FlowMode      string    `json:"flow_mode"`
	DeployedAt    time.Time `json:"deployed_at"`

	Security []StepDump            `json:"security,omitempty"`
	Flows    []FlowDump            `json:"flows,omitempty"`
	Paths    map[string][]RuleDump `json:"paths,omitempty"`
	Plans    []PlanDump            `json:"plans,omitempty"`

	ChainCache ChainCacheDump  `json:"chain_cache"`
	RuleCache  *ChainCacheDump `json:"rule_cache,omitempty"`
}

// FlowDump describes a flow and the hash its chains are cached under
type FlowDump struct {
	Name         string     `json:"name"`
	Hash         string     `json:"hash"`
	Enabled      bool       `json:"enabled"`
	Path         string     `json:"path,omitempty"`
	PathOperator string     `json:"path_operator,omitempty"`
	Methods      []string   `json:"methods,omitempty"`
	Condition    string     `json:"condition,omitempty"`
	Request      []StepDump `json:"request,omitempty"`
	Response     []StepDump `json:"response,omitempty"`
}

// StepDump describes a step
type StepDump struct {
	Policy    string `json:"policy"`
	Condition string `json:"condition,omitempty"`
	Enabled   bool   `json:"enabled"`
}

// RuleDump describes a legacy rule
type RuleDump struct {
	Policy  string   `json:"policy"`
	Methods []string `json:"methods,omitempty"`
	Enabled bool     `json:"enabled"`
}

// PlanDump describes a plan
type PlanDump struct {
	ID       string                `json:"id"`
	Name     string                `json:"name,omitempty"`
	Security string                `json:"security,omitempty"`
	Flows    []FlowDump            `json:"flows,omitempty"`
	Paths    map[string][]RuleDump `json:"paths,omitempty"`
}

// ChainCacheDump is the state of a chain cache
type ChainCacheDump struct {
	chain.CacheStats
	Keys []string `json:"keys"`
}
