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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

func sampleFlow() Flow {
	return Flow{
		Name:    "Pets",
		Enabled: true,
		Selector: Selector{
			Path:    "/pets",
			Methods: []string{"GET", "POST"},
		},
		Request: []Step{
			{PolicyID: "api-key", Enabled: true},
			{PolicyID: "set-header", Configuration: `{"name":"x-a","value":"1"}`, Enabled: true},
		},
		Response: []Step{
			{PolicyID: "set-header", Configuration: `{"name":"x-b","value":"2"}`, Enabled: true},
		},
	}
}

// =============================================================================
// Hash
// =============================================================================

func TestFlowHash_StructurallyEqualFlowsShareHash(t *testing.T) {
	a := sampleFlow()
	b := sampleFlow()

	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, a.HashKey(), b.HashKey())
	assert.Len(t, a.HashKey(), 16)
}

func TestFlowHash_ContentChangesHash(t *testing.T) {
	base := sampleFlow()

	tests := []struct {
		name   string
		mutate func(f *Flow)
	}{
		{"name", func(f *Flow) { f.Name = "other" }},
		{"enabled", func(f *Flow) { f.Enabled = false }},
		{"path", func(f *Flow) { f.Selector.Path = "/cats" }},
		{"methods", func(f *Flow) { f.Selector.Methods = []string{"GET"} }},
		{"condition", func(f *Flow) { f.Selector.Condition = "true" }},
		{"step order", func(f *Flow) { f.Request[0], f.Request[1] = f.Request[1], f.Request[0] }},
		{"step configuration", func(f *Flow) { f.Response[0].Configuration = `{}` }},
		{"step enabled", func(f *Flow) { f.Request[0].Enabled = false }},
		{"step moved between phases", func(f *Flow) {
			f.Response = append(f.Response, f.Request[1])
			f.Request = f.Request[:1]
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := sampleFlow()
			tt.mutate(&f)
			assert.NotEqual(t, base.Hash(), f.Hash())
		})
	}
}

func TestFlowHash_FieldBoundariesAreUnambiguous(t *testing.T) {
	a := Flow{Name: "ab", Selector: Selector{Path: "c"}}
	b := Flow{Name: "a", Selector: Selector{Path: "bc"}}

	assert.NotEqual(t, a.Hash(), b.Hash())
}

// =============================================================================
// NormalizedName / StepsFor
// =============================================================================

func TestFlowNormalizedName(t *testing.T) {
	tests := []struct {
		name     string
		flow     Flow
		expected string
	}{
		{"declared name is lower-cased", Flow{Name: "My Flow"}, "my flow"},
		{"methods and path", Flow{Selector: Selector{Path: "/Pets", Methods: []string{"GET", "POST"}}}, "get-post-/pets"},
		{"no methods means ALL", Flow{Selector: Selector{Path: "/pets"}}, "all-/pets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.flow.NormalizedName())
		})
	}
}

func TestFlowStepsFor(t *testing.T) {
	f := sampleFlow()

	assert.Len(t, f.StepsFor(policy.PhaseRequest), 2)
	assert.Len(t, f.StepsFor(policy.PhaseResponse), 1)
	assert.Empty(t, f.StepsFor(policy.Phase("CONNECT")))
}

// =============================================================================
// Selector
// =============================================================================

func TestSelectorMatchesPath(t *testing.T) {
	tests := []struct {
		name     string
		selector Selector
		path     string
		expected bool
	}{
		{"root prefix matches everything", Selector{Path: "/"}, "/pets/1", true},
		{"empty path matches everything", Selector{}, "/pets", true},
		{"prefix match", Selector{Path: "/pets"}, "/pets/1", true},
		{"prefix does not match partial segment", Selector{Path: "/pets"}, "/petshop", false},
		{"equals exact", Selector{Path: "/pets", PathOperator: PathOperatorEquals}, "/pets/", true},
		{"equals rejects longer path", Selector{Path: "/pets", PathOperator: PathOperatorEquals}, "/pets/1", false},
		{"colon parameter", Selector{Path: "/pets/:id", PathOperator: PathOperatorEquals}, "/pets/42", true},
		{"brace parameter", Selector{Path: "/pets/{id}/toys"}, "/pets/42/toys/1", true},
		{"parameter needs a segment", Selector{Path: "/pets/:id"}, "/pets", false},
		{"query string ignored", Selector{Path: "/pets", PathOperator: PathOperatorEquals}, "/pets?limit=1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.selector.MatchesPath(tt.path))
		})
	}
}

func TestSelectorMatchesMethod(t *testing.T) {
	assert.True(t, (&Selector{}).MatchesMethod("DELETE"))
	assert.True(t, (&Selector{Methods: []string{"get"}}).MatchesMethod("GET"))
	assert.False(t, (&Selector{Methods: []string{"POST"}}).MatchesMethod("GET"))
}

func TestPathSpecificity(t *testing.T) {
	assert.Greater(t, PathSpecificity("/pets/mine"), PathSpecificity("/pets/:id"))
	assert.Greater(t, PathSpecificity("/pets/:id"), PathSpecificity("/pets"))
	assert.Equal(t, 0, PathSpecificity("/"))
}

// =============================================================================
// Parse / Validate
// =============================================================================

const definitionsYAML = `
apis:
  - id: petstore
    name: Petstore
    contextPath: /petstore
    upstream: http://localhost:9090
    flows:
      - name: all
        selector:
          path: /
        request:
          - policy: set-header
            configuration:
              name: x-flow
              value: all
          - policy: api-key
            enabled: false
    plans:
      - id: gold
        flows:
          - selector:
              path: /pets
              methods: [GET]
            request:
              - policy: mock
                configuration: '{"status":200}'
  - id: legacy
    contextPath: /legacy
    executionMode: v2
    planStreams: [ON_REQUEST]
    paths:
      /:
        - methods: [GET]
          policy: api-key
`

func TestParse(t *testing.T) {
	apis, err := Parse([]byte(definitionsYAML))
	require.NoError(t, err)
	require.Len(t, apis, 2)

	petstore := apis[0]
	assert.Equal(t, ExecutionModeV4, petstore.ExecutionMode)
	assert.Equal(t, FlowModeDefault, petstore.FlowMode)
	require.Len(t, petstore.Flows, 1)
	assert.True(t, petstore.Flows[0].Enabled)

	steps := petstore.Flows[0].Request
	require.Len(t, steps, 2)
	assert.True(t, steps[0].Enabled)
	assert.JSONEq(t, `{"name":"x-flow","value":"all"}`, steps[0].Configuration)
	assert.False(t, steps[1].Enabled)

	plan, ok := petstore.Plan("gold")
	require.True(t, ok)
	assert.Equal(t, `{"status":200}`, plan.Flows[0].Request[0].Configuration)

	legacy := apis[1]
	assert.Equal(t, ExecutionModeV2, legacy.ExecutionMode)
	require.Len(t, legacy.Paths["/"], 1)
	assert.True(t, legacy.Paths["/"][0].Enabled)
	assert.Equal(t, []string{"GET"}, legacy.Paths["/"][0].Methods)
	assert.Equal(t, []policy.StreamType{policy.StreamTypeOnRequest}, legacy.PlanStreams)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"missing id", "apis:\n  - contextPath: /a\n"},
		{"missing context path", "apis:\n  - id: a\n"},
		{"relative context path", "apis:\n  - id: a\n    contextPath: a\n"},
		{"duplicate id", "apis:\n  - id: a\n    contextPath: /a\n  - id: a\n    contextPath: /b\n"},
		{"bad execution mode", "apis:\n  - id: a\n    contextPath: /a\n    executionMode: v3\n"},
		{"step without policy", "apis:\n  - id: a\n    contextPath: /a\n    flows:\n      - request:\n          - enabled: true\n"},
		{"plan without id", "apis:\n  - id: a\n    contextPath: /a\n    plans:\n      - name: x\n"},
		{"bad plan stream", "apis:\n  - id: a\n    contextPath: /a\n    planStreams: [ON_CONNECT]\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Context path
// =============================================================================

func TestApiRelativePath(t *testing.T) {
	tests := []struct {
		ctxPath  string
		path     string
		expected string
	}{
		{"/petstore", "/petstore/pets/1", "/pets/1"},
		{"/petstore/", "/petstore/pets", "/pets"},
		{"/petstore", "/petstore", "/"},
		{"/petstore", "/petstore?x=1", "/"},
		{"/", "/pets", "/pets"},
	}
	for _, tt := range tests {
		t.Run(tt.ctxPath+tt.path, func(t *testing.T) {
			api := &Api{ContextPath: tt.ctxPath}
			assert.Equal(t, tt.expected, api.RelativePath(tt.path))
		})
	}
}

func TestApiMatchesContextPath(t *testing.T) {
	api := &Api{ContextPath: "/petstore"}
	assert.True(t, api.MatchesContextPath("/petstore"))
	assert.True(t, api.MatchesContextPath("/petstore/pets"))
	assert.True(t, api.MatchesContextPath("/petstore?a=b"))
	assert.False(t, api.MatchesContextPath("/petstores"))
	assert.False(t, api.MatchesContextPath("/other"))

	root := &Api{ContextPath: "/"}
	assert.True(t, root.MatchesContextPath("/anything"))
}
