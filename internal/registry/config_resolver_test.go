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

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigResolver_ResolveValue(t *testing.T) {
	config := map[string]any{
		"apikey": map[string]any{
			"header": "X-Api-Key",
		},
		"ratelimit": map[string]any{
			"maxrequests": 100,
		},
	}

	resolver := NewConfigResolver(config)

	tests := []struct {
		name     string
		input    any
		expected any
	}{
		{"resolve config reference", "$config(apikey.header)", "X-Api-Key"},
		{"case-insensitive fallback", "$config(RateLimit.MaxRequests)", 100},
		{"non-config string unchanged", "Bearer", "Bearer"},
		{"integer unchanged", 401, 401},
		{"invalid config reference unchanged", "$config(nonexistent.path)", "$config(nonexistent.path)"},
		{"malformed reference unchanged", "$config(incomplete", "$config(incomplete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, resolver.ResolveValue(tt.input))
		})
	}
}

func TestConfigResolver_ResolveNested(t *testing.T) {
	resolver := NewConfigResolver(map[string]any{
		"mock": map[string]any{"status": 418},
	})

	got := resolver.ResolveMap(map[string]any{
		"nested": map[string]any{"status": "$config(mock.status)"},
		"list":   []any{"$config(mock.status)", "plain"},
	})

	assert.Equal(t, 418, got["nested"].(map[string]any)["status"])
	assert.Equal(t, []any{418, "plain"}, got["list"])
}

func TestConfigResolver_NilIsPassThrough(t *testing.T) {
	var resolver *ConfigResolver
	in := map[string]any{"a": "$config(x)"}

	assert.Equal(t, in, resolver.ResolveMap(in))
	assert.Equal(t, "$config(x)", resolver.ResolveValue("$config(x)"))
}
