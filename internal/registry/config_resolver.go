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
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// ConfigResolver substitutes $config(path.to.value) references in step
// configuration with values from the engine configuration
type ConfigResolver struct {
	config map[string]any
}

// NewConfigResolver creates a resolver over the given configuration map
func NewConfigResolver(config map[string]any) *ConfigResolver {
	return &ConfigResolver{config: config}
}

var configRefPattern = regexp.MustCompile(`^\$config\(([^)]+)\)$`)

// ResolveValue resolves a single value. Anything that is not a resolvable
// $config(...) string is returned unchanged.
func (r *ConfigResolver) ResolveValue(value any) any {
	if r == nil || r.config == nil {
		return value
	}

	strValue, ok := value.(string)
	if !ok {
		return value
	}

	matches := configRefPattern.FindStringSubmatch(strValue)
	if matches == nil {
		return value
	}

	path := matches[1]
	resolved, err := r.resolvePath(path)
	if err != nil {
		slog.Warn("Failed to resolve config reference, keeping as-is",
			"reference", strValue,
			"path", path,
			"error", err)
		return value
	}
	return resolved
}

// resolvePath walks a dot-notation path. Keys are matched exactly first, then lower-cased.
func (r *ConfigResolver) resolvePath(path string) (any, error) {
	var current any = r.config

	for i, part := range strings.Split(path, ".") {
		currentMap, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("path segment %d (%s) is not an object in config", i, part)
		}

		value, exists := currentMap[part]
		if !exists {
			value, exists = currentMap[strings.ToLower(part)]
			if !exists {
				return nil, fmt.Errorf("path segment %s not found in config", part)
			}
		}
		current = value
	}
	return current, nil
}

// ResolveMap resolves all $config(...) references in a map recursively
func (r *ConfigResolver) ResolveMap(m map[string]any) map[string]any {
	if r == nil || r.config == nil {
		return m
	}

	result := make(map[string]any, len(m))
	for key, value := range m {
		result[key] = r.resolveRecursive(value)
	}
	return result
}

func (r *ConfigResolver) resolveRecursive(value any) any {
	switch v := value.(type) {
	case string:
		return r.ResolveValue(v)
	case map[string]any:
		return r.ResolveMap(v)
	case []any:
		result := make([]any, len(v))
		for i, item := range v {
			result[i] = r.resolveRecursive(item)
		}
		return result
	default:
		return value
	}
}
