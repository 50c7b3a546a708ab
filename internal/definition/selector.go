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
	"slices"
	"strings"
)

// MatchesMethod reports whether the selector accepts the HTTP method.
// A selector without methods accepts every method.
func (s *Selector) MatchesMethod(method string) bool {
	if len(s.Methods) == 0 {
		return true
	}
	return slices.ContainsFunc(s.Methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}

// MatchesPath reports whether the selector accepts the request path.
// The path must already be relative to the API context path.
func (s *Selector) MatchesPath(path string) bool {
	return pathMatches(s.Path, s.PathOperator, path)
}

// pathMatches compares a declared pattern with a request path segment by segment
func pathMatches(pattern string, operator PathOperator, path string) bool {
	patternSegments := splitPath(pattern)
	pathSegments := splitPath(path)

	if len(pathSegments) < len(patternSegments) {
		return false
	}
	if operator == PathOperatorEquals && len(pathSegments) != len(patternSegments) {
		return false
	}
	for i, p := range patternSegments {
		if isPathParam(p) {
			continue
		}
		if p != pathSegments[i] {
			return false
		}
	}
	return true
}

// PathSpecificity returns a score used to pick the best matching path: longer
// patterns win and literal segments win over parameters
func PathSpecificity(pattern string) int {
	score := 0
	for _, seg := range splitPath(pattern) {
		if isPathParam(seg) {
			score += 1
		} else {
			score += 2
		}
	}
	return score
}

// MatchesLegacyPath reports whether a legacy rule path (always a prefix) matches the request path
func MatchesLegacyPath(pattern, path string) bool {
	return pathMatches(pattern, PathOperatorStartsWith, path)
}

func isPathParam(segment string) bool {
	if strings.HasPrefix(segment, ":") && len(segment) > 1 {
		return true
	}
	return len(segment) > 2 && strings.HasPrefix(segment, "{") && strings.HasSuffix(segment, "}")
}

func splitPath(path string) []string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RelativePath strips the API context path from a request path.
// The result always starts with '/'.
func (a *Api) RelativePath(path string) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	ctxPath := strings.TrimSuffix(a.ContextPath, "/")
	rel := strings.TrimPrefix(path, ctxPath)
	if !strings.HasPrefix(rel, "/") {
		rel = "/" + rel
	}
	return rel
}

// MatchesContextPath reports whether the request path falls under the API context path
func (a *Api) MatchesContextPath(path string) bool {
	ctxPath := strings.TrimSuffix(a.ContextPath, "/")
	if ctxPath == "" {
		return true
	}
	if !strings.HasPrefix(path, ctxPath) {
		return false
	}
	rest := path[len(ctxPath):]
	return rest == "" || rest[0] == '/' || rest[0] == '?'
}
