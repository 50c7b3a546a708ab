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

import "strings"

// Phase identifies which side of the proxy cycle a policy chain applies to
type Phase string

const (
	// PhaseRequest - policies applied before the request reaches the upstream
	PhaseRequest Phase = "REQUEST"

	// PhaseResponse - policies applied to the response returned by the upstream
	PhaseResponse Phase = "RESPONSE"
)

// String returns the phase name
func (p Phase) String() string {
	return string(p)
}

// Lower returns the lower-cased phase name, used in span names and metric labels
func (p Phase) Lower() string {
	return strings.ToLower(string(p))
}

// StreamType identifies the stream a legacy rule-based chain is resolved for
type StreamType string

const (
	StreamTypeOnRequest  StreamType = "ON_REQUEST"
	StreamTypeOnResponse StreamType = "ON_RESPONSE"
)

// Phase maps the legacy stream type onto the execution phase.
// Unknown stream types map to an empty phase, which resolves to no policies.
func (s StreamType) Phase() Phase {
	switch s {
	case StreamTypeOnRequest:
		return PhaseRequest
	case StreamTypeOnResponse:
		return PhaseResponse
	default:
		return ""
	}
}
