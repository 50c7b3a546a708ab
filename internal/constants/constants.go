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

package constants

const (
	ExtProcFilter = "envoy.filters.http.ext_proc"

	// Metadata tag set on PolicyMetadata describing the engine running the step
	MetadataExecutionMode = "execution_mode"
	ExecutionModeV4       = "v4"
	ExecutionModeV2       = "v2"

	// Tracing Span Names
	SpanHandleRequest             = "flow_engine.handle_request"
	SpanExternalProcessingProcess = "external_processing.process"
	SpanProcessRequestHeaders     = "external_processing.process_request_headers"
	SpanProcessResponseHeaders    = "external_processing.process_response_headers"
	SpanPolicyFormat              = "policy.%s.%s"

	// Tracing Attributes
	AttrAPIID                     = "api.id"
	AttrAPIContext                = "api.context_path"
	AttrChainID                   = "chain.id"
	AttrPhase                     = "chain.phase"
	AttrPolicyID                  = "policy.id"
	AttrPolicyIndex               = "policy.index"
	AttrPolicySkipped             = "policy.skipped"
	AttrSkipReason                = "skip.reason"
	AttrSkipReasonConditionNotMet = "condition_not_met"
	AttrPolicyShortCircuit        = "policy.short_circuit"
	AttrFailureStatus             = "failure.status_code"
	AttrFailureKey                = "failure.key"

	// Panic recovery components
	ComponentPolicy  = "policy"
	ComponentFactory = "policy_factory"
	ComponentHook    = "hook"
	ComponentFailure = "failure_processor"
	ComponentExtProc = "extproc"
)
