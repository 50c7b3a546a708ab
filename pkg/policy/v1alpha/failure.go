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

// ExecutionFailure describes why a request path halted.
// It is attached to the ExecutionContext and consumed once by the failure processor.
type ExecutionFailure struct {
	// HTTP status code returned to the caller
	StatusCode int

	// Optional message. Empty means no body is written.
	Message string

	// Optional content type of Message. When it indicates JSON the message is sent verbatim.
	ContentType string

	// Optional machine-readable error key (e.g. "API_KEY_MISSING"), used as a metric label
	Key string

	// Optional debug context (e.g. the causing error)
	Parameters map[string]any
}

// NewExecutionFailure creates a failure with the given status code
func NewExecutionFailure(statusCode int) *ExecutionFailure {
	return &ExecutionFailure{StatusCode: statusCode}
}

// WithMessage sets the failure message
func (f *ExecutionFailure) WithMessage(message string) *ExecutionFailure {
	f.Message = message
	return f
}

// WithContentType sets the content type of the failure message
func (f *ExecutionFailure) WithContentType(contentType string) *ExecutionFailure {
	f.ContentType = contentType
	return f
}

// WithKey sets the failure key
func (f *ExecutionFailure) WithKey(key string) *ExecutionFailure {
	f.Key = key
	return f
}

// WithParameter adds a debug parameter to the failure
func (f *ExecutionFailure) WithParameter(name string, value any) *ExecutionFailure {
	if f.Parameters == nil {
		f.Parameters = make(map[string]any)
	}
	f.Parameters[name] = value
	return f
}

// IsClientError reports whether the failure carries a 4xx status code
func (f *ExecutionFailure) IsClientError() bool {
	return f.StatusCode >= 400 && f.StatusCode < 500
}
