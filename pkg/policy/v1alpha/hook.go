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

import "context"

// ExecutionInfo identifies the policy a hook is invoked around
type ExecutionInfo struct {
	ChainID  string
	Phase    Phase
	PolicyID string
	Index    int
}

// ExecutionHook observes policy execution. Hooks are observability only:
// errors and panics raised by a hook are logged and never change the chain outcome.
type ExecutionHook interface {
	ID() string

	// Pre is called before the policy runs. The returned context is passed to the policy
	// and to Post; returning nil keeps the incoming context.
	Pre(ctx context.Context, info ExecutionInfo, execCtx *ExecutionContext) (context.Context, error)

	// Post is called after the policy ran. failure is non-nil when the policy failed.
	Post(ctx context.Context, info ExecutionInfo, execCtx *ExecutionContext, failure *ExecutionFailure) error
}
