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

// Action is returned by a policy to tell the chain how to proceed (oneof pattern).
// A nil Action is equivalent to Continue.
type Action interface {
	isAction()           // private marker method
	StopExecution() bool // returns true if the chain must not run further policies
}

// Continue - pass control to the next policy
type Continue struct{}

func (Continue) isAction() {}
func (Continue) StopExecution() bool {
	return false
}

// ImmediateResponse - complete the phase successfully with the given response,
// skipping the remaining policies (e.g. a cache hit or a mock)
type ImmediateResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

func (ImmediateResponse) isAction() {}
func (ImmediateResponse) StopExecution() bool {
	return true
}

// Interrupt - stop the chain and fail the request with the given failure
type Interrupt struct {
	Failure *ExecutionFailure
}

func (Interrupt) isAction() {}
func (Interrupt) StopExecution() bool {
	return true
}

// InterruptWith is a shorthand for returning an Interrupt action
func InterruptWith(failure *ExecutionFailure) Action {
	return Interrupt{Failure: failure}
}
