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

import (
	"net/http"
	"sync"
)

// Well-known attribute names shared by policies and the engine
const (
	// AttrPlan holds the subscribed plan id, set by authentication policies
	AttrPlan = "plan"

	// AttrApplication holds the resolved application id, set by authentication policies
	AttrApplication = "application"

	// AttrSubscription holds the subscription id, set by authentication policies
	AttrSubscription = "subscription"

	// internalAttrFailure is the internal slot holding the pending ExecutionFailure
	internalAttrFailure = "executionFailure"
)

// Request is the transport-independent view of the inbound request
type Request struct {
	ID      string
	Method  string
	Path    string
	Host    string
	Scheme  string
	Headers http.Header
	Body    []byte
}

// Response is the transport-independent view of the outbound response
type Response struct {
	Status  int
	Reason  string
	Headers http.Header
	Body    []byte
}

// RequestMetrics carries the identities reported with each request
type RequestMetrics struct {
	APIID          string
	PlanID         string
	ApplicationID  string
	SubscriptionID string
	ErrorKey       string
}

// ExecutionContext holds all per-request state. Policy chains are shared between
// requests, so anything a policy needs to remember for a request lives here.
type ExecutionContext struct {
	Request  *Request
	Response *Response
	Metrics  RequestMetrics

	mu                 sync.RWMutex
	attributes         map[string]any
	internalAttributes map[string]any
}

// NewExecutionContext creates an execution context for the given request
func NewExecutionContext(req *Request) *ExecutionContext {
	if req.Headers == nil {
		req.Headers = make(http.Header)
	}
	return &ExecutionContext{
		Request: req,
		Response: &Response{
			Status:  http.StatusOK,
			Headers: make(http.Header),
		},
		attributes:         make(map[string]any),
		internalAttributes: make(map[string]any),
	}
}

// GetAttribute returns a request attribute
func (c *ExecutionContext) GetAttribute(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.attributes[name]
	return v, ok
}

// GetStringAttribute returns a request attribute as a string, or "" if absent or not a string
func (c *ExecutionContext) GetStringAttribute(name string) string {
	v, ok := c.GetAttribute(name)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// SetAttribute sets a request attribute
func (c *ExecutionContext) SetAttribute(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes[name] = value
}

// RemoveAttribute removes a request attribute
func (c *ExecutionContext) RemoveAttribute(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attributes, name)
}

// Attributes returns a copy of all request attributes
func (c *ExecutionContext) Attributes() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.attributes))
	for k, v := range c.attributes {
		out[k] = v
	}
	return out
}

// GetInternalAttribute returns an engine-internal attribute
func (c *ExecutionContext) GetInternalAttribute(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.internalAttributes[name]
	return v, ok
}

// SetInternalAttribute sets an engine-internal attribute
func (c *ExecutionContext) SetInternalAttribute(name string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.internalAttributes[name] = value
}

// SetFailure records the failure to be rendered by the failure processor
func (c *ExecutionContext) SetFailure(failure *ExecutionFailure) {
	c.SetInternalAttribute(internalAttrFailure, failure)
}

// Failure returns the recorded failure without consuming it
func (c *ExecutionContext) Failure() *ExecutionFailure {
	v, ok := c.GetInternalAttribute(internalAttrFailure)
	if !ok {
		return nil
	}
	f, _ := v.(*ExecutionFailure)
	return f
}

// ConsumeFailure returns the recorded failure and clears the slot
func (c *ExecutionContext) ConsumeFailure() *ExecutionFailure {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.internalAttributes[internalAttrFailure]
	if !ok {
		return nil
	}
	delete(c.internalAttributes, internalAttrFailure)
	f, _ := v.(*ExecutionFailure)
	return f
}
