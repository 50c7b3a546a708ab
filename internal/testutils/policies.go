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

package testutils

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// =============================================================================
// NoopPolicy - A policy that does nothing
// =============================================================================

// NoopPolicy is a policy implementation that does nothing.
// Useful for testing policy chains without side effects.
type NoopPolicy struct{}

// OnRequest returns nil (no action).
func (p *NoopPolicy) OnRequest(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return nil, nil
}

// OnResponse returns nil (no action).
func (p *NoopPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return nil, nil
}

// =============================================================================
// CountingPolicy - A policy that counts its executions
// =============================================================================

// CountingPolicy counts executions and optionally returns a fixed action.
type CountingPolicy struct {
	Name   string
	Action policy.Action

	requests  atomic.Int64
	responses atomic.Int64
}

// OnRequest increments the request counter and returns the configured action.
func (p *CountingPolicy) OnRequest(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	p.requests.Add(1)
	return p.Action, nil
}

// OnResponse increments the response counter and returns the configured action.
func (p *CountingPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	p.responses.Add(1)
	return p.Action, nil
}

// Requests returns the number of OnRequest calls.
func (p *CountingPolicy) Requests() int64 { return p.requests.Load() }

// Responses returns the number of OnResponse calls.
func (p *CountingPolicy) Responses() int64 { return p.responses.Load() }

// Calls returns the total number of calls.
func (p *CountingPolicy) Calls() int64 { return p.requests.Load() + p.responses.Load() }

// =============================================================================
// FailingPolicy - A policy that interrupts with a failure
// =============================================================================

// FailingPolicy interrupts the chain with the configured failure.
type FailingPolicy struct {
	StatusCode int
	Message    string
	Key        string
}

func (p *FailingPolicy) failure() policy.Action {
	return policy.InterruptWith(policy.NewExecutionFailure(p.StatusCode).
		WithMessage(p.Message).
		WithKey(p.Key))
}

// OnRequest interrupts the chain.
func (p *FailingPolicy) OnRequest(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return p.failure(), nil
}

// OnResponse interrupts the chain.
func (p *FailingPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return p.failure(), nil
}

// =============================================================================
// ErroringPolicy / PanickingPolicy - Unexpected failures
// =============================================================================

// ErrPolicyBroken is returned by ErroringPolicy.
var ErrPolicyBroken = errors.New("policy broken")

// ErroringPolicy returns an error from both phases.
type ErroringPolicy struct{}

func (p *ErroringPolicy) OnRequest(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return nil, ErrPolicyBroken
}

func (p *ErroringPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return nil, ErrPolicyBroken
}

// PanickingPolicy panics in both phases.
type PanickingPolicy struct{}

func (p *PanickingPolicy) OnRequest(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	panic("boom")
}

func (p *PanickingPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	panic("boom")
}

// =============================================================================
// HeaderModifyingPolicy - A policy that modifies headers
// =============================================================================

// HeaderModifyingPolicy sets a header on the request during OnRequest and on
// the response during OnResponse.
type HeaderModifyingPolicy struct {
	Key   string
	Value string
}

// OnRequest sets the configured request header.
func (p *HeaderModifyingPolicy) OnRequest(_ context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
	execCtx.Request.Headers.Set(p.Key, p.Value)
	return policy.Continue{}, nil
}

// OnResponse sets the configured response header.
func (p *HeaderModifyingPolicy) OnResponse(_ context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
	execCtx.Response.Headers.Set(p.Key, p.Value)
	return policy.Continue{}, nil
}

// =============================================================================
// ShortCircuitingPolicy - A policy that returns an immediate response
// =============================================================================

// ShortCircuitingPolicy is a policy that short-circuits with an immediate response.
type ShortCircuitingPolicy struct {
	StatusCode int
	Body       []byte
}

// OnRequest returns an ImmediateResponse to short-circuit the request.
func (p *ShortCircuitingPolicy) OnRequest(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return policy.ImmediateResponse{
		StatusCode: p.StatusCode,
		Body:       p.Body,
	}, nil
}

// OnResponse returns nil (no action).
func (p *ShortCircuitingPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return nil, nil
}

// =============================================================================
// ConfigurableMockPolicy - A flexible mock policy with callbacks
// =============================================================================

// ConfigurableMockPolicy is a mock policy with configurable behavior via callbacks.
type ConfigurableMockPolicy struct {
	OnReqFn  func(context.Context, *policy.ExecutionContext) (policy.Action, error)
	OnRespFn func(context.Context, *policy.ExecutionContext) (policy.Action, error)
}

// OnRequest calls the configured callback or returns nil.
func (m *ConfigurableMockPolicy) OnRequest(ctx context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
	if m.OnReqFn != nil {
		return m.OnReqFn(ctx, execCtx)
	}
	return nil, nil
}

// OnResponse calls the configured callback or returns nil.
func (m *ConfigurableMockPolicy) OnResponse(ctx context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
	if m.OnRespFn != nil {
		return m.OnRespFn(ctx, execCtx)
	}
	return nil, nil
}

// =============================================================================
// MockInstanceFactory - PolicyInstanceFactory backed by a map
// =============================================================================

// MockInstanceFactory resolves policy ids to fixed instances.
// Unknown ids resolve to nil; ids listed in Errors fail instantiation and ids
// listed in Panics panic with the given value.
type MockInstanceFactory struct {
	Policies map[string]policy.Policy
	Errors   map[string]error
	Panics   map[string]any

	mu      sync.Mutex
	created []policy.PolicyMetadata
	creates atomic.Int64
}

// NewMockInstanceFactory creates a factory for the given policies.
func NewMockInstanceFactory(policies map[string]policy.Policy) *MockInstanceFactory {
	return &MockInstanceFactory{
		Policies: policies,
		Errors:   map[string]error{},
		Panics:   map[string]any{},
	}
}

// Create returns the registered instance, nil for unknown ids, or the configured error.
func (f *MockInstanceFactory) Create(_ policy.Phase, metadata policy.PolicyMetadata) (policy.Policy, error) {
	f.creates.Add(1)
	f.mu.Lock()
	f.created = append(f.created, metadata)
	f.mu.Unlock()

	if v, ok := f.Panics[metadata.ID]; ok {
		panic(v)
	}
	if err, ok := f.Errors[metadata.ID]; ok {
		return nil, err
	}
	p, ok := f.Policies[metadata.ID]
	if !ok {
		return nil, nil
	}
	return p, nil
}

// CreateCount returns the number of Create calls.
func (f *MockInstanceFactory) CreateCount() int64 {
	return f.creates.Load()
}

// Created returns the metadata of every Create call in order.
func (f *MockInstanceFactory) Created() []policy.PolicyMetadata {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]policy.PolicyMetadata(nil), f.created...)
}

// =============================================================================
// RecordingHook - ExecutionHook that records invocations
// =============================================================================

// RecordingHook records Pre/Post invocations. PreErr/PostErr are returned from
// the respective stage; PanicOn ("pre" or "post") makes that stage panic.
type RecordingHook struct {
	Name    string
	PreErr  error
	PostErr error
	PanicOn string

	// Events is shared between hooks to observe cross-hook ordering
	Events *[]string

	mu       sync.Mutex
	failures []*policy.ExecutionFailure
}

func (h *RecordingHook) ID() string { return h.Name }

func (h *RecordingHook) record(event string) {
	if h.Events == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.Events = append(*h.Events, event)
}

func (h *RecordingHook) Pre(ctx context.Context, info policy.ExecutionInfo, _ *policy.ExecutionContext) (context.Context, error) {
	h.record(h.Name + ":pre:" + info.PolicyID)
	if h.PanicOn == "pre" {
		panic("hook pre panic")
	}
	return ctx, h.PreErr
}

func (h *RecordingHook) Post(_ context.Context, info policy.ExecutionInfo, _ *policy.ExecutionContext, failure *policy.ExecutionFailure) error {
	h.record(h.Name + ":post:" + info.PolicyID)
	h.mu.Lock()
	h.failures = append(h.failures, failure)
	h.mu.Unlock()
	if h.PanicOn == "post" {
		panic("hook post panic")
	}
	return h.PostErr
}

// Failures returns the failures observed by Post in order.
func (h *RecordingHook) Failures() []*policy.ExecutionFailure {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*policy.ExecutionFailure(nil), h.failures...)
}
