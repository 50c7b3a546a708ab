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

package chain

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// State is the execution state of a chain run
type State int

const (
	StatePending State = iota
	StateRunning
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ConditionEvaluator evaluates step guard conditions
type ConditionEvaluator interface {
	Evaluate(expression string, phase policy.Phase, execCtx *policy.ExecutionContext) (bool, error)
}

// Entry is one instantiated policy of a chain
type Entry struct {
	PolicyID  string
	Condition string
	Policy    policy.Policy
}

// PolicyChain is an immutable, ordered, phase-bound sequence of policies.
// A chain holds no per-request state and is shared by concurrent requests.
type PolicyChain struct {
	id         string
	phase      policy.Phase
	entries    []Entry
	hooks      []policy.ExecutionHook
	conditions ConditionEvaluator
	logger     *slog.Logger
}

// Option configures a PolicyChain
type Option func(*PolicyChain)

// WithHooks attaches execution hooks to the chain
func WithHooks(hooks ...policy.ExecutionHook) Option {
	return func(c *PolicyChain) {
		c.hooks = append([]policy.ExecutionHook(nil), hooks...)
	}
}

// WithConditionEvaluator sets the evaluator for step conditions.
// Without one, steps carrying a condition always run.
func WithConditionEvaluator(e ConditionEvaluator) Option {
	return func(c *PolicyChain) {
		c.conditions = e
	}
}

// WithLogger sets the chain logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *PolicyChain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates a policy chain
func New(id string, phase policy.Phase, entries []Entry, opts ...Option) *PolicyChain {
	c := &PolicyChain{
		id:      id,
		phase:   phase,
		entries: append([]Entry(nil), entries...),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRequestPolicyChain creates a chain bound to the request phase
func NewRequestPolicyChain(id string, entries []Entry, opts ...Option) *PolicyChain {
	return New(id, policy.PhaseRequest, entries, opts...)
}

// NewResponsePolicyChain creates a chain bound to the response phase
func NewResponsePolicyChain(id string, entries []Entry, opts ...Option) *PolicyChain {
	return New(id, policy.PhaseResponse, entries, opts...)
}

// NewNoop creates a chain without policies; it always completes immediately
func NewNoop(id string, phase policy.Phase) *PolicyChain {
	return New(id, phase, nil)
}

func (c *PolicyChain) ID() string          { return c.id }
func (c *PolicyChain) Phase() policy.Phase { return c.phase }
func (c *PolicyChain) Len() int            { return len(c.entries) }

// PolicyIDs returns the policy ids in execution order
func (c *PolicyChain) PolicyIDs() []string {
	ids := make([]string, len(c.entries))
	for i, e := range c.entries {
		ids[i] = e.PolicyID
	}
	return ids
}

// Entries returns a copy of the chain entries in execution order
func (c *PolicyChain) Entries() []Entry {
	return append([]Entry(nil), c.entries...)
}

// Hooks returns a copy of the attached hooks
func (c *PolicyChain) Hooks() []policy.ExecutionHook {
	return append([]policy.ExecutionHook(nil), c.hooks...)
}

// PolicyResult is the outcome of one policy in a run
type PolicyResult struct {
	PolicyID      string
	Action        policy.Action
	Failure       *policy.ExecutionFailure
	ExecutionTime time.Duration
	Skipped       bool // true if the condition evaluated to false
}

// ExecutionResult is the outcome of one chain run
type ExecutionResult struct {
	ChainID string
	Phase   policy.Phase
	State   State

	// ShortCircuited is true when a policy halted the chain (failure or early completion)
	ShortCircuited bool

	// Failure recorded on the execution context when State is FAILED because of a policy
	Failure *policy.ExecutionFailure

	// Err is set when the run was abandoned because the context was cancelled
	Err error

	Results            []PolicyResult
	TotalExecutionTime time.Duration
}

// Completed reports whether the run reached COMPLETED
func (r *ExecutionResult) Completed() bool {
	return r.State == StateCompleted
}

// EarlyCompletion reports whether a policy completed the phase with an immediate response
func (r *ExecutionResult) EarlyCompletion() bool {
	return r.State == StateCompleted && r.ShortCircuited
}

// Cancelled reports whether the run was abandoned because the context was done
func (r *ExecutionResult) Cancelled() bool {
	return r.Err != nil
}

func (r *ExecutionResult) transition(to State) {
	if r.State.Terminal() {
		return
	}
	r.State = to
}

// Execute runs the chain against the execution context.
// Policies run strictly in order; the first failure or early completion halts the run.
// Failures are recorded on the execution context for the failure processor.
func (c *PolicyChain) Execute(ctx context.Context, execCtx *policy.ExecutionContext) *ExecutionResult {
	startTime := time.Now()
	result := &ExecutionResult{
		ChainID: c.id,
		Phase:   c.phase,
		State:   StatePending,
		Results: make([]PolicyResult, 0, len(c.entries)),
	}
	result.transition(StateRunning)

	for i, entry := range c.entries {
		if err := ctx.Err(); err != nil {
			c.logger.DebugContext(ctx, "Chain execution cancelled",
				"chain", c.id, "phase", c.phase, "next_policy", entry.PolicyID, "error", err)
			result.Err = err
			result.transition(StateFailed)
			break
		}

		policyStart := time.Now()

		if entry.Condition != "" && c.conditions != nil {
			ok, err := c.conditions.Evaluate(entry.Condition, c.phase, execCtx)
			if err != nil {
				failure := unexpectedFailure(fmt.Errorf("condition evaluation failed for policy %s: %w", entry.PolicyID, err))
				result.Results = append(result.Results, PolicyResult{
					PolicyID:      entry.PolicyID,
					Failure:       failure,
					ExecutionTime: time.Since(policyStart),
				})
				c.fail(ctx, result, execCtx, entry.PolicyID, failure)
				break
			}
			if !ok {
				metrics.PolicySkippedTotal.WithLabelValues(entry.PolicyID, c.phase.String(), constants.AttrSkipReasonConditionNotMet).Inc()
				result.Results = append(result.Results, PolicyResult{
					PolicyID:      entry.PolicyID,
					Skipped:       true,
					ExecutionTime: time.Since(policyStart),
				})
				continue
			}
		}

		info := policy.ExecutionInfo{ChainID: c.id, Phase: c.phase, PolicyID: entry.PolicyID, Index: i}
		policyCtx := c.runPreHooks(ctx, info, execCtx)

		action, err := c.invoke(policyCtx, entry, execCtx)
		executionTime := time.Since(policyStart)
		metrics.PolicyDurationSeconds.WithLabelValues(entry.PolicyID, c.phase.String()).Observe(executionTime.Seconds())

		// a policy that observed cancellation must not produce a response
		if cerr := ctx.Err(); cerr != nil {
			c.runPostHooks(policyCtx, info, execCtx, nil)
			metrics.PolicyExecutionsTotal.WithLabelValues(entry.PolicyID, c.phase.String(), "cancelled").Inc()
			c.logger.DebugContext(ctx, "Chain execution cancelled",
				"chain", c.id, "phase", c.phase, "policy", entry.PolicyID, "error", cerr)
			result.Results = append(result.Results, PolicyResult{
				PolicyID:      entry.PolicyID,
				Action:        action,
				ExecutionTime: executionTime,
			})
			result.Err = cerr
			result.transition(StateFailed)
			break
		}

		failure := interruptFailure(action)
		if err != nil {
			c.logger.ErrorContext(ctx, "Policy execution failed",
				"chain", c.id, "phase", c.phase, "policy", entry.PolicyID, "error", err)
			failure = unexpectedFailure(err)
		}

		c.runPostHooks(policyCtx, info, execCtx, failure)

		result.Results = append(result.Results, PolicyResult{
			PolicyID:      entry.PolicyID,
			Action:        action,
			Failure:       failure,
			ExecutionTime: executionTime,
		})

		if failure != nil {
			status := "failed"
			if err != nil {
				status = "error"
			}
			metrics.PolicyExecutionsTotal.WithLabelValues(entry.PolicyID, c.phase.String(), status).Inc()
			metrics.ShortCircuitsTotal.WithLabelValues(c.phase.String(), entry.PolicyID, "failure").Inc()
			c.fail(ctx, result, execCtx, entry.PolicyID, failure)
			break
		}

		if resp, ok := immediateResponse(action); ok {
			metrics.PolicyExecutionsTotal.WithLabelValues(entry.PolicyID, c.phase.String(), "short_circuited").Inc()
			metrics.ShortCircuitsTotal.WithLabelValues(c.phase.String(), entry.PolicyID, "response").Inc()
			applyImmediateResponse(execCtx, resp)
			result.ShortCircuited = true
			result.transition(StateCompleted)
			c.logger.DebugContext(ctx, "Chain completed early",
				"chain", c.id, "phase", c.phase, "policy", entry.PolicyID, "status", execCtx.Response.Status)
			break
		}

		metrics.PolicyExecutionsTotal.WithLabelValues(entry.PolicyID, c.phase.String(), "completed").Inc()
	}

	result.transition(StateCompleted)
	result.TotalExecutionTime = time.Since(startTime)
	return result
}

// fail records the failure and moves the run to FAILED
func (c *PolicyChain) fail(ctx context.Context, result *ExecutionResult, execCtx *policy.ExecutionContext, policyID string, failure *policy.ExecutionFailure) {
	metrics.ExecutionFailuresTotal.WithLabelValues(fmt.Sprintf("%d", failure.StatusCode), failure.Key).Inc()
	execCtx.SetFailure(failure)
	result.Failure = failure
	result.ShortCircuited = true
	result.transition(StateFailed)
	c.logger.DebugContext(ctx, "Chain failed",
		"chain", c.id, "phase", c.phase, "policy", policyID,
		"status", failure.StatusCode, "key", failure.Key)
}

// invoke runs the policy for the chain phase, converting panics into errors
func (c *PolicyChain) invoke(ctx context.Context, entry Entry, execCtx *policy.ExecutionContext) (action policy.Action, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicRecoveriesTotal.WithLabelValues(constants.ComponentPolicy).Inc()
			action = nil
			err = fmt.Errorf("policy %s panicked: %v", entry.PolicyID, r)
		}
	}()

	switch c.phase {
	case policy.PhaseRequest:
		return entry.Policy.OnRequest(ctx, execCtx)
	case policy.PhaseResponse:
		return entry.Policy.OnResponse(ctx, execCtx)
	default:
		return nil, fmt.Errorf("unsupported phase %q", c.phase)
	}
}

func (c *PolicyChain) runPreHooks(ctx context.Context, info policy.ExecutionInfo, execCtx *policy.ExecutionContext) context.Context {
	for _, hook := range c.hooks {
		next, err := safePre(hook, ctx, info, execCtx)
		if err != nil {
			metrics.HookErrorsTotal.WithLabelValues(hook.ID(), "pre").Inc()
			c.logger.WarnContext(ctx, "Execution hook failed", "hook", hook.ID(), "stage", "pre",
				"chain", info.ChainID, "policy", info.PolicyID, "error", err)
			continue
		}
		if next != nil {
			ctx = next
		}
	}
	return ctx
}

func (c *PolicyChain) runPostHooks(ctx context.Context, info policy.ExecutionInfo, execCtx *policy.ExecutionContext, failure *policy.ExecutionFailure) {
	for i := len(c.hooks) - 1; i >= 0; i-- {
		hook := c.hooks[i]
		if err := safePost(hook, ctx, info, execCtx, failure); err != nil {
			metrics.HookErrorsTotal.WithLabelValues(hook.ID(), "post").Inc()
			c.logger.WarnContext(ctx, "Execution hook failed", "hook", hook.ID(), "stage", "post",
				"chain", info.ChainID, "policy", info.PolicyID, "error", err)
		}
	}
}

func safePre(hook policy.ExecutionHook, ctx context.Context, info policy.ExecutionInfo, execCtx *policy.ExecutionContext) (next context.Context, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicRecoveriesTotal.WithLabelValues(constants.ComponentHook).Inc()
			next, err = nil, fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return hook.Pre(ctx, info, execCtx)
}

func safePost(hook policy.ExecutionHook, ctx context.Context, info policy.ExecutionInfo, execCtx *policy.ExecutionContext, failure *policy.ExecutionFailure) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicRecoveriesTotal.WithLabelValues(constants.ComponentHook).Inc()
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return hook.Post(ctx, info, execCtx, failure)
}

// unexpectedFailure converts an unexpected error into a generic 500 failure
func unexpectedFailure(err error) *policy.ExecutionFailure {
	return policy.NewExecutionFailure(http.StatusInternalServerError).
		WithMessage(http.StatusText(http.StatusInternalServerError)).
		WithParameter("error", err.Error())
}

// interruptFailure returns the failure carried by an Interrupt action, or nil for any other action
func interruptFailure(action policy.Action) *policy.ExecutionFailure {
	var failure *policy.ExecutionFailure
	switch a := action.(type) {
	case policy.Interrupt:
		failure = a.Failure
	case *policy.Interrupt:
		if a == nil {
			return nil
		}
		failure = a.Failure
	default:
		return nil
	}
	if failure == nil {
		failure = policy.NewExecutionFailure(http.StatusInternalServerError).
			WithMessage(http.StatusText(http.StatusInternalServerError))
	}
	return failure
}

func immediateResponse(action policy.Action) (policy.ImmediateResponse, bool) {
	switch a := action.(type) {
	case policy.ImmediateResponse:
		return a, true
	case *policy.ImmediateResponse:
		if a != nil {
			return *a, true
		}
	}
	return policy.ImmediateResponse{}, false
}

func applyImmediateResponse(execCtx *policy.ExecutionContext, resp policy.ImmediateResponse) {
	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if execCtx.Response == nil {
		execCtx.Response = &policy.Response{}
	}
	if execCtx.Response.Headers == nil {
		execCtx.Response.Headers = make(http.Header)
	}
	execCtx.Response.Status = status
	execCtx.Response.Reason = http.StatusText(status)
	for k, v := range resp.Headers {
		execCtx.Response.Headers.Set(k, v)
	}
	execCtx.Response.Body = resp.Body
}
