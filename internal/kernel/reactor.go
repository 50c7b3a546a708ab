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

package kernel

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/chain"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/failure"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/resolver"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// Failure keys reported by the reactor itself
const (
	KeyChainBuildFailed    = "CHAIN_BUILD_FAILED"
	KeyGatewayTimeout      = "GATEWAY_TIMEOUT"
	KeyUpstreamUnreachable = "UPSTREAM_UNREACHABLE"
	KeyNoAPIMatched        = "NO_API_MATCHED"
)

// Outcome is how a phase of an exchange ended
type Outcome int

const (
	// OutcomeContinue - the phase ran to the end, processing goes on
	OutcomeContinue Outcome = iota

	// OutcomeCompleted - a policy completed the exchange with its own response
	OutcomeCompleted

	// OutcomeFailed - the exchange failed and the failure response was rendered
	OutcomeFailed

	// OutcomeCancelled - the exchange was abandoned; nothing must be written
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeContinue:
		return "continue"
	case OutcomeCompleted:
		return "completed"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Invoker calls the upstream service and stores its answer in execCtx.Response
type Invoker interface {
	Invoke(ctx context.Context, api *definition.Api, execCtx *policy.ExecutionContext) error
}

// Exchange is the state of one request/response cycle through a reactor
type Exchange struct {
	ExecCtx *policy.ExecutionContext

	// flows resolved during the request phase, replayed for the response phase
	flows []resolver.ResolvedFlow
	start time.Time
}

// Flows returns the flows resolved for the exchange
func (e *Exchange) Flows() []resolver.ResolvedFlow {
	return e.flows
}

// Reactor runs the policy chains of one deployed API
type Reactor struct {
	api        *definition.Api
	security   *definition.Flow
	factory    *chain.PolicyChainFactory
	flows      *resolver.FlowResolver
	planRules  *resolver.RulePolicyResolver
	apiRules   *resolver.RulePolicyResolver
	ruleCache  *chain.Cache
	failures   *failure.Processor
	deployedAt time.Time
	logger     *slog.Logger
}

func (k *Kernel) newReactor(api *definition.Api) *Reactor {
	logger := k.logger.With("api_id", api.ID)

	mode := constants.ExecutionModeV4
	if api.ExecutionMode == definition.ExecutionModeV2 {
		mode = k.legacyMode
	}

	factory := chain.NewPolicyChainFactory(k.instances,
		chain.NewCache(api.ID, k.cacheSize, k.idleTimeout),
		chain.WithFactoryHooks(k.hooks...),
		chain.WithFactoryConditionEvaluator(k.conditions),
		chain.WithExecutionMode(mode),
		chain.WithFactoryLogger(logger),
	)

	r := &Reactor{
		api:        api,
		security:   api.SecurityFlow(),
		factory:    factory,
		flows:      resolver.NewFlowResolver(k.conditions, logger),
		failures:   k.failures,
		deployedAt: time.Now(),
		logger:     logger,
	}

	if api.ExecutionMode == definition.ExecutionModeV2 {
		r.ruleCache = chain.NewCache(api.ID+"-rules", k.cacheSize, k.idleTimeout)
		opts := []resolver.RuleOption{
			resolver.WithRuleCache(r.ruleCache),
			resolver.WithRuleHooks(k.hooks...),
			resolver.WithRuleExecutionMode(mode),
			resolver.WithRuleLogger(logger),
		}
		planOpts := opts
		if len(api.PlanStreams) > 0 {
			planOpts = append(append([]resolver.RuleOption(nil), opts...), resolver.WithStreamTypes(api.PlanStreams...))
		}
		r.planRules = resolver.NewRulePolicyResolver(api, resolver.NewPlanRules(api), k.instances, planOpts...)
		r.apiRules = resolver.NewRulePolicyResolver(api, resolver.NewAPIRules(api), k.instances, opts...)
	}
	return r
}

// API returns the deployed API definition
func (r *Reactor) API() *definition.Api { return r.api }

// Factory returns the chain factory of the API
func (r *Reactor) Factory() *chain.PolicyChainFactory { return r.factory }

// RuleCache returns the legacy rule chain cache, nil for v4 APIs
func (r *Reactor) RuleCache() *chain.Cache { return r.ruleCache }

// DeployedAt returns when the API was deployed
func (r *Reactor) DeployedAt() time.Time { return r.deployedAt }

func (r *Reactor) destroy() {
	r.factory.Destroy()
	if r.ruleCache != nil {
		r.ruleCache.Purge()
	}
}

// NewExchange starts an exchange for the execution context
func (r *Reactor) NewExchange(execCtx *policy.ExecutionContext) *Exchange {
	execCtx.Metrics.APIID = r.api.ID
	return &Exchange{ExecCtx: execCtx, start: time.Now()}
}

// HandleRequest runs the REQUEST phase: the security chain, then the plan and API
// chains. Flows (v4) or rules (v2) are resolved after security so that the plan
// selected by authentication is known.
func (r *Reactor) HandleRequest(ctx context.Context, ex *Exchange) Outcome {
	security, err := r.factory.Create(r.api.ID, r.security, policy.PhaseRequest)
	if err != nil {
		return r.buildFailed(ctx, ex, err)
	}
	if outcome, done := r.run(ctx, ex, security); done {
		return outcome
	}

	if r.api.ExecutionMode == definition.ExecutionModeV2 {
		return r.runRules(ctx, ex, policy.StreamTypeOnRequest)
	}

	ex.flows = r.flows.Resolve(r.api, ex.ExecCtx)
	return r.runFlows(ctx, ex, policy.PhaseRequest)
}

// HandleResponse runs the RESPONSE phase over the flows or rules of the request phase
func (r *Reactor) HandleResponse(ctx context.Context, ex *Exchange) Outcome {
	if r.api.ExecutionMode == definition.ExecutionModeV2 {
		return r.runRules(ctx, ex, policy.StreamTypeOnResponse)
	}
	return r.runFlows(ctx, ex, policy.PhaseResponse)
}

// Handle runs a whole exchange: REQUEST phase, upstream call and RESPONSE phase.
// A request completed early by a policy skips the upstream call but still goes
// through the RESPONSE phase. A failed request phase does not.
func (r *Reactor) Handle(ctx context.Context, execCtx *policy.ExecutionContext, invoker Invoker) Outcome {
	ex := r.NewExchange(execCtx)

	outcome := r.HandleRequest(ctx, ex)
	switch outcome {
	case OutcomeContinue:
		if err := invoker.Invoke(ctx, r.api, execCtx); err != nil {
			outcome = r.upstreamFailed(ctx, ex, err)
			break
		}
		outcome = r.HandleResponse(ctx, ex)
	case OutcomeCompleted:
		if o := r.HandleResponse(ctx, ex); o != OutcomeContinue {
			outcome = o
		}
	}

	r.Observe(ex, outcome)
	return outcome
}

// Observe records the request metrics of a finished exchange
func (r *Reactor) Observe(ex *Exchange, outcome Outcome) {
	metrics.RequestsTotal.WithLabelValues(r.api.ID, string(r.api.ExecutionMode), outcome.String()).Inc()
	metrics.RequestDurationSeconds.WithLabelValues(r.api.ID).Observe(time.Since(ex.start).Seconds())
}

// Fail records the failure on the exchange and renders it
func (r *Reactor) Fail(ctx context.Context, ex *Exchange, f *policy.ExecutionFailure) Outcome {
	ex.ExecCtx.SetFailure(f)
	r.failures.Execute(ctx, ex.ExecCtx)
	return OutcomeFailed
}

func (r *Reactor) runFlows(ctx context.Context, ex *Exchange, phase policy.Phase) Outcome {
	for _, rf := range ex.flows {
		c, err := r.factory.Create(rf.ChainID, rf.Flow, phase)
		if err != nil {
			return r.buildFailed(ctx, ex, err)
		}
		if outcome, done := r.run(ctx, ex, c); done {
			return outcome
		}
	}
	return OutcomeContinue
}

func (r *Reactor) runRules(ctx context.Context, ex *Exchange, streamType policy.StreamType) Outcome {
	for _, rules := range []*resolver.RulePolicyResolver{r.planRules, r.apiRules} {
		c, err := rules.Resolve(streamType, ex.ExecCtx)
		if err != nil {
			return r.buildFailed(ctx, ex, err)
		}
		if outcome, done := r.run(ctx, ex, c); done {
			return outcome
		}
	}
	return OutcomeContinue
}

// run executes one chain. done is true when the chain ended the phase.
func (r *Reactor) run(ctx context.Context, ex *Exchange, c *chain.PolicyChain) (outcome Outcome, done bool) {
	result := c.Execute(ctx, ex.ExecCtx)
	switch {
	case result.Cancelled():
		metrics.RequestsCancelledTotal.WithLabelValues(r.api.ID, c.Phase().String()).Inc()
		r.logger.DebugContext(ctx, "Exchange cancelled", "chain", c.ID(), "error", result.Err)
		return OutcomeCancelled, true
	case result.State == chain.StateFailed:
		r.failures.Execute(ctx, ex.ExecCtx)
		return OutcomeFailed, true
	case result.EarlyCompletion():
		return OutcomeCompleted, true
	}
	return OutcomeContinue, false
}

func (r *Reactor) buildFailed(ctx context.Context, ex *Exchange, err error) Outcome {
	r.logger.ErrorContext(ctx, "Failed to build policy chain", "error", err)
	return r.Fail(ctx, ex, policy.NewExecutionFailure(http.StatusInternalServerError).
		WithMessage(http.StatusText(http.StatusInternalServerError)).
		WithKey(KeyChainBuildFailed).
		WithParameter("error", err.Error()))
}

func (r *Reactor) upstreamFailed(ctx context.Context, ex *Exchange, err error) Outcome {
	if ctx.Err() != nil {
		metrics.RequestsCancelledTotal.WithLabelValues(r.api.ID, "upstream").Inc()
		return OutcomeCancelled
	}

	r.logger.WarnContext(ctx, "Upstream call failed", "upstream", r.api.Upstream, "error", err)
	status, key := http.StatusBadGateway, KeyUpstreamUnreachable
	if isTimeout(err) {
		status, key = http.StatusGatewayTimeout, KeyGatewayTimeout
	}
	return r.Fail(ctx, ex, policy.NewExecutionFailure(status).
		WithMessage(http.StatusText(status)).
		WithKey(key).
		WithParameter("error", err.Error()))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
