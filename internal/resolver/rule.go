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

package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/chain"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// RuleSet is the set of rules selected for a request by a RuleProvider
type RuleSet struct {
	// Scope identifies where the rules come from (e.g. "api" or "plan-gold")
	Scope string

	// Path is the declared path the rules are bound to
	Path string

	Rules []definition.Rule
}

// RuleProvider selects the legacy rules that apply to a request
type RuleProvider interface {
	Name() string

	// Rules returns the rules for the request path (relative to the context path).
	// ok is false when no rules apply.
	Rules(path string, execCtx *policy.ExecutionContext) (set RuleSet, ok bool)
}

// APIRules provides the rules declared on the API itself
type APIRules struct {
	paths map[string][]definition.Rule
}

// NewAPIRules creates a provider for API-level rules
func NewAPIRules(api *definition.Api) *APIRules {
	return &APIRules{paths: api.Paths}
}

func (p *APIRules) Name() string { return "api" }

func (p *APIRules) Rules(path string, _ *policy.ExecutionContext) (RuleSet, bool) {
	declared, rules, ok := longestMatch(p.paths, path)
	if !ok {
		return RuleSet{}, false
	}
	return RuleSet{Scope: "api", Path: declared, Rules: rules}, true
}

// PlanRules provides the rules of the plan the caller subscribed to. The plan id is
// read from the plan attribute set by an authentication policy; without it no rules apply.
type PlanRules struct {
	api *definition.Api
}

// NewPlanRules creates a provider for plan-level rules
func NewPlanRules(api *definition.Api) *PlanRules {
	return &PlanRules{api: api}
}

func (p *PlanRules) Name() string { return "plan" }

func (p *PlanRules) Rules(path string, execCtx *policy.ExecutionContext) (RuleSet, bool) {
	planID := execCtx.GetStringAttribute(policy.AttrPlan)
	if planID == "" {
		return RuleSet{}, false
	}
	plan, ok := p.api.Plan(planID)
	if !ok {
		return RuleSet{}, false
	}
	declared, rules, ok := longestMatch(plan.Paths, path)
	if !ok {
		return RuleSet{}, false
	}
	return RuleSet{Scope: "plan-" + plan.ID, Path: declared, Rules: rules}, true
}

// longestMatch returns the rules of the most specific declared path matching the
// request path. Ties are broken by the lexically smallest declared path.
func longestMatch(paths map[string][]definition.Rule, path string) (string, []definition.Rule, bool) {
	declared := make([]string, 0, len(paths))
	for p := range paths {
		declared = append(declared, p)
	}
	sort.Strings(declared)

	best, bestScore := "", -1
	for _, p := range declared {
		if !definition.MatchesLegacyPath(p, path) {
			continue
		}
		if score := definition.PathSpecificity(p); score > bestScore {
			best, bestScore = p, score
		}
	}
	if bestScore < 0 {
		return "", nil, false
	}
	return best, paths[best], true
}

// RulePolicyResolver builds policy chains from legacy rules for one provider
type RulePolicyResolver struct {
	api           *definition.Api
	provider      RuleProvider
	instances     chain.PolicyInstanceFactory
	cache         *chain.Cache
	streamTypes   []policy.StreamType
	hooks         []policy.ExecutionHook
	executionMode string
	logger        *slog.Logger
}

// RuleOption configures a RulePolicyResolver
type RuleOption func(*RulePolicyResolver)

// WithStreamTypes restricts the resolver to the given stream types.
// Other stream types always resolve to a no-op chain.
func WithStreamTypes(types ...policy.StreamType) RuleOption {
	return func(r *RulePolicyResolver) {
		r.streamTypes = append([]policy.StreamType(nil), types...)
	}
}

// WithRuleCache caches resolved chains by (scope, path, method, stream type)
func WithRuleCache(cache *chain.Cache) RuleOption {
	return func(r *RulePolicyResolver) {
		r.cache = cache
	}
}

// WithRuleHooks attaches execution hooks to resolved chains
func WithRuleHooks(hooks ...policy.ExecutionHook) RuleOption {
	return func(r *RulePolicyResolver) {
		r.hooks = append([]policy.ExecutionHook(nil), hooks...)
	}
}

// WithRuleExecutionMode sets the execution mode tag added to rule metadata
func WithRuleExecutionMode(mode string) RuleOption {
	return func(r *RulePolicyResolver) {
		if mode != "" {
			r.executionMode = mode
		}
	}
}

// WithRuleLogger sets the resolver logger
func WithRuleLogger(logger *slog.Logger) RuleOption {
	return func(r *RulePolicyResolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRulePolicyResolver creates a rule-based resolver for the API
func NewRulePolicyResolver(api *definition.Api, provider RuleProvider, instances chain.PolicyInstanceFactory, opts ...RuleOption) *RulePolicyResolver {
	r := &RulePolicyResolver{
		api:           api,
		provider:      provider,
		instances:     instances,
		streamTypes:   []policy.StreamType{policy.StreamTypeOnRequest, policy.StreamTypeOnResponse},
		executionMode: constants.ExecutionModeV2,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve returns the chain of rules applying to the request for the stream type.
// Rules keep their declared order; disabled rules, rules not bound to the request
// method and rules whose policy is unknown are left out. When nothing applies the
// result is a chain without policies. A failing policy instantiation is returned
// as an error.
func (r *RulePolicyResolver) Resolve(streamType policy.StreamType, execCtx *policy.ExecutionContext) (*chain.PolicyChain, error) {
	phase := streamType.Phase()
	noopID := r.chainID("none", streamType)
	if phase == "" || !slices.Contains(r.streamTypes, streamType) {
		return chain.NewNoop(noopID, phase), nil
	}

	set, ok := r.provider.Rules(r.api.RelativePath(execCtx.Request.Path), execCtx)
	if !ok {
		return chain.NewNoop(noopID, phase), nil
	}

	method := execCtx.Request.Method
	if r.cache == nil {
		return r.build(set, method, streamType)
	}
	key := strings.Join([]string{set.Scope, set.Path, strings.ToUpper(method), string(streamType)}, "|")
	c, _, err := r.cache.GetOrCreate(key, func() (*chain.PolicyChain, error) {
		return r.build(set, method, streamType)
	})
	return c, err
}

func (r *RulePolicyResolver) build(set RuleSet, method string, streamType policy.StreamType) (*chain.PolicyChain, error) {
	phase := streamType.Phase()
	entries := make([]chain.Entry, 0, len(set.Rules))

	for _, rule := range set.Rules {
		if !rule.Enabled || !ruleMatchesMethod(rule, method) {
			continue
		}
		instance, err := chain.Instantiate(r.instances, phase, policy.PolicyMetadata{
			ID:            rule.PolicyID,
			Configuration: rule.Configuration,
			Metadata: map[string]string{
				constants.MetadataExecutionMode: r.executionMode,
			},
		})
		if err != nil {
			metrics.ChainBuildErrorsTotal.WithLabelValues(phase.String()).Inc()
			return nil, fmt.Errorf("failed to create policy %s for %s rules of %s: %w",
				rule.PolicyID, set.Scope, set.Path, err)
		}
		if instance == nil {
			metrics.PoliciesDroppedTotal.WithLabelValues(rule.PolicyID, phase.String()).Inc()
			r.logger.WarnContext(context.Background(), "Policy not found, rule dropped from chain",
				"api_id", r.api.ID, "policy", rule.PolicyID, "scope", set.Scope, "path", set.Path)
			continue
		}
		entries = append(entries, chain.Entry{PolicyID: rule.PolicyID, Policy: instance})
	}

	id := r.chainID(set.Scope, streamType)
	opts := []chain.Option{chain.WithHooks(r.hooks...), chain.WithLogger(r.logger)}
	metrics.ChainsBuiltTotal.WithLabelValues(phase.String()).Inc()

	if streamType == policy.StreamTypeOnRequest {
		return chain.NewRequestPolicyChain(id, entries, opts...), nil
	}
	return chain.NewResponsePolicyChain(id, entries, opts...), nil
}

func (r *RulePolicyResolver) chainID(scope string, streamType policy.StreamType) string {
	return r.api.ID + "-" + scope + "-" + strings.ToLower(string(streamType))
}

// ruleMatchesMethod reports whether the rule is bound to the method.
// A rule without methods applies to every method.
func ruleMatchesMethod(rule definition.Rule, method string) bool {
	if len(rule.Methods) == 0 {
		return true
	}
	return slices.ContainsFunc(rule.Methods, func(m string) bool {
		return strings.EqualFold(m, method)
	})
}
