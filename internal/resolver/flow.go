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
	"log/slog"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/chain"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// ResolvedFlow is a flow selected for a request together with the chain id
// namespace its chains are built under
type ResolvedFlow struct {
	ChainID string
	Flow    *definition.Flow
}

// FlowResolver selects the flows of an API that apply to a request
type FlowResolver struct {
	conditions chain.ConditionEvaluator
	logger     *slog.Logger
}

// NewFlowResolver creates a flow resolver. conditions may be nil, in which case
// selector conditions are ignored.
func NewFlowResolver(conditions chain.ConditionEvaluator, logger *slog.Logger) *FlowResolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &FlowResolver{conditions: conditions, logger: logger}
}

// Resolve returns the applicable flows in execution order: flows of the subscribed
// plan (read from the plan attribute) first, then the API flows. In BEST_MATCH mode
// only the most specific match of each group is kept.
func (r *FlowResolver) Resolve(api *definition.Api, execCtx *policy.ExecutionContext) []ResolvedFlow {
	path := api.RelativePath(execCtx.Request.Path)
	var resolved []ResolvedFlow

	if planID := execCtx.GetStringAttribute(policy.AttrPlan); planID != "" {
		if plan, ok := api.Plan(planID); ok {
			resolved = append(resolved, r.match(api, PlanChainID(api.ID, plan.ID), plan.Flows, path, execCtx)...)
		}
	}
	return append(resolved, r.match(api, api.ID, api.Flows, path, execCtx)...)
}

// PlanChainID returns the chain id namespace of a plan's flows
func PlanChainID(apiID, planID string) string {
	return apiID + "-plan-" + planID
}

func (r *FlowResolver) match(api *definition.Api, chainID string, flows []definition.Flow, path string, execCtx *policy.ExecutionContext) []ResolvedFlow {
	var matched []ResolvedFlow
	best, bestScore := -1, -1

	for i := range flows {
		flow := &flows[i]
		if !r.applies(flow, path, execCtx) {
			continue
		}
		if api.FlowMode == definition.FlowModeBestMatch {
			// exact selectors win ties against prefix selectors of the same shape
			score := 2 * definition.PathSpecificity(flow.Selector.Path)
			if flow.Selector.PathOperator == definition.PathOperatorEquals {
				score++
			}
			if score > bestScore {
				best, bestScore = i, score
			}
			continue
		}
		matched = append(matched, ResolvedFlow{ChainID: chainID, Flow: flow})
	}

	if best >= 0 {
		return []ResolvedFlow{{ChainID: chainID, Flow: &flows[best]}}
	}
	return matched
}

func (r *FlowResolver) applies(flow *definition.Flow, path string, execCtx *policy.ExecutionContext) bool {
	if !flow.Enabled {
		return false
	}
	if !flow.Selector.MatchesMethod(execCtx.Request.Method) || !flow.Selector.MatchesPath(path) {
		return false
	}
	if flow.Selector.Condition == "" || r.conditions == nil {
		return true
	}
	ok, err := r.conditions.Evaluate(flow.Selector.Condition, policy.PhaseRequest, execCtx)
	if err != nil {
		r.logger.WarnContext(context.Background(), "Flow condition evaluation failed, flow skipped",
			"flow", flow.NormalizedName(), "condition", flow.Selector.Condition, "error", err)
		return false
	}
	return ok
}
