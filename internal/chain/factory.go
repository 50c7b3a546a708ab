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

	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// PolicyInstanceFactory builds a policy instance for a step.
// A nil policy with a nil error means the policy id is unknown.
type PolicyInstanceFactory interface {
	Create(phase policy.Phase, metadata policy.PolicyMetadata) (policy.Policy, error)
}

// Instantiate creates a policy through instances, turning a panic into an error
func Instantiate(instances PolicyInstanceFactory, phase policy.Phase, metadata policy.PolicyMetadata) (instance policy.Policy, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.PanicRecoveriesTotal.WithLabelValues(constants.ComponentFactory).Inc()
			instance = nil
			err = fmt.Errorf("policy factory for %s panicked: %v", metadata.ID, r)
		}
	}()
	return instances.Create(phase, metadata)
}

// PolicyChainFactory builds policy chains for flows and caches them per (flow, phase)
type PolicyChainFactory struct {
	instances     PolicyInstanceFactory
	cache         *Cache
	hooks         []policy.ExecutionHook
	conditions    ConditionEvaluator
	executionMode string
	logger        *slog.Logger
}

// FactoryOption configures a PolicyChainFactory
type FactoryOption func(*PolicyChainFactory)

// WithFactoryHooks sets the hooks attached to every chain the factory builds
func WithFactoryHooks(hooks ...policy.ExecutionHook) FactoryOption {
	return func(f *PolicyChainFactory) {
		f.hooks = append([]policy.ExecutionHook(nil), hooks...)
	}
}

// WithFactoryConditionEvaluator sets the evaluator handed to every chain
func WithFactoryConditionEvaluator(e ConditionEvaluator) FactoryOption {
	return func(f *PolicyChainFactory) {
		f.conditions = e
	}
}

// WithExecutionMode sets the execution mode tag added to every step's metadata
func WithExecutionMode(mode string) FactoryOption {
	return func(f *PolicyChainFactory) {
		if mode != "" {
			f.executionMode = mode
		}
	}
}

// WithFactoryLogger sets the logger used by the factory and its chains
func WithFactoryLogger(logger *slog.Logger) FactoryOption {
	return func(f *PolicyChainFactory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewPolicyChainFactory creates a factory backed by the given cache.
// A nil cache gets a default sized one.
func NewPolicyChainFactory(instances PolicyInstanceFactory, cache *Cache, opts ...FactoryOption) *PolicyChainFactory {
	if cache == nil {
		cache = NewCache("", DefaultCacheSize, DefaultIdleTimeout)
	}
	f := &PolicyChainFactory{
		instances:     instances,
		cache:         cache,
		executionMode: constants.ExecutionModeV4,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CacheKey returns the cache key of a (flow, phase) pair
func CacheKey(flow *definition.Flow, phase policy.Phase) string {
	return flow.HashKey() + "-" + phase.String()
}

// Create returns the chain for the flow and phase, building it on a cache miss.
// Steps whose policy is unknown are dropped; a failing instantiation fails the build.
// The cache key ignores flowChainID: structurally equal flows share one chain, and its
// ID is the flowChainID of whichever call built it first.
func (f *PolicyChainFactory) Create(flowChainID string, flow *definition.Flow, phase policy.Phase) (*PolicyChain, error) {
	chain, _, err := f.cache.GetOrCreate(CacheKey(flow, phase), func() (*PolicyChain, error) {
		return f.build(flowChainID, flow, phase)
	})
	return chain, err
}

func (f *PolicyChainFactory) build(flowChainID string, flow *definition.Flow, phase policy.Phase) (*PolicyChain, error) {
	ctx := context.Background()
	steps := flow.StepsFor(phase)
	entries := make([]Entry, 0, len(steps))

	for _, step := range steps {
		if !step.Enabled {
			continue
		}

		metadata := policy.PolicyMetadata{
			ID:            step.PolicyID,
			Configuration: step.Configuration,
			Condition:     step.Condition,
			Metadata: map[string]string{
				constants.MetadataExecutionMode: f.executionMode,
			},
		}

		instance, err := Instantiate(f.instances, phase, metadata)
		if err != nil {
			metrics.ChainBuildErrorsTotal.WithLabelValues(phase.String()).Inc()
			return nil, fmt.Errorf("failed to create policy %s for %s flow %q: %w",
				step.PolicyID, phase.Lower(), flow.NormalizedName(), err)
		}
		if instance == nil {
			metrics.PoliciesDroppedTotal.WithLabelValues(step.PolicyID, phase.String()).Inc()
			f.logger.WarnContext(ctx, "Policy not found, step dropped from chain",
				"policy", step.PolicyID, "phase", phase, "flow", flow.NormalizedName())
			continue
		}

		entries = append(entries, Entry{
			PolicyID:  step.PolicyID,
			Condition: step.Condition,
			Policy:    instance,
		})
	}

	id := flowChainID + "-" + flow.NormalizedName()
	chain := New(id, phase, entries,
		WithHooks(f.hooks...),
		WithConditionEvaluator(f.conditions),
		WithLogger(f.logger),
	)

	metrics.ChainsBuiltTotal.WithLabelValues(phase.String()).Inc()
	metrics.PoliciesPerChain.WithLabelValues(id, phase.String()).Set(float64(len(entries)))
	f.logger.DebugContext(ctx, "Policy chain built",
		"chain", id, "phase", phase, "policies", len(entries))

	return chain, nil
}

// Cache returns the factory's chain cache
func (f *PolicyChainFactory) Cache() *Cache {
	return f.cache
}

// Hooks returns the hooks attached to built chains
func (f *PolicyChainFactory) Hooks() []policy.ExecutionHook {
	return append([]policy.ExecutionHook(nil), f.hooks...)
}

// Destroy releases all cached chains
func (f *PolicyChainFactory) Destroy() {
	f.cache.Purge()
}
