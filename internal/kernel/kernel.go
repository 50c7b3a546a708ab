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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/chain"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/failure"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

var (
	// ErrAPINotFound is returned when no API is deployed under the given id
	ErrAPINotFound = errors.New("api not found")

	// ErrAlreadyDeployed is returned when an API id or context path is already taken
	ErrAlreadyDeployed = errors.New("api already deployed")
)

// Kernel holds the deployed APIs and the reactor serving each of them
type Kernel struct {
	mu       sync.RWMutex
	reactors map[string]*Reactor

	instances   chain.PolicyInstanceFactory
	conditions  chain.ConditionEvaluator
	hooks       []policy.ExecutionHook
	cacheSize   int
	idleTimeout time.Duration
	failures    *failure.Processor
	legacyMode  string
	logger      *slog.Logger
}

// Option configures a Kernel
type Option func(*Kernel)

// WithConditionEvaluator sets the evaluator for step and selector conditions
func WithConditionEvaluator(e chain.ConditionEvaluator) Option {
	return func(k *Kernel) {
		k.conditions = e
	}
}

// WithHooks attaches execution hooks to every chain built by the kernel
func WithHooks(hooks ...policy.ExecutionHook) Option {
	return func(k *Kernel) {
		k.hooks = append(k.hooks, hooks...)
	}
}

// WithChainCache bounds the chain cache created for each deployed API
func WithChainCache(size int, idleTimeout time.Duration) Option {
	return func(k *Kernel) {
		k.cacheSize = size
		k.idleTimeout = idleTimeout
	}
}

// WithFailureProcessor sets the processor rendering failures into responses
func WithFailureProcessor(p *failure.Processor) Option {
	return func(k *Kernel) {
		if p != nil {
			k.failures = p
		}
	}
}

// WithLegacyExecutionMode sets the execution mode tag of policies built for v2 APIs
func WithLegacyExecutionMode(mode string) Option {
	return func(k *Kernel) {
		if mode != "" {
			k.legacyMode = mode
		}
	}
}

// WithLogger sets the kernel logger
func WithLogger(logger *slog.Logger) Option {
	return func(k *Kernel) {
		if logger != nil {
			k.logger = logger
		}
	}
}

// NewKernel creates a kernel building policies through instances
func NewKernel(instances chain.PolicyInstanceFactory, opts ...Option) *Kernel {
	k := &Kernel{
		reactors:    make(map[string]*Reactor),
		instances:   instances,
		cacheSize:   chain.DefaultCacheSize,
		idleTimeout: chain.DefaultIdleTimeout,
		legacyMode:  constants.ExecutionModeV2,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(k)
	}
	if k.failures == nil {
		k.failures = failure.NewProcessor(failure.DefaultAnonymousApplicationID, k.logger)
	}
	return k
}

// Deploy validates the API and starts serving it
func (k *Kernel) Deploy(api *definition.Api) error {
	if err := api.Validate(); err != nil {
		return fmt.Errorf("invalid api %s: %w", api.ID, err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if _, exists := k.reactors[api.ID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyDeployed, api.ID)
	}
	for _, r := range k.reactors {
		if r.api.ContextPath == api.ContextPath {
			return fmt.Errorf("%w: context path %s is used by %s", ErrAlreadyDeployed, api.ContextPath, r.api.ID)
		}
	}

	k.reactors[api.ID] = k.newReactor(api)
	metrics.DeployedAPIs.Set(float64(len(k.reactors)))
	k.logger.Info("API deployed",
		"api_id", api.ID, "context_path", api.ContextPath, "execution_mode", api.ExecutionMode,
		"flows", len(api.Flows), "plans", len(api.Plans))
	return nil
}

// Undeploy stops serving the API and destroys its chain caches
func (k *Kernel) Undeploy(apiID string) error {
	k.mu.Lock()
	r, ok := k.reactors[apiID]
	if ok {
		delete(k.reactors, apiID)
		metrics.DeployedAPIs.Set(float64(len(k.reactors)))
	}
	k.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrAPINotFound, apiID)
	}
	r.destroy()
	k.logger.Info("API undeployed", "api_id", apiID)
	return nil
}

// Get returns the reactor of the API with the given id
func (k *Kernel) Get(apiID string) (*Reactor, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	r, ok := k.reactors[apiID]
	return r, ok
}

// Lookup returns the reactor of the API whose context path is the longest match for path
func (k *Kernel) Lookup(path string) (*Reactor, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()

	var best *Reactor
	for _, r := range k.reactors {
		if !r.api.MatchesContextPath(path) {
			continue
		}
		if best == nil || len(r.api.ContextPath) > len(best.api.ContextPath) {
			best = r
		}
	}
	return best, best != nil
}

// Reactors returns the deployed reactors sorted by API id
func (k *Kernel) Reactors() []*Reactor {
	k.mu.RLock()
	reactors := make([]*Reactor, 0, len(k.reactors))
	for _, r := range k.reactors {
		reactors = append(reactors, r)
	}
	k.mu.RUnlock()

	sort.Slice(reactors, func(i, j int) bool {
		return reactors[i].api.ID < reactors[j].api.ID
	})
	return reactors
}

// Failures returns the failure processor shared by all reactors
func (k *Kernel) Failures() *failure.Processor {
	return k.failures
}

// Shutdown undeploys every API
func (k *Kernel) Shutdown() {
	for _, r := range k.Reactors() {
		if err := k.Undeploy(r.api.ID); err != nil && !errors.Is(err, ErrAPINotFound) {
			k.logger.Warn("Failed to undeploy API on shutdown", "api_id", r.api.ID, "error", err)
		}
	}
}
