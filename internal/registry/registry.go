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

package registry

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// ErrPolicyNotRegistered is returned by lookups for unknown policy ids
var ErrPolicyNotRegistered = errors.New("policy not registered")

// MetadataPhase is the metadata tag carrying the phase the instance is built for
const MetadataPhase = "phase"

// PolicyRegistry holds all registered policy implementations and builds
// policy instances for chain construction
type PolicyRegistry struct {
	mu sync.RWMutex

	// Policy definitions indexed by "name:version" composite key
	Definitions map[string]*policy.PolicyDefinition

	// Policy factory functions indexed by "name:version" composite key
	Factories map[string]policy.PolicyFactory

	// latest maps a policy name to the composite key of its most recently registered version
	latest map[string]string

	resolver *ConfigResolver
}

var globalRegistry *PolicyRegistry
var registryOnce sync.Once

// GetRegistry returns the global policy registry singleton
func GetRegistry() *PolicyRegistry {
	registryOnce.Do(func() {
		globalRegistry = NewPolicyRegistry()
	})
	return globalRegistry
}

// NewPolicyRegistry creates an empty registry
func NewPolicyRegistry() *PolicyRegistry {
	return &PolicyRegistry{
		Definitions: make(map[string]*policy.PolicyDefinition),
		Factories:   make(map[string]policy.PolicyFactory),
		latest:      make(map[string]string),
	}
}

// SetConfigResolver sets the resolver used for $config(...) references in step configuration
func (r *PolicyRegistry) SetConfigResolver(resolver *ConfigResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolver = resolver
}

// Register registers a policy definition and factory function
func (r *PolicyRegistry) Register(def *policy.PolicyDefinition, factory policy.PolicyFactory) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("policy definition name is required")
	}
	if factory == nil {
		return fmt.Errorf("policy factory is required for %s", def.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := compositeKey(def.Name, def.Version)
	if _, exists := r.Definitions[key]; exists {
		return fmt.Errorf("policy already registered: %s", key)
	}

	r.Definitions[key] = def
	r.Factories[key] = factory
	r.latest[def.Name] = key
	return nil
}

// GetDefinition retrieves a policy definition by policy id ("name" or "name:version")
func (r *PolicyRegistry) GetDefinition(id string) (*policy.PolicyDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.lookupKey(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPolicyNotRegistered, id)
	}
	return r.Definitions[key], nil
}

// Create builds a policy instance for a step.
// Unknown policy ids yield (nil, nil) so that the caller can drop the step.
// Invalid configuration or a failing factory yields an error.
func (r *PolicyRegistry) Create(phase policy.Phase, metadata policy.PolicyMetadata) (policy.Policy, error) {
	r.mu.RLock()
	key, ok := r.lookupKey(metadata.ID)
	if !ok {
		r.mu.RUnlock()
		return nil, nil
	}
	factory := r.Factories[key]
	def := r.Definitions[key]
	resolver := r.resolver
	r.mu.RUnlock()

	params, err := parseConfiguration(metadata.Configuration)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration for policy %s: %w", key, err)
	}
	params = resolver.ResolveMap(params)

	initParams := def.SystemParameters
	if initParams == nil {
		initParams = make(map[string]any)
	}

	tagged := metadata
	tagged.Metadata = make(map[string]string, len(metadata.Metadata)+1)
	for k, v := range metadata.Metadata {
		tagged.Metadata[k] = v
	}
	tagged.Metadata[MetadataPhase] = phase.String()

	instance, err := factory(tagged, initParams, params)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy instance %s: %w", key, err)
	}
	return instance, nil
}

// DumpPolicies returns a copy of all registered policy definitions
func (r *PolicyRegistry) DumpPolicies() map[string]*policy.PolicyDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dump := make(map[string]*policy.PolicyDefinition, len(r.Definitions))
	for key, def := range r.Definitions {
		dump[key] = def
	}
	return dump
}

// Names returns the sorted composite keys of all registered policies
func (r *PolicyRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.Definitions))
	for key := range r.Definitions {
		names = append(names, key)
	}
	sort.Strings(names)
	return names
}

// lookupKey resolves "name" (latest version) or "name:version". Caller holds the lock.
func (r *PolicyRegistry) lookupKey(id string) (string, bool) {
	if id == "" {
		return "", false
	}
	if strings.Contains(id, ":") {
		_, ok := r.Factories[id]
		return id, ok
	}
	key, ok := r.latest[id]
	return key, ok
}

// parseConfiguration decodes a JSON step configuration into a parameter map
func parseConfiguration(configuration string) (map[string]any, error) {
	params := make(map[string]any)
	if strings.TrimSpace(configuration) == "" {
		return params, nil
	}
	if err := json.Unmarshal([]byte(configuration), &params); err != nil {
		return nil, err
	}
	return params, nil
}

// compositeKey creates a composite key from name and version
func compositeKey(name, version string) string {
	return fmt.Sprintf("%s:%s", name, version)
}
