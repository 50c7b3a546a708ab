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

package policies

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

const (
	APIKeyName = "api-key"

	KeyAPIKeyMissing = "API_KEY_MISSING"
	KeyAPIKeyInvalid = "API_KEY_INVALID"
)

// APIKeyEntry is a known key and the identities it maps to
type APIKeyEntry struct {
	Key          string `mapstructure:"key"`
	Plan         string `mapstructure:"plan"`
	Application  string `mapstructure:"application"`
	Subscription string `mapstructure:"subscription"`
}

// APIKeyConfig is the configuration of the api-key policy
type APIKeyConfig struct {
	// Header carrying the key
	Header string `mapstructure:"header"`

	Keys []APIKeyEntry `mapstructure:"keys"`

	// PropagateKey keeps the key header on the upstream request
	PropagateKey bool `mapstructure:"propagateKey"`
}

// APIKeyPolicy authenticates requests by API key. On success it sets the plan,
// application and subscription attributes that plan-scoped resolution relies on.
type APIKeyPolicy struct {
	config APIKeyConfig
	logger *slog.Logger
}

// NewAPIKeyPolicy is the PolicyFactory of api-key
func NewAPIKeyPolicy(_ policy.PolicyMetadata, initParams, params map[string]any) (policy.Policy, error) {
	var cfg APIKeyConfig
	if err := decode(merge(initParams, params), &cfg); err != nil {
		return nil, fmt.Errorf("invalid api-key configuration: %w", err)
	}
	if cfg.Header == "" {
		return nil, fmt.Errorf("invalid api-key configuration: header is required")
	}
	for i, k := range cfg.Keys {
		if k.Key == "" {
			return nil, fmt.Errorf("invalid api-key configuration: keys[%d].key is required", i)
		}
	}
	return &APIKeyPolicy{config: cfg, logger: slog.Default()}, nil
}

func (p *APIKeyPolicy) OnRequest(ctx context.Context, execCtx *policy.ExecutionContext) (policy.Action, error) {
	log := policy.WithRequestID(p.logger, execCtx.Request.ID)

	key := execCtx.Request.Headers.Get(p.config.Header)
	if key == "" {
		log.DebugContext(ctx, "API key missing", "header", p.config.Header)
		return policy.InterruptWith(policy.NewExecutionFailure(http.StatusUnauthorized).
			WithMessage("Unauthorized").
			WithKey(KeyAPIKeyMissing)), nil
	}

	entry, ok := p.lookup(key)
	if !ok {
		log.DebugContext(ctx, "API key invalid", "header", p.config.Header)
		return policy.InterruptWith(policy.NewExecutionFailure(http.StatusUnauthorized).
			WithMessage("Unauthorized").
			WithKey(KeyAPIKeyInvalid)), nil
	}

	if entry.Plan != "" {
		execCtx.SetAttribute(policy.AttrPlan, entry.Plan)
		execCtx.Metrics.PlanID = entry.Plan
	}
	if entry.Application != "" {
		execCtx.SetAttribute(policy.AttrApplication, entry.Application)
		execCtx.Metrics.ApplicationID = entry.Application
	}
	if entry.Subscription != "" {
		execCtx.SetAttribute(policy.AttrSubscription, entry.Subscription)
		execCtx.Metrics.SubscriptionID = entry.Subscription
	}
	if !p.config.PropagateKey {
		execCtx.Request.Headers.Del(p.config.Header)
	}
	return policy.Continue{}, nil
}

func (p *APIKeyPolicy) OnResponse(context.Context, *policy.ExecutionContext) (policy.Action, error) {
	return nil, nil
}

func (p *APIKeyPolicy) lookup(key string) (APIKeyEntry, bool) {
	for _, e := range p.config.Keys {
		if subtle.ConstantTimeCompare([]byte(e.Key), []byte(key)) == 1 {
			return e, true
		}
	}
	return APIKeyEntry{}, false
}
