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

package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	policy "github.com/wso2/api-platform/gateway/flow-engine/pkg/policy/v1alpha"
)

// HookID identifies the tracing execution hook
const HookID = "tracing"

// Hook opens one span per policy execution
type Hook struct {
	tracer trace.Tracer
}

// NewHook creates a tracing hook using the given tracer
func NewHook(tracer trace.Tracer) *Hook {
	return &Hook{tracer: tracer}
}

func (h *Hook) ID() string {
	return HookID
}

// Pre starts the policy span and returns a context carrying it
func (h *Hook) Pre(ctx context.Context, info policy.ExecutionInfo, execCtx *policy.ExecutionContext) (context.Context, error) {
	ctx, span := h.tracer.Start(ctx, fmt.Sprintf(constants.SpanPolicyFormat, info.Phase.Lower(), info.PolicyID),
		trace.WithSpanKind(trace.SpanKindInternal))
	if span.IsRecording() {
		span.SetAttributes(
			attribute.String(constants.AttrChainID, info.ChainID),
			attribute.String(constants.AttrPhase, info.Phase.String()),
			attribute.String(constants.AttrPolicyID, info.PolicyID),
			attribute.Int(constants.AttrPolicyIndex, info.Index),
		)
		if execCtx != nil && execCtx.Metrics.APIID != "" {
			span.SetAttributes(attribute.String(constants.AttrAPIID, execCtx.Metrics.APIID))
		}
	}
	return ctx, nil
}

// Post records the outcome on the policy span and ends it
func (h *Hook) Post(ctx context.Context, info policy.ExecutionInfo, execCtx *policy.ExecutionContext, failure *policy.ExecutionFailure) error {
	span := trace.SpanFromContext(ctx)
	if failure != nil && span.IsRecording() {
		span.SetAttributes(
			attribute.Int(constants.AttrFailureStatus, failure.StatusCode),
			attribute.String(constants.AttrFailureKey, failure.Key),
		)
		span.SetStatus(codes.Error, failure.Message)
	}
	span.End()
	return nil
}
