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

package policyv1alpha

import "log/slog"

// WithRequestID enriches a logger with a request ID for correlation.
// Use this in OnRequest and OnResponse methods to add request-specific context.
//
// Example:
//
//	func (p *MyPolicy) OnRequest(ctx context.Context, execCtx *ExecutionContext) (Action, error) {
//	    log := policy.WithRequestID(p.logger, execCtx.Request.ID)
//	    log.Debug("Processing request", "path", execCtx.Request.Path)
//	    return nil, nil
//	}
func WithRequestID(logger *slog.Logger, requestID string) *slog.Logger {
	return logger.With("requestId", requestID)
}
