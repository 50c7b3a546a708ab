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

package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/config"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/kernel"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/registry"
)

func TestLegacyExecutionMode(t *testing.T) {
	assert.Equal(t, config.ExecutionModeEmulation, legacyExecutionMode(config.ExecutionModeEmulation))
	assert.Equal(t, constants.ExecutionModeV2, legacyExecutionMode(config.ExecutionModeV3))
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := &config.Config{}
			cfg.FlowEngine.Logging = config.LoggingConfig{Level: tt.level, Format: "json"}

			logger := setupLogger(cfg)

			assert.True(t, logger.Enabled(context.Background(), tt.want))
			if tt.want > slog.LevelDebug {
				assert.False(t, logger.Enabled(context.Background(), tt.want-1))
			}
		})
	}
}

func TestDeployDefinitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
apis:
  - id: orders
    contextPath: /orders
    upstream: http://orders.internal
  - id: legacy
    contextPath: /legacy
    executionMode: v2
`), 0o600))

	k := kernel.NewKernel(registry.NewPolicyRegistry())
	defer k.Shutdown()

	require.NoError(t, deployDefinitions(context.Background(), path, k))

	_, ok := k.Get("orders")
	assert.True(t, ok)
	_, ok = k.Get("legacy")
	assert.True(t, ok)
}

func TestDeployDefinitions_NoPath(t *testing.T) {
	k := kernel.NewKernel(registry.NewPolicyRegistry())
	assert.NoError(t, deployDefinitions(context.Background(), "", k))
	assert.Empty(t, k.Reactors())
}

func TestDeployDefinitions_MissingFile(t *testing.T) {
	k := kernel.NewKernel(registry.NewPolicyRegistry())
	err := deployDefinitions(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), k)
	assert.Error(t, err)
}
