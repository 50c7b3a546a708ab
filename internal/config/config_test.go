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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := defaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 15, cfg.FlowEngine.ChainCache.MaxSize)
	assert.Equal(t, time.Hour, cfg.FlowEngine.ChainCache.IdleTimeout)
	assert.Equal(t, "1", cfg.FlowEngine.Execution.AnonymousApplicationID)
	assert.Equal(t, ExecutionModeEmulation, cfg.FlowEngine.Execution.Mode)
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[flow_engine.server]
mode = "extproc"
extproc_port = 9100

[flow_engine.chain_cache]
max_size = 30
idle_timeout = "30m"

[flow_engine.definitions]
path = "/etc/flow-engine/apis.yaml"

[policy_configurations.apikey]
header = "X-Api-Key"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("APIP_FE_FLOW__ENGINE_CHAIN__CACHE_MAX__SIZE", "25")
	t.Setenv("APIP_FE_FLOW__ENGINE_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "extproc", cfg.FlowEngine.Server.Mode)
	assert.Equal(t, 9100, cfg.FlowEngine.Server.ExtProcPort)
	assert.Equal(t, 25, cfg.FlowEngine.ChainCache.MaxSize)
	assert.Equal(t, 30*time.Minute, cfg.FlowEngine.ChainCache.IdleTimeout)
	assert.Equal(t, "debug", cfg.FlowEngine.Logging.Level)
	assert.Equal(t, "/etc/flow-engine/apis.yaml", cfg.FlowEngine.Definitions.Path)
	assert.Contains(t, cfg.PolicyConfigurations, "apikey")
	assert.NotEmpty(t, cfg.FlowEngine.RawConfig)

	// untouched defaults survive
	assert.Equal(t, 9002, cfg.FlowEngine.Admin.Port)
	assert.Equal(t, "X-Request-Id", cfg.FlowEngine.Execution.RequestIDHeader)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "flow_engine.chain_cache.max_size", envKey("APIP_FE_FLOW__ENGINE_CHAIN__CACHE_MAX__SIZE"))
	assert.Equal(t, "tracing.enabled", envKey("APIP_FE_TRACING_ENABLED"))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"bad server mode", func(c *Config) { c.FlowEngine.Server.Mode = "uds" }, "server.mode"},
		{"bad http port", func(c *Config) { c.FlowEngine.Server.HTTPPort = 0 }, "server port"},
		{"admin port conflict", func(c *Config) { c.FlowEngine.Admin.Port = 8080 }, "admin.port cannot be same"},
		{"admin without allowed ips", func(c *Config) { c.FlowEngine.Admin.AllowedIPs = nil }, "allowed_ips"},
		{"metrics port conflict", func(c *Config) {
			c.FlowEngine.Metrics.Enabled = true
			c.FlowEngine.Metrics.Port = 9002
		}, "metrics.port cannot be same as admin.port"},
		{"bad log level", func(c *Config) { c.FlowEngine.Logging.Level = "trace" }, "logging.level"},
		{"bad log format", func(c *Config) { c.FlowEngine.Logging.Format = "xml" }, "logging.format"},
		{"zero cache size", func(c *Config) { c.FlowEngine.ChainCache.MaxSize = 0 }, "chain_cache.max_size"},
		{"zero idle timeout", func(c *Config) { c.FlowEngine.ChainCache.IdleTimeout = 0 }, "chain_cache.idle_timeout"},
		{"bad execution mode", func(c *Config) { c.FlowEngine.Execution.Mode = "v2" }, "execution.mode"},
		{"empty anonymous id", func(c *Config) { c.FlowEngine.Execution.AnonymousApplicationID = "" }, "anonymous_application_id"},
		{"tracing without endpoint", func(c *Config) {
			c.TracingConfig.Enabled = true
			c.TracingConfig.Endpoint = ""
		}, "tracing.endpoint"},
		{"tracing bad sampling", func(c *Config) {
			c.TracingConfig.Enabled = true
			c.TracingConfig.SamplingRate = 1.5
		}, "sampling_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
