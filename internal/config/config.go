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
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	toml "github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix is the prefix for environment variables used to configure the flow engine
	EnvPrefix = "APIP_FE_"

	// ExecutionModeEmulation runs legacy APIs on the flow engine through the rule resolver
	ExecutionModeEmulation = "v4-emulation-engine"

	// ExecutionModeV3 keeps legacy APIs on the rule resolver without flow emulation tags
	ExecutionModeV3 = "v3"
)

type Config struct {
	FlowEngine           FlowEngine     `koanf:"flow_engine"`
	PolicyConfigurations map[string]any `koanf:"policy_configurations"`
	TracingConfig        TracingConfig  `koanf:"tracing"`
}

// FlowEngine holds the flow engine configuration
type FlowEngine struct {
	Server      ServerConfig      `koanf:"server"`
	Admin       AdminConfig       `koanf:"admin"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Logging     LoggingConfig     `koanf:"logging"`
	Definitions DefinitionsConfig `koanf:"definitions"`
	ChainCache  ChainCacheConfig  `koanf:"chain_cache"`
	Execution   ExecutionConfig   `koanf:"execution"`
	Upstream    UpstreamConfig    `koanf:"upstream"`

	TracingServiceName string `koanf:"tracing_service_name"`

	// RawConfig holds the complete raw configuration map.
	// Populated via k.Raw(), used to resolve $config(...) references in step configuration.
	RawConfig map[string]any
}

// ServerConfig holds the traffic server configuration
type ServerConfig struct {
	// Mode is "http" (default, standalone reverse proxy) or "extproc" (Envoy external processor)
	Mode string `koanf:"mode"`

	// HTTPPort is the listening port in http mode
	HTTPPort int `koanf:"http_port"`

	// ExtProcPort is the gRPC listening port in extproc mode
	ExtProcPort int `koanf:"extproc_port"`

	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// AdminConfig holds admin HTTP server configuration
type AdminConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port"`

	// AllowedIPs is a list of IP addresses allowed to access the admin API. "*" allows all.
	AllowedIPs []string `koanf:"allowed_ips"`
}

// MetricsConfig holds Prometheus metrics server configuration
type MetricsConfig struct {
	Enabled bool `koanf:"enabled"`
	Port    int  `koanf:"port"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	// Level can be "debug", "info", "warn", "error"
	Level string `koanf:"level"`

	// Format can be "json" or "text"
	Format string `koanf:"format"`
}

// DefinitionsConfig points to the API definitions deployed at startup
type DefinitionsConfig struct {
	Path string `koanf:"path"`
}

// ChainCacheConfig bounds the per-API policy chain cache
type ChainCacheConfig struct {
	// MaxSize is the maximum number of chains cached per API
	MaxSize int `koanf:"max_size"`

	// IdleTimeout evicts chains not used for this long
	IdleTimeout time.Duration `koanf:"idle_timeout"`
}

// ExecutionConfig holds request execution settings
type ExecutionConfig struct {
	// Mode is the engine mode for legacy (v2) APIs: "v4-emulation-engine" or "v3"
	Mode string `koanf:"mode"`

	// AnonymousApplicationID is reported when no application was identified
	AnonymousApplicationID string `koanf:"anonymous_application_id"`

	// RequestIDHeader is read for the request id and generated when absent
	RequestIDHeader string `koanf:"request_id_header"`
}

// UpstreamConfig holds the http mode upstream client settings
type UpstreamConfig struct {
	Timeout time.Duration `koanf:"timeout"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC endpoint (host:port)
	Endpoint string `koanf:"endpoint"`

	// Insecure disables TLS towards the collector
	Insecure bool `koanf:"insecure"`

	ServiceVersion     string        `koanf:"service_version"`
	BatchTimeout       time.Duration `koanf:"batch_timeout"`
	MaxExportBatchSize int           `koanf:"max_export_batch_size"`

	// SamplingRate is the ratio of requests to sample (0.0 to 1.0]
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Load loads configuration from file, environment variables, and defaults.
// Priority: Environment variables > Config file > Defaults
//
// Duration fields accept Go duration strings (e.g., "10s", "5m", "1h").
func Load(configPath string) (*Config, error) {
	cfg := defaultConfig()

	k := koanf.New(".")

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	// Double underscores (__) preserve literal underscores in field names
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Fields from file/env overwrite defaults, unset fields keep defaults
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           cfg,
			DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.FlowEngine.RawConfig = k.Raw()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// envKey maps APIP_FE_FLOW__ENGINE_CHAIN__CACHE_MAX__SIZE to flow_engine.chain_cache.max_size
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
	s = strings.ReplaceAll(s, "_", ".")
	return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
}

// defaultConfig returns a Config struct with default configuration values
func defaultConfig() *Config {
	return &Config{
		FlowEngine: FlowEngine{
			Server: ServerConfig{
				Mode:            "http",
				HTTPPort:        8080,
				ExtProcPort:     9001,
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    60 * time.Second,
				ShutdownTimeout: 15 * time.Second,
			},
			Admin: AdminConfig{
				Enabled:    true,
				Port:       9002,
				AllowedIPs: []string{"127.0.0.1", "::1"},
			},
			Metrics: MetricsConfig{
				Enabled: false,
				Port:    9003,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "text",
			},
			ChainCache: ChainCacheConfig{
				MaxSize:     15,
				IdleTimeout: time.Hour,
			},
			Execution: ExecutionConfig{
				Mode:                   ExecutionModeEmulation,
				AnonymousApplicationID: "1",
				RequestIDHeader:        "X-Request-Id",
			},
			Upstream: UpstreamConfig{
				Timeout: 30 * time.Second,
			},
			TracingServiceName: "flow-engine",
		},
		PolicyConfigurations: map[string]any{},
		TracingConfig: TracingConfig{
			Enabled:            false,
			Endpoint:           "otel-collector:4317",
			Insecure:           true,
			ServiceVersion:     "1.0.0",
			BatchTimeout:       1 * time.Second,
			MaxExportBatchSize: 512,
			SamplingRate:       1.0,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	fe := &c.FlowEngine

	var trafficPort int
	switch fe.Server.Mode {
	case "http":
		trafficPort = fe.Server.HTTPPort
	case "extproc":
		trafficPort = fe.Server.ExtProcPort
	default:
		return fmt.Errorf("server.mode must be 'http' or 'extproc', got: %s", fe.Server.Mode)
	}
	if err := validPort("server port", trafficPort); err != nil {
		return err
	}
	if fe.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if fe.Admin.Enabled {
		if err := validPort("admin.port", fe.Admin.Port); err != nil {
			return err
		}
		if fe.Admin.Port == trafficPort {
			return fmt.Errorf("admin.port cannot be same as the server port")
		}
		if len(fe.Admin.AllowedIPs) == 0 {
			return fmt.Errorf("admin.allowed_ips cannot be empty when admin is enabled")
		}
	}

	if fe.Metrics.Enabled {
		if err := validPort("metrics.port", fe.Metrics.Port); err != nil {
			return err
		}
		if fe.Metrics.Port == trafficPort {
			return fmt.Errorf("metrics.port cannot be same as the server port")
		}
		if fe.Admin.Enabled && fe.Metrics.Port == fe.Admin.Port {
			return fmt.Errorf("metrics.port cannot be same as admin.port")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[fe.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s (must be debug, info, warn, or error)", fe.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[fe.Logging.Format] {
		return fmt.Errorf("invalid logging.format: %s (must be json or text)", fe.Logging.Format)
	}

	if fe.ChainCache.MaxSize <= 0 {
		return fmt.Errorf("chain_cache.max_size must be positive, got %d", fe.ChainCache.MaxSize)
	}
	if fe.ChainCache.IdleTimeout <= 0 {
		return fmt.Errorf("chain_cache.idle_timeout must be positive")
	}

	switch fe.Execution.Mode {
	case ExecutionModeEmulation, ExecutionModeV3:
	default:
		return fmt.Errorf("execution.mode must be '%s' or '%s', got: %s", ExecutionModeEmulation, ExecutionModeV3, fe.Execution.Mode)
	}
	if fe.Execution.AnonymousApplicationID == "" {
		return fmt.Errorf("execution.anonymous_application_id cannot be empty")
	}
	if fe.Execution.RequestIDHeader == "" {
		return fmt.Errorf("execution.request_id_header cannot be empty")
	}

	if fe.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}

	if c.TracingConfig.Enabled {
		if c.TracingConfig.Endpoint == "" {
			return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
		}
		if c.TracingConfig.BatchTimeout <= 0 {
			return fmt.Errorf("tracing.batch_timeout must be positive")
		}
		if c.TracingConfig.MaxExportBatchSize <= 0 {
			return fmt.Errorf("tracing.max_export_batch_size must be positive")
		}
		if c.TracingConfig.SamplingRate <= 0.0 || c.TracingConfig.SamplingRate > 1.0 {
			return fmt.Errorf("tracing.sampling_rate must be > 0.0 and <= 1.0, got %f", c.TracingConfig.SamplingRate)
		}
	}

	return nil
}

func validPort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("invalid %s: %d (must be 1-65535)", name, port)
	}
	return nil
}
