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
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"

	"github.com/wso2/api-platform/gateway/flow-engine/internal/admin"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/config"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/constants"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/definition"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/failure"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/kernel"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/metrics"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/pkg/cel"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/policies"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/registry"
	"github.com/wso2/api-platform/gateway/flow-engine/internal/tracing"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

var (
	configFile      = flag.String("config", "", "Path to configuration file")
	definitionsFile = flag.String("definitions", "", "Path to the API definitions file")
	serverMode      = flag.String("mode", "", "Traffic server mode: http or extproc")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration from %q: %v\n", *configFile, err)
		os.Exit(1)
	}

	// Must run before any metric is touched so that disabled metrics stay no-op
	metrics.SetEnabled(cfg.FlowEngine.Metrics.Enabled)
	metrics.Init()

	applyFlagOverrides(cfg)

	logger := setupLogger(cfg)
	slog.SetDefault(logger)
	ctx := context.Background()

	slog.InfoContext(ctx, "Flow Engine starting",
		"version", Version,
		"git_commit", GitCommit,
		"build_date", BuildDate,
		"config_file", *configFile,
		"server_mode", cfg.FlowEngine.Server.Mode,
		"execution_mode", cfg.FlowEngine.Execution.Mode)

	tracingShutdown, err := tracing.InitTracer(cfg)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer tracingShutdown()

	reg := registry.NewPolicyRegistry()
	reg.SetConfigResolver(registry.NewConfigResolver(cfg.FlowEngine.RawConfig))
	if err := policies.Register(reg); err != nil {
		slog.ErrorContext(ctx, "Failed to register built-in policies", "error", err)
		os.Exit(1)
	}
	slog.InfoContext(ctx, "Policies registered", "policies", reg.Names())

	celEvaluator, err := cel.NewCELEvaluator()
	if err != nil {
		slog.ErrorContext(ctx, "Failed to create CEL evaluator", "error", err)
		os.Exit(1)
	}

	// Tracer is a no-op when tracing is disabled
	tracer := otel.Tracer(cfg.FlowEngine.TracingServiceName)

	opts := []kernel.Option{
		kernel.WithConditionEvaluator(celEvaluator),
		kernel.WithChainCache(cfg.FlowEngine.ChainCache.MaxSize, cfg.FlowEngine.ChainCache.IdleTimeout),
		kernel.WithFailureProcessor(failure.NewProcessor(cfg.FlowEngine.Execution.AnonymousApplicationID, logger)),
		kernel.WithLegacyExecutionMode(legacyExecutionMode(cfg.FlowEngine.Execution.Mode)),
		kernel.WithLogger(logger),
	}
	if cfg.TracingConfig.Enabled {
		opts = append(opts, kernel.WithHooks(tracing.NewHook(tracer)))
	}
	k := kernel.NewKernel(reg, opts...)

	if err := deployDefinitions(ctx, cfg.FlowEngine.Definitions.Path, k); err != nil {
		slog.ErrorContext(ctx, "Failed to deploy API definitions", "error", err)
		os.Exit(1)
	}

	var adminServer *admin.Server
	if cfg.FlowEngine.Admin.Enabled {
		adminServer = admin.NewServer(&cfg.FlowEngine.Admin, k, reg)
		go func() {
			if err := adminServer.Start(ctx); err != nil {
				slog.ErrorContext(ctx, "Admin server error", "error", err)
			}
		}()
	}

	var metricsServer *metrics.Server
	if cfg.FlowEngine.Metrics.Enabled {
		metricsServer = metrics.NewServer(&cfg.FlowEngine.Metrics)
		go func() {
			if err := metricsServer.Start(ctx); err != nil {
				slog.ErrorContext(ctx, "Metrics server error", "error", err)
			}
		}()
		metrics.StartMemoryMetricsUpdater(ctx, 15*time.Second)
	}

	serverErrCh := make(chan error, 1)
	var (
		grpcServer *grpc.Server
		httpServer *http.Server
	)

	switch cfg.FlowEngine.Server.Mode {
	case "extproc":
		lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.FlowEngine.Server.ExtProcPort))
		if err != nil {
			slog.ErrorContext(ctx, "Failed to listen on port", "port", cfg.FlowEngine.Server.ExtProcPort, "error", err)
			os.Exit(1)
		}
		grpcServer = grpc.NewServer()
		extprocv3.RegisterExternalProcessorServer(grpcServer,
			kernel.NewExternalProcessorServer(k, cfg.FlowEngine.Execution.RequestIDHeader, tracer))

		slog.InfoContext(ctx, "Flow Engine listening for ext_proc streams", "port", cfg.FlowEngine.Server.ExtProcPort)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				serverErrCh <- err
			}
		}()

	default:
		handler := kernel.NewHandler(k, kernel.NewHTTPInvoker(cfg.FlowEngine.Upstream.Timeout),
			cfg.FlowEngine.Execution.RequestIDHeader, tracer)
		httpServer = &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.FlowEngine.Server.HTTPPort),
			Handler:      handler,
			ReadTimeout:  cfg.FlowEngine.Server.ReadTimeout,
			WriteTimeout: cfg.FlowEngine.Server.WriteTimeout,
		}

		slog.InfoContext(ctx, "Flow Engine listening for HTTP traffic", "port", cfg.FlowEngine.Server.HTTPPort)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrCh <- err
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.InfoContext(ctx, "Received signal, shutting down gracefully", "signal", sig)
	case err := <-serverErrCh:
		slog.ErrorContext(ctx, "Server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.FlowEngine.Server.ShutdownTimeout)
	defer cancel()

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "Error stopping HTTP server", "error", err)
		}
	}
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}

	if adminServer != nil {
		if err := adminServer.Stop(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "Error stopping admin server", "error", err)
		}
	}

	if metricsServer != nil {
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			slog.ErrorContext(ctx, "Error stopping metrics server", "error", err)
		}
	}

	k.Shutdown()

	slog.InfoContext(ctx, "Flow Engine shut down successfully")
}

// applyFlagOverrides applies command-line flag overrides to the configuration
func applyFlagOverrides(cfg *config.Config) {
	if *definitionsFile != "" {
		cfg.FlowEngine.Definitions.Path = *definitionsFile
	}
	if *serverMode != "" {
		cfg.FlowEngine.Server.Mode = *serverMode
	}
}

// legacyExecutionMode maps the configured engine mode to the tag legacy policies run with
func legacyExecutionMode(mode string) string {
	if mode == config.ExecutionModeV3 {
		return constants.ExecutionModeV2
	}
	return config.ExecutionModeEmulation
}

// setupLogger creates a logger based on configuration
func setupLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.FlowEngine.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.FlowEngine.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// deployDefinitions deploys every API of the definitions file
func deployDefinitions(ctx context.Context, path string, k *kernel.Kernel) error {
	if path == "" {
		slog.WarnContext(ctx, "No API definitions configured, no traffic will be matched")
		return nil
	}

	apis, err := definition.LoadFile(path)
	if err != nil {
		return err
	}
	for i := range apis {
		if err := k.Deploy(&apis[i]); err != nil {
			return fmt.Errorf("api %s: %w", apis[i].ID, err)
		}
	}

	slog.InfoContext(ctx, "API definitions deployed", "path", path, "apis", len(apis))
	return nil
}
