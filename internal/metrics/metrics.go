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

package metrics

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "flow_engine"
)

var (
	once     sync.Once
	registry *prometheus.Registry

	RequestsTotal          CounterVec   = noopCounterVec{}
	RequestDurationSeconds HistogramVec = noopHistogramVec{}
	RequestsCancelledTotal CounterVec   = noopCounterVec{}

	ChainCacheHitsTotal      CounterVec = noopCounterVec{}
	ChainCacheMissesTotal    CounterVec = noopCounterVec{}
	ChainCacheEvictionsTotal CounterVec = noopCounterVec{}
	ChainCacheEntries        GaugeVec   = noopGaugeVec{}
	ChainsBuiltTotal         CounterVec = noopCounterVec{}
	ChainBuildErrorsTotal    CounterVec = noopCounterVec{}
	PoliciesPerChain         GaugeVec   = noopGaugeVec{}
	PoliciesDroppedTotal     CounterVec = noopCounterVec{}

	PolicyExecutionsTotal CounterVec   = noopCounterVec{}
	PolicyDurationSeconds HistogramVec = noopHistogramVec{}
	PolicySkippedTotal    CounterVec   = noopCounterVec{}
	ShortCircuitsTotal    CounterVec   = noopCounterVec{}
	HookErrorsTotal       CounterVec   = noopCounterVec{}

	ExecutionFailuresTotal CounterVec = noopCounterVec{}
	FailureResponsesTotal  CounterVec = noopCounterVec{}

	DeployedAPIs      Gauge      = noopGauge{}
	ActiveStreams     Gauge      = noopGauge{}
	StreamErrorsTotal CounterVec = noopCounterVec{}

	Up          Gauge     = noopGauge{}
	Goroutines  GaugeFunc = nil
	MemoryBytes GaugeVec  = noopGaugeVec{}

	PanicRecoveriesTotal CounterVec = noopCounterVec{}
)

// initMetrics initializes all metric variables.
// Must be called after SetEnabled() so disabled metrics stay noop.
func initMetrics() {
	RequestsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of requests processed by the flow engine",
		},
		[]string{"api", "execution_mode", "outcome"},
	)

	RequestDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Duration of request processing in seconds, upstream included",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
		},
		[]string{"api"},
	)

	RequestsCancelledTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_cancelled_total",
			Help:      "Total number of requests abandoned after cancellation",
		},
		[]string{"api", "phase"},
	)

	ChainCacheHitsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_cache_hits_total",
			Help:      "Total number of policy chain cache hits",
		},
		[]string{"cache"},
	)

	ChainCacheMissesTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_cache_misses_total",
			Help:      "Total number of policy chain cache misses",
		},
		[]string{"cache"},
	)

	ChainCacheEvictionsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_cache_evictions_total",
			Help:      "Total number of policy chains evicted from the cache",
		},
		[]string{"cache"},
	)

	ChainCacheEntries = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chain_cache_entries",
			Help:      "Current number of cached policy chains",
		},
		[]string{"cache"},
	)

	ChainsBuiltTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chains_built_total",
			Help:      "Total number of policy chains built",
		},
		[]string{"phase"},
	)

	ChainBuildErrorsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_build_errors_total",
			Help:      "Total number of policy chain build failures",
		},
		[]string{"phase"},
	)

	PoliciesPerChain = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "policies_per_chain",
			Help:      "Number of policies in each built policy chain",
		},
		[]string{"chain", "phase"},
	)

	PoliciesDroppedTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policies_dropped_total",
			Help:      "Total number of steps dropped because the policy could not be resolved",
		},
		[]string{"policy_id", "phase"},
	)

	PolicyExecutionsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_executions_total",
			Help:      "Total number of policy executions",
		},
		[]string{"policy_id", "phase", "status"},
	)

	PolicyDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "policy_duration_seconds",
			Help:      "Duration of individual policy execution in seconds",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		},
		[]string{"policy_id", "phase"},
	)

	PolicySkippedTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_skipped_total",
			Help:      "Total number of skipped policies",
		},
		[]string{"policy_id", "phase", "reason"},
	)

	ShortCircuitsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "short_circuits_total",
			Help:      "Total number of chains halted early by a policy",
		},
		[]string{"phase", "policy_id", "kind"},
	)

	HookErrorsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hook_errors_total",
			Help:      "Total number of execution hook failures",
		},
		[]string{"hook", "stage"},
	)

	ExecutionFailuresTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "execution_failures_total",
			Help:      "Total number of execution failures by status code and key",
		},
		[]string{"status", "key"},
	)

	FailureResponsesTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_responses_total",
			Help:      "Total number of failure responses written",
		},
		[]string{"status", "content_type"},
	)

	DeployedAPIs = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "deployed_apis",
			Help:      "Number of APIs currently deployed",
		},
	)

	ActiveStreams = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_streams",
			Help:      "Number of active ext_proc streams",
		},
	)

	StreamErrorsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_errors_total",
			Help:      "Total number of gRPC stream errors",
		},
		[]string{"error_type"},
	)

	Up = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Flow engine liveness indicator (1=up, 0=down)",
		},
	)

	Goroutines = newGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
		func() float64 {
			return float64(runtime.NumGoroutine())
		},
	)

	MemoryBytes = newGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "memory_bytes",
			Help:      "Memory usage in bytes",
		},
		[]string{"type"},
	)

	PanicRecoveriesTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panic_recoveries_total",
			Help:      "Total number of panic recoveries",
		},
		[]string{"component"},
	)
}

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	for _, m := range []any{
		RequestsTotal, RequestDurationSeconds, RequestsCancelledTotal,
		ChainCacheHitsTotal, ChainCacheMissesTotal, ChainCacheEvictionsTotal, ChainCacheEntries,
		ChainsBuiltTotal, ChainBuildErrorsTotal, PoliciesPerChain, PoliciesDroppedTotal,
		PolicyExecutionsTotal, PolicyDurationSeconds, PolicySkippedTotal, ShortCircuitsTotal, HookErrorsTotal,
		ExecutionFailuresTotal, FailureResponsesTotal,
		DeployedAPIs, ActiveStreams, StreamErrorsTotal,
		Up, MemoryBytes, PanicRecoveriesTotal,
	} {
		register(registry, m)
	}
	if Goroutines != nil {
		register(registry, Goroutines)
	}

	Up.Set(1)
}

// Init initializes the metrics registry with all collectors.
// Must be called after SetEnabled().
func Init() *prometheus.Registry {
	once.Do(func() {
		initMetrics()
		metricsInitialized.Store(true)

		if !Enabled {
			registry = prometheus.NewRegistry()
			return
		}
		initRegistry()
	})

	return registry
}

// IsInitialized reports whether Init() has run
func IsInitialized() bool {
	return metricsInitialized.Load()
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}

// UpdateMemoryMetrics updates memory-related metrics
func UpdateMemoryMetrics() {
	if !Enabled {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	MemoryBytes.WithLabelValues("heap_alloc").Set(float64(m.HeapAlloc))
	MemoryBytes.WithLabelValues("heap_sys").Set(float64(m.HeapSys))
	MemoryBytes.WithLabelValues("stack").Set(float64(m.StackInuse))
}
