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
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Enabled indicates whether metrics collection is enabled.
// Set once at startup via SetEnabled() before Init().
var Enabled bool

var metricsInitialized atomic.Bool

// Counter is the subset of prometheus.Counter used by the engine
type Counter interface {
	Inc()
	Add(float64)
}

// CounterVec is the subset of prometheus.CounterVec used by the engine
type CounterVec interface {
	WithLabelValues(labels ...string) Counter
	With(prometheus.Labels) Counter
}

// Histogram is the subset of prometheus.Histogram used by the engine
type Histogram interface {
	Observe(float64)
}

// HistogramVec is the subset of prometheus.HistogramVec used by the engine
type HistogramVec interface {
	WithLabelValues(labels ...string) Histogram
	With(prometheus.Labels) Histogram
}

// Gauge is the subset of prometheus.Gauge used by the engine
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

// GaugeVec is the subset of prometheus.GaugeVec used by the engine
type GaugeVec interface {
	WithLabelValues(labels ...string) Gauge
	With(prometheus.Labels) Gauge
}

// GaugeFunc is a callback based gauge
type GaugeFunc interface {
	prometheus.Metric
	prometheus.Collector
}

// Noop implementations. Every metric variable holds one of these until Init()
// runs with metrics enabled, so callers never need a nil check.

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) WithLabelValues(...string) Counter { return noopCounter{} }
func (noopCounterVec) With(prometheus.Labels) Counter    { return noopCounter{} }

type noopHistogram struct{}

func (noopHistogram) Observe(float64) {}

type noopHistogramVec struct{}

func (noopHistogramVec) WithLabelValues(...string) Histogram { return noopHistogram{} }
func (noopHistogramVec) With(prometheus.Labels) Histogram    { return noopHistogram{} }

type noopGauge struct{}

func (noopGauge) Set(float64) {}
func (noopGauge) Inc()        {}
func (noopGauge) Dec()        {}
func (noopGauge) Add(float64) {}
func (noopGauge) Sub(float64) {}

type noopGaugeVec struct{}

func (noopGaugeVec) WithLabelValues(...string) Gauge { return noopGauge{} }
func (noopGaugeVec) With(prometheus.Labels) Gauge    { return noopGauge{} }

type counterVecWrapper struct {
	*prometheus.CounterVec
}

func (c *counterVecWrapper) WithLabelValues(labels ...string) Counter {
	return c.CounterVec.WithLabelValues(labels...)
}

func (c *counterVecWrapper) With(labels prometheus.Labels) Counter {
	return c.CounterVec.With(labels)
}

type histogramVecWrapper struct {
	*prometheus.HistogramVec
}

func (h *histogramVecWrapper) WithLabelValues(labels ...string) Histogram {
	return h.HistogramVec.WithLabelValues(labels...)
}

func (h *histogramVecWrapper) With(labels prometheus.Labels) Histogram {
	return h.HistogramVec.With(labels)
}

type gaugeVecWrapper struct {
	*prometheus.GaugeVec
}

func (g *gaugeVecWrapper) WithLabelValues(labels ...string) Gauge {
	return g.GaugeVec.WithLabelValues(labels...)
}

func (g *gaugeVecWrapper) With(labels prometheus.Labels) Gauge {
	return g.GaugeVec.With(labels)
}

// IsEnabled returns whether metrics collection is enabled
func IsEnabled() bool {
	return Enabled
}

// SetEnabled sets whether metrics collection is enabled.
// Must be called before Init().
func SetEnabled(e bool) {
	Enabled = e
}

func newCounterVec(opts prometheus.CounterOpts, labelNames []string) CounterVec {
	if Enabled {
		return &counterVecWrapper{prometheus.NewCounterVec(opts, labelNames)}
	}
	return noopCounterVec{}
}

func newHistogramVec(opts prometheus.HistogramOpts, labelNames []string) HistogramVec {
	if Enabled {
		return &histogramVecWrapper{prometheus.NewHistogramVec(opts, labelNames)}
	}
	return noopHistogramVec{}
}

func newGaugeVec(opts prometheus.GaugeOpts, labelNames []string) GaugeVec {
	if Enabled {
		return &gaugeVecWrapper{prometheus.NewGaugeVec(opts, labelNames)}
	}
	return noopGaugeVec{}
}

func newGauge(opts prometheus.GaugeOpts) Gauge {
	if Enabled {
		return prometheus.NewGauge(opts)
	}
	return noopGauge{}
}

// newGaugeFunc returns nil when disabled; registration skips nil collectors
func newGaugeFunc(opts prometheus.GaugeOpts, f func() float64) GaugeFunc {
	if Enabled {
		return prometheus.NewGaugeFunc(opts, f)
	}
	return nil
}

// register adds a collector to the registry, ignoring noop and duplicate collectors
func register(reg *prometheus.Registry, m any) {
	var c prometheus.Collector
	switch v := m.(type) {
	case *counterVecWrapper:
		c = v.CounterVec
	case *histogramVecWrapper:
		c = v.HistogramVec
	case *gaugeVecWrapper:
		c = v.GaugeVec
	case prometheus.Collector:
		c = v
	default:
		return
	}
	if c == nil {
		return
	}
	_ = reg.Register(c)
}
