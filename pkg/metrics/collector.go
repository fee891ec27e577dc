// Copyright © 2025 jackelyj <dreamerlyj@gmail.com>
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//

// Package metrics provides the metrics collector used by kvnotify
// components. The Prometheus-backed collector lazily registers one vector
// per metric name; label names are fixed by the first use of a name.
package metrics

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/innovationmech/kvnotify/pkg/logger"
)

// Collector records metrics.
type Collector interface {
	IncrementCounter(name string, labels map[string]string)
	AddToCounter(name string, value float64, labels map[string]string)
	SetGauge(name string, value float64, labels map[string]string)
	ObserveHistogram(name string, value float64, labels map[string]string)
}

// NoopCollector discards every metric.
type NoopCollector struct{}

func (NoopCollector) IncrementCounter(string, map[string]string)          {}
func (NoopCollector) AddToCounter(string, float64, map[string]string)     {}
func (NoopCollector) SetGauge(string, float64, map[string]string)         {}
func (NoopCollector) ObserveHistogram(string, float64, map[string]string) {}

// PrometheusConfig holds configuration for the Prometheus collector.
type PrometheusConfig struct {
	Namespace string    `yaml:"namespace" json:"namespace" mapstructure:"namespace"`
	Subsystem string    `yaml:"subsystem" json:"subsystem" mapstructure:"subsystem"`
	Buckets   []float64 `yaml:"buckets" json:"buckets" mapstructure:"buckets"`
}

// DefaultPrometheusConfig returns the default collector configuration.
func DefaultPrometheusConfig() *PrometheusConfig {
	return &PrometheusConfig{
		Namespace: "kvnotify",
		Subsystem: "",
		Buckets:   []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5},
	}
}

// PrometheusCollector implements Collector using the Prometheus client.
type PrometheusCollector struct {
	config     *PrometheusConfig
	registry   *prometheus.Registry
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	mu         sync.Mutex
}

// NewPrometheusCollector creates a collector with its own registry.
func NewPrometheusCollector(config *PrometheusConfig) *PrometheusCollector {
	if config == nil {
		config = DefaultPrometheusConfig()
	}
	if len(config.Buckets) == 0 {
		config.Buckets = DefaultPrometheusConfig().Buckets
	}
	return &PrometheusCollector{
		config:     config,
		registry:   prometheus.NewRegistry(),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// IncrementCounter increments a counter metric by 1
func (pc *PrometheusCollector) IncrementCounter(name string, labels map[string]string) {
	pc.AddToCounter(name, 1, labels)
}

// AddToCounter adds a value to a counter metric
func (pc *PrometheusCollector) AddToCounter(name string, value float64, labels map[string]string) {
	pc.mu.Lock()
	vec, ok := pc.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: pc.config.Namespace,
			Subsystem: pc.config.Subsystem,
			Name:      sanitizeMetricName(name),
			Help:      fmt.Sprintf("Counter metric %s", name),
		}, labelNames(labels))
		if !pc.register(name, vec) {
			pc.mu.Unlock()
			return
		}
		pc.counters[name] = vec
	}
	pc.mu.Unlock()

	counter, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		logger.GetLogger().Debug("counter labels rejected", zap.String("metric", name), zap.Error(err))
		return
	}
	counter.Add(value)
}

// SetGauge sets a gauge metric to a specific value
func (pc *PrometheusCollector) SetGauge(name string, value float64, labels map[string]string) {
	pc.mu.Lock()
	vec, ok := pc.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: pc.config.Namespace,
			Subsystem: pc.config.Subsystem,
			Name:      sanitizeMetricName(name),
			Help:      fmt.Sprintf("Gauge metric %s", name),
		}, labelNames(labels))
		if !pc.register(name, vec) {
			pc.mu.Unlock()
			return
		}
		pc.gauges[name] = vec
	}
	pc.mu.Unlock()

	gauge, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		logger.GetLogger().Debug("gauge labels rejected", zap.String("metric", name), zap.Error(err))
		return
	}
	gauge.Set(value)
}

// ObserveHistogram adds an observation to a histogram metric
func (pc *PrometheusCollector) ObserveHistogram(name string, value float64, labels map[string]string) {
	pc.mu.Lock()
	vec, ok := pc.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: pc.config.Namespace,
			Subsystem: pc.config.Subsystem,
			Name:      sanitizeMetricName(name),
			Help:      fmt.Sprintf("Histogram metric %s", name),
			Buckets:   pc.config.Buckets,
		}, labelNames(labels))
		if !pc.register(name, vec) {
			pc.mu.Unlock()
			return
		}
		pc.histograms[name] = vec
	}
	pc.mu.Unlock()

	observer, err := vec.GetMetricWith(prometheus.Labels(labels))
	if err != nil {
		logger.GetLogger().Debug("histogram labels rejected", zap.String("metric", name), zap.Error(err))
		return
	}
	observer.Observe(value)
}

// Handler returns the HTTP handler for the Prometheus metrics endpoint.
func (pc *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(pc.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	})
}

// Registry returns the Prometheus registry for advanced usage.
func (pc *PrometheusCollector) Registry() *prometheus.Registry {
	return pc.registry
}

// register must be called with pc.mu held.
func (pc *PrometheusCollector) register(name string, c prometheus.Collector) bool {
	if err := pc.registry.Register(c); err != nil {
		logger.GetLogger().Warn("failed to register metric", zap.String("metric", name), zap.Error(err))
		return false
	}
	return true
}

func labelNames(labels map[string]string) []string {
	if len(labels) == 0 {
		return nil
	}
	names := make([]string, 0, len(labels))
	for name := range labels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var invalidMetricChars = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

func sanitizeMetricName(name string) string {
	return invalidMetricChars.ReplaceAllString(name, "_")
}
