// Package metrics adapts ports.MetricsCollector onto a private Prometheus
// registry that can be dumped in the text exposition format after a run.
package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alexisbeaulieu97/kettle/internal/ports"
)

type kind int

const (
	kindCounter kind = iota
	kindGauge
	kindHistogram
)

type definition struct {
	kind   kind
	help   string
	labels []string
}

var definitions = map[string]definition{
	ports.MetricStepExecutions: {kind: kindCounter, help: "Step executions by language and final state.", labels: []string{"language", "state"}},
	ports.MetricStepDuration:   {kind: kindHistogram, help: "Wall-clock duration of step executions.", labels: []string{"language"}},
	ports.MetricActiveSteps:    {kind: kindGauge, help: "Steps currently executing."},
	ports.MetricProjectRuns:    {kind: kindCounter, help: "Project runs by result.", labels: []string{"status"}},
}

// PrometheusCollector implements ports.MetricsCollector. Metrics outside the
// predefined set are created on first use with the label names of that first
// observation; later observations with a different label set are dropped.
type PrometheusCollector struct {
	registry *prometheus.Registry
	logger   ports.Logger

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
	labelNames map[string][]string
}

var _ ports.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector creates a collector with its own registry and
// registers the standard kettle metrics.
func NewPrometheusCollector(logger ports.Logger) *PrometheusCollector {
	c := &PrometheusCollector{
		registry:   prometheus.NewRegistry(),
		logger:     logger,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		labelNames: make(map[string][]string),
	}
	for name, def := range definitions {
		c.register(name, def)
	}
	return c
}

// Registry exposes the underlying registry for gathering.
func (c *PrometheusCollector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile writes every gathered metric to path in the text exposition
// format, replacing the file atomically.
func (c *PrometheusCollector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return fmt.Errorf("write metrics to %s: %w", path, err)
	}
	return nil
}

func (c *PrometheusCollector) IncCounter(ctx context.Context, name string, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.counters[name]
	if !ok {
		if _, known := c.labelNames[name]; known {
			c.mismatch(ctx, name, labels)
			return
		}
		vec = c.register(name, definition{kind: kindCounter, help: name, labels: labelKeys(labels)}).(*prometheus.CounterVec)
	}
	counter, err := vec.GetMetricWith(c.fill(name, labels))
	if err != nil {
		c.mismatch(ctx, name, labels)
		return
	}
	counter.Inc()
}

func (c *PrometheusCollector) SetGauge(ctx context.Context, name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.gauges[name]
	if !ok {
		if _, known := c.labelNames[name]; known {
			c.mismatch(ctx, name, labels)
			return
		}
		vec = c.register(name, definition{kind: kindGauge, help: name, labels: labelKeys(labels)}).(*prometheus.GaugeVec)
	}
	gauge, err := vec.GetMetricWith(c.fill(name, labels))
	if err != nil {
		c.mismatch(ctx, name, labels)
		return
	}
	gauge.Set(value)
}

func (c *PrometheusCollector) ObserveHistogram(ctx context.Context, name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	vec, ok := c.histograms[name]
	if !ok {
		if _, known := c.labelNames[name]; known {
			c.mismatch(ctx, name, labels)
			return
		}
		vec = c.register(name, definition{kind: kindHistogram, help: name, labels: labelKeys(labels)}).(*prometheus.HistogramVec)
	}
	observer, err := vec.GetMetricWith(c.fill(name, labels))
	if err != nil {
		c.mismatch(ctx, name, labels)
		return
	}
	observer.Observe(value)
}

func (c *PrometheusCollector) register(name string, def definition) prometheus.Collector {
	var collector prometheus.Collector
	switch def.kind {
	case kindCounter:
		vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: def.help}, def.labels)
		c.counters[name] = vec
		collector = vec
	case kindGauge:
		vec := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: def.help}, def.labels)
		c.gauges[name] = vec
		collector = vec
	default:
		vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: def.help, Buckets: prometheus.DefBuckets}, def.labels)
		c.histograms[name] = vec
		collector = vec
	}
	c.labelNames[name] = def.labels
	c.registry.MustRegister(collector)
	return collector
}

// fill supplies empty values for declared labels the caller left out.
func (c *PrometheusCollector) fill(name string, labels map[string]string) prometheus.Labels {
	out := make(prometheus.Labels, len(c.labelNames[name]))
	for _, key := range c.labelNames[name] {
		out[key] = labels[key]
	}
	for key, value := range labels {
		out[key] = value
	}
	return out
}

func (c *PrometheusCollector) mismatch(ctx context.Context, name string, labels map[string]string) {
	if c.logger != nil {
		c.logger.Warn(ctx, "dropping metric observation", "metric", name, "labels", labels, "expected", c.labelNames[name])
	}
}

func labelKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
