package telemetry

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/3cpo-dev/readygate/internal/probe"
)

// MetricType represents the type of metric
type MetricType string

const (
	Counter MetricType = "counter"
	Timer   MetricType = "timer"
)

const (
	MetricAttempts = "readygate_probe_attempts"
	MetricFailures = "readygate_probe_failures"
	MetricLatency  = "readygate_probe_latency"
)

// Metric is an aggregated series. For timers Value is the total in
// milliseconds and Count the number of observations.
type Metric struct {
	Name   string            `json:"name"`
	Type   MetricType        `json:"type"`
	Value  float64           `json:"value"`
	Count  int64             `json:"count,omitempty"`
	Max    float64           `json:"max,omitempty"`
	Labels map[string]string `json:"labels"`
	Unit   string            `json:"unit,omitempty"`
}

// Collector aggregates probe metrics in memory. Samples are folded into
// one series per name and label set, so an unbounded wait does not grow it.
type Collector struct {
	mu     sync.RWMutex
	series map[string]*Metric
}

// NewCollector creates a new telemetry collector
func NewCollector() *Collector {
	return &Collector{series: map[string]*Metric{}}
}

// Counter increments a counter metric
func (c *Collector) Counter(name string, value float64, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.get(name, Counter, labels)
	m.Value += value
}

// Timer records a duration measurement
func (c *Collector) Timer(name string, d time.Duration, labels map[string]string) {
	ms := float64(d) / float64(time.Millisecond)
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.get(name, Timer, labels)
	m.Value += ms
	m.Count++
	if ms > m.Max {
		m.Max = ms
	}
}

func (c *Collector) get(name string, typ MetricType, labels map[string]string) *Metric {
	key := seriesKey(name, labels)
	m, ok := c.series[key]
	if !ok {
		m = &Metric{Name: name, Type: typ, Labels: copyLabels(labels)}
		if typ == Timer {
			m.Unit = "ms"
		}
		c.series[key] = m
	}
	return m
}

// ObserveAttempt records one probe attempt.
func (c *Collector) ObserveAttempt(_ context.Context, r probe.Result) {
	labels := map[string]string{"target": r.Target}
	c.Counter(MetricAttempts, 1, labels)
	if !r.OK {
		c.Counter(MetricFailures, 1, labels)
	}
	c.Timer(MetricLatency, r.Latency, labels)
}

// GetMetrics returns a copy of current metrics sorted by name and labels.
func (c *Collector) GetMetrics() []Metric {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keys := make([]string, 0, len(c.series))
	for k := range c.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]Metric, 0, len(keys))
	for _, k := range keys {
		m := *c.series[k]
		m.Labels = copyLabels(m.Labels)
		out = append(out, m)
	}
	return out
}

// Value returns the current value of a series, or 0 if it was never set.
func (c *Collector) Value(name string, labels map[string]string) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.series[seriesKey(name, labels)]; ok {
		return m.Value
	}
	return 0
}

// Flush writes every series to the logger at debug level.
func (c *Collector) Flush(logger zerolog.Logger) {
	metrics := c.GetMetrics()
	if len(metrics) == 0 {
		return
	}
	logger.Debug().Int("count", len(metrics)).Msg("Flushing telemetry metrics")
	for _, metric := range metrics {
		ev := logger.Debug().
			Str("name", metric.Name).
			Str("type", string(metric.Type)).
			Float64("value", metric.Value).
			Interface("labels", metric.Labels)
		if metric.Type == Timer {
			ev = ev.Int64("count", metric.Count).Float64("max", metric.Max)
		}
		ev.Msg("telemetry_metric")
	}
}

func seriesKey(name string, labels map[string]string) string {
	pairs := make([]string, 0, len(labels))
	for k, v := range labels {
		pairs = append(pairs, k+"="+v)
	}
	sort.Strings(pairs)
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
