// Package metrics provides internal metrics collection for the
// orchestration core. This package is internal and should not be imported
// by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector aggregates the Prometheus instruments for session
// orchestration, tool execution, and event streaming.
type Collector struct {
	signalsTotal       *prometheus.CounterVec
	stepsTotal         *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	interruptsTotal    *prometheus.CounterVec
	resumesTotal       *prometheus.CounterVec
	eventsTotal        *prometheus.CounterVec
	toolRetriesTotal   *prometheus.CounterVec
	bufferFlushesTotal prometheus.Counter
	activeSessions     prometheus.Gauge
}

// NewCollector registers the instruments with reg. A nil reg uses the
// default registerer.
func NewCollector(namespace string, reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Collector{
		signalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Signals processed, by signal kind and result",
			},
			[]string{"signal", "result"},
		),
		stepsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_total",
				Help:      "Step executions, by outcome",
			},
			[]string{"outcome"},
		),
		stepDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Step execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		interruptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "interrupts_total",
				Help:      "Interrupts raised, by kind",
			},
			[]string{"kind"},
		),
		resumesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resumes_total",
				Help:      "Resume signals, by validation result",
			},
			[]string{"result"},
		),
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Events published to the broker, by type",
			},
			[]string{"type"},
		),
		toolRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_retries_total",
				Help:      "Tool execution retries, by tool name",
			},
			[]string{"tool"},
		),
		bufferFlushesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffer_flushes_total",
				Help:      "Session buffer bulk flushes",
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Live session actors",
			},
		),
	}
}

// Signal records a processed signal.
func (c *Collector) Signal(signal, result string) {
	if c == nil {
		return
	}
	c.signalsTotal.WithLabelValues(signal, result).Inc()
}

// Step records a step execution.
func (c *Collector) Step(step, outcome string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.stepsTotal.WithLabelValues(outcome).Inc()
	c.stepDuration.WithLabelValues(step).Observe(elapsed.Seconds())
}

// Interrupt records a raised interrupt.
func (c *Collector) Interrupt(kind string) {
	if c == nil {
		return
	}
	c.interruptsTotal.WithLabelValues(kind).Inc()
}

// Resume records a resume validation outcome.
func (c *Collector) Resume(result string) {
	if c == nil {
		return
	}
	c.resumesTotal.WithLabelValues(result).Inc()
}

// Event records a published event.
func (c *Collector) Event(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.WithLabelValues(eventType).Inc()
}

// ToolRetry records one retry of a tool execution.
func (c *Collector) ToolRetry(toolName string) {
	if c == nil {
		return
	}
	c.toolRetriesTotal.WithLabelValues(toolName).Inc()
}

// BufferFlush records a session buffer bulk flush.
func (c *Collector) BufferFlush() {
	if c == nil {
		return
	}
	c.bufferFlushesTotal.Inc()
}

// SessionStarted tracks a new live actor.
func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

// SessionStopped tracks a terminated actor.
func (c *Collector) SessionStopped() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}
