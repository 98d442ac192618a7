// Package metrics exposes the engine's prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "delightful"

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Published       *prometheus.CounterVec
	PublishFailures *prometheus.CounterVec
	Consumed        *prometheus.CounterVec
	PushRetries     prometheus.Counter
	PushDropped     prometheus.Counter
	SideEffects     *prometheus.CounterVec
	StreamFlushes   *prometheus.CounterVec
	ControlEvents   *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_published_total",
			Help:      "Dispatch units published to the queue, by priority.",
		}, []string{"priority"}),
		PublishFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_publish_failures_total",
			Help:      "Queue publishes that failed, by priority.",
		}, []string{"priority"}),
		Consumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatch_consumed_total",
			Help:      "Dispatch units consumed from the queue, by priority.",
		}, []string{"priority"}),
		PushRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_retries_total",
			Help:      "Push attempts retried because the seq was not yet visible.",
		}),
		PushDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "push_dropped_total",
			Help:      "Pushes dropped after exhausting retries.",
		}),
		SideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "agent_side_effects_total",
			Help:      "Agent side effects, by outcome (ran, duplicate, failed).",
		}, []string{"outcome"}),
		StreamFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_flushes_total",
			Help:      "Stream message flushes to storage, by stream status.",
		}, []string{"status"}),
		ControlEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_events_total",
			Help:      "Applied control messages, by type.",
		}, []string{"type"}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.PublishFailures, m.Consumed, m.PushRetries, m.PushDropped,
			m.SideEffects, m.StreamFlushes, m.ControlEvents)
	}
	return m
}

// RegisterGauge exposes a value computed on scrape, such as queue depth or
// connected devices.
func RegisterGauge(reg prometheus.Registerer, name, help string, fn func() float64) {
	if reg == nil {
		return
	}
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func (m *Metrics) IncPublished(priority string) {
	if m != nil {
		m.Published.WithLabelValues(priority).Inc()
	}
}

func (m *Metrics) IncPublishFailure(priority string) {
	if m != nil {
		m.PublishFailures.WithLabelValues(priority).Inc()
	}
}

func (m *Metrics) IncConsumed(priority string) {
	if m != nil {
		m.Consumed.WithLabelValues(priority).Inc()
	}
}

func (m *Metrics) IncPushRetry() {
	if m != nil {
		m.PushRetries.Inc()
	}
}

func (m *Metrics) IncPushDropped() {
	if m != nil {
		m.PushDropped.Inc()
	}
}

func (m *Metrics) IncSideEffect(outcome string) {
	if m != nil {
		m.SideEffects.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) IncStreamFlush(status string) {
	if m != nil {
		m.StreamFlushes.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) IncControl(t string) {
	if m != nil {
		m.ControlEvents.WithLabelValues(t).Inc()
	}
}
