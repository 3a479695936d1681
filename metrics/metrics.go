// Package metrics exposes the agent's counters to Prometheus and keeps plain copies for status logging.
package metrics

import (
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "envshadow"

// Outcome labels a telemetry publish attempt.
type Outcome string

const (
	OutcomeSent       Outcome = "sent"
	OutcomeFailed     Outcome = "failed"
	OutcomeSuppressed Outcome = "suppressed"
)

// Metrics holds every counter and gauge the agent reports. All methods are safe on a nil *Metrics, which records
// nothing.
type Metrics struct {
	messages       *prometheus.CounterVec
	shadowUpdates  prometheus.Counter
	controlUpdates prometheus.Counter
	acks           *prometheus.CounterVec
	triggers       prometheus.Counter
	readings       *prometheus.GaugeVec
	sendEnabled    prometheus.Gauge
	sendInterval   prometheus.Gauge

	sent, failed, suppressed atomic.Uint64
	shadow, control          atomic.Uint64
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "telemetry_messages_total",
			Help:      "Telemetry publish attempts by outcome.",
		}, []string{"outcome"}),
		shadowUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shadow_deltas_total",
			Help:      "Shadow delta documents received, including malformed ones.",
		}),
		controlUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "control_updates_total",
			Help:      "Changes applied to the send configuration.",
		}),
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shadow_acks_total",
			Help:      "Shadow acknowledgements published by kind and result.",
		}, []string{"kind", "result"}),
		triggers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_triggers_total",
			Help:      "Manual sensor read triggers.",
		}),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_reading",
			Help:      "Most recent sensor reading by quantity.",
		}, []string{"quantity"}),
		sendEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_enabled",
			Help:      "1 when telemetry publishing is enabled.",
		}),
		sendInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "send_interval_seconds",
			Help:      "Configured telemetry interval.",
		}),
	}

	reg.MustRegister(
		m.messages,
		m.shadowUpdates,
		m.controlUpdates,
		m.acks,
		m.triggers,
		m.readings,
		m.sendEnabled,
		m.sendInterval,
	)

	return m
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Message counts a telemetry publish attempt.
func (m *Metrics) Message(o Outcome) {
	if m == nil {
		return
	}

	m.messages.WithLabelValues(string(o)).Inc()
	switch o {
	case OutcomeSent:
		m.sent.Add(1)
	case OutcomeFailed:
		m.failed.Add(1)
	case OutcomeSuppressed:
		m.suppressed.Add(1)
	}
}

// ShadowUpdate counts a received delta.
func (m *Metrics) ShadowUpdate() {
	if m == nil {
		return
	}

	m.shadowUpdates.Inc()
	m.shadow.Add(1)
}

// ControlUpdate counts an applied configuration change.
func (m *Metrics) ControlUpdate() {
	if m == nil {
		return
	}

	m.controlUpdates.Inc()
	m.control.Add(1)
}

// Ack counts a shadow acknowledgement publish. kind is accepted or rejected.
func (m *Metrics) Ack(kind string, err error) {
	if m == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = "error"
	}

	m.acks.WithLabelValues(kind, result).Inc()
}

// Trigger counts a manual read trigger.
func (m *Metrics) Trigger() {
	if m == nil {
		return
	}

	m.triggers.Inc()
}

// Reading records the latest measurement.
func (m *Metrics) Reading(temperature, humidity, pressure float64) {
	if m == nil {
		return
	}

	m.readings.WithLabelValues("temperature").Set(temperature)
	m.readings.WithLabelValues("humidity").Set(humidity)
	m.readings.WithLabelValues("pressure").Set(pressure)
}

// Control records the current send configuration.
func (m *Metrics) Control(enabled bool, interval time.Duration) {
	if m == nil {
		return
	}

	if enabled {
		m.sendEnabled.Set(1)
	} else {
		m.sendEnabled.Set(0)
	}
	m.sendInterval.Set(interval.Seconds())
}

// Snapshot is a point in time copy of the counters. It implements slog.LogValuer.
type Snapshot struct {
	Sent           uint64
	Failed         uint64
	Suppressed     uint64
	ShadowUpdates  uint64
	ControlUpdates uint64
}

func (s Snapshot) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("sent", s.Sent),
		slog.Uint64("failed", s.Failed),
		slog.Uint64("suppressed", s.Suppressed),
		slog.Uint64("shadow_updates", s.ShadowUpdates),
		slog.Uint64("control_updates", s.ControlUpdates),
	)
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	return Snapshot{
		Sent:           m.sent.Load(),
		Failed:         m.failed.Load(),
		Suppressed:     m.suppressed.Load(),
		ShadowUpdates:  m.shadow.Load(),
		ControlUpdates: m.control.Load(),
	}
}
