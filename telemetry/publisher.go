// Package telemetry publishes sensor readings while the shadow allows it.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/metrics"
	"github.com/nlowe/envshadow/mqtt"
	"github.com/nlowe/envshadow/sensor"
	"github.com/nlowe/envshadow/shadow"
)

// Controller supplies the current send configuration.
type Controller interface {
	State() shadow.State
}

// Message is the telemetry payload: the reading plus a running sequence number and the publish time.
type Message struct {
	sensor.Reading

	Sequence  uint32 `json:"msg_number"`
	Timestamp int64  `json:"timestamp"`
}

func (m Message) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("msg_number", uint64(m.Sequence)),
		slog.Int64("timestamp", m.Timestamp),
		slog.Any("reading", m.Reading),
	)
}

// reportedMessage is a Message reported into the shadow together with the send configuration.
type reportedMessage struct {
	Message

	SendEnabled  bool   `json:"send_enabled"`
	SendInterval uint32 `json:"send_interval"`
}

type reportedDocument struct {
	State struct {
		Reported reportedMessage `json:"reported"`
	} `json:"state"`
}

// Stats summarizes what a Publisher has done. It implements slog.LogValuer.
type Stats struct {
	Sequence   uint32
	Sent       uint64
	Failed     uint64
	Suppressed uint64
	LastSent   time.Time
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("msg_number", uint64(s.Sequence)),
		slog.Uint64("sent", s.Sent),
		slog.Uint64("failed", s.Failed),
		slog.Uint64("suppressed", s.Suppressed),
		slog.Time("last_sent", s.LastSent),
	)
}

// Publisher serializes readings and publishes them. Publishing is skipped entirely while the Controller reports
// sending as disabled, and failures are logged and returned but never retried. It is driven from the agent loop and
// is not safe for concurrent use.
type Publisher struct {
	w       mqtt.Writer
	topics  shadow.Topics
	opts    mqtt.WriteOptions
	control Controller
	now     func() time.Time

	stats Stats

	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option customizes a Publisher.
type Option func(*Publisher)

// WithWriteOptions sets the options used for every publish.
func WithWriteOptions(opts mqtt.WriteOptions) Option {
	return func(p *Publisher) {
		p.opts = opts
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Publisher) {
		p.now = now
	}
}

// WithMetrics counts publish outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// NewPublisher returns a Publisher that writes to topics through w, gated by control.
func NewPublisher(w mqtt.Writer, topics shadow.Topics, control Controller, opts ...Option) *Publisher {
	p := &Publisher{
		w:       w,
		topics:  topics,
		control: control,
		now:     time.Now,

		log: log.ForComponent("telemetry").With(slog.String("thing", topics.Thing)),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Publish sends r to the telemetry topic. It returns false with a nil error when sending is disabled.
func (p *Publisher) Publish(ctx context.Context, r sensor.Reading) (bool, error) {
	return p.send(ctx, r, false)
}

// Report sends r as reported shadow state together with the current send configuration. It is gated the same way as
// Publish and shares its sequence number.
func (p *Publisher) Report(ctx context.Context, r sensor.Reading) (bool, error) {
	return p.send(ctx, r, true)
}

func (p *Publisher) send(ctx context.Context, r sensor.Reading, reported bool) (bool, error) {
	state := p.control.State()
	if !state.SendEnabled {
		p.stats.Suppressed++
		p.metrics.Message(metrics.OutcomeSuppressed)
		p.log.Debug("Sending disabled, not publishing")

		return false, nil
	}

	now := p.now()
	p.stats.Sequence++
	msg := Message{Reading: r, Sequence: p.stats.Sequence, Timestamp: now.Unix()}

	topic, payload, err := p.encode(msg, state, reported)
	if err != nil {
		p.fail(err, msg)
		return false, err
	}

	if err = p.w.WriteTopic(ctx, topic, p.opts, payload); err != nil {
		p.fail(err, msg)
		return false, fmt.Errorf("telemetry: publish to %s: %w", topic, err)
	}

	p.stats.Sent++
	p.stats.LastSent = now
	p.metrics.Message(metrics.OutcomeSent)
	p.log.With(slog.String("topic", topic), slog.Any("message", msg)).Debug("Published telemetry")

	return true, nil
}

func (p *Publisher) encode(msg Message, state shadow.State, reported bool) (string, []byte, error) {
	if !reported {
		payload, err := json.Marshal(msg)
		if err != nil {
			return "", nil, fmt.Errorf("telemetry: marshal message: %w", err)
		}

		return p.topics.Telemetry, payload, nil
	}

	var doc reportedDocument
	doc.State.Reported = reportedMessage{
		Message:      msg,
		SendEnabled:  state.SendEnabled,
		SendInterval: state.SendIntervalMS,
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return "", nil, fmt.Errorf("telemetry: marshal reported state: %w", err)
	}

	return p.topics.Update, payload, nil
}

func (p *Publisher) fail(err error, msg Message) {
	p.stats.Failed++
	p.metrics.Message(metrics.OutcomeFailed)
	p.log.With(log.Error(err), slog.Any("message", msg)).Warn("Failed to publish telemetry")
}

// Stats returns the publish counters.
func (p *Publisher) Stats() Stats {
	return p.stats
}

// LastSent returns when the last message was published, or the zero time.
func (p *Publisher) LastSent() time.Time {
	return p.stats.LastSent
}
