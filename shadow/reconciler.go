package shadow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/metrics"
	"github.com/nlowe/envshadow/mqtt"
)

// DefaultMinSendIntervalMS is the smallest send_interval accepted from the shadow.
const DefaultMinSendIntervalMS = 1_000

var errNull = errors.New("value is null")

// Change is a property the Reconciler applied.
type Change struct {
	Property string
	Value    any
}

func (c Change) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("property", c.Property),
		slog.Any("value", c.Value),
	)
}

// Reconciler owns the live State and applies deltas to it. It is driven from a single goroutine (the agent loop)
// and is not safe for concurrent use.
type Reconciler struct {
	state State

	w      mqtt.Writer
	topics Topics
	opts   mqtt.WriteOptions

	clearDesired  bool
	minIntervalMS uint32
	observers     []func(State)
	tokens        func() string

	metrics *metrics.Metrics
	log     *slog.Logger
}

// Option customizes a Reconciler.
type Option func(*Reconciler)

// WithWriteOptions sets the options used for acknowledgement publishes. The default is QoS 0 without retain.
func WithWriteOptions(opts mqtt.WriteOptions) Option {
	return func(r *Reconciler) {
		r.opts = opts
	}
}

// WithClearDesired acknowledges with AcceptedAndClear instead of Accepted.
func WithClearDesired(clear bool) Option {
	return func(r *Reconciler) {
		r.clearDesired = clear
	}
}

// WithMinSendInterval rejects send_interval values below ms.
func WithMinSendInterval(ms uint32) Option {
	return func(r *Reconciler) {
		r.minIntervalMS = ms
	}
}

// WithMetrics counts deltas, changes and acknowledgements.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

// OnChange registers f to run with the new State after every applied change.
func OnChange(f func(State)) Option {
	return func(r *Reconciler) {
		r.observers = append(r.observers, f)
	}
}

// WithClientTokens sets the generator for acknowledgement client tokens. A nil generator omits the token.
func WithClientTokens(f func() string) Option {
	return func(r *Reconciler) {
		r.tokens = f
	}
}

// NewReconciler returns a Reconciler starting from initial that acknowledges through w on topics.Update.
func NewReconciler(initial State, w mqtt.Writer, topics Topics, opts ...Option) *Reconciler {
	r := &Reconciler{
		state:         initial,
		w:             w,
		topics:        topics,
		minIntervalMS: DefaultMinSendIntervalMS,
		tokens:        NewClientToken,

		log: log.ForComponent("shadow").With(slog.String("thing", topics.Thing)),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// State returns the current configuration.
func (r *Reconciler) State() State {
	return r.state
}

// Topics returns the topic set the Reconciler publishes to.
func (r *Reconciler) Topics() Topics {
	return r.topics
}

// Apply parses an update/delta payload and reconciles it. A malformed payload is logged and changes nothing.
func (r *Reconciler) Apply(ctx context.Context, payload []byte) []Change {
	r.metrics.ShadowUpdate()

	d, err := ParseDelta(payload)
	if err != nil {
		r.log.With(log.Error(err)).Warn("Ignoring malformed shadow delta")
		return nil
	}

	return r.ApplyDelta(ctx, d)
}

// ApplyGetAccepted reconciles the delta section of a get/accepted payload, if there is one.
func (r *Reconciler) ApplyGetAccepted(ctx context.Context, payload []byte) []Change {
	doc, err := ParseGetAccepted(payload)
	if err != nil {
		r.log.With(log.Error(err)).Warn("Ignoring malformed shadow document")
		return nil
	}

	d, ok := doc.PendingDelta()
	if !ok {
		r.log.With(slog.Int64("version", doc.Version)).Debug("Shadow in sync")
		return nil
	}

	return r.ApplyDelta(ctx, d)
}

// ApplyDelta compares every property of d against the current State in lexical order. Each property that changes is
// applied and then acknowledged on its own; a failed acknowledgement is logged and the change is kept. Unknown
// properties and values of the wrong type are skipped. The delta version is ignored since it restarts at 1 whenever
// the shadow is deleted.
func (r *Reconciler) ApplyDelta(ctx context.Context, d Delta) []Change {
	r.log.With(slog.Any("delta", d)).Debug("Reconciling shadow delta")

	var changes []Change
	for _, property := range d.Properties() {
		raw := d.State[property]

		var (
			change Change
			ok     bool
		)

		switch property {
		case PropertySendEnabled:
			change, ok = r.reconcileSendEnabled(ctx, raw)
		case PropertySendInterval:
			change, ok = r.reconcileSendInterval(ctx, raw)
		default:
			r.log.With(slog.String("property", property)).Debug("Ignoring unknown shadow property")
			continue
		}

		if ok {
			changes = append(changes, change)
		}
	}

	return changes
}

func (r *Reconciler) reconcileSendEnabled(ctx context.Context, raw json.RawMessage) (Change, bool) {
	var enabled bool
	if err := decodeValue(raw, &enabled); err != nil {
		r.log.With(log.Error(err), slog.String("property", PropertySendEnabled)).Warn("Ignoring invalid shadow value")
		return Change{}, false
	}

	if !r.SetSendEnabled(enabled) {
		return Change{}, false
	}

	r.acknowledge(ctx, PropertySendEnabled, enabled)
	return Change{Property: PropertySendEnabled, Value: enabled}, true
}

func (r *Reconciler) reconcileSendInterval(ctx context.Context, raw json.RawMessage) (Change, bool) {
	interval, err := decodeInterval(raw)
	if err != nil {
		r.log.With(log.Error(err), slog.String("property", PropertySendInterval)).Warn("Ignoring invalid shadow value")
		return Change{}, false
	}

	if interval == r.state.SendIntervalMS {
		return Change{}, false
	}

	if interval < r.minIntervalMS {
		r.log.With(slog.Uint64("send_interval", uint64(interval)), slog.Uint64("minimum", uint64(r.minIntervalMS))).Warn("Rejecting send interval below minimum")
		r.reject(ctx, PropertySendInterval)
		return Change{}, false
	}

	r.SetSendInterval(interval)
	r.acknowledge(ctx, PropertySendInterval, interval)

	return Change{Property: PropertySendInterval, Value: interval}, true
}

// SetSendEnabled changes send_enabled locally without publishing. It reports whether the value changed.
func (r *Reconciler) SetSendEnabled(enabled bool) bool {
	if r.state.SendEnabled == enabled {
		return false
	}

	r.state.SendEnabled = enabled
	r.changed()

	return true
}

// SetSendInterval changes send_interval locally without publishing. It reports whether the value changed.
func (r *Reconciler) SetSendInterval(ms uint32) bool {
	if r.state.SendIntervalMS == ms {
		return false
	}

	r.state.SendIntervalMS = ms
	r.changed()

	return true
}

func (r *Reconciler) changed() {
	r.metrics.ControlUpdate()
	r.metrics.Control(r.state.SendEnabled, r.state.SendInterval())
	r.log.With(slog.Any("state", r.state)).Info("Send configuration changed")

	for _, f := range r.observers {
		f(r.state)
	}
}

func (r *Reconciler) acknowledge(ctx context.Context, property string, value any) {
	doc := Accepted(property, value)
	if r.clearDesired {
		doc = AcceptedAndClear(property, value)
	}

	r.metrics.Ack("accepted", r.publish(ctx, doc))
}

func (r *Reconciler) reject(ctx context.Context, property string) {
	r.metrics.Ack("rejected", r.publish(ctx, Rejected(property)))
}

// ReportState publishes the whole current State as reported.
func (r *Reconciler) ReportState(ctx context.Context) error {
	return r.publish(ctx, Reported(r.state.Reported()))
}

// Sync asks the service for the full shadow document. The answer arrives on get/accepted.
func (r *Reconciler) Sync(ctx context.Context) error {
	req := struct {
		ClientToken string `json:"clientToken,omitempty"`
	}{}
	if r.tokens != nil {
		req.ClientToken = r.tokens()
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("shadow: marshal get request: %w", err)
	}

	if err = r.w.WriteTopic(ctx, r.topics.Get, r.opts, payload); err != nil {
		r.log.With(log.Error(err)).Warn("Failed to request shadow document")
		return fmt.Errorf("shadow: get: %w", err)
	}

	return nil
}

// HandleRejected logs an error document from one of the rejected topics.
func (r *Reconciler) HandleRejected(topic string, payload []byte) {
	var doc ErrorDocument
	if err := json.Unmarshal(payload, &doc); err != nil {
		r.log.With(log.Error(err), slog.String("topic", topic)).Warn("Ignoring malformed shadow error document")
		return
	}

	r.log.With(slog.String("topic", topic), slog.Any("rejection", doc)).Warn("Shadow request rejected")
}

func (r *Reconciler) publish(ctx context.Context, doc Document) error {
	if r.tokens != nil {
		doc = doc.WithClientToken(r.tokens())
	}

	payload, err := doc.Marshal()
	if err != nil {
		r.log.With(log.Error(err)).Error("Failed to marshal shadow document")
		return fmt.Errorf("shadow: marshal document: %w", err)
	}

	if err = r.w.WriteTopic(ctx, r.topics.Update, r.opts, payload); err != nil {
		r.log.With(log.Error(err), slog.String("payload", string(payload))).Warn("Failed to publish shadow update")
		return fmt.Errorf("shadow: publish update: %w", err)
	}

	r.log.With(slog.String("payload", string(payload))).Debug("Published shadow update")
	return nil
}

func decodeValue(raw json.RawMessage, v any) error {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return errNull
	}

	return json.Unmarshal(raw, v)
}

// decodeInterval accepts any integral JSON number that fits in a uint32, including forms like 5000.0 and 5e3.
func decodeInterval(raw json.RawMessage) (uint32, error) {
	var v float64
	if err := decodeValue(raw, &v); err != nil {
		return 0, err
	}

	if math.Trunc(v) != v || v < 0 || v > math.MaxUint32 {
		return 0, fmt.Errorf("%v is not a valid interval in milliseconds", v)
	}

	return uint32(v), nil
}
