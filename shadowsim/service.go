// Package shadowsim is a local stand-in for the AWS IoT device shadow service.
//
// A Service keeps one classic shadow per thing and answers the update and get topics the way AWS IoT does: updates are
// merged, versioned and acknowledged, and a delta is pushed whenever desired state differs from reported state. It is
// transport agnostic. Service implements mqtt.Handler and publishes through an mqtt.Writer, so it can sit behind the
// embedded broker in this package or subscribe to an existing broker.
package shadowsim

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/mqtt"
	"github.com/nlowe/envshadow/shadow"
)

// Subscription filters covering every request topic the Service answers.
const (
	UpdateFilter    = "$aws/things/+/shadow/update"
	GetFilter       = "$aws/things/+/shadow/get"
	DeleteFilter    = "$aws/things/+/shadow/delete"
	TelemetryFilter = shadow.TelemetryPrefix + "/+"
)

var (
	// ErrNoShadow is returned for things that have never been updated.
	ErrNoShadow = errors.New("no shadow exists")
	// ErrVersionConflict is returned when an update names a version other than the current one.
	ErrVersionConflict = errors.New("version conflict")
)

// Forwarder receives every telemetry message published by a thing.
type Forwarder interface {
	Forward(ctx context.Context, thing string, payload []byte) error
}

// Option customizes a Service.
type Option func(s *Service)

// WithClock replaces time.Now for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithForwarder hands telemetry to f.
func WithForwarder(f Forwarder) Option {
	return func(s *Service) {
		s.forwarder = f
	}
}

// Service holds the shadows. All methods are safe for concurrent use.
type Service struct {
	mu     sync.Mutex
	things map[string]*Thing

	w         mqtt.Writer
	forwarder Forwarder
	now       func() time.Time

	log *slog.Logger
}

// NewService returns an empty Service publishing responses through w.
func NewService(w mqtt.Writer, opts ...Option) *Service {
	s := &Service{
		things: map[string]*Thing{},
		w:      w,
		now:    time.Now,

		log: log.ForComponent("shadowsim"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Subscriptions returns the filters the Service needs to see. The telemetry filter is only included with a Forwarder.
func (s *Service) Subscriptions() []mqtt.Subscription {
	subs := []mqtt.Subscription{
		{Topic: UpdateFilter, Options: mqtt.ReadOptions{QoS: mqtt.QOSAtLeastOnce}},
		{Topic: GetFilter, Options: mqtt.ReadOptions{QoS: mqtt.QOSAtLeastOnce}},
		{Topic: DeleteFilter, Options: mqtt.ReadOptions{QoS: mqtt.QOSAtLeastOnce}},
	}

	if s.forwarder != nil {
		subs = append(subs, mqtt.Subscription{Topic: TelemetryFilter})
	}

	return subs
}

// ServeMQTT answers shadow requests and forwards telemetry. Responses are written to the Writer given to NewService,
// not to w, so every transport publishes the same way.
func (s *Service) ServeMQTT(_ mqtt.Writer, topic string, payload []byte) {
	ctx := context.Background()

	thing, ok := shadow.ThingFromTopic(topic)
	if !ok {
		return
	}

	topics := shadow.ThingTopics(thing)
	switch topic {
	case topics.Update:
		s.handleUpdate(ctx, topics, payload)
	case topics.Get:
		s.handleGet(ctx, topics, payload)
	case deleteTopic(thing):
		s.handleDelete(ctx, thing, payload)
	case topics.Telemetry:
		s.forward(ctx, thing, payload)
	}
}

func deleteTopic(thing string) string {
	return mqtt.JoinTopic("$aws/things", thing, "shadow", "delete")
}

// request holds the fields of a shadow request the Service echoes back.
type request struct {
	ClientToken string `json:"clientToken,omitempty"`
	Version     *int64 `json:"version,omitempty"`
}

type updateRequest struct {
	request
	State struct {
		Desired  json.RawMessage `json:"desired"`
		Reported json.RawMessage `json:"reported"`
	} `json:"state"`
}

type updateAccepted struct {
	State       updateSections `json:"state"`
	Version     int64          `json:"version"`
	Timestamp   int64          `json:"timestamp"`
	ClientToken string         `json:"clientToken,omitempty"`
}

type updateSections struct {
	Desired  any `json:"desired,omitempty"`
	Reported any `json:"reported,omitempty"`
}

// DeltaDocument is published on update/delta.
type DeltaDocument struct {
	State       map[string]any `json:"state"`
	Version     int64          `json:"version"`
	Timestamp   int64          `json:"timestamp"`
	ClientToken string         `json:"clientToken,omitempty"`
}

// GetDocument is published on get/accepted and returned by the HTTP API.
type GetDocument struct {
	State struct {
		Desired  map[string]any `json:"desired,omitempty"`
		Reported map[string]any `json:"reported,omitempty"`
		Delta    map[string]any `json:"delta,omitempty"`
	} `json:"state"`
	Version     int64  `json:"version"`
	Timestamp   int64  `json:"timestamp"`
	ClientToken string `json:"clientToken,omitempty"`
}

// Update is the result of a successful update.
type Update struct {
	Thing    Thing
	Accepted []byte
	// Delta is nil when the update did not produce one.
	Delta []byte
}

// section decodes one state section. ok is false when the section was absent.
func section(raw json.RawMessage) (patch map[string]any, clear bool, ok bool, err error) {
	if len(raw) == 0 {
		return nil, false, false, nil
	}

	if string(raw) == "null" {
		return nil, true, true, nil
	}

	if err = json.Unmarshal(raw, &patch); err != nil {
		return nil, false, false, err
	}

	return patch, false, true, nil
}

// Apply merges an update document into the shadow of thing and returns the accepted and delta payloads. A delta is
// only produced when the update touched desired state and desired still differs from reported.
func (s *Service) Apply(thing string, payload []byte) (Update, error) {
	if err := shadow.ValidateUpdate(payload); err != nil {
		return Update{}, err
	}

	var req updateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return Update{}, errors.Join(shadow.ErrMalformed, err)
	}

	desired, clearDesired, touchedDesired, err := section(req.State.Desired)
	if err != nil {
		return Update{}, errors.Join(shadow.ErrMalformed, err)
	}

	reported, clearReported, touchedReported, err := section(req.State.Reported)
	if err != nil {
		return Update{}, errors.Join(shadow.ErrMalformed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.things[thing]
	if !exists {
		t = &Thing{}
	}

	if req.Version != nil && *req.Version != t.Version {
		return Update{}, ErrVersionConflict
	}

	switch {
	case clearDesired:
		t.Desired = nil
	case touchedDesired:
		t.Desired = merge(t.Desired, desired)
	}

	switch {
	case clearReported:
		t.Reported = nil
	case touchedReported:
		t.Reported = merge(t.Reported, reported)
	}

	t.Version++
	t.Updated = s.now().Unix()
	s.things[thing] = t

	accepted := updateAccepted{
		Version:     t.Version,
		Timestamp:   t.Updated,
		ClientToken: req.ClientToken,
	}
	if touchedDesired {
		accepted.State.Desired = desired
	}
	if touchedReported {
		accepted.State.Reported = reported
	}

	result := Update{Thing: t.clone()}
	if result.Accepted, err = json.Marshal(accepted); err != nil {
		return Update{}, err
	}

	if d := t.Delta(); touchedDesired && len(d) > 0 {
		if result.Delta, err = json.Marshal(DeltaDocument{
			State:       d,
			Version:     t.Version,
			Timestamp:   t.Updated,
			ClientToken: req.ClientToken,
		}); err != nil {
			return Update{}, err
		}
	}

	return result, nil
}

// Get returns the full document for thing.
func (s *Service) Get(thing string) (GetDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.things[thing]
	if !ok {
		return GetDocument{}, ErrNoShadow
	}

	var doc GetDocument
	doc.State.Desired = cloneSection(t.Desired)
	doc.State.Reported = cloneSection(t.Reported)
	if d := t.Delta(); len(d) > 0 {
		doc.State.Delta = d
	}
	doc.Version = t.Version
	doc.Timestamp = t.Updated

	return doc, nil
}

// Delete removes the shadow of thing and returns the version it had.
func (s *Service) Delete(thing string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.things[thing]
	if !ok {
		return 0, ErrNoShadow
	}

	delete(s.things, thing)
	return t.Version, nil
}

// Things lists every thing with a shadow, sorted by name.
func (s *Service) Things() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.things))
	for name := range s.things {
		names = append(names, name)
	}

	slices.Sort(names)
	return names
}

// SetDesired merges desired into the shadow of thing as if the cloud had published an update, and pushes the
// resulting delta to the device.
func (s *Service) SetDesired(ctx context.Context, thing string, desired map[string]any) (Update, error) {
	payload, err := json.Marshal(map[string]any{
		"state": map[string]any{"desired": desired},
	})
	if err != nil {
		return Update{}, err
	}

	u, err := s.Apply(thing, payload)
	if err != nil {
		return Update{}, err
	}

	s.publishUpdate(ctx, shadow.ThingTopics(thing), u)
	return u, nil
}

func (s *Service) handleUpdate(ctx context.Context, topics shadow.Topics, payload []byte) {
	l := s.log.With(slog.String("thing", topics.Thing))

	u, err := s.Apply(topics.Thing, payload)
	if err != nil {
		l.With(log.Error(err)).Warn("Rejecting shadow update")
		s.reject(ctx, topics.UpdateRejected, payload, err)
		return
	}

	l.With(slog.Int64("version", u.Thing.Version), slog.Bool("delta", u.Delta != nil)).Info("Shadow updated")
	s.publishUpdate(ctx, topics, u)
}

func (s *Service) publishUpdate(ctx context.Context, topics shadow.Topics, u Update) {
	s.publish(ctx, topics.UpdateAccepted, u.Accepted)
	if u.Delta != nil {
		s.publish(ctx, topics.UpdateDelta, u.Delta)
	}
}

func (s *Service) handleGet(ctx context.Context, topics shadow.Topics, payload []byte) {
	var req request
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &req); err != nil {
			s.reject(ctx, topics.GetRejected, payload, errors.Join(shadow.ErrMalformed, err))
			return
		}
	}

	doc, err := s.Get(topics.Thing)
	if err != nil {
		s.reject(ctx, topics.GetRejected, payload, err)
		return
	}

	doc.ClientToken = req.ClientToken
	body, err := json.Marshal(doc)
	if err != nil {
		s.log.With(log.Error(err)).Error("Failed to encode shadow document")
		return
	}

	s.publish(ctx, topics.GetAccepted, body)
}

func (s *Service) handleDelete(ctx context.Context, thing string, payload []byte) {
	var req request
	_ = json.Unmarshal(payload, &req)

	root := deleteTopic(thing)
	version, err := s.Delete(thing)
	if err != nil {
		s.reject(ctx, mqtt.JoinTopic(root, "rejected"), payload, err)
		return
	}

	body, _ := json.Marshal(map[string]any{
		"version":     version,
		"timestamp":   s.now().Unix(),
		"clientToken": req.ClientToken,
	})
	s.publish(ctx, mqtt.JoinTopic(root, "accepted"), body)
}

func (s *Service) forward(ctx context.Context, thing string, payload []byte) {
	if s.forwarder == nil {
		return
	}

	if err := s.forwarder.Forward(ctx, thing, payload); err != nil {
		s.log.With(slog.String("thing", thing), log.Error(err)).Warn("Failed to forward telemetry")
	}
}

// ErrorCode maps a request error to the status AWS IoT would report.
func ErrorCode(err error) int {
	switch {
	case errors.Is(err, ErrNoShadow):
		return 404
	case errors.Is(err, ErrVersionConflict):
		return 409
	default:
		return 400
	}
}

func errorMessage(err error) string {
	switch {
	case errors.Is(err, ErrNoShadow):
		return "No shadow exists"
	case errors.Is(err, ErrVersionConflict):
		return "Version conflict"
	default:
		// Keep the first line, gojsonschema reports one problem per line.
		msg, _, _ := strings.Cut(err.Error(), "\n")
		return msg
	}
}

func (s *Service) reject(ctx context.Context, topic string, payload []byte, err error) {
	var req request
	_ = json.Unmarshal(payload, &req)

	body, encodeErr := json.Marshal(shadow.ErrorDocument{
		Code:        ErrorCode(err),
		Message:     errorMessage(err),
		Timestamp:   s.now().Unix(),
		ClientToken: req.ClientToken,
	})
	if encodeErr != nil {
		s.log.With(log.Error(encodeErr)).Error("Failed to encode error document")
		return
	}

	s.publish(ctx, topic, body)
}

func (s *Service) publish(ctx context.Context, topic string, payload []byte) {
	if err := s.w.WriteTopic(ctx, topic, mqtt.WriteOptions{}, payload); err != nil {
		s.log.With(slog.String("topic", topic), log.Error(err)).Warn("Failed to publish shadow response")
	}
}
