package shadowsim

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/mqtt"
	"github.com/nlowe/envshadow/mqtt/mqtttest"
	"github.com/nlowe/envshadow/shadow"
)

var epoch = time.Unix(1_700_000_000, 0)

func newService(t *testing.T, opts ...Option) (*Service, *mqtttest.Broker, shadow.Topics) {
	t.Helper()

	broker := mqtttest.NewBroker()
	s := NewService(broker, append([]Option{WithClock(func() time.Time { return epoch })}, opts...)...)
	require.NoError(t, broker.Subscribe(t.Context(), s, s.Subscriptions()...))

	return s, broker, shadow.ThingTopics("env-1")
}

func decode[T any](t *testing.T, payload []byte) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(payload, &v))
	return v
}

func TestServiceUpdate(t *testing.T) {
	s, broker, topics := newService(t)

	require.NoError(t, broker.WriteTopic(t.Context(), topics.Update, mqtt.WriteOptions{}, []byte(
		`{"state":{"desired":{"send_interval":5000,"send_enabled":true},"reported":{"send_interval":30000,"send_enabled":true}},"clientToken":"abc"}`,
	)))

	accepted := broker.MessagesOn(topics.UpdateAccepted)
	require.Len(t, accepted, 1)
	a := decode[map[string]any](t, accepted[0].Payload)
	assert.EqualValues(t, 1, a["version"])
	assert.EqualValues(t, epoch.Unix(), a["timestamp"])
	assert.Equal(t, "abc", a["clientToken"])

	t.Run("Delta Holds Only Differing Desired Keys", func(t *testing.T) {
		deltas := broker.MessagesOn(topics.UpdateDelta)
		require.Len(t, deltas, 1)

		d := decode[DeltaDocument](t, deltas[0].Payload)
		assert.Equal(t, map[string]any{"send_interval": 5000.0}, d.State)
		assert.EqualValues(t, 1, d.Version)
	})

	t.Run("Reported Only Update Sends No Delta", func(t *testing.T) {
		require.NoError(t, broker.WriteTopic(t.Context(), topics.Update, mqtt.WriteOptions{}, []byte(`{"state":{"reported":{"temperature":21.5}}}`)))

		assert.Len(t, broker.MessagesOn(topics.UpdateAccepted), 2)
		assert.Len(t, broker.MessagesOn(topics.UpdateDelta), 1)
	})

	t.Run("Clearing Desired Resolves Delta", func(t *testing.T) {
		require.NoError(t, broker.WriteTopic(t.Context(), topics.Update, mqtt.WriteOptions{}, []byte(`{"state":{"desired":{"send_interval":null}}}`)))
		assert.Len(t, broker.MessagesOn(topics.UpdateDelta), 1)

		doc, err := s.Get("env-1")
		require.NoError(t, err)
		assert.Nil(t, doc.State.Delta)
		assert.Equal(t, map[string]any{"send_enabled": true}, doc.State.Desired)
		assert.EqualValues(t, 3, doc.Version)
	})
}

func TestServiceRejects(t *testing.T) {
	for _, tt := range []struct {
		name    string
		payload string
		code    int
	}{
		{name: "Not JSON", payload: `{`, code: 400},
		{name: "Missing State", payload: `{"clientToken":"t"}`, code: 400},
		{name: "Desired Not Object", payload: `{"state":{"desired":5}}`, code: 400},
		{name: "Unknown Section", payload: `{"state":{"delta":{}}}`, code: 400},
		{name: "Version Conflict", payload: `{"state":{"reported":{}},"version":7,"clientToken":"t"}`, code: 409},
	} {
		t.Run(tt.name, func(t *testing.T) {
			s, broker, topics := newService(t)
			require.NoError(t, broker.WriteTopic(t.Context(), topics.Update, mqtt.WriteOptions{}, []byte(tt.payload)))

			rejected := broker.MessagesOn(topics.UpdateRejected)
			require.Len(t, rejected, 1)
			assert.Empty(t, broker.MessagesOn(topics.UpdateAccepted))

			doc := decode[shadow.ErrorDocument](t, rejected[0].Payload)
			assert.Equal(t, tt.code, doc.Code)
			assert.NotEmpty(t, doc.Message)

			assert.Empty(t, s.Things())
		})
	}
}

func TestServiceGet(t *testing.T) {
	s, broker, topics := newService(t)

	t.Run("No Shadow", func(t *testing.T) {
		require.NoError(t, broker.WriteTopic(t.Context(), topics.Get, mqtt.WriteOptions{}, []byte(`{"clientToken":"g"}`)))

		rejected := broker.MessagesOn(topics.GetRejected)
		require.Len(t, rejected, 1)
		doc := decode[shadow.ErrorDocument](t, rejected[0].Payload)
		assert.Equal(t, 404, doc.Code)
		assert.Equal(t, "g", doc.ClientToken)
	})

	_, err := s.SetDesired(t.Context(), "env-1", map[string]any{"send_enabled": false})
	require.NoError(t, err)

	t.Run("Accepted", func(t *testing.T) {
		require.NoError(t, broker.WriteTopic(t.Context(), topics.Get, mqtt.WriteOptions{}, nil))

		accepted := broker.MessagesOn(topics.GetAccepted)
		require.Len(t, accepted, 1)

		g, err := shadow.ParseGetAccepted(accepted[0].Payload)
		require.NoError(t, err)

		d, ok := g.PendingDelta()
		require.True(t, ok)
		assert.Equal(t, []string{shadow.PropertySendEnabled}, d.Properties())
	})
}

func TestServiceDelete(t *testing.T) {
	s, broker, _ := newService(t)

	_, err := s.SetDesired(t.Context(), "env-1", map[string]any{"send_enabled": false})
	require.NoError(t, err)

	require.NoError(t, broker.WriteTopic(t.Context(), "$aws/things/env-1/shadow/delete", mqtt.WriteOptions{}, []byte(`{}`)))
	require.Len(t, broker.MessagesOn("$aws/things/env-1/shadow/delete/accepted"), 1)
	assert.Empty(t, s.Things())

	require.NoError(t, broker.WriteTopic(t.Context(), "$aws/things/env-1/shadow/delete", mqtt.WriteOptions{}, []byte(`{}`)))
	require.Len(t, broker.MessagesOn("$aws/things/env-1/shadow/delete/rejected"), 1)
}

// The reconciler acknowledges a delta by reporting the new value, which resolves the delta on the service side.
func TestServiceReconcilerRoundTrip(t *testing.T) {
	s, broker, topics := newService(t)

	var changes []shadow.State
	r := shadow.NewReconciler(shadow.DefaultState(), broker, topics, shadow.OnChange(func(st shadow.State) {
		changes = append(changes, st)
	}))

	require.NoError(t, broker.Subscribe(t.Context(), mqtt.HandlerFunc(func(_ mqtt.Writer, _ string, payload []byte) {
		r.Apply(context.Background(), payload)
	}), mqtt.Subscription{Topic: topics.UpdateDelta}))

	require.NoError(t, r.ReportState(t.Context()))

	_, err := s.SetDesired(t.Context(), "env-1", map[string]any{"send_interval": 5000, "send_enabled": true})
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.EqualValues(t, 5000, r.State().SendIntervalMS)

	doc, err := s.Get("env-1")
	require.NoError(t, err)
	assert.Nil(t, doc.State.Delta)
	assert.EqualValues(t, 5000, doc.State.Reported[shadow.PropertySendInterval])
}

func TestServiceRecreatedShadowDeltas(t *testing.T) {
	s, broker, topics := newService(t)

	r := shadow.NewReconciler(shadow.DefaultState(), broker, topics)
	require.NoError(t, broker.Subscribe(t.Context(), mqtt.HandlerFunc(func(_ mqtt.Writer, _ string, payload []byte) {
		r.Apply(context.Background(), payload)
	}), mqtt.Subscription{Topic: topics.UpdateDelta}))

	for _, interval := range []int{5000, 6000, 7000, 8000} {
		_, err := s.SetDesired(t.Context(), "env-1", map[string]any{"send_interval": interval})
		require.NoError(t, err)
	}
	require.EqualValues(t, 8000, r.State().SendIntervalMS)

	_, err := s.Delete("env-1")
	require.NoError(t, err)

	u, err := s.SetDesired(t.Context(), "env-1", map[string]any{"send_interval": 9000})
	require.NoError(t, err)
	require.EqualValues(t, 1, u.Thing.Version)

	assert.EqualValues(t, 9000, r.State().SendIntervalMS)

	doc, err := s.Get("env-1")
	require.NoError(t, err)
	assert.Nil(t, doc.State.Delta)
	assert.EqualValues(t, 9000, doc.State.Reported[shadow.PropertySendInterval])
}

type recordingForwarder struct {
	mu       sync.Mutex
	things   []string
	payloads []string
	err      error
}

func (f *recordingForwarder) Forward(_ context.Context, thing string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.things = append(f.things, thing)
	f.payloads = append(f.payloads, string(payload))
	return f.err
}

func TestServiceForwardsTelemetry(t *testing.T) {
	t.Run("Without Forwarder", func(t *testing.T) {
		s, _, _ := newService(t)
		for _, sub := range s.Subscriptions() {
			assert.NotEqual(t, TelemetryFilter, sub.Topic)
		}
	})

	t.Run("With Forwarder", func(t *testing.T) {
		f := &recordingForwarder{}
		_, broker, topics := newService(t, WithForwarder(f))

		require.NoError(t, broker.WriteTopic(t.Context(), topics.Telemetry, mqtt.WriteOptions{}, []byte(`{"msg_number":1}`)))
		assert.Equal(t, []string{"env-1"}, f.things)
		assert.Equal(t, []string{`{"msg_number":1}`}, f.payloads)
	})

	t.Run("Forward Errors Are Logged", func(t *testing.T) {
		f := &recordingForwarder{err: errors.New("kafka down")}
		_, broker, topics := newService(t, WithForwarder(f))

		require.NoError(t, broker.WriteTopic(t.Context(), topics.Telemetry, mqtt.WriteOptions{}, []byte(`{}`)))
		assert.Len(t, f.things, 1)
	})
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, 404, ErrorCode(ErrNoShadow))
	assert.Equal(t, 409, ErrorCode(ErrVersionConflict))
	assert.Equal(t, 400, ErrorCode(shadow.ErrMalformed))
}
