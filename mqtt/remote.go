package mqtt

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nlowe/envshadow/log"
)

// RemoteValue is a value owned by someone else and delivered to us through a subscription. It implements Handler.
type RemoteValue[T any] struct {
	topic       string
	unmarshaler ValueUnmarshaler[T]
	opts        ReadOptions

	mu sync.RWMutex

	nextID   int
	watchers map[int]func(T)

	v           T
	initialized bool

	log *slog.Logger
}

// NewRemoteValue returns a RemoteValue for topic decoded with unmarshaler and subscribed with default ReadOptions.
func NewRemoteValue[T any](topic string, unmarshaler ValueUnmarshaler[T]) *RemoteValue[T] {
	return NewRemoteValueWithOptions(topic, unmarshaler, ReadOptions{})
}

// NewRemoteValueWithOptions returns a RemoteValue for topic decoded with unmarshaler and subscribed with opts. A nil
// unmarshaler decodes JSON.
func NewRemoteValueWithOptions[T any](topic string, unmarshaler ValueUnmarshaler[T], opts ReadOptions) *RemoteValue[T] {
	if unmarshaler == nil {
		unmarshaler = JsonValueUnmarshaler[T]()
	}

	return &RemoteValue[T]{
		topic:       topic,
		unmarshaler: unmarshaler,
		opts:        opts,
		watchers:    map[int]func(T){},

		log: log.ForComponent("mqtt.value.remote").With(slog.String("topic", topic)),
	}
}

// ServeMQTT decodes payload when topic matches this value exactly and hands the result to every watcher. A payload
// that fails to decode is logged and dropped. Watchers are not called and the held value is kept.
func (v *RemoteValue[T]) ServeMQTT(_ Writer, topic string, payload []byte) {
	if v == nil || v.topic != topic {
		return
	}

	parsed, err := v.unmarshaler(payload)
	if err != nil {
		v.log.With(log.Error(err)).Warn("Failed to unmarshal payload from mqtt")
		return
	}

	v.mu.Lock()
	v.v, v.initialized = parsed, true
	watchers := make([]func(T), 0, len(v.watchers))
	for _, w := range v.watchers {
		watchers = append(watchers, w)
	}
	v.mu.Unlock()

	v.log.With(slog.Int("watchers", len(watchers))).Debug("Received new value from mqtt")
	for _, w := range watchers {
		w(parsed)
	}
}

// FullyQualifiedTopic joins prefix and the configured topic. A nil RemoteValue has no topic.
func (v *RemoteValue[T]) FullyQualifiedTopic(prefix string) string {
	if v == nil {
		return ""
	}

	return JoinTopic(prefix, v.topic)
}

// AppendSubscribeOptions appends the Subscription for this value to existing. A nil RemoteValue or one without a
// topic appends nothing.
func (v *RemoteValue[T]) AppendSubscribeOptions(existing []Subscription, prefix string) []Subscription {
	if v == nil || v.topic == "" {
		return existing
	}

	return append(existing, Subscription{
		Topic:   v.FullyQualifiedTopic(prefix),
		Options: v.opts,
	})
}

// Get returns the last decoded value and whether one has arrived yet.
func (v *RemoteValue[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.v, v.initialized
}

// Watch registers callback for every future value and returns an id for Unwatch. Callbacks run on the MQTT client's
// goroutine and must not block.
func (v *RemoteValue[T]) Watch(callback func(T)) int {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := v.nextID
	v.nextID++
	v.watchers[id] = callback

	return id
}

// Unwatch removes the callback registered under id.
func (v *RemoteValue[T]) Unwatch(id int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.watchers[id]; !ok {
		v.log.With(slog.Int("id", id)).Warn("Tried to remove an invalid watcher")
		return
	}

	delete(v.watchers, id)
}

// DesiredValue builds an Await filter that matches v exactly.
func DesiredValue[T comparable](v T) func(T) bool {
	return func(vv T) bool {
		return v == vv
	}
}

// Await blocks until a value passing desired arrives or ctx is done. The value returned is the first one that passed,
// which may already be stale for frequently updated topics.
func (v *RemoteValue[T]) Await(ctx context.Context, desired func(T) bool) (T, error) {
	found := make(chan T, 1)

	id := v.Watch(func(t T) {
		if !desired(t) {
			return
		}

		select {
		case found <- t:
		default:
		}
	})
	defer v.Unwatch(id)

	select {
	case got := <-found:
		return got, nil
	case <-ctx.Done():
		var zero T
		return zero, context.Cause(ctx)
	}
}
