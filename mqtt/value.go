package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nlowe/envshadow/log"
)

var (
	// ErrNoMarshaler is returned when a Value has no ValueMarshaler to encode with.
	ErrNoMarshaler = errors.New("no marshaler configured")
	// ErrNeverWritten is returned by Value.Republish before the first successful Value.Write.
	ErrNeverWritten = errors.New("value was never written")
)

// Value is a locally owned value published to a single topic. It remembers the last value written so it can be
// republished, for example after Home Assistant restarts.
type Value[T any] struct {
	topic     string
	marshaler ValueMarshaler[T]
	opts      WriteOptions

	mu sync.RWMutex

	v           T
	initialized bool

	log *slog.Logger
}

// NewValue returns a Value for topic that publishes with default WriteOptions.
func NewValue[T any](topic string, marshal ValueMarshaler[T]) *Value[T] {
	return NewValueWithOptions(topic, marshal, WriteOptions{})
}

// NewValueWithOptions returns a Value for topic that publishes with opts.
func NewValueWithOptions[T any](topic string, marshal ValueMarshaler[T], opts WriteOptions) *Value[T] {
	return &Value[T]{
		topic:     topic,
		marshaler: marshal,
		opts:      opts,

		log: log.ForComponent("mqtt.value").With(slog.String("topic", topic)),
	}
}

// FullyQualifiedTopic joins prefix and the configured topic. A nil Value has no topic.
func (v *Value[T]) FullyQualifiedTopic(prefix string) string {
	if v == nil {
		return ""
	}

	return JoinTopic(prefix, v.topic)
}

// Get returns the last written value and whether a write has happened yet.
func (v *Value[T]) Get() (T, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	return v.v, v.initialized
}

// Republish writes the held value again.
func (v *Value[T]) Republish(ctx context.Context, w Writer, prefix string) (T, error) {
	v.mu.RLock()
	current, initialized := v.v, v.initialized
	v.mu.RUnlock()

	if !initialized {
		return current, ErrNeverWritten
	}

	return v.Write(ctx, w, prefix, current)
}

// Write encodes newValue and publishes it. The held value is updated once encoding succeeds, even if the publish
// itself fails, so a later Republish can retry it.
func (v *Value[T]) Write(ctx context.Context, w Writer, prefix string, newValue T) (T, error) {
	if v.marshaler == nil {
		return newValue, ErrNoMarshaler
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	data, err := v.marshaler(newValue)
	if err != nil {
		return v.v, fmt.Errorf("marshal %+v: %w", newValue, err)
	}

	v.v = newValue
	v.initialized = true

	if err = w.WriteTopic(ctx, JoinTopic(prefix, v.topic), v.opts, data); err != nil {
		v.log.With(log.Error(err)).Debug("Publish failed")
		return v.v, err
	}

	return v.v, nil
}
