// Package mqtttest provides an in-memory stand-in for an MQTT connection.
package mqtttest

import (
	"context"
	"slices"
	"sync"

	"github.com/nlowe/envshadow/mqtt"
)

// Message is a publish recorded by Broker.
type Message struct {
	Topic   string
	Options mqtt.WriteOptions
	Payload []byte
}

// Broker implements mqtt.Writer and mqtt.Subscriber in memory. Every publish is recorded and synchronously delivered
// to handlers whose filter matches the topic. Deliver injects a message as if another client had published it.
type Broker struct {
	mu sync.Mutex

	messages      []Message
	subscriptions []subscription
	failWith      error
}

type subscription struct {
	sub     mqtt.Subscription
	handler mqtt.Handler
}

var _ mqtt.Writer = &Broker{}
var _ mqtt.Subscriber = &Broker{}

// NewBroker returns an empty Broker.
func NewBroker() *Broker {
	return &Broker{}
}

// FailWith makes every following WriteTopic return err without recording or delivering. Pass nil to recover.
func (b *Broker) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failWith = err
}

func (b *Broker) WriteTopic(ctx context.Context, topic string, options mqtt.WriteOptions, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	if b.failWith != nil {
		err := b.failWith
		b.mu.Unlock()
		return err
	}

	b.messages = append(b.messages, Message{Topic: topic, Options: options, Payload: slices.Clone(value)})
	b.mu.Unlock()

	b.Deliver(topic, value)
	return nil
}

// Deliver hands payload to every handler subscribed to a filter matching topic without recording it.
func (b *Broker) Deliver(topic string, payload []byte) {
	b.mu.Lock()
	var handlers []mqtt.Handler
	for _, s := range b.subscriptions {
		if mqtt.MatchTopic(s.sub.Topic, topic) {
			handlers = append(handlers, s.handler)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h.ServeMQTT(b, topic, slices.Clone(payload))
	}
}

func (b *Broker) Subscribe(_ context.Context, handler mqtt.Handler, subscriptions ...mqtt.Subscription) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, s := range subscriptions {
		b.subscriptions = slices.DeleteFunc(b.subscriptions, func(existing subscription) bool {
			return existing.sub.Topic == s.Topic
		})
		b.subscriptions = append(b.subscriptions, subscription{sub: s, handler: handler})
	}

	return nil
}

func (b *Broker) Unsubscribe(_ context.Context, topics ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscriptions = slices.DeleteFunc(b.subscriptions, func(existing subscription) bool {
		return slices.Contains(topics, existing.sub.Topic)
	})

	return nil
}

// Subscriptions returns the active subscriptions in the order they were made.
func (b *Broker) Subscriptions() []mqtt.Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]mqtt.Subscription, len(b.subscriptions))
	for i, s := range b.subscriptions {
		result[i] = s.sub
	}

	return result
}

// Messages returns every recorded publish.
func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	return slices.Clone(b.messages)
}

// MessagesOn returns the recorded publishes to topic.
func (b *Broker) MessagesOn(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result []Message
	for _, m := range b.messages {
		if m.Topic == topic {
			result = append(result, m)
		}
	}

	return result
}

// Reset forgets recorded publishes. Subscriptions are kept.
func (b *Broker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.messages = nil
}
