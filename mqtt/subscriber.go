package mqtt

import (
	"context"
	"log/slog"
)

// Subscription is a topic filter plus its ReadOptions. It implements fmt.Stringer and slog.LogValuer.
type Subscription struct {
	Topic   string
	Options ReadOptions
}

func (s Subscription) String() string {
	return s.Topic
}

func (s Subscription) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("topic", s.Topic),
		slog.Any("options", s.Options),
	)
}

// Handler receives messages for a Subscription, the way http.Handler receives requests.
//
// Handlers run on the client's receive goroutine. They must not block and have nowhere to return an error to, so
// anything slow or stateful belongs on another goroutine (the agent queues payloads for its loop). The message slice
// is only valid until ServeMQTT returns.
type Handler interface {
	ServeMQTT(w Writer, topic string, message []byte)
}

// HandlerFunc adapts an ordinary function to a Handler.
type HandlerFunc func(Writer, string, []byte)

func (f HandlerFunc) ServeMQTT(w Writer, topic string, message []byte) {
	f(w, topic, message)
}

// Subscriber manages subscriptions on a connection. Implementations restore them after a reconnect.
type Subscriber interface {
	// Subscribe routes messages matching any of subscriptions to handler.
	Subscribe(ctx context.Context, handler Handler, subscriptions ...Subscription) error

	// Unsubscribe drops the subscriptions for topics.
	Unsubscribe(ctx context.Context, topics ...string) error
}
