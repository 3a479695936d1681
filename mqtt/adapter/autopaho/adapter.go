// Package autopaho implements mqtt.Writer and mqtt.Subscriber on top of the eclipse paho autopaho connection manager.
package autopaho

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/mqtt"
)

// ErrConnectTimeout is returned by DialMQTT when the broker was not reached within the connect window.
var ErrConnectTimeout = errors.New("mqtt: timed out waiting for connection")

type adapter struct {
	mu sync.Mutex

	conn *autopaho.ConnectionManager
	r    paho.Router

	subscriptions map[string]paho.SubscribeOptions

	log *slog.Logger
}

var _ mqtt.Writer = &adapter{}
var _ mqtt.Subscriber = &adapter{}

type dialOptions struct {
	window time.Duration
}

// DialOption customizes DialMQTT.
type DialOption func(*dialOptions)

// WithConnectWindow bounds how long DialMQTT waits for the first connection. Zero waits until ctx is done.
func WithConnectWindow(d time.Duration) DialOption {
	return func(o *dialOptions) {
		o.window = d
	}
}

// DialMQTT starts an autopaho connection manager and waits for the first connection. The manager keeps reconnecting
// in the background until ctx is done or the returned disconnect func is called, and re-sends every subscription after
// each reconnect.
func DialMQTT(ctx context.Context, config autopaho.ClientConfig, opts ...DialOption) (mqtt.Writer, mqtt.Subscriber, func(ctx context.Context) error, error) {
	o := dialOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	a := &adapter{
		r: paho.NewStandardRouter(),

		subscriptions: map[string]paho.SubscribeOptions{},

		log: log.ForComponent("autopaho"),
	}

	originalOnConnUp := config.OnConnectionUp
	config.OnConnectionUp = func(manager *autopaho.ConnectionManager, connack *paho.Connack) {
		a.onReconnect(ctx)

		if originalOnConnUp != nil {
			originalOnConnUp(manager, connack)
		}
	}

	// Hold the lock until a.conn is set, the first OnConnectionUp may fire before NewConnection returns.
	a.mu.Lock()
	a.log.With(slog.Any("servers", config.ServerUrls), slog.String("client_id", config.ClientConfig.ClientID)).Info("Connecting to mqtt broker")
	conn, err := autopaho.NewConnection(ctx, config)
	if err != nil {
		a.mu.Unlock()
		return nil, nil, nil, fmt.Errorf("mqtt: start connection: %w", err)
	}

	a.conn = conn
	a.mu.Unlock()

	conn.AddOnPublishReceived(func(rx autopaho.PublishReceived) (bool, error) {
		a.r.Route(rx.Packet.Packet())
		return true, nil
	})

	awaitCtx := ctx
	if o.window > 0 {
		var cancel context.CancelFunc
		awaitCtx, cancel = context.WithTimeout(ctx, o.window)
		defer cancel()
	}

	a.log.Debug("Waiting for connection to be ready")
	if err = conn.AwaitConnection(awaitCtx); err != nil {
		disconnectCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		_ = conn.Disconnect(disconnectCtx)

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, nil, nil, ErrConnectTimeout
		}

		return nil, nil, nil, fmt.Errorf("mqtt: wait for connection: %w", err)
	}

	a.log.Debug("Connected to mqtt broker")
	return a, a, conn.Disconnect, nil
}

func (a *adapter) onReconnect(ctx context.Context) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.subscriptions) == 0 {
		return
	}

	sub := &paho.Subscribe{
		Subscriptions: make([]paho.SubscribeOptions, 0, len(a.subscriptions)),
	}

	for _, s := range a.subscriptions {
		sub.Subscriptions = append(sub.Subscriptions, s)
	}

	a.log.With(slog.Int("count", len(sub.Subscriptions))).Debug("Reconnected, re-sending subscriptions")
	if _, err := a.conn.Subscribe(ctx, sub); err != nil {
		a.log.With(log.Error(err)).Error("Failed to re-subscribe to mqtt topics")
	}
}

func (a *adapter) WriteTopic(ctx context.Context, topic string, options mqtt.WriteOptions, value []byte) error {
	a.log.With(slog.String("topic", topic), slog.Any("options", options), slog.String("payload", string(value))).Debug("Publishing payload")

	_, err := a.conn.Publish(ctx, &paho.Publish{
		QoS:     uint8(options.QoS),
		Retain:  options.Retain,
		Topic:   topic,
		Payload: value,
	})

	return err
}

func (a *adapter) Subscribe(ctx context.Context, handler mqtt.Handler, subscriptions ...mqtt.Subscription) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(subscriptions) == 0 {
		return nil
	}

	sub := &paho.Subscribe{
		Subscriptions: make([]paho.SubscribeOptions, len(subscriptions)),
	}

	for i, s := range subscriptions {
		opts := paho.SubscribeOptions{
			Topic:             s.Topic,
			QoS:               uint8(s.Options.QoS),
			RetainHandling:    uint8(s.Options.RetainHandling),
			NoLocal:           s.Options.NoLocal,
			RetainAsPublished: s.Options.RetainAsPublished,
		}

		a.subscriptions[s.Topic] = opts
		sub.Subscriptions[i] = opts

		a.r.RegisterHandler(s.Topic, func(publish *paho.Publish) {
			handler.ServeMQTT(a, publish.Topic, publish.Payload)
		})
	}

	a.log.With(slog.Any("subscriptions", subscriptions)).Debug("Subscribing to MQTT Topic(s)")
	if _, err := a.conn.Subscribe(ctx, sub); err != nil {
		return fmt.Errorf("mqtt: subscribe: %w", err)
	}

	return nil
}

func (a *adapter) Unsubscribe(ctx context.Context, topics ...string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, t := range topics {
		delete(a.subscriptions, t)
		a.r.UnregisterHandler(t)
	}

	a.log.With(slog.Any("topics", topics)).Debug("Unsubscribing from MQTT Topic(s)")
	_, err := a.conn.Unsubscribe(ctx, &paho.Unsubscribe{
		Topics: topics,
	})

	return err
}
