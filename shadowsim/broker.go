package shadowsim

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"

	"github.com/DrmagicE/gmqtt"
	"github.com/DrmagicE/gmqtt/pkg/packets"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/mqtt"
)

// ErrBrokerNotRunning is returned by Broker.WriteTopic before the server has loaded the plugin.
var ErrBrokerNotRunning = errors.New("shadowsim: broker is not running")

// Broker is an embedded MQTT 3.1.1 broker that hands every arriving message to a Handler before routing it to
// subscribers. It implements mqtt.Writer so the Handler can publish responses through it.
type Broker struct {
	ln net.Listener

	mu      sync.RWMutex
	service gmqtt.Server
	handler mqtt.Handler
	filters []string

	stop func(ctx context.Context) error

	log *slog.Logger
}

var _ mqtt.Writer = &Broker{}

// NewBroker returns a Broker that will accept clients on ln once Run is called.
func NewBroker(ln net.Listener) *Broker {
	return &Broker{
		ln:  ln,
		log: log.ForComponent("shadowsim.broker").With(slog.String("listen", ln.Addr().String())),
	}
}

// Handle routes every message whose topic matches one of subs to h.
func (b *Broker) Handle(h mqtt.Handler, subs ...mqtt.Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handler = h
	b.filters = b.filters[:0]
	for _, s := range subs {
		b.filters = append(b.filters, s.Topic)
	}
}

// Run starts serving. It does not block.
func (b *Broker) Run() {
	s := gmqtt.NewServer(
		gmqtt.WithTCPListener(b.ln),
		gmqtt.WithPlugin(b),
	)

	b.log.Info("Starting broker")
	s.Run()
	b.stop = s.Stop
}

// Stop disconnects every client and closes the listener.
func (b *Broker) Stop(ctx context.Context) error {
	if b.stop == nil {
		return nil
	}

	b.log.Info("Stopping broker")
	return b.stop(ctx)
}

// WriteTopic publishes value to every subscriber of topic. Retain is not supported by the publish service and is
// ignored.
func (b *Broker) WriteTopic(_ context.Context, topic string, options mqtt.WriteOptions, value []byte) error {
	b.mu.RLock()
	service := b.service
	b.mu.RUnlock()

	if service == nil {
		return ErrBrokerNotRunning
	}

	service.PublishService().Publish(gmqtt.NewMessage(topic, value, uint8(options.QoS)))
	return nil
}

func (b *Broker) Load(service gmqtt.Server) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.service = service
	return nil
}

func (b *Broker) Unload() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.service = nil
	return nil
}

func (b *Broker) Name() string {
	return "shadowsim"
}

func (b *Broker) HookWrapper() gmqtt.HookWrapper {
	return gmqtt.HookWrapper{
		OnMsgArrivedWrapper: b.onMsgArrived,
	}
}

func (b *Broker) route(topic string) mqtt.Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.handler == nil {
		return nil
	}

	for _, f := range b.filters {
		if mqtt.MatchTopic(f, topic) {
			return b.handler
		}
	}

	return nil
}

func (b *Broker) onMsgArrived(arrived gmqtt.OnMsgArrived) gmqtt.OnMsgArrived {
	return func(ctx context.Context, client gmqtt.Client, msg packets.Message) bool {
		topic := msg.Topic()
		b.log.With(
			slog.String("client_id", client.OptionsReader().ClientID()),
			slog.String("topic", topic),
		).Debug("Message arrived")

		if h := b.route(topic); h != nil {
			h.ServeMQTT(b, topic, msg.Payload())
		}

		return arrived(ctx, client, msg)
	}
}
