package autopaho

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/mqtt"
)

// Will is the last will published by the broker when the client drops without disconnecting.
type Will struct {
	Topic   string
	Payload []byte
	Options mqtt.WriteOptions
}

// Settings describes a broker connection in the terms the agent configures it.
type Settings struct {
	// Broker is the server url. mqtts:// and ssl:// schemes require TLS.
	Broker *url.URL
	// ClientID must be the thing name when talking to AWS IoT, policies are usually scoped to it.
	ClientID string

	TLS *tls.Config

	Username string
	Password string

	// KeepAlive is in seconds.
	KeepAlive uint16
	// SessionExpiry is in seconds. Zero ends the session on disconnect.
	SessionExpiry uint32

	ConnectTimeout time.Duration
	RetryDelay     time.Duration

	Will *Will

	// OnConnectionUp runs after every successful (re)connect, once subscriptions are restored.
	OnConnectionUp func()
}

// ClientConfig converts Settings to an autopaho.ClientConfig.
func (s Settings) ClientConfig() (autopaho.ClientConfig, error) {
	if s.Broker == nil {
		return autopaho.ClientConfig{}, fmt.Errorf("mqtt: no broker url")
	}

	l := log.ForComponent("mqtt").With(slog.String("client_id", s.ClientID))

	tlsConfig := s.TLS
	if tlsConfig == nil && (s.Broker.Scheme == "mqtts" || s.Broker.Scheme == "ssl" || s.Broker.Scheme == "tls") {
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	config := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{s.Broker},
		TlsCfg:                        tlsConfig,
		KeepAlive:                     s.KeepAlive,
		CleanStartOnInitialConnection: s.SessionExpiry == 0,
		SessionExpiryInterval:         s.SessionExpiry,
		ConnectTimeout:                s.ConnectTimeout,

		OnConnectionUp: func(*autopaho.ConnectionManager, *paho.Connack) {
			l.Info("mqtt connected")
			if s.OnConnectionUp != nil {
				s.OnConnectionUp()
			}
		},
		OnConnectError: func(err error) {
			l.With(log.Error(err)).Warn("mqtt connection error")
		},

		ClientConfig: paho.ClientConfig{
			ClientID: s.ClientID,
			OnClientError: func(err error) {
				l.With(log.Error(err)).Error("mqtt client error")
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				dl := l.With(slog.Int("reason", int(d.ReasonCode)))
				if d.Properties != nil {
					dl = dl.With(slog.String("reason_string", d.Properties.ReasonString))
				}

				dl.Warn("Disconnected from server")
			},
		},
	}

	if s.RetryDelay > 0 {
		config.ReconnectBackoff = autopaho.NewConstantBackoff(s.RetryDelay)
	}

	if s.Username != "" {
		config.ConnectUsername = s.Username
		config.ConnectPassword = []byte(s.Password)
	}

	if s.Will != nil {
		config.WillMessage = &paho.WillMessage{
			Topic:   s.Will.Topic,
			Payload: s.Will.Payload,
			QoS:     byte(s.Will.Options.QoS),
			Retain:  s.Will.Options.Retain,
		}
	}

	return config, nil
}
