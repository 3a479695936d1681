package autopaho

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/mqtt"
)

func TestSettingsClientConfig(t *testing.T) {
	t.Run("NoBroker", func(t *testing.T) {
		_, err := Settings{}.ClientConfig()
		require.Error(t, err)
	})

	t.Run("TLSFromScheme", func(t *testing.T) {
		broker, err := url.Parse("mqtts://example.iot.eu-west-1.amazonaws.com:8883")
		require.NoError(t, err)

		cfg, err := Settings{Broker: broker, ClientID: "env-1"}.ClientConfig()
		require.NoError(t, err)

		require.NotNil(t, cfg.TlsCfg)
		assert.Equal(t, "env-1", cfg.ClientConfig.ClientID)
		assert.True(t, cfg.CleanStartOnInitialConnection)
		assert.Nil(t, cfg.WillMessage)
	})

	t.Run("PlainTCP", func(t *testing.T) {
		broker, err := url.Parse("mqtt://localhost:1883")
		require.NoError(t, err)

		cfg, err := Settings{Broker: broker, RetryDelay: 100 * time.Millisecond}.ClientConfig()
		require.NoError(t, err)

		assert.Nil(t, cfg.TlsCfg)
		assert.NotNil(t, cfg.ReconnectBackoff)
	})

	t.Run("Will", func(t *testing.T) {
		broker, err := url.Parse("mqtt://localhost:1883")
		require.NoError(t, err)

		cfg, err := Settings{
			Broker: broker,
			Will: &Will{
				Topic:   "envshadow/env-1/availability",
				Payload: []byte("offline"),
				Options: mqtt.WriteOptions{QoS: mqtt.QOSAtLeastOnce, Retain: true},
			},
		}.ClientConfig()
		require.NoError(t, err)

		require.NotNil(t, cfg.WillMessage)
		assert.Equal(t, "envshadow/env-1/availability", cfg.WillMessage.Topic)
		assert.Equal(t, []byte("offline"), cfg.WillMessage.Payload)
		assert.Equal(t, byte(1), cfg.WillMessage.QoS)
		assert.True(t, cfg.WillMessage.Retain)
	})
}
