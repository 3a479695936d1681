package envshadow

import (
	"encoding/json"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/mqtt"
	"github.com/nlowe/envshadow/mqtt/mqtttest"
	"github.com/nlowe/envshadow/platform"
)

func TestDeviceID(t *testing.T) {
	for i, tt := range []struct {
		device Device
		want   string
	}{
		{device: Device{DiscoveryID: "explicit", Name: "ignored"}, want: "explicit"},
		{device: Device{Identifiers: []string{"a", "b"}}, want: "a__b"},
		{device: Device{Identifiers: []string{"a"}, Name: "Env Sensor"}, want: "a__Env__Sensor"},
		{device: Device{Name: "n", Serial: "s", Manufacturer: "m", Model: "x", ModelID: "y"}, want: "n__s__m__x__y"},
		{device: Device{Identifiers: []string{"aws/things/env-1"}}, want: "aws__things__env-1"},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			require.Equal(t, tt.want, tt.device.ID())
		})
	}
}

func TestDeviceValid(t *testing.T) {
	require.ErrorIs(t, (&Device{Name: "x"}).Valid(), ErrInvalidDevice)
	require.NoError(t, (&Device{Identifiers: []string{"x"}}).Valid())
	require.NoError(t, (&Device{Connections: []DeviceConnection{{Kind: "mac", Value: "02:5b:26:a8:dc:12"}}}).Valid())
}

func testSensor() *Component[*platform.Sensor[float64, any]] {
	return &Component[*platform.Sensor[float64, any]]{
		UniqueID:     "env_temperature",
		TopicPrefix:  "envshadow/env",
		Availability: mqtt.NewValue("availability", hass.AvailabilityMarshaler),
		Platform: &platform.Sensor[float64, any]{
			State:             mqtt.NewValue("temperature", mqtt.FloatMarshaler),
			UnitOfMeasurement: "°C",
		},
	}
}

func TestComponentDiscovery(t *testing.T) {
	t.Run("OK", func(t *testing.T) {
		f, err := testSensor().Discovery()
		require.NoError(t, err)

		assert.Equal(t, "sensor", f[discovery.FieldPlatform])
		assert.Equal(t, "env_temperature", f[discovery.FieldUniqueID])
		assert.Equal(t, "envshadow/env/availability", f[discovery.FieldAvailabilityTopic])
		assert.Equal(t, "envshadow/env/temperature", f[discovery.FieldStateTopic])
		assert.Contains(t, f, discovery.FieldName)
		assert.Nil(t, f[discovery.FieldName])
	})

	t.Run("Missing Required", func(t *testing.T) {
		c := testSensor()
		c.UniqueID = ""
		c.Availability = nil

		_, err := c.Discovery()
		require.ErrorIs(t, err, discovery.ErrValueRequired)
		require.ErrorIs(t, err, discovery.ErrTopicRequired)
	})

	t.Run("Removal", func(t *testing.T) {
		f, err := testSensor().ForRemoval().Discovery()
		require.NoError(t, err)
		require.Equal(t, discovery.Fields{discovery.FieldPlatform: "sensor"}, f)
	})
}

func TestComponentSubscribe(t *testing.T) {
	broker := mqtttest.NewBroker()

	t.Run("Publish Only", func(t *testing.T) {
		require.NoError(t, testSensor().Subscribe(t.Context(), broker))
		require.Empty(t, broker.Subscriptions())
	})

	t.Run("Commands", func(t *testing.T) {
		c := &Component[*platform.Switch]{
			UniqueID:     "env_sending",
			TopicPrefix:  "envshadow/env",
			Availability: mqtt.NewValue("availability", hass.AvailabilityMarshaler),
			Platform: &platform.Switch{
				Command: mqtt.NewRemoteValue("sending/set", hass.PowerStateUnmarshaler),
			},
		}

		require.NoError(t, c.Subscribe(t.Context(), broker))
		require.ErrorIs(t, c.Subscribe(t.Context(), broker), ErrComponentAlreadySubscribed)

		broker.Deliver("envshadow/env/sending/set", []byte("ON"))
		v, ok := c.Platform.Command.Get()
		require.True(t, ok)
		require.Equal(t, hass.PowerStateOn, v)

		require.NoError(t, c.Unsubscribe(t.Context(), broker))
		require.Empty(t, broker.Subscriptions())
		require.NoError(t, c.Unsubscribe(t.Context(), broker))
	})
}

func TestDeviceConfigure(t *testing.T) {
	cu, err := url.Parse("http://env.local")
	require.NoError(t, err)

	d := &Device{
		Name:             "Env",
		Identifiers:      []string{"env"},
		ConfigurationURL: cu,
		Connections:      []DeviceConnection{{Kind: "mac", Value: "02:5b:26:a8:dc:12"}},
	}

	broker := mqtttest.NewBroker()
	require.NoError(t, d.Configure(t.Context(), broker, discovery.DefaultPrefix, map[string]Discoverable{
		"env_temperature": testSensor(),
	}))

	msgs := broker.MessagesOn("homeassistant/device/env__Env/config")
	require.Len(t, msgs, 1)
	require.True(t, msgs[0].Options.Retain)

	var payload struct {
		Device struct {
			Name        string      `json:"name"`
			Identifiers []string    `json:"ids"`
			URL         string      `json:"cu"`
			Connections [][2]string `json:"cns"`
		} `json:"dev"`
		Origin struct {
			Name string `json:"name"`
			URL  string `json:"url"`
		} `json:"o"`
		Components map[string]map[string]any `json:"cmps"`
	}
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &payload))

	assert.Equal(t, "Env", payload.Device.Name)
	assert.Equal(t, []string{"env"}, payload.Device.Identifiers)
	assert.Equal(t, "http://env.local", payload.Device.URL)
	assert.Equal(t, [][2]string{{"mac", "02:5b:26:a8:dc:12"}}, payload.Device.Connections)
	assert.Equal(t, "envshadow", payload.Origin.Name)
	assert.Equal(t, "https://github.com/nlowe/envshadow", payload.Origin.URL)
	require.Contains(t, payload.Components, "env_temperature")
	assert.Equal(t, "°C", payload.Components["env_temperature"]["unit_of_meas"])

	t.Run("Invalid Device", func(t *testing.T) {
		require.ErrorIs(t, (&Device{}).Configure(t.Context(), broker, discovery.DefaultPrefix, nil), ErrInvalidDevice)
	})

	t.Run("Invalid Component", func(t *testing.T) {
		bad := testSensor()
		bad.UniqueID = ""

		require.ErrorIs(t, d.Configure(t.Context(), broker, discovery.DefaultPrefix, map[string]Discoverable{"bad": bad}), discovery.ErrValueRequired)
	})
}
