package platform

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/mqtt"
)

func TestSensor(t *testing.T) {
	t.Run("Requires State", func(t *testing.T) {
		s := &Sensor[float64, any]{}
		_, err := s.DiscoveryFields("env")
		require.ErrorIs(t, err, discovery.ErrTopicRequired)
	})

	t.Run("Fields", func(t *testing.T) {
		s := &Sensor[float64, map[string]any]{
			State:                     mqtt.NewValue("state", mqtt.FloatMarshaler),
			Attributes:                NewSensorAttributeValue[map[string]any]("attributes"),
			DeviceClass:               hass.DeviceClassTemperature,
			StateClass:                hass.StateClassMeasurement,
			UnitOfMeasurement:         "°C",
			SuggestedDisplayPrecision: 1,
			ExpireAfter:               2 * time.Minute,
		}

		f, err := s.DiscoveryFields("env/temperature")
		require.NoError(t, err)

		assert.Equal(t, "sensor", s.PlatformName())
		assert.Empty(t, s.Subscriptions("env/temperature"))
		assert.Equal(t, "env/temperature/state", f[discovery.FieldStateTopic])
		assert.Equal(t, "env/temperature/attributes", f[discovery.FieldAttributesTopic])
		assert.Equal(t, hass.DeviceClassTemperature, f[discovery.FieldDeviceClass])
		assert.Equal(t, hass.StateClassMeasurement, f[discovery.FieldStateClass])
		assert.Equal(t, "°C", f[discovery.FieldUnitOfMeasurement])
		assert.Equal(t, uint(1), f[discovery.FieldSuggestedDisplayPrecision])
		assert.Equal(t, 2*time.Minute, f[discovery.FieldExpireAfter])
		assert.NotContains(t, f, discovery.FieldForceUpdate)
	})
}

func TestBinarySensor(t *testing.T) {
	s := NewBinarySensor[any](mqtt.NewValue("state", hass.PowerStateMarshaler), nil)
	s.DeviceClass = hass.DeviceClassProblem
	s.StateClass = hass.StateClassMeasurement
	s.CustomPowerStateValues = hass.CustomPowerState{On: "fault", Off: hass.PowerStateOff}

	f, err := s.DiscoveryFields("env/fault")
	require.NoError(t, err)

	assert.Equal(t, "binary_sensor", s.PlatformName())
	assert.Equal(t, "env/fault/state", f[discovery.FieldStateTopic])
	assert.Equal(t, hass.DeviceClassProblem, f[discovery.FieldDeviceClass])
	assert.Equal(t, hass.PowerState("fault"), f[discovery.FieldPayloadOn])
	assert.NotContains(t, f, discovery.FieldPayloadOff)
	assert.NotContains(t, f, discovery.FieldStateClass)
}

func TestSwitch(t *testing.T) {
	t.Run("Requires Command", func(t *testing.T) {
		s := &Switch{State: mqtt.NewValue("state", hass.PowerStateMarshaler)}
		_, err := s.DiscoveryFields("env/sending")
		require.ErrorIs(t, err, discovery.ErrTopicRequired)
	})

	t.Run("Routes Commands", func(t *testing.T) {
		s := &Switch{
			State:   mqtt.NewValue("state", hass.PowerStateMarshaler),
			Command: mqtt.NewRemoteValue("set", hass.PowerStateUnmarshaler),
		}

		subs := s.Subscriptions("env/sending")
		require.Len(t, subs, 1)
		require.Equal(t, "env/sending/set", subs[0].Topic)

		var got []hass.PowerState
		s.Command.Watch(func(p hass.PowerState) { got = append(got, p) })

		s.ServeMQTT(nil, "state", []byte("ON"))
		s.ServeMQTT(nil, "set", []byte("OFF"))
		require.Equal(t, []hass.PowerState{hass.PowerStateOff}, got)

		f, err := s.DiscoveryFields("env/sending")
		require.NoError(t, err)
		assert.Equal(t, "switch", s.PlatformName())
		assert.Equal(t, "env/sending/set", f[discovery.FieldCommandTopic])
		assert.Equal(t, "env/sending/state", f[discovery.FieldStateTopic])
	})
}
