package platform

import (
	"time"

	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/mqtt"
)

// BinarySensor is a Sensor whose state is a hass.PowerState.
//
// See https://www.home-assistant.io/integrations/binary_sensor.mqtt/.
type BinarySensor[TAttributes any] struct {
	Sensor[hass.PowerState, TAttributes]

	// Payloads compared against the state. Empty fields use ON and OFF.
	CustomPowerStateValues hass.CustomPowerState

	// Home Assistant flips the state back to off after this delay. Useful for event style sensors.
	OffDelay time.Duration
}

func NewBinarySensor[TAttributes any](state *mqtt.Value[hass.PowerState], attrs *mqtt.Value[TAttributes]) *BinarySensor[TAttributes] {
	return &BinarySensor[TAttributes]{
		Sensor: Sensor[hass.PowerState, TAttributes]{
			State:      state,
			Attributes: attrs,
		},
	}
}

func (s *BinarySensor[TAttributes]) PlatformName() string {
	return "binary_sensor"
}

func (s *BinarySensor[TAttributes]) DiscoveryFields(prefix string) (discovery.Fields, error) {
	f, err := s.Sensor.DiscoveryFields(prefix)

	// Binary sensors have no unit or statistics.
	delete(f, discovery.FieldStateClass)
	delete(f, discovery.FieldUnitOfMeasurement)
	delete(f, discovery.FieldSuggestedDisplayPrecision)

	discovery.SetUnless(hass.PowerStateOn, f, discovery.FieldPayloadOn, s.CustomPowerStateValues.On)
	discovery.SetUnless(hass.PowerStateOff, f, discovery.FieldPayloadOff, s.CustomPowerStateValues.Off)
	discovery.Set(f, discovery.FieldOffDelay, s.OffDelay)

	return f, err
}
