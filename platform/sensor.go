package platform

import (
	"time"

	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/mqtt"
)

// Sensor implements the sensor.mqtt platform. State holds the measurement, and Attributes optionally carries extra
// context published as a JSON object.
//
// See https://www.home-assistant.io/integrations/sensor.mqtt/.
type Sensor[TValue, TAttributes any] struct {
	// The current measurement.
	State *mqtt.Value[TValue]

	// Extra state attributes. Use NewSensorAttributeValue so they are encoded as JSON.
	Attributes *mqtt.Value[TAttributes]

	DeviceClass       hass.DeviceClass
	StateClass        hass.StateClass
	UnitOfMeasurement string

	// Decimals Home Assistant rounds the state to for display.
	SuggestedDisplayPrecision uint

	// The state becomes unavailable if it is not updated within this window. Zero never expires.
	ExpireAfter time.Duration

	// Record an update even when the value did not change.
	ForceUpdate bool
}

func (s *Sensor[TValue, TAttributes]) PlatformName() string {
	return "sensor"
}

// Subscriptions is empty: sensors only publish.
func (s *Sensor[TValue, TAttributes]) Subscriptions(_ string) []mqtt.Subscription {
	return nil
}

func (s *Sensor[TValue, TAttributes]) ServeMQTT(_ mqtt.Writer, _ string, _ []byte) {}

func (s *Sensor[TValue, TAttributes]) DiscoveryFields(prefix string) (discovery.Fields, error) {
	f := discovery.Fields{}

	discovery.Set(f, discovery.FieldDeviceClass, s.DeviceClass)
	discovery.Set(f, discovery.FieldStateClass, s.StateClass)
	discovery.Set(f, discovery.FieldUnitOfMeasurement, s.UnitOfMeasurement)
	discovery.Set(f, discovery.FieldSuggestedDisplayPrecision, s.SuggestedDisplayPrecision)
	discovery.Set(f, discovery.FieldExpireAfter, s.ExpireAfter)
	discovery.Set(f, discovery.FieldForceUpdate, s.ForceUpdate)
	discovery.ValueTopic(f, discovery.FieldAttributesTopic, s.Attributes, prefix)

	return f, discovery.RequiredValueTopic("state", f, discovery.FieldStateTopic, s.State, prefix)
}

// NewSensorAttributeValue returns a JSON encoded attributes value for topic.
func NewSensorAttributeValue[TAttributes any](topic string) *mqtt.Value[TAttributes] {
	return mqtt.NewValue(topic, mqtt.JsonValueMarshaler[TAttributes]())
}
