package platform

import (
	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/mqtt"
)

// Switch implements the switch.mqtt platform. Home Assistant writes ON or OFF to Command, and the device reports what
// it actually did on State.
//
// See https://www.home-assistant.io/integrations/switch.mqtt/.
type Switch struct {
	// The state the device reports. When nil Home Assistant runs the switch optimistically.
	State *mqtt.Value[hass.PowerState]
	// Commands from Home Assistant arrive here.
	Command *mqtt.RemoteValue[hass.PowerState]

	CustomPowerStateValues hass.CustomPowerState

	DeviceClass hass.DeviceClass

	// Assume commands succeed without waiting for State.
	Optimistic bool
}

func (s *Switch) PlatformName() string {
	return "switch"
}

func (s *Switch) Subscriptions(prefix string) []mqtt.Subscription {
	return s.Command.AppendSubscribeOptions(nil, prefix)
}

// ServeMQTT hands the payload to Command when topic, relative to the component prefix, is the command topic.
func (s *Switch) ServeMQTT(w mqtt.Writer, topic string, payload []byte) {
	if topic == s.Command.FullyQualifiedTopic("") {
		s.Command.ServeMQTT(w, topic, payload)
	}
}

func (s *Switch) DiscoveryFields(prefix string) (discovery.Fields, error) {
	f := discovery.Fields{}

	err := discovery.RequiredRemoteValueTopic("command", f, discovery.FieldCommandTopic, s.Command, prefix)
	discovery.ValueTopic(f, discovery.FieldStateTopic, s.State, prefix)

	discovery.SetUnless(hass.PowerStateOn, f, discovery.FieldPayloadOn, s.CustomPowerStateValues.On)
	discovery.SetUnless(hass.PowerStateOff, f, discovery.FieldPayloadOff, s.CustomPowerStateValues.Off)
	discovery.Set(f, discovery.FieldDeviceClass, s.DeviceClass)
	discovery.Set(f, discovery.FieldOptimistic, s.Optimistic)

	return f, err
}
