package discovery

import (
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/mqtt"
)

const (
	// DefaultPrefix is where Home Assistant looks for discovery payloads unless configured otherwise.
	DefaultPrefix = "homeassistant"
	// StatusTopic is where Home Assistant publishes its own hass.Availability under the discovery prefix.
	StatusTopic = "status"
)

// HomeAssistantAvailability returns a mqtt.RemoteValue tracking Home Assistant's birth and last will messages. Watch it
// to learn when Home Assistant restarts and discovery has to be sent again.
//
// See https://www.home-assistant.io/integrations/mqtt/#birth-and-last-will-messages.
func HomeAssistantAvailability(discoveryPrefix string) *mqtt.RemoteValue[hass.Availability] {
	return mqtt.NewRemoteValue(mqtt.JoinTopic(discoveryPrefix, StatusTopic), hass.AvailabilityUnmarshaler)
}

// ConfigTopic is the retained topic a device-based discovery payload for id is published to.
func ConfigTopic(discoveryPrefix, id string) string {
	return mqtt.JoinTopic(discoveryPrefix, "device", id, "config")
}
