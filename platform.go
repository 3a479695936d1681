package envshadow

import (
	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/mqtt"
)

// Platform is implemented by every Home Assistant entity type in package platform.
type Platform interface {
	mqtt.Handler

	// DiscoveryFields returns the platform specific part of a component's discovery object, with every topic
	// qualified by prefix.
	DiscoveryFields(prefix string) (discovery.Fields, error)

	// PlatformName is the value of the `platform` field, such as "sensor".
	PlatformName() string

	// Subscriptions lists the command topics Home Assistant writes to. Platforms that only publish return nil.
	Subscriptions(prefix string) []mqtt.Subscription
}

// Discoverable is anything that can appear in the components map of a device discovery payload.
type Discoverable interface {
	Discovery() (discovery.Fields, error)
}
