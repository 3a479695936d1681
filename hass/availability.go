// Package hass holds the small vocabulary of Home Assistant state values the agent exchanges over MQTT.
package hass

import (
	"log/slog"

	"github.com/nlowe/envshadow/mqtt"
)

// Availability is the online/offline state Home Assistant tracks for itself and for each entity.
type Availability string

const (
	Available   Availability = "online"
	Unavailable Availability = "offline"
)

var (
	AvailabilityMarshaler mqtt.ValueMarshaler[Availability] = func(v Availability) ([]byte, error) {
		return []byte(v), nil
	}
	AvailabilityUnmarshaler mqtt.ValueUnmarshaler[Availability] = func(b []byte) (Availability, error) {
		return Availability(b), nil
	}
)

// CustomAvailability overrides the payloads Home Assistant compares availability messages against.
type CustomAvailability struct {
	Available   Availability
	Unavailable Availability
}

func (c CustomAvailability) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("available", string(c.Available)),
		slog.String("unavailable", string(c.Unavailable)),
	)
}
