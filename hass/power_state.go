package hass

import (
	"fmt"
	"log/slog"

	"github.com/nlowe/envshadow/mqtt"
)

// PowerState is the ON/OFF payload used by switches and binary sensors. For a binary sensor ON means the condition
// is present (a fault is active, for example), not that anything is powered.
type PowerState string

const (
	PowerStateOn  PowerState = "ON"
	PowerStateOff PowerState = "OFF"
)

// PowerStateOf maps a boolean to PowerStateOn or PowerStateOff.
func PowerStateOf(on bool) PowerState {
	if on {
		return PowerStateOn
	}

	return PowerStateOff
}

// Bool reports whether p is on according to c. Payloads matching neither state are an error.
func (c CustomPowerState) Bool(p PowerState) (bool, error) {
	on, off := c.On, c.Off
	if on == "" {
		on = PowerStateOn
	}
	if off == "" {
		off = PowerStateOff
	}

	switch p {
	case on:
		return true, nil
	case off:
		return false, nil
	default:
		return false, fmt.Errorf("unknown power state %q", string(p))
	}
}

var (
	PowerStateMarshaler mqtt.ValueMarshaler[PowerState] = func(v PowerState) ([]byte, error) {
		return []byte(v), nil
	}
	PowerStateUnmarshaler mqtt.ValueUnmarshaler[PowerState] = func(b []byte) (PowerState, error) {
		return PowerState(b), nil
	}
)

// CustomPowerState overrides the ON and OFF payloads for an entity. Empty fields fall back to the defaults.
type CustomPowerState struct {
	On  PowerState
	Off PowerState
}

func (c CustomPowerState) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("on", string(c.On)),
		slog.String("off", string(c.Off)),
	)
}
