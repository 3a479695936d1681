// Package shadow keeps the agent's send configuration in step with its AWS IoT device shadow.
//
// The cloud writes the desired configuration; AWS computes a delta against what the device last reported and pushes
// it on the delta topic. A Reconciler applies each property of a delta that differs from the local State and
// acknowledges it by publishing the new value as reported state.
package shadow

import (
	"log/slog"
	"time"
)

// Shadow property names.
const (
	PropertySendEnabled  = "send_enabled"
	PropertySendInterval = "send_interval"
)

// Defaults used until the shadow says otherwise.
const (
	DefaultSendEnabled    = true
	DefaultSendIntervalMS = 30_000
)

// State is the send configuration controlled through the shadow. It is a value; the Reconciler owns the live copy.
type State struct {
	SendEnabled    bool   `json:"send_enabled"`
	SendIntervalMS uint32 `json:"send_interval"`
}

// DefaultState returns the configuration a device starts with.
func DefaultState() State {
	return State{
		SendEnabled:    DefaultSendEnabled,
		SendIntervalMS: DefaultSendIntervalMS,
	}
}

// SendInterval returns SendIntervalMS as a time.Duration.
func (s State) SendInterval() time.Duration {
	return time.Duration(s.SendIntervalMS) * time.Millisecond
}

// Reported returns s as reported shadow properties.
func (s State) Reported() map[string]any {
	return map[string]any{
		PropertySendEnabled:  s.SendEnabled,
		PropertySendInterval: s.SendIntervalMS,
	}
}

func (s State) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Bool(PropertySendEnabled, s.SendEnabled),
		slog.Duration(PropertySendInterval, s.SendInterval()),
	)
}
