package shadow

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Delta is the document AWS IoT pushes on the update/delta topic: the desired properties that differ from the last
// reported state. Values are kept raw until the Reconciler decides how to decode each property.
type Delta struct {
	Version     int64                      `json:"version"`
	Timestamp   int64                      `json:"timestamp"`
	State       map[string]json.RawMessage `json:"state"`
	ClientToken string                     `json:"clientToken,omitempty"`
}

// Properties returns the property names in lexical order.
func (d Delta) Properties() []string {
	return slices.Sorted(maps.Keys(d.State))
}

func (d Delta) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("version", d.Version),
		slog.Any("properties", d.Properties()),
	)
}

// ParseDelta validates and decodes an update/delta payload. Errors wrap ErrMalformed.
func ParseDelta(payload []byte) (Delta, error) {
	if err := validate(deltaSchema, payload); err != nil {
		return Delta{}, err
	}

	var d Delta
	if err := json.Unmarshal(payload, &d); err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return d, nil
}

// GetAccepted is the full shadow document returned on get/accepted.
type GetAccepted struct {
	State struct {
		Desired  map[string]json.RawMessage `json:"desired,omitempty"`
		Reported map[string]json.RawMessage `json:"reported,omitempty"`
		Delta    map[string]json.RawMessage `json:"delta,omitempty"`
	} `json:"state"`
	Version     int64  `json:"version"`
	Timestamp   int64  `json:"timestamp"`
	ClientToken string `json:"clientToken,omitempty"`
}

// PendingDelta returns the delta section as a Delta, or false when desired and reported already agree.
func (g GetAccepted) PendingDelta() (Delta, bool) {
	if len(g.State.Delta) == 0 {
		return Delta{}, false
	}

	return Delta{
		Version:     g.Version,
		Timestamp:   g.Timestamp,
		State:       g.State.Delta,
		ClientToken: g.ClientToken,
	}, true
}

// ParseGetAccepted validates and decodes a get/accepted payload. Errors wrap ErrMalformed.
func ParseGetAccepted(payload []byte) (GetAccepted, error) {
	if err := validate(getAcceptedSchema, payload); err != nil {
		return GetAccepted{}, err
	}

	var g GetAccepted
	if err := json.Unmarshal(payload, &g); err != nil {
		return GetAccepted{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return g, nil
}

// ErrorDocument is published by AWS IoT on the rejected topics.
type ErrorDocument struct {
	Code        int    `json:"code"`
	Message     string `json:"message"`
	Timestamp   int64  `json:"timestamp,omitempty"`
	ClientToken string `json:"clientToken,omitempty"`
}

func (e ErrorDocument) Error() string {
	return fmt.Sprintf("shadow: rejected (%d): %s", e.Code, e.Message)
}

func (e ErrorDocument) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("code", e.Code),
		slog.String("message", e.Message),
		slog.String("client_token", e.ClientToken),
	)
}
