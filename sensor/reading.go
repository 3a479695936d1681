package sensor

import (
	"log/slog"
	"time"
)

// Reading is a single measurement snapshot. It is a value and is never modified once returned.
type Reading struct {
	Temperature  float64 `json:"temperature"`
	Symbol       string  `json:"temp_symbol"`
	Humidity     float64 `json:"humidity"`
	Pressure     float64 `json:"pressure"`
	TriggerCount uint64  `json:"triggered"`
	// LastRead is the epoch second the measurement was taken.
	LastRead int64 `json:"last_read"`

	// Fault is non-zero when Temperature and Humidity hold a Status sentinel.
	Fault Status `json:"fault,omitempty"`
}

// Time returns LastRead as a time.Time.
func (r Reading) Time() time.Time {
	return time.Unix(r.LastRead, 0)
}

// Faulted reports whether the reading carries sentinel values.
func (r Reading) Faulted() bool {
	return r.Fault != StatusOK
}

func (r Reading) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Float64("temperature", r.Temperature),
		slog.String("symbol", r.Symbol),
		slog.Float64("humidity", r.Humidity),
		slog.Float64("pressure", r.Pressure),
		slog.Uint64("triggered", r.TriggerCount),
	}
	if r.Faulted() {
		attrs = append(attrs, slog.Any("fault", r.Fault))
	}

	return slog.GroupValue(attrs...)
}
