package sensor

import (
	"fmt"
	"log/slog"
	"strings"
)

// Scale is a temperature scale. It implements fmt.Stringer and slog.LogValuer and decodes from yaml or env text.
type Scale uint8

const (
	Celsius Scale = iota + 1
	Kelvin
	Fahrenheit
)

// Symbol returns the single letter used in the temp_symbol field.
func (s Scale) Symbol() string {
	switch s {
	case Kelvin:
		return "K"
	case Fahrenheit:
		return "F"
	default:
		return "C"
	}
}

// Unit returns the unit of measurement Home Assistant expects for temperatures in s.
func (s Scale) Unit() string {
	switch s {
	case Kelvin:
		return "K"
	case Fahrenheit:
		return "°F"
	default:
		return "°C"
	}
}

func (s Scale) String() string {
	switch s {
	case Celsius:
		return "celsius"
	case Kelvin:
		return "kelvin"
	case Fahrenheit:
		return "fahrenheit"
	default:
		return fmt.Sprintf("scale(%d)", uint8(s))
	}
}

func (s Scale) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// FromCelsius converts a Celsius temperature to s. Unknown scales return c unchanged.
func (s Scale) FromCelsius(c float64) float64 {
	switch s {
	case Kelvin:
		return c + 273.15
	case Fahrenheit:
		return c*1.8 + 32
	default:
		return c
	}
}

// ParseScale accepts a scale name or symbol, case-insensitively.
func ParseScale(v string) (Scale, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "c", "celsius":
		return Celsius, nil
	case "k", "kelvin":
		return Kelvin, nil
	case "f", "fahrenheit":
		return Fahrenheit, nil
	default:
		return 0, fmt.Errorf("sensor: unknown temperature scale %q", v)
	}
}

func (s *Scale) UnmarshalText(text []byte) error {
	parsed, err := ParseScale(string(text))
	if err != nil {
		return err
	}

	*s = parsed
	return nil
}

func (s Scale) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
