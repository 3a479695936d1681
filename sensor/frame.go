package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
)

// FrameSize is the length of a DHT12 measurement frame.
const FrameSize = 5

var (
	// ErrBus is returned by a Bus when the device did not answer.
	ErrBus = errors.New("sensor: bus transmission failed")
	// ErrTrailingData is returned by a Bus when the device sent more than FrameSize bytes.
	ErrTrailingData = errors.New("sensor: trailing data after frame")
	// ErrChecksum is returned by Frame.Decode when the checksum byte does not match.
	ErrChecksum = errors.New("sensor: checksum mismatch")
)

// Status is the outcome of a frame read. Non-zero values are faults.
type Status uint8

const (
	StatusOK Status = iota
	StatusBus
	StatusTrailingData
	StatusChecksum
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusBus:
		return "bus"
	case StatusTrailingData:
		return "trailing data"
	case StatusChecksum:
		return "checksum"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s Status) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// Sentinel is the value reported in place of a measurement for a faulted read.
func (s Status) Sentinel() float64 {
	return float64(s) / 100
}

// StatusOf maps an error from a Bus or Frame.Decode to its Status.
func StatusOf(err error) Status {
	switch {
	case err == nil:
		return StatusOK
	case errors.Is(err, ErrChecksum):
		return StatusChecksum
	case errors.Is(err, ErrTrailingData):
		return StatusTrailingData
	default:
		return StatusBus
	}
}

// Frame is a raw DHT12 measurement: humidity integral and decimal, temperature integral and decimal, checksum.
type Frame [FrameSize]byte

// Checksum is the low byte of the sum of the four data bytes.
func (f Frame) Checksum() byte {
	return f[0] + f[1] + f[2] + f[3]
}

// Valid reports whether the checksum byte matches the data.
func (f Frame) Valid() bool {
	return f[4] == f.Checksum()
}

// Decode returns the humidity in percent and the temperature in Celsius.
func (f Frame) Decode() (humidity, celsius float64, err error) {
	if !f.Valid() {
		return 0, 0, fmt.Errorf("%w: got 0x%02x want 0x%02x", ErrChecksum, f[4], f.Checksum())
	}

	humidity = float64(f[0]) + float64(f[1])/10
	celsius = float64(f[2]) + float64(f[3])/10

	return humidity, celsius, nil
}

// NewFrame builds a frame for the given measurements with a correct checksum. Values are rounded to one decimal and
// must lie in [0, 255].
func NewFrame(humidity, celsius float64) Frame {
	h := int(math.Round(humidity * 10))
	c := int(math.Round(celsius * 10))

	f := Frame{byte(h / 10), byte(h % 10), byte(c / 10), byte(c % 10)}
	f[4] = f.Checksum()

	return f
}
