package sensor

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/nlowe/envshadow/log"
)

// Fixed values returned in test mode.
const (
	TestTemperature = 23.3
	TestHumidity    = 45.5
	TestPressure    = 10856.0
)

// ErrNoReading is returned by Reader.Read when no temperature could be produced at all.
var ErrNoReading = errors.New("sensor: no reading")

// Reader turns frames from a Bus and pressure from a Barometer into Readings. It is owned by the agent loop and is not
// safe for concurrent use.
type Reader struct {
	bus       Bus
	barometer Barometer
	scale     Scale
	testMode  bool
	trigger   *Trigger
	now       func() time.Time

	last    Reading
	hasLast bool

	log *slog.Logger
}

// ReaderOption customizes a Reader.
type ReaderOption func(*Reader)

// WithBarometer adds a pressure source. Without one, pressure is reported as zero.
func WithBarometer(b Barometer) ReaderOption {
	return func(r *Reader) {
		r.barometer = b
	}
}

// WithScale selects the temperature scale. The default is Celsius.
func WithScale(s Scale) ReaderOption {
	return func(r *Reader) {
		r.scale = s
	}
}

// WithTestMode makes every read return the fixed test values without touching the bus.
func WithTestMode(enabled bool) ReaderOption {
	return func(r *Reader) {
		r.testMode = enabled
	}
}

// WithTrigger stamps readings with the trigger's fire count.
func WithTrigger(t *Trigger) ReaderOption {
	return func(r *Reader) {
		r.trigger = t
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ReaderOption {
	return func(r *Reader) {
		r.now = now
	}
}

// NewReader returns a Reader for bus. bus may be nil in test mode.
func NewReader(bus Bus, opts ...ReaderOption) *Reader {
	r := &Reader{
		bus:   bus,
		scale: Celsius,
		now:   time.Now,

		log: log.ForComponent("sensor"),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Scale returns the configured temperature scale.
func (r *Reader) Scale() Scale {
	return r.scale
}

// Read takes a measurement. Bus and checksum faults do not fail the read: the reading carries the fault's sentinel
// value for temperature and humidity and Fault is set. An error is returned only when ctx is done or no temperature
// was produced.
func (r *Reader) Read(ctx context.Context) (Reading, error) {
	reading := Reading{
		Symbol:       r.scale.Symbol(),
		TriggerCount: r.trigger.Count(),
		LastRead:     r.now().Unix(),
	}

	if r.testMode {
		reading.Temperature = TestTemperature
		reading.Humidity = TestHumidity
		reading.Pressure = TestPressure

		r.remember(reading)
		return reading, nil
	}

	if r.bus == nil {
		return Reading{}, ErrNoReading
	}

	reading.Temperature, reading.Humidity, reading.Fault = r.readFrame(ctx)
	if err := ctx.Err(); err != nil {
		return Reading{}, err
	}

	if math.IsNaN(reading.Temperature) {
		return Reading{}, ErrNoReading
	}

	reading.Pressure = r.readPressure(ctx)

	r.remember(reading)
	return reading, nil
}

func (r *Reader) readFrame(ctx context.Context) (temperature, humidity float64, status Status) {
	frame, err := r.bus.ReadFrame(ctx)
	if err == nil {
		var celsius float64
		if humidity, celsius, err = frame.Decode(); err == nil {
			return r.scale.FromCelsius(celsius), humidity, StatusOK
		}
	}

	status = StatusOf(err)
	r.log.With(log.Error(err), slog.Any("status", status)).Warn("Sensor read failed, reporting sentinel")

	return status.Sentinel(), status.Sentinel(), status
}

func (r *Reader) readPressure(ctx context.Context) float64 {
	if r.barometer == nil {
		return 0
	}

	p, err := r.barometer.ReadPressure(ctx)
	if err != nil || math.IsNaN(p) || math.IsInf(p, 0) {
		r.log.With(log.Error(err)).Warn("Pressure read failed")
		return 0
	}

	return p
}

func (r *Reader) remember(reading Reading) {
	r.last, r.hasLast = reading, true
}

// Last returns the most recent reading produced by Read, including one that carries sentinel values. Check
// Reading.Faulted before using its measurements.
func (r *Reader) Last() (Reading, bool) {
	return r.last, r.hasLast
}
