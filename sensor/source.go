package sensor

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
)

// Bus reads one measurement frame from a DHT12 style device. Implementations return ErrBus or ErrTrailingData
// (possibly wrapped) for transport faults.
type Bus interface {
	ReadFrame(ctx context.Context) (Frame, error)
}

// Barometer reads the air pressure in pascals.
type Barometer interface {
	ReadPressure(ctx context.Context) (float64, error)
}

// BusFunc adapts an ordinary function to a Bus.
type BusFunc func(ctx context.Context) (Frame, error)

func (f BusFunc) ReadFrame(ctx context.Context) (Frame, error) {
	return f(ctx)
}

// SimulatedBus produces frames for a room whose temperature and humidity wander slowly around a base value.
type SimulatedBus struct {
	mu sync.Mutex

	rng *rand.Rand

	celsius  float64
	humidity float64
}

// NewSimulatedBus starts a simulation at the given temperature and humidity. The seed makes the walk repeatable.
func NewSimulatedBus(celsius, humidity float64, seed uint64) *SimulatedBus {
	return &SimulatedBus{
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		celsius:  celsius,
		humidity: humidity,
	}
}

func (s *SimulatedBus) ReadFrame(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.celsius = clamp(s.celsius+(s.rng.Float64()-0.5)*0.4, 0, 50)
	s.humidity = clamp(s.humidity+(s.rng.Float64()-0.5)*1.0, 20, 95)

	return NewFrame(s.humidity, s.celsius), nil
}

// SimulatedBarometer reports a pressure drifting around a base value in pascals.
type SimulatedBarometer struct {
	mu sync.Mutex

	rng      *rand.Rand
	pressure float64
}

// NewSimulatedBarometer starts a simulation at pressure pascals.
func NewSimulatedBarometer(pressure float64, seed uint64) *SimulatedBarometer {
	return &SimulatedBarometer{
		rng:      rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d)),
		pressure: pressure,
	}
}

func (s *SimulatedBarometer) ReadPressure(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pressure = clamp(s.pressure+(s.rng.Float64()-0.5)*20, 95000, 106000)
	return math.Round(s.pressure*10) / 10, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
