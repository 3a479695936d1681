package sensor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedBarometer float64

func (f fixedBarometer) ReadPressure(context.Context) (float64, error) {
	return float64(f), nil
}

type failingBarometer struct{}

func (failingBarometer) ReadPressure(context.Context) (float64, error) {
	return 0, errors.New("no bme280")
}

func TestReader(t *testing.T) {
	now := time.Unix(1700000000, 0)
	clock := func() time.Time { return now }

	t.Run("Read", func(t *testing.T) {
		bus := BusFunc(func(context.Context) (Frame, error) {
			return NewFrame(45.5, 20), nil
		})
		r := NewReader(bus, WithScale(Fahrenheit), WithBarometer(fixedBarometer(101325)), WithClock(clock))

		got, err := r.Read(context.Background())
		require.NoError(t, err)

		assert.InDelta(t, 68.0, got.Temperature, 0.0001)
		assert.Equal(t, "F", got.Symbol)
		assert.InDelta(t, 45.5, got.Humidity, 0.0001)
		assert.Equal(t, 101325.0, got.Pressure)
		assert.Equal(t, int64(1700000000), got.LastRead)
		assert.False(t, got.Faulted())

		last, ok := r.Last()
		require.True(t, ok)
		require.Equal(t, got, last)
	})

	t.Run("ChecksumMismatchYieldsSentinel", func(t *testing.T) {
		bus := BusFunc(func(context.Context) (Frame, error) {
			return Frame{45, 5, 23, 3, 0}, nil
		})
		r := NewReader(bus, WithClock(clock))

		var got Reading
		require.NotPanics(t, func() {
			var err error
			got, err = r.Read(context.Background())
			require.NoError(t, err)
		})

		assert.Equal(t, StatusChecksum, got.Fault)
		assert.InDelta(t, 0.03, got.Temperature, 0.0001)
		assert.InDelta(t, 0.03, got.Humidity, 0.0001)

		last, ok := r.Last()
		require.True(t, ok)
		assert.True(t, last.Faulted())
		assert.Equal(t, got, last)
	})

	t.Run("BusFailureYieldsSentinel", func(t *testing.T) {
		bus := BusFunc(func(context.Context) (Frame, error) {
			return Frame{}, ErrBus
		})
		r := NewReader(bus, WithScale(Kelvin))

		got, err := r.Read(context.Background())
		require.NoError(t, err)

		// Sentinels are not converted to the configured scale.
		assert.Equal(t, StatusBus, got.Fault)
		assert.InDelta(t, 0.01, got.Temperature, 0.0001)
	})

	t.Run("TestMode", func(t *testing.T) {
		trigger := NewTrigger()
		trigger.Fire()
		trigger.Fire()

		r := NewReader(nil, WithTestMode(true), WithTrigger(trigger), WithClock(clock))

		got, err := r.Read(context.Background())
		require.NoError(t, err)
		require.Equal(t, Reading{
			Temperature:  TestTemperature,
			Symbol:       "C",
			Humidity:     TestHumidity,
			Pressure:     TestPressure,
			TriggerCount: 2,
			LastRead:     1700000000,
		}, got)
	})

	t.Run("NoBus", func(t *testing.T) {
		_, err := NewReader(nil).Read(context.Background())
		require.ErrorIs(t, err, ErrNoReading)

		_, ok := NewReader(nil).Last()
		require.False(t, ok)
	})

	t.Run("PressureFailure", func(t *testing.T) {
		r := NewReader(NewSimulatedBus(21, 45, 1), WithBarometer(failingBarometer{}))

		got, err := r.Read(context.Background())
		require.NoError(t, err)
		require.Zero(t, got.Pressure)
	})

	t.Run("Cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := NewReader(NewSimulatedBus(21, 45, 1)).Read(ctx)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestSimulatedSources(t *testing.T) {
	bus := NewSimulatedBus(21, 45, 42)
	baro := NewSimulatedBarometer(101325, 42)

	for range 100 {
		f, err := bus.ReadFrame(context.Background())
		require.NoError(t, err)
		require.True(t, f.Valid())

		humidity, celsius, err := f.Decode()
		require.NoError(t, err)
		require.GreaterOrEqual(t, celsius, 0.0)
		require.LessOrEqual(t, celsius, 50.0)
		require.GreaterOrEqual(t, humidity, 20.0)

		p, err := baro.ReadPressure(context.Background())
		require.NoError(t, err)
		require.InDelta(t, 101325, p, 6000)
	}
}

func TestTrigger(t *testing.T) {
	trigger := NewTrigger()
	require.False(t, trigger.Take())

	trigger.Fire()
	trigger.Fire()
	trigger.Fire()

	select {
	case <-trigger.C():
	default:
		t.Fatal("expected a signal")
	}

	// Fires are coalesced into a single pending read
	require.True(t, trigger.Take())
	require.False(t, trigger.Take())
	require.Equal(t, uint64(3), trigger.Count())

	var nilTrigger *Trigger
	require.Zero(t, nilTrigger.Count())
}
