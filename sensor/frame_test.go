package sensor

import (
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameDecode(t *testing.T) {
	for i, tt := range []struct {
		frame        Frame
		wantHumidity float64
		wantCelsius  float64
		wantErr      error
	}{
		{frame: Frame{45, 5, 23, 3, 76}, wantHumidity: 45.5, wantCelsius: 23.3},
		{frame: Frame{0, 0, 0, 0, 0}, wantHumidity: 0, wantCelsius: 0},
		// The checksum is the low byte of the sum
		{frame: Frame{99, 9, 200, 9, 61}, wantHumidity: 99.9, wantCelsius: 200.9},
		{frame: Frame{45, 5, 23, 3, 77}, wantErr: ErrChecksum},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			humidity, celsius, err := tt.frame.Decode()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			require.InDelta(t, tt.wantHumidity, humidity, 0.0001)
			require.InDelta(t, tt.wantCelsius, celsius, 0.0001)
		})
	}
}

func TestNewFrame(t *testing.T) {
	f := NewFrame(45.5, 23.3)
	require.True(t, f.Valid())

	humidity, celsius, err := f.Decode()
	require.NoError(t, err)
	require.InDelta(t, 45.5, humidity, 0.0001)
	require.InDelta(t, 23.3, celsius, 0.0001)
}

func TestStatusOf(t *testing.T) {
	for _, tt := range []struct {
		err  error
		want Status
	}{
		{err: nil, want: StatusOK},
		{err: ErrBus, want: StatusBus},
		{err: fmt.Errorf("i2c: %w", ErrTrailingData), want: StatusTrailingData},
		{err: fmt.Errorf("decode: %w", ErrChecksum), want: StatusChecksum},
		{err: fmt.Errorf("something else"), want: StatusBus},
	} {
		t.Run(tt.want.String(), func(t *testing.T) {
			require.Equal(t, tt.want, StatusOf(tt.err))
		})
	}
}

func TestStatusSentinel(t *testing.T) {
	require.InDelta(t, 0.01, StatusBus.Sentinel(), 0.0001)
	require.InDelta(t, 0.02, StatusTrailingData.Sentinel(), 0.0001)
	require.InDelta(t, 0.03, StatusChecksum.Sentinel(), 0.0001)
}
