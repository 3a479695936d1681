package hass

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPowerStateOf(t *testing.T) {
	require.Equal(t, PowerStateOn, PowerStateOf(true))
	require.Equal(t, PowerStateOff, PowerStateOf(false))
}

func TestCustomPowerStateBool(t *testing.T) {
	for i, tt := range []struct {
		custom  CustomPowerState
		in      PowerState
		want    bool
		wantErr bool
	}{
		{in: PowerStateOn, want: true},
		{in: PowerStateOff, want: false},
		{in: "maybe", wantErr: true},
		{custom: CustomPowerState{On: "1", Off: "0"}, in: "1", want: true},
		{custom: CustomPowerState{On: "1", Off: "0"}, in: "0", want: false},
		{custom: CustomPowerState{On: "1", Off: "0"}, in: PowerStateOn, wantErr: true},
	} {
		t.Run(strconv.Itoa(i), func(t *testing.T) {
			got, err := tt.custom.Bool(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestMarshalers(t *testing.T) {
	b, err := AvailabilityMarshaler(Available)
	require.NoError(t, err)
	require.Equal(t, "online", string(b))

	a, err := AvailabilityUnmarshaler([]byte("offline"))
	require.NoError(t, err)
	require.Equal(t, Unavailable, a)

	p, err := PowerStateUnmarshaler([]byte("ON"))
	require.NoError(t, err)
	require.Equal(t, PowerStateOn, p)
}
