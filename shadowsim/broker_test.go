package shadowsim

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/mqtt"
)

func TestBroker(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	b := NewBroker(ln)
	require.Equal(t, "shadowsim", b.Name())

	t.Run("Not Running", func(t *testing.T) {
		require.ErrorIs(t, b.WriteTopic(t.Context(), "a/b", mqtt.WriteOptions{}, nil), ErrBrokerNotRunning)
		require.NoError(t, b.Stop(t.Context()))
	})

	t.Run("Routing", func(t *testing.T) {
		require.Nil(t, b.route("$aws/things/env-1/shadow/update"))

		s := NewService(b)
		b.Handle(s, s.Subscriptions()...)

		require.Equal(t, s, b.route("$aws/things/env-1/shadow/update"))
		require.Equal(t, s, b.route("$aws/things/env-1/shadow/get"))
		require.Nil(t, b.route("$aws/things/env-1/shadow/update/accepted"))
		require.Nil(t, b.route("dev-tel/env-1"))
	})
}
