package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/hass"
)

func TestHomeAssistantAvailability(t *testing.T) {
	t.Run("Default Prefix", func(t *testing.T) {
		require.Equal(t, "homeassistant/status", HomeAssistantAvailability(DefaultPrefix).FullyQualifiedTopic(""))
	})

	t.Run("Custom Prefix", func(t *testing.T) {
		require.Equal(t, "ha/status", HomeAssistantAvailability("/ha/").FullyQualifiedTopic(""))
	})

	t.Run("Tracks Status", func(t *testing.T) {
		sut := HomeAssistantAvailability(DefaultPrefix)

		_, ok := sut.Get()
		assert.False(t, ok)

		sut.ServeMQTT(nil, "homeassistant/status", []byte(hass.Available))
		v, ok := sut.Get()
		assert.True(t, ok)
		assert.Equal(t, hass.Available, v)

		sut.ServeMQTT(nil, "homeassistant/status", []byte(hass.Unavailable))
		v, _ = sut.Get()
		assert.Equal(t, hass.Unavailable, v)
	})
}

func TestConfigTopic(t *testing.T) {
	require.Equal(t, "homeassistant/device/env-1/config", ConfigTopic(DefaultPrefix, "env-1"))
}
