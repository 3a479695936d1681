package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/sensor"
	"github.com/nlowe/envshadow/shadow"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "envshadow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

const minimal = `
thing:
  name: env-1
  cert_id: abc123
broker:
  endpoint: a1b2c3-ats.iot.eu-west-1.amazonaws.com
`

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, 8883, cfg.Broker.Port)
	assert.Equal(t, 20, cfg.Broker.ConnectRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.Broker.RetryDelay)
	assert.Equal(t, 30, cfg.WiFi.Attempts)
	assert.Equal(t, "anonymous@example.com", cfg.WiFi.AnonymousIdentity)
	assert.Equal(t, shadow.DefaultState(), cfg.Shadow.State())
	assert.Equal(t, sensor.Celsius, cfg.Scale())
	assert.True(t, cfg.Shadow.SyncOnConnect)

	assert.Equal(t, "mqtts://a1b2c3-ats.iot.eu-west-1.amazonaws.com:8883", cfg.Broker.URL().String())
	assert.Equal(t, "a1b2c3-ats.iot.eu-west-1.amazonaws.com:8883", cfg.ProbeAddress())
	assert.Equal(t, 20*(10*time.Second+100*time.Millisecond), cfg.Broker.ConnectWindow())
}

func TestLoadFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimal+`
  port: 1883
  plaintext: true
  retry_delay: 250ms
sensor:
  scale: F
  test_mode: true
shadow:
  send_enabled: false
  send_interval_ms: 5000
journal:
  path: /var/lib/envshadow/journal.db
`))
	require.NoError(t, err)

	assert.Equal(t, "mqtt://a1b2c3-ats.iot.eu-west-1.amazonaws.com:1883", cfg.Broker.URL().String())
	assert.Equal(t, 250*time.Millisecond, cfg.Broker.RetryDelay)
	assert.Equal(t, sensor.Fahrenheit, cfg.Scale())
	assert.True(t, cfg.Sensor.TestMode)
	assert.Equal(t, shadow.State{SendEnabled: false, SendIntervalMS: 5000}, cfg.Shadow.State())
	assert.Equal(t, "/var/lib/envshadow/journal.db", cfg.Journal.Path)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENVSHADOW_THING_NAME", "env-2")
	t.Setenv("ENVSHADOW_SEND_INTERVAL_MS", "60000")
	t.Setenv("ENVSHADOW_BROKER_RETRY_DELAY", "1s")
	t.Setenv("ENVSHADOW_WIFI_SSID", "lab")

	cfg, err := Load(writeConfig(t, minimal))
	require.NoError(t, err)

	assert.Equal(t, "env-2", cfg.Thing.Name)
	assert.Equal(t, uint32(60000), cfg.Shadow.SendIntervalMS)
	assert.Equal(t, time.Second, cfg.Broker.RetryDelay)
	assert.Equal(t, "lab", cfg.WiFi.SSID)

	// Values not in the environment keep the file or default value
	assert.Equal(t, "abc123", cfg.Thing.CertID)
	assert.Equal(t, 8883, cfg.Broker.Port)
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("BadYAML", func(t *testing.T) {
		_, err := Load(writeConfig(t, "thing: [\n"))
		require.Error(t, err)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
broker:
  port: 0
  qos: 2
sensor:
  scale: rankine
shadow:
  send_interval_ms: 10
`))
		require.Error(t, err)

		for _, want := range []string{"thing.name", "broker.endpoint", "broker.port", "broker.qos", "thing.cert_id", "sensor.scale", "send_interval_ms"} {
			assert.ErrorContains(t, err, want)
		}
	})
}

func TestFindConfig(t *testing.T) {
	t.Run("Explicit", func(t *testing.T) {
		path := writeConfig(t, minimal)

		got, err := FindConfig(path)
		require.NoError(t, err)
		require.Equal(t, path, got)
	})

	t.Run("ExplicitMissing", func(t *testing.T) {
		_, err := FindConfig(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})
}

func TestCertificatePaths(t *testing.T) {
	cfg := Default()
	cfg.Thing.CertID = "abc123"

	assert.Equal(t, "/etc/envshadow/ca.pem", cfg.CAPath())
	assert.Equal(t, "/etc/envshadow/abc123-certificate.pem.crt", cfg.CertificatePath())
	assert.Equal(t, "/etc/envshadow/abc123-private.pem.key", cfg.PrivateKeyPath())

	cfg.Certificates.PrivateKey = "/run/secrets/key.pem"
	assert.Equal(t, "/run/secrets/key.pem", cfg.PrivateKeyPath())
}
