// Package config loads the envshadow configuration from YAML, overlays ENVSHADOW_* environment variables and
// validates the result.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/nlowe/envshadow/sensor"
	"github.com/nlowe/envshadow/shadow"
)

// DefaultSearchPaths returns the config file search order: ./envshadow.yaml, ~/.config/envshadow/envshadow.yaml,
// /etc/envshadow/envshadow.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"envshadow.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "envshadow", "envshadow.yaml"))
	}

	return append(paths, "/etc/envshadow/envshadow.yaml")
}

// FindConfig locates a config file. If explicit is non-empty, it must exist. Otherwise the first existing entry of
// DefaultSearchPaths is returned.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all envshadow configuration.
type Config struct {
	Thing         ThingConfig         `yaml:"thing"`
	Broker        BrokerConfig        `yaml:"broker"`
	Certificates  CertificateConfig   `yaml:"certificates"`
	WiFi          WiFiConfig          `yaml:"wifi"`
	Sensor        SensorConfig        `yaml:"sensor"`
	Shadow        ShadowConfig        `yaml:"shadow"`
	Journal       JournalConfig       `yaml:"journal"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`

	LogLevel       string        `yaml:"log_level" env:"ENVSHADOW_LOG_LEVEL"`
	LogFormat      string        `yaml:"log_format" env:"ENVSHADOW_LOG_FORMAT"`
	StatusInterval time.Duration `yaml:"status_interval" env:"ENVSHADOW_STATUS_INTERVAL"`
}

// ThingConfig identifies the device to AWS IoT.
type ThingConfig struct {
	Name   string `yaml:"name" env:"ENVSHADOW_THING_NAME"`
	CertID string `yaml:"cert_id" env:"ENVSHADOW_CERT_ID"`
}

// BrokerConfig describes the MQTT endpoint.
type BrokerConfig struct {
	Endpoint string `yaml:"endpoint" env:"ENVSHADOW_BROKER_ENDPOINT"`
	Port     int    `yaml:"port" env:"ENVSHADOW_BROKER_PORT"`
	// Plaintext connects without TLS. Only useful against a local broker such as shadowsim.
	Plaintext bool   `yaml:"plaintext" env:"ENVSHADOW_BROKER_PLAINTEXT"`
	Username  string `yaml:"username" env:"ENVSHADOW_BROKER_USERNAME"`
	Password  string `yaml:"password" env:"ENVSHADOW_BROKER_PASSWORD"`

	KeepAlive      uint16        `yaml:"keep_alive" env:"ENVSHADOW_BROKER_KEEP_ALIVE"`
	SessionExpiry  uint32        `yaml:"session_expiry" env:"ENVSHADOW_BROKER_SESSION_EXPIRY"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" env:"ENVSHADOW_BROKER_CONNECT_TIMEOUT"`
	ConnectRetries int           `yaml:"connect_retries" env:"ENVSHADOW_BROKER_CONNECT_RETRIES"`
	RetryDelay     time.Duration `yaml:"retry_delay" env:"ENVSHADOW_BROKER_RETRY_DELAY"`
	QoS            uint8         `yaml:"qos" env:"ENVSHADOW_BROKER_QOS"`
}

// Address returns host:port.
func (b BrokerConfig) Address() string {
	return net.JoinHostPort(b.Endpoint, strconv.Itoa(b.Port))
}

// URL returns the broker url, mqtts:// unless Plaintext is set.
func (b BrokerConfig) URL() *url.URL {
	scheme := "mqtts"
	if b.Plaintext {
		scheme = "mqtt"
	}

	return &url.URL{Scheme: scheme, Host: b.Address()}
}

// ConnectWindow bounds the initial connection: every retry gets the connect timeout plus the retry delay.
func (b BrokerConfig) ConnectWindow() time.Duration {
	return time.Duration(b.ConnectRetries) * (b.ConnectTimeout + b.RetryDelay)
}

// CertificateConfig locates the TLS material. Empty paths fall back to fixed names inside Dir derived from the
// thing's certificate id.
type CertificateConfig struct {
	Dir         string `yaml:"dir" env:"ENVSHADOW_CERT_DIR"`
	CA          string `yaml:"ca" env:"ENVSHADOW_CERT_CA"`
	Certificate string `yaml:"certificate" env:"ENVSHADOW_CERT_FILE"`
	PrivateKey  string `yaml:"private_key" env:"ENVSHADOW_CERT_KEY"`
}

// WiFiConfig holds link credentials. Identity selects enterprise mode.
type WiFiConfig struct {
	SSID              string        `yaml:"ssid" env:"ENVSHADOW_WIFI_SSID"`
	Password          string        `yaml:"password" env:"ENVSHADOW_WIFI_PASSWORD"`
	Identity          string        `yaml:"identity" env:"ENVSHADOW_WIFI_IDENTITY"`
	AnonymousIdentity string        `yaml:"anonymous_identity" env:"ENVSHADOW_WIFI_ANONYMOUS_IDENTITY"`
	Attempts          int           `yaml:"attempts" env:"ENVSHADOW_WIFI_ATTEMPTS"`
	Delay             time.Duration `yaml:"delay" env:"ENVSHADOW_WIFI_DELAY"`
	// ProbeAddress is dialed to verify the link. Defaults to the broker address.
	ProbeAddress string `yaml:"probe_address" env:"ENVSHADOW_WIFI_PROBE_ADDRESS"`
}

// SensorConfig selects the measurement source.
type SensorConfig struct {
	Scale     string        `yaml:"scale" env:"ENVSHADOW_SENSOR_SCALE"`
	TestMode  bool          `yaml:"test_mode" env:"ENVSHADOW_SENSOR_TEST_MODE"`
	AutoRead  time.Duration `yaml:"auto_read" env:"ENVSHADOW_SENSOR_AUTO_READ"`
	Seed      uint64        `yaml:"seed" env:"ENVSHADOW_SENSOR_SEED"`
	Celsius   float64       `yaml:"base_celsius" env:"ENVSHADOW_SENSOR_BASE_CELSIUS"`
	Humidity  float64       `yaml:"base_humidity" env:"ENVSHADOW_SENSOR_BASE_HUMIDITY"`
	Pressure  float64       `yaml:"base_pressure" env:"ENVSHADOW_SENSOR_BASE_PRESSURE"`
	Barometer bool          `yaml:"barometer" env:"ENVSHADOW_SENSOR_BAROMETER"`
}

// ShadowConfig is the initial send configuration and how deltas are acknowledged.
type ShadowConfig struct {
	SendEnabled       bool   `yaml:"send_enabled" env:"ENVSHADOW_SEND_ENABLED"`
	SendIntervalMS    uint32 `yaml:"send_interval_ms" env:"ENVSHADOW_SEND_INTERVAL_MS"`
	MinSendIntervalMS uint32 `yaml:"min_send_interval_ms" env:"ENVSHADOW_MIN_SEND_INTERVAL_MS"`
	ClearDesired      bool   `yaml:"clear_desired" env:"ENVSHADOW_CLEAR_DESIRED"`
	// ReportReadings publishes readings into the shadow's reported state instead of the telemetry topic.
	ReportReadings bool `yaml:"report_readings" env:"ENVSHADOW_REPORT_READINGS"`
	SyncOnConnect  bool `yaml:"sync_on_connect" env:"ENVSHADOW_SYNC_ON_CONNECT"`
}

// State returns the initial shadow.State.
func (s ShadowConfig) State() shadow.State {
	return shadow.State{SendEnabled: s.SendEnabled, SendIntervalMS: s.SendIntervalMS}
}

// JournalConfig enables the local reading history. An empty Path disables it.
type JournalConfig struct {
	Path      string        `yaml:"path" env:"ENVSHADOW_JOURNAL_PATH"`
	Retention time.Duration `yaml:"retention" env:"ENVSHADOW_JOURNAL_RETENTION"`
}

// MetricsConfig enables the Prometheus endpoint. An empty Listen disables it.
type MetricsConfig struct {
	Listen string `yaml:"listen" env:"ENVSHADOW_METRICS_LISTEN"`
}

// HomeAssistantConfig enables MQTT discovery.
type HomeAssistantConfig struct {
	Enabled         bool   `yaml:"enabled" env:"ENVSHADOW_HASS_ENABLED"`
	DiscoveryPrefix string `yaml:"discovery_prefix" env:"ENVSHADOW_HASS_DISCOVERY_PREFIX"`
	StatePrefix     string `yaml:"state_prefix" env:"ENVSHADOW_HASS_STATE_PREFIX"`
}

// Default returns the configuration every file is decoded over.
func Default() *Config {
	return &Config{
		Broker: BrokerConfig{
			Port:           8883,
			KeepAlive:      20,
			ConnectTimeout: 10 * time.Second,
			ConnectRetries: 20,
			RetryDelay:     100 * time.Millisecond,
		},
		Certificates: CertificateConfig{
			Dir: "/etc/envshadow",
		},
		WiFi: WiFiConfig{
			AnonymousIdentity: "anonymous@example.com",
			Attempts:          30,
			Delay:             time.Second,
		},
		Sensor: SensorConfig{
			Scale:     "celsius",
			Seed:      1,
			Celsius:   21,
			Humidity:  45,
			Pressure:  101325,
			Barometer: true,
		},
		Shadow: ShadowConfig{
			SendEnabled:       shadow.DefaultSendEnabled,
			SendIntervalMS:    shadow.DefaultSendIntervalMS,
			MinSendIntervalMS: shadow.DefaultMinSendIntervalMS,
			SyncOnConnect:     true,
		},
		HomeAssistant: HomeAssistantConfig{
			DiscoveryPrefix: "homeassistant",
			StatePrefix:     "envshadow",
		},
		LogLevel:       "info",
		LogFormat:      "text",
		StatusInterval: time.Minute,
	}
}

// Load reads the YAML file at path over Default, applies the environment and validates the result. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var problems []error

	if c.Thing.Name == "" {
		problems = append(problems, errors.New("thing.name is required"))
	}

	if c.Broker.Endpoint == "" {
		problems = append(problems, errors.New("broker.endpoint is required"))
	}

	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		problems = append(problems, fmt.Errorf("broker.port %d is out of range", c.Broker.Port))
	}

	if c.Broker.ConnectRetries <= 0 {
		problems = append(problems, errors.New("broker.connect_retries must be positive"))
	}

	if c.Broker.QoS > 1 {
		problems = append(problems, fmt.Errorf("broker.qos %d is not supported by AWS IoT", c.Broker.QoS))
	}

	if !c.Broker.Plaintext && c.Thing.CertID == "" && (c.Certificates.Certificate == "" || c.Certificates.PrivateKey == "") {
		problems = append(problems, errors.New("thing.cert_id is required unless certificates.certificate and certificates.private_key are set"))
	}

	if c.WiFi.Attempts <= 0 {
		problems = append(problems, errors.New("wifi.attempts must be positive"))
	}

	if _, err := sensor.ParseScale(c.Sensor.Scale); err != nil {
		problems = append(problems, fmt.Errorf("sensor.scale: %w", err))
	}

	if c.Shadow.SendIntervalMS < c.Shadow.MinSendIntervalMS {
		problems = append(problems, fmt.Errorf("shadow.send_interval_ms %d is below shadow.min_send_interval_ms %d", c.Shadow.SendIntervalMS, c.Shadow.MinSendIntervalMS))
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(problems...))
	}

	return nil
}

// ProbeAddress returns the address the link manager dials.
func (c *Config) ProbeAddress() string {
	if c.WiFi.ProbeAddress != "" {
		return c.WiFi.ProbeAddress
	}

	return c.Broker.Address()
}

// Scale returns the parsed temperature scale. Validate has already rejected unknown values.
func (c *Config) Scale() sensor.Scale {
	s, err := sensor.ParseScale(c.Sensor.Scale)
	if err != nil {
		return sensor.Celsius
	}

	return s
}
