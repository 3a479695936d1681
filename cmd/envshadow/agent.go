package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nlowe/envshadow"
	"github.com/nlowe/envshadow/config"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/journal"
	"github.com/nlowe/envshadow/link"
	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/metrics"
	"github.com/nlowe/envshadow/mqtt"
	adapter "github.com/nlowe/envshadow/mqtt/adapter/autopaho"
	"github.com/nlowe/envshadow/sensor"
	"github.com/nlowe/envshadow/shadow"
	"github.com/nlowe/envshadow/telemetry"
)

const shutdownTimeout = 10 * time.Second

func runAgent(ctx context.Context, stdout io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	if err = log.Setup(stdout, cfg.LogLevel, log.Format(cfg.LogFormat)); err != nil {
		return err
	}

	l := log.ForComponent("main").With(slog.String("thing", cfg.Thing.Name))
	l.With(slog.String("version", envshadow.Version)).Info("Starting up")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	trigger := sensor.NewTrigger()
	defer notifyTrigger(trigger)()

	wifi := link.New(
		link.Credentials{
			SSID:              cfg.WiFi.SSID,
			Password:          cfg.WiFi.Password,
			Identity:          cfg.WiFi.Identity,
			AnonymousIdentity: cfg.WiFi.AnonymousIdentity,
		},
		link.DialProbe(cfg.ProbeAddress(), link.DefaultProbeTimeout),
		link.WithAttempts(cfg.WiFi.Attempts),
		link.WithDelay(cfg.WiFi.Delay),
	)
	if err = wifi.Connect(ctx); err != nil {
		return fmt.Errorf("link: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	if cfg.Metrics.Listen != "" {
		defer serveMetrics(cfg.Metrics.Listen, reg)()
	}

	tlsConfig, err := cfg.TLSConfig()
	if err != nil {
		return err
	}

	var home *envshadow.HomeAssistant
	if cfg.HomeAssistant.Enabled {
		home = envshadow.NewHomeAssistant(cfg.Thing.Name, envshadow.HomeAssistantOptions{
			DiscoveryPrefix: cfg.HomeAssistant.DiscoveryPrefix,
			StatePrefix:     cfg.HomeAssistant.StatePrefix,
			Scale:           cfg.Scale(),
		})
	}

	// The first connection comes up inside DialMQTT, before the agent exists. It is told about that one explicitly
	// once it has subscribed.
	var agentRef atomic.Pointer[envshadow.Agent]
	settings := adapter.Settings{
		Broker:         cfg.Broker.URL(),
		ClientID:       cfg.Thing.Name,
		TLS:            tlsConfig,
		Username:       cfg.Broker.Username,
		Password:       cfg.Broker.Password,
		KeepAlive:      cfg.Broker.KeepAlive,
		SessionExpiry:  cfg.Broker.SessionExpiry,
		ConnectTimeout: cfg.Broker.ConnectTimeout,
		RetryDelay:     cfg.Broker.RetryDelay,
		OnConnectionUp: func() {
			if a := agentRef.Load(); a != nil {
				a.OnConnect()
			}
		},
	}
	if home != nil {
		settings.Will = &adapter.Will{
			Topic:   home.AvailabilityTopic(),
			Payload: []byte(hass.Unavailable),
			Options: mqtt.WriteOptions{Retain: true},
		}
	}

	clientConfig, err := settings.ClientConfig()
	if err != nil {
		return err
	}

	// The connection outlives ctx so Home Assistant can be told we are leaving.
	connCtx, cancelConn := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConn()

	w, s, disconnect, err := adapter.DialMQTT(connCtx, clientConfig, adapter.WithConnectWindow(cfg.Broker.ConnectWindow()))
	if err != nil {
		return err
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if home != nil {
			if err := home.Withdraw(shutdownCtx, w); err != nil {
				l.With(log.Error(err)).Warn("Failed to mark Home Assistant entities unavailable")
			}
		}

		l.Info("Disconnecting from mqtt")
		if err := disconnect(shutdownCtx); err != nil {
			l.With(log.Error(err)).Error("Failed to disconnect from mqtt")
		}
	}()

	agent, closeJournal, err := buildAgent(cfg, w, trigger, m, home)
	if err != nil {
		return err
	}
	defer closeJournal()

	if err = agent.Subscribe(ctx, s); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	agentRef.Store(agent)
	agent.OnConnect()

	if err = agent.Run(ctx); !errors.Is(err, context.Canceled) {
		return err
	}

	l.Info("Goodbye!")
	return nil
}

func buildAgent(cfg *config.Config, w mqtt.Writer, trigger *sensor.Trigger, m *metrics.Metrics, home *envshadow.HomeAssistant) (*envshadow.Agent, func(), error) {
	readerOpts := []sensor.ReaderOption{
		sensor.WithScale(cfg.Scale()),
		sensor.WithTrigger(trigger),
		sensor.WithTestMode(cfg.Sensor.TestMode),
	}
	if cfg.Sensor.Barometer {
		readerOpts = append(readerOpts, sensor.WithBarometer(sensor.NewSimulatedBarometer(cfg.Sensor.Pressure, cfg.Sensor.Seed)))
	}

	var bus sensor.Bus
	if !cfg.Sensor.TestMode {
		bus = sensor.NewSimulatedBus(cfg.Sensor.Celsius, cfg.Sensor.Humidity, cfg.Sensor.Seed)
	}
	reader := sensor.NewReader(bus, readerOpts...)

	writeOptions := mqtt.WriteOptions{QoS: mqtt.QualityOfService(cfg.Broker.QoS)}
	topics := shadow.ThingTopics(cfg.Thing.Name)

	reconciler := shadow.NewReconciler(cfg.Shadow.State(), w, topics,
		shadow.WithWriteOptions(writeOptions),
		shadow.WithClearDesired(cfg.Shadow.ClearDesired),
		shadow.WithMinSendInterval(cfg.Shadow.MinSendIntervalMS),
		shadow.WithMetrics(m),
	)

	publisher := telemetry.NewPublisher(w, topics, reconciler,
		telemetry.WithWriteOptions(writeOptions),
		telemetry.WithMetrics(m),
	)

	opts := []envshadow.AgentOption{
		envshadow.WithAgentMetrics(m),
		envshadow.WithAutoRead(cfg.Sensor.AutoRead),
		envshadow.WithStatusInterval(cfg.StatusInterval),
		envshadow.WithReportReadings(cfg.Shadow.ReportReadings),
		envshadow.WithSyncOnConnect(cfg.Shadow.SyncOnConnect),
	}
	if home != nil {
		opts = append(opts, envshadow.WithHomeAssistant(home))
	}

	closeJournal := func() {}
	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("journal: %w", err)
		}

		log.ForComponent("journal").With(
			slog.String("path", cfg.Journal.Path),
			slog.String("instance", store.InstanceID()),
		).Info("Journal opened")

		closeJournal = func() { _ = store.Close() }
		opts = append(opts, envshadow.WithJournal(store, cfg.Journal.Retention))
	}

	return envshadow.NewAgent(w, reader, trigger, reconciler, publisher, opts...), closeJournal, nil
}

// serveMetrics serves reg on addr until the returned func is called.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	l := log.ForComponent("metrics").With(slog.String("listen", addr))

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		l.Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.With(log.Error(err)).Error("Metrics server failed")
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(ctx)
	}
}
