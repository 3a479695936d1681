// Shadowsim is a local stand-in for the AWS IoT device shadow service.
//
// By default it runs an embedded MQTT 3.1.1 broker and answers shadow requests arriving on it. With -broker it instead
// connects to an existing MQTT v5 broker, which is how envshadow itself talks to it. Desired state is set through the
// HTTP API:
//
//	curl -X PUT localhost:8080/things/env-1/shadow/desired -d '{"send_interval":5000}'
//
// Usage:
//
//	shadowsim [-listen addr] [-broker url] [-http addr] [-kafka brokers] [-kafka-topic topic] [-log-level level]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/mqtt"
	adapter "github.com/nlowe/envshadow/mqtt/adapter/autopaho"
	"github.com/nlowe/envshadow/shadowsim"
)

const shutdownTimeout = 10 * time.Second

type options struct {
	listen     string
	broker     string
	httpAddr   string
	kafka      []string
	kafkaTopic string
	logLevel   string
	logFormat  string
}

func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func parseArgs(args []string) (options, error) {
	o := options{
		listen:     ":1883",
		httpAddr:   ":8080",
		kafkaTopic: "envshadow-telemetry",
		logLevel:   "info",
		logFormat:  "text",
	}

	for i := 0; i < len(args); i++ {
		flag, value, hasValue := strings.Cut(args[i], "=")
		if !hasValue {
			if i+1 >= len(args) {
				return o, fmt.Errorf("flag needs a value: %s", flag)
			}
			value = args[i+1]
			i++
		}

		switch flag {
		case "-listen":
			o.listen = value
		case "-broker":
			o.broker = value
		case "-http":
			o.httpAddr = value
		case "-kafka":
			o.kafka = strings.Split(value, ",")
		case "-kafka-topic":
			o.kafkaTopic = value
		case "-log-level":
			o.logLevel = value
		case "-log-format":
			o.logFormat = value
		default:
			return o, fmt.Errorf("unknown flag: %s", flag)
		}
	}

	return o, nil
}

// forwardingWriter lets the Service be constructed before the connection it publishes on exists.
type forwardingWriter struct {
	mqtt.Writer
}

func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	for _, a := range args {
		if a == "-h" || a == "-help" || a == "--help" {
			fmt.Fprintln(stdout, "Usage: shadowsim [-listen addr] [-broker url] [-http addr] [-kafka brokers] [-kafka-topic topic] [-log-level level] [-log-format text|json]")
			return nil
		}
	}

	o, err := parseArgs(args)
	if err != nil {
		return err
	}

	if err = log.Setup(stdout, o.logLevel, log.Format(o.logFormat)); err != nil {
		return err
	}
	l := log.ForComponent("main")

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var serviceOpts []shadowsim.Option
	if len(o.kafka) > 0 {
		k := shadowsim.NewKafkaForwarder(o.kafka, o.kafkaTopic)
		defer k.Close()

		l.With(slog.Any("brokers", o.kafka), slog.String("topic", o.kafkaTopic)).Info("Forwarding telemetry to kafka")
		serviceOpts = append(serviceOpts, shadowsim.WithForwarder(k))
	}

	w := &forwardingWriter{}
	svc := shadowsim.NewService(w, serviceOpts...)

	closeTransport, err := attach(ctx, o, w, svc)
	if err != nil {
		return err
	}
	defer closeTransport()

	srv := &http.Server{
		Addr:              o.httpAddr,
		Handler:           handlers.LoggingHandler(stdout, shadowsim.NewRouter(svc)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		l.With(slog.String("listen", o.httpAddr)).Info("Serving shadow API")
		errs <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err = <-errs:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	l.Info("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

// attach connects svc to MQTT, either through the embedded broker or an external one, and points w at the result.
func attach(ctx context.Context, o options, w *forwardingWriter, svc *shadowsim.Service) (func(), error) {
	if o.broker == "" {
		ln, err := net.Listen("tcp", o.listen)
		if err != nil {
			return nil, fmt.Errorf("listen: %w", err)
		}

		b := shadowsim.NewBroker(ln)
		w.Writer = b
		b.Handle(svc, svc.Subscriptions()...)
		b.Run()

		return func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			_ = b.Stop(ctx)
		}, nil
	}

	u, err := url.Parse(o.broker)
	if err != nil {
		return nil, fmt.Errorf("broker url: %w", err)
	}

	config, err := adapter.Settings{
		Broker:     u,
		ClientID:   "shadowsim",
		KeepAlive:  20,
		RetryDelay: time.Second,
	}.ClientConfig()
	if err != nil {
		return nil, err
	}

	connCtx, cancelConn := context.WithCancel(context.WithoutCancel(ctx))
	mw, s, disconnect, err := adapter.DialMQTT(connCtx, config, adapter.WithConnectWindow(30*time.Second))
	if err != nil {
		cancelConn()
		return nil, err
	}

	w.Writer = mw
	if err = s.Subscribe(ctx, svc, svc.Subscriptions()...); err != nil {
		cancelConn()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = disconnect(ctx)
		cancelConn()
	}, nil
}
