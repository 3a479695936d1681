// Package envshadow runs an environmental sensor agent that publishes readings to AWS IoT and takes its send
// configuration from the thing's device shadow.
//
// Everything stateful happens on the single goroutine running Agent.Run. MQTT handlers and triggers only queue work
// for it.
package envshadow

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/metrics"
	"github.com/nlowe/envshadow/mqtt"
	"github.com/nlowe/envshadow/sensor"
	"github.com/nlowe/envshadow/shadow"
	"github.com/nlowe/envshadow/telemetry"
)

const (
	DefaultStatusInterval = time.Minute
	DefaultInboxSize      = 16
)

// Journal records what happened to each reading the agent tried to send.
type Journal interface {
	Record(ctx context.Context, r sensor.Reading, sequence uint32, outcome metrics.Outcome) error
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

type eventKind int

const (
	eventDelta eventKind = iota
	eventGetAccepted
	eventRejected
	eventConnected
	eventHomeAssistantOnline
	eventSetSending
)

func (k eventKind) String() string {
	switch k {
	case eventDelta:
		return "delta"
	case eventGetAccepted:
		return "get_accepted"
	case eventRejected:
		return "rejected"
	case eventConnected:
		return "connected"
	case eventHomeAssistantOnline:
		return "homeassistant_online"
	case eventSetSending:
		return "set_sending"
	default:
		return "unknown"
	}
}

type event struct {
	kind    eventKind
	topic   string
	payload []byte
	on      bool
}

// AgentOption customizes an Agent.
type AgentOption func(a *Agent)

// WithJournal records every send attempt in j and prunes entries older than retention on each status tick. A zero
// retention keeps everything.
func WithJournal(j Journal, retention time.Duration) AgentOption {
	return func(a *Agent) {
		a.journal = j
		a.retention = retention
	}
}

func WithAgentMetrics(m *metrics.Metrics) AgentOption {
	return func(a *Agent) {
		a.metrics = m
	}
}

// WithHomeAssistant mirrors readings and send_enabled to Home Assistant.
func WithHomeAssistant(h *HomeAssistant) AgentOption {
	return func(a *Agent) {
		a.home = h
	}
}

// WithAutoRead refreshes the cached reading every d without publishing it. Zero disables it.
func WithAutoRead(d time.Duration) AgentOption {
	return func(a *Agent) {
		a.autoRead = d
	}
}

// WithStatusInterval sets how often counters are logged.
func WithStatusInterval(d time.Duration) AgentOption {
	return func(a *Agent) {
		if d > 0 {
			a.statusInterval = d
		}
	}
}

// WithReportReadings sends readings as reported shadow state instead of plain telemetry.
func WithReportReadings(report bool) AgentOption {
	return func(a *Agent) {
		a.reportReadings = report
	}
}

// WithSyncOnConnect requests the full shadow document every time the connection comes up.
func WithSyncOnConnect(sync bool) AgentOption {
	return func(a *Agent) {
		a.syncOnConnect = sync
	}
}

// Agent ties the sensor, shadow and telemetry together.
type Agent struct {
	w          mqtt.Writer
	reader     *sensor.Reader
	trigger    *sensor.Trigger
	reconciler *shadow.Reconciler
	publisher  *telemetry.Publisher

	journal        Journal
	retention      time.Duration
	metrics        *metrics.Metrics
	home           *HomeAssistant
	autoRead       time.Duration
	statusInterval time.Duration
	reportReadings bool
	syncOnConnect  bool

	inbox chan event

	log *slog.Logger
}

// NewAgent returns an Agent reading from reader and publishing through w. A nil trigger is replaced with one nothing
// fires.
func NewAgent(w mqtt.Writer, reader *sensor.Reader, trigger *sensor.Trigger, reconciler *shadow.Reconciler, publisher *telemetry.Publisher, opts ...AgentOption) *Agent {
	if trigger == nil {
		trigger = sensor.NewTrigger()
	}

	a := &Agent{
		w:          w,
		reader:     reader,
		trigger:    trigger,
		reconciler: reconciler,
		publisher:  publisher,

		statusInterval: DefaultStatusInterval,
		syncOnConnect:  true,

		inbox: make(chan event, DefaultInboxSize),

		log: log.ForComponent("agent").With(slog.String("thing", reconciler.Topics().Thing)),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// enqueue hands e to the loop without blocking. Events that do not fit are dropped: the shadow service redelivers
// deltas and the next get request catches up on anything missed.
func (a *Agent) enqueue(e event) {
	select {
	case a.inbox <- e:
	default:
		a.log.With(slog.String("event", e.kind.String()), slog.String("topic", e.topic)).Warn("Agent busy, dropping event")
	}
}

// Subscribe routes the shadow response topics, and Home Assistant's topics when enabled, to the agent loop.
func (a *Agent) Subscribe(ctx context.Context, s mqtt.Subscriber) error {
	topics := a.reconciler.Topics()

	queue := func(kind eventKind) mqtt.HandlerFunc {
		return func(_ mqtt.Writer, topic string, payload []byte) {
			a.enqueue(event{kind: kind, topic: topic, payload: slices.Clone(payload)})
		}
	}

	mux := mqtt.NewServeMux()
	mux.Handle(topics.UpdateDelta, queue(eventDelta))
	mux.Handle(topics.GetAccepted, queue(eventGetAccepted))
	mux.Handle(topics.UpdateRejected, queue(eventRejected))
	mux.Handle(topics.GetRejected, queue(eventRejected))

	subscriptions := []mqtt.Subscription{
		{Topic: topics.UpdateDelta, Options: mqtt.ReadOptions{QoS: mqtt.QOSAtLeastOnce}},
		{Topic: topics.GetAccepted},
		{Topic: topics.UpdateRejected},
		{Topic: topics.GetRejected},
	}

	if err := s.Subscribe(ctx, mux, subscriptions...); err != nil {
		return err
	}

	if a.home == nil {
		return nil
	}

	return a.home.Subscribe(ctx, s,
		func() { a.enqueue(event{kind: eventHomeAssistantOnline}) },
		func(on bool) { a.enqueue(event{kind: eventSetSending, on: on}) },
	)
}

// OnConnect tells the loop the MQTT session is (re)established. It is safe to call from any goroutine.
func (a *Agent) OnConnect() {
	a.enqueue(event{kind: eventConnected})
}

// Run drives the agent until ctx is done. It always returns ctx.Err().
func (a *Agent) Run(ctx context.Context) error {
	state := a.reconciler.State()
	a.log.With(slog.Any("state", state)).Info("Agent starting")
	a.metrics.Control(state.SendEnabled, state.SendInterval())

	send := time.NewTicker(sendPeriod(state))
	defer send.Stop()

	status := time.NewTicker(a.statusInterval)
	defer status.Stop()

	var autoRead <-chan time.Time
	if a.autoRead > 0 {
		t := time.NewTicker(a.autoRead)
		defer t.Stop()
		autoRead = t.C
	}

	for {
		select {
		case <-ctx.Done():
			a.log.With(slog.Any("stats", a.publisher.Stats())).Info("Agent stopping")
			return ctx.Err()
		case <-a.trigger.C():
			if a.trigger.Take() {
				a.metrics.Trigger()
				a.log.With(slog.Uint64("count", a.trigger.Count())).Debug("Manual trigger")
				a.readAndSend(ctx)
			}
		case <-send.C:
			a.readAndSend(ctx)
		case <-autoRead:
			a.read(ctx)
		case e := <-a.inbox:
			before := a.reconciler.State()
			a.handle(ctx, e)
			a.afterStateChange(ctx, before, send)
		case <-status.C:
			a.logStatus(ctx)
		}
	}
}

func sendPeriod(s shadow.State) time.Duration {
	if d := s.SendInterval(); d > 0 {
		return d
	}

	return time.Duration(shadow.DefaultSendIntervalMS) * time.Millisecond
}

func (a *Agent) handle(ctx context.Context, e event) {
	switch e.kind {
	case eventDelta:
		a.reconciler.Apply(ctx, e.payload)
	case eventGetAccepted:
		a.reconciler.ApplyGetAccepted(ctx, e.payload)
	case eventRejected:
		a.reconciler.HandleRejected(e.topic, e.payload)
	case eventConnected:
		a.connected(ctx)
	case eventHomeAssistantOnline:
		a.announce(ctx)
	case eventSetSending:
		if a.reconciler.SetSendEnabled(e.on) {
			if err := a.reconciler.ReportState(ctx); err != nil {
				a.log.With(log.Error(err)).Warn("Failed to report local send_enabled change")
			}
		}
	}
}

func (a *Agent) connected(ctx context.Context) {
	a.log.Info("Connected, reporting state")

	var errs []error
	if a.syncOnConnect {
		errs = append(errs, a.reconciler.Sync(ctx))
	}
	errs = append(errs, a.reconciler.ReportState(ctx))

	if err := errors.Join(errs...); err != nil {
		a.log.With(log.Error(err)).Warn("Failed to synchronize shadow")
	}

	a.announce(ctx)
}

func (a *Agent) announce(ctx context.Context) {
	if a.home == nil {
		return
	}

	var last *sensor.Reading
	if r, ok := a.reader.Last(); ok {
		last = &r
	}

	if err := a.home.Announce(ctx, a.w, a.reconciler.State(), last); err != nil {
		a.log.With(log.Error(err)).Warn("Failed to announce to Home Assistant")
	}
}

func (a *Agent) afterStateChange(ctx context.Context, before shadow.State, send *time.Ticker) {
	after := a.reconciler.State()
	if after == before {
		return
	}

	if after.SendIntervalMS != before.SendIntervalMS {
		send.Reset(sendPeriod(after))
		a.log.With(slog.Duration("interval", after.SendInterval())).Info("Send interval changed")
	}

	if after.SendEnabled != before.SendEnabled && a.home != nil {
		if err := a.home.PublishState(ctx, a.w, after); err != nil {
			a.log.With(log.Error(err)).Warn("Failed to mirror send state to Home Assistant")
		}
	}
}

func (a *Agent) read(ctx context.Context) (sensor.Reading, bool) {
	r, err := a.reader.Read(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.log.With(log.Error(err)).Warn("No reading available")
		}
		return sensor.Reading{}, false
	}

	if !r.Faulted() {
		a.metrics.Reading(r.Temperature, r.Humidity, r.Pressure)
	}

	if a.home != nil {
		if err = a.home.PublishReading(ctx, a.w, r); err != nil {
			a.log.With(log.Error(err)).Debug("Failed to mirror reading to Home Assistant")
		}
	}

	return r, true
}

func (a *Agent) readAndSend(ctx context.Context) {
	r, ok := a.read(ctx)
	if !ok {
		return
	}

	publish := a.publisher.Publish
	if a.reportReadings {
		publish = a.publisher.Report
	}

	sent, err := publish(ctx, r)

	outcome, sequence := metrics.OutcomeSuppressed, uint32(0)
	switch {
	case err != nil:
		outcome = metrics.OutcomeFailed
	case sent:
		outcome, sequence = metrics.OutcomeSent, a.publisher.Stats().Sequence
	}

	a.record(ctx, r, sequence, outcome)
}

func (a *Agent) record(ctx context.Context, r sensor.Reading, sequence uint32, outcome metrics.Outcome) {
	if a.journal == nil {
		return
	}

	if err := a.journal.Record(ctx, r, sequence, outcome); err != nil {
		a.log.With(log.Error(err)).Warn("Failed to journal reading")
	}
}

func (a *Agent) logStatus(ctx context.Context) {
	a.log.With(
		slog.Any("state", a.reconciler.State()),
		slog.Any("stats", a.publisher.Stats()),
		slog.Uint64("triggered", a.trigger.Count()),
	).Info("Status")

	if a.journal == nil || a.retention <= 0 {
		return
	}

	removed, err := a.journal.Prune(ctx, time.Now().Add(-a.retention))
	if err != nil {
		a.log.With(log.Error(err)).Warn("Failed to prune journal")
		return
	}

	if removed > 0 {
		a.log.With(slog.Int64("removed", removed)).Debug("Pruned journal")
	}
}
