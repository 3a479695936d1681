package envshadow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/log"
	"github.com/nlowe/envshadow/mqtt"
	"github.com/nlowe/envshadow/platform"
	"github.com/nlowe/envshadow/sensor"
	"github.com/nlowe/envshadow/shadow"
)

// ReadingAttributes are published next to the temperature state.
type ReadingAttributes struct {
	Symbol       string `json:"temp_symbol"`
	TriggerCount uint64 `json:"triggered"`
	LastRead     int64  `json:"last_read"`
	Fault        string `json:"fault,omitempty"`
}

// HomeAssistantOptions configures the Home Assistant mirror of a thing.
type HomeAssistantOptions struct {
	// Discovery prefix Home Assistant listens on. Defaults to discovery.DefaultPrefix.
	DiscoveryPrefix string
	// Root of every entity topic. The thing name is appended.
	StatePrefix string
	// Temperature scale used by the reader.
	Scale sensor.Scale
	// Entities expire when no reading arrives for this long. Zero never expires.
	ExpireAfter time.Duration
}

// HomeAssistant exposes a thing as a Home Assistant device with temperature, humidity and pressure sensors, a sensor
// fault binary sensor and a switch for send_enabled.
type HomeAssistant struct {
	device *Device
	prefix string

	status *mqtt.RemoteValue[hass.Availability]

	temperature Component[*platform.Sensor[float64, ReadingAttributes]]
	humidity    Component[*platform.Sensor[float64, any]]
	pressure    Component[*platform.Sensor[float64, any]]
	fault       Component[*platform.BinarySensor[any]]
	sending     Component[*platform.Switch]

	log *slog.Logger
}

func NewHomeAssistant(thing string, opts HomeAssistantOptions) *HomeAssistant {
	if opts.DiscoveryPrefix == "" {
		opts.DiscoveryPrefix = discovery.DefaultPrefix
	}

	id := discovery.IDSanitizer.Replace(thing)
	retained := mqtt.WriteOptions{Retain: true}

	// Every entity lives under one root and shares its availability topic, so marking the device offline takes a
	// single publish.
	root := mqtt.JoinTopic(opts.StatePrefix, id)
	availability := mqtt.NewValueWithOptions("availability", hass.AvailabilityMarshaler, retained)

	measurement := func(name string, class hass.DeviceClass, unit string) *platform.Sensor[float64, any] {
		return &platform.Sensor[float64, any]{
			State:                     mqtt.NewValue(name, mqtt.FloatMarshaler),
			DeviceClass:               class,
			StateClass:                hass.StateClassMeasurement,
			UnitOfMeasurement:         unit,
			SuggestedDisplayPrecision: 1,
			ExpireAfter:               opts.ExpireAfter,
		}
	}

	fault := platform.NewBinarySensor[any](mqtt.NewValueWithOptions("fault", hass.PowerStateMarshaler, retained), nil)
	fault.DeviceClass = hass.DeviceClassProblem

	return &HomeAssistant{
		device: &Device{
			DiscoveryID:  id,
			Name:         thing,
			Identifiers:  []string{"envshadow_" + id},
			Manufacturer: "envshadow",
			Model:        "Environmental sensor",
		},
		prefix: opts.DiscoveryPrefix,
		status: discovery.HomeAssistantAvailability(opts.DiscoveryPrefix),

		temperature: Component[*platform.Sensor[float64, ReadingAttributes]]{
			UniqueID:     id + "_temperature",
			Name:         "Temperature",
			TopicPrefix:  root,
			Availability: availability,
			Platform: &platform.Sensor[float64, ReadingAttributes]{
				State:                     mqtt.NewValue("temperature", mqtt.FloatMarshaler),
				Attributes:                platform.NewSensorAttributeValue[ReadingAttributes](mqtt.JoinTopic("temperature", "attributes")),
				DeviceClass:               hass.DeviceClassTemperature,
				StateClass:                hass.StateClassMeasurement,
				UnitOfMeasurement:         opts.Scale.Unit(),
				SuggestedDisplayPrecision: 1,
				ExpireAfter:               opts.ExpireAfter,
			},
		},
		humidity: Component[*platform.Sensor[float64, any]]{
			UniqueID:     id + "_humidity",
			Name:         "Humidity",
			TopicPrefix:  root,
			Availability: availability,
			Platform:     measurement("humidity", hass.DeviceClassHumidity, "%"),
		},
		pressure: Component[*platform.Sensor[float64, any]]{
			UniqueID:     id + "_pressure",
			Name:         "Pressure",
			TopicPrefix:  root,
			Availability: availability,
			Platform:     measurement("pressure", hass.DeviceClassPressure, "Pa"),
		},
		fault: Component[*platform.BinarySensor[any]]{
			UniqueID:       id + "_sensor_fault",
			Name:           "Sensor fault",
			TopicPrefix:    root,
			Availability:   availability,
			EntityCategory: hass.EntityCategoryDiagnostic,
			Platform:       fault,
		},
		sending: Component[*platform.Switch]{
			UniqueID:       id + "_sending",
			Name:           "Sending",
			Icon:           "mdi:cloud-upload",
			TopicPrefix:    root,
			Availability:   availability,
			EntityCategory: hass.EntityCategoryConfig,
			Platform: &platform.Switch{
				State:       mqtt.NewValueWithOptions("sending", hass.PowerStateMarshaler, retained),
				Command:     mqtt.NewRemoteValue(mqtt.JoinTopic("sending", "set"), hass.PowerStateUnmarshaler),
				DeviceClass: hass.DeviceClassSwitch,
			},
		},

		log: log.ForComponent("homeassistant").With(slog.String("thing", thing)),
	}
}

// AvailabilityTopic is the retained topic that marks every entity online or offline. Use it as the MQTT will.
func (h *HomeAssistant) AvailabilityTopic() string {
	return h.temperature.Availability.FullyQualifiedTopic(h.temperature.TopicPrefix)
}

// Device returns the discovered device.
func (h *HomeAssistant) Device() *Device {
	return h.device
}

func (h *HomeAssistant) components() map[string]Discoverable {
	return map[string]Discoverable{
		h.temperature.UniqueID: &h.temperature,
		h.humidity.UniqueID:    &h.humidity,
		h.pressure.UniqueID:    &h.pressure,
		h.fault.UniqueID:       &h.fault,
		h.sending.UniqueID:     &h.sending,
	}
}

// Subscribe watches Home Assistant's status topic and the sending switch. online is called every time Home Assistant
// announces itself, and setSending for every switch command. Both run on the MQTT receive goroutine.
func (h *HomeAssistant) Subscribe(ctx context.Context, s mqtt.Subscriber, online func(), setSending func(bool)) error {
	h.status.Watch(func(a hass.Availability) {
		h.log.With(slog.String("availability", string(a))).Info("Home Assistant status changed")
		if a == hass.Available {
			online()
		}
	})

	h.sending.Platform.Command.Watch(func(p hass.PowerState) {
		on, err := h.sending.Platform.CustomPowerStateValues.Bool(p)
		if err != nil {
			h.log.With(log.Error(err)).Warn("Ignoring sending command")
			return
		}

		setSending(on)
	})

	return errors.Join(
		s.Subscribe(ctx, h.status, h.status.AppendSubscribeOptions(nil, "")...),
		h.sending.Subscribe(ctx, s),
	)
}

// Unsubscribe drops the subscriptions made by Subscribe.
func (h *HomeAssistant) Unsubscribe(ctx context.Context, s mqtt.Subscriber) error {
	return errors.Join(
		s.Unsubscribe(ctx, h.status.FullyQualifiedTopic("")),
		h.sending.Unsubscribe(ctx, s),
	)
}

// Announce publishes discovery, marks the device online and republishes the last known state.
func (h *HomeAssistant) Announce(ctx context.Context, w mqtt.Writer, state shadow.State, last *sensor.Reading) error {
	h.log.Info("Sending discovery")
	if err := h.device.Configure(ctx, w, h.prefix, h.components()); err != nil {
		return fmt.Errorf("homeassistant: %w", err)
	}

	errs := []error{
		mqtt.Error(h.temperature.Availability.Write(ctx, w, h.temperature.TopicPrefix, hass.Available)),
		h.PublishState(ctx, w, state),
	}
	if last != nil {
		errs = append(errs, h.PublishReading(ctx, w, *last))
	}

	return errors.Join(errs...)
}

// Withdraw marks every entity unavailable.
func (h *HomeAssistant) Withdraw(ctx context.Context, w mqtt.Writer) error {
	return mqtt.Error(h.temperature.Availability.Write(ctx, w, h.temperature.TopicPrefix, hass.Unavailable))
}

// PublishReading mirrors r to the sensors. Temperature and humidity are left alone while the sensor is faulted so
// Home Assistant does not record sentinel values.
func (h *HomeAssistant) PublishReading(ctx context.Context, w mqtt.Writer, r sensor.Reading) error {
	attrs := ReadingAttributes{
		Symbol:       r.Symbol,
		TriggerCount: r.TriggerCount,
		LastRead:     r.LastRead,
	}

	errs := []error{
		mqtt.Error(h.fault.Platform.State.Write(ctx, w, h.fault.TopicPrefix, hass.PowerStateOf(r.Faulted()))),
	}

	if r.Faulted() {
		attrs.Fault = r.Fault.String()
	} else {
		errs = append(errs,
			mqtt.Error(h.temperature.Platform.State.Write(ctx, w, h.temperature.TopicPrefix, r.Temperature)),
			mqtt.Error(h.humidity.Platform.State.Write(ctx, w, h.humidity.TopicPrefix, r.Humidity)),
		)
	}

	if r.Pressure > 0 {
		errs = append(errs, mqtt.Error(h.pressure.Platform.State.Write(ctx, w, h.pressure.TopicPrefix, r.Pressure)))
	}

	errs = append(errs, mqtt.Error(h.temperature.Platform.Attributes.Write(ctx, w, h.temperature.TopicPrefix, attrs)))

	return errors.Join(errs...)
}

// PublishState mirrors send_enabled to the sending switch.
func (h *HomeAssistant) PublishState(ctx context.Context, w mqtt.Writer, state shadow.State) error {
	return mqtt.Error(h.sending.Platform.State.Write(ctx, w, h.sending.TopicPrefix, hass.PowerStateOf(state.SendEnabled)))
}
