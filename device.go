package envshadow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/mqtt"
)

// ErrInvalidDevice is returned by Device.Valid and Device.Configure when the device cannot be identified.
var ErrInvalidDevice = errors.New("device must have at least one identifying value in 'identifiers' and/or 'connections'")

// DeviceConnection ties a Device to something outside MQTT, such as a MAC address. It encodes as a two element array.
type DeviceConnection struct {
	Kind  string
	Value string
}

func (d DeviceConnection) String() string {
	return fmt.Sprintf("[%q,%q]", d.Kind, d.Value)
}

func (d DeviceConnection) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("kind", d.Kind),
		slog.String("value", d.Value),
	)
}

func (d DeviceConnection) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{d.Kind, d.Value})
}

// Device groups the agent's Home Assistant entities. The relationship only exists in the discovery payload written by
// Configure.
//
// See https://www.home-assistant.io/integrations/mqtt/#device-discovery-payload.
type Device struct {
	// Overrides the id derived from the other fields.
	DiscoveryID string

	Name            string
	Serial          string
	Manufacturer    string
	Model           string
	ModelID         string
	HardwareVersion string
	FirmwareVersion string
	SuggestedArea   string
	ViaDevice       string

	ConfigurationURL *url.URL
	Connections      []DeviceConnection
	Identifiers      []string

	// Defaults to DefaultOrigin.
	Origin *Origin
}

// ID returns DiscoveryID if set. Otherwise it joins the sanitized identifiers, name, serial, manufacturer, model and
// model id with discovery.IDSep.
func (d *Device) ID() string {
	if d.DiscoveryID != "" {
		return d.DiscoveryID
	}

	parts := append([]string{}, d.Identifiers...)
	parts = append(parts, d.Name, d.Serial, d.Manufacturer, d.Model, d.ModelID)

	kept := parts[:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, discovery.IDSanitizer.Replace(p))
		}
	}

	return strings.Join(kept, discovery.IDSep)
}

// Valid checks that Home Assistant can identify the device.
func (d *Device) Valid() error {
	if len(d.Identifiers) == 0 && len(d.Connections) == 0 {
		return ErrInvalidDevice
	}

	return nil
}

func (d *Device) fields() discovery.Fields {
	f := discovery.Fields{}

	discovery.Set(f, "name", d.Name)
	discovery.Set(f, "sn", d.Serial)
	discovery.Set(f, "mf", d.Manufacturer)
	discovery.Set(f, "mdl", d.Model)
	discovery.Set(f, "mdl_id", d.ModelID)
	discovery.Set(f, "hw", d.HardwareVersion)
	discovery.Set(f, "sw", d.FirmwareVersion)
	discovery.Set(f, "sa", d.SuggestedArea)
	discovery.Set(f, "via_device", d.ViaDevice)
	discovery.SetSlice(f, "cns", d.Connections)
	discovery.SetSlice(f, "ids", d.Identifiers)
	if d.ConfigurationURL != nil {
		f["cu"] = d.ConfigurationURL
	}

	return f
}

// Payload builds the device discovery document for the given components, keyed by object id.
func (d *Device) Payload(components map[string]Discoverable) ([]byte, error) {
	if err := d.Valid(); err != nil {
		return nil, err
	}

	origin := DefaultOrigin()
	if d.Origin != nil {
		origin = *d.Origin
	}

	cmps := make(map[string]discovery.Fields, len(components))
	var errs []error
	for id, c := range components {
		f, err := c.Discovery()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}

		cmps[id] = f
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return json.Marshal(discovery.Fields{
		discovery.FieldDevice:     d.fields(),
		discovery.FieldOrigin:     origin.fields(),
		discovery.FieldComponents: cmps,
	})
}

// Configure publishes the retained discovery payload for this device and components under discoveryPrefix. Replace a
// component with its RemoveComponent to delete it from the device.
func (d *Device) Configure(ctx context.Context, w mqtt.Writer, discoveryPrefix string, components map[string]Discoverable) error {
	payload, err := d.Payload(components)
	if err != nil {
		return fmt.Errorf("configure: %w", err)
	}

	return w.WriteTopic(ctx, discovery.ConfigTopic(discoveryPrefix, d.ID()), mqtt.WriteOptions{Retain: true}, payload)
}
