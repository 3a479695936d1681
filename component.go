package envshadow

import (
	"context"
	"errors"
	"strings"

	"github.com/nlowe/envshadow/discovery"
	"github.com/nlowe/envshadow/hass"
	"github.com/nlowe/envshadow/mqtt"
)

// ErrComponentAlreadySubscribed is returned by Component.Subscribe when called twice without Unsubscribe.
var ErrComponentAlreadySubscribed = errors.New("component already subscribed")

// Component is one Home Assistant entity belonging to a Device. Every topic of the component and its platform lives
// under TopicPrefix.
type Component[TPlatform Platform] struct {
	Platform    TPlatform
	TopicPrefix string

	// Entity name. Leave empty to use only the device name.
	Name string

	EntityCategory hass.EntityCategory
	Icon           string

	// Required. Home Assistant marks the entity unavailable when this reads hass.Unavailable.
	Availability             *mqtt.Value[hass.Availability]
	CustomAvailabilityValues hass.CustomAvailability

	// Suggested entity id, used when the entity is first added.
	DefaultEntityID string

	// Required. Must be unique across every entity Home Assistant knows about.
	UniqueID string

	// Options Home Assistant should use for command topics.
	WriteOptions mqtt.WriteOptions

	subscribed []string
}

// Discovery returns the discovery object for this component.
func (c *Component[TPlatform]) Discovery() (discovery.Fields, error) {
	f, platformErr := c.Platform.DiscoveryFields(c.TopicPrefix)
	if f == nil {
		f = discovery.Fields{}
	}

	// Home Assistant takes a literal null to mean "use the device name".
	if c.Name != "" {
		f[discovery.FieldName] = c.Name
	} else {
		f[discovery.FieldName] = nil
	}

	discovery.Set(f, discovery.FieldEntityCategory, c.EntityCategory)
	discovery.Set(f, discovery.FieldIcon, c.Icon)
	discovery.Set(f, discovery.FieldDefaultEntityID, c.DefaultEntityID)
	discovery.SetUnless(hass.Available, f, discovery.FieldPayloadAvailable, c.CustomAvailabilityValues.Available)
	discovery.SetUnless(hass.Unavailable, f, discovery.FieldPayloadNotAvailable, c.CustomAvailabilityValues.Unavailable)
	discovery.Set(f, discovery.FieldQoS, c.WriteOptions.QoS)
	discovery.Set(f, discovery.FieldRetain, c.WriteOptions.Retain)

	return f, errors.Join(
		platformErr,
		discovery.Require("platform", f, discovery.FieldPlatform, c.Platform.PlatformName()),
		discovery.Require("unique id", f, discovery.FieldUniqueID, c.UniqueID),
		discovery.RequiredValueTopic("availability", f, discovery.FieldAvailabilityTopic, c.Availability, c.TopicPrefix),
	)
}

// ForRemoval returns the placeholder that removes this component from its device on the next Device.Configure.
func (c *Component[TPlatform]) ForRemoval() RemoveComponent {
	return RemoveComponent{Platform: c.Platform.PlatformName()}
}

// Subscribe routes the platform's command topics to the platform. Topics are passed to the platform relative to
// TopicPrefix. Components without command topics subscribe to nothing.
func (c *Component[TPlatform]) Subscribe(ctx context.Context, s mqtt.Subscriber) error {
	if len(c.subscribed) != 0 {
		return ErrComponentAlreadySubscribed
	}

	subscriptions := c.Platform.Subscriptions(c.TopicPrefix)
	if len(subscriptions) == 0 {
		return nil
	}

	prefix := mqtt.TrimTopic(c.TopicPrefix)
	err := s.Subscribe(ctx, mqtt.HandlerFunc(func(w mqtt.Writer, topic string, payload []byte) {
		rest, ok := strings.CutPrefix(topic, prefix)
		if !ok {
			return
		}

		c.Platform.ServeMQTT(w, mqtt.TrimTopic(rest), payload)
	}), subscriptions...)
	if err != nil {
		return err
	}

	for _, sub := range subscriptions {
		c.subscribed = append(c.subscribed, sub.Topic)
	}

	return nil
}

// Unsubscribe drops the subscriptions made by Subscribe.
func (c *Component[TPlatform]) Unsubscribe(ctx context.Context, s mqtt.Subscriber) error {
	if len(c.subscribed) == 0 {
		return nil
	}

	topics := c.subscribed
	c.subscribed = nil

	return s.Unsubscribe(ctx, topics...)
}

// RemoveComponent tells Home Assistant to drop a component that was previously part of a device.
type RemoveComponent struct {
	Platform string
}

func (r RemoveComponent) Discovery() (discovery.Fields, error) {
	f := discovery.Fields{}
	return f, discovery.Require("platform", f, discovery.FieldPlatform, r.Platform)
}
