package mqtt

import (
	"fmt"
	"log/slog"
)

// QualityOfService is the MQTT delivery guarantee for a publish or subscription. It implements fmt.Stringer and
// slog.LogValuer.
type QualityOfService uint8

const (
	// QOSAtMostOnce is fire and forget. AWS IoT shadow topics are used at this level.
	QOSAtMostOnce QualityOfService = iota
	// QOSAtLeastOnce requires a PUBACK from the receiver.
	QOSAtLeastOnce
	// QOSExactlyOnce uses the PUBLISH, PUBREC, PUBREL, PUBCOMP handshake. AWS IoT does not support it.
	QOSExactlyOnce

	QOSDefault = QOSAtMostOnce
)

func (q QualityOfService) String() string {
	switch q {
	case QOSAtMostOnce:
		return "at most once (0)"
	case QOSAtLeastOnce:
		return "at least once (1)"
	case QOSExactlyOnce:
		return "exactly once (2)"
	default:
		return fmt.Sprintf("invalid (%d)", uint8(q))
	}
}

func (q QualityOfService) LogValue() slog.Value {
	return slog.StringValue(q.String())
}

// Valid reports whether q is one of the three MQTT levels.
func (q QualityOfService) Valid() bool {
	return q <= QOSExactlyOnce
}

// WriteOptions holds options for publishing. The zero value publishes at QoS 0 without retain. It implements
// slog.LogValuer.
type WriteOptions struct {
	QoS QualityOfService

	// Retain asks the broker to keep the last message for the topic and hand it to new subscribers.
	Retain bool
}

func (w WriteOptions) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("qos", w.QoS),
		slog.Bool("retain", w.Retain),
	)
}

// SubscriptionRetainHandling controls when the broker sends retained messages to a subscriber. It implements
// fmt.Stringer and slog.LogValuer.
type SubscriptionRetainHandling uint8

const (
	// RetainHandlingSendOnSubscribe sends retained messages on every subscribe, including resubscribes.
	RetainHandlingSendOnSubscribe SubscriptionRetainHandling = iota
	// RetainHandlingSendOnNewSubscribe sends retained messages only when the subscription did not already exist.
	RetainHandlingSendOnNewSubscribe
	// RetainHandlingIgnoreRetained never sends retained messages.
	RetainHandlingIgnoreRetained

	RetainHandlingDefault = RetainHandlingSendOnSubscribe
)

func (s SubscriptionRetainHandling) String() string {
	switch s {
	case RetainHandlingSendOnSubscribe:
		return "send on subscribe (0)"
	case RetainHandlingSendOnNewSubscribe:
		return "send on new subscribe (1)"
	case RetainHandlingIgnoreRetained:
		return "ignore retained (2)"
	default:
		return fmt.Sprintf("invalid (%d)", uint8(s))
	}
}

func (s SubscriptionRetainHandling) LogValue() slog.Value {
	return slog.StringValue(s.String())
}

// ReadOptions holds options for a subscription. The zero value subscribes at QoS 0 with RetainHandlingDefault. It
// implements slog.LogValuer.
type ReadOptions struct {
	QoS QualityOfService

	// NoLocal stops the broker from echoing our own publishes back to us.
	NoLocal bool

	// RetainAsPublished keeps the retain flag on forwarded retained messages.
	RetainAsPublished bool

	RetainHandling SubscriptionRetainHandling
}

func (r ReadOptions) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("qos", r.QoS),
		slog.Bool("no_local", r.NoLocal),
		slog.Bool("retain_as_published", r.RetainAsPublished),
		slog.Any("retain_handling", r.RetainHandling),
	)
}
