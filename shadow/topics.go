package shadow

import (
	"strings"

	"github.com/nlowe/envshadow/mqtt"
)

// TelemetryPrefix is the first level of the plain telemetry topic.
const TelemetryPrefix = "dev-tel"

// Topics names every topic used for one thing's classic (unnamed) shadow and its telemetry.
type Topics struct {
	Thing string

	Update         string
	UpdateDelta    string
	UpdateAccepted string
	UpdateRejected string

	Get         string
	GetAccepted string
	GetRejected string

	Telemetry string
}

// ThingTopics returns the topic set for thing.
func ThingTopics(thing string) Topics {
	root := mqtt.JoinTopic("$aws/things", thing, "shadow")
	update := mqtt.JoinTopic(root, "update")
	get := mqtt.JoinTopic(root, "get")

	return Topics{
		Thing: thing,

		Update:         update,
		UpdateDelta:    mqtt.JoinTopic(update, "delta"),
		UpdateAccepted: mqtt.JoinTopic(update, "accepted"),
		UpdateRejected: mqtt.JoinTopic(update, "rejected"),

		Get:         get,
		GetAccepted: mqtt.JoinTopic(get, "accepted"),
		GetRejected: mqtt.JoinTopic(get, "rejected"),

		Telemetry: mqtt.JoinTopic(TelemetryPrefix, thing),
	}
}

// ThingFromTopic extracts the thing name from a shadow or telemetry topic. It returns false for any other topic.
func ThingFromTopic(topic string) (string, bool) {
	levels := strings.Split(topic, mqtt.TopicSeparator)

	var thing string
	switch {
	case mqtt.MatchTopic("$aws/things/+/shadow/#", topic):
		thing = levels[2]
	case mqtt.MatchTopic(TelemetryPrefix+"/+", topic):
		thing = levels[1]
	}

	return thing, thing != ""
}
