package envshadow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlowe/envshadow/mqtt/mqtttest"
	"github.com/nlowe/envshadow/sensor"
	"github.com/nlowe/envshadow/shadow"
)

func TestHomeAssistantAnnounce(t *testing.T) {
	broker := mqtttest.NewBroker()
	h := NewHomeAssistant("env-1", HomeAssistantOptions{StatePrefix: "envshadow", Scale: sensor.Fahrenheit})

	require.Equal(t, "envshadow/env-1/availability", h.AvailabilityTopic())

	last := sensor.Reading{Temperature: 70.1, Humidity: 40, Pressure: 101000, Symbol: "F"}
	require.NoError(t, h.Announce(t.Context(), broker, shadow.DefaultState(), &last))

	config := broker.MessagesOn("homeassistant/device/env-1/config")
	require.Len(t, config, 1)

	var payload struct {
		Components map[string]map[string]any `json:"cmps"`
	}
	require.NoError(t, json.Unmarshal(config[0].Payload, &payload))

	require.Len(t, payload.Components, 5)
	temperature := payload.Components["env-1_temperature"]
	assert.Equal(t, "°F", temperature["unit_of_meas"])
	assert.Equal(t, "envshadow/env-1/temperature", temperature["stat_t"])
	assert.Equal(t, "envshadow/env-1/temperature/attributes", temperature["json_attr_t"])
	assert.Equal(t, "envshadow/env-1/availability", temperature["avty_t"])

	sending := payload.Components["env-1_sending"]
	assert.Equal(t, "switch", sending["p"])
	assert.Equal(t, "envshadow/env-1/sending/set", sending["cmd_t"])

	fault := payload.Components["env-1_sensor_fault"]
	assert.Equal(t, "binary_sensor", fault["p"])
	assert.Equal(t, "problem", fault["dev_cla"])

	assert.Equal(t, "online", string(broker.MessagesOn("envshadow/env-1/availability")[0].Payload))
	assert.Equal(t, "ON", string(broker.MessagesOn("envshadow/env-1/sending")[0].Payload))
	assert.Equal(t, "70.1", string(broker.MessagesOn("envshadow/env-1/temperature")[0].Payload))
	assert.Equal(t, "101000", string(broker.MessagesOn("envshadow/env-1/pressure")[0].Payload))
	assert.Equal(t, "OFF", string(broker.MessagesOn("envshadow/env-1/fault")[0].Payload))

	require.NoError(t, h.Withdraw(t.Context(), broker))
	avail := broker.MessagesOn("envshadow/env-1/availability")
	assert.Equal(t, "offline", string(avail[len(avail)-1].Payload))
}

func TestHomeAssistantFaultedReading(t *testing.T) {
	broker := mqtttest.NewBroker()
	h := NewHomeAssistant("env-1", HomeAssistantOptions{StatePrefix: "envshadow"})

	r := sensor.Reading{
		Temperature: sensor.StatusChecksum.Sentinel(),
		Humidity:    sensor.StatusChecksum.Sentinel(),
		Fault:       sensor.StatusChecksum,
	}
	require.NoError(t, h.PublishReading(t.Context(), broker, r))

	assert.Empty(t, broker.MessagesOn("envshadow/env-1/temperature"))
	assert.Empty(t, broker.MessagesOn("envshadow/env-1/humidity"))
	assert.Empty(t, broker.MessagesOn("envshadow/env-1/pressure"))
	assert.Equal(t, "ON", string(broker.MessagesOn("envshadow/env-1/fault")[0].Payload))

	var attrs ReadingAttributes
	require.NoError(t, json.Unmarshal(broker.MessagesOn("envshadow/env-1/temperature/attributes")[0].Payload, &attrs))
	assert.Equal(t, sensor.StatusChecksum.String(), attrs.Fault)
}

func TestHomeAssistantSubscribe(t *testing.T) {
	broker := mqtttest.NewBroker()
	h := NewHomeAssistant("env-1", HomeAssistantOptions{StatePrefix: "envshadow"})

	var online int
	var sending []bool
	require.NoError(t, h.Subscribe(t.Context(), broker, func() { online++ }, func(on bool) { sending = append(sending, on) }))

	broker.Deliver("homeassistant/status", []byte("offline"))
	broker.Deliver("homeassistant/status", []byte("online"))
	broker.Deliver("envshadow/env-1/sending/set", []byte("OFF"))
	broker.Deliver("envshadow/env-1/sending/set", []byte("bogus"))
	broker.Deliver("envshadow/env-1/sending/set", []byte("ON"))

	assert.Equal(t, 1, online)
	assert.Equal(t, []bool{false, true}, sending)

	require.NoError(t, h.Unsubscribe(t.Context(), broker))
	assert.Empty(t, broker.Subscriptions())
}
