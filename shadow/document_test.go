package shadow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDocuments(t *testing.T) {
	for name, tt := range map[string]struct {
		doc  Document
		want string
	}{
		"Accepted": {
			doc:  Accepted(PropertySendInterval, uint32(1000)),
			want: `{"state":{"reported":{"send_interval":1000}}}`,
		},
		"AcceptedAndClear": {
			doc:  AcceptedAndClear(PropertySendEnabled, true),
			want: `{"state":{"desired":{"send_enabled":null},"reported":{"send_enabled":true}}}`,
		},
		"Rejected": {
			doc:  Rejected(PropertySendInterval),
			want: `{"state":{"desired":{"send_interval":null}}}`,
		},
		"ClientToken": {
			doc:  Reported(map[string]any{"temperature": 23.3}).WithClientToken("abc"),
			want: `{"state":{"reported":{"temperature":23.3}},"clientToken":"abc"}`,
		},
	} {
		t.Run(name, func(t *testing.T) {
			got, err := tt.doc.Marshal()
			require.NoError(t, err)
			require.JSONEq(t, tt.want, string(got))

			require.NoError(t, ValidateUpdate(got))
		})
	}
}

func TestValidateUpdate(t *testing.T) {
	for name, payload := range map[string]string{
		"NotJSON":      `nope`,
		"NoState":      `{"reported":{}}`,
		"UnknownState": `{"state":{"wished":{}}}`,
		"BadToken":     `{"state":{},"clientToken":7}`,
	} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, ValidateUpdate([]byte(payload)), ErrMalformed)
		})
	}
}

func TestThingTopics(t *testing.T) {
	topics := ThingTopics("env-1")

	require.Equal(t, Topics{
		Thing:          "env-1",
		Update:         "$aws/things/env-1/shadow/update",
		UpdateDelta:    "$aws/things/env-1/shadow/update/delta",
		UpdateAccepted: "$aws/things/env-1/shadow/update/accepted",
		UpdateRejected: "$aws/things/env-1/shadow/update/rejected",
		Get:            "$aws/things/env-1/shadow/get",
		GetAccepted:    "$aws/things/env-1/shadow/get/accepted",
		GetRejected:    "$aws/things/env-1/shadow/get/rejected",
		Telemetry:      "dev-tel/env-1",
	}, topics)
}

func TestThingFromTopic(t *testing.T) {
	for topic, want := range map[string]string{
		"$aws/things/env-1/shadow/update": "env-1",
		"$aws/things/env-2/shadow/get":    "env-2",
		"dev-tel/env-3":                   "env-3",
		"dev-tel/env-3/extra":             "",
		"homeassistant/status":            "",
	} {
		t.Run(topic, func(t *testing.T) {
			got, ok := ThingFromTopic(topic)
			require.Equal(t, want != "", ok)
			require.Equal(t, want, got)
		})
	}
}
