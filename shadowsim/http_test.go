package shadowsim

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))
	return rec
}

func TestRouter(t *testing.T) {
	s, broker, topics := newService(t)
	r := NewRouter(s)

	t.Run("Health", func(t *testing.T) {
		rec := serve(t, r, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	})

	t.Run("Unknown Thing", func(t *testing.T) {
		rec := serve(t, r, http.MethodGet, "/things/env-1/shadow", "")
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Put Desired", func(t *testing.T) {
		rec := serve(t, r, http.MethodPut, "/things/env-1/shadow/desired", `{"send_interval":10000}`)
		require.Equal(t, http.StatusOK, rec.Code)

		doc := decode[GetDocument](t, rec.Body.Bytes())
		assert.Equal(t, map[string]any{"send_interval": 10000.0}, doc.State.Desired)
		assert.Equal(t, map[string]any{"send_interval": 10000.0}, doc.State.Delta)

		require.Len(t, broker.MessagesOn(topics.UpdateDelta), 1)
		assert.JSONEq(t, `{"send_interval":10000}`, string(mustState(t, broker.MessagesOn(topics.UpdateDelta)[0].Payload)))
	})

	t.Run("Get", func(t *testing.T) {
		rec := serve(t, r, http.MethodGet, "/things/env-1/shadow", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.EqualValues(t, 1, decode[GetDocument](t, rec.Body.Bytes()).Version)
	})

	t.Run("List", func(t *testing.T) {
		rec := serve(t, r, http.MethodGet, "/things", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"things":["env-1"]}`, rec.Body.String())
	})

	t.Run("Bad Body", func(t *testing.T) {
		for _, body := range []string{"", "[1]", "null", `{"a":`} {
			rec := serve(t, r, http.MethodPut, "/things/env-1/shadow/desired", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		}
	})

	t.Run("Too Large", func(t *testing.T) {
		rec := serve(t, r, http.MethodPut, "/things/env-1/shadow/desired", `{"a":"`+strings.Repeat("x", maxBody)+`"}`)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})

	t.Run("Delete", func(t *testing.T) {
		rec := serve(t, r, http.MethodDelete, "/things/env-1/shadow", "")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"version":1}`, rec.Body.String())

		rec = serve(t, r, http.MethodDelete, "/things/env-1/shadow", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("Method Not Allowed", func(t *testing.T) {
		rec := serve(t, r, http.MethodPost, "/things/env-1/shadow", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func mustState(t *testing.T, payload []byte) []byte {
	t.Helper()

	var doc struct {
		State map[string]any `json:"state"`
	}
	require.NoError(t, json.Unmarshal(payload, &doc))

	b, err := json.Marshal(doc.State)
	require.NoError(t, err)
	return b
}
