package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		o, err := parseArgs(nil)
		require.NoError(t, err)
		assert.Equal(t, ":1883", o.listen)
		assert.Equal(t, ":8080", o.httpAddr)
		assert.Empty(t, o.broker)
		assert.Empty(t, o.kafka)
	})

	t.Run("Values", func(t *testing.T) {
		o, err := parseArgs([]string{"-broker", "mqtt://localhost:1883", "-http=:9000", "-kafka", "k1:9092,k2:9092", "-kafka-topic=tel"})
		require.NoError(t, err)
		assert.Equal(t, "mqtt://localhost:1883", o.broker)
		assert.Equal(t, ":9000", o.httpAddr)
		assert.Equal(t, []string{"k1:9092", "k2:9092"}, o.kafka)
		assert.Equal(t, "tel", o.kafkaTopic)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := parseArgs([]string{"-nope=1"})
		require.ErrorContains(t, err, "unknown flag: -nope")

		_, err = parseArgs([]string{"-listen"})
		require.ErrorContains(t, err, "flag needs a value")
	})
}

func TestRunHelp(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run(t.Context(), &stdout, &stderr, []string{"-h"}))
	assert.Contains(t, stdout.String(), "Usage: shadowsim")
}
