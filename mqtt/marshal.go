package mqtt

import (
	"encoding/json"
	"strconv"
)

// ValueMarshaler converts a T into an MQTT payload.
type ValueMarshaler[T any] func(v T) ([]byte, error)

// ValueUnmarshaler converts an MQTT payload into a T.
type ValueUnmarshaler[T any] func([]byte) (T, error)

var (
	StringMarshaler ValueMarshaler[string] = func(v string) ([]byte, error) {
		return []byte(v), nil
	}

	StringUnmarshaler ValueUnmarshaler[string] = func(bytes []byte) (string, error) {
		return string(bytes), nil
	}

	// FloatMarshaler writes the shortest decimal representation of v.
	FloatMarshaler ValueMarshaler[float64] = func(v float64) ([]byte, error) {
		return strconv.AppendFloat(nil, v, 'f', -1, 64), nil
	}

	FloatUnmarshaler ValueUnmarshaler[float64] = func(bytes []byte) (float64, error) {
		return strconv.ParseFloat(string(bytes), 64)
	}
)

// JsonValueMarshaler returns a ValueMarshaler that encodes T as JSON.
func JsonValueMarshaler[T any]() ValueMarshaler[T] {
	return func(v T) ([]byte, error) {
		return json.Marshal(v)
	}
}

// JsonValueUnmarshaler returns a ValueUnmarshaler that decodes JSON into a T.
func JsonValueUnmarshaler[T any]() ValueUnmarshaler[T] {
	return func(bytes []byte) (T, error) {
		var v T

		return v, json.Unmarshal(bytes, &v)
	}
}
