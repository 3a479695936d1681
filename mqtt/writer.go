package mqtt

import (
	"context"
)

// Writer publishes payloads. It is the only thing components need from an MQTT client to send.
type Writer interface {
	// WriteTopic publishes value to topic with options.
	WriteTopic(ctx context.Context, topic string, options WriteOptions, value []byte) error
}

// WriterFunc adapts an ordinary function to a Writer.
type WriterFunc func(ctx context.Context, topic string, options WriteOptions, value []byte) error

func (f WriterFunc) WriteTopic(ctx context.Context, topic string, options WriteOptions, value []byte) error {
	return f(ctx, topic, options, value)
}

// Error drops the value returned by Value.Write and keeps the error, so several writes can be passed to errors.Join.
func Error[T any](_ T, err error) error {
	return err
}
