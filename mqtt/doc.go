// Package mqtt holds the small client-agnostic MQTT surface the agent is written against: Writer and Subscriber
// ports, Handler callbacks, and typed Value / RemoteValue wrappers for single-topic state. Concrete clients live under
// mqtt/adapter.
package mqtt
