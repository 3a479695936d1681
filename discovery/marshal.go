package discovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/nlowe/envshadow/mqtt"
)

var (
	// ErrValueRequired is returned for required fields left at their zero value.
	ErrValueRequired = errors.New("value is required")
	// ErrTopicRequired is returned for required topics that are empty, usually because the backing value is nil.
	ErrTopicRequired = errors.New("topic is required")
	// ErrMissingStateOrCommandTopic is returned when only one of a state and command topic pair is configured.
	ErrMissingStateOrCommandTopic = errors.New("state and command topics must both be configured")
)

// Fields is a discovery object under construction. encoding/json writes map keys in sorted order, so the same fields
// always produce the same payload.
type Fields map[string]any

// MarshalJSON applies the discovery encodings for standard library types before encoding.
func (f Fields) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f))
	for k, v := range f {
		out[k] = normalize(v)
	}

	return json.Marshal(out)
}

// normalize renders URLs as strings and durations as whole seconds, which is what Home Assistant expects.
func normalize(v any) any {
	switch t := v.(type) {
	case *url.URL:
		return t.String()
	case url.URL:
		return t.String()
	case time.Duration:
		return int64(t.Seconds())
	default:
		return v
	}
}

// Topic sets k to topic unless topic is empty.
func (f Fields) Topic(k, topic string) {
	if topic != "" {
		f[k] = topic
	}
}

// RequiredTopic sets k to topic and fails with ErrTopicRequired if topic is empty.
func (f Fields) RequiredTopic(name, k, topic string) error {
	if topic == "" {
		return fmt.Errorf("%s: %w", name, ErrTopicRequired)
	}

	f[k] = topic
	return nil
}

// ValueTopic sets k to the topic of v if v is configured.
func ValueTopic[T any](f Fields, k string, v *mqtt.Value[T], prefix string) {
	f.Topic(k, v.FullyQualifiedTopic(prefix))
}

// RequiredValueTopic sets k to the topic of v and fails with ErrTopicRequired if v is nil.
func RequiredValueTopic[T any](name string, f Fields, k string, v *mqtt.Value[T], prefix string) error {
	return f.RequiredTopic(name, k, v.FullyQualifiedTopic(prefix))
}

// RemoteValueTopic sets k to the topic of v if v is configured.
func RemoteValueTopic[T any](f Fields, k string, v *mqtt.RemoteValue[T], prefix string) {
	f.Topic(k, v.FullyQualifiedTopic(prefix))
}

// RequiredRemoteValueTopic sets k to the topic of v and fails with ErrTopicRequired if v is nil.
func RequiredRemoteValueTopic[T any](name string, f Fields, k string, v *mqtt.RemoteValue[T], prefix string) error {
	return f.RequiredTopic(name, k, v.FullyQualifiedTopic(prefix))
}

// StateAndCommandTopics sets both topics of a state/command pair. Leaving both unset is fine, setting only one is not.
func StateAndCommandTopics[T any](name string, f Fields, sk string, s *mqtt.Value[T], ck string, c *mqtt.RemoteValue[T], prefix string) error {
	if s == nil && c == nil {
		return nil
	}

	if s == nil || c == nil {
		return fmt.Errorf("%s: %w", name, ErrMissingStateOrCommandTopic)
	}

	return errors.Join(
		RequiredValueTopic(name, f, sk, s, prefix),
		RequiredRemoteValueTopic(name, f, ck, c, prefix),
	)
}

// Set stores v under k unless it is the zero value for T.
func Set[T comparable](f Fields, k string, v T) {
	var zero T
	if v != zero {
		f[k] = v
	}
}

// Require stores v under k and fails with ErrValueRequired if it is the zero value for T.
func Require[T comparable](name string, f Fields, k string, v T) error {
	var zero T
	if v == zero {
		return fmt.Errorf("%s: %w", name, ErrValueRequired)
	}

	f[k] = v
	return nil
}

// SetUnless stores v under k unless it equals the default Home Assistant would assume anyway, or is the zero value.
func SetUnless[T comparable](def T, f Fields, k string, v T) {
	var zero T
	if v != def && v != zero {
		f[k] = v
	}
}

// SetSlice stores v under k when it has at least one element.
func SetSlice[T any](f Fields, k string, v []T) {
	if len(v) > 0 {
		f[k] = v
	}
}

// Merge copies every field of other into f, replacing existing keys.
func (f Fields) Merge(other Fields) Fields {
	for k, v := range other {
		f[k] = v
	}

	return f
}
