package mqtt

import "strings"

const (
	TopicSeparator = "/"

	// SingleLevelWildcard matches exactly one topic level.
	SingleLevelWildcard = "+"
	// MultiLevelWildcard matches the remaining levels, including none. It must be the last level of a filter.
	MultiLevelWildcard = "#"
)

// TrimTopic trims TopicSeparator from the start and end of the specified topic.
func TrimTopic(topic string) string {
	return strings.Trim(topic, TopicSeparator)
}

// JoinTopic joins the non-empty parts with TopicSeparator after trimming each one.
func JoinTopic(parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := TrimTopic(part); trimmed != "" {
			kept = append(kept, trimmed)
		}
	}

	return strings.Join(kept, TopicSeparator)
}

// MatchTopic reports whether topic is matched by the subscription filter. Topics starting with '$' are only matched
// by filters that name their first level explicitly.
func MatchTopic(filter, topic string) bool {
	if filter == topic {
		return true
	}

	f := strings.Split(filter, TopicSeparator)
	t := strings.Split(topic, TopicSeparator)

	if strings.HasPrefix(topic, "$") && (f[0] == SingleLevelWildcard || f[0] == MultiLevelWildcard) {
		return false
	}

	for i, level := range f {
		if level == MultiLevelWildcard {
			return i == len(f)-1
		}

		if i >= len(t) {
			return false
		}

		if level != SingleLevelWildcard && level != t[i] {
			return false
		}
	}

	return len(f) == len(t)
}
