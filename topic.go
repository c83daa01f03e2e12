package coremqtt

import (
	"fmt"
	"strings"
)

const (
	topicSeparator      = '/'
	singleLevelWildcard = "+"
	multiLevelWildcard  = "#"
)

// ValidateTopicFilter checks the wildcard rules of a topic filter: '+'
// must occupy a whole level and '#' must occupy the last level.
// MQTT v3.1.1 spec: Section 4.7.1
//
// The engine only rejects empty and malformed UTF-8 filters; brokers enforce
// the wildcard rules. Call this before Subscribe to fail early.
func ValidateTopicFilter(filter string) error {
	if err := validateTopicFilter(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, string(topicSeparator))

	for i, level := range levels {
		if strings.Contains(level, singleLevelWildcard) && level != singleLevelWildcard {
			return badParameter("topic filter %q: '+' must occupy an entire level", filter)
		}

		if strings.Contains(level, multiLevelWildcard) {
			if level != multiLevelWildcard || i != len(levels)-1 {
				return badParameter("topic filter %q: '#' must be the last level", filter)
			}
		}
	}

	return nil
}

// ValidateTopicName checks that topic can be published to.
func ValidateTopicName(topic string) error {
	return validateTopicName(topic)
}

// TopicMatch checks if a topic name matches a topic filter.
// Topics starting with '$' never match a filter starting with a wildcard.
// MQTT v3.1.1 spec: Section 4.7
func TopicMatch(filter, topic string) bool {
	if filter == "" || topic == "" {
		return false
	}

	if topic[0] == '$' && (filter[0] == '+' || filter[0] == '#') {
		return false
	}

	return matchTopic(filter, topic)
}

func matchTopic(filter, topic string) bool {
	filterLevels := SplitTopic(filter)
	topicLevels := SplitTopic(topic)

	for i, level := range filterLevels {
		// "sport/#" also matches "sport".
		if level == multiLevelWildcard {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != singleLevelWildcard && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

// IsSystemTopic returns true if the topic is a broker system topic ($SYS).
func IsSystemTopic(topic string) bool {
	return strings.HasPrefix(topic, "$SYS/") || topic == "$SYS"
}

// SplitTopic returns the levels of a topic name or filter.
func SplitTopic(topic string) []string {
	return strings.Split(topic, string(topicSeparator))
}

// JoinTopic builds a topic from levels, rejecting levels that contain a
// separator.
func JoinTopic(levels ...string) (string, error) {
	for _, level := range levels {
		if strings.ContainsRune(level, topicSeparator) {
			return "", fmt.Errorf("%w: topic level %q contains '/'", ErrBadParameter, level)
		}
	}
	return strings.Join(levels, string(topicSeparator)), nil
}
