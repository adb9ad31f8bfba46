package protocol

import (
	"fmt"
	"strings"
)

const (
	inboxPrefix = "agent:"
	inboxSuffix = ":inbox"
	userPrefix  = "user_session:"
)

// InboxTopic returns the agent-directed topic for name.
func InboxTopic(name string) string {
	return fmt.Sprintf("%s%s%s", inboxPrefix, name, inboxSuffix)
}

// UserTopic returns the user-facing topic for a session.
func UserTopic(sessionID string) string {
	return userPrefix + sessionID
}

// IsUserTopic reports whether topic is a user_session topic.
func IsUserTopic(topic string) bool {
	return strings.HasPrefix(topic, userPrefix)
}

// IsInboxTopic reports whether topic is an agent inbox.
func IsInboxTopic(topic string) bool {
	return strings.HasPrefix(topic, inboxPrefix) && strings.HasSuffix(topic, inboxSuffix)
}

// AgentFromInbox extracts the agent name from an inbox topic.
func AgentFromInbox(topic string) (string, bool) {
	if !IsInboxTopic(topic) {
		return "", false
	}
	name := strings.TrimSuffix(strings.TrimPrefix(topic, inboxPrefix), inboxSuffix)
	return name, name != ""
}

// SessionFromTopic extracts the session id from a user_session topic.
func SessionFromTopic(topic string) (string, bool) {
	if !IsUserTopic(topic) {
		return "", false
	}
	id := strings.TrimPrefix(topic, userPrefix)
	return id, id != ""
}
