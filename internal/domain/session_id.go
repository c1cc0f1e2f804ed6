package domain

import "time"

// Session-id prefixes. The default conversation gets its own prefix so it
// sorts ahead of user-created sessions in an ascending query over the sort
// key.
const (
	SessionIDPrefix = "Session#"
	IntrosIDPrefix  = "Intros#"
)

// DefaultChatName is the conversation every identity starts with and falls
// back to whenever the conversation map would otherwise be empty.
const DefaultChatName = "Intros"

// NewSessionID allocates the immutable remote handle for a user-created
// conversation.
func NewSessionID(ts time.Time) string {
	return SessionIDPrefix + ts.UTC().Format(time.RFC3339)
}

// NewIntrosID allocates the remote handle for the default conversation.
func NewIntrosID(ts time.Time) string {
	return IntrosIDPrefix + ts.UTC().Format(time.RFC3339)
}
