package domain

// QA is a single question/answer exchange. The answer is empty while the
// inference call is in flight and is filled in exactly once when it resolves.
type QA struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// SessionRecord is the persisted representation of one conversation.
// Identity is the partition key and SessionID the sort key. SessionID is
// allocated once when the conversation is first synced and is immutable
// thereafter; it is the stable remote handle even when display names collide.
type SessionRecord struct {
	Identity  string
	SessionID string
	ChatName  string
	Messages  []QA
}
