package domain

// Snapshot read-only copy of the engine state handed to consumers.
// Version increases on every state change; a consumer receiving snapshots from
// several goroutines keeps the highest version.
type Snapshot struct {
	Version       uint64         `json:"version"`
	Identity      Identity       `json:"identity"`
	Connected     bool           `json:"connected"`
	Down          bool           `json:"down"`
	Active        string         `json:"active,omitempty"`
	LastError     string         `json:"lastError,omitempty"`
	Messages      []Message      `json:"messages"`
	Conversations []Conversation `json:"conversations"`
	Online        []OnlineUser   `json:"online"`
	Typing        []TypingState  `json:"typing"`
	Unread        int            `json:"unread"`
}

// Conversation summary for counterpart
func (s Snapshot) Conversation(counterpartID string) (Conversation, bool) {
	for _, c := range s.Conversations {
		if c.UserID == counterpartID {
			return c, true
		}
	}
	return Conversation{}, false
}
