package app

import (
	"sort"

	"chat_sync_service/internal/chat/domain"
)

// PresenceView read side of presence used during aggregation
type PresenceView interface {
	Get(userID string) (domain.OnlineUser, bool)
}

// Aggregate 依對象分組, 每個對象一個 Conversation.
//
// Only messages involving localID count. The last message is the one with the
// latest timestamp (on equal timestamps the later one in msgs wins). Output is
// sorted by timestamp descending; conversations with equal timestamps keep the
// order in which their counterpart first appears in msgs, and callers must not
// rely on that order. A counterpart known only through presence never appears.
// Cost is O(len(msgs)) per call.
func Aggregate(localID string, msgs []domain.Message, presence PresenceView) []domain.Conversation {
	byUser := make(map[string]*domain.Conversation)
	var order []string

	for _, m := range msgs {
		if !m.Involves(localID) {
			continue
		}
		other := m.Counterpart(localID)

		conv, ok := byUser[other]
		if !ok {
			conv = &domain.Conversation{UserID: other}
			byUser[other] = conv
			order = append(order, other)
		}

		if conv.LastTimestamp.IsZero() || !m.Timestamp.Before(conv.LastTimestamp) {
			conv.LastMessage = m.Body
			conv.LastTimestamp = m.Timestamp
		}
		if m.ReceiverID == localID && m.SenderID == other && !m.IsRead {
			conv.UnreadCount++
		}
		if m.SenderID == other {
			if conv.Username == "" {
				conv.Username = m.SenderName
			}
			if m.SenderRole != "" {
				conv.Role = m.SenderRole
			}
		} else if conv.Role == "" {
			conv.Role = m.ReceiverRole
		}
	}

	out := make([]domain.Conversation, 0, len(order))
	for _, id := range order {
		conv := byUser[id]
		if presence != nil {
			if u, ok := presence.Get(id); ok {
				conv.IsOnline = u.IsOnline
				if u.Username != "" {
					conv.Username = u.Username
				}
				if conv.Role == "" {
					conv.Role = u.Role
				}
			}
		}
		if conv.Username == "" {
			conv.Username = id
		}
		out = append(out, *conv)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastTimestamp.After(out[j].LastTimestamp)
	})
	return out
}

// ConversationAggregator cache of the last Aggregate result
type ConversationAggregator struct {
	localID string
	view    []domain.Conversation
}

// NewConversationAggregator create ConversationAggregator
func NewConversationAggregator() *ConversationAggregator {
	return &ConversationAggregator{}
}

// SetLocal bind the local user id and drop the cached view
func (a *ConversationAggregator) SetLocal(userID string) {
	a.localID = userID
	a.view = nil
}

// Recompute full recompute from the message list and presence
func (a *ConversationAggregator) Recompute(msgs []domain.Message, presence PresenceView) []domain.Conversation {
	if a.localID == "" {
		a.view = nil
		return nil
	}
	a.view = Aggregate(a.localID, msgs, presence)
	return a.View()
}

// View copy of the cached conversations
func (a *ConversationAggregator) View() []domain.Conversation {
	out := make([]domain.Conversation, len(a.view))
	copy(out, a.view)
	return out
}

// Unread total unread across conversations
func (a *ConversationAggregator) Unread() int {
	n := 0
	for _, c := range a.view {
		n += c.UnreadCount
	}
	return n
}
