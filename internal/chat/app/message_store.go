package app

import (
	"sort"

	"chat_sync_service/internal/chat/domain"
)

// MessageStore append/merge store of messages, deduplicated by id.
// Records are only removed by Clear, or when a server record replaces an
// optimistic copy.
type MessageStore struct {
	messages []domain.Message
	index    map[int64]int
	nextTemp int64
}

// NewMessageStore create MessageStore
func NewMessageStore() *MessageStore {
	return &MessageStore{index: make(map[int64]int)}
}

// Clear drop every message
func (s *MessageStore) Clear() {
	s.messages = nil
	s.index = make(map[int64]int)
}

// AppendIncoming append a server record, no-op when the id is already stored
func (s *MessageStore) AppendIncoming(m domain.Message) bool {
	// dedup 必須是第一步
	if _, ok := s.index[m.ID]; ok {
		return false
	}
	m = m.Clone()
	m.Normalize()
	s.append(m)
	return true
}

// AppendOptimistic record a local send before the server confirms it.
// The message gets a provisional negative id and status sent.
func (s *MessageStore) AppendOptimistic(m domain.Message) domain.Message {
	s.nextTemp--
	m = m.Clone()
	m.ID = s.nextTemp
	m.Status = domain.StatusSent
	m.IsRead = false
	s.append(m)
	return m.Clone()
}

// AppendOwnConfirmed reconcile a server-confirmed own message: replace by id,
// else replace the oldest pending optimistic copy, else append. Returns true when
// an existing record was replaced.
func (s *MessageStore) AppendOwnConfirmed(m domain.Message) bool {
	m = m.Clone()
	m.Normalize()

	if i, ok := s.index[m.ID]; ok {
		cur := s.messages[i]
		// 先由其他來源存進來的紀錄, 吸收還掛著的樂觀副本
		if cur.ClientRef == "" {
			if j := s.pendingFor(m); j >= 0 {
				cur = mergeRecord(s.messages[j], cur)
				s.removeAt(j)
				i = s.index[m.ID]
			}
		}
		s.messages[i] = mergeRecord(cur, m)
		return true
	}

	if s.replacePending(m) {
		return true
	}
	s.append(m)
	return false
}

// MergeHistory upsert a history batch and keep the store in timestamp order, returns how many were new.
// An own record matching a pending optimistic copy replaces it.
func (s *MessageStore) MergeHistory(msgs []domain.Message) int {
	added := 0
	for _, m := range msgs {
		m = m.Clone()
		m.Normalize()
		if i, ok := s.index[m.ID]; ok {
			s.messages[i] = mergeRecord(s.messages[i], m)
			continue
		}
		if s.replacePending(m) {
			continue
		}
		s.append(m)
		added++
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Timestamp.Before(s.messages[j].Timestamp)
	})
	s.reindex()
	return added
}

// pendingFor index of the oldest optimistic copy of m, -1 when none
func (s *MessageStore) pendingFor(m domain.Message) int {
	for i, cur := range s.messages {
		if cur.Optimistic() && cur.SenderID == m.SenderID && cur.ReceiverID == m.ReceiverID && cur.Body == m.Body {
			return i
		}
	}
	return -1
}

// replacePending put m in place of its optimistic copy, false when there is none
func (s *MessageStore) replacePending(m domain.Message) bool {
	i := s.pendingFor(m)
	if i < 0 {
		return false
	}
	delete(s.index, s.messages[i].ID)
	s.messages[i] = mergeRecord(s.messages[i], m)
	s.index[m.ID] = i
	return true
}

func (s *MessageStore) removeAt(i int) {
	s.messages = append(s.messages[:i], s.messages[i+1:]...)
	s.reindex()
}

// UpdateStatus advance the status of id, never regressing
func (s *MessageStore) UpdateStatus(id int64, status domain.DeliveryStatus) bool {
	i, ok := s.index[id]
	if !ok {
		return false
	}
	return s.messages[i].SetStatus(status)
}

// MarkReadForCounterpart flip every unread message from counterpart to local to read, returns changed ids
func (s *MessageStore) MarkReadForCounterpart(localID, counterpartID string) []int64 {
	var changed []int64
	for i := range s.messages {
		m := &s.messages[i]
		if m.SenderID != counterpartID || m.ReceiverID != localID {
			continue
		}
		if m.SetStatus(domain.StatusRead) {
			changed = append(changed, m.ID)
		}
	}
	return changed
}

// Get copy of message id
func (s *MessageStore) Get(id int64) (domain.Message, bool) {
	i, ok := s.index[id]
	if !ok {
		return domain.Message{}, false
	}
	return s.messages[i].Clone(), true
}

// Messages copy of every message in store order
func (s *MessageStore) Messages() []domain.Message {
	out := make([]domain.Message, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

// Thread copy of the messages between local and counterpart
func (s *MessageStore) Thread(localID, counterpartID string) []domain.Message {
	var out []domain.Message
	for _, m := range s.messages {
		if m.Involves(localID) && m.Counterpart(localID) == counterpartID {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Counterparts distinct counterparts of local, first-encounter order
func (s *MessageStore) Counterparts(localID string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, m := range s.messages {
		if !m.Involves(localID) {
			continue
		}
		c := m.Counterpart(localID)
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Len number of stored messages
func (s *MessageStore) Len() int {
	return len(s.messages)
}

func (s *MessageStore) append(m domain.Message) {
	s.index[m.ID] = len(s.messages)
	s.messages = append(s.messages, m)
}

func (s *MessageStore) reindex() {
	s.index = make(map[int64]int, len(s.messages))
	for i, m := range s.messages {
		s.index[m.ID] = i
	}
}

// mergeRecord take the incoming fields but never regress the status
func mergeRecord(cur, incoming domain.Message) domain.Message {
	out := incoming
	out.Status = cur.Status.Advance(incoming.Status)
	out.IsRead = out.Status == domain.StatusRead
	if out.ClientRef == "" {
		out.ClientRef = cur.ClientRef
	}
	return out
}
