package domain

import "time"

// DeliveryStatus 訊息送達狀態, 只能前進 sent -> delivered -> read
type DeliveryStatus string

const (
	// StatusSent local optimistic state after a send intent
	StatusSent DeliveryStatus = "sent"
	// StatusDelivered server acknowledged or peer received
	StatusDelivered DeliveryStatus = "delivered"
	// StatusRead read by the receiver
	StatusRead DeliveryStatus = "read"
)

func (s DeliveryStatus) rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

// Valid known status
func (s DeliveryStatus) Valid() bool {
	return s.rank() > 0
}

// Advance return the later of s and next, never regressing
func (s DeliveryStatus) Advance(next DeliveryStatus) DeliveryStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// Message 一則一對一聊天訊息
type Message struct {
	ID           int64          `json:"id"`
	SenderID     string         `json:"senderId"`
	ReceiverID   string         `json:"receiverId"`
	Body         string         `json:"message"`
	SenderRole   string         `json:"senderRole"`
	SenderName   string         `json:"senderName"`
	ReceiverRole string         `json:"receiverRole"`
	AssignmentID *int64         `json:"assignmentId,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	IsRead       bool           `json:"isRead"`
	Status       DeliveryStatus `json:"status,omitempty"`
	// ClientRef 樂觀送出時的本地參照, 不上線
	ClientRef string `json:"-"`
}

// SetStatus advance status monotonically and keep IsRead in sync, reports whether it changed
func (m *Message) SetStatus(next DeliveryStatus) bool {
	advanced := m.Status.Advance(next)
	if advanced == m.Status {
		return false
	}
	m.Status = advanced
	m.IsRead = advanced == StatusRead
	return true
}

// Normalize derive status for a server record: read if flagged read, otherwise at least delivered
func (m *Message) Normalize() {
	if m.IsRead {
		m.Status = StatusRead
		return
	}
	m.Status = m.Status.Advance(StatusDelivered)
	m.IsRead = m.Status == StatusRead
}

// Optimistic 尚未被伺服器確認的本地訊息
func (m *Message) Optimistic() bool {
	return m.ID < 0
}

// Involves message has userID as one endpoint
func (m *Message) Involves(userID string) bool {
	return m.SenderID == userID || m.ReceiverID == userID
}

// Counterpart the endpoint that is not localID
func (m *Message) Counterpart(localID string) string {
	if m.SenderID == localID {
		return m.ReceiverID
	}
	return m.SenderID
}

// Clone deep copy (AssignmentID pointer included)
func (m Message) Clone() Message {
	if m.AssignmentID != nil {
		id := *m.AssignmentID
		m.AssignmentID = &id
	}
	return m
}
