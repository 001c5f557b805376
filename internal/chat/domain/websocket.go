package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Action websocket event name
type Action string

// outbound actions
const (
	// UserJoin announce identity after connect
	UserJoin Action = "user_join"
	// SendMessage send intent
	SendMessage Action = "send_message"
	// GetChatHistory request full history with a counterpart
	GetChatHistory Action = "get_chat_history"
	// MarkAsRead bulk read acknowledgement
	MarkAsRead Action = "mark_as_read"
	// TypingStart local typing started
	TypingStart Action = "typing_start"
	// TypingStop local typing stopped
	TypingStop Action = "typing_stop"
)

// inbound actions
const (
	// OnlineUsers full presence snapshot
	OnlineUsers Action = "online_users"
	// UserOnline presence delta
	UserOnline Action = "user_online"
	// UserOffline presence delta
	UserOffline Action = "user_offline"
	// ReceiveMessage peer-originated message
	ReceiveMessage Action = "receive_message"
	// MessageSent confirmation of own send
	MessageSent Action = "message_sent"
	// ChatHistory history response
	ChatHistory Action = "chat_history"
	// MessageRead status transition to read
	MessageRead Action = "message_read"
	// MessageDelivered status transition to delivered
	MessageDelivered Action = "message_delivered"
	// UserTyping remote typing delta
	UserTyping Action = "user_typing"
	// ChannelError channel-level failure
	ChannelError Action = "error"
)

// Envelope 每個 websocket text frame 的格式
type Envelope struct {
	Event Action          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshal payload into an Envelope
func NewEnvelope(event Action, payload interface{}) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}

// UserJoinPayload user_join
type UserJoinPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Email    string `json:"email"`
}

// SendMessagePayload send_message
type SendMessagePayload struct {
	SenderID     string `json:"senderId"`
	ReceiverID   string `json:"receiverId"`
	Message      string `json:"message"`
	SenderRole   string `json:"senderRole"`
	ReceiverRole string `json:"receiverRole"`
	AssignmentID *int64 `json:"assignmentId,omitempty"`
}

// ChatHistoryRequest get_chat_history
type ChatHistoryRequest struct {
	UserID      string `json:"userId"`
	OtherUserID string `json:"otherUserId"`
}

// MarkAsReadPayload mark_as_read
type MarkAsReadPayload struct {
	ConversationUserID string `json:"conversationUserId"`
}

// TypingPayload typing_start / typing_stop
type TypingPayload struct {
	ReceiverID string `json:"receiverId"`
}

// StatusPayload message_read / message_delivered
type StatusPayload struct {
	MessageID int64      `json:"messageId"`
	ReadAt    *time.Time `json:"readAt,omitempty"`
}

// UserTypingPayload user_typing
type UserTypingPayload struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}
