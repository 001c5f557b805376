package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event closed set of inbound channel events, produced only by DecodeEvent
type Event interface {
	Name() Action
	isEvent()
}

// OnlineUsersEvent online_users
type OnlineUsersEvent struct {
	Users   []OnlineUser
	Skipped int
}

// UserOnlineEvent user_online
type UserOnlineEvent struct{ User OnlineUser }

// UserOfflineEvent user_offline
type UserOfflineEvent struct{ User OnlineUser }

// ReceiveMessageEvent receive_message
type ReceiveMessageEvent struct{ Message Message }

// MessageSentEvent message_sent
type MessageSentEvent struct{ Message Message }

// ChatHistoryEvent chat_history
type ChatHistoryEvent struct {
	Messages []Message
	Skipped  int
}

// MessageReadEvent message_read
type MessageReadEvent struct {
	MessageID int64
	ReadAt    *time.Time
}

// MessageDeliveredEvent message_delivered
type MessageDeliveredEvent struct{ MessageID int64 }

// UserTypingEvent user_typing
type UserTypingEvent struct {
	UserID   string
	Username string
	IsTyping bool
}

// ErrorEvent error
type ErrorEvent struct {
	Message string
	Raw     json.RawMessage
}

func (OnlineUsersEvent) Name() Action      { return OnlineUsers }
func (UserOnlineEvent) Name() Action       { return UserOnline }
func (UserOfflineEvent) Name() Action      { return UserOffline }
func (ReceiveMessageEvent) Name() Action   { return ReceiveMessage }
func (MessageSentEvent) Name() Action      { return MessageSent }
func (ChatHistoryEvent) Name() Action      { return ChatHistory }
func (MessageReadEvent) Name() Action      { return MessageRead }
func (MessageDeliveredEvent) Name() Action { return MessageDelivered }
func (UserTypingEvent) Name() Action       { return UserTyping }
func (ErrorEvent) Name() Action            { return ChannelError }

func (OnlineUsersEvent) isEvent()      {}
func (UserOnlineEvent) isEvent()       {}
func (UserOfflineEvent) isEvent()      {}
func (ReceiveMessageEvent) isEvent()   {}
func (MessageSentEvent) isEvent()      {}
func (ChatHistoryEvent) isEvent()      {}
func (MessageReadEvent) isEvent()      {}
func (MessageDeliveredEvent) isEvent() {}
func (UserTypingEvent) isEvent()       {}
func (ErrorEvent) isEvent()            {}

// DecodeEvent 將 Envelope 轉成對應的 Event, 未知事件回傳 ErrUnknownEvent,
// 格式錯誤回傳 ErrMalformedPayload
func DecodeEvent(env Envelope) (Event, error) {
	switch env.Event {
	case OnlineUsers:
		var users []OnlineUser
		if err := decode(env, &users); err != nil {
			return nil, err
		}
		ev := OnlineUsersEvent{Users: make([]OnlineUser, 0, len(users))}
		for _, u := range users {
			if u.UserID == "" {
				ev.Skipped++
				continue
			}
			ev.Users = append(ev.Users, u)
		}
		return ev, nil

	case UserOnline, UserOffline:
		var u OnlineUser
		if err := decode(env, &u); err != nil {
			return nil, err
		}
		if u.UserID == "" {
			return nil, malformed(env.Event, "missing userId")
		}
		if env.Event == UserOnline {
			return UserOnlineEvent{User: u}, nil
		}
		return UserOfflineEvent{User: u}, nil

	case ReceiveMessage, MessageSent:
		var m Message
		if err := decode(env, &m); err != nil {
			return nil, err
		}
		if err := validateMessage(m); err != nil {
			return nil, malformed(env.Event, err.Error())
		}
		if env.Event == ReceiveMessage {
			return ReceiveMessageEvent{Message: m}, nil
		}
		return MessageSentEvent{Message: m}, nil

	case ChatHistory:
		var msgs []Message
		if err := decode(env, &msgs); err != nil {
			return nil, err
		}
		ev := ChatHistoryEvent{Messages: make([]Message, 0, len(msgs))}
		for _, m := range msgs {
			if validateMessage(m) != nil {
				ev.Skipped++
				continue
			}
			ev.Messages = append(ev.Messages, m)
		}
		return ev, nil

	case MessageRead, MessageDelivered:
		var p StatusPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		if p.MessageID <= 0 {
			return nil, malformed(env.Event, "missing messageId")
		}
		if env.Event == MessageRead {
			return MessageReadEvent{MessageID: p.MessageID, ReadAt: p.ReadAt}, nil
		}
		return MessageDeliveredEvent{MessageID: p.MessageID}, nil

	case UserTyping:
		var p UserTypingPayload
		if err := decode(env, &p); err != nil {
			return nil, err
		}
		if p.UserID == "" {
			return nil, malformed(env.Event, "missing userId")
		}
		return UserTypingEvent{UserID: p.UserID, Username: p.Username, IsTyping: p.IsTyping}, nil

	case ChannelError:
		return ErrorEvent{Message: errorText(env.Data), Raw: env.Data}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, env.Event)
}

func decode(env Envelope, v interface{}) error {
	if len(env.Data) == 0 {
		return malformed(env.Event, "empty data")
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedPayload, env.Event, err)
	}
	return nil
}

func malformed(event Action, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedPayload, event, reason)
}

func validateMessage(m Message) error {
	switch {
	case m.ID <= 0:
		return fmt.Errorf("invalid id %d", m.ID)
	case m.SenderID == "" || m.ReceiverID == "":
		return fmt.Errorf("message %d missing endpoint", m.ID)
	}
	return nil
}

// errorText error payload 可能是字串或帶 message 欄位的物件
func errorText(data json.RawMessage) string {
	if len(data) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.Message != "" {
		return obj.Message
	}
	return string(data)
}
