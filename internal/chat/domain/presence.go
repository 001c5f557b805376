package domain

import "time"

// Identity 本地登入身份, 一條 channel 只綁一個 Identity
type Identity struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Email    string `json:"email"`
}

// Valid identity needs a user id
func (i Identity) Valid() bool {
	return i.UserID != ""
}

// OnlineUser presence record, at most one per UserID
type OnlineUser struct {
	UserID   string     `json:"userId"`
	Username string     `json:"username"`
	Role     string     `json:"role"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// Clone deep copy
func (u OnlineUser) Clone() OnlineUser {
	if u.LastSeen != nil {
		ts := *u.LastSeen
		u.LastSeen = &ts
	}
	return u
}

// TypingState remote typing indicator of one counterpart
type TypingState struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	IsTyping bool   `json:"isTyping"`
}

// Conversation 由訊息與上線狀態推導出的對話摘要, 不單獨儲存
type Conversation struct {
	UserID        string    `json:"userId"`
	Username      string    `json:"username"`
	Role          string    `json:"role"`
	LastMessage   string    `json:"lastMessage"`
	LastTimestamp time.Time `json:"lastTimestamp"`
	UnreadCount   int       `json:"unreadCount"`
	IsOnline      bool      `json:"isOnline"`
}
