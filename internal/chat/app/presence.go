package app

import (
	"sort"
	"time"

	"chat_sync_service/internal/chat/domain"
)

// PresenceTracker 目前上線的對象與最後上線時間.
// Events for the same user are applied in arrival order and the last one wins;
// out-of-order online/offline flaps from the server are not corrected.
type PresenceTracker struct {
	users map[string]*domain.OnlineUser
	now   func() time.Time
}

// NewPresenceTracker create PresenceTracker, now stamps lastSeen
func NewPresenceTracker(now func() time.Time) *PresenceTracker {
	if now == nil {
		now = time.Now
	}
	return &PresenceTracker{
		users: make(map[string]*domain.OnlineUser),
		now:   now,
	}
}

// ApplySnapshot replace the whole online set
func (p *PresenceTracker) ApplySnapshot(users []domain.OnlineUser) {
	p.users = make(map[string]*domain.OnlineUser, len(users))
	for _, u := range users {
		u := u.Clone()
		u.IsOnline = true
		u.LastSeen = nil
		p.users[u.UserID] = &u
	}
}

// ApplyOnline upsert user as online and clear lastSeen
func (p *PresenceTracker) ApplyOnline(user domain.OnlineUser) {
	u := user.Clone()
	u.IsOnline = true
	u.LastSeen = nil
	if cur, ok := p.users[u.UserID]; ok {
		fillBlank(&u, cur)
	}
	p.users[u.UserID] = &u
}

// ApplyOffline mark user offline, lastSeen from payload, else kept, else now
func (p *PresenceTracker) ApplyOffline(user domain.OnlineUser) {
	u := user.Clone()
	u.IsOnline = false
	cur, known := p.users[u.UserID]
	if known {
		fillBlank(&u, cur)
	}
	if u.LastSeen == nil {
		if known && cur.LastSeen != nil {
			ts := *cur.LastSeen
			u.LastSeen = &ts
		} else {
			ts := p.now()
			u.LastSeen = &ts
		}
	}
	p.users[u.UserID] = &u
}

// fillBlank delta 沒帶的名稱與角色沿用舊紀錄
func fillBlank(u *domain.OnlineUser, cur *domain.OnlineUser) {
	if u.Username == "" {
		u.Username = cur.Username
	}
	if u.Role == "" {
		u.Role = cur.Role
	}
}

// IsOnline userID currently online
func (p *PresenceTracker) IsOnline(userID string) bool {
	u, ok := p.users[userID]
	return ok && u.IsOnline
}

// Get copy of the record for userID
func (p *PresenceTracker) Get(userID string) (domain.OnlineUser, bool) {
	u, ok := p.users[userID]
	if !ok {
		return domain.OnlineUser{}, false
	}
	return u.Clone(), true
}

// Snapshot copies of every record, sorted by user id
func (p *PresenceTracker) Snapshot() []domain.OnlineUser {
	out := make([]domain.OnlineUser, 0, len(p.users))
	for _, u := range p.users {
		out = append(out, u.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Reset forget everything
func (p *PresenceTracker) Reset() {
	p.users = make(map[string]*domain.OnlineUser)
}
