package app

import (
	"sort"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/scheduler"

	"go.uber.org/zap"
)

const typingIdleKey = "typing:idle"

// emitter outbound side of the channel
type emitter interface {
	Emit(event domain.Action, payload interface{}) error
}

// guard wraps a timer callback so it runs serialized with the reducer and
// becomes a no-op once the owning session is torn down
type guard func(fn func()) func()

func unguarded(fn func()) func() { return fn }

// TypingTracker 本地輸入中訊號 (idle timer) 與對方輸入中狀態.
// Remote indicators have no timeout: a lost typing_stop leaves the indicator
// set until an explicit stop or a conversation switch clears it.
type TypingTracker struct {
	remote map[string]domain.TypingState
	sched  scheduler.Scheduler
	out    emitter
	wrap   guard
	idle   time.Duration
	target string
}

// NewTypingTracker create TypingTracker
func NewTypingTracker(sched scheduler.Scheduler, out emitter, idle time.Duration, wrap guard) *TypingTracker {
	if wrap == nil {
		wrap = unguarded
	}
	return &TypingTracker{
		remote: make(map[string]domain.TypingState),
		sched:  sched,
		out:    out,
		wrap:   wrap,
		idle:   idle,
	}
}

// InputChanged emit typing_start to counterpart and re-arm the idle timer
func (t *TypingTracker) InputChanged(counterpartID string) error {
	if counterpartID == "" {
		return domain.ErrNoActiveConversation
	}
	if t.target != "" && t.target != counterpartID {
		t.StopLocal()
	}
	if err := t.out.Emit(domain.TypingStart, domain.TypingPayload{ReceiverID: counterpartID}); err != nil {
		return err
	}
	t.target = counterpartID
	t.sched.Schedule(typingIdleKey, t.idle, t.wrap(t.idleExpired))
	return nil
}

func (t *TypingTracker) idleExpired() {
	if t.target == "" {
		return
	}
	t.emitStop(t.target)
	t.target = ""
}

// StopLocal cancel the idle timer and emit typing_stop if typing
func (t *TypingTracker) StopLocal() {
	t.sched.Cancel(typingIdleKey)
	if t.target == "" {
		return
	}
	t.emitStop(t.target)
	t.target = ""
}

func (t *TypingTracker) emitStop(counterpartID string) {
	if err := t.out.Emit(domain.TypingStop, domain.TypingPayload{ReceiverID: counterpartID}); err != nil {
		logger.Log.Debug("typing_stop not sent", zap.String("receiverID", counterpartID), zap.Error(err))
	}
}

// CancelLocal drop local typing state without emitting (channel already gone)
func (t *TypingTracker) CancelLocal() {
	t.sched.Cancel(typingIdleKey)
	t.target = ""
}

// LocalTarget counterpart the local user is typing to, "" when idle
func (t *TypingTracker) LocalTarget() string {
	return t.target
}

// ApplyRemote set or clear the remote indicator of userID
func (t *TypingTracker) ApplyRemote(userID, username string, isTyping bool) {
	if !isTyping {
		delete(t.remote, userID)
		return
	}
	t.remote[userID] = domain.TypingState{UserID: userID, Username: username, IsTyping: true}
}

// ClearRemote clear the remote indicator of userID
func (t *TypingTracker) ClearRemote(userID string) {
	delete(t.remote, userID)
}

// ResetRemote clear every remote indicator
func (t *TypingTracker) ResetRemote() {
	t.remote = make(map[string]domain.TypingState)
}

// IsTyping remote userID is typing to the local user
func (t *TypingTracker) IsTyping(userID string) bool {
	_, ok := t.remote[userID]
	return ok
}

// Remote copy of the remote indicators, sorted by user id
func (t *TypingTracker) Remote() []domain.TypingState {
	out := make([]domain.TypingState, 0, len(t.remote))
	for _, s := range t.remote {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
