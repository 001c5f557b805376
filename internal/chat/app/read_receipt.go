package app

import (
	"fmt"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/scheduler"

	"go.uber.org/zap"
)

const autoReadRoot = "autoread:"

func autoReadPrefix(counterpartID string) string {
	return autoReadRoot + counterpartID + ":"
}

func autoReadKey(counterpartID string, messageID int64) string {
	return fmt.Sprintf("%s%d", autoReadPrefix(counterpartID), messageID)
}

// ReadReceiptPipeline drives messages through sent -> delivered -> read and
// emits read acknowledgements. Auto-read timers are keyed by counterpart and
// message id so a conversation switch can cancel exactly its own timers.
type ReadReceiptPipeline struct {
	store   *MessageStore
	sched   scheduler.Scheduler
	out     emitter
	wrap    guard
	delay   time.Duration
	localID string
}

// NewReadReceiptPipeline create ReadReceiptPipeline
func NewReadReceiptPipeline(store *MessageStore, sched scheduler.Scheduler, out emitter, delay time.Duration, wrap guard) *ReadReceiptPipeline {
	if wrap == nil {
		wrap = unguarded
	}
	return &ReadReceiptPipeline{
		store: store,
		sched: sched,
		out:   out,
		wrap:  wrap,
		delay: delay,
	}
}

// SetLocal bind the local user id
func (r *ReadReceiptPipeline) SetLocal(userID string) {
	r.localID = userID
}

// OnIncoming arm an auto-read timer when m is addressed to the local user from
// the open conversation. Returns true when a timer was armed.
func (r *ReadReceiptPipeline) OnIncoming(m domain.Message, activeCounterpart string) bool {
	if activeCounterpart == "" || m.IsRead || m.ReceiverID != r.localID || m.SenderID != activeCounterpart {
		return false
	}
	counterpart, id := m.SenderID, m.ID
	r.sched.Schedule(autoReadKey(counterpart, id), r.delay, r.wrap(func() {
		r.autoRead(counterpart, id)
	}))
	return true
}

func (r *ReadReceiptPipeline) autoRead(counterpartID string, messageID int64) {
	// 同一對話其他待觸發的 timer 已無意義
	r.sched.CancelPrefix(autoReadPrefix(counterpartID))

	changed := r.store.MarkReadForCounterpart(r.localID, counterpartID)
	if err := r.out.Emit(domain.MarkAsRead, domain.MarkAsReadPayload{ConversationUserID: counterpartID}); err != nil {
		logger.Log.Warn("auto-read acknowledgement not sent",
			zap.String("counterpartID", counterpartID),
			zap.Int64("messageID", messageID),
			zap.Error(err))
		return
	}
	logger.Log.Debug("auto-read", zap.String("counterpartID", counterpartID), zap.Int("changed", len(changed)))
}

// MarkAsRead flip every unread message from counterpart to read immediately and
// notify the server once. Local state converges even when the emission fails.
func (r *ReadReceiptPipeline) MarkAsRead(counterpartID string) ([]int64, error) {
	r.sched.CancelPrefix(autoReadPrefix(counterpartID))
	changed := r.store.MarkReadForCounterpart(r.localID, counterpartID)
	err := r.out.Emit(domain.MarkAsRead, domain.MarkAsReadPayload{ConversationUserID: counterpartID})
	return changed, err
}

// Confirm reconcile a message_sent confirmation, at least delivered
func (r *ReadReceiptPipeline) Confirm(m domain.Message) bool {
	m.Normalize()
	return r.store.AppendOwnConfirmed(m)
}

// OnDelivered message_delivered
func (r *ReadReceiptPipeline) OnDelivered(messageID int64) bool {
	return r.store.UpdateStatus(messageID, domain.StatusDelivered)
}

// OnRead message_read, also drops a pending auto-read timer for that message
func (r *ReadReceiptPipeline) OnRead(messageID int64) bool {
	if m, ok := r.store.Get(messageID); ok && m.ReceiverID == r.localID {
		r.sched.Cancel(autoReadKey(m.SenderID, messageID))
	}
	return r.store.UpdateStatus(messageID, domain.StatusRead)
}

// CancelCounterpart drop pending auto-read timers of one conversation
func (r *ReadReceiptPipeline) CancelCounterpart(counterpartID string) int {
	return r.sched.CancelPrefix(autoReadPrefix(counterpartID))
}

// CancelAll drop every pending auto-read timer
func (r *ReadReceiptPipeline) CancelAll() int {
	return r.sched.CancelPrefix(autoReadRoot)
}
