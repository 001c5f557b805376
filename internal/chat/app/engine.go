package app

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/repository"
	"chat_sync_service/internal/chat/transport"
	"chat_sync_service/pkg"
	"chat_sync_service/pkg/config"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/metrics"
	"chat_sync_service/pkg/scheduler"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	publishTimeout = 2 * time.Second
	publishBuffer  = 16
)

// SendRequest 送出訊息的 intent, ReceiverID 空白時送給目前開啟的對話
type SendRequest struct {
	ReceiverID   string
	ReceiverRole string
	Body         string
	AssignmentID *int64
}

// Option configure Engine
type Option func(*Engine)

// WithConfig dial target, reconnect policy and timers
func WithConfig(cfg config.Client) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithMetrics record engine metrics
func WithMetrics(m *metrics.Engine) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithPublisher push snapshots to p from a background goroutine. Versions
// reach p in increasing order; a slow p may skip intermediate ones.
func WithPublisher(p repository.ViewPublisher) Option {
	return func(e *Engine) { e.publisher = p }
}

// Engine 一個登入身份的同步引擎: 收到的 channel event 經由 dispatch 套用到
// presence / store / typing, 使用者 intent 經由 ConnectionManager 送出.
//
// Every handler, timer callback and intent runs under mu, one at a time.
// Handlers and timers are bound to the session that created them; Login and
// Logout start a new session so late callbacks of the old one do nothing.
type Engine struct {
	mu        sync.Mutex
	cfg       config.Client
	sched     scheduler.Scheduler
	metrics   *metrics.Engine
	publisher repository.ViewPublisher
	conn      *ConnectionManager

	presence *PresenceTracker
	store    *MessageStore
	typing   *TypingTracker
	receipts *ReadReceiptPipeline
	convs    *ConversationAggregator

	identity  domain.Identity
	session   uint64
	active    string
	connected bool
	down      bool
	lastError string
	version   uint64

	subs    map[int]func(domain.Snapshot)
	nextSub int

	pubCh     chan domain.Snapshot
	done      chan struct{}
	closeOnce sync.Once
}

// NewEngine create Engine, nothing is dialed until Login
func NewEngine(dialer transport.Dialer, sched scheduler.Scheduler, opts ...Option) *Engine {
	e := &Engine{
		cfg:   config.DefaultClient(),
		sched: sched,
		subs:  make(map[int]func(domain.Snapshot)),
		done:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.publisher != nil {
		e.pubCh = make(chan domain.Snapshot, publishBuffer)
		go e.publishLoop()
	}

	header := http.Header{}
	if e.cfg.Server.Token != "" {
		header.Set("Authorization", "Bearer "+e.cfg.Server.Token)
	}
	e.conn = NewConnectionManager(dialer, sched, ConnectionOptions{
		URL:         e.cfg.Server.URL,
		Header:      header,
		DialTimeout: e.cfg.Server.DialTimeout,
		MaxAttempts: e.cfg.Reconnect.MaxAttempts,
		BaseDelay:   e.cfg.Reconnect.BaseDelay,
		MaxDelay:    e.cfg.Reconnect.MaxDelay,
		StableAfter: e.cfg.Reconnect.StableAfter,
	}, e.metrics)

	e.presence = NewPresenceTracker(sched.Now)
	e.store = NewMessageStore()
	e.typing = NewTypingTracker(sched, e.conn, e.cfg.Timers.TypingIdle, e.guarded)
	e.receipts = NewReadReceiptPipeline(e.store, sched, e.conn, e.cfg.Timers.AutoReadDelay, e.guarded)
	e.convs = NewConversationAggregator()
	return e
}

// guarded wraps a timer callback of the current session. Must be called with mu held.
func (e *Engine) guarded(fn func()) func() {
	session := e.session
	return func() {
		e.mu.Lock()
		if session != e.session {
			e.mu.Unlock()
			return
		}
		fn()
		snap, subs := e.commitLocked()
		e.mu.Unlock()
		e.notify(snap, subs)
	}
}

// update run fn under mu and notify subscribers afterwards
func (e *Engine) update(fn func() error) error {
	e.mu.Lock()
	err := fn()
	snap, subs := e.commitLocked()
	e.mu.Unlock()
	e.notify(snap, subs)
	return err
}

func (e *Engine) commitLocked() (domain.Snapshot, []func(domain.Snapshot)) {
	e.version++
	e.convs.Recompute(e.store.Messages(), e.presence)
	e.metrics.SetConversations(len(e.convs.view))

	subs := make([]func(domain.Snapshot), 0, len(e.subs))
	for _, fn := range e.subs {
		subs = append(subs, fn)
	}
	return e.snapshotLocked(), subs
}

func (e *Engine) notify(snap domain.Snapshot, subs []func(domain.Snapshot)) {
	for _, fn := range subs {
		fn(snap)
	}
	if e.pubCh == nil {
		return
	}
	select {
	case e.pubCh <- snap:
	default:
		// 佇列滿了, 丟掉最舊的一份
		select {
		case <-e.pubCh:
		default:
		}
		select {
		case e.pubCh <- snap:
		default:
		}
	}
}

// publishLoop 唯一呼叫 publisher 的 goroutine, 版本不比上次新的快照直接略過
func (e *Engine) publishLoop() {
	var last uint64
	for {
		select {
		case <-e.done:
			return
		case snap := <-e.pubCh:
			if snap.Version <= last {
				continue
			}
			last = snap.Version
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := e.publisher.Publish(ctx, snap)
			cancel()
			if err != nil {
				logger.Log.Warn("publish snapshot", zap.Uint64("version", snap.Version), zap.Error(err))
			}
		}
	}
}

func (e *Engine) snapshotLocked() domain.Snapshot {
	return domain.Snapshot{
		Version:       e.version,
		Identity:      e.identity,
		Connected:     e.connected,
		Down:          e.down,
		Active:        e.active,
		LastError:     e.lastError,
		Messages:      e.store.Messages(),
		Conversations: e.convs.View(),
		Online:        e.presence.Snapshot(),
		Typing:        e.typing.Remote(),
		Unread:        e.convs.Unread(),
	}
}

func (e *Engine) handlersFor(session uint64) ConnectionEvents {
	return ConnectionEvents{
		OnOpen:      func() { e.onOpen(session) },
		OnEnvelope:  func(env domain.Envelope) { e.dispatch(session, env) },
		OnClose:     func(err error) { e.onClose(session, err) },
		OnExhausted: func(err error) { e.onExhausted(session, err) },
	}
}

// inSession run fn under mu only while session is current
func (e *Engine) inSession(session uint64, fn func()) {
	e.mu.Lock()
	if session != e.session {
		e.mu.Unlock()
		return
	}
	fn()
	snap, subs := e.commitLocked()
	e.mu.Unlock()
	e.notify(snap, subs)
}

// onOpen 每次 (重新) 連線: 舊狀態不可信, 清空後重新抓歷史
func (e *Engine) onOpen(session uint64) {
	e.inSession(session, func() {
		e.connected = true
		e.down = false
		e.lastError = ""

		localID := e.identity.UserID
		refetch := e.store.Counterparts(localID)
		if e.active != "" {
			refetch = pkg.AppendUnique(refetch, e.active)
		}

		e.receipts.CancelAll()
		e.typing.CancelLocal()
		e.typing.ResetRemote()
		e.presence.Reset()
		e.store.Clear()

		for _, c := range refetch {
			if c == e.active {
				if err := e.conn.Emit(domain.MarkAsRead, domain.MarkAsReadPayload{ConversationUserID: c}); err != nil {
					logger.Log.Warn("mark active conversation read", zap.String("counterpartID", c), zap.Error(err))
				}
			}
			if err := e.requestHistoryLocked(c); err != nil {
				logger.Log.Warn("refetch history", zap.String("counterpartID", c), zap.Error(err))
			}
		}
		logger.Log.Info("chat session ready", zap.String("userID", localID), zap.Int("refetch", len(refetch)))
	})
}

func (e *Engine) onClose(session uint64, err error) {
	e.inSession(session, func() {
		e.connected = false
		e.receipts.CancelAll()
		e.typing.CancelLocal()
	})
}

func (e *Engine) onExhausted(session uint64, err error) {
	e.inSession(session, func() {
		e.connected = false
		e.down = true
		e.lastError = err.Error()
		e.receipts.CancelAll()
		e.typing.CancelLocal()
	})
}

// dispatch decode one inbound frame into the closed event set and apply it
func (e *Engine) dispatch(session uint64, env domain.Envelope) {
	e.inSession(session, func() {
		ev, err := domain.DecodeEvent(env)
		if err != nil {
			reason := "malformed_payload"
			if errors.Is(err, domain.ErrUnknownEvent) {
				reason = "unknown_event"
			}
			e.metrics.Dropped(reason)
			logger.Log.Warn("drop inbound event", zap.String("event", string(env.Event)), zap.Error(err))
			return
		}
		e.metrics.Inbound(string(ev.Name()))
		e.apply(ev)
	})
}

func (e *Engine) apply(ev domain.Event) {
	switch ev := ev.(type) {
	case domain.OnlineUsersEvent:
		e.presence.ApplySnapshot(ev.Users)
		e.droppedEntries(ev.Name(), ev.Skipped)
	case domain.UserOnlineEvent:
		e.presence.ApplyOnline(ev.User)
	case domain.UserOfflineEvent:
		e.presence.ApplyOffline(ev.User)
	case domain.ReceiveMessageEvent:
		if !e.store.AppendIncoming(ev.Message) {
			logger.Log.Debug("duplicate message", zap.Int64("messageID", ev.Message.ID))
			return
		}
		e.receipts.OnIncoming(ev.Message, e.active)
	case domain.MessageSentEvent:
		e.receipts.Confirm(ev.Message)
	case domain.ChatHistoryEvent:
		added := e.store.MergeHistory(ev.Messages)
		e.droppedEntries(ev.Name(), ev.Skipped)
		logger.Log.Debug("history merged", zap.Int("received", len(ev.Messages)), zap.Int("added", added))
	case domain.MessageDeliveredEvent:
		e.receipts.OnDelivered(ev.MessageID)
	case domain.MessageReadEvent:
		e.receipts.OnRead(ev.MessageID)
	case domain.UserTypingEvent:
		e.typing.ApplyRemote(ev.UserID, ev.Username, ev.IsTyping)
	case domain.ErrorEvent:
		e.lastError = ev.Message
		logger.Log.Warn("chat server error", zap.String("userID", e.identity.UserID), zap.String("message", ev.Message))
	}
}

func (e *Engine) droppedEntries(event domain.Action, n int) {
	if n == 0 {
		return
	}
	for i := 0; i < n; i++ {
		e.metrics.Dropped("invalid_entry")
	}
	logger.Log.Warn("skip invalid entries", zap.String("event", string(event)), zap.Int("skipped", n))
}

// teardownLocked 取消所有 timer, 關閉 channel, 清空狀態
func (e *Engine) teardownLocked() {
	e.session++
	e.typing.StopLocal()
	e.receipts.CancelAll()
	e.conn.Disconnect()

	e.typing.ResetRemote()
	e.presence.Reset()
	e.store.Clear()
	e.identity = domain.Identity{}
	e.active = ""
	e.connected = false
	e.down = false
	e.lastError = ""
	e.receipts.SetLocal("")
	e.convs.SetLocal("")
}

// Login bind identity and connect. Logging in again with the same identity is
// a no-op, or a retry when the connection is down; a different identity tears
// the previous one down first.
func (e *Engine) Login(identity domain.Identity) error {
	if !identity.Valid() {
		return domain.ErrInvalidIdentity
	}
	return e.update(func() error {
		if e.identity == identity {
			if e.down {
				return e.retryLocked()
			}
			return nil
		}

		e.teardownLocked()
		e.identity = identity
		e.receipts.SetLocal(identity.UserID)
		e.convs.SetLocal(identity.UserID)
		logger.Log.Info("chat login", zap.String("userID", identity.UserID), zap.String("role", identity.Role))
		return e.conn.Connect(identity, e.handlersFor(e.session))
	})
}

// Logout tear down the current identity, idempotent
func (e *Engine) Logout() {
	_ = e.update(func() error {
		if !e.identity.Valid() {
			return nil
		}
		logger.Log.Info("chat logout", zap.String("userID", e.identity.UserID))
		e.teardownLocked()
		return nil
	})
}

// Close logout and stop the publisher goroutine, snapshots are no longer published afterwards
func (e *Engine) Close() {
	e.Logout()
	e.closeOnce.Do(func() { close(e.done) })
}

// Retry start a fresh connection cycle after the retry cap was reached
func (e *Engine) Retry() error {
	return e.update(e.retryLocked)
}

func (e *Engine) retryLocked() error {
	if !e.identity.Valid() {
		return domain.ErrNoIdentity
	}
	if e.connected {
		return nil
	}
	e.down = false
	return e.conn.Connect(e.identity, e.handlersFor(e.session))
}

// OpenConversation make counterpart the active conversation: pending timers of
// the previous one are cancelled, its thread is reloaded from the server and
// marked read. The read acknowledgement is sent before the history request.
func (e *Engine) OpenConversation(counterpartID string) error {
	if counterpartID == "" {
		return domain.ErrNoActiveConversation
	}
	return e.update(func() error {
		if !e.identity.Valid() {
			return domain.ErrNoIdentity
		}
		e.receipts.CancelAll()
		e.typing.StopLocal()
		e.typing.ResetRemote()
		e.active = counterpartID

		// 本地立即已讀; 斷線時 mark_as_read 與歷史會在重新連線後補上
		_, err := e.receipts.MarkAsRead(counterpartID)
		if !e.connected {
			return nil
		}
		if err != nil {
			return err
		}
		return e.requestHistoryLocked(counterpartID)
	})
}

// CloseConversation leave the active conversation
func (e *Engine) CloseConversation() {
	_ = e.update(func() error {
		if e.active == "" {
			return nil
		}
		e.receipts.CancelAll()
		e.typing.StopLocal()
		e.typing.ClearRemote(e.active)
		e.active = ""
		return nil
	})
}

// Send emit send_message and record the optimistic copy. While disconnected
// the request is refused with domain.ErrNotConnected and nothing changes.
func (e *Engine) Send(req SendRequest) (domain.Message, error) {
	var sent domain.Message
	err := e.update(func() error {
		if !e.identity.Valid() {
			return domain.ErrNoIdentity
		}
		if strings.TrimSpace(req.Body) == "" {
			return domain.ErrEmptyMessage
		}
		receiverID := req.ReceiverID
		if receiverID == "" {
			receiverID = e.active
		}
		if receiverID == "" {
			return domain.ErrNoActiveConversation
		}
		if !e.connected {
			e.metrics.Rejected()
			return domain.ErrNotConnected
		}

		err := e.conn.Emit(domain.SendMessage, domain.SendMessagePayload{
			SenderID:     e.identity.UserID,
			ReceiverID:   receiverID,
			Message:      req.Body,
			SenderRole:   e.identity.Role,
			ReceiverRole: req.ReceiverRole,
			AssignmentID: req.AssignmentID,
		})
		if err != nil {
			return err
		}

		sent = e.store.AppendOptimistic(domain.Message{
			SenderID:     e.identity.UserID,
			ReceiverID:   receiverID,
			Body:         req.Body,
			SenderRole:   e.identity.Role,
			SenderName:   e.identity.Username,
			ReceiverRole: req.ReceiverRole,
			AssignmentID: req.AssignmentID,
			Timestamp:    e.sched.Now(),
			ClientRef:    uuid.NewString(),
		})
		e.typing.StopLocal()
		return nil
	})
	return sent, err
}

// MarkAsRead flip every unread message from counterpart ("" = active) to read
// and acknowledge once. Local state converges even when the channel is down.
func (e *Engine) MarkAsRead(counterpartID string) error {
	return e.update(func() error {
		if !e.identity.Valid() {
			return domain.ErrNoIdentity
		}
		if counterpartID == "" {
			counterpartID = e.active
		}
		if counterpartID == "" {
			return domain.ErrNoActiveConversation
		}
		_, err := e.receipts.MarkAsRead(counterpartID)
		return err
	})
}

// InputChanged local input changed in the active conversation
func (e *Engine) InputChanged() error {
	return e.update(func() error {
		if !e.identity.Valid() {
			return domain.ErrNoIdentity
		}
		return e.typing.InputChanged(e.active)
	})
}

// StopTyping emit typing_stop now if typing
func (e *Engine) StopTyping() {
	_ = e.update(func() error {
		e.typing.StopLocal()
		return nil
	})
}

// RequestHistory ask the server for the full thread with counterpart
func (e *Engine) RequestHistory(counterpartID string) error {
	return e.update(func() error {
		if !e.identity.Valid() {
			return domain.ErrNoIdentity
		}
		return e.requestHistoryLocked(counterpartID)
	})
}

func (e *Engine) requestHistoryLocked(counterpartID string) error {
	return e.conn.Emit(domain.GetChatHistory, domain.ChatHistoryRequest{
		UserID:      e.identity.UserID,
		OtherUserID: counterpartID,
	})
}

// Snapshot deep copy of the current state
func (e *Engine) Snapshot() domain.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// Conversations current conversation summaries, latest first
func (e *Engine) Conversations() []domain.Conversation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.convs.View()
}

// Thread messages exchanged with counterpart
func (e *Engine) Thread(counterpartID string) []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.store.Thread(e.identity.UserID, counterpartID)
}

// Connected channel open for the current identity
func (e *Engine) Connected() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.connected
}

// IsOnline presence of userID
func (e *Engine) IsOnline(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.presence.IsOnline(userID)
}

// IsTyping remote typing indicator of userID
func (e *Engine) IsTyping(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.typing.IsTyping(userID)
}

// ConnectionState lifecycle state of the channel
func (e *Engine) ConnectionState() ConnState {
	return e.conn.State()
}

// Subscribe register fn for every new snapshot, returns unsubscribe
func (e *Engine) Subscribe(fn func(domain.Snapshot)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs, id)
	}
}
