package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/transport"
	"chat_sync_service/pkg/logger"
	"chat_sync_service/pkg/metrics"
	"chat_sync_service/pkg/scheduler"

	"go.uber.org/zap"
)

const reconnectKey = "reconnect"

// ConnState connection lifecycle state
type ConnState int

const (
	// StateIdle no identity bound
	StateIdle ConnState = iota
	// StateConnecting first attempt pending or dialing
	StateConnecting
	// StateConnected channel open and identity announced
	StateConnected
	// StateReconnecting waiting for the next retry
	StateReconnecting
	// StateDown retry cap exhausted, needs an explicit Connect
	StateDown
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDown:
		return "down"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

// ConnectionEvents callbacks registered by the channel owner. They are never
// called while the manager holds its lock, and are cleared by Disconnect.
type ConnectionEvents struct {
	// OnOpen runs after user_join was sent and before any inbound frame is delivered
	OnOpen func()
	// OnEnvelope one inbound frame, in arrival order
	OnEnvelope func(env domain.Envelope)
	// OnClose an established channel dropped, reconnection is scheduled
	OnClose func(err error)
	// OnExhausted the retry cap was reached
	OnExhausted func(err error)
}

// ConnectionOptions dial target and reconnect policy
type ConnectionOptions struct {
	URL         string
	Header      http.Header
	DialTimeout time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// StableAfter a channel dropping sooner than this counts as a failed attempt
	StableAfter time.Duration
}

func (o ConnectionOptions) withDefaults() ConnectionOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = o.BaseDelay
	}
	if o.StableAfter <= 0 {
		o.StableAfter = 10 * time.Second
	}
	return o
}

// ConnectionManager owns the duplex channel of one identity: connect, identify,
// bounded reconnect, teardown.
type ConnectionManager struct {
	mu       sync.Mutex
	dialer   transport.Dialer
	sched    scheduler.Scheduler
	opts     ConnectionOptions
	metrics  *metrics.Engine
	identity domain.Identity
	handlers ConnectionEvents
	conn     transport.Conn
	state    ConnState
	gen      uint64
	attempts int
	// failedBefore attempts failed before the current channel opened
	failedBefore int
	openedAt     time.Time
	cancelDial   context.CancelFunc
}

// NewConnectionManager create ConnectionManager
func NewConnectionManager(dialer transport.Dialer, sched scheduler.Scheduler, opts ConnectionOptions, m *metrics.Engine) *ConnectionManager {
	return &ConnectionManager{
		dialer:  dialer,
		sched:   sched,
		opts:    opts.withDefaults(),
		metrics: m,
	}
}

// Connect bind identity and open its channel. A second call for the same
// identity while connecting or connected is a no-op; a different identity
// replaces the current channel; after exhaustion it starts a fresh retry cycle.
// Dialing runs on the scheduler and never blocks the caller.
func (c *ConnectionManager) Connect(identity domain.Identity, handlers ConnectionEvents) error {
	if !identity.Valid() {
		return domain.ErrInvalidIdentity
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.identity == identity {
		switch c.state {
		case StateConnecting, StateConnected, StateReconnecting:
			return nil
		}
	}

	c.teardownLocked()
	c.identity = identity
	c.handlers = handlers
	c.state = StateConnecting
	gen := c.gen
	c.sched.Schedule(reconnectKey, 0, func() { c.attempt(gen) })
	return nil
}

// Disconnect idempotent teardown: handlers cleared first, pending retry and
// in-flight dial cancelled, transport closed.
func (c *ConnectionManager) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.identity = domain.Identity{}
}

func (c *ConnectionManager) teardownLocked() {
	c.gen++
	c.handlers = ConnectionEvents{}
	c.sched.Cancel(reconnectKey)
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			logger.Log.Debug("close channel", zap.Error(err))
		}
		c.conn = nil
	}
	if c.state == StateConnected {
		c.metrics.SetConnected(false)
	}
	c.state = StateIdle
	c.attempts = 0
	c.failedBefore = 0
}

func (c *ConnectionManager) attempt(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.opts.DialTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.opts.DialTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.cancelDial = cancel
	identity := c.identity
	url, header := c.opts.URL, c.opts.Header.Clone()
	c.mu.Unlock()

	conn, err := c.dialer.Dial(ctx, url, header)
	if err == nil {
		err = announce(conn, identity)
		if err != nil {
			_ = conn.Close()
			conn = nil
		}
	}
	cancel()

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		onExhausted := c.failLocked(gen, err)
		c.mu.Unlock()
		if onExhausted != nil {
			onExhausted(err)
		}
		return
	}

	c.conn = conn
	c.failedBefore = c.attempts
	c.attempts = 0
	c.openedAt = c.sched.Now()
	c.state = StateConnected
	c.metrics.SetConnected(true)
	onOpen := c.handlers.OnOpen
	c.mu.Unlock()

	logger.Log.Info("chat channel connected", zap.String("userID", identity.UserID), zap.String("url", url))
	if onOpen != nil {
		onOpen()
	}
	go c.readLoop(gen, conn)
}

func announce(conn transport.Conn, identity domain.Identity) error {
	join, err := domain.NewEnvelope(domain.UserJoin, domain.UserJoinPayload{
		UserID:   identity.UserID,
		Username: identity.Username,
		Role:     identity.Role,
		Email:    identity.Email,
	})
	if err != nil {
		return err
	}
	if err := conn.Write(join); err != nil {
		return fmt.Errorf("user_join: %w", err)
	}
	return nil
}

// failLocked count a failed attempt and schedule the next one, returns the
// exhausted handler when the cap was reached
func (c *ConnectionManager) failLocked(gen uint64, err error) func(error) {
	c.attempts++
	c.metrics.AttemptFailed()

	if c.attempts >= c.opts.MaxAttempts {
		c.state = StateDown
		logger.Log.Error("chat channel down, retry cap reached",
			zap.String("userID", c.identity.UserID),
			zap.Int("attempt", c.attempts),
			zap.Error(err))
		return c.handlers.OnExhausted
	}

	c.state = StateReconnecting
	delay := c.backoff(c.attempts)
	c.sched.Schedule(reconnectKey, delay, func() { c.attempt(gen) })
	logger.Log.Warn("chat channel connect failed",
		zap.String("userID", c.identity.UserID),
		zap.Int("attempt", c.attempts),
		zap.Duration("retryIn", delay),
		zap.Error(err))
	return nil
}

// backoff BaseDelay * 2^(n-1), capped at MaxDelay
func (c *ConnectionManager) backoff(n int) time.Duration {
	d := c.opts.BaseDelay
	for i := 1; i < n && d < c.opts.MaxDelay; i++ {
		d *= 2
	}
	if d > c.opts.MaxDelay {
		d = c.opts.MaxDelay
	}
	return d
}

func (c *ConnectionManager) readLoop(gen uint64, conn transport.Conn) {
	for {
		env, err := conn.Read()
		if err != nil {
			if errors.Is(err, domain.ErrMalformedPayload) {
				logger.Log.Warn("drop inbound frame", zap.Error(err))
				c.metrics.Dropped("malformed_frame")
				continue
			}
			c.dropped(gen, conn, err)
			return
		}

		c.mu.Lock()
		if gen != c.gen || c.conn != conn {
			c.mu.Unlock()
			return
		}
		onEnvelope := c.handlers.OnEnvelope
		c.mu.Unlock()

		if onEnvelope != nil {
			onEnvelope(env)
		}
	}
}

// dropped an open channel failed. A channel that lived at least StableAfter
// starts a fresh retry cycle; a shorter one counts as one more failed attempt,
// so a server that accepts and then drops every connection still ends Down.
func (c *ConnectionManager) dropped(gen uint64, conn transport.Conn, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		c.mu.Unlock()
		return
	}
	_ = conn.Close()
	c.conn = nil
	c.metrics.SetConnected(false)
	lived := c.sched.Now().Sub(c.openedAt)
	userID := c.identity.UserID

	if lived < c.opts.StableAfter {
		c.attempts = c.failedBefore
		onExhausted := c.failLocked(gen, err)
		down := c.state == StateDown
		onClose := c.handlers.OnClose
		c.mu.Unlock()

		logger.Log.Warn("chat channel dropped right after connecting", zap.String("userID", userID), zap.Duration("lived", lived), zap.Error(err))
		if down {
			if onExhausted != nil {
				onExhausted(err)
			}
			return
		}
		if onClose != nil {
			onClose(err)
		}
		return
	}

	c.attempts = 0
	c.failedBefore = 0
	c.state = StateReconnecting
	delay := c.backoff(1)
	c.sched.Schedule(reconnectKey, delay, func() { c.attempt(gen) })
	onClose := c.handlers.OnClose
	c.mu.Unlock()

	logger.Log.Warn("chat channel dropped", zap.String("userID", userID), zap.Duration("retryIn", delay), zap.Error(err))
	if onClose != nil {
		onClose(err)
	}
}

// Emit write one outbound event. Refused with domain.ErrNotConnected while the
// channel is not open; nothing is queued.
func (c *ConnectionManager) Emit(event domain.Action, payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected || c.conn == nil {
		c.metrics.Rejected()
		return domain.ErrNotConnected
	}
	env, err := domain.NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	if err := c.conn.Write(env); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	c.metrics.Outbound(string(event))
	return nil
}

// Connected channel open
func (c *ConnectionManager) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State current lifecycle state
func (c *ConnectionManager) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts consecutive failed attempts in the current cycle
func (c *ConnectionManager) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}
