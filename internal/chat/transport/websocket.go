// Package transport isolates the websocket library behind the Dialer and Conn
// interfaces used by the connection manager.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"chat_sync_service/internal/chat/domain"

	"github.com/gorilla/websocket"
)

// Conn one open duplex channel carrying Envelope frames.
// Read is called from a single goroutine; Write is safe for concurrent use.
type Conn interface {
	// Read blocks for the next frame. Errors wrapping domain.ErrMalformedPayload
	// mean the frame was dropped and the channel is still usable.
	Read() (domain.Envelope, error)
	Write(env domain.Envelope) error
	Close() error
}

// Dialer opens Conns
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Conn, error)
}

// WebsocketDialer Dialer over gorilla/websocket
type WebsocketDialer struct {
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration
}

// NewWebsocketDialer create WebsocketDialer
func NewWebsocketDialer(writeTimeout time.Duration) *WebsocketDialer {
	return &WebsocketDialer{
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: writeTimeout,
	}
}

// Dial connect to url
func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{conn: conn, writeTimeout: d.WriteTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex // gorilla 只允許一個 writer
	closeOnce    sync.Once
	closeErr     error
}

func (c *wsConn) Read() (domain.Envelope, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		return domain.Envelope{}, err
	}
	if mt != websocket.TextMessage {
		return domain.Envelope{}, fmt.Errorf("%w: frame type %d", domain.ErrMalformedPayload, mt)
	}

	var env domain.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Envelope{}, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	if env.Event == "" {
		return domain.Envelope{}, fmt.Errorf("%w: missing event name", domain.ErrMalformedPayload)
	}
	return env, nil
}

func (c *wsConn) Write(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteJSON(env)
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closing"),
			time.Now().Add(time.Second),
		)
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
