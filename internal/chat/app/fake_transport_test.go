package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"chat_sync_service/internal/chat/domain"
	"chat_sync_service/internal/chat/transport"

	"github.com/stretchr/testify/require"
)

var (
	errDial       = errors.New("connection refused")
	errConnClosed = errors.New("use of closed network connection")
)

// fakeConn in-memory transport.Conn, frames pushed by the test are read in order
type fakeConn struct {
	in        chan domain.Envelope
	fail      chan error
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []domain.Envelope
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan domain.Envelope, 64),
		fail:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read() (domain.Envelope, error) {
	select {
	case <-c.closed:
		return domain.Envelope{}, errConnClosed
	default:
	}
	select {
	case env := <-c.in:
		return env, nil
	case err := <-c.fail:
		return domain.Envelope{}, err
	case <-c.closed:
		return domain.Envelope{}, errConnClosed
	}
}

func (c *fakeConn) Write(env domain.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.written = append(c.written, env)
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// push queue an inbound frame
func (c *fakeConn) push(t *testing.T, event domain.Action, payload interface{}) {
	t.Helper()
	env, err := domain.NewEnvelope(event, payload)
	require.NoError(t, err)
	c.in <- env
}

// drop make the next Read fail like a lost connection
func (c *fakeConn) drop(err error) {
	c.fail <- err
}

// events names of every written frame, in order
func (c *fakeConn) events() []domain.Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Action, len(c.written))
	for i, env := range c.written {
		out[i] = env.Event
	}
	return out
}

// sent decoded payloads of every written frame named event
func (c *fakeConn) sent(t *testing.T, event domain.Action, v interface{}) int {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, env := range c.written {
		if env.Event != event {
			continue
		}
		n++
		if v != nil {
			require.NoError(t, json.Unmarshal(env.Data, v))
		}
	}
	return n
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = nil
}

// fakeDialer hands out fakeConns, or fails while failing is set
type fakeDialer struct {
	mu      sync.Mutex
	failing bool
	dials   int
	headers []http.Header
	ctxs    []context.Context
	conns   []*fakeConn
}

func (d *fakeDialer) Dial(ctx context.Context, url string, header http.Header) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.headers = append(d.headers, header)
	d.ctxs = append(d.ctxs, ctx)
	if d.failing {
		return nil, errDial
	}
	c := newFakeConn()
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) setFailing(v bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failing = v
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) dialContexts() []context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]context.Context(nil), d.ctxs...)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}
