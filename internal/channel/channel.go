// Package channel implements the persistent bidirectional session with the
// generation service over a WebSocket.
//
// Inbound binary frames are audio segments; inbound text frames are JSON
// transcript updates. Outbound traffic is one init message followed by
// flow-control tokens. A session is opened once, is never reconnected, and
// reports its end exactly once through the closed handler.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livecast/internal/transcript"
)

// State is the lifecycle state of a [Client].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	defaultDialTimeout  = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second

	// defaultReadLimit accommodates a few minutes of MP3 per frame.
	defaultReadLimit = 32 << 20
)

var (
	// ErrAlreadyOpened is returned by Open on a client that was opened before.
	ErrAlreadyOpened = errors.New("channel: session already opened")

	// ErrNotOpen is returned by Signal when the session is not open.
	ErrNotOpen = errors.New("channel: session not open")
)

// initMessage is the first and only request-shaped message of a session.
type initMessage struct {
	Type     string `json:"type"`
	Topic    string `json:"topic"`
	Duration int    `json:"duration"`
}

// signalMessage is a flow-control token.
type signalMessage struct {
	Type string `json:"type"`
}

// Option is a functional option for configuring a [Client].
type Option func(*Client)

// WithDialTimeout bounds the WebSocket handshake.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithHTTPHeader adds headers to the handshake request.
func WithHTTPHeader(h http.Header) Option {
	return func(c *Client) { c.header = h.Clone() }
}

// WithReadLimit sets the maximum accepted frame size in bytes.
func WithReadLimit(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.readLimit = n
		}
	}
}

// WithLogger sets the logger; the default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// Client owns one session with the generation service. Register handlers
// before calling Open; they are invoked from the reader goroutine in frame
// order.
type Client struct {
	url         string
	dialTimeout time.Duration
	readLimit   int64
	header      http.Header
	log         *slog.Logger

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	onSegment func([]byte)
	onControl func(transcript.Update)
	onClosed  func(error)

	closeOnce sync.Once
	done      chan struct{}
	readDone  chan struct{}
}

// New creates a client for the session endpoint at url. No connection is made
// until Open.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:         url,
		dialTimeout: defaultDialTimeout,
		readLimit:   defaultReadLimit,
		log:         slog.Default(),
		done:        make(chan struct{}),
		readDone:    make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.With("component", "channel")
	return c
}

// OnSegment registers the handler for binary audio frames. The last
// registration wins.
func (c *Client) OnSegment(fn func(data []byte)) {
	c.mu.Lock()
	c.onSegment = fn
	c.mu.Unlock()
}

// OnControl registers the handler for decoded transcript updates. The last
// registration wins.
func (c *Client) OnControl(fn func(u transcript.Update)) {
	c.mu.Lock()
	c.onControl = fn
	c.mu.Unlock()
}

// OnClosed registers the handler invoked once when the session ends. err is
// nil when the server closed the session normally.
func (c *Client) OnClosed(fn func(err error)) {
	c.mu.Lock()
	c.onClosed = fn
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Open dials the endpoint and sends the init message for topic and a target
// duration in minutes. A failed Open leaves the client in StateFailed and
// does not invoke the closed handler.
func (c *Client) Open(ctx context.Context, topic string, duration int) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyOpened
	}
	c.state = StateConnecting
	c.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, c.dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, c.url, &websocket.DialOptions{
		HTTPHeader: c.header,
	})
	if err != nil {
		c.setState(StateFailed)
		return fmt.Errorf("channel: dial: %w", err)
	}
	conn.SetReadLimit(c.readLimit)

	data, err := json.Marshal(initMessage{Type: "init", Topic: topic, Duration: duration})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "marshal init")
		c.setState(StateFailed)
		return fmt.Errorf("channel: marshal init: %w", err)
	}
	if err := conn.Write(dialCtx, websocket.MessageText, data); err != nil {
		conn.Close(websocket.StatusInternalError, "send init")
		c.setState(StateFailed)
		return fmt.Errorf("channel: send init: %w", err)
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "client closed")
		return fmt.Errorf("channel: %w", net.ErrClosed)
	default:
	}
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Info("session open", "url", c.url, "topic", topic, "duration", duration)
	go c.readLoop()
	return nil
}

// Signal sends a flow-control token of the given kind.
func (c *Client) Signal(ctx context.Context, kind string) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if state != StateOpen || conn == nil {
		return ErrNotOpen
	}

	data, err := json.Marshal(signalMessage{Type: kind})
	if err != nil {
		return fmt.Errorf("channel: marshal signal: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, defaultWriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("channel: signal %s: %w", kind, err)
	}
	c.log.Debug("signal sent", "kind", kind)
	return nil
}

// Close tears the session down and waits for the reader to exit. The closed
// handler is not invoked for a locally initiated close. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		if c.state == StateOpen || c.state == StateConnecting || c.state == StateIdle {
			c.state = StateClosed
		}
		c.mu.Unlock()

		if conn == nil {
			return
		}
		if cerr := conn.Close(websocket.StatusNormalClosure, "client closed"); cerr != nil {
			c.log.Debug("close handshake", "err", cerr)
		}
		<-c.readDone
	})
	return nil
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// readLoop demultiplexes frames until the connection ends.
func (c *Client) readLoop() {
	defer close(c.readDone)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		typ, data, err := conn.Read(context.Background())
		if err != nil {
			c.finish(err)
			return
		}

		switch typ {
		case websocket.MessageBinary:
			c.mu.Lock()
			fn := c.onSegment
			c.mu.Unlock()
			if fn != nil {
				fn(data)
			}
		default:
			var u transcript.Update
			if err := json.Unmarshal(data, &u); err != nil {
				c.log.Warn("dropping malformed control frame", "err", err, "bytes", len(data))
				continue
			}
			c.mu.Lock()
			fn := c.onControl
			c.mu.Unlock()
			if fn != nil {
				fn(u)
			}
		}
	}
}

// finish records the end of the session and invokes the closed handler,
// unless Close was called locally.
func (c *Client) finish(readErr error) {
	select {
	case <-c.done:
		c.log.Debug("session closed locally")
		return
	default:
	}

	var err error
	state := StateClosed
	if !isClosedErr(readErr) {
		err = readErr
		state = StateFailed
	}

	c.mu.Lock()
	c.state = state
	fn := c.onClosed
	c.mu.Unlock()

	if err != nil {
		c.log.Error("session failed", "err", err)
	} else {
		c.log.Info("session closed by server")
	}
	if fn != nil {
		fn(err)
	}
}

// isClosedErr reports whether err is a normal end of the session.
func isClosedErr(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
