// Package mock provides an in-memory session channel for tests.
//
// Channel satisfies the coordinator's channel interface. Tests push inbound
// frames with DeliverSegment, DeliverControl and DeliverClosed, and inspect
// what the client sent via OpenArgs, Signals and IsClosed.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/livecast/internal/transcript"
)

// Channel is a mock session channel. Create it with [New].
type Channel struct {
	mu sync.Mutex

	// OpenError is returned by Open when set.
	OpenError error

	// SignalError is returned by Signal when set.
	SignalError error

	onSegment func([]byte)
	onControl func(transcript.Update)
	onClosed  func(error)

	topic    string
	duration int
	signals  []string
	closed   bool
	opened   chan struct{}
}

// New returns an unopened mock channel.
func New() *Channel {
	return &Channel{opened: make(chan struct{})}
}

// OnSegment records the segment handler.
func (c *Channel) OnSegment(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSegment = fn
}

// OnControl records the control handler.
func (c *Channel) OnControl(fn func(transcript.Update)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onControl = fn
}

// OnClosed records the close handler.
func (c *Channel) OnClosed(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClosed = fn
}

// Open records the init parameters. Unless OpenError is set, it closes the
// channel returned by [Channel.Opened].
func (c *Channel) Open(_ context.Context, topic string, duration int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topic, c.duration = topic, duration
	if c.OpenError != nil {
		return c.OpenError
	}
	close(c.opened)
	return nil
}

// Signal records kind.
func (c *Channel) Signal(_ context.Context, kind string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SignalError != nil {
		return c.SignalError
	}
	c.signals = append(c.signals, kind)
	return nil
}

// Close marks the channel closed. It does not invoke the close handler.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Opened is closed once Open succeeds.
func (c *Channel) Opened() <-chan struct{} { return c.opened }

// DeliverSegment invokes the segment handler with data.
func (c *Channel) DeliverSegment(data []byte) {
	c.mu.Lock()
	fn := c.onSegment
	c.mu.Unlock()
	if fn != nil {
		fn(data)
	}
}

// DeliverControl invokes the control handler with u.
func (c *Channel) DeliverControl(u transcript.Update) {
	c.mu.Lock()
	fn := c.onControl
	c.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

// DeliverClosed invokes the close handler, as if the server ended the
// session with err (nil for a clean close).
func (c *Channel) DeliverClosed(err error) {
	c.mu.Lock()
	fn := c.onClosed
	c.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// OpenArgs returns the topic and duration passed to Open.
func (c *Channel) OpenArgs() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.topic, c.duration
}

// Signals returns a copy of the signals sent so far.
func (c *Channel) Signals() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.signals)
}

// IsClosed reports whether Close was called.
func (c *Channel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
