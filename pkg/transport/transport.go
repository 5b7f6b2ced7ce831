// Package transport maintains the duplex WebSocket channel to the voice
// service. A [Channel] sends binary PCM frames and JSON control events
// upstream, delivers inbound service messages on a single-consumer channel,
// and transparently re-establishes the connection after abnormal loss.
//
// Reconnection uses a fixed delay between attempts and gives up after a
// bounded number of consecutive failures; a successful reconnect resets the
// counter. A deliberate close, by either side, with a normal closure status
// never triggers reconnection.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxkit/voxkit/pkg/protocol"
)

const (
	// DefaultReconnectDelay is the fixed wait between reconnection attempts.
	DefaultReconnectDelay = 2 * time.Second

	// DefaultMaxReconnects is the number of consecutive failed attempts after
	// which the channel gives up and closes terminally.
	DefaultMaxReconnects = 10
)

// State describes the channel lifecycle.
type State int

const (
	// StateConnecting is the initial dial or an in-progress reconnect.
	StateConnecting State = iota
	// StateOpen means the connection is established and usable.
	StateOpen
	// StateClosing means a deliberate shutdown is underway.
	StateClosing
	// StateClosed is terminal: deliberate close or reconnects exhausted.
	StateClosed
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// StateChange notifies a listener of a channel transition. Attempt is the
// reconnect attempt number for [StateConnecting] (0 on the initial dial) and
// Err carries the failure that caused the transition, if any.
type StateChange struct {
	State   State
	Attempt int
	Err     error
}

var (
	// ErrNotConnected is returned by sends while the channel is between
	// connections. Senders should drop the payload and retry later.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrClosed is returned by sends after the channel has terminally closed.
	ErrClosed = errors.New("transport: channel is closed")
)

// Option is a functional option for configuring a [Channel].
type Option func(*Channel)

// WithReconnectDelay overrides the fixed wait between reconnection attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Channel) {
		c.reconnectDelay = d
	}
}

// WithMaxReconnects overrides the consecutive-failure limit.
func WithMaxReconnects(n int) Option {
	return func(c *Channel) {
		c.maxReconnects = n
	}
}

// WithStateListener registers a callback invoked on every state transition.
// The callback runs on the channel's internal goroutine and must not block.
func WithStateListener(fn func(StateChange)) Option {
	return func(c *Channel) {
		c.onState = fn
	}
}

// WithDialOptions sets the WebSocket dial options used for the initial
// connection and every reconnect.
func WithDialOptions(opts *websocket.DialOptions) Option {
	return func(c *Channel) {
		c.dialOpts = opts
	}
}

// Channel is a duplex connection to the voice service.
//
// Inbound service messages are delivered in arrival order on [Channel.Inbound];
// the channel is designed for exactly one consumer. Sends are safe from any
// goroutine and fail fast with [ErrNotConnected] while a reconnect is in
// progress, so a capture pipeline never blocks on a dead link.
type Channel struct {
	url            string
	dialOpts       *websocket.DialOptions
	reconnectDelay time.Duration
	maxReconnects  int
	onState        func(StateChange)

	inbound chan []byte
	done    chan struct{}
	once    sync.Once

	mu    sync.Mutex
	conn  *websocket.Conn
	state State

	wmu sync.Mutex
}

// Dial connects to the voice service at url and starts the channel's receive
// loop. The initial dial is not retried; reconnection only applies to a
// connection that was lost after being established.
func Dial(ctx context.Context, url string, opts ...Option) (*Channel, error) {
	c := &Channel{
		url:            url,
		reconnectDelay: DefaultReconnectDelay,
		maxReconnects:  DefaultMaxReconnects,
		inbound:        make(chan []byte, 64),
		done:           make(chan struct{}),
		state:          StateConnecting,
	}
	for _, o := range opts {
		o(c)
	}

	conn, _, err := websocket.Dial(ctx, c.url, c.dialOpts)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", c.url, err)
	}
	c.setConn(conn)

	go c.run(ctx)
	return c, nil
}

// Inbound returns the single-consumer channel of raw inbound messages, in
// arrival order. It is closed when the channel terminally closes.
func (c *Channel) Inbound() <-chan []byte { return c.inbound }

// Done returns a channel closed when the transport has terminally closed.
func (c *Channel) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SendFrame transmits one binary PCM frame. It returns [ErrNotConnected]
// while the link is down; callers drop the frame rather than queueing it.
func (c *Channel) SendFrame(ctx context.Context, pcm []byte) error {
	return c.send(ctx, websocket.MessageBinary, pcm)
}

// SendEvent transmits ev as a JSON control message.
func (c *Channel) SendEvent(ctx context.Context, ev protocol.Event) error {
	data, err := protocol.Marshal(ev)
	if err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	return c.send(ctx, websocket.MessageText, data)
}

func (c *Channel) send(ctx context.Context, typ websocket.MessageType, data []byte) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	switch state {
	case StateOpen:
	case StateClosed, StateClosing:
		return ErrClosed
	default:
		return ErrNotConnected
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := conn.Write(ctx, typ, data); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("transport: write: %w", err)
		}
		// The read loop observes the same failure and drives reconnection;
		// to the sender the link is simply down.
		slog.Debug("transport: write failed", "err", err)
		return ErrNotConnected
	}
	return nil
}

// Close shuts the channel down deliberately with a normal closure status.
// No reconnection follows. Safe to call more than once.
func (c *Channel) Close() error {
	c.once.Do(func() {
		c.mu.Lock()
		if c.state == StateClosed {
			c.mu.Unlock()
			return
		}
		c.state = StateClosing
		conn := c.conn
		c.mu.Unlock()
		c.notify(StateChange{State: StateClosing})

		if conn != nil {
			conn.Close(websocket.StatusNormalClosure, "client shutdown")
		}
	})
	return nil
}

// setConn installs a live connection and marks the channel open.
func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.mu.Unlock()
	c.notify(StateChange{State: StateOpen})
}

func (c *Channel) notify(sc StateChange) {
	if c.onState != nil {
		c.onState(sc)
	}
}

// run owns the connection: it pumps inbound messages and handles reconnects.
// It is the only goroutine that closes the inbound channel and marks the
// terminal state.
func (c *Channel) run(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.state = StateClosed
		c.conn = nil
		c.mu.Unlock()
		close(c.inbound)
		close(c.done)
		c.notify(StateChange{State: StateClosed})
	}()

	for {
		err := c.readLoop(ctx)

		if c.State() == StateClosing {
			return
		}
		if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
			slog.Info("transport: service closed the session")
			return
		}
		if ctx.Err() != nil {
			return
		}

		slog.Warn("transport: connection lost", "err", err)
		if !c.reconnect(ctx, err) {
			return
		}
	}
}

// readLoop pumps messages from the current connection until it fails.
func (c *Channel) readLoop(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		select {
		case c.inbound <- data:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reconnect re-dials with a fixed delay between attempts. It reports whether
// a new connection was installed; false means the attempt budget is exhausted
// or the channel is shutting down.
func (c *Channel) reconnect(ctx context.Context, cause error) bool {
	c.mu.Lock()
	c.state = StateConnecting
	c.conn = nil
	c.mu.Unlock()

	for attempt := 1; attempt <= c.maxReconnects; attempt++ {
		c.notify(StateChange{State: StateConnecting, Attempt: attempt, Err: cause})

		select {
		case <-time.After(c.reconnectDelay):
		case <-ctx.Done():
			return false
		}
		if c.State() == StateClosing {
			return false
		}

		conn, _, err := websocket.Dial(ctx, c.url, c.dialOpts)
		if err != nil {
			slog.Warn("transport: reconnect failed",
				"attempt", attempt, "max", c.maxReconnects, "err", err)
			cause = err
			continue
		}

		slog.Info("transport: reconnected", "attempt", attempt)
		c.setConn(conn)
		return true
	}

	slog.Error("transport: giving up after repeated reconnect failures",
		"attempts", c.maxReconnects)
	return false
}
