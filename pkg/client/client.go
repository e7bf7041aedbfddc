// Package client is the player-side connection manager: one websocket to the
// room server, reconnected with capped exponential backoff when it drops.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/kaputi/kaputi-backend/pkg/types"
)

type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateDisconnected State = "disconnected"
	StateError        State = "error"
)

var (
	// ErrConnectionLost is terminal: reconnection gave up and the caller must connect again.
	ErrConnectionLost = errors.New("client: connection lost")
	ErrNotConnected   = errors.New("client: not connected")
	ErrAlreadyStarted = errors.New("client: connect already called")
)

type Options struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// Buffer sizes the Messages and States channels.
	Buffer       int
	WriteTimeout time.Duration
	Dial         *websocket.DialOptions
	Logger       *zap.Logger
}

func (o *Options) defaults() {
	if o.BaseDelay <= 0 {
		o.BaseDelay = 250 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 6
	}
	if o.Buffer <= 0 {
		o.Buffer = 64
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// BackOff is the reconnect schedule: BaseDelay doubling up to MaxDelay, no
// jitter, and backoff.Stop after MaxAttempts waits.
func (o Options) BackOff() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.BaseDelay
	exp.MaxInterval = o.MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0
	b := backoff.WithMaxRetries(exp, uint64(o.MaxAttempts))
	b.Reset()
	return b
}

type Client struct {
	endpoint string
	opts     Options
	log      *zap.Logger

	mu    sync.Mutex
	state State
	err   error
	conn  *websocket.Conn

	messages chan types.ServerMessage
	states   chan State

	cancel context.CancelFunc
	done   chan struct{}
}

// New prepares a client for endpoint, a ws:// or wss:// URL that already
// carries the room code and player id.
func New(endpoint string, opts Options) *Client {
	opts.defaults()
	return &Client{
		endpoint: endpoint,
		opts:     opts,
		log:      opts.Logger.With(zap.String("endpoint", endpoint)),
		state:    StateIdle,
		messages: make(chan types.ServerMessage, opts.Buffer),
		states:   make(chan State, opts.Buffer),
		done:     make(chan struct{}),
	}
}

// Messages delivers server messages in order. It is closed when the client stops.
func (c *Client) Messages() <-chan types.ServerMessage { return c.messages }

// States reports transitions. Slow readers miss intermediate ones; State is
// always current.
func (c *Client) States() <-chan State { return c.states }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err is ErrConnectionLost once the client is in StateError after giving up.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	select {
	case c.states <- s:
	default:
	}
}

// Connect dials once. A failed first dial ends in StateError without retrying;
// only established connections are reconnected.
func (c *Client) Connect(ctx context.Context) (State, error) {
	c.mu.Lock()
	if c.state != StateIdle {
		s := c.state
		c.mu.Unlock()
		return s, ErrAlreadyStarted
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.setState(StateConnecting)

	conn, err := c.dial(ctx)
	if err != nil {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.setState(StateError)
		c.stop()
		return StateError, err
	}

	life, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.run(life, conn)
	return StateConnected, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.endpoint, c.opts.Dial)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.endpoint, err)
	}
	return conn, nil
}

func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer c.stop()
	for {
		closed := c.readLoop(ctx, conn)
		if ctx.Err() != nil {
			return
		}
		if closed {
			// The server ended the session on purpose; do not fight it.
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateReconnecting)
		next, err := c.reconnect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("giving up on reconnect", zap.Error(err))
			c.mu.Lock()
			c.err = ErrConnectionLost
			c.conn = nil
			c.mu.Unlock()
			c.setState(StateError)
			return
		}
		c.mu.Lock()
		c.conn = next
		c.mu.Unlock()
		conn = next
		c.setState(StateConnected)
	}
}

// readLoop returns true when the server ended the session for good.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) bool {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			conn.CloseNow()
			// Policy violation means the server refused this player outright.
			return websocket.CloseStatus(err) == websocket.StatusPolicyViolation
		}
		var msg types.ServerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Debug("bad server message", zap.Error(err))
			continue
		}
		select {
		case c.messages <- msg:
		case <-ctx.Done():
			return false
		}
		if msg.Type == types.MsgRoomClosed {
			conn.Close(websocket.StatusNormalClosure, "")
			return true
		}
	}
}

func (c *Client) reconnect(ctx context.Context) (*websocket.Conn, error) {
	b := backoff.WithContext(c.opts.BackOff(), ctx)
	var last error
	for attempt := 1; ; attempt++ {
		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if last == nil {
				last = ErrConnectionLost
			}
			return nil, last
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		dctx, cancel := context.WithTimeout(ctx, c.opts.MaxDelay)
		conn, err := c.dial(dctx)
		cancel()
		if err == nil {
			c.log.Info("reconnected", zap.Int("attempt", attempt))
			return conn, nil
		}
		last = err
		c.log.Debug("reconnect failed", zap.Int("attempt", attempt), zap.Duration("waited", wait), zap.Error(err))
	}
}

// Send writes one command. It fails fast while reconnecting rather than queueing.
func (c *Client) Send(ctx context.Context, msg types.ClientMessage) error {
	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn, cancel := c.conn, c.cancel
	c.conn = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "bye")
	}
	if cancel != nil {
		<-c.done
	}
	if c.State() != StateError {
		c.setState(StateDisconnected)
	}
}

func (c *Client) stop() {
	select {
	case <-c.done:
	default:
		close(c.done)
		close(c.messages)
	}
}
