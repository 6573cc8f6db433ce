package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"market-stream/src/helpers"
	"market-stream/src/logger"
	"market-stream/src/models"
	"market-stream/src/tracing"
	"market-stream/src/utils"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/attribute"
)

// -----------------------------------------------------------------------------
// Transport
// -----------------------------------------------------------------------------

// Conn is the message transport. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a transport to url.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

// Connection owns the single upstream stream. It is the only holder of the
// transport, reconnects on its own after a drop, and runs the OnConnected
// hooks on every transition into Connected.
type Connection struct {
	url          string
	dialer       Dialer
	backoff      []time.Duration
	writeTimeout time.Duration
	Logger       *logger.Logger

	mu     sync.RWMutex
	state  models.MConnectionState
	conn   Conn
	cancel context.CancelFunc

	writeMu sync.Mutex
	nextID  atomic.Int64
	wg      sync.WaitGroup

	messages  utils.Observers[func(models.MFrame)]
	states    utils.Observers[func(prev, next models.MConnectionState)]
	connected utils.Observers[func(ctx context.Context)]

	sleep func(ctx context.Context, d time.Duration) bool
}

// Option configures a Connection.
type Option func(*Connection)

func WithDialer(d Dialer) Option {
	return func(c *Connection) { c.dialer = d }
}

func WithBackoff(schedule []time.Duration) Option {
	return func(c *Connection) {
		if len(schedule) > 0 {
			c.backoff = append([]time.Duration(nil), schedule...)
		}
	}
}

func WithWriteTimeout(d time.Duration) Option {
	return func(c *Connection) {
		if d > 0 {
			c.writeTimeout = d
		}
	}
}

// -----------------------------------------------------------------------------

func NewConnection(url string, log *logger.Logger, opts ...Option) *Connection {
	c := &Connection{
		url:          url,
		dialer:       NewWebsocketDialer(nil),
		backoff:      []time.Duration{0, 2 * time.Second, 5 * time.Second, 10 * time.Second, 30 * time.Second},
		writeTimeout: 5 * time.Second,
		Logger:       log,
		state:        models.StateDisconnected,
		sleep:        helpers.Sleep,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// -----------------------------------------------------------------------------
// Observers
// -----------------------------------------------------------------------------

// OnMessage registers a handler for every normalized inbound frame. Handlers
// run on the read goroutine and must not block.
func (c *Connection) OnMessage(handler func(models.MFrame)) func() {
	return c.messages.Add(handler)
}

// OnStateChange registers a handler for state transitions.
func (c *Connection) OnStateChange(handler func(prev, next models.MConnectionState)) func() {
	return c.states.Add(handler)
}

// OnConnected registers a hook run after every successful (re)connect.
func (c *Connection) OnConnected(hook func(ctx context.Context)) func() {
	return c.connected.Add(hook)
}

// -----------------------------------------------------------------------------

func (c *Connection) State() models.MConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) URL() string {
	return c.url
}

func (c *Connection) setState(next models.MConnectionState) {
	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()
	c.notifyState(prev, next)
}

func (c *Connection) notifyState(prev, next models.MConnectionState) {
	if prev == next {
		return
	}
	c.Logger.Info("Stream state %s -> %s", prev, next)
	for _, h := range c.states.Snapshot() {
		h(prev, next)
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Connect performs the initial handshake. It is a no-op while a connection
// is already established or being established.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case models.StateConnecting, models.StateConnected, models.StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	prev := c.state
	c.state = models.StateConnecting
	c.mu.Unlock()
	c.notifyState(prev, models.StateConnecting)

	conn, err := c.dialer.Dial(ctx, c.url)
	if err != nil {
		c.setState(models.StateError)
		return helpers.NewConnectionError(c.url, err)
	}

	life, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.mu.Unlock()

	c.setState(models.StateConnected)
	c.wg.Add(1)
	go c.run(life, conn)
	c.runConnectedHooks(life)
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect stops supervision and closes the transport.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.wg.Wait()
	c.setState(models.StateDisconnected)
}

// -----------------------------------------------------------------------------

func (c *Connection) run(ctx context.Context, conn Conn) {
	defer c.wg.Done()

	for {
		err := c.readLoop(conn)
		if ctx.Err() != nil {
			return
		}
		c.Logger.Warning("Stream dropped: %v", err)
		conn.Close()

		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		c.setState(models.StateReconnecting)

		conn = c.reconnect(ctx)
		if conn == nil {
			return
		}
	}
}

// -----------------------------------------------------------------------------

func (c *Connection) reconnect(ctx context.Context) Conn {
	for attempt := 0; ; attempt++ {
		delay := helpers.BackoffDelay(c.backoff, attempt)
		if !c.sleep(ctx, delay) {
			return nil
		}

		conn, err := c.dialer.Dial(ctx, c.url)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.Logger.Warning("Reconnect attempt %d failed: %v", attempt+1, err)
			c.setState(models.StateError)
			c.setState(models.StateReconnecting)
			continue
		}

		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			conn.Close()
			return nil
		}
		c.conn = conn
		c.mu.Unlock()

		c.setState(models.StateConnected)
		c.runConnectedHooks(ctx)
		return conn
	}
}

// -----------------------------------------------------------------------------

func (c *Connection) runConnectedHooks(ctx context.Context) {
	for _, hook := range c.connected.Snapshot() {
		hook(ctx)
	}
}

// -----------------------------------------------------------------------------

func (c *Connection) readLoop(conn Conn) error {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		frames, err := Normalize(raw)
		if err != nil {
			c.Logger.Warning("Dropping malformed frame: %v", err)
			continue
		}
		for _, f := range frames {
			if f.Kind == models.FrameResult {
				if e, ok := f.Fields["error"]; ok && e != nil {
					c.Logger.Warning("Invocation %v failed upstream: %v", f.Fields["id"], e)
				}
				continue
			}
			for _, h := range c.messages.Snapshot() {
				h(f)
			}
		}
	}
}

// -----------------------------------------------------------------------------
// Invoke
// -----------------------------------------------------------------------------

type invokeFrame struct {
	Type   string        `json:"type"`
	ID     int64         `json:"id"`
	Method string        `json:"method"`
	Args   []interface{} `json:"args"`
}

// Invoke sends a method call upstream. It fails with NotConnectedError unless
// the connection is Connected.
func (c *Connection) Invoke(ctx context.Context, method string, args ...interface{}) (err error) {
	ctx, span := tracing.StartSpan(ctx, "stream.invoke", attribute.String("method", method))
	defer func() { tracing.End(span, err) }()

	c.mu.RLock()
	state, conn := c.state, c.conn
	c.mu.RUnlock()
	if state != models.StateConnected || conn == nil {
		return helpers.NewNotConnectedError(method, string(state))
	}

	if args == nil {
		args = []interface{}{}
	}
	payload, err := json.Marshal(invokeFrame{
		Type:   "invoke",
		ID:     c.nextID.Add(1),
		Method: method,
		Args:   args,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if wd, ok := conn.(writeDeadliner); ok {
		deadline := time.Now().Add(c.writeTimeout)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		wd.SetWriteDeadline(deadline)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("invoke %s: %w", method, err)
	}
	c.Logger.Debug("Invoked %s %v", method, args)
	return nil
}
