// Package client provides an event-driven TCP client whose read loop runs
// through the same pluggable framing layer as the server, so callers receive
// complete messages rather than raw stream chunks. Connection state changes,
// messages, and errors are delivered via registered handlers, invoked
// synchronously from the client's goroutines; optional auto-reconnect
// re-dials with a fresh framer after a lost connection.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/asynctcp/framing"
	"github.com/cyberinferno/asynctcp/iopool"
	"github.com/cyberinferno/asynctcp/logger"
)

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected and not attempting to connect
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected
	Reconnecting                        // Disconnected and attempting to reconnect (when AutoReconnect is enabled)
	Closed                              // Client has been closed and will not reconnect
)

// stateNames maps ConnectionState values to their display names.
var stateNames = [...]string{
	Disconnected: "Disconnected",
	Connecting:   "Connecting",
	Connected:    "Connected",
	Reconnecting: "Reconnecting",
	Closed:       "Closed",
}

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	if cs < 0 || int(cs) >= len(stateNames) {
		return "Unknown"
	}

	return stateNames[cs]
}

// ConnectionStateEvent is emitted when the connection state changes.
// It is passed to the handler registered with OnConnectionState.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the state change was due to an error
}

// MessageEvent is emitted for every complete framed message read from the
// connection. It is passed to the handler registered with OnMessage.
type MessageEvent[M any] struct {
	Message   M         // The framed message
	Timestamp time.Time // When the message was framed
}

// ErrorEvent is emitted when a read, write, framing, or connection error
// occurs. It is passed to the handler registered with OnError.
type ErrorEvent struct {
	Error     error     // The error that occurred
	Timestamp time.Time // When the error occurred
}

// ConnectionStateHandler is called when the connection state changes.
// Handlers run on the client's goroutines and must not block.
type ConnectionStateHandler func(event ConnectionStateEvent)

// MessageHandler is called for every complete framed message, in byte-stream
// order. Handlers run on the client's read goroutine and must not block.
type MessageHandler[M any] func(event MessageEvent[M])

// ErrorHandler is called when a read, write, framing, or connection error
// occurs. Handlers run on the client's goroutines and must not block.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for the framed TCP client.
type Config struct {
	// Address is the "host:port" to connect to (e.g. "localhost:8080").
	Address string
	// AutoReconnect enables automatic reconnection when the connection is lost.
	AutoReconnect bool
	// ReconnectInterval is the delay between reconnection attempts when AutoReconnect is true.
	ReconnectInterval time.Duration
	// ReadBufferSize is the size of the receive buffer.
	ReadBufferSize int
	// WriteTimeout is the max duration for a single write; 0 means no timeout.
	WriteTimeout time.Duration
	// ConnectionTimeout is the max duration for establishing a new connection.
	ConnectionTimeout time.Duration
}

// DefaultConfig returns a Config with default values for the given address.
// AutoReconnect is false; override fields as needed before passing to NewClient.
//
// Parameters:
//   - address: The "host:port" to connect to
//
// Returns:
//   - A Config with defaults: ReconnectInterval 5s, ReadBufferSize 4096,
//     WriteTimeout 10s, ConnectionTimeout 10s.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		AutoReconnect:     false,
		ReconnectInterval: 5 * time.Second,
		ReadBufferSize:    4096,
		WriteTimeout:      10 * time.Second,
		ConnectionTimeout: 10 * time.Second,
	}
}

// Client is a TCP client that frames its inbound stream with a private
// Framer built from the configured factory. Its lifetime is bound to an
// internal context: Close cancels it exactly once, which unwinds the read
// and reconnect machinery the same way the server side converges on
// ClientSession.Stop. Send descriptors are rented from a private IOOp pool.
// The client is safe for concurrent use.
type Client[M any] struct {
	config  Config
	factory framing.Factory[M]
	log     logger.Logger
	pool    *iopool.Pool

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
	wg        sync.WaitGroup

	mu    sync.Mutex
	conn  net.Conn
	state ConnectionState

	sendMu sync.Mutex

	onConnectionState ConnectionStateHandler
	onMessage         MessageHandler[M]
	onError           ErrorHandler
}

// NewClient creates a new framed TCP client. The client starts in
// Disconnected state; call Connect to establish a connection. Each
// (re)connection gets a fresh framer with empty buffers.
//
// Parameters:
//   - config: Connection and behavior settings (e.g. from DefaultConfig)
//   - factory: Framing factory used to build one framer per connection
//   - log: Logging sink; nil for none
//
// Returns:
//   - A new *Client ready to use, or an error when the factory is missing
func NewClient[M any](config Config, factory framing.Factory[M], log logger.Logger) (*Client[M], error) {
	if factory == nil {
		return nil, fmt.Errorf("client: framing factory is required")
	}

	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 4096
	}

	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client[M]{
		config:  config,
		factory: factory,
		log:     log,
		pool:    iopool.NewPool(),
		ctx:     ctx,
		cancel:  cancel,
		state:   Disconnected,
	}, nil
}

// OnConnectionState registers the handler for connection state changes.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
//
// Parameters:
//   - handler: Function called on state changes (Connecting, Connected, Disconnected, etc.)
func (c *Client[M]) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnMessage registers the handler for complete framed messages.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
//
// Parameters:
//   - handler: Function called with each framed message
func (c *Client[M]) OnMessage(handler MessageHandler[M]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = handler
}

// OnError registers the handler for read, write, framing, and connection errors.
// Only one handler is active; repeated calls replace the previous handler.
// Pass nil to clear the handler.
//
// Parameters:
//   - handler: Function called when an error occurs
func (c *Client[M]) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect establishes a TCP connection to the configured address and starts
// the connection goroutine. It returns an error if the client is closed,
// already connected/connecting, or if the dial fails.
//
// Returns:
//   - nil on success; otherwise an error (e.g. "client is closed",
//     "already connected or connecting", or the dial error)
func (c *Client[M]) Connect() error {
	if c.ctx.Err() != nil {
		return fmt.Errorf("client: client is closed")
	}

	c.mu.Lock()
	if c.state == Connected || c.state == Connecting || c.state == Reconnecting {
		c.mu.Unlock()
		return fmt.Errorf("client: already connected or connecting")
	}
	c.state = Connecting
	c.mu.Unlock()
	c.emitConnectionState(Connecting, nil)

	conn, err := c.dial()
	if err != nil {
		c.transition(Disconnected, err)
		c.emitError(err)
		return err
	}

	// Close may have raced the dial; do not start a goroutine it cannot wait on.
	if c.ctx.Err() != nil {
		_ = conn.Close()
		return fmt.Errorf("client: client is closed")
	}

	c.attach(conn)

	c.wg.Add(1)
	go c.run(conn)

	return nil
}

// Disconnect closes the current connection and moves to Disconnected state.
// It does not set the client to Closed; Connect may be called again. When
// AutoReconnect is enabled the connection goroutine treats this like any
// other lost connection and re-dials. Safe to call when already disconnected
// or closed; returns nil in those cases.
//
// Returns:
//   - nil if already disconnected/closed, or the error from closing the connection
func (c *Client[M]) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	if conn == nil || c.state == Closed {
		c.mu.Unlock()
		return nil
	}
	c.conn = nil
	c.state = Disconnected
	c.mu.Unlock()

	err := conn.Close()
	c.emitConnectionState(Disconnected, nil)
	return err
}

// Close shuts down the client exactly once: it cancels the lifecycle
// context, closes the connection, waits for the connection goroutine, and
// disposes the send pool. After Close, the client is in Closed state and
// must not be used further. Idempotent.
//
// Returns:
//   - nil
func (c *Client[M]) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		conn := c.conn
		c.conn = nil
		c.state = Closed
		c.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}

		c.wg.Wait()
		c.pool.Dispose()
		c.emitConnectionState(Closed, nil)
	})

	return nil
}

// Send writes data to the connection. The caller supplies fully framed bytes
// (delimiter or length prefix included); the client does not add framing on
// the way out. Concurrent callers are serialized by an internal lock, and
// the write descriptor is rented from the client's IOOp pool. When
// WriteTimeout is set, each write is limited to that duration.
//
// Parameters:
//   - data: Bytes to send; not modified
//
// Returns:
//   - nil on success; an error if not connected or the write fails
func (c *Client[M]) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("client: not connected")
	}

	op, err := c.pool.Get()
	if err != nil {
		return fmt.Errorf("client: send failed: %w", err)
	}
	op.Bind(data)

	c.sendMu.Lock()
	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	_, werr := conn.Write(op.Buffer())
	if c.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Time{})
	}
	c.sendMu.Unlock()

	// A disposed pool refuses the return; the op is simply dropped.
	_ = c.pool.Put(op)

	if werr != nil {
		c.emitError(werr)
		return fmt.Errorf("client: send failed: %w", werr)
	}

	return nil
}

// GetState returns the current connection state.
//
// Returns:
//   - The current ConnectionState (Disconnected, Connecting, Connected,
//     Reconnecting, or Closed)
func (c *Client[M]) GetState() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *Client[M]) IsConnected() bool {
	return c.GetState() == Connected
}

// dial opens one TCP connection, bounded by ConnectionTimeout and aborted by
// Close via the lifecycle context.
func (c *Client[M]) dial() (net.Conn, error) {
	dialer := net.Dialer{
		Timeout: c.config.ConnectionTimeout,
	}

	return dialer.DialContext(c.ctx, "tcp", c.config.Address)
}

// attach installs conn as the current connection and publishes the Connected
// state.
func (c *Client[M]) attach(conn net.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.state = Connected
	c.mu.Unlock()

	c.emitConnectionState(Connected, nil)
	c.log.Debug("connected", logger.Field{Key: "endpoint", Value: c.config.Address})
}

// run owns one connection's lifetime: it reads until the connection dies,
// then either returns (closed, or AutoReconnect off) or keeps re-dialing
// until a connection sticks or the client closes. One run goroutine exists
// per Connect call.
func (c *Client[M]) run(conn net.Conn) {
	defer c.wg.Done()

	for {
		c.readLoop(conn, c.factory.NewFramer())
		c.detach(conn)

		if c.ctx.Err() != nil || !c.config.AutoReconnect {
			return
		}

		c.transition(Reconnecting, nil)

		for {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.config.ReconnectInterval):
			}

			next, err := c.dial()
			if err != nil {
				c.emitError(err)
				continue
			}

			conn = next
			break
		}

		c.attach(conn)
	}
}

// readLoop reads stream chunks into the framer and emits every complete
// message until the connection fails or is closed. A framing overflow is
// fatal for the connection: the error handler fires and the connection is
// closed.
func (c *Client[M]) readLoop(conn net.Conn, framer framing.Framer[M]) {
	buffer := make([]byte, c.config.ReadBufferSize)
	for {
		n, err := conn.Read(buffer)

		if n > 0 {
			if ferr := framer.Feed(buffer[:n]); ferr != nil {
				c.log.Debug("framing overflow", logger.Field{Key: "error", Value: ferr.Error()})
				c.emitError(ferr)
				_ = conn.Close()
				return
			}

			for {
				msg, ok := framer.Next()
				if !ok {
					break
				}

				c.emitMessage(msg)
			}
		}

		if err != nil {
			if c.ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				c.emitError(err)
			}

			return
		}
	}
}

// detach closes conn and, when it is still the current connection, clears it
// and publishes the Disconnected state. Disconnect and Close may have
// already detached it; then this is a no-op beyond the close.
func (c *Client[M]) detach(conn net.Conn) {
	_ = conn.Close()

	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	changed := current && c.state != Disconnected && c.state != Closed
	if changed {
		c.state = Disconnected
	}
	c.mu.Unlock()

	if changed {
		c.emitConnectionState(Disconnected, nil)
	}
}

// transition publishes a new state unless the client has been closed, which
// is terminal.
func (c *Client[M]) transition(state ConnectionState, err error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}
	c.state = state
	c.mu.Unlock()

	c.emitConnectionState(state, err)
}

func (c *Client[M]) emitConnectionState(state ConnectionState, err error) {
	c.mu.Lock()
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler == nil {
		return
	}

	handler(ConnectionStateEvent{
		State:     state,
		Address:   c.config.Address,
		Timestamp: time.Now(),
		Error:     err,
	})
}

func (c *Client[M]) emitMessage(msg M) {
	c.mu.Lock()
	handler := c.onMessage
	c.mu.Unlock()

	if handler == nil {
		return
	}

	handler(MessageEvent[M]{
		Message:   msg,
		Timestamp: time.Now(),
	})
}

func (c *Client[M]) emitError(err error) {
	c.mu.Lock()
	handler := c.onError
	c.mu.Unlock()

	if handler == nil {
		return
	}

	handler(ErrorEvent{
		Error:     err,
		Timestamp: time.Now(),
	})
}
