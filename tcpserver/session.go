package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/asynctcp/framing"
	"github.com/cyberinferno/asynctcp/iopool"
	"github.com/cyberinferno/asynctcp/logger"
)

// ClientSession runs one accepted connection from accept to close. It owns
// the connection, a receive buffer, and a private Framer; it shares the
// server's IOOp pool. The session is live from construction; Stop is the
// single, idempotent teardown point, and every terminal condition (peer
// close, framing overflow, socket error, cancellation, explicit stop)
// converges on it.
type ClientSession[M any] struct {
	id          uint64
	conn        net.Conn
	framer      framing.Framer[M]
	bufferSize  int
	pool        *iopool.Pool
	log         logger.Logger
	connectedAt time.Time

	running  atomic.Bool
	stopOnce sync.Once
	done     chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	reason string

	sendMu sync.Mutex

	onMessage      func(message M) error
	onDisconnected func(id uint64)
}

// NewClientSession wraps an accepted connection in a session. The session is
// considered running from construction so OnConnected handlers may send
// before the receive loop starts.
//
// Parameters:
//   - id: Caller-supplied identifier, stable for the session's lifetime
//   - conn: The accepted connection; owned by the session from here on
//   - framer: The session's private framer
//   - bufferSize: Receive buffer size in bytes; non-positive values use DefaultBufferSize
//   - pool: The shared IOOp pool
//   - log: Logging sink; nil for none
//
// Returns:
//   - A running session ready for Start
func NewClientSession[M any](
	id uint64,
	conn net.Conn,
	framer framing.Framer[M],
	bufferSize int,
	pool *iopool.Pool,
	log logger.Logger,
) *ClientSession[M] {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	if log == nil {
		log = logger.Nop()
	}

	s := &ClientSession[M]{
		id:          id,
		conn:        conn,
		framer:      framer,
		bufferSize:  bufferSize,
		pool:        pool,
		log:         log.With(logger.Field{Key: "session_id", Value: id}),
		connectedAt: time.Now(),
		done:        make(chan struct{}),
	}
	s.running.Store(true)
	return s
}

// ID returns the session's identifier.
func (s *ClientSession[M]) ID() uint64 {
	return s.id
}

// RemoteAddr returns the peer's address.
func (s *ClientSession[M]) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// ConnectedAt returns when the session was constructed.
func (s *ClientSession[M]) ConnectedAt() time.Time {
	return s.connectedAt
}

// Running reports whether the session has not yet stopped.
func (s *ClientSession[M]) Running() bool {
	return s.running.Load()
}

// Done returns a channel closed when the session has fully stopped.
func (s *ClientSession[M]) Done() <-chan struct{} {
	return s.done
}

// StopReason returns a short description of what ended the session, or an
// empty string while it is still running.
func (s *ClientSession[M]) StopReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// OnMessage registers the callback fired for every complete framed message.
// A non-nil error returned by the callback terminates the session. Must be
// set before Start.
//
// Parameters:
//   - fn: The message callback
func (s *ClientSession[M]) OnMessage(fn func(message M) error) {
	s.onMessage = fn
}

// OnDisconnected registers the callback fired exactly once when the session
// stops. Must be set before Start.
//
// Parameters:
//   - fn: The disconnect callback, receiving the session id
func (s *ClientSession[M]) OnDisconnected(fn func(id uint64)) {
	s.onDisconnected = fn
}

// Start runs the receive loop until the session stops. Cancelling ctx
// triggers a graceful Stop. Start returns after teardown has completed.
// Called on a session that has already stopped, Start returns a *ClientError
// without running the receive loop.
//
// Parameters:
//   - ctx: Cancellation token linked to the session for its lifetime
//
// Returns:
//   - The terminal error for abnormal ends (socket error, framing overflow,
//     message-callback failure), or nil for graceful ends (peer close,
//     cancellation, explicit stop)
func (s *ClientSession[M]) Start(ctx context.Context) error {
	if !s.running.Load() {
		return errNotRunning()
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go func() {
		<-sctx.Done()
		s.Stop()
	}()

	err := s.receiveLoop()
	s.Stop()
	return err
}

// Stop transitions the session to stopped: it cancels the linked context,
// shuts down and closes the socket exactly once, and fires the disconnected
// callback exactly once. Idempotent; subsequent calls return immediately.
func (s *ClientSession[M]) Stop() {
	s.stopOnce.Do(func() {
		s.running.Store(false)

		s.mu.Lock()
		cancel := s.cancel
		if s.reason == "" {
			s.reason = "stopped"
		}
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}

		if tc, ok := s.conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		_ = s.conn.Close()

		if s.onDisconnected != nil {
			s.onDisconnected(s.id)
		}

		close(s.done)
		s.log.Debug("session stopped", logger.Field{Key: "reason", Value: s.StopReason()})
	})
}

// Send writes one message to the peer and returns when the underlying write
// has completed. Concurrent callers are serialized by an internal lock, so
// messages from different goroutines do not interleave on the wire.
//
// Parameters:
//   - data: The bytes to send; the framing (delimiter, length prefix) is the
//     caller's responsibility
//
// Returns:
//   - A *ClientError when the session is not running, a wrapped socket or
//     pool error on failure, or nil on success
func (s *ClientSession[M]) Send(data []byte) error {
	if !s.running.Load() {
		return errNotRunning()
	}

	op, err := s.pool.Get()
	if err != nil {
		return fmt.Errorf("tcpserver: send failed: %w", err)
	}
	op.Bind(data)

	s.sendMu.Lock()
	_, werr := s.conn.Write(op.Buffer())
	s.sendMu.Unlock()

	// A disposed pool refuses the return; the op is simply dropped.
	_ = s.pool.Put(op)

	if werr != nil {
		return fmt.Errorf("tcpserver: send failed: %w", werr)
	}

	return nil
}

// receiveLoop reads from the connection into a pooled IOOp, feeds the framer,
// and drains complete messages into the message callback until a terminal
// condition is hit.
func (s *ClientSession[M]) receiveLoop() error {
	op, err := s.pool.Get()
	if err != nil {
		s.setReason("io pool disposed")
		return fmt.Errorf("tcpserver: receive failed: %w", err)
	}
	op.Bind(make([]byte, s.bufferSize))
	defer func() {
		_ = s.pool.Put(op)
	}()

	for s.running.Load() {
		n, rerr := s.conn.Read(op.Buffer())

		if n > 0 {
			if ferr := s.framer.Feed(op.Buffer()[:n]); ferr != nil {
				s.setReason("framing overflow")
				s.log.Debug("framing overflow", logger.Field{Key: "error", Value: ferr.Error()})
				return ferr
			}

			if derr := s.drainMessages(); derr != nil {
				s.setReason("message handler failed")
				s.log.Debug("message handler failed", logger.Field{Key: "error", Value: derr.Error()})
				return derr
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				s.setReason("peer closed")
				return nil
			}

			if !s.running.Load() || errors.Is(rerr, net.ErrClosed) {
				return nil
			}

			s.setReason("receive error")
			s.log.Debug("receive error", logger.Field{Key: "error", Value: rerr.Error()})
			return fmt.Errorf("tcpserver: receive failed: %w", rerr)
		}
	}

	return nil
}

// drainMessages pulls every complete message out of the framer, invoking the
// message callback in byte-stream order with a cooperative yield between
// messages.
func (s *ClientSession[M]) drainMessages() error {
	for {
		msg, ok := s.framer.Next()
		if !ok {
			return nil
		}

		if err := s.invokeMessage(msg); err != nil {
			return err
		}

		runtime.Gosched()
	}
}

// invokeMessage calls the message callback, converting a panic into an error
// so a faulty handler takes down its session, not the process.
func (s *ClientSession[M]) invokeMessage(msg M) (err error) {
	if s.onMessage == nil {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tcpserver: message handler panic: %v", r)
		}
	}()

	return s.onMessage(msg)
}

// setReason records the first terminal cause observed; later causes are
// ignored.
func (s *ClientSession[M]) setReason(reason string) {
	s.mu.Lock()
	if s.reason == "" {
		s.reason = reason
	}
	s.mu.Unlock()
}
