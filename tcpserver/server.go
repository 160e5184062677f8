package tcpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/cyberinferno/asynctcp/framing"
	"github.com/cyberinferno/asynctcp/idgenerator"
	"github.com/cyberinferno/asynctcp/iopool"
	"github.com/cyberinferno/asynctcp/logger"
	"github.com/cyberinferno/asynctcp/safemap"
)

// Server accepts TCP connections up to the configured admission capacity,
// wraps each in a ClientSession built from the shared framing factory, and
// routes session events to the Handler. Sessions remove themselves from the
// registry and release their admission permit when they stop.
type Server[M any] struct {
	cfg     Config
	factory framing.Factory[M]
	handler Handler[M]
	log     logger.Logger

	admission *semaphore.Weighted
	sessions  *safemap.SafeMap[uint64, *ClientSession[M]]
	ids       *idgenerator.IdGenerator
	pool      *iopool.Pool
	history   *sessionHistory

	mu       sync.Mutex
	listener net.Listener

	running atomic.Bool
	closed  atomic.Bool
	group   errgroup.Group
}

// NewServer validates the configuration and builds a server. The server does
// not listen until Run is called.
//
// Parameters:
//   - cfg: Server configuration; zero-valued optional fields get defaults
//   - factory: Framing factory; one framer is built per accepted connection
//   - handler: User callbacks for connect, message, and disconnect events
//   - log: Logging sink; nil for none
//
// Returns:
//   - The server, or an error for an invalid configuration or missing collaborator
func NewServer[M any](cfg Config, factory framing.Factory[M], handler Handler[M], log logger.Logger) (*Server[M], error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if factory == nil {
		return nil, fmt.Errorf("tcpserver: framing factory is required")
	}

	if handler == nil {
		return nil, fmt.Errorf("tcpserver: handler is required")
	}

	if log == nil {
		log = logger.Nop()
	}

	var history *sessionHistory
	if cfg.HistoryTTL > 0 {
		history = newSessionHistory(cfg.HistoryTTL)
	}

	return &Server[M]{
		cfg:       cfg,
		factory:   factory,
		handler:   handler,
		log:       log,
		admission: semaphore.NewWeighted(int64(cfg.MaxConnections)),
		sessions:  safemap.NewSafeMap[uint64, *ClientSession[M]](),
		ids:       idgenerator.NewIdGenerator(0),
		pool:      iopool.NewPool(),
		history:   history,
	}, nil
}

// Run binds the configured endpoint and accepts connections until ctx is
// cancelled or the server is closed. Each accept waits for an admission
// permit first, so at most MaxConnections sessions are in service; the permit
// is released when the session disconnects, or immediately when the accept
// fails.
//
// Parameters:
//   - ctx: Cancellation token; cancelling it stops the accept loop and every session
//
// Returns:
//   - ctx.Err() on cancellation, a bind error if listening fails, nil when
//     the server was closed
func (s *Server[M]) Run(ctx context.Context) error {
	if s.closed.Load() {
		return fmt.Errorf("tcpserver: server is closed")
	}

	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("tcpserver: server already running")
	}

	ln, err := net.Listen(string(s.cfg.Protocol), s.cfg.addr())
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("tcpserver: listen on %s failed: %w", s.cfg.addr(), err)
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.log.Info("server listening", logger.Field{Key: "endpoint", Value: ln.Addr().String()})

	unwatch := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer unwatch()

	for {
		if err := s.admission.Acquire(ctx, 1); err != nil {
			return err
		}

		conn, err := ln.Accept()
		if err != nil {
			s.admission.Release(1)

			if ctx.Err() != nil {
				return ctx.Err()
			}

			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}

			s.log.Error("accept failed", logger.Field{Key: "error", Value: err.Error()})
			continue
		}

		s.acceptClient(ctx, conn)
	}
}

// acceptClient builds a session for an accepted connection, fires
// OnConnected, registers the session, wires its callbacks, and starts its
// receive loop in its own goroutine. The disconnect wiring removes the
// session from the registry, records history, and releases the admission
// permit.
func (s *Server[M]) acceptClient(ctx context.Context, conn net.Conn) {
	id := s.ids.Id()
	remoteAddr := conn.RemoteAddr().String()
	connectedAt := time.Now()

	sess := NewClientSession(id, conn, s.factory.NewFramer(), s.cfg.BufferSize, s.pool, s.log)
	s.log.Debug("client connected",
		logger.Field{Key: "session_id", Value: id},
		logger.Field{Key: "remote_addr", Value: remoteAddr})

	s.handler.OnConnected(sess)
	s.sessions.Store(id, sess)

	// A close racing this accept may have swept the registry already; make
	// sure the late arrival is stopped too.
	if s.closed.Load() {
		defer sess.Stop()
	}

	sess.OnMessage(func(message M) error {
		return s.handler.OnMessage(sess, message)
	})
	sess.OnDisconnected(func(id uint64) {
		s.handler.OnDisconnected(sess)
		s.sessions.Delete(id)
		if s.history != nil {
			s.history.record(SessionSummary{
				ID:             id,
				RemoteAddr:     remoteAddr,
				ConnectedAt:    connectedAt,
				DisconnectedAt: time.Now(),
				Reason:         sess.StopReason(),
			})
		}
		s.admission.Release(1)
	})

	s.group.Go(func() error {
		if err := sess.Start(ctx); err != nil {
			s.log.Debug("session ended with error",
				logger.Field{Key: "session_id", Value: id},
				logger.Field{Key: "error", Value: err.Error()})
		}
		return nil
	})
}

// Close stops the server: it closes the listener, stops every live session,
// waits for their goroutines to finish, and disposes the IOOp pool.
// Idempotent.
//
// Returns:
//   - nil; kept as an error for io.Closer symmetry
func (s *Server[M]) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.running.Store(false)

	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}

	s.sessions.Range(func(id uint64, sess *ClientSession[M]) bool {
		sess.Stop()
		return true
	})

	_ = s.group.Wait()
	s.pool.Dispose()
	s.log.Info("server stopped")
	return nil
}

// Addr returns the bound listener address, or nil before Run has bound one.
// With Port 0 this is how callers learn the ephemeral port.
//
// Returns:
//   - The listener's address, or nil
func (s *Server[M]) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Session returns the live session for the given id, if present.
//
// Parameters:
//   - id: The session ID to look up
//
// Returns:
//   - The session and true if found, or nil and false otherwise
func (s *Server[M]) Session(id uint64) (*ClientSession[M], bool) {
	return s.sessions.Load(id)
}

// SessionCount returns the number of live sessions.
//
// Returns:
//   - The current registry size
func (s *Server[M]) SessionCount() int {
	return s.sessions.Len()
}

// RecentSessions returns TTL-bounded summaries of recently ended sessions,
// newest first. It returns nil when history is disabled (HistoryTTL 0).
//
// Returns:
//   - Summaries of sessions that ended within HistoryTTL
func (s *Server[M]) RecentSessions() []SessionSummary {
	if s.history == nil {
		return nil
	}

	return s.history.summaries()
}
