package tcpserver

// Handler is the user-supplied surface the server delegates session events
// to. Callbacks run on whichever goroutine observes the event and may be
// invoked concurrently for different sessions; implementations must be safe
// for that.
type Handler[M any] interface {
	// OnConnected is fired for every accepted connection, before the
	// session's receive loop is started. The session is live: Send may be
	// used to greet the peer.
	//
	// Parameters:
	//   - session: The newly accepted session
	OnConnected(session *ClientSession[M])

	// OnMessage is fired for every complete framed message, in byte-stream
	// order per session. Returning a non-nil error terminates that session;
	// other sessions and the server are unaffected.
	//
	// Parameters:
	//   - session: The session the message arrived on
	//   - message: The framed message
	//
	// Returns:
	//   - An error to terminate the session, or nil to continue
	OnMessage(session *ClientSession[M], message M) error

	// OnDisconnected is fired exactly once when the session stops, after the
	// last OnMessage for that session.
	//
	// Parameters:
	//   - session: The session that ended
	OnDisconnected(session *ClientSession[M])
}

// HandlerFuncs adapts plain functions to the Handler interface. Nil fields
// are treated as no-ops (nil Message accepts and discards every message).
type HandlerFuncs[M any] struct {
	Connected    func(session *ClientSession[M])
	Message      func(session *ClientSession[M], message M) error
	Disconnected func(session *ClientSession[M])
}

// OnConnected implements Handler.
func (h HandlerFuncs[M]) OnConnected(session *ClientSession[M]) {
	if h.Connected != nil {
		h.Connected(session)
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs[M]) OnMessage(session *ClientSession[M], message M) error {
	if h.Message != nil {
		return h.Message(session, message)
	}

	return nil
}

// OnDisconnected implements Handler.
func (h HandlerFuncs[M]) OnDisconnected(session *ClientSession[M]) {
	if h.Disconnected != nil {
		h.Disconnected(session)
	}
}
