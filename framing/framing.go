// Package framing transforms a raw TCP byte stream into discrete application
// messages. A Framer is fed arbitrarily fragmented chunks and drained with
// Next; a Factory builds one private Framer per accepted connection.
package framing

import "errors"

// ErrOverflow is returned by Feed when the framer's unframed-input bound is
// exceeded: too many bytes without a delimiter, or a length prefix declaring
// an invalid or oversized payload. After ErrOverflow the framer is poisoned
// and every subsequent Feed fails; the owning session must disconnect.
var ErrOverflow = errors.New("framing: unframed input exceeds configured bound")

// Framer is a stateful byte-stream parser producing messages of type M.
//
// Feed appends a chunk of received bytes to the framer's internal buffer.
// Next must then be called repeatedly until it reports no message before the
// next Feed, so that all complete messages are drained in byte-stream order.
// A Framer is owned by exactly one session and is not safe for concurrent use.
type Framer[M any] interface {
	// Feed appends p to the internal buffer.
	//
	// Parameters:
	//   - p: The received chunk; may be empty (no-op)
	//
	// Returns:
	//   - ErrOverflow if the configured bound is exceeded, nil otherwise
	Feed(p []byte) error

	// Next returns the next complete message, if one is buffered.
	//
	// Returns:
	//   - The next message and true, or the zero value and false when no
	//     complete message is available
	Next() (M, bool)
}

// Factory builds a fresh Framer per connection. One factory instance is
// shared by the server; each accepted connection gets its own Framer with
// private buffers.
type Factory[M any] interface {
	// NewFramer returns a new Framer with empty buffers.
	//
	// Returns:
	//   - A Framer ready to be fed
	NewFramer() Framer[M]
}
