package framing

import (
	"fmt"
)

const (
	// DefaultHeaderSize is the length-prefix width used when none is configured.
	DefaultHeaderSize = 4

	// DefaultMaxMessageSize is the largest accepted payload (1 MiB) used when
	// none is configured.
	DefaultMaxMessageSize = 1 << 20
)

// LengthPrefixFramer frames messages carrying a fixed-width big-endian
// unsigned length prefix followed by exactly that many payload bytes. The
// message delivered by Next is the raw payload, header excluded. A declared
// length of zero or one exceeding maxMessageSize is a protocol error and
// poisons the framer.
type LengthPrefixFramer struct {
	headerSize     int
	maxMessageSize int

	buf      []byte
	off      int
	pending  int // declared payload length; -1 when no header decoded
	poisoned bool
}

// NewLengthPrefixFramer creates a framer reading headerSize-byte big-endian
// length prefixes.
//
// Parameters:
//   - headerSize: Prefix width in bytes; must be in 1..8
//   - maxMessageSize: Largest accepted payload in bytes; must be > 0
//
// Returns:
//   - The new framer, or an error if a parameter is out of range
func NewLengthPrefixFramer(headerSize, maxMessageSize int) (*LengthPrefixFramer, error) {
	if headerSize <= 0 || headerSize > 8 {
		return nil, fmt.Errorf("framing: headerSize must be in 1..8, got %d", headerSize)
	}

	if maxMessageSize <= 0 {
		return nil, fmt.Errorf("framing: maxMessageSize must be positive, got %d", maxMessageSize)
	}

	return &LengthPrefixFramer{
		headerSize:     headerSize,
		maxMessageSize: maxMessageSize,
		pending:        -1,
	}, nil
}

// Feed implements Framer. Feed returns ErrOverflow as soon as the next header
// to be decoded declares a zero or oversized payload; the framer is poisoned
// from then on. Headers queued behind a complete, undrained message are not
// decoded by Feed; Next validates them when it reaches them.
func (f *LengthPrefixFramer) Feed(p []byte) error {
	if f.poisoned {
		return ErrOverflow
	}

	if len(p) == 0 {
		return nil
	}

	f.buf = append(f.buf, p...)
	return f.decodeHeader()
}

// Next implements Framer. Multiple complete messages buffered by one Feed are
// drained by successive calls. When the drain uncovers an invalid header the
// framer is poisoned and the next Feed reports the overflow.
func (f *LengthPrefixFramer) Next() ([]byte, bool) {
	if f.poisoned {
		return nil, false
	}

	if f.pending < 0 {
		if err := f.decodeHeader(); err != nil || f.pending < 0 {
			return nil, false
		}
	}

	total := f.headerSize + f.pending
	if len(f.buf)-f.off < total {
		return nil, false
	}

	payload := make([]byte, f.pending)
	copy(payload, f.buf[f.off+f.headerSize:f.off+total])

	f.off += total
	f.pending = -1
	f.compact()

	return payload, true
}

// decodeHeader decodes and validates the next length prefix once headerSize
// bytes are buffered. It is a no-op while a decoded header is outstanding or
// the header is incomplete.
func (f *LengthPrefixFramer) decodeHeader() error {
	if f.pending >= 0 || len(f.buf)-f.off < f.headerSize {
		return nil
	}

	var declared uint64
	for _, b := range f.buf[f.off : f.off+f.headerSize] {
		declared = declared<<8 | uint64(b)
	}

	if declared == 0 || declared > uint64(f.maxMessageSize) {
		f.poisoned = true
		return ErrOverflow
	}

	f.pending = int(declared)
	return nil
}

// compact reclaims the consumed prefix of the buffer once it is fully drained
// or has grown past compactThreshold.
func (f *LengthPrefixFramer) compact() {
	if f.off == len(f.buf) {
		f.buf = f.buf[:0]
		f.off = 0
		return
	}

	if f.off > compactThreshold {
		f.buf = append(f.buf[:0], f.buf[f.off:]...)
		f.off = 0
	}
}

// LengthPrefixFramerFactory builds LengthPrefixFramers sharing one
// configuration. It implements Factory[[]byte].
type LengthPrefixFramerFactory struct {
	headerSize     int
	maxMessageSize int
}

// NewLengthPrefixFramerFactory validates the configuration once and returns a
// factory producing framers with private buffers.
//
// Parameters:
//   - headerSize: Prefix width in bytes; must be in 1..8
//   - maxMessageSize: Largest accepted payload in bytes; must be > 0
//
// Returns:
//   - The factory, or an error if a parameter is out of range
func NewLengthPrefixFramerFactory(headerSize, maxMessageSize int) (*LengthPrefixFramerFactory, error) {
	if _, err := NewLengthPrefixFramer(headerSize, maxMessageSize); err != nil {
		return nil, err
	}

	return &LengthPrefixFramerFactory{
		headerSize:     headerSize,
		maxMessageSize: maxMessageSize,
	}, nil
}

// NewFramer implements Factory.
func (f *LengthPrefixFramerFactory) NewFramer() Framer[[]byte] {
	framer, _ := NewLengthPrefixFramer(f.headerSize, f.maxMessageSize)
	return framer
}
