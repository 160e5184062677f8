package framing

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultDelimiter is the message terminator used when none is configured.
	DefaultDelimiter byte = '\n'

	// DefaultMaxUnframed is the number of bytes allowed without a delimiter
	// before the framer overflows.
	DefaultMaxUnframed = 1024
)

// compactThreshold is the number of consumed leading bytes after which the
// internal buffer is shifted down instead of growing a dead prefix.
const compactThreshold = 4096

// DelimiterFramer frames messages terminated by a single delimiter byte.
// Each message is the text up to and including the delimiter, decoded as
// UTF-8; invalid sequences are replaced with the Unicode replacement rune and
// do not fail the stream. The delimiter search operates on raw bytes, so any
// single-byte (ASCII) delimiter is split-safe.
type DelimiterFramer struct {
	delimiter   byte
	maxUnframed int

	buf      []byte
	off      int
	poisoned bool
}

// NewDelimiterFramer creates a framer that splits the stream on the given
// delimiter byte.
//
// Parameters:
//   - delimiter: The message terminator byte (e.g. '\n')
//   - maxUnframed: Bytes allowed without a delimiter before overflow; must be > 0
//
// Returns:
//   - The new framer, or an error if maxUnframed is not positive
func NewDelimiterFramer(delimiter byte, maxUnframed int) (*DelimiterFramer, error) {
	if maxUnframed <= 0 {
		return nil, fmt.Errorf("framing: maxUnframed must be positive, got %d", maxUnframed)
	}

	return &DelimiterFramer{
		delimiter:   delimiter,
		maxUnframed: maxUnframed,
	}, nil
}

// Feed implements Framer. An empty chunk is a no-op. Feed returns ErrOverflow
// when more than maxUnframed bytes are buffered with no delimiter among them;
// the framer is poisoned from then on.
func (f *DelimiterFramer) Feed(p []byte) error {
	if f.poisoned {
		return ErrOverflow
	}

	if len(p) == 0 {
		return nil
	}

	f.buf = append(f.buf, p...)

	unframed := f.buf[f.off:]
	if len(unframed) > f.maxUnframed && bytes.IndexByte(unframed, f.delimiter) < 0 {
		f.poisoned = true
		return ErrOverflow
	}

	return nil
}

// Next implements Framer. The returned message includes the trailing
// delimiter. A delimiter at position 0 yields a one-character message.
func (f *DelimiterFramer) Next() (string, bool) {
	idx := bytes.IndexByte(f.buf[f.off:], f.delimiter)
	if idx < 0 {
		return "", false
	}

	msg := string(f.buf[f.off : f.off+idx+1])
	if !utf8.ValidString(msg) {
		msg = strings.ToValidUTF8(msg, string(utf8.RuneError))
	}

	f.off += idx + 1
	f.compact()

	return msg, true
}

// compact reclaims the consumed prefix of the buffer once it is fully drained
// or has grown past compactThreshold.
func (f *DelimiterFramer) compact() {
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

// DelimiterFramerFactory builds DelimiterFramers sharing one configuration.
// It implements Factory[string].
type DelimiterFramerFactory struct {
	delimiter   byte
	maxUnframed int
}

// NewDelimiterFramerFactory validates the configuration once and returns a
// factory producing framers with private buffers.
//
// Parameters:
//   - delimiter: The message terminator byte
//   - maxUnframed: Bytes allowed without a delimiter before overflow; must be > 0
//
// Returns:
//   - The factory, or an error if maxUnframed is not positive
func NewDelimiterFramerFactory(delimiter byte, maxUnframed int) (*DelimiterFramerFactory, error) {
	if _, err := NewDelimiterFramer(delimiter, maxUnframed); err != nil {
		return nil, err
	}

	return &DelimiterFramerFactory{
		delimiter:   delimiter,
		maxUnframed: maxUnframed,
	}, nil
}

// NewFramer implements Factory.
func (f *DelimiterFramerFactory) NewFramer() Framer[string] {
	framer, _ := NewDelimiterFramer(f.delimiter, f.maxUnframed)
	return framer
}
