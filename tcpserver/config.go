// Package tcpserver implements an asynchronous TCP server framework: an
// accept loop gated by an admission semaphore, per-connection sessions that
// drive receive/send loops through a pluggable framing layer, and a handler
// contract the server routes session events to.
package tcpserver

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Protocol is the transport protocol a server binds with. Only TCP is
// supported.
type Protocol string

// ProtocolTCP is the only supported transport protocol.
const ProtocolTCP Protocol = "tcp"

const (
	// DefaultMaxConnections is the admission capacity used when none is
	// configured.
	DefaultMaxConnections = 1

	// DefaultBufferSize is the per-session receive buffer size used when none
	// is configured.
	DefaultBufferSize = 4096
)

// Config holds the immutable configuration of a Server. Construct it once and
// pass it to NewServer; zero values for optional fields are replaced with
// defaults before validation.
type Config struct {
	// IPAddress is the local address to bind. Required; must parse as an IP.
	IPAddress string
	// Port is the local port to bind, 0..65535. Port 0 binds an ephemeral port.
	Port int
	// Protocol is the transport protocol. Defaults to ProtocolTCP.
	Protocol Protocol
	// MaxConnections is the admission capacity. Defaults to 1.
	MaxConnections int
	// BufferSize is the per-session receive buffer size in bytes. Defaults to 4096.
	BufferSize int
	// HistoryTTL is how long summaries of ended sessions are retained for
	// RecentSessions. Zero disables history.
	HistoryTTL time.Duration
}

// DefaultConfig returns a Config for the given bind address with all optional
// fields set to their defaults.
//
// Parameters:
//   - ipAddress: The local IP address to bind
//   - port: The local port to bind
//
// Returns:
//   - A Config with Protocol tcp, MaxConnections 1, BufferSize 4096
func DefaultConfig(ipAddress string, port int) Config {
	return Config{
		IPAddress:      ipAddress,
		Port:           port,
		Protocol:       ProtocolTCP,
		MaxConnections: DefaultMaxConnections,
		BufferSize:     DefaultBufferSize,
	}
}

// withDefaults returns a copy of c with zero-valued optional fields replaced
// by their defaults.
func (c Config) withDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = ProtocolTCP
	}

	if c.MaxConnections == 0 {
		c.MaxConnections = DefaultMaxConnections
	}

	if c.BufferSize == 0 {
		c.BufferSize = DefaultBufferSize
	}

	return c
}

// Validate checks the configuration and reports the first problem found.
//
// Returns:
//   - An error describing the invalid field, or nil when the config is usable
func (c Config) Validate() error {
	if net.ParseIP(c.IPAddress) == nil {
		return fmt.Errorf("tcpserver: invalid ip address %q", c.IPAddress)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("tcpserver: port %d out of range 0..65535", c.Port)
	}

	if c.Protocol != ProtocolTCP {
		return fmt.Errorf("tcpserver: unsupported protocol %q", c.Protocol)
	}

	if c.MaxConnections < 1 {
		return fmt.Errorf("tcpserver: max connections must be at least 1, got %d", c.MaxConnections)
	}

	if c.BufferSize <= 0 {
		return fmt.Errorf("tcpserver: buffer size must be positive, got %d", c.BufferSize)
	}

	if c.HistoryTTL < 0 {
		return fmt.Errorf("tcpserver: history ttl must not be negative, got %s", c.HistoryTTL)
	}

	return nil
}

// addr returns the "host:port" string the server listens on.
func (c Config) addr() string {
	return net.JoinHostPort(c.IPAddress, strconv.Itoa(c.Port))
}
