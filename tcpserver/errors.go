package tcpserver

import "errors"

// ClientError indicates misuse of the session API by the caller, such as
// sending on a stopped session. It is distinct from socket errors and framing
// overflow and is recoverable: the caller may simply stop using the session.
type ClientError struct {
	Reason string
}

// Error implements the error interface.
func (e *ClientError) Error() string {
	return "tcpserver: " + e.Reason
}

// IsClientError reports whether err is (or wraps) a ClientError.
//
// Parameters:
//   - err: The error to inspect
//
// Returns:
//   - true if err is an API-misuse error, false otherwise
func IsClientError(err error) bool {
	var ce *ClientError
	return errors.As(err, &ce)
}

// errNotRunning is returned by Send once the session has stopped.
func errNotRunning() error {
	return &ClientError{Reason: "session is not running"}
}
