package zwave

import (
	"errors"
	"fmt"
)

// Domain errors for the zwave package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, zwave.ErrRequestTimeout) {
//	    // handle timeout case
//	}
var (
	// ErrNotConnected is returned when an operation requires a connection
	// but the client is not connected to the Z-Wave JS Server.
	ErrNotConnected = errors.New("zwave: not connected to server")

	// ErrUnreachable is returned when the server endpoint cannot be reached.
	ErrUnreachable = errors.New("zwave: server unreachable")

	// ErrConnectTimeout is returned when the connection handshake does not
	// complete within the configured connect timeout.
	ErrConnectTimeout = errors.New("zwave: connect timed out")

	// ErrProtocolMismatch is returned when the server's supported schema
	// range does not overlap with the client's.
	ErrProtocolMismatch = errors.New("zwave: incompatible server schema")

	// ErrRequestTimeout is returned when a request does not receive its
	// response within the request timeout. A response arriving later is
	// discarded.
	ErrRequestTimeout = errors.New("zwave: request timed out")

	// ErrConnectionLost is returned for requests in flight when the
	// underlying socket fails.
	ErrConnectionLost = errors.New("zwave: connection lost")

	// ErrConnectionClosed is returned for requests in flight when the
	// connection is closed deliberately via Disconnect.
	ErrConnectionClosed = errors.New("zwave: connection closed")

	// ErrServerRejected is returned when the server answers a request with
	// success=false. The response error code is carried by RejectionError.
	ErrServerRejected = errors.New("zwave: server rejected command")
)

// RejectionError carries the server-provided error code for a rejected
// command. It unwraps to ErrServerRejected.
type RejectionError struct {
	Command string
	Code    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("zwave: server rejected %q: %s", e.Command, e.Code)
}

// Unwrap allows errors.Is(err, ErrServerRejected).
func (e *RejectionError) Unwrap() error {
	return ErrServerRejected
}
