package bridge

import "errors"

var (
	// ErrNotConnected is returned for device commands issued while the
	// bridge has no usable server connection. Commands are never queued
	// or retried; the caller decides whether to try again.
	ErrNotConnected = errors.New("bridge: not connected")

	// ErrReconnectFailed is reported once the reconnect cycle has used
	// up its attempts.
	ErrReconnectFailed = errors.New("bridge: reconnect attempts exhausted")

	// ErrUnknownNode is returned for commands addressing a node the
	// server has not reported.
	ErrUnknownNode = errors.New("bridge: unknown node")

	// ErrClosed is returned by Connect once Disconnect has shut the
	// bridge down for good.
	ErrClosed = errors.New("bridge: closed")
)
