// Package zwave implements the WebSocket client for the Z-Wave JS Server
// wire protocol.
//
// A Client owns one connection. Connecting performs the full protocol
// handshake (version greeting, API schema negotiation, event stream
// subscription) before any requests are accepted, and a single read
// goroutine routes response frames to waiting callers by correlation ID
// while fanning push events out to registered handlers.
//
// The package deals in protocol terms only: commands, frames, nodes and
// their command classes. Connection supervision (liveness probing,
// reconnection) and device semantics live in higher layers.
package zwave
