package bridge

import (
	"fmt"
	"sync"
)

// EventType identifies a bridge lifecycle or state event.
type EventType int

const (
	// EventConnecting fires when a connection attempt starts.
	EventConnecting EventType = iota

	// EventConnected fires once the server handshake completes.
	EventConnected

	// EventDisconnected fires when the connection is lost or closed.
	EventDisconnected

	// EventError fires for unrecoverable conditions, e.g. an exhausted
	// reconnect cycle.
	EventError

	// EventUpdate fires when a device reports a new value.
	EventUpdate

	// EventNodeStatus fires when a node's liveness state changes.
	EventNodeStatus
)

func (t EventType) String() string {
	switch t {
	case EventConnecting:
		return "connecting"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	case EventUpdate:
		return "update"
	case EventNodeStatus:
		return "node_status"
	default:
		return fmt.Sprintf("event(%d)", int(t))
	}
}

// Event is delivered to subscribers. Attributes carry event-specific
// details (node_id, brightness, position, status, error).
type Event struct {
	Type       EventType
	Attributes map[string]any
}

// subscriber pairs a subscription ID with its callback.
type subscriber struct {
	id ID
	fn func(Event)
}

// ID identifies a subscription for Unsubscribe.
type ID int

// emitter fans events out to subscribers in subscription order. A
// panicking subscriber is recovered and logged so it cannot take down
// the goroutine delivering the event.
type emitter struct {
	mu     sync.RWMutex
	subs   []subscriber
	nextID ID

	logger   Logger
	loggerMu sync.RWMutex
}

// Subscribe registers a callback for all bridge events.
func (e *emitter) Subscribe(fn func(Event)) ID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.subs = append(e.subs, subscriber{id: e.nextID, fn: fn})
	return e.nextID
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (e *emitter) Unsubscribe(id ID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i, s := range e.subs {
		if s.id == id {
			e.subs = append(e.subs[:i], e.subs[i+1:]...)
			return
		}
	}
}

func (e *emitter) emit(evt Event) {
	e.mu.RLock()
	subs := append([]subscriber(nil), e.subs...)
	e.mu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.emitterLogError("event subscriber panic",
						fmt.Errorf("%s: %v", evt.Type, r))
				}
			}()
			s.fn(evt)
		}()
	}
}

func (e *emitter) setEmitterLogger(logger Logger) {
	e.loggerMu.Lock()
	e.logger = logger
	e.loggerMu.Unlock()
}

func (e *emitter) emitterLogError(msg string, err error) {
	e.loggerMu.RLock()
	logger := e.logger
	e.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
