package zwave

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Default timeouts for Z-Wave JS Server communication.
const (
	// defaultConnectTimeout is the maximum time for dial plus handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultRequestTimeout is the maximum time to wait for a command response.
	defaultRequestTimeout = 5 * time.Second

	// defaultWriteTimeout is the timeout for individual frame writes.
	defaultWriteTimeout = 5 * time.Second

	// supportedSchemaVersion is the highest API schema version this client
	// understands. The negotiated version is the lower of this and the
	// server's maximum.
	supportedSchemaVersion = 35
)

// Well-known server commands.
const (
	cmdSetAPISchema   = "set_api_schema"
	cmdStartListening = "start_listening"
	cmdGetNodes       = "controller.get_nodes"
	cmdDriverPing     = "driver.ping"
	cmdSetValue       = "node.set_value"
)

// Config holds Z-Wave JS Server connection configuration.
type Config struct {
	// Endpoint is the server WebSocket URL, e.g. "ws://zwave.local:3000".
	Endpoint string

	// ConnectTimeout is the maximum time for dial plus handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// RequestTimeout is the maximum time to wait for a command response.
	// Default: 5 seconds.
	RequestTimeout time.Duration
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// EventHandler receives server push events. The name is the server's event
// name (e.g. "value updated") and data is the raw event frame.
type EventHandler func(name string, data json.RawMessage)

// Transport is the surface the supervision layer depends on.
// This allows mocking the server connection in tests.
type Transport interface {
	SendRequest(ctx context.Context, command string, params map[string]any) (json.RawMessage, error)
	AddEventHandler(name string, h EventHandler) int
	RemoveEventHandler(id int)
	SetOnClose(fn func(error))
	SetValue(ctx context.Context, nodeID int, property string, value any) error
	GetNodes(ctx context.Context) ([]Node, error)
	Nodes() []Node
	Controller() ControllerInfo
	Ping(ctx context.Context) error
	IsConnected() bool
	Disconnect()
}

// Ensure Client implements Transport.
var _ Transport = (*Client)(nil)

// requestResult carries the outcome of one correlated request.
type requestResult struct {
	payload json.RawMessage
	err     error
}

// pendingRequest tracks one in-flight request awaiting its response frame.
// The channel is buffered so the reader never blocks on fulfilment.
type pendingRequest struct {
	command string
	ch      chan requestResult
}

// Client is a connection to a Z-Wave JS Server.
//
// A single goroutine owns all reads from the socket; responses are routed
// to waiting callers through the pending table and events are fanned out
// to registered handlers in registration order.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Event handlers run on the read goroutine; a panicking handler is
//     recovered and logged without affecting the connection.
type Client struct {
	cfg  Config
	conn *websocket.Conn

	// Connection state
	connMu    sync.RWMutex
	connected bool

	// writeMu serialises frame writes (the websocket allows one writer).
	writeMu sync.Mutex

	// In-flight requests keyed by correlation ID. Whoever deletes an
	// entry owns delivering its result, so each request resolves once.
	pendingMu sync.Mutex
	pending   map[string]*pendingRequest

	// Event handler registry, invoked in registration order.
	handlerMu   sync.RWMutex
	handlers    map[string][]registeredHandler
	nextHandler int

	// Controller and node snapshots from the handshake state dump,
	// kept current from server events.
	stateMu    sync.RWMutex
	controller ControllerInfo
	nodes      map[int]Node

	// Close notification for the supervision layer.
	onCloseMu sync.RWMutex
	onClose   func(error)

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex
}

type registeredHandler struct {
	id int
	fn EventHandler
}

// Connect dials the Z-Wave JS Server and performs the protocol handshake:
// it reads the version greeting, negotiates the API schema and subscribes
// to the event stream. The returned client has a running read loop and a
// populated node cache.
//
// Parameters:
//   - ctx: Context for cancellation (used for dial and handshake)
//   - cfg: Connection configuration
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: ErrUnreachable, ErrConnectTimeout or ErrProtocolMismatch
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	// Apply defaults
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	if ctx == nil {
		ctx = context.Background()
	}
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: cfg.ConnectTimeout}
	conn, resp, err := dialer.DialContext(connectCtx, cfg.Endpoint, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrConnectTimeout, cfg.Endpoint)
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrUnreachable, cfg.Endpoint, err)
	}

	client := &Client{
		cfg:      cfg,
		conn:     conn,
		pending:  make(map[string]*pendingRequest),
		handlers: make(map[string][]registeredHandler),
		nodes:    make(map[int]Node),
		done:     newCloseOnce(),
	}

	// Handshake runs before the read loop starts, so the socket still has
	// a single reader throughout.
	if err := client.handshake(connectCtx); err != nil {
		conn.Close()
		return nil, err
	}

	client.connMu.Lock()
	client.connected = true
	client.connMu.Unlock()

	client.wg.Add(1)
	go client.readLoop()

	return client, nil
}

// handshake performs the version/schema/listening exchange synchronously
// on the calling goroutine.
func (c *Client) handshake(ctx context.Context) error {
	deadline := time.Now().Add(c.cfg.ConnectTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrUnreachable, err)
	}

	greeting, err := c.readHandshakeFrame()
	if err != nil {
		return err
	}
	if greeting.Type != frameTypeVersion {
		return fmt.Errorf("%w: expected version greeting, got %q", ErrProtocolMismatch, greeting.Type)
	}

	schema := supportedSchemaVersion
	if greeting.MaxSchemaVersion < schema {
		schema = greeting.MaxSchemaVersion
	}
	if schema < greeting.MinSchemaVersion {
		return fmt.Errorf("%w: server requires schema %d-%d, client supports up to %d",
			ErrProtocolMismatch, greeting.MinSchemaVersion, greeting.MaxSchemaVersion, supportedSchemaVersion)
	}

	if _, err := c.handshakeRequest(cmdSetAPISchema, map[string]any{"schemaVersion": schema}); err != nil {
		return err
	}

	result, err := c.handshakeRequest(cmdStartListening, nil)
	if err != nil {
		return err
	}

	var state listeningState
	if err := json.Unmarshal(result, &state); err != nil {
		return fmt.Errorf("%w: malformed listening state: %w", ErrProtocolMismatch, err)
	}

	c.stateMu.Lock()
	c.controller = state.State.Controller
	c.controller.HomeID = greeting.HomeID
	c.controller.ServerVersion = greeting.ServerVersion
	c.controller.DriverVersion = greeting.DriverVersion
	for _, ns := range state.State.Nodes {
		c.nodes[ns.NodeID] = ns.toNode()
	}
	c.stateMu.Unlock()

	// Clear the handshake deadline; the read loop manages its own.
	return c.conn.SetReadDeadline(time.Time{})
}

// handshakeRequest sends one command and reads frames until its response
// arrives. Only used before the read loop starts.
func (c *Client) handshakeRequest(command string, params map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	frame, err := encodeRequest(id, command, params)
	if err != nil {
		return nil, err
	}

	if err := c.writeFrame(frame); err != nil {
		return nil, err
	}

	for {
		f, err := c.readHandshakeFrame()
		if err != nil {
			return nil, err
		}
		if f.Type != frameTypeResult || f.MessageID != id {
			continue
		}
		if !f.Success {
			return nil, &RejectionError{Command: command, Code: f.ErrorCode}
		}
		return f.Result, nil
	}
}

func (c *Client) readHandshakeFrame() (*incomingFrame, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("%w: handshake read: %w", ErrUnreachable, err)
	}
	f, err := parseFrame(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocolMismatch, err)
	}
	return f, nil
}

// readLoop is the single reader of the socket. It routes result frames to
// waiting requests and dispatches event frames to handlers. On socket
// failure it fails all pending requests and notifies the close callback.
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			deliberate := c.isClosed()

			c.connMu.Lock()
			c.connected = false
			c.connMu.Unlock()

			if deliberate {
				c.failAllPending(ErrConnectionClosed)
				return
			}

			c.logError("read failed, connection lost", err)
			c.failAllPending(ErrConnectionLost)
			c.notifyClose(err)
			return
		}

		c.handleFrame(data)
	}
}

func (c *Client) handleFrame(data []byte) {
	f, err := parseFrame(data)
	if err != nil {
		c.logError("dropping malformed frame", err)
		return
	}

	switch f.Type {
	case frameTypeResult:
		c.resolvePending(f)
	case frameTypeEvent:
		c.applyEvent(f.Event, data)
		c.dispatchEvent(f.Event, data)
	default:
		c.logDebug("ignoring frame", "type", f.Type)
	}
}

// resolvePending delivers a response to its waiting request. Responses
// whose correlation ID is unknown (late arrivals after a timeout, or
// duplicates) are discarded.
func (c *Client) resolvePending(f *incomingFrame) {
	c.pendingMu.Lock()
	p, ok := c.pending[f.MessageID]
	if ok {
		delete(c.pending, f.MessageID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logDebug("discarding response with no pending request", "message_id", f.MessageID)
		return
	}

	if !f.Success {
		p.ch <- requestResult{err: &RejectionError{Command: p.command, Code: f.ErrorCode}}
		return
	}
	p.ch <- requestResult{payload: f.Result}
}

// failAllPending resolves every in-flight request with the given error.
// Safe to call when the table is already empty.
func (c *Client) failAllPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	c.pending = make(map[string]*pendingRequest)
	c.pendingMu.Unlock()

	for _, p := range pending {
		p.ch <- requestResult{err: fmt.Errorf("%w: %s", err, p.command)}
	}
}

// applyEvent keeps the node cache current from push events.
func (c *Client) applyEvent(name string, data json.RawMessage) {
	var payload eventPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.NodeID == 0 {
		return
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	node, ok := c.nodes[payload.NodeID]
	if !ok {
		return
	}

	switch name {
	case "value updated":
		if payload.Args.PropertyName != "currentValue" {
			return
		}
		if level, ok := asInt(payload.Args.NewValue); ok {
			node.CurrentValue = level
			c.nodes[payload.NodeID] = node
		}
	case "alive":
		node.Status = NodeStatusAlive
		c.nodes[payload.NodeID] = node
	case "dead":
		node.Status = NodeStatusDead
		c.nodes[payload.NodeID] = node
	case "sleep":
		node.Status = NodeStatusAsleep
		c.nodes[payload.NodeID] = node
	case "wake up":
		node.Status = NodeStatusAwake
		c.nodes[payload.NodeID] = node
	case "ready":
		node.Ready = true
		c.nodes[payload.NodeID] = node
	}
}

// dispatchEvent invokes registered handlers for the event in registration
// order. Events with no registered handler are ignored. Panics in handlers
// are recovered so one bad handler cannot kill the read loop.
func (c *Client) dispatchEvent(name string, data json.RawMessage) {
	c.handlerMu.RLock()
	handlers := append([]registeredHandler(nil), c.handlers[name]...)
	c.handlerMu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logError("event handler panic", fmt.Errorf("event %q: %v", name, r))
				}
			}()
			h.fn(name, data)
		}()
	}
}

// SendRequest sends a command to the server and waits for its response.
//
// Each request carries a unique correlation ID; the response is matched by
// that ID regardless of arrival order. If no response arrives within the
// request timeout the call fails with ErrRequestTimeout and a later
// response is discarded.
//
// Parameters:
//   - ctx: Context for cancellation (may shorten the wait)
//   - command: Server command name, e.g. "node.set_value"
//   - params: Command parameters flattened into the request frame
//
// Returns:
//   - json.RawMessage: The result payload on success
//   - error: ErrNotConnected, ErrRequestTimeout, ErrConnectionLost,
//     ErrConnectionClosed or a RejectionError
func (c *Client) SendRequest(ctx context.Context, command string, params map[string]any) (json.RawMessage, error) {
	if !c.IsConnected() {
		return nil, fmt.Errorf("%w: %s", ErrNotConnected, command)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	id := uuid.NewString()
	p := &pendingRequest{command: command, ch: make(chan requestResult, 1)}

	c.pendingMu.Lock()
	c.pending[id] = p
	c.pendingMu.Unlock()

	frame, err := encodeRequest(id, command, params)
	if err != nil {
		c.removePending(id)
		return nil, err
	}

	if err := c.writeFrame(frame); err != nil {
		c.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case res := <-p.ch:
		return res.payload, res.err
	case <-timer.C:
		if c.removePending(id) {
			return nil, fmt.Errorf("%w: %s after %v", ErrRequestTimeout, command, c.cfg.RequestTimeout)
		}
		// The reader resolved this request while the timer fired; the
		// result is already buffered.
		res := <-p.ch
		return res.payload, res.err
	case <-ctx.Done():
		if c.removePending(id) {
			return nil, fmt.Errorf("zwave: %s: %w", command, ctx.Err())
		}
		res := <-p.ch
		return res.payload, res.err
	}
}

// removePending removes a pending request, reporting whether it was still
// registered. The caller that removes it owns the failure result.
func (c *Client) removePending(id string) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[id]; !ok {
		return false
	}
	delete(c.pending, id)
	return true
}

// writeFrame writes one frame under the write lock.
func (c *Client) writeFrame(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return fmt.Errorf("%w: set deadline: %w", ErrConnectionLost, err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
	}
	return nil
}

// AddEventHandler registers a handler for the named server event and
// returns a subscription ID for RemoveEventHandler. Handlers for the same
// event run in registration order.
func (c *Client) AddEventHandler(name string, h EventHandler) int {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.nextHandler++
	c.handlers[name] = append(c.handlers[name], registeredHandler{id: c.nextHandler, fn: h})
	return c.nextHandler
}

// RemoveEventHandler removes a previously registered handler. Unknown IDs
// are ignored.
func (c *Client) RemoveEventHandler(id int) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	for name, handlers := range c.handlers {
		for i, h := range handlers {
			if h.id == id {
				c.handlers[name] = append(handlers[:i], handlers[i+1:]...)
				return
			}
		}
	}
}

// SetOnClose sets the callback invoked when the connection is lost
// unexpectedly. It is not invoked for a deliberate Disconnect.
func (c *Client) SetOnClose(fn func(error)) {
	c.onCloseMu.Lock()
	c.onClose = fn
	c.onCloseMu.Unlock()
}

func (c *Client) notifyClose(err error) {
	c.onCloseMu.RLock()
	fn := c.onClose
	c.onCloseMu.RUnlock()

	if fn != nil {
		fn(err)
	}
}

// SetValue writes a node value through the Command Class API. The property
// addresses the value within the node's switch command class, e.g.
// "targetValue".
func (c *Client) SetValue(ctx context.Context, nodeID int, property string, value any) error {
	_, err := c.SendRequest(ctx, cmdSetValue, map[string]any{
		"nodeId":   nodeID,
		"property": property,
		"value":    value,
	})
	return err
}

// GetNodes asks the server for the full node list, refreshes the cache and
// returns snapshots sorted by node ID.
func (c *Client) GetNodes(ctx context.Context) ([]Node, error) {
	result, err := c.SendRequest(ctx, cmdGetNodes, nil)
	if err != nil {
		return nil, err
	}

	var parsed nodesResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, fmt.Errorf("zwave: malformed node list: %w", err)
	}

	c.stateMu.Lock()
	for _, ns := range parsed.Nodes {
		c.nodes[ns.NodeID] = ns.toNode()
	}
	c.stateMu.Unlock()

	return c.Nodes(), nil
}

// Nodes returns the cached node snapshots sorted by node ID.
func (c *Client) Nodes() []Node {
	c.stateMu.RLock()
	nodes := make([]Node, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.stateMu.RUnlock()

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

// Controller returns the controller description from the handshake.
func (c *Client) Controller() ControllerInfo {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.controller
}

// Ping verifies the server is responsive end to end.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.SendRequest(ctx, cmdDriverPing, nil)
	return err
}

// IsConnected returns true while the connection is usable.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// isClosed returns true once Disconnect has been called.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// Disconnect closes the connection deliberately. Requests still in flight
// fail with ErrConnectionClosed before Disconnect returns. Safe to call
// multiple times; the close callback is not invoked.
func (c *Client) Disconnect() {
	c.done.Close()

	c.connMu.Lock()
	c.connected = false
	conn := c.conn
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	// Wait for the read loop so the socket has no reader left.
	c.wg.Wait()

	// The read loop fails pendings on exit; this covers requests that
	// registered after the loop returned.
	c.failAllPending(ErrConnectionClosed)

	// The client is finished; drop handler registrations so nothing
	// holds references to supervisor callbacks.
	c.handlerMu.Lock()
	c.handlers = make(map[string][]registeredHandler)
	c.handlerMu.Unlock()

	c.logInfo("connection closed")
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
