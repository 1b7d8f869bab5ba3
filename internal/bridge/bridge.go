package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/zwave-link/internal/zwave"
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

// Default supervision parameters.
const (
	// defaultWatchdogInterval is the liveness probe period.
	defaultWatchdogInterval = 30 * time.Second

	// defaultLivenessFailures is how many consecutive probe failures
	// force a reconnect.
	defaultLivenessFailures = 3

	// defaultReconnectDelay is the pause before each reconnect attempt.
	defaultReconnectDelay = 5 * time.Second

	// defaultReconnectMaxAttempts bounds one reconnect cycle.
	defaultReconnectMaxAttempts = 3

	// defaultConnectTimeout bounds dial plus handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultProbeTimeout bounds a single liveness probe.
	defaultProbeTimeout = 5 * time.Second
)

// State is the supervision state of the bridge connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Config holds bridge supervision configuration.
type Config struct {
	// Endpoint is the Z-Wave JS Server WebSocket URL.
	Endpoint string

	// ConnectTimeout bounds dial plus handshake. Default: 10 seconds.
	ConnectTimeout time.Duration

	// WatchdogInterval is the liveness probe period. Default: 30 seconds.
	WatchdogInterval time.Duration

	// ProbeTimeout bounds a single liveness probe. Default: 5 seconds.
	ProbeTimeout time.Duration

	// LivenessFailures is how many consecutive probe failures force a
	// reconnect. Default: 3.
	LivenessFailures int

	// ReconnectDelay is the pause before each reconnect attempt.
	// Default: 5 seconds.
	ReconnectDelay time.Duration

	// ReconnectMaxAttempts bounds one reconnect cycle. Default: 3.
	ReconnectMaxAttempts int
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// ConnectFunc dials the server and returns a connected transport. The
// bridge calls it for the initial connection and again for every
// reconnect attempt, so each attempt gets a fresh transport.
type ConnectFunc func(ctx context.Context, endpoint string) (zwave.Transport, error)

// Bridge supervises one Z-Wave JS Server connection: it owns the
// transport, probes it for liveness, replaces it when it fails and
// translates server push events into bridge events.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Events are emitted from the goroutine that caused them; a failed
//     probe emits from the watchdog goroutine, a value update from the
//     transport's read goroutine.
//
// Device commands are issued exactly once. If the connection fails
// mid-command the command fails; it is never replayed after reconnect.
type Bridge struct {
	cfg     Config
	connect ConnectFunc

	emitter

	// opMu serializes lifecycle transitions: Connect, the reconnect
	// cycle and Disconnect teardown never overlap, so at most one
	// transport is ever live.
	opMu sync.Mutex

	// Supervision state
	stateMu sync.RWMutex
	state   State

	// Current transport; replaced wholesale on reconnect.
	transportMu sync.RWMutex
	client      zwave.Transport

	// kick wakes the watchdog for an immediate reconnect when the
	// transport reports connection loss.
	kick chan struct{}

	// Shutdown coordination
	done         *closeOnce
	wg           sync.WaitGroup
	watchdogOnce sync.Once

	logMu  sync.RWMutex
	logger Logger
}

// New creates a bridge. The connect function is typically a thin wrapper
// around zwave.Connect carrying timeouts and a logger.
func New(cfg Config, connect ConnectFunc) *Bridge {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.WatchdogInterval == 0 {
		cfg.WatchdogInterval = defaultWatchdogInterval
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.LivenessFailures == 0 {
		cfg.LivenessFailures = defaultLivenessFailures
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = defaultReconnectDelay
	}
	if cfg.ReconnectMaxAttempts == 0 {
		cfg.ReconnectMaxAttempts = defaultReconnectMaxAttempts
	}

	return &Bridge{
		cfg:     cfg,
		connect: connect,
		state:   StateIdle,
		kick:    make(chan struct{}, 1),
		done:    newCloseOnce(),
	}
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logMu.Lock()
	b.logger = logger
	b.logMu.Unlock()
	b.setEmitterLogger(logger)
}

// State returns the current supervision state.
func (b *Bridge) State() State {
	b.stateMu.RLock()
	defer b.stateMu.RUnlock()
	return b.state
}

func (b *Bridge) setState(s State) {
	b.stateMu.Lock()
	b.state = s
	b.stateMu.Unlock()
}

// Connect establishes the initial server connection. On success the
// watchdog starts and keeps the connection alive until Disconnect.
//
// Returns:
//   - error: The transport's connect error; the bridge moves to
//     Disconnected and emits EventError then EventDisconnected, and the
//     caller may call Connect again.
func (b *Bridge) Connect(ctx context.Context) error {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	select {
	case <-b.done.Done():
		return ErrClosed
	default:
	}

	if b.State() == StateConnected {
		return nil
	}

	b.setState(StateConnecting)
	b.emit(Event{Type: EventConnecting})

	t, err := b.dial(ctx)
	if err != nil {
		b.setState(StateDisconnected)
		b.emit(Event{Type: EventError, Attributes: map[string]any{"error": err.Error()}})
		b.emit(Event{Type: EventDisconnected})
		return err
	}

	// Disconnect may have closed the bridge while the dial was in
	// flight; the late transport must not outlive it.
	select {
	case <-b.done.Done():
		t.Disconnect()
		b.setState(StateIdle)
		return ErrClosed
	default:
	}

	b.setTransport(t)
	b.setState(StateConnected)
	b.emitConnected(t)

	b.watchdogOnce.Do(func() {
		b.wg.Add(1)
		go b.watchdog()
	})

	return nil
}

// dial creates a fresh transport and wires the event plumbing.
func (b *Bridge) dial(ctx context.Context) (zwave.Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, b.cfg.ConnectTimeout)
	defer cancel()

	t, err := b.connect(dialCtx, b.cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	t.AddEventHandler("value updated", b.onValueUpdated)
	for _, name := range []string{"alive", "dead", "sleep", "wake up"} {
		t.AddEventHandler(name, b.onNodeStatus)
	}
	t.SetOnClose(b.onTransportClosed)

	return t, nil
}

func (b *Bridge) emitConnected(t zwave.Transport) {
	info := t.Controller()
	b.emit(Event{Type: EventConnected, Attributes: map[string]any{
		"home_id":        info.HomeID,
		"driver_version": info.DriverVersion,
		"node_count":     len(t.Nodes()),
	}})
}

// onTransportClosed is the transport's close callback; it runs on the
// transport read goroutine, so it only nudges the watchdog.
func (b *Bridge) onTransportClosed(err error) {
	b.logWarn("server connection lost", "error", err)
	select {
	case b.kick <- struct{}{}:
	default:
	}
}

// watchdog probes the connection on a fixed interval and drives the
// reconnect cycle, either after repeated probe failures or immediately
// when the transport reports closure.
func (b *Bridge) watchdog() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.WatchdogInterval)
	defer ticker.Stop()

	failures := 0

	for {
		select {
		case <-b.done.Done():
			return

		case <-b.kick:
			// Ignore stale kicks left over from a transport that has
			// already been replaced.
			if t := b.transport(); t != nil && t.IsConnected() {
				continue
			}
			failures = 0
			b.handleConnectionLoss()

		case <-ticker.C:
			// A previous reconnect cycle may have given up; each tick
			// starts a fresh one until the server comes back.
			if b.State() == StateDisconnected {
				failures = 0
				b.retryReconnect()
				continue
			}
			if b.State() != StateConnected {
				continue
			}
			t := b.transport()
			if t == nil {
				continue
			}

			ctx, cancel := context.WithTimeout(context.Background(), b.cfg.ProbeTimeout)
			err := t.Ping(ctx)
			cancel()

			if err == nil {
				failures = 0
				continue
			}

			failures++
			b.logWarn("liveness probe failed",
				"failures", failures, "threshold", b.cfg.LivenessFailures, "error", err)

			if failures >= b.cfg.LivenessFailures {
				failures = 0
				b.handleConnectionLoss()
			}
		}
	}
}

// handleConnectionLoss tears the transport down and runs one reconnect
// cycle. Exactly one EventDisconnected is emitted per loss; attempts
// inside the cycle are silent until one succeeds or the cycle gives up.
func (b *Bridge) handleConnectionLoss() {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	select {
	case <-b.done.Done():
		return
	default:
	}

	// The connection may have been restored while this call waited on
	// the lifecycle lock.
	if t := b.transport(); t != nil && t.IsConnected() {
		return
	}

	b.setState(StateDisconnected)
	b.emit(Event{Type: EventDisconnected})

	old := b.transport()
	b.setTransport(nil)
	if old != nil {
		old.Disconnect()
	}

	b.runReconnectCycle()
}

// retryReconnect starts another attempt cycle after an earlier one gave
// up. The loss was announced back then, so no further EventDisconnected.
func (b *Bridge) retryReconnect() {
	b.opMu.Lock()
	defer b.opMu.Unlock()

	select {
	case <-b.done.Done():
		return
	default:
	}

	if b.State() != StateDisconnected {
		return
	}
	b.runReconnectCycle()
}

// runReconnectCycle runs one bounded attempt loop. The caller holds
// opMu. On exhaustion the bridge parks in StateDisconnected so the next
// watchdog tick tries again.
func (b *Bridge) runReconnectCycle() {
	b.setState(StateReconnecting)

	for attempt := 1; attempt <= b.cfg.ReconnectMaxAttempts; attempt++ {
		select {
		case <-b.done.Done():
			b.setState(StateIdle)
			return
		case <-time.After(b.cfg.ReconnectDelay):
		}

		b.logInfo("reconnecting", "attempt", attempt, "max", b.cfg.ReconnectMaxAttempts)

		t, err := b.dial(context.Background())
		if err != nil {
			b.logError("reconnect attempt failed", err)
			continue
		}

		// Disconnect may have closed the bridge mid-dial; the late
		// transport loses and is torn down here.
		select {
		case <-b.done.Done():
			t.Disconnect()
			b.setState(StateIdle)
			return
		default:
		}

		b.setTransport(t)
		b.setState(StateConnected)
		b.emitConnected(t)
		b.logInfo("reconnected", "attempt", attempt)
		return
	}

	b.setState(StateDisconnected)
	b.logError("reconnect cycle exhausted, retrying on next watchdog tick", ErrReconnectFailed)
	b.emit(Event{Type: EventError, Attributes: map[string]any{
		"error": ErrReconnectFailed.Error(),
	}})
}

// Disconnect shuts the bridge down: the watchdog stops, the transport is
// closed and EventDisconnected is emitted if the connection was still
// up. Safe to call multiple times.
func (b *Bridge) Disconnect() {
	// Close done before taking the lifecycle lock so an in-flight
	// reconnect cycle aborts instead of holding the lock through its
	// remaining attempts.
	b.done.Close()

	b.opMu.Lock()
	announce := b.State() == StateConnected
	t := b.transport()
	b.setTransport(nil)
	if t != nil {
		t.Disconnect()
	}
	b.setState(StateIdle)
	b.opMu.Unlock()

	b.wg.Wait()

	if announce {
		b.emit(Event{Type: EventDisconnected})
	}
}

// IsConnected reports whether the bridge currently has a usable
// connection.
func (b *Bridge) IsConnected() bool {
	return b.State() == StateConnected
}

// Controller returns the controller description, or the zero value when
// disconnected.
func (b *Bridge) Controller() zwave.ControllerInfo {
	t := b.transport()
	if t == nil {
		return zwave.ControllerInfo{}
	}
	return t.Controller()
}

func (b *Bridge) transport() zwave.Transport {
	b.transportMu.RLock()
	defer b.transportMu.RUnlock()
	return b.client
}

func (b *Bridge) setTransport(t zwave.Transport) {
	b.transportMu.Lock()
	b.client = t
	b.transportMu.Unlock()
}

// connectedTransport returns the transport, or ErrNotConnected while the
// bridge has none.
func (b *Bridge) connectedTransport() (zwave.Transport, error) {
	if b.State() != StateConnected {
		return nil, ErrNotConnected
	}
	t := b.transport()
	if t == nil {
		return nil, ErrNotConnected
	}
	return t, nil
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.logMu.RLock()
	logger := b.logger
	b.logMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.logMu.RLock()
	logger := b.logger
	b.logMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	b.logMu.RLock()
	logger := b.logger
	b.logMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error) {
	b.logMu.RLock()
	logger := b.logger
	b.logMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
