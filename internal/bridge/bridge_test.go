package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/zwave-link/internal/zwave"
)

// fastConfig keeps supervision timing short enough for tests.
func fastConfig() Config {
	return Config{
		Endpoint:             "ws://test.invalid:3000",
		ConnectTimeout:       time.Second,
		WatchdogInterval:     20 * time.Millisecond,
		ProbeTimeout:         100 * time.Millisecond,
		LivenessFailures:     2,
		ReconnectDelay:       10 * time.Millisecond,
		ReconnectMaxAttempts: 2,
	}
}

type setValueCall struct {
	nodeID   int
	property string
	value    any
}

// fakeTransport implements zwave.Transport for supervision tests.
type fakeTransport struct {
	mu            sync.Mutex
	nodes         []zwave.Node
	connected     bool
	disconnects   int
	pingErr       error
	setValueErr   error
	setValueCalls []setValueCall
	handlers      map[string][]zwave.EventHandler
	nextHandler   int
	onClose       func(error)
}

var _ zwave.Transport = (*fakeTransport)(nil)

func newFakeTransport(nodes ...zwave.Node) *fakeTransport {
	return &fakeTransport{
		nodes:     nodes,
		connected: true,
		handlers:  make(map[string][]zwave.EventHandler),
	}
}

func (f *fakeTransport) SendRequest(context.Context, string, map[string]any) (json.RawMessage, error) {
	return nil, nil
}

func (f *fakeTransport) SetValue(_ context.Context, nodeID int, property string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setValueCalls = append(f.setValueCalls, setValueCall{nodeID, property, value})
	return f.setValueErr
}

func (f *fakeTransport) AddEventHandler(name string, h zwave.EventHandler) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextHandler++
	f.handlers[name] = append(f.handlers[name], h)
	return f.nextHandler
}

func (f *fakeTransport) RemoveEventHandler(int) {}

func (f *fakeTransport) SetOnClose(fn func(error)) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

func (f *fakeTransport) GetNodes(context.Context) ([]zwave.Node, error) {
	return f.Nodes(), nil
}

func (f *fakeTransport) Nodes() []zwave.Node {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]zwave.Node(nil), f.nodes...)
}

func (f *fakeTransport) Controller() zwave.ControllerInfo {
	return zwave.ControllerInfo{HomeID: 1234, DriverVersion: "12.0.0"}
}

func (f *fakeTransport) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Disconnect() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnects++
}

func (f *fakeTransport) setPingErr(err error) {
	f.mu.Lock()
	f.pingErr = err
	f.mu.Unlock()
}

// fireClose simulates the transport losing its socket.
func (f *fakeTransport) fireClose(err error) {
	f.mu.Lock()
	f.connected = false
	fn := f.onClose
	f.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// fireEvent invokes registered handlers the way the read loop would.
func (f *fakeTransport) fireEvent(name string, data string) {
	f.mu.Lock()
	handlers := append([]zwave.EventHandler(nil), f.handlers[name]...)
	f.mu.Unlock()
	for _, h := range handlers {
		h(name, json.RawMessage(data))
	}
}

// fakeConnector hands out transports (or errors) in sequence; when the
// queue runs dry it keeps producing fresh default transports.
type fakeConnector struct {
	mu         sync.Mutex
	transports []*fakeTransport
	errs       []error
	calls      int
	created    []*fakeTransport
}

func (f *fakeConnector) connect(context.Context, string) (zwave.Transport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.calls
	f.calls++

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	var t *fakeTransport
	if i < len(f.transports) && f.transports[i] != nil {
		t = f.transports[i]
	} else {
		t = newFakeTransport()
	}
	f.created = append(f.created, t)
	return t, nil
}

func (f *fakeConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// eventRecorder collects emitted events for sequence assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *eventRecorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	types := make([]EventType, len(r.events))
	for i, e := range r.events {
		types[i] = e.Type
	}
	return types
}

// waitFor blocks until the recorder has seen n events of the given type.
func (r *eventRecorder) waitFor(t *testing.T, typ EventType, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		count := 0
		r.mu.Lock()
		for _, e := range r.events {
			if e.Type == typ {
				count++
			}
		}
		r.mu.Unlock()
		if count >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %s events, saw %v", n, typ, r.types())
}

func assertTypes(t *testing.T, got, want []EventType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("event sequence = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event sequence = %v, want %v", got, want)
		}
	}
}

func TestConnectLifecycle(t *testing.T) {
	ft := newFakeTransport()
	conn := &fakeConnector{transports: []*fakeTransport{ft}}
	b := New(fastConfig(), conn.connect)
	defer b.Disconnect()

	rec := &eventRecorder{}
	b.Subscribe(rec.record)

	if b.State() != StateIdle {
		t.Fatalf("initial state = %v, want idle", b.State())
	}

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}
	if !b.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	assertTypes(t, rec.types(), []EventType{EventConnecting, EventConnected})

	// Connect while connected is a no-op.
	if err := b.Connect(context.Background()); err != nil {
		t.Errorf("second Connect() unexpected error: %v", err)
	}
	assertTypes(t, rec.types(), []EventType{EventConnecting, EventConnected})

	if b.Controller().HomeID != 1234 {
		t.Errorf("Controller().HomeID = %d, want 1234", b.Controller().HomeID)
	}
}

func TestConnectFailure(t *testing.T) {
	dialErr := errors.New("dial refused")
	conn := &fakeConnector{errs: []error{dialErr}}
	b := New(fastConfig(), conn.connect)
	defer b.Disconnect()

	rec := &eventRecorder{}
	b.Subscribe(rec.record)

	err := b.Connect(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("Connect() error = %v, want %v", err, dialErr)
	}
	if b.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected", b.State())
	}
	assertTypes(t, rec.types(), []EventType{
		EventConnecting, EventError, EventDisconnected,
	})

	// A second Connect succeeds once the server is reachable.
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("retried Connect() unexpected error: %v", err)
	}
	if b.State() != StateConnected {
		t.Errorf("state = %v, want connected after retry", b.State())
	}
}

func TestWatchdogReconnectsAfterProbeFailures(t *testing.T) {
	ft := newFakeTransport()
	conn := &fakeConnector{transports: []*fakeTransport{ft}}
	b := New(fastConfig(), conn.connect)
	defer b.Disconnect()

	rec := &eventRecorder{}
	b.Subscribe(rec.record)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	ft.setPingErr(errors.New("probe timeout"))

	// Two failed probes trip the threshold, then the reconnect cycle
	// produces a fresh transport.
	rec.waitFor(t, EventConnected, 2, 2*time.Second)

	assertTypes(t, rec.types(), []EventType{
		EventConnecting, EventConnected,
		EventDisconnected, EventConnected,
	})

	ft.mu.Lock()
	disconnects := ft.disconnects
	ft.mu.Unlock()
	if disconnects == 0 {
		t.Error("failed transport was not torn down")
	}
	if !b.IsConnected() {
		t.Error("IsConnected() = false after recovery")
	}
}

func TestCloseNotificationTriggersImmediateReconnect(t *testing.T) {
	ft := newFakeTransport()
	conn := &fakeConnector{transports: []*fakeTransport{ft}}

	cfg := fastConfig()
	// A long probe interval proves the reconnect came from the close
	// notification, not the ticker.
	cfg.WatchdogInterval = time.Hour
	b := New(cfg, conn.connect)
	defer b.Disconnect()

	rec := &eventRecorder{}
	b.Subscribe(rec.record)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	ft.fireClose(errors.New("socket reset"))

	rec.waitFor(t, EventConnected, 2, 2*time.Second)
	assertTypes(t, rec.types(), []EventType{
		EventConnecting, EventConnected,
		EventDisconnected, EventConnected,
	})
}

func TestReconnectExhaustionEmitsError(t *testing.T) {
	ft := newFakeTransport()
	dialErr := errors.New("dial refused")
	conn := &fakeConnector{
		transports: []*fakeTransport{ft},
		errs:       []error{nil, dialErr, dialErr},
	}

	cfg := fastConfig()
	// A long tick isolates the kick-driven cycle; nothing retries until
	// the next tick.
	cfg.WatchdogInterval = time.Hour
	b := New(cfg, conn.connect) // two attempts, both fail
	defer b.Disconnect()

	rec := &eventRecorder{}
	b.Subscribe(rec.record)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	ft.fireClose(errors.New("socket reset"))

	rec.waitFor(t, EventError, 1, 2*time.Second)
	assertTypes(t, rec.types(), []EventType{
		EventConnecting, EventConnected,
		EventDisconnected, EventError,
	})
	if b.State() != StateDisconnected {
		t.Errorf("state = %v, want disconnected after exhausted cycle", b.State())
	}
	if got := conn.callCount(); got != 3 {
		t.Errorf("connect calls = %d, want 3 (initial + 2 attempts)", got)
	}
}

func TestWatchdogRetriesAfterExhaustedCycle(t *testing.T) {
	ft := newFakeTransport()
	dialErr := errors.New("dial refused")
	conn := &fakeConnector{
		transports: []*fakeTransport{ft},
		errs:       []error{nil, dialErr, dialErr},
	}
	b := New(fastConfig(), conn.connect) // first cycle exhausts both attempts
	defer b.Disconnect()

	rec := &eventRecorder{}
	b.Subscribe(rec.record)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	ft.fireClose(errors.New("socket reset"))

	// The first cycle fails both attempts; the connector then recovers,
	// and the next watchdog tick must start a fresh cycle that succeeds.
	rec.waitFor(t, EventError, 1, 2*time.Second)
	rec.waitFor(t, EventConnected, 2, 2*time.Second)

	assertTypes(t, rec.types(), []EventType{
		EventConnecting, EventConnected,
		EventDisconnected, EventError,
		EventConnected,
	})
	if !b.IsConnected() {
		t.Error("IsConnected() = false after tick-driven recovery")
	}
	// No second EventDisconnected: the loss was announced once.
}

func TestDisconnectDuringReconnectTearsDownLateTransport(t *testing.T) {
	ft := newFakeTransport()
	late := newFakeTransport()

	dialStarted := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0

	connect := func(context.Context, string) (zwave.Transport, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return ft, nil
		}
		close(dialStarted)
		<-release
		return late, nil
	}

	cfg := fastConfig()
	cfg.WatchdogInterval = time.Hour
	b := New(cfg, connect)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	ft.fireClose(errors.New("socket reset"))
	<-dialStarted

	// Disconnect lands while the reconnect dial is in flight; when the
	// dial completes, its transport must not survive the shutdown.
	disconnected := make(chan struct{})
	go func() {
		b.Disconnect()
		close(disconnected)
	}()

	close(release)
	<-disconnected

	if b.State() != StateIdle {
		t.Errorf("state = %v, want idle", b.State())
	}
	late.mu.Lock()
	lateDisconnects := late.disconnects
	late.mu.Unlock()
	if lateDisconnects == 0 {
		t.Error("transport dialed during shutdown was left connected")
	}
	if b.transport() != nil {
		t.Error("bridge still holds a transport after Disconnect")
	}
}

func TestDisconnectIdempotent(t *testing.T) {
	ft := newFakeTransport()
	conn := &fakeConnector{transports: []*fakeTransport{ft}}
	b := New(fastConfig(), conn.connect)

	rec := &eventRecorder{}
	b.Subscribe(rec.record)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	b.Disconnect()
	b.Disconnect()

	if b.State() != StateIdle {
		t.Errorf("state = %v, want idle", b.State())
	}
	assertTypes(t, rec.types(), []EventType{
		EventConnecting, EventConnected, EventDisconnected,
	})

	ft.mu.Lock()
	disconnects := ft.disconnects
	ft.mu.Unlock()
	if disconnects != 1 {
		t.Errorf("transport disconnects = %d, want 1", disconnects)
	}
}

func TestCommandsNotConnected(t *testing.T) {
	b := New(fastConfig(), (&fakeConnector{}).connect)
	defer b.Disconnect()

	if _, err := b.GetLights(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetLights() error = %v, want ErrNotConnected", err)
	}
	if _, err := b.GetCovers(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("GetCovers() error = %v, want ErrNotConnected", err)
	}
	if err := b.ControlLight(context.Background(), 2, 50); !errors.Is(err, ErrNotConnected) {
		t.Errorf("ControlLight() error = %v, want ErrNotConnected", err)
	}
	if err := b.StopCover(context.Background(), 4); !errors.Is(err, ErrNotConnected) {
		t.Errorf("StopCover() error = %v, want ErrNotConnected", err)
	}
}

func TestCommandFailureIsNotRetried(t *testing.T) {
	ft := newFakeTransport(dimmerNode(2, 40))
	ft.setValueErr = zwave.ErrConnectionLost
	conn := &fakeConnector{transports: []*fakeTransport{ft}}

	cfg := fastConfig()
	cfg.WatchdogInterval = time.Hour
	b := New(cfg, conn.connect)
	defer b.Disconnect()

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() unexpected error: %v", err)
	}

	err := b.ControlLight(context.Background(), 2, 80)
	if !errors.Is(err, zwave.ErrConnectionLost) {
		t.Fatalf("ControlLight() error = %v, want ErrConnectionLost", err)
	}

	ft.mu.Lock()
	calls := len(ft.setValueCalls)
	ft.mu.Unlock()
	if calls != 1 {
		t.Errorf("SetValue calls = %d, want exactly 1 (no retry)", calls)
	}
}
