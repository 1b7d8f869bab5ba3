package driver

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/zwave-link/internal/bridge"
	"github.com/nerrad567/zwave-link/internal/zwave"
)

type supervisorCall struct {
	op     string
	nodeID int
	value  int
}

// fakeSupervisor records bridge operations and replays subscribed events.
type fakeSupervisor struct {
	mu       sync.Mutex
	calls    []supervisorCall
	lights   []bridge.Light
	covers   []bridge.Cover
	err      error
	handlers map[bridge.ID]func(bridge.Event)
	nextID   bridge.ID
}

var _ Supervisor = (*fakeSupervisor)(nil)

func newFakeSupervisor() *fakeSupervisor {
	return &fakeSupervisor{handlers: make(map[bridge.ID]func(bridge.Event))}
}

func (f *fakeSupervisor) IsConnected() bool          { return true }
func (f *fakeSupervisor) State() bridge.State        { return bridge.StateConnected }
func (f *fakeSupervisor) Controller() zwave.ControllerInfo {
	return zwave.ControllerInfo{HomeID: 1}
}

func (f *fakeSupervisor) GetLights() ([]bridge.Light, error) {
	return f.lights, f.err
}

func (f *fakeSupervisor) GetCovers() ([]bridge.Cover, error) {
	return f.covers, f.err
}

func (f *fakeSupervisor) record(op string, nodeID, value int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, supervisorCall{op, nodeID, value})
	return f.err
}

func (f *fakeSupervisor) ControlLight(_ context.Context, nodeID, brightness int) error {
	return f.record("control_light", nodeID, brightness)
}

func (f *fakeSupervisor) ToggleLight(_ context.Context, nodeID int) error {
	return f.record("toggle_light", nodeID, 0)
}

func (f *fakeSupervisor) ControlCover(_ context.Context, nodeID, position int) error {
	return f.record("control_cover", nodeID, position)
}

func (f *fakeSupervisor) StopCover(_ context.Context, nodeID int) error {
	return f.record("stop_cover", nodeID, 0)
}

func (f *fakeSupervisor) Subscribe(fn func(bridge.Event)) bridge.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.handlers[f.nextID] = fn
	return f.nextID
}

func (f *fakeSupervisor) Unsubscribe(id bridge.ID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
}

func (f *fakeSupervisor) emit(evt bridge.Event) {
	f.mu.Lock()
	handlers := make([]func(bridge.Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(evt)
	}
}

func (f *fakeSupervisor) recorded() []supervisorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supervisorCall(nil), f.calls...)
}

// fakeListener collects listener callbacks.
type fakeListener struct {
	mu          sync.Mutex
	updates     []struct {
		entityID   string
		attributes map[string]any
	}
	states   []string
	statuses []struct {
		entityIDs []string
		status    string
	}
}

func (l *fakeListener) EntityUpdated(entityID string, attributes map[string]any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, struct {
		entityID   string
		attributes map[string]any
	}{entityID, attributes})
}

func (l *fakeListener) ConnectionChanged(state string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, state)
}

func (l *fakeListener) NodeStatusChanged(entityIDs []string, status string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, struct {
		entityIDs []string
		status    string
	}{entityIDs, status})
}

func TestHandleCommandDispatch(t *testing.T) {
	tests := []struct {
		name     string
		entityID string
		command  string
		params   map[string]any
		want     supervisorCall
	}{
		{
			name:     "light on full",
			entityID: "light.hub.2",
			command:  CmdOn,
			want:     supervisorCall{"control_light", 2, 100},
		},
		{
			name:     "light on dimmed, external scale",
			entityID: "light.hub.2",
			command:  CmdOn,
			params:   map[string]any{"brightness": float64(128)},
			want:     supervisorCall{"control_light", 2, 50},
		},
		{
			name:     "light off",
			entityID: "light.hub.2",
			command:  CmdOff,
			want:     supervisorCall{"control_light", 2, 0},
		},
		{
			name:     "light toggle",
			entityID: "light.hub.2",
			command:  CmdToggle,
			want:     supervisorCall{"toggle_light", 2, 0},
		},
		{
			name:     "cover open",
			entityID: "cover.hub.4",
			command:  CmdOpen,
			want:     supervisorCall{"control_cover", 4, 100},
		},
		{
			name:     "cover close",
			entityID: "cover.hub.4",
			command:  CmdClose,
			want:     supervisorCall{"control_cover", 4, 0},
		},
		{
			name:     "cover stop",
			entityID: "cover.hub.4",
			command:  CmdStop,
			want:     supervisorCall{"stop_cover", 4, 0},
		},
		{
			name:     "cover position",
			entityID: "cover.hub.4",
			command:  CmdPosition,
			params:   map[string]any{"position": float64(70)},
			want:     supervisorCall{"control_cover", 4, 70},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sup := newFakeSupervisor()
			r := New(sup, "hub")

			if err := r.HandleCommand(context.Background(), tt.entityID, tt.command, tt.params); err != nil {
				t.Fatalf("HandleCommand() unexpected error: %v", err)
			}

			calls := sup.recorded()
			if len(calls) != 1 || calls[0] != tt.want {
				t.Errorf("supervisor calls = %v, want [%v]", calls, tt.want)
			}
		})
	}
}

func TestHandleCommandErrors(t *testing.T) {
	sup := newFakeSupervisor()
	r := New(sup, "hub")
	ctx := context.Background()

	tests := []struct {
		name     string
		entityID string
		command  string
		params   map[string]any
		wantErr  error
	}{
		{name: "malformed id", entityID: "light.2", command: CmdOn, wantErr: ErrInvalidEntityID},
		{name: "wrong controller", entityID: "light.other.2", command: CmdOn, wantErr: ErrUnknownEntity},
		{name: "unknown type", entityID: "lock.hub.2", command: CmdOn, wantErr: ErrUnknownEntity},
		{name: "unknown light command", entityID: "light.hub.2", command: "dim", wantErr: ErrUnknownCommand},
		{name: "unknown cover command", entityID: "cover.hub.2", command: CmdOn, wantErr: ErrUnknownCommand},
		{
			name:     "brightness out of range",
			entityID: "light.hub.2",
			command:  CmdOn,
			params:   map[string]any{"brightness": float64(500)},
			wantErr:  ErrInvalidParam,
		},
		{name: "position missing", entityID: "cover.hub.2", command: CmdPosition, wantErr: ErrInvalidParam},
		{
			name:     "position not a number",
			entityID: "cover.hub.2",
			command:  CmdPosition,
			params:   map[string]any{"position": "half"},
			wantErr:  ErrInvalidParam,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.HandleCommand(ctx, tt.entityID, tt.command, tt.params)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("HandleCommand() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if calls := sup.recorded(); len(calls) != 0 {
		t.Errorf("invalid commands reached the supervisor: %v", calls)
	}
}

func TestHandleCommandSurfacesBridgeErrors(t *testing.T) {
	sup := newFakeSupervisor()
	sup.err = bridge.ErrNotConnected
	r := New(sup, "hub")

	err := r.HandleCommand(context.Background(), "light.hub.2", CmdOn, nil)
	if !errors.Is(err, bridge.ErrNotConnected) {
		t.Errorf("HandleCommand() error = %v, want bridge.ErrNotConnected unchanged", err)
	}
}

func TestEntities(t *testing.T) {
	sup := newFakeSupervisor()
	sup.lights = []bridge.Light{
		{NodeID: 2, Name: "hall", On: true, Brightness: 50, Dimmable: true, Reachable: true},
	}
	sup.covers = []bridge.Cover{
		{NodeID: 4, Name: "blind", Position: 97, State: bridge.CoverStateOpen, Reachable: true},
	}
	r := New(sup, "hub")

	entities, err := r.Entities()
	if err != nil {
		t.Fatalf("Entities() unexpected error: %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("Entities() returned %d, want 2", len(entities))
	}

	light := entities[0]
	if light.ID != "light.hub.2" || light.Type != EntityTypeLight {
		t.Errorf("light entity = %+v", light)
	}
	if light.Attributes["brightness"] != 127 {
		t.Errorf("brightness = %v, want 127 on the external scale", light.Attributes["brightness"])
	}

	cover := entities[1]
	if cover.ID != "cover.hub.4" || cover.Attributes["position"] != 97 {
		t.Errorf("cover entity = %+v", cover)
	}
	if cover.Attributes["state"] != bridge.CoverStateOpen {
		t.Errorf("cover state = %v, want open", cover.Attributes["state"])
	}
}

func TestEventForwarding(t *testing.T) {
	sup := newFakeSupervisor()
	r := New(sup, "hub")
	listener := &fakeListener{}
	r.SetListener(listener)
	r.Start()
	defer r.Stop()

	sup.emit(bridge.Event{Type: bridge.EventConnected})
	sup.emit(bridge.Event{Type: bridge.EventUpdate, Attributes: map[string]any{
		"node_id": 2, "entity": "light", "brightness": 50, "on": true,
	}})
	sup.emit(bridge.Event{Type: bridge.EventUpdate, Attributes: map[string]any{
		"node_id": 4, "entity": "cover", "position": 3, "state": bridge.CoverStateClosed,
	}})
	sup.emit(bridge.Event{Type: bridge.EventNodeStatus, Attributes: map[string]any{
		"node_id": 2, "status": "dead",
	}})
	sup.emit(bridge.Event{Type: bridge.EventDisconnected})

	listener.mu.Lock()
	defer listener.mu.Unlock()

	if len(listener.states) != 2 || listener.states[0] != "connected" || listener.states[1] != "disconnected" {
		t.Errorf("connection states = %v, want [connected disconnected]", listener.states)
	}

	if len(listener.updates) != 2 {
		t.Fatalf("entity updates = %d, want 2", len(listener.updates))
	}
	light := listener.updates[0]
	if light.entityID != "light.hub.2" {
		t.Errorf("light update entity = %q", light.entityID)
	}
	if light.attributes["brightness"] != 127 {
		t.Errorf("forwarded brightness = %v, want 127 (0-255 scale)", light.attributes["brightness"])
	}
	cover := listener.updates[1]
	if cover.entityID != "cover.hub.4" || cover.attributes["state"] != bridge.CoverStateClosed {
		t.Errorf("cover update = %+v", cover)
	}

	if len(listener.statuses) != 1 || listener.statuses[0].status != "dead" {
		t.Fatalf("node statuses = %+v, want one dead", listener.statuses)
	}
	ids := listener.statuses[0].entityIDs
	if len(ids) != 2 || ids[0] != "light.hub.2" || ids[1] != "cover.hub.2" {
		t.Errorf("status entity IDs = %v", ids)
	}
}

func TestStopDetaches(t *testing.T) {
	sup := newFakeSupervisor()
	r := New(sup, "hub")
	listener := &fakeListener{}
	r.SetListener(listener)
	r.Start()
	r.Stop()

	sup.emit(bridge.Event{Type: bridge.EventConnected})

	listener.mu.Lock()
	defer listener.mu.Unlock()
	if len(listener.states) != 0 {
		t.Errorf("listener invoked after Stop: %v", listener.states)
	}
}
