package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/nerrad567/zwave-link/internal/bridge"
	"github.com/nerrad567/zwave-link/internal/zwave"
)

// Commands per entity type.
const (
	CmdOn       = "on"
	CmdOff      = "off"
	CmdToggle   = "toggle"
	CmdOpen     = "open"
	CmdClose    = "close"
	CmdStop     = "stop"
	CmdPosition = "position"
)

// Supervisor is the surface the router needs from the bridge.
// This allows mocking the supervised connection in tests.
type Supervisor interface {
	IsConnected() bool
	State() bridge.State
	Controller() zwave.ControllerInfo
	GetLights() ([]bridge.Light, error)
	GetCovers() ([]bridge.Cover, error)
	ControlLight(ctx context.Context, nodeID, brightness int) error
	ToggleLight(ctx context.Context, nodeID int) error
	ControlCover(ctx context.Context, nodeID, position int) error
	StopCover(ctx context.Context, nodeID int) error
	Subscribe(fn func(bridge.Event)) bridge.ID
	Unsubscribe(id bridge.ID)
}

// Ensure the bridge satisfies Supervisor.
var _ Supervisor = (*bridge.Bridge)(nil)

// EntityListener receives entity and connection updates translated to the
// external surface (brightness on the 0-255 scale).
type EntityListener interface {
	EntityUpdated(entityID string, attributes map[string]any)
	ConnectionChanged(state string)
	NodeStatusChanged(entityIDs []string, status string)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Entity is a device as presented on the external surface.
type Entity struct {
	ID         string         `json:"entity_id"`
	Type       string         `json:"type"`
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes"`
}

// Router maps external entity commands onto bridge operations and
// forwards bridge events to an EntityListener. It carries no connection
// or retry logic; bridge errors surface unchanged.
type Router struct {
	supervisor   Supervisor
	controllerID string

	listenerMu sync.RWMutex
	listener   EntityListener

	sub   bridge.ID
	subMu sync.Mutex

	logMu  sync.RWMutex
	logger Logger
}

// New creates a router for one controller. The controller identifier
// becomes the middle segment of every entity ID.
func New(supervisor Supervisor, controllerID string) *Router {
	return &Router{
		supervisor:   supervisor,
		controllerID: controllerID,
	}
}

// SetLogger sets the logger for this router.
func (r *Router) SetLogger(logger Logger) {
	r.logMu.Lock()
	r.logger = logger
	r.logMu.Unlock()
}

// SetListener installs the listener receiving entity updates.
func (r *Router) SetListener(l EntityListener) {
	r.listenerMu.Lock()
	r.listener = l
	r.listenerMu.Unlock()
}

// Start subscribes the router to bridge events. Call Stop to detach.
func (r *Router) Start() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.sub = r.supervisor.Subscribe(r.onBridgeEvent)
}

// Stop detaches the router from bridge events.
func (r *Router) Stop() {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.supervisor.Unsubscribe(r.sub)
}

// Entities returns every light and cover on the external surface.
func (r *Router) Entities() ([]Entity, error) {
	lights, err := r.supervisor.GetLights()
	if err != nil {
		return nil, err
	}
	covers, err := r.supervisor.GetCovers()
	if err != nil {
		return nil, err
	}

	entities := make([]Entity, 0, len(lights)+len(covers))
	for _, l := range lights {
		entities = append(entities, Entity{
			ID:   EntityID(EntityTypeLight, r.controllerID, l.NodeID),
			Type: EntityTypeLight,
			Name: l.Name,
			Attributes: map[string]any{
				"on":         l.On,
				"brightness": PercentToExternal(l.Brightness),
				"dimmable":   l.Dimmable,
				"reachable":  l.Reachable,
			},
		})
	}
	for _, c := range covers {
		entities = append(entities, Entity{
			ID:   EntityID(EntityTypeCover, r.controllerID, c.NodeID),
			Type: EntityTypeCover,
			Name: c.Name,
			Attributes: map[string]any{
				"position":  c.Position,
				"state":     c.State,
				"reachable": c.Reachable,
			},
		})
	}
	return entities, nil
}

// HandleCommand dispatches one external command to the bridge.
//
// Parameters:
//   - entityID: {type}.{controller}.{node} identifier
//   - command: one of the Cmd* constants for the entity type
//   - params: command parameters; "brightness" is on the 0-255 scale,
//     "position" on 0-100
func (r *Router) HandleCommand(ctx context.Context, entityID, command string, params map[string]any) error {
	defer r.timed(command)()

	entityType, controllerID, nodeID, err := SplitEntityID(entityID)
	if err != nil {
		return err
	}
	if controllerID != r.controllerID {
		return fmt.Errorf("%w: controller %q not served", ErrUnknownEntity, controllerID)
	}

	switch entityType {
	case EntityTypeLight:
		return r.handleLight(ctx, nodeID, command, params)
	case EntityTypeCover:
		return r.handleCover(ctx, nodeID, command, params)
	default:
		return fmt.Errorf("%w: type %q", ErrUnknownEntity, entityType)
	}
}

func (r *Router) handleLight(ctx context.Context, nodeID int, command string, params map[string]any) error {
	switch command {
	case CmdOn:
		brightness := 100
		if raw, ok := params["brightness"]; ok {
			external, ok := paramInt(raw, 0, 255)
			if !ok {
				return fmt.Errorf("%w: brightness %v", ErrInvalidParam, raw)
			}
			brightness = ExternalToPercent(external)
		}
		return r.supervisor.ControlLight(ctx, nodeID, brightness)
	case CmdOff:
		return r.supervisor.ControlLight(ctx, nodeID, 0)
	case CmdToggle:
		return r.supervisor.ToggleLight(ctx, nodeID)
	default:
		return fmt.Errorf("%w: light %q", ErrUnknownCommand, command)
	}
}

func (r *Router) handleCover(ctx context.Context, nodeID int, command string, params map[string]any) error {
	switch command {
	case CmdOpen:
		return r.supervisor.ControlCover(ctx, nodeID, 100)
	case CmdClose:
		return r.supervisor.ControlCover(ctx, nodeID, 0)
	case CmdStop:
		return r.supervisor.StopCover(ctx, nodeID)
	case CmdPosition:
		raw, ok := params["position"]
		if !ok {
			return fmt.Errorf("%w: position missing", ErrInvalidParam)
		}
		position, valid := paramInt(raw, 0, 100)
		if !valid {
			return fmt.Errorf("%w: position %v", ErrInvalidParam, raw)
		}
		return r.supervisor.ControlCover(ctx, nodeID, position)
	default:
		return fmt.Errorf("%w: cover %q", ErrUnknownCommand, command)
	}
}

// paramInt coerces a JSON-decoded parameter into a bounded int.
func paramInt(v any, min, max int) (int, bool) {
	var n int
	switch x := v.(type) {
	case float64:
		n = int(x)
	case int:
		n = x
	default:
		return 0, false
	}
	if n < min || n > max {
		return 0, false
	}
	return n, true
}

// onBridgeEvent translates bridge events for the listener.
func (r *Router) onBridgeEvent(evt bridge.Event) {
	r.listenerMu.RLock()
	listener := r.listener
	r.listenerMu.RUnlock()
	if listener == nil {
		return
	}

	switch evt.Type {
	case bridge.EventConnecting, bridge.EventConnected, bridge.EventDisconnected:
		listener.ConnectionChanged(evt.Type.String())

	case bridge.EventError:
		listener.ConnectionChanged(evt.Type.String())
		r.logWarn("bridge error", "attributes", evt.Attributes)

	case bridge.EventUpdate:
		nodeID, ok := attrInt(evt.Attributes, "node_id")
		if !ok {
			return
		}
		entityType, _ := evt.Attributes["entity"].(string)

		switch entityType {
		case EntityTypeLight:
			brightness, _ := attrInt(evt.Attributes, "brightness")
			listener.EntityUpdated(
				EntityID(EntityTypeLight, r.controllerID, nodeID),
				map[string]any{
					"on":         brightness > 0,
					"brightness": PercentToExternal(brightness),
				})
		case EntityTypeCover:
			position, _ := attrInt(evt.Attributes, "position")
			state, _ := evt.Attributes["state"].(string)
			listener.EntityUpdated(
				EntityID(EntityTypeCover, r.controllerID, nodeID),
				map[string]any{
					"position": position,
					"state":    state,
				})
		}

	case bridge.EventNodeStatus:
		nodeID, ok := attrInt(evt.Attributes, "node_id")
		if !ok {
			return
		}
		status, _ := evt.Attributes["status"].(string)
		// The node's entity type is not carried by status events, so
		// both candidate identifiers are reported.
		listener.NodeStatusChanged([]string{
			EntityID(EntityTypeLight, r.controllerID, nodeID),
			EntityID(EntityTypeCover, r.controllerID, nodeID),
		}, status)
	}
}

func attrInt(attrs map[string]any, key string) (int, bool) {
	switch v := attrs[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}

func (r *Router) logWarn(msg string, keysAndValues ...any) {
	r.logMu.RLock()
	logger := r.logger
	r.logMu.RUnlock()

	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}
