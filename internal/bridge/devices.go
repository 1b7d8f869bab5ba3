package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nerrad567/zwave-link/internal/zwave"
)

// Multilevel switch levels are 0-99 on the wire; the bridge exposes a
// 0-100 percent scale and collapses the top of the range.
const maxSwitchLevel = 99

// Light is a switchable or dimmable node as the bridge exposes it.
// Brightness is on the 0-100 scale.
type Light struct {
	NodeID     int    `json:"node_id"`
	Name       string `json:"name"`
	On         bool   `json:"on"`
	Brightness int    `json:"brightness"`
	Dimmable   bool   `json:"dimmable"`
	Reachable  bool   `json:"reachable"`
}

// Cover is a motorised cover node. Position is on the 0-100 scale where
// 0 is fully closed.
type Cover struct {
	NodeID    int    `json:"node_id"`
	Name      string `json:"name"`
	Position  int    `json:"position"`
	State     string `json:"state"`
	Reachable bool   `json:"reachable"`
}

// Cover states derived from position.
const (
	CoverStateOpen    = "open"
	CoverStateClosed  = "closed"
	CoverStateOpening = "opening"
	CoverStateClosing = "closing"
)

// coverState maps a position to a coarse state. The thresholds absorb
// devices that never quite report 0 or 99.
func coverState(position int) string {
	switch {
	case position <= 5:
		return CoverStateClosed
	case position >= 95:
		return CoverStateOpen
	case position > 50:
		return CoverStateOpening
	default:
		return CoverStateClosing
	}
}

// levelToPercent maps a wire level (0-99) onto the 0-100 scale.
func levelToPercent(level int) int {
	if level >= maxSwitchLevel {
		return 100
	}
	if level < 0 {
		return 0
	}
	return level
}

// percentToLevel maps the 0-100 scale onto a wire level (0-99).
func percentToLevel(percent int) int {
	if percent >= maxSwitchLevel {
		return maxSwitchLevel
	}
	if percent < 0 {
		return 0
	}
	return percent
}

// GetLights returns every node the server exposes that behaves like a
// light, sorted by node ID.
func (b *Bridge) GetLights() ([]Light, error) {
	t, err := b.connectedTransport()
	if err != nil {
		return nil, err
	}

	var lights []Light
	for _, n := range t.Nodes() {
		if !n.IsLight() {
			continue
		}
		lights = append(lights, lightFromNode(n))
	}
	return lights, nil
}

// GetCovers returns every motorised cover node, sorted by node ID.
func (b *Bridge) GetCovers() ([]Cover, error) {
	t, err := b.connectedTransport()
	if err != nil {
		return nil, err
	}

	var covers []Cover
	for _, n := range t.Nodes() {
		if !n.IsCover() {
			continue
		}
		covers = append(covers, coverFromNode(n))
	}
	return covers, nil
}

func lightFromNode(n zwave.Node) Light {
	p := levelToPercent(n.CurrentValue)
	return Light{
		NodeID:     n.ID,
		Name:       n.Name,
		On:         p > 0,
		Brightness: p,
		Dimmable:   n.Dimmable(),
		Reachable:  n.Reachable(),
	}
}

func coverFromNode(n zwave.Node) Cover {
	p := levelToPercent(n.CurrentValue)
	return Cover{
		NodeID:    n.ID,
		Name:      n.Name,
		Position:  p,
		State:     coverState(p),
		Reachable: n.Reachable(),
	}
}

// node looks a node up in the transport's cache.
func (b *Bridge) node(nodeID int) (zwave.Node, zwave.Transport, error) {
	t, err := b.connectedTransport()
	if err != nil {
		return zwave.Node{}, nil, err
	}
	for _, n := range t.Nodes() {
		if n.ID == nodeID {
			return n, t, nil
		}
	}
	return zwave.Node{}, nil, fmt.Errorf("%w: %d", ErrUnknownNode, nodeID)
}

// ControlLight sets a light's brightness on the 0-100 scale; 0 turns it
// off. The command is sent exactly once and not replayed on failure.
func (b *Bridge) ControlLight(ctx context.Context, nodeID, brightness int) error {
	n, t, err := b.node(nodeID)
	if err != nil {
		return err
	}

	if !n.Dimmable() {
		// Binary switches only understand the extremes.
		on := brightness > 0
		return t.SetValue(ctx, nodeID, "targetValue", on)
	}
	return t.SetValue(ctx, nodeID, "targetValue", percentToLevel(brightness))
}

// ToggleLight flips a light based on its last reported value.
func (b *Bridge) ToggleLight(ctx context.Context, nodeID int) error {
	n, _, err := b.node(nodeID)
	if err != nil {
		return err
	}

	if n.CurrentValue > 0 {
		return b.ControlLight(ctx, nodeID, 0)
	}
	return b.ControlLight(ctx, nodeID, 100)
}

// ControlCover moves a cover to a position on the 0-100 scale where 0 is
// fully closed.
func (b *Bridge) ControlCover(ctx context.Context, nodeID, position int) error {
	_, t, err := b.node(nodeID)
	if err != nil {
		return err
	}
	return t.SetValue(ctx, nodeID, "targetValue", percentToLevel(position))
}

// StopCover halts a moving cover by re-sending its last reported
// position as the target, which cancels the running level change.
func (b *Bridge) StopCover(ctx context.Context, nodeID int) error {
	n, t, err := b.node(nodeID)
	if err != nil {
		return err
	}
	position := levelToPercent(n.CurrentValue)
	return t.SetValue(ctx, nodeID, "targetValue", percentToLevel(position))
}

// valueEvent is the slice of the server event frame the bridge needs.
type valueEvent struct {
	NodeID int `json:"nodeId"`
	Args   struct {
		PropertyName string `json:"propertyName"`
		NewValue     any    `json:"newValue"`
	} `json:"args"`
}

// onValueUpdated translates a server value event into EventUpdate. Runs
// on the transport read goroutine.
func (b *Bridge) onValueUpdated(_ string, data json.RawMessage) {
	var ev valueEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		b.logDebug("ignoring malformed value event", "error", err)
		return
	}
	if ev.Args.PropertyName != "currentValue" {
		return
	}

	level, ok := eventLevel(ev.Args.NewValue)
	if !ok {
		return
	}
	percent := levelToPercent(level)

	n, _, err := b.node(ev.NodeID)
	if err != nil {
		b.logDebug("value event for unknown node", "node_id", ev.NodeID)
		return
	}

	attrs := map[string]any{"node_id": ev.NodeID}
	switch {
	case n.IsCover():
		attrs["entity"] = "cover"
		attrs["position"] = percent
		attrs["state"] = coverState(percent)
	case n.IsLight():
		attrs["entity"] = "light"
		attrs["brightness"] = percent
		attrs["on"] = percent > 0
	default:
		return
	}

	b.emit(Event{Type: EventUpdate, Attributes: attrs})
}

// onNodeStatus translates node liveness events into EventNodeStatus.
func (b *Bridge) onNodeStatus(name string, data json.RawMessage) {
	var ev valueEvent
	if err := json.Unmarshal(data, &ev); err != nil || ev.NodeID == 0 {
		return
	}

	status := name
	if name == "wake up" {
		status = "awake"
	}

	b.emit(Event{Type: EventNodeStatus, Attributes: map[string]any{
		"node_id": ev.NodeID,
		"status":  status,
	}})
}

// eventLevel coerces the loosely typed value carried by value events.
func eventLevel(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case bool:
		if n {
			return maxSwitchLevel, true
		}
		return 0, true
	default:
		return 0, false
	}
}
