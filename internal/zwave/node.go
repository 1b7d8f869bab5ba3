package zwave

import "strings"

// NodeStatus is the liveness state the server reports for a node.
type NodeStatus int

// Node status values as reported by the Z-Wave JS Server.
const (
	NodeStatusUnknown NodeStatus = 0
	NodeStatusAsleep  NodeStatus = 1
	NodeStatusAwake   NodeStatus = 2
	NodeStatusDead    NodeStatus = 3
	NodeStatusAlive   NodeStatus = 4
)

func (s NodeStatus) String() string {
	switch s {
	case NodeStatusAsleep:
		return "asleep"
	case NodeStatusAwake:
		return "awake"
	case NodeStatusDead:
		return "dead"
	case NodeStatusAlive:
		return "alive"
	default:
		return "unknown"
	}
}

// Command class identifiers relevant to switch and cover devices.
const (
	CommandClassSwitchBinary     = 0x25
	CommandClassSwitchMultilevel = 0x26
)

// Generic device class keys.
const (
	GenericTypeSwitchBinary     = 0x10
	GenericTypeSwitchMultilevel = 0x11
)

// CommandClass describes one command class implemented by a node.
type CommandClass struct {
	ID      int    `json:"id"`
	Name    string `json:"commandClassName"`
	Version int    `json:"version"`
}

// Node is a snapshot of one device on the Z-Wave network. Snapshots are
// values; mutating one does not affect the client's cache.
type Node struct {
	ID             int
	Name           string
	DeviceType     string
	GenericType    int
	Status         NodeStatus
	Ready          bool
	CommandClasses []CommandClass
	// CurrentValue is the last reported multilevel/binary switch level
	// on the 0-99 scale.
	CurrentValue int
}

// Reachable reports whether the node is known to be responsive. Asleep
// battery devices are considered reachable since commands are queued.
func (n Node) Reachable() bool {
	return n.Status != NodeStatusDead && n.Status != NodeStatusUnknown
}

// HasCommandClass reports whether the node implements the given command class.
func (n Node) HasCommandClass(id int) bool {
	for _, cc := range n.CommandClasses {
		if cc.ID == id {
			return true
		}
	}
	return false
}

// IsLight reports whether the node should be exposed as a switchable or
// dimmable light. Motorised devices carry the multilevel switch class too,
// so cover classification wins.
func (n Node) IsLight() bool {
	if n.IsCover() {
		return false
	}
	if n.GenericType == GenericTypeSwitchBinary || n.GenericType == GenericTypeSwitchMultilevel {
		return true
	}
	return n.HasCommandClass(CommandClassSwitchBinary) || n.HasCommandClass(CommandClassSwitchMultilevel)
}

// Dimmable reports whether the light supports intermediate levels.
func (n Node) Dimmable() bool {
	return n.HasCommandClass(CommandClassSwitchMultilevel)
}

// IsCover reports whether the node is a motorised cover (blind, shade,
// curtain or window covering).
func (n Node) IsCover() bool {
	t := strings.ToLower(n.DeviceType)
	for _, marker := range []string{"cover", "blind", "shade", "curtain", "motor control"} {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

// nodeState mirrors the server's JSON representation of a node.
type nodeState struct {
	NodeID      int    `json:"nodeId"`
	Name        string `json:"name"`
	Status      int    `json:"status"`
	Ready       bool   `json:"ready"`
	DeviceClass *struct {
		Generic struct {
			Key   int    `json:"key"`
			Label string `json:"label"`
		} `json:"generic"`
		Specific struct {
			Key   int    `json:"key"`
			Label string `json:"label"`
		} `json:"specific"`
	} `json:"deviceClass"`
	CommandClasses []CommandClass `json:"commandClasses"`
	Values         []struct {
		CommandClass int    `json:"commandClass"`
		PropertyName string `json:"propertyName"`
		Value        any    `json:"value"`
	} `json:"values"`
}

// toNode converts the wire representation into a snapshot.
func (s nodeState) toNode() Node {
	n := Node{
		ID:             s.NodeID,
		Name:           s.Name,
		Status:         NodeStatus(s.Status),
		Ready:          s.Ready,
		CommandClasses: append([]CommandClass(nil), s.CommandClasses...),
	}
	if s.DeviceClass != nil {
		n.GenericType = s.DeviceClass.Generic.Key
		n.DeviceType = s.DeviceClass.Generic.Label
		if s.DeviceClass.Specific.Label != "" {
			n.DeviceType += " - " + s.DeviceClass.Specific.Label
		}
	}
	for _, v := range s.Values {
		if v.PropertyName != "currentValue" {
			continue
		}
		if v.CommandClass != CommandClassSwitchBinary && v.CommandClass != CommandClassSwitchMultilevel {
			continue
		}
		if level, ok := asInt(v.Value); ok {
			n.CurrentValue = level
		}
	}
	return n
}
