package zwave

import (
	"encoding/json"
	"fmt"
)

// Frame type discriminators used by the Z-Wave JS Server wire protocol.
const (
	frameTypeVersion = "version"
	frameTypeResult  = "result"
	frameTypeEvent   = "event"
)

// incomingFrame is the superset of all server-to-client frame shapes.
// The Type field selects which of the remaining fields are meaningful.
type incomingFrame struct {
	Type string `json:"type"`

	// Result frames.
	MessageID string          `json:"messageId,omitempty"`
	Success   bool            `json:"success,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	ErrorCode string          `json:"errorCode,omitempty"`

	// Event frames.
	Event string `json:"event,omitempty"`

	// Version greeting.
	DriverVersion    string `json:"driverVersion,omitempty"`
	ServerVersion    string `json:"serverVersion,omitempty"`
	HomeID           uint32 `json:"homeId,omitempty"`
	MinSchemaVersion int    `json:"minSchemaVersion,omitempty"`
	MaxSchemaVersion int    `json:"maxSchemaVersion,omitempty"`
}

func parseFrame(data []byte) (*incomingFrame, error) {
	var f incomingFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("zwave: malformed frame: %w", err)
	}
	return &f, nil
}

// encodeRequest builds the outgoing request frame. The correlation ID and
// command name are flattened into the same object as the command parameters.
func encodeRequest(messageID, command string, params map[string]any) ([]byte, error) {
	frame := make(map[string]any, len(params)+2)
	for k, v := range params {
		frame[k] = v
	}
	frame["messageId"] = messageID
	frame["command"] = command

	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("zwave: encoding %q request: %w", command, err)
	}
	return data, nil
}

// eventPayload is the envelope shared by node-scoped server events.
type eventPayload struct {
	Source string    `json:"source"`
	NodeID int       `json:"nodeId"`
	Args   eventArgs `json:"args"`
}

type eventArgs struct {
	CommandClass int    `json:"commandClass"`
	Property     any    `json:"property"`
	PropertyName string `json:"propertyName"`
	NewValue     any    `json:"newValue"`
	PrevValue    any    `json:"prevValue"`
}

// ControllerInfo describes the Z-Wave controller behind the server,
// assembled from the version greeting and the start_listening state dump.
type ControllerInfo struct {
	HomeID        uint32 `json:"homeId"`
	OwnNodeID     int    `json:"ownNodeId"`
	SDKVersion    string `json:"sdkVersion"`
	Type          int    `json:"type"`
	ServerVersion string `json:"-"`
	DriverVersion string `json:"-"`
}

// listeningState mirrors the result of the start_listening command.
type listeningState struct {
	State struct {
		Controller ControllerInfo `json:"controller"`
		Nodes      []nodeState    `json:"nodes"`
	} `json:"state"`
}

// nodesResult mirrors the result of the node enumeration command.
type nodesResult struct {
	Nodes []nodeState `json:"nodes"`
}

// asInt coerces the loosely typed JSON numbers the server sends for
// switch values. Booleans map to the binary switch extremes.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case bool:
		if n {
			return 99, true
		}
		return 0, true
	default:
		return 0, false
	}
}
