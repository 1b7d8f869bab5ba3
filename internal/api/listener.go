package api

import "github.com/nerrad567/zwave-link/internal/driver"

// hubListener relays entity router notifications onto WebSocket channels.
type hubListener struct {
	hub *Hub
}

var _ driver.EntityListener = (*hubListener)(nil)

func (l *hubListener) EntityUpdated(entityID string, attributes map[string]any) {
	l.hub.Broadcast(ChannelEntityUpdated, map[string]any{
		"entity_id":  entityID,
		"attributes": attributes,
	})
}

func (l *hubListener) ConnectionChanged(state string) {
	l.hub.Broadcast(ChannelConnectionState, map[string]any{
		"state": state,
	})
}

func (l *hubListener) NodeStatusChanged(entityIDs []string, status string) {
	l.hub.Broadcast(ChannelEntityStatus, map[string]any{
		"entity_ids": entityIDs,
		"status":     status,
	})
}
