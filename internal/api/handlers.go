package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/zwave-link/internal/bridge"
	"github.com/nerrad567/zwave-link/internal/driver"
	"github.com/nerrad567/zwave-link/internal/zwave"
)

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStatus reports the supervised connection state and, when connected,
// the controller identity learned during the handshake.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"state":     s.supervisor.State().String(),
		"connected": s.supervisor.IsConnected(),
	}
	if s.hub != nil {
		resp["ws_clients"] = s.hub.ClientCount()
	}

	if s.supervisor.IsConnected() {
		info := s.supervisor.Controller()
		resp["controller"] = map[string]any{
			"home_id":        info.HomeID,
			"own_node_id":    info.OwnNodeID,
			"sdk_version":    info.SDKVersion,
			"server_version": info.ServerVersion,
			"driver_version": info.DriverVersion,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListEntities returns every light and cover on the external surface.
func (s *Server) handleListEntities(w http.ResponseWriter, _ *http.Request) {
	entities, err := s.router.Entities()
	if err != nil {
		s.writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": entities,
		"count":    len(entities),
	})
}

// handleListLights returns light entities only.
func (s *Server) handleListLights(w http.ResponseWriter, _ *http.Request) {
	s.listByType(w, driver.EntityTypeLight)
}

// handleListCovers returns cover entities only.
func (s *Server) handleListCovers(w http.ResponseWriter, _ *http.Request) {
	s.listByType(w, driver.EntityTypeCover)
}

func (s *Server) listByType(w http.ResponseWriter, entityType string) {
	entities, err := s.router.Entities()
	if err != nil {
		s.writeCommandError(w, err)
		return
	}

	filtered := make([]driver.Entity, 0, len(entities))
	for _, e := range entities {
		if e.Type == entityType {
			filtered = append(filtered, e)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entities": filtered,
		"count":    len(filtered),
	})
}

// commandRequest is the body of POST /entities/{entityID}/command.
type commandRequest struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params"`
}

// handleCommand dispatches an entity command and waits for the controller's
// confirmation before responding.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Command == "" {
		writeBadRequest(w, "command is required")
		return
	}

	if err := s.router.HandleCommand(r.Context(), entityID, req.Command, req.Params); err != nil {
		s.writeCommandError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"entity_id": entityID,
		"command":   req.Command,
	})
}

// writeCommandError maps domain errors onto HTTP status codes.
// Commands are never retried here; a failure is reported exactly as the
// lower layers surfaced it.
func (s *Server) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, driver.ErrInvalidEntityID),
		errors.Is(err, driver.ErrUnknownCommand),
		errors.Is(err, driver.ErrInvalidParam):
		writeBadRequest(w, err.Error())

	case errors.Is(err, driver.ErrUnknownEntity),
		errors.Is(err, bridge.ErrUnknownNode):
		writeNotFound(w, err.Error())

	case errors.Is(err, bridge.ErrNotConnected),
		errors.Is(err, zwave.ErrNotConnected),
		errors.Is(err, zwave.ErrConnectionLost),
		errors.Is(err, zwave.ErrConnectionClosed):
		writeServiceUnavailable(w, err.Error())

	case errors.Is(err, zwave.ErrRequestTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())

	case errors.Is(err, zwave.ErrServerRejected):
		writeError(w, http.StatusBadGateway, ErrCodeUpstream, err.Error())

	default:
		s.logger.Error("unhandled command error", "error", err)
		writeInternalError(w, "internal server error")
	}
}
