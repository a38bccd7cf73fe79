package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-relay/internal/auth"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
	"github.com/nerrad567/gray-logic-relay/internal/homes"
)

// homeFor checks the caller holds perm on the home named in the URL.
func (s *Server) homeFor(w http.ResponseWriter, r *http.Request, perm auth.Permission) (string, bool) {
	homeID := chi.URLParam(r, "home_id")
	ctx := r.Context()
	if err := s.authz.Require(ctx, userIDFromContext(ctx), homeID, perm); err != nil {
		s.writeServiceError(w, r, err, "check permissions")
		return "", false
	}
	return homeID, true
}

// activeGatewayFor resolves the home's gateway for perm.
func (s *Server) activeGatewayFor(w http.ResponseWriter, r *http.Request, perm auth.Permission) (*gateway.Gateway, bool) {
	homeID, ok := s.homeFor(w, r, perm)
	if !ok {
		return nil, false
	}
	gw, err := s.gateways.ActiveForHome(r.Context(), homeID)
	if err != nil {
		s.writeServiceError(w, r, err, "resolve home gateway")
		return nil, false
	}
	return gw, true
}

type homeStatusResponse struct {
	HomeID   string        `json:"home_id"`
	Gateway  gatewayStatus `json:"gateway"`
	SyncedAt *time.Time    `json:"synced_at,omitempty"`
}

// handleHomeStatus reports the connection state of a home's gateway.
func (s *Server) handleHomeStatus(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.activeGatewayFor(w, r, auth.PermHomeView)
	if !ok {
		return
	}

	resp := homeStatusResponse{HomeID: gw.HomeID, Gateway: s.statusOf(gw)}
	home, err := s.homes.Get(r.Context(), gw.HomeID)
	switch {
	case err == nil:
		resp.SyncedAt = &home.SyncedAt
	case !errors.Is(err, homes.ErrNotFound):
		s.writeServiceError(w, r, err, "load home")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleHomeMetadata returns the home record from the last sync.
func (s *Server) handleHomeMetadata(w http.ResponseWriter, r *http.Request) {
	homeID, ok := s.homeFor(w, r, auth.PermHomeView)
	if !ok {
		return
	}
	home, err := s.homes.Get(r.Context(), homeID)
	if err != nil {
		s.writeServiceError(w, r, err, "load home")
		return
	}
	writeJSON(w, http.StatusOK, home)
}

// handleHomeEntities lists synced items of one kind.
//
// Query parameters:
//   - kind: entity (default), scene, automation or location
func (s *Server) handleHomeEntities(w http.ResponseWriter, r *http.Request) {
	homeID, ok := s.homeFor(w, r, auth.PermHomeView)
	if !ok {
		return
	}

	kind := homes.Kind(r.URL.Query().Get("kind"))
	if kind == "" {
		kind = homes.KindEntity
	}
	items, err := s.homes.Items(r.Context(), homeID, kind)
	if err != nil {
		s.writeServiceError(w, r, err, "list home items")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"home_id": homeID,
		"kind":    kind,
		"items":   items,
		"count":   len(items),
	})
}

type entityControlRequest struct {
	Command     string          `json:"command"`
	Value       json.RawMessage `json:"value,omitempty"`
	WaitSeconds int             `json:"wait_seconds,omitempty"`
}

type entityCommand struct {
	EntityID string          `json:"entity_id"`
	Command  string          `json:"command"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// handleEntityControl forwards an entity command to the home's gateway.
func (s *Server) handleEntityControl(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.activeGatewayFor(w, r, auth.PermGatewayCommand)
	if !ok {
		return
	}

	var req entityControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "command is required")
		return
	}
	if req.WaitSeconds < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "wait_seconds must not be negative")
		return
	}

	payload, err := json.Marshal(entityCommand{
		EntityID: chi.URLParam(r, "entity_id"),
		Command:  req.Command,
		Value:    req.Value,
	})
	if err != nil {
		writeBadRequest(w, "invalid value")
		return
	}
	s.dispatch(w, r, gw, payload, time.Duration(req.WaitSeconds)*time.Second)
}

type sceneRunRequest struct {
	WaitSeconds int `json:"wait_seconds,omitempty"`
}

// handleRunScene asks the home's gateway to run a scene. The body is
// optional.
func (s *Server) handleRunScene(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.activeGatewayFor(w, r, auth.PermSceneRun)
	if !ok {
		return
	}

	var req sceneRunRequest
	if err := decodeOptional(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.WaitSeconds < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "wait_seconds must not be negative")
		return
	}

	payload, _ := json.Marshal(map[string]string{ //nolint:errcheck // string map always marshals
		"scene_id": chi.URLParam(r, "scene_id"),
		"command":  "run_scene",
	})
	s.dispatch(w, r, gw, payload, time.Duration(req.WaitSeconds)*time.Second)
}

// syncCommand asks a gateway to push its full home snapshot.
var syncCommand = json.RawMessage(`{"command":"get_home_data"}`)

// handleHomeSync requests a fresh home snapshot. The gateway's reply is
// stored when it arrives, so this never waits.
func (s *Server) handleHomeSync(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.activeGatewayFor(w, r, auth.PermHomeSync)
	if !ok {
		return
	}
	s.dispatch(w, r, gw, syncCommand, 0)
}
