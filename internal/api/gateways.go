package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/auth"
	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
)

// Connection states reported by the status endpoints.
const (
	connOnline  = "online"
	connStale   = "stale"
	connOffline = "offline"
)

// staleAfter is how many heartbeat intervals may pass before a connected
// gateway is reported stale.
const staleAfter = 2

// gatewayStatus describes a gateway's registry record and live session.
type gatewayStatus struct {
	GatewayID     string         `json:"gateway_id"`
	HomeID        string         `json:"home_id"`
	Name          string         `json:"name"`
	Version       string         `json:"version,omitempty"`
	Status        string         `json:"status"`
	Lifecycle     gateway.Status `json:"lifecycle"`
	Connected     bool           `json:"connected"`
	SessionID     string         `json:"session_id,omitempty"`
	Subprotocol   string         `json:"subprotocol,omitempty"`
	ConnectedAt   *time.Time     `json:"connected_at,omitempty"`
	LastHeartbeat *time.Time     `json:"last_heartbeat,omitempty"`
	LastSeen      *time.Time     `json:"last_seen,omitempty"`
	Pending       int            `json:"pending"`
}

func (s *Server) statusOf(gw *gateway.Gateway) gatewayStatus {
	st := gatewayStatus{
		GatewayID: gw.ID,
		HomeID:    gw.HomeID,
		Name:      gw.Name,
		Version:   gw.Version,
		Status:    connOffline,
		Lifecycle: gw.Status,
		LastSeen:  gw.LastSeenAt,
	}

	info, ok := s.manager.Status(gw.ID)
	if !ok {
		return st
	}
	st.Connected = true
	st.SessionID = info.SessionID
	st.Subprotocol = info.Subprotocol
	st.ConnectedAt = &info.ConnectedAt
	st.LastHeartbeat = &info.LastHeartbeat
	st.LastSeen = &info.LastHeartbeat
	st.Pending = info.Pending
	st.Status = connOnline
	if s.now().Sub(info.LastHeartbeat) > staleAfter*s.manager.Config().HeartbeatInterval {
		st.Status = connStale
	}
	return st
}

// gatewayFor loads the gateway named in the URL and checks the caller
// holds perm on its home. It writes the error response itself.
func (s *Server) gatewayFor(w http.ResponseWriter, r *http.Request, perm auth.Permission) (*gateway.Gateway, bool) {
	ctx := r.Context()
	gw, err := s.gateways.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err, "load gateway")
		return nil, false
	}
	if err := s.authz.Require(ctx, userIDFromContext(ctx), gw.HomeID, perm); err != nil {
		s.writeServiceError(w, r, err, "check permissions")
		return nil, false
	}
	return gw, true
}

type sendCommandRequest struct {
	Payload     json.RawMessage `json:"payload"`
	WaitSeconds int             `json:"wait_seconds,omitempty"`
}

// handleSendCommand sends an arbitrary command payload to a gateway.
func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.gatewayFor(w, r, auth.PermGatewayCommand)
	if !ok {
		return
	}

	var req sendCommandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if !bridge.IsObject(req.Payload) {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "payload must be a JSON object")
		return
	}
	if req.WaitSeconds < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "wait_seconds must not be negative")
		return
	}

	s.dispatch(w, r, gw, req.Payload, time.Duration(req.WaitSeconds)*time.Second)
}

// handleAwaitCommand waits for the reply to an earlier command.
//
// Query parameters:
//   - timeout: seconds or a duration such as "1500ms"; the bridge default
//     applies when omitted and the bridge maximum caps it
func (s *Server) handleAwaitCommand(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.gatewayFor(w, r, auth.PermGatewayCommand)
	if !ok {
		return
	}

	timeout, err := parseWait(r.URL.Query().Get("timeout"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	requestID := chi.URLParam(r, "request_id")
	if owner, found := s.manager.RequestGateway(requestID); !found || owner != gw.ID {
		writeNotFound(w, "unknown or already collected request")
		return
	}
	reply, err := s.manager.AwaitAck(r.Context(), requestID, timeout)
	s.writeAwaitResult(w, r, gw.ID, requestID, reply, err)
}

// handleGatewayStatus reports a gateway's connection state.
func (s *Server) handleGatewayStatus(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.gatewayFor(w, r, auth.PermHomeView)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.statusOf(gw))
}

// handleGatewayState returns the last state the gateway reported, which
// survives disconnects.
func (s *Server) handleGatewayState(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.gatewayFor(w, r, auth.PermHomeView)
	if !ok {
		return
	}
	snap, found := s.manager.State(gw.ID)
	if !found {
		writeNotFound(w, "gateway has not reported state")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// handleRevokeGateway revokes a gateway and closes its session.
func (s *Server) handleRevokeGateway(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.gatewayFor(w, r, auth.PermGatewayRevoke)
	if !ok {
		return
	}

	revoked, err := s.gateways.Revoke(r.Context(), gw.ID)
	if err != nil {
		s.writeServiceError(w, r, err, "revoke gateway")
		return
	}
	disconnected := s.manager.Disconnect(gw.ID, bridge.CloseRevoked, "gateway revoked")
	s.manager.ForgetState(gw.ID)

	userID := userIDFromContext(r.Context())
	s.audit.GatewayRevoked(userID, revoked, disconnected)
	s.logger.Info("gateway revoked via API",
		"gateway_id", gw.ID,
		"home_id", gw.HomeID,
		"user_id", userID,
		"disconnected", disconnected,
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"gateway_id":   revoked.ID,
		"status":       revoked.Status,
		"disconnected": disconnected,
	})
}

// handleGatewayAudit returns audit entries for a gateway, newest first.
//
// Query parameters:
//   - action: filter by action (e.g. "bridge.auth_failed")
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleGatewayAudit(w http.ResponseWriter, r *http.Request) {
	gw, ok := s.gatewayFor(w, r, auth.PermGatewayRevoke)
	if !ok {
		return
	}
	if s.auditRepo == nil {
		writeNotFound(w, "audit logging not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: "gateway",
		EntityID:   gw.ID,
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	page, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, r, err, "list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, page)
}
