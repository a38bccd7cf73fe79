package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-relay/internal/pairing"
)

type requestCodeRequest struct {
	HomeID        string `json:"home_id"`
	HomeName      string `json:"home_name,omitempty"`
	ExpiryMinutes int    `json:"expiry_minutes,omitempty"`
}

type requestCodeResponse struct {
	Code      string    `json:"code"`
	HomeID    string    `json:"home_id"`
	ExpiresAt time.Time `json:"expires_at"`
	ExpiresIn int       `json:"expires_in"`
}

// handleRequestCode issues a pairing code for a home the caller administers.
func (s *Server) handleRequestCode(w http.ResponseWriter, r *http.Request) {
	var req requestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.HomeID) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "home_id is required")
		return
	}
	if req.ExpiryMinutes < 0 {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "expiry_minutes must not be negative")
		return
	}

	userID := userIDFromContext(r.Context())
	code, err := s.pairing.RequestCode(r.Context(), pairing.Request{
		UserID:        userID,
		HomeID:        req.HomeID,
		HomeName:      req.HomeName,
		ExpiryMinutes: req.ExpiryMinutes,
	})
	if err != nil {
		s.writeServiceError(w, r, err, "request pairing code")
		return
	}
	s.audit.PairingRequested(userID, code.HomeID, code.ID)

	writeJSON(w, http.StatusCreated, requestCodeResponse{
		Code:      code.Code,
		HomeID:    code.HomeID,
		ExpiresAt: code.ExpiresAt,
		ExpiresIn: int(code.ExpiresAt.Sub(code.CreatedAt).Seconds()),
	})
}

// handleVerifyCode lets a gateway check a code before completing pairing.
// Unknown, expired and consumed codes are indistinguishable.
func (s *Server) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	homeID, ok, err := s.pairing.VerifyCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		s.writeServiceError(w, r, err, "verify pairing code")
		return
	}
	if !ok {
		writeNotFound(w, "invalid or expired pairing code")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":   true,
		"home_id": homeID,
	})
}

type completePairingRequest struct {
	Code    string `json:"code"`
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

type completePairingResponse struct {
	GatewayID  string `json:"gateway_id"`
	HomeID     string `json:"home_id"`
	HomeName   string `json:"home_name,omitempty"`
	Secret     string `json:"secret"`
	BridgePath string `json:"bridge_path"`
}

// handleCompletePairing redeems a code and returns the new gateway's
// credentials. The secret is only ever shown here.
func (s *Server) handleCompletePairing(w http.ResponseWriter, r *http.Request) {
	var req completePairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "code is required")
		return
	}

	out, err := s.pairing.CompleteCode(r.Context(), req.Code, req.Name, req.Version)
	if err != nil {
		s.writeServiceError(w, r, err, "complete pairing")
		return
	}
	s.audit.PairingCompleted(out.Gateway)

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusCreated, completePairingResponse{
		GatewayID:  out.Gateway.ID,
		HomeID:     out.Gateway.HomeID,
		HomeName:   out.HomeName,
		Secret:     out.Secret,
		BridgePath: s.bridgeCfg.Path,
	})
}
