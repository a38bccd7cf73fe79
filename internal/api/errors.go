package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-relay/internal/auth"
	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
	"github.com/nerrad567/gray-logic-relay/internal/homes"
	"github.com/nerrad567/gray-logic-relay/internal/pairing"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeGone           = "gone"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeGatewayOffline = "gateway_offline"
	ErrCodeTimeout        = "timeout"
	ErrCodeBusy           = "busy"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeServiceError maps a domain error to its HTTP response. Errors
// without a mapping are logged and reported as a bare 500 so internals
// never reach the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	switch {
	case errors.Is(err, auth.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, "insufficient permissions for this home")
	case errors.Is(err, gateway.ErrNotFound):
		writeNotFound(w, "gateway not found")
	case errors.Is(err, gateway.ErrNoActiveGateway):
		writeNotFound(w, "no gateway paired with this home")
	case errors.Is(err, gateway.ErrRevoked):
		writeError(w, http.StatusConflict, ErrCodeConflict, "gateway revoked")
	case errors.Is(err, homes.ErrNotFound):
		writeNotFound(w, "home has not synced yet")
	case errors.Is(err, homes.ErrInvalidKind):
		writeBadRequest(w, "unknown item kind")
	case errors.Is(err, pairing.ErrInvalidCode):
		writeNotFound(w, "invalid pairing code")
	case errors.Is(err, pairing.ErrExpired):
		writeError(w, http.StatusGone, ErrCodeGone, "pairing code expired")
	case errors.Is(err, pairing.ErrAlreadyConsumed):
		writeError(w, http.StatusConflict, ErrCodeConflict, "pairing code already used")
	case errors.Is(err, bridge.ErrNotConnected):
		writeError(w, http.StatusServiceUnavailable, ErrCodeGatewayOffline, "gateway is not connected")
	case errors.Is(err, bridge.ErrBackpressure):
		writeError(w, http.StatusServiceUnavailable, ErrCodeBusy, "gateway send queue is full")
	case errors.Is(err, bridge.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, "gateway did not reply in time")
	case errors.Is(err, bridge.ErrUnknownRequest):
		writeNotFound(w, "unknown or already collected request")
	case errors.Is(err, bridge.ErrProtocol):
		writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
	default:
		s.logger.Error("request failed",
			"action", action,
			"error", err,
			"request_id", r.Context().Value(ctxKeyRequestID),
		)
		writeInternalError(w, "failed to "+action)
	}
}
