package bridge

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-relay/internal/gateway"
)

// Handler is the HTTP endpoint gateways dial to open a session.
//
// Credentials are read from the gateway_id and secret query parameters, or
// the X-Gateway-ID and X-Gateway-Secret headers. The connection is upgraded
// before authenticating so that failures can be reported with a WebSocket
// close code: 4001 for bad credentials and 4003 for a revoked gateway.
// Neither reveals whether the ID or the secret was wrong.
type Handler struct {
	manager  *Manager
	upgrader websocket.Upgrader
}

// NewHandler creates the bridge endpoint for m.
func NewHandler(m *Manager) *Handler {
	return &Handler{
		manager: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			Subprotocols:    Subprotocols,
			CheckOrigin: func(_ *http.Request) bool {
				// Gateways are not browsers and send no Origin
				return true
			},
		},
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	gatewayID, secret := Credentials(r)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.manager.logger.Warn("bridge upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	if _, err := h.manager.Authenticate(r.Context(), gatewayID, secret, conn); err != nil {
		code, text := closeFor(err)
		if code == websocket.CloseInternalServerErr {
			h.manager.logger.Error("bridge session setup failed", "gateway_id", gatewayID, "error", err)
		}
		deadline := time.Now().Add(h.manager.cfg.WriteTimeout)
		//nolint:errcheck // Best-effort close frame
		conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), deadline)
		conn.Close() //nolint:errcheck // Connection is being discarded
	}
}

// Credentials extracts the gateway ID and secret from a bridge request.
// Query parameters take precedence over headers.
func Credentials(r *http.Request) (gatewayID, secret string) {
	q := r.URL.Query()
	gatewayID = strings.TrimSpace(q.Get("gateway_id"))
	secret = q.Get("secret")
	if gatewayID == "" {
		gatewayID = strings.TrimSpace(r.Header.Get("X-Gateway-ID"))
	}
	if secret == "" {
		secret = r.Header.Get("X-Gateway-Secret")
	}
	return gatewayID, secret
}

// closeFor maps an Authenticate error to a close code and text.
func closeFor(err error) (int, string) {
	switch {
	case errors.Is(err, gateway.ErrRevoked):
		return CloseRevoked, "gateway revoked"
	case errors.Is(err, gateway.ErrInvalidCredentials):
		return CloseAuthFailed, "authentication failed"
	case errors.Is(err, ErrClosed):
		return websocket.CloseGoingAway, "relay shutting down"
	default:
		return websocket.CloseInternalServerErr, "internal error"
	}
}
