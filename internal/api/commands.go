package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/bridge"
	"github.com/nerrad567/gray-logic-relay/internal/gateway"
)

// Command status values reported to API callers.
const (
	commandQueued    = "queued"
	commandCompleted = "completed"
	commandTimeout   = "timeout"
	commandOffline   = "offline"
)

// commandResponse is returned by every endpoint that sends a command.
type commandResponse struct {
	RequestID string        `json:"request_id,omitempty"`
	GatewayID string        `json:"gateway_id"`
	Status    string        `json:"status"`
	Reply     *bridge.Reply `json:"reply,omitempty"`
}

// dispatch sends payload to gw and writes the response. With wait > 0 it
// also waits for the gateway's reply.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, gw *gateway.Gateway, payload json.RawMessage, wait time.Duration) {
	if gw.Status == gateway.StatusRevoked {
		s.writeServiceError(w, r, gateway.ErrRevoked, "send command")
		return
	}

	requestID, err := s.manager.Send(gw.ID, payload)
	if errors.Is(err, bridge.ErrNotConnected) {
		writeJSON(w, http.StatusServiceUnavailable, commandResponse{GatewayID: gw.ID, Status: commandOffline})
		return
	}
	if err != nil {
		s.writeServiceError(w, r, err, "send command")
		return
	}
	s.audit.CommandSent(audit.SourceAPI, userIDFromContext(r.Context()), gw.ID, requestID)

	if wait <= 0 {
		writeJSON(w, http.StatusAccepted, commandResponse{RequestID: requestID, GatewayID: gw.ID, Status: commandQueued})
		return
	}
	reply, err := s.manager.AwaitAck(r.Context(), requestID, wait)
	s.writeAwaitResult(w, r, gw.ID, requestID, reply, err)
}

func (s *Server) writeAwaitResult(w http.ResponseWriter, r *http.Request, gatewayID, requestID string, reply *bridge.Reply, err error) {
	resp := commandResponse{RequestID: requestID, GatewayID: gatewayID}
	switch {
	case err == nil:
		resp.Status = commandCompleted
		resp.Reply = reply
		writeJSON(w, http.StatusOK, resp)
	case errors.Is(err, bridge.ErrTimeout), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		resp.Status = commandTimeout
		writeJSON(w, http.StatusGatewayTimeout, resp)
	case errors.Is(err, bridge.ErrNotConnected):
		resp.Status = commandOffline
		writeJSON(w, http.StatusServiceUnavailable, resp)
	default:
		s.writeServiceError(w, r, err, "await command")
	}
}

// decodeOptional decodes a JSON body into v. An empty body leaves v as is.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// parseWait reads a wait duration given as seconds ("5") or a Go
// duration ("1500ms").
func parseWait(v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative timeout %q", v)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid timeout %q", v)
	}
	return d, nil
}
