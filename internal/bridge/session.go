package bridge

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// Close codes sent to gateways. Codes in the 4000 range are private to the
// bridge protocol.
const (
	CloseSuperseded       = 4000
	CloseAuthFailed       = 4001
	CloseHeartbeatTimeout = 4002
	CloseRevoked          = 4003
)

// Reasons recorded when a session ends.
const (
	ReasonSuperseded       = "superseded"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonProtocolError    = "protocol_error"
	ReasonDisconnected     = "disconnected"
	ReasonWriteError       = "write_error"
	ReasonRevoked          = "revoked"
	ReasonShutdown         = "shutdown"
)

// Reply is a gateway's answer to a command.
type Reply struct {
	RequestID  string          `json:"request_id"`
	GatewayID  string          `json:"gateway_id"`
	Type       Type            `json:"type"`
	Timestamp  int64           `json:"timestamp"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type result struct {
	reply *Reply
	err   error
}

// call is one in-flight command. Its result channel has room for exactly
// one value and is written at most once, by whoever removes the call from
// its session's pending table.
type call struct {
	id        string
	gatewayID string
	session   *Session
	sentAt    time.Time
	result    chan result
}

func newCall(id string, s *Session, at time.Time) *call {
	return &call{
		id:        id,
		gatewayID: s.gatewayID,
		session:   s,
		sentAt:    at,
		result:    make(chan result, 1),
	}
}

func (c *call) deliver(r result) {
	select {
	case c.result <- r:
	default:
	}
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	SessionID     string    `json:"session_id"`
	GatewayID     string    `json:"gateway_id"`
	HomeID        string    `json:"home_id"`
	Subprotocol   string    `json:"subprotocol"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Pending       int       `json:"pending"`
}

// Session is the live connection state of one gateway.
type Session struct {
	id          string
	gatewayID   string
	homeID      string
	conn        *websocket.Conn
	codec       Codec
	connectedAt time.Time
	lastBeat    atomic.Int64 // unix nanoseconds

	send chan []byte
	done chan struct{}

	closeOnce sync.Once
	reason    string // written once inside closeOnce

	mu      sync.Mutex
	closed  bool
	pending map[string]*call
}

func newSession(id, gatewayID, homeID string, conn *websocket.Conn, codec Codec, buffer int, now time.Time) *Session {
	s := &Session{
		id:          id,
		gatewayID:   gatewayID,
		homeID:      homeID,
		conn:        conn,
		codec:       codec,
		connectedAt: now,
		send:        make(chan []byte, buffer),
		done:        make(chan struct{}),
		pending:     make(map[string]*call),
	}
	s.touch(now)
	return s
}

// GatewayID returns the ID of the gateway this session belongs to.
func (s *Session) GatewayID() string { return s.gatewayID }

// Done is closed when the session ends.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) touch(at time.Time) {
	s.lastBeat.Store(at.UnixNano())
}

func (s *Session) lastHeartbeat() time.Time {
	return time.Unix(0, s.lastBeat.Load()).UTC()
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	pending := len(s.pending)
	s.mu.Unlock()

	info := SessionInfo{
		SessionID:     s.id,
		GatewayID:     s.gatewayID,
		HomeID:        s.homeID,
		Subprotocol:   s.codec.Subprotocol(),
		ConnectedAt:   s.connectedAt,
		LastHeartbeat: s.lastHeartbeat(),
		Pending:       pending,
	}
	if s.conn != nil {
		info.RemoteAddr = s.conn.RemoteAddr().String()
	}
	return info
}

// enqueue hands a frame to the write goroutine without blocking.
func (s *Session) enqueue(frame []byte) error {
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}

	select {
	case s.send <- frame:
		return nil
	case <-s.done:
		return ErrNotConnected
	default:
		return ErrBackpressure
	}
}

// addPending registers a call. It fails once the session has closed.
func (s *Session) addPending(c *call) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.pending[c.id] = c
	return true
}

// takePending removes and returns the call for id.
func (s *Session) takePending(id string) (*call, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	return c, ok
}

// drainPending marks the session closed and returns every outstanding call.
func (s *Session) drainPending() []*call {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	calls := make([]*call, 0, len(s.pending))
	for id, c := range s.pending {
		calls = append(calls, c)
		delete(s.pending, id)
	}
	return calls
}

// closeReason returns why the session ended. Valid after Done is closed.
func (s *Session) closeReason() string {
	<-s.done
	return s.reason
}

// writePump owns all data writes to the socket. Close frames are written
// with WriteControl, which gorilla allows concurrently with this loop.
func (s *Session) writePump(timeout time.Duration, onError func(error)) {
	for {
		select {
		case <-s.done:
			return
		case frame := <-s.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(timeout))
			if err := s.conn.WriteMessage(s.codec.FrameType(), frame); err != nil {
				onError(err)
				return
			}
		}
	}
}
