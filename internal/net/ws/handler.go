package ws

import (
	"encoding/json"
	nethttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
)

// ProtocolVersion tags every server-to-client frame so clients can reject
// frames from an incompatible build.
const ProtocolVersion = 1

// Gateway is the hub surface the websocket handler needs: attach and detach
// sockets and stage per-peer commands for the next tick.
type Gateway interface {
	Attach(peer state.PeerID, conn *websocket.Conn) (uuid.UUID, error)
	Detach(peer state.PeerID, connection uuid.UUID, reason string)
	Send(peer state.PeerID, payload any) error
	StageInput(peer state.PeerID, dx, dy float64) bool
	StageHeartbeat(peer state.PeerID, at time.Time) bool
}

type HandlerConfig struct {
	Logger telemetry.Logger
}

type Handler struct {
	gateway  Gateway
	logger   telemetry.Logger
	upgrader websocket.Upgrader
}

func NewHandler(gateway Gateway, cfg HandlerConfig) *Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *nethttp.Request) bool {
			return true
		},
	}

	return &Handler{
		gateway:  gateway,
		logger:   cfg.Logger,
		upgrader: upgrader,
	}
}

// Handle upgrades the request and pumps client messages into the gateway
// until the socket closes. The peer identifies itself with the id query
// parameter; every close path stages a disconnect carrying the connection
// record id minted at attach time, so a stale socket cannot tear down a
// session it no longer owns.
func (h *Handler) Handle(w nethttp.ResponseWriter, r *nethttp.Request) {
	peerID := state.PeerID(r.URL.Query().Get("id"))
	if peerID == "" {
		nethttp.Error(w, "missing id", nethttp.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("upgrade failed for %s: %v", peerID, err)
		return
	}

	connectionID, err := h.gateway.Attach(peerID, conn)
	if err != nil {
		message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error())
		conn.WriteMessage(websocket.CloseMessage, message)
		conn.Close()
		return
	}

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			h.gateway.Detach(peerID, connectionID, "socket_closed")
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logf("discarding malformed message from %s: %v", peerID, err)
			continue
		}

		switch msg.Type {
		case "input":
			if !h.gateway.StageInput(peerID, msg.DX, msg.DY) {
				h.logf("input dropped for %s: command queue full", peerID)
			}
		case "heartbeat":
			now := time.Now()
			if !h.gateway.StageHeartbeat(peerID, now) {
				continue
			}

			ack := heartbeatMessage{
				Ver:        ProtocolVersion,
				Type:       "heartbeat",
				ServerTime: now.UnixMilli(),
				ClientTime: msg.SentAt,
			}

			// The hub serializes writes; a broadcast may be in flight on
			// another goroutine.
			if err := h.gateway.Send(peerID, ack); err != nil {
				h.gateway.Detach(peerID, connectionID, "write_failed")
				return
			}
		case "bye":
			h.gateway.Detach(peerID, connectionID, "client_requested")
			conn.Close()
			return
		default:
			h.logf("unknown message type %q from %s", msg.Type, peerID)
		}
	}
}

func (h *Handler) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}

type clientMessage struct {
	Ver    int     `json:"ver,omitempty"`
	Type   string  `json:"type"`
	DX     float64 `json:"dx"`
	DY     float64 `json:"dy"`
	SentAt int64   `json:"sentAt"`
}

type heartbeatMessage struct {
	Ver        int    `json:"ver"`
	Type       string `json:"type"`
	ServerTime int64  `json:"serverTime"`
	ClientTime int64  `json:"clientTime"`
}
