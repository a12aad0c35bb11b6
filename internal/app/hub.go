package app

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orbfall/server/internal/replication"
	"orbfall/server/internal/session"
	"orbfall/server/internal/sim"
	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
)

var (
	errEmptyPeerID = errors.New("empty peer id")
	errQueueFull   = errors.New("command queue full")
	errNotAttached = errors.New("peer not attached")
)

// subscriber wraps one live socket. Writes are serialized because the
// broadcast goroutine and the peer's read loop both send frames.
type subscriber struct {
	connectionID uuid.UUID
	conn         *websocket.Conn

	mu sync.Mutex
}

func (s *subscriber) writeJSON(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close()
}

// Hub bridges websocket sessions and the tick loop: sockets stage commands
// into the engine's buffer, and each completed tick fans out per-peer state
// frames. It implements ws.Gateway.
type Hub struct {
	engine *sim.Engine
	logger telemetry.Logger

	mu          sync.Mutex
	subscribers map[state.PeerID]*subscriber
	latest      session.Snapshot
}

func NewHub(engine *sim.Engine, logger telemetry.Logger) *Hub {
	return &Hub{
		engine:      engine,
		logger:      logger,
		subscribers: make(map[state.PeerID]*subscriber),
	}
}

// Attach registers the socket and stages a connect for the next tick. The
// returned connection record id travels with the eventual disconnect so
// stale sockets cannot tear down a session they no longer own. Attaching
// over an existing subscription replaces it.
func (h *Hub) Attach(peer state.PeerID, conn *websocket.Conn) (uuid.UUID, error) {
	if peer == "" {
		return uuid.Nil, errEmptyPeerID
	}
	connectionID := uuid.New()

	h.mu.Lock()
	replaced := h.subscribers[peer]
	h.subscribers[peer] = &subscriber{connectionID: connectionID, conn: conn}
	h.mu.Unlock()

	if replaced != nil {
		h.logf("peer %s reattached, closing previous socket", peer)
		replaced.close()
	}

	ok := h.engine.Enqueue(sim.Command{
		Type:     sim.CommandConnect,
		Peer:     peer,
		IssuedAt: time.Now(),
		Connect:  &sim.ConnectCommand{ConnectionID: connectionID},
	})
	if !ok {
		h.mu.Lock()
		if current := h.subscribers[peer]; current != nil && current.connectionID == connectionID {
			delete(h.subscribers, peer)
		}
		h.mu.Unlock()
		return uuid.Nil, errQueueFull
	}
	return connectionID, nil
}

// Detach drops the subscription and stages a disconnect for the next tick.
// The engine validates the connection id against the live session record,
// so a detach from a superseded socket is a no-op there too.
func (h *Hub) Detach(peer state.PeerID, connection uuid.UUID, reason string) {
	h.mu.Lock()
	if current := h.subscribers[peer]; current != nil && current.connectionID == connection {
		delete(h.subscribers, peer)
	}
	h.mu.Unlock()

	ok := h.engine.Enqueue(sim.Command{
		Type:     sim.CommandDisconnect,
		Peer:     peer,
		IssuedAt: time.Now(),
		Disconnect: &sim.DisconnectCommand{
			ConnectionID: connection,
			Reason:       reason,
		},
	})
	if !ok {
		// The heartbeat deadline will reap the session instead.
		h.logf("disconnect for %s dropped: command queue full", peer)
	}
}

// Send writes a frame to the peer's live socket.
func (h *Hub) Send(peer state.PeerID, payload any) error {
	h.mu.Lock()
	sub := h.subscribers[peer]
	h.mu.Unlock()
	if sub == nil {
		return errNotAttached
	}
	return sub.writeJSON(payload)
}

// StageInput stages a movement intent for the next tick.
func (h *Hub) StageInput(peer state.PeerID, dx, dy float64) bool {
	return h.engine.Enqueue(sim.Command{
		Type:     sim.CommandMove,
		Peer:     peer,
		IssuedAt: time.Now(),
		Move:     &sim.MoveCommand{DX: dx, DY: dy},
	})
}

// StageHeartbeat stages a liveness update for the next tick.
func (h *Hub) StageHeartbeat(peer state.PeerID, at time.Time) bool {
	return h.engine.Enqueue(sim.Command{
		Type:      sim.CommandHeartbeat,
		Peer:      peer,
		IssuedAt:  at,
		Heartbeat: &sim.HeartbeatCommand{ReceivedAt: at},
	})
}

type objectFrame struct {
	ID           string  `json:"id"`
	X            float64 `json:"x"`
	Y            float64 `json:"y"`
	Owner        string  `json:"owner"`
	ControlledBy string  `json:"controlledBy"`
	Tint         string  `json:"tint,omitempty"`
}

type stateFrame struct {
	Ver          int           `json:"ver"`
	Type         string        `json:"type"`
	Tick         uint64        `json:"tick"`
	ServerTime   int64         `json:"serverTime"`
	You          string        `json:"you"`
	Roster       []string      `json:"roster"`
	Controlled   []string      `json:"controlled"`
	Predicted    []objectFrame `json:"predicted"`
	Interpolated []objectFrame `json:"interpolated"`
}

// Broadcast fans a completed tick out to every attached peer. Each object's
// sync target is resolved against the tick's roster here, at send time: a
// peer sees an object in its predicted list when the prediction target
// includes it, in its interpolated list when only the interpolation target
// does, and not at all otherwise.
func (h *Hub) Broadcast(result sim.StepResult) {
	snapshot := result.Snapshot

	h.mu.Lock()
	h.latest = snapshot
	h.mu.Unlock()

	if len(snapshot.Roster) == 0 {
		return
	}

	rosterNames := make([]string, len(snapshot.Roster))
	for i, peer := range snapshot.Roster {
		rosterNames[i] = string(peer)
	}

	frames := make(map[state.PeerID]*stateFrame, len(snapshot.Roster))
	for _, view := range snapshot.Peers {
		controlled := make([]string, len(view.Controlled))
		for i, id := range view.Controlled {
			controlled[i] = string(id)
		}
		frames[view.ID] = &stateFrame{
			Ver:        1,
			Type:       "state",
			Tick:       snapshot.Tick,
			ServerTime: result.Now.UnixMilli(),
			You:        string(view.ID),
			Roster:     rosterNames,
			Controlled: controlled,
		}
	}

	for _, view := range snapshot.Objects {
		frame := objectFrame{
			ID:           string(view.ID),
			X:            view.Position.X,
			Y:            view.Position.Y,
			Owner:        view.Owner,
			ControlledBy: view.ControlledBy,
			Tint:         view.Tint,
		}
		split := replication.ResolveSplit(view.Sync, snapshot.Roster)
		for _, peer := range split.Predicted {
			if target := frames[peer]; target != nil {
				target.Predicted = append(target.Predicted, frame)
			}
		}
		for _, peer := range split.Interpolated {
			if target := frames[peer]; target != nil {
				target.Interpolated = append(target.Interpolated, frame)
			}
		}
	}

	h.mu.Lock()
	sends := make(map[state.PeerID]*subscriber, len(frames))
	for peer := range frames {
		if sub := h.subscribers[peer]; sub != nil {
			sends[peer] = sub
		}
	}
	h.mu.Unlock()

	for peer, sub := range sends {
		if err := sub.writeJSON(frames[peer]); err != nil {
			h.logf("broadcast to %s failed: %v", peer, err)
			h.Detach(peer, sub.connectionID, "write_failed")
		}
	}
}

// DropRemoved closes sockets for peers the tick removed, such as heartbeat
// timeouts, so their read loops end promptly.
func (h *Hub) DropRemoved(result sim.StepResult) {
	for _, peer := range result.RemovedPeers {
		h.mu.Lock()
		sub := h.subscribers[peer]
		delete(h.subscribers, peer)
		h.mu.Unlock()
		if sub != nil {
			sub.close()
		}
	}
}

// Latest returns the most recent tick-boundary snapshot seen by Broadcast.
func (h *Hub) Latest() session.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest
}

// SubscriberCount reports how many sockets are attached.
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}

// World exposes the session for diagnostics handlers.
func (h *Hub) World() *session.Session {
	return h.engine.World()
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf(format, args...)
	}
}
