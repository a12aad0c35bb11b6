package session

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
	"orbfall/server/logging"
	"orbfall/server/logging/lifecycle"
)

// PeerRecord is the bookkeeping record created for a peer on connect and
// destroyed on disconnect, after its controlled set has been drained.
type PeerRecord struct {
	ID            state.PeerID
	ConnectionID  uuid.UUID
	ConnectedAt   time.Time
	LastHeartbeat time.Time

	avatar     state.ObjectID
	intentX    float64
	intentY    float64
	controlled map[state.ObjectID]struct{}
}

// Connect creates the peer's bookkeeping record with an empty controlled set
// and returns the connection record id. The transport may supply its own
// connection id; uuid.Nil means mint one. Connecting an already connected
// peer is a no-op that returns the live connection id.
func (s *Session) Connect(tick uint64, peer state.PeerID, connectionID uuid.UUID) (uuid.UUID, bool) {
	s.mu.Lock()
	if existing, ok := s.peers[peer]; ok {
		s.mu.Unlock()
		return existing.ConnectionID, false
	}
	if connectionID == uuid.Nil {
		connectionID = uuid.New()
	}
	now := s.now()
	record := &PeerRecord{
		ID:            peer,
		ConnectionID:  connectionID,
		ConnectedAt:   now,
		LastHeartbeat: now,
		controlled:    make(map[state.ObjectID]struct{}),
	}
	s.peers[peer] = record
	s.roster = append(s.roster, peer)
	s.mu.Unlock()

	lifecycle.PeerConnected(context.Background(), s.publisher, tick, logging.PeerRef(string(peer)), lifecycle.PeerConnectedPayload{
		ConnectionID: connectionID.String(),
	})
	return connectionID, true
}

// Disconnect drains the peer's controlled set and removes its bookkeeping
// record. The raw disconnect event fires first so tick-scoped observers can
// still read the record; the cascade then destroys every controlled object;
// only then is the record dropped. A peer with no live record, or a
// connection id that no longer matches, is treated as already cleaned.
func (s *Session) Disconnect(tick uint64, peer state.PeerID, connectionID uuid.UUID, reason string) (int, bool) {
	s.mu.Lock()
	record, ok := s.peers[peer]
	if !ok {
		s.mu.Unlock()
		return 0, false
	}
	if connectionID != uuid.Nil && connectionID != record.ConnectionID {
		// Stale disconnect for a connection this peer already replaced.
		s.mu.Unlock()
		return 0, false
	}
	liveConnection := record.ConnectionID
	s.mu.Unlock()

	lifecycle.PeerDisconnected(context.Background(), s.publisher, tick, logging.PeerRef(string(peer)), lifecycle.PeerDisconnectedPayload{
		ConnectionID: liveConnection.String(),
		Reason:       reason,
	})
	for _, observer := range s.disconnectObserversSnapshot() {
		observer(tick, peer)
	}

	destroyed := 0
	for _, objectID := range s.ControlledEntities(peer) {
		destroyed += s.DestroyObject(tick, objectID)
	}

	s.mu.Lock()
	delete(s.peers, peer)
	for i, id := range s.roster {
		if id == peer {
			s.roster = append(s.roster[:i], s.roster[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.metrics.Add(telemetry.MetricCascadeDestroyed, uint64(destroyed))
	lifecycle.CascadeCompleted(context.Background(), s.publisher, tick, logging.PeerRef(string(peer)), lifecycle.CascadeCompletedPayload{
		ObjectsDestroyed: destroyed,
	})
	return destroyed, true
}

func (s *Session) disconnectObserversSnapshot() []DisconnectObserver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DisconnectObserver(nil), s.disconnectObservers...)
}

// Roster snapshots the connected peers in join order.
func (s *Session) Roster() []state.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]state.PeerID(nil), s.roster...)
}

func (s *Session) rosterLocked() []state.PeerID {
	return s.roster
}

// Connected reports whether the peer has a live bookkeeping record.
func (s *Session) Connected(peer state.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers[peer]
	return ok
}

// ConnectionID returns the live connection record id for a peer.
func (s *Session) ConnectionID(peer state.PeerID) (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.peers[peer]
	if !ok {
		return uuid.Nil, false
	}
	return record.ConnectionID, true
}

// RefreshConnection replaces the connection record id for a peer that
// reconnected over a new socket. Disconnects carrying the superseded id
// become no-ops.
func (s *Session) RefreshConnection(peer state.PeerID, connectionID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.peers[peer]
	if !ok {
		return false
	}
	record.ConnectionID = connectionID
	record.LastHeartbeat = s.now()
	return true
}

// Heartbeat records the most recent heartbeat time for a peer.
func (s *Session) Heartbeat(peer state.PeerID, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.peers[peer]
	if !ok {
		return false
	}
	record.LastHeartbeat = at
	return true
}

// StalePeers lists peers whose last heartbeat is older than the deadline.
func (s *Session) StalePeers(now time.Time, deadline time.Duration) []state.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	stale := make([]state.PeerID, 0)
	for _, peer := range s.roster {
		record := s.peers[peer]
		if record != nil && now.Sub(record.LastHeartbeat) > deadline {
			stale = append(stale, peer)
		}
	}
	return stale
}

// SetIntent stores the latest movement vector for a peer's avatar.
func (s *Session) SetIntent(peer state.PeerID, dx, dy float64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.peers[peer]
	if !ok {
		return false
	}
	record.intentX = dx
	record.intentY = dy
	return true
}

// Intent reads the peer's movement vector.
func (s *Session) Intent(peer state.PeerID) (dx, dy float64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, found := s.peers[peer]
	if !found {
		return 0, 0, false
	}
	return record.intentX, record.intentY, true
}

// BindAvatar associates a peer with the object spawned as its avatar.
func (s *Session) BindAvatar(peer state.PeerID, object state.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.peers[peer]
	if !ok {
		return false
	}
	record.avatar = object
	return true
}

// AvatarOf returns the object bound as the peer's avatar.
func (s *Session) AvatarOf(peer state.PeerID) (state.ObjectID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.peers[peer]
	if !ok || record.avatar == "" {
		return "", false
	}
	return record.avatar, true
}

// ControlledEntities snapshots the objects currently indexed as controlled
// by the peer, sorted for deterministic iteration.
func (s *Session) ControlledEntities(peer state.PeerID) []state.ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.peers[peer]
	if !ok {
		return nil
	}
	ids := make([]state.ObjectID, 0, len(record.controlled))
	for id := range record.controlled {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
