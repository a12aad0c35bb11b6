package session

import (
	"context"

	"orbfall/server/internal/replication"
	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
	"orbfall/server/logging"
	authlog "orbfall/server/logging/authority"
)

// SetControlledBy replaces an object's control-assignment expression. Both
// expressions are resolved against the roster as of now and the memberships
// are diffed: peers leaving the resolved set are removed, peers entering it
// are inserted, and peers resolved by both keep their membership untouched.
// Re-asserting an unchanged expression therefore emits nothing. Peers the
// expression names but that are not connected are skipped silently; peers
// connecting later are not retroactively added. Returns false for an
// unknown object.
func (s *Session) SetControlledBy(tick uint64, id state.ObjectID, target replication.Target) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.objects[id]
	if !ok {
		return false
	}
	roster := s.rosterLocked()
	next := replication.Resolve(target, roster)
	staying := make(map[state.PeerID]struct{}, len(next))
	for _, peer := range next {
		staying[peer] = struct{}{}
	}
	for _, peer := range replication.Resolve(record.ControlledBy, roster) {
		if _, keep := staying[peer]; keep {
			continue
		}
		s.removeControlLocked(tick, record, peer)
	}
	record.ControlledBy = target
	for _, peer := range next {
		s.insertControlLocked(tick, record, peer)
	}
	return true
}

// ClearControlledBy resets an object's expression to None, removing it from
// every controlled set it last resolved into.
func (s *Session) ClearControlledBy(tick uint64, id state.ObjectID) bool {
	return s.SetControlledBy(tick, id, replication.None())
}

// ControlledBy reads an object's current control-assignment expression.
func (s *Session) ControlledBy(id state.ObjectID) (replication.Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.objects[id]
	if !ok {
		return replication.None(), false
	}
	return record.ControlledBy, true
}

// applyControlLocked resolves the record's expression against the live
// roster and inserts the object into each resolved peer's controlled set.
func (s *Session) applyControlLocked(tick uint64, record *ObjectRecord) {
	for _, peer := range replication.Resolve(record.ControlledBy, s.rosterLocked()) {
		s.insertControlLocked(tick, record, peer)
	}
}

// clearControlMemberships is the session's built-in pre-destruction hook:
// it re-resolves the record's last expression against the current roster and
// removes the object from each resolved peer's set. It runs while the record
// still exists, so the (object, expression) pair is still readable.
func (s *Session) clearControlMemberships(tick uint64, record *ObjectRecord) {
	for _, peer := range replication.Resolve(record.ControlledBy, s.rosterLocked()) {
		s.removeControlLocked(tick, record, peer)
	}
}

// insertControlLocked adds one membership. Inserting a present membership is
// an idempotent no-op: nothing mutates and nothing is emitted, so observers
// watching the index see no churn.
func (s *Session) insertControlLocked(tick uint64, record *ObjectRecord, peer state.PeerID) {
	peerRecord, ok := s.peers[peer]
	if !ok {
		return
	}
	if _, present := peerRecord.controlled[record.ID]; present {
		s.metrics.Add(telemetry.MetricControlIdempotent, 1)
		return
	}
	peerRecord.controlled[record.ID] = struct{}{}
	s.metrics.Add(telemetry.MetricControlInserts, 1)
	authlog.ControlAssigned(context.Background(), s.publisher, tick,
		logging.ObjectRef(string(record.ID)), logging.PeerRef(string(peer)),
		authlog.ControlPayload{Expression: record.ControlledBy.String()})
}

// removeControlLocked drops one membership. Removing a membership that never
// materialized is the same idempotent no-op.
func (s *Session) removeControlLocked(tick uint64, record *ObjectRecord, peer state.PeerID) {
	peerRecord, ok := s.peers[peer]
	if !ok {
		return
	}
	if _, present := peerRecord.controlled[record.ID]; !present {
		s.metrics.Add(telemetry.MetricControlIdempotent, 1)
		return
	}
	delete(peerRecord.controlled, record.ID)
	s.metrics.Add(telemetry.MetricControlRemovals, 1)
	authlog.ControlCleared(context.Background(), s.publisher, tick,
		logging.ObjectRef(string(record.ID)), logging.PeerRef(string(peer)),
		authlog.ControlPayload{Expression: record.ControlledBy.String()})
}
