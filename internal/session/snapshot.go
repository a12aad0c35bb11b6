package session

import (
	"sort"

	"orbfall/server/internal/replication"
	"orbfall/server/internal/state"
)

// ObjectView is a per-object snapshot entry handed to the broadcast layer.
// The sync target travels with it so replication splits can be resolved
// fresh at send time, never cached from an earlier tick.
type ObjectView struct {
	ID           state.ObjectID
	Parent       state.ObjectID
	Position     state.Position
	Owner        string
	ControlledBy string
	Tint         string
	Sync         replication.SyncTarget
}

// PeerView is a per-peer snapshot entry.
type PeerView struct {
	ID         state.PeerID
	Controlled []state.ObjectID
}

// Snapshot is a consistent copy of the session taken at a tick boundary.
type Snapshot struct {
	Tick    uint64
	Roster  []state.PeerID
	Objects []ObjectView
	Peers   []PeerView
}

// Snapshot copies session state for broadcasting and diagnostics.
func (s *Session) Snapshot(tick uint64) Snapshot {
	owners := s.registry.Snapshot()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := Snapshot{
		Tick:    tick,
		Roster:  append([]state.PeerID(nil), s.roster...),
		Objects: make([]ObjectView, 0, len(s.spawnOrder)),
		Peers:   make([]PeerView, 0, len(s.roster)),
	}
	for _, id := range s.spawnOrder {
		record, ok := s.objects[id]
		if !ok {
			continue
		}
		view := ObjectView{
			ID:           id,
			Parent:       record.parent,
			Position:     record.Position,
			ControlledBy: record.ControlledBy.String(),
			Tint:         record.Tint,
			Sync:         record.Sync,
		}
		if owner, tracked := owners[id]; tracked {
			view.Owner = owner.String()
		}
		snapshot.Objects = append(snapshot.Objects, view)
	}
	for _, peer := range s.roster {
		record := s.peers[peer]
		if record == nil {
			continue
		}
		controlled := make([]state.ObjectID, 0, len(record.controlled))
		for id := range record.controlled {
			controlled = append(controlled, id)
		}
		sort.Slice(controlled, func(i, j int) bool { return controlled[i] < controlled[j] })
		snapshot.Peers = append(snapshot.Peers, PeerView{ID: peer, Controlled: controlled})
	}
	return snapshot
}
