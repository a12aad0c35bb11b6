package session

import (
	"context"
	"fmt"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/replication"
	"orbfall/server/internal/state"
	"orbfall/server/logging"
)

// ObjectSpec describes a replicated object entering the session.
type ObjectSpec struct {
	// Prefix names the id family, e.g. "avatar" or "orb".
	Prefix       string
	Position     state.Position
	Velocity     state.Velocity
	ControlledBy replication.Target
	Sync         replication.SyncTarget
	Owner        authority.Owner
	Tint         string
}

// ObjectRecord is the session's record for one replicated object. Records
// live in the object table and are addressed by id; nothing outside the
// session holds one past a tick boundary.
type ObjectRecord struct {
	ID           state.ObjectID
	Position     state.Position
	Velocity     state.Velocity
	ControlledBy replication.Target
	Sync         replication.SyncTarget
	Tint         string

	parent state.ObjectID
	owned  []state.ObjectID
}

const (
	// EventObjectSpawned is emitted when an object enters replication.
	EventObjectSpawned logging.EventType = "lifecycle.object_spawned"
	// EventObjectDestroyed is emitted after an object's record is dropped.
	EventObjectDestroyed logging.EventType = "lifecycle.object_destroyed"
)

// Spawn creates a replicated object, starts tracking its authority owner,
// and applies its control-assignment expression against the roster as of
// now.
func (s *Session) Spawn(tick uint64, spec ObjectSpec) state.ObjectID {
	return s.spawn(tick, "", spec)
}

// SpawnOwned creates an object owned by a parent; destroying the parent
// cascades into it. An unknown parent yields a plain spawn.
func (s *Session) SpawnOwned(tick uint64, parent state.ObjectID, spec ObjectSpec) state.ObjectID {
	return s.spawn(tick, parent, spec)
}

func (s *Session) spawn(tick uint64, parent state.ObjectID, spec ObjectSpec) state.ObjectID {
	prefix := spec.Prefix
	if prefix == "" {
		prefix = "object"
	}

	s.mu.Lock()
	s.nextObject++
	id := state.ObjectID(fmt.Sprintf("%s-%d", prefix, s.nextObject))
	record := &ObjectRecord{
		ID:           id,
		Position:     spec.Position,
		Velocity:     spec.Velocity,
		ControlledBy: spec.ControlledBy,
		Sync:         spec.Sync,
		Tint:         spec.Tint,
	}
	if parent != "" {
		if parentRecord, ok := s.objects[parent]; ok {
			record.parent = parent
			parentRecord.owned = append(parentRecord.owned, id)
		}
	}
	s.objects[id] = record
	s.spawnOrder = append(s.spawnOrder, id)
	s.registry.Track(id, spec.Owner)
	s.applyControlLocked(tick, record)
	s.mu.Unlock()

	s.publisher.Publish(context.Background(), logging.Event{
		Type:     EventObjectSpawned,
		Tick:     tick,
		Actor:    logging.ObjectRef(string(id)),
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
	})
	return id
}

// DestroyObject removes an object and, recursively, every dependent it
// owns. Pre-destruction hooks run while each record still resolves, so the
// controlled-entity index and the authority registry observe the object's
// last associations before it vanishes. Destroying an unknown or
// already-destroyed object is a no-op. Returns the number of records
// dropped.
func (s *Session) DestroyObject(tick uint64, id state.ObjectID) int {
	s.mu.Lock()
	destroyed := make([]state.ObjectID, 0, 1)
	s.destroyLocked(tick, id, &destroyed)
	s.mu.Unlock()

	for _, droppedID := range destroyed {
		s.publisher.Publish(context.Background(), logging.Event{
			Type:     EventObjectDestroyed,
			Tick:     tick,
			Actor:    logging.ObjectRef(string(droppedID)),
			Severity: logging.SeverityInfo,
			Category: logging.CategoryLifecycle,
		})
	}
	return len(destroyed)
}

func (s *Session) destroyLocked(tick uint64, id state.ObjectID, destroyed *[]state.ObjectID) {
	record, ok := s.objects[id]
	if !ok {
		return
	}
	// Dependents go first so a parent's hooks still see a consistent table.
	for _, child := range append([]state.ObjectID(nil), record.owned...) {
		s.destroyLocked(tick, child, destroyed)
	}
	for _, hook := range s.preDestroy {
		hook(tick, record)
	}
	delete(s.objects, id)
	for i, spawned := range s.spawnOrder {
		if spawned == id {
			s.spawnOrder = append(s.spawnOrder[:i], s.spawnOrder[i+1:]...)
			break
		}
	}
	*destroyed = append(*destroyed, id)
}

// forgetAuthority is the session's built-in pre-destruction hook that drops
// the object from the authority registry.
func (s *Session) forgetAuthority(_ uint64, record *ObjectRecord) {
	s.registry.Forget(record.ID)
}

// ObjectExists reports whether the object still has a record.
func (s *Session) ObjectExists(id state.ObjectID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[id]
	return ok
}

// ObjectCount reports the number of live records.
func (s *Session) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// WithObject runs fn against the live record while the session is pinned.
// fn must not call back into the session.
func (s *Session) WithObject(id state.ObjectID, fn func(*ObjectRecord)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.objects[id]
	if !ok {
		return false
	}
	fn(record)
	return true
}

// EachObject runs fn over every live record in spawn order while the
// session is pinned. fn must not call back into the session.
func (s *Session) EachObject(fn func(*ObjectRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.spawnOrder {
		if record, ok := s.objects[id]; ok {
			fn(record)
		}
	}
}
