package session

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"github.com/google/uuid"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/replication"
	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
	"orbfall/server/logging"
	authlog "orbfall/server/logging/authority"
	"orbfall/server/logging/lifecycle"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []logging.Event
}

func (r *eventRecorder) Publish(_ context.Context, event logging.Event) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *eventRecorder) byType(eventType logging.EventType) []logging.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	matched := make([]logging.Event, 0, len(r.events))
	for _, event := range r.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

func newTestSession(t *testing.T) (*Session, *eventRecorder, *telemetry.Counters) {
	t.Helper()
	recorder := &eventRecorder{}
	counters := telemetry.NewCounters()
	return New(Deps{Publisher: recorder, Metrics: counters}), recorder, counters
}

func spawnControlled(t *testing.T, s *Session, tick uint64, target replication.Target) state.ObjectID {
	t.Helper()
	return s.Spawn(tick, ObjectSpec{
		Prefix:       "entity",
		ControlledBy: target,
		Owner:        authority.Server(),
	})
}

func TestConnectIsIdempotent(t *testing.T) {
	s, recorder, _ := newTestSession(t)

	first, created := s.Connect(1, "alice", uuid.Nil)
	if !created {
		t.Fatalf("first connect reported existing record")
	}
	second, created := s.Connect(2, "alice", uuid.Nil)
	if created {
		t.Fatalf("second connect created a new record")
	}
	if first != second {
		t.Fatalf("connection id changed on repeat connect: %s vs %s", first, second)
	}
	if events := recorder.byType(lifecycle.EventPeerConnected); len(events) != 1 {
		t.Fatalf("got %d peer_connected events, want 1", len(events))
	}
}

func TestRosterPreservesJoinOrder(t *testing.T) {
	s, _, _ := newTestSession(t)
	for _, peer := range []state.PeerID{"c", "a", "b"} {
		s.Connect(1, peer, uuid.Nil)
	}
	want := []state.PeerID{"c", "a", "b"}
	if got := s.Roster(); !reflect.DeepEqual(got, want) {
		t.Fatalf("roster = %v, want %v", got, want)
	}
}

func TestReassertingExpressionEmitsNothing(t *testing.T) {
	s, recorder, counters := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)

	id := spawnControlled(t, s, 1, replication.Single("alice"))
	if !s.SetControlledBy(2, id, replication.Single("alice")) {
		t.Fatalf("SetControlledBy failed for live object")
	}

	controlled := s.ControlledEntities("alice")
	if len(controlled) != 1 || controlled[0] != id {
		t.Fatalf("controlled = %v, want exactly [%s]", controlled, id)
	}
	// Alice is in both resolved sets, so her membership is untouched: no
	// cleared/assigned pair, no removal or extra insert.
	if events := recorder.byType(authlog.EventControlCleared); len(events) != 0 {
		t.Fatalf("re-assert emitted %d control_cleared events, want 0", len(events))
	}
	if events := recorder.byType(authlog.EventControlAssigned); len(events) != 1 {
		t.Fatalf("got %d control_assigned events, want 1 (spawn only)", len(events))
	}
	if got := counters.Value(telemetry.MetricControlRemovals); got != 0 {
		t.Fatalf("removal counter = %d, want 0", got)
	}
	if got := counters.Value(telemetry.MetricControlInserts); got != 1 {
		t.Fatalf("insert counter = %d, want 1 (spawn only)", got)
	}
}

func TestOverlappingExpressionChangeOnlyTouchesTheDiff(t *testing.T) {
	s, recorder, counters := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)
	s.Connect(1, "bob", uuid.Nil)

	id := spawnControlled(t, s, 1, replication.All())
	if got := counters.Value(telemetry.MetricControlInserts); got != 2 {
		t.Fatalf("insert counter after spawn = %d, want 2", got)
	}

	// Alice stays resolved across the change; only bob leaves.
	if !s.SetControlledBy(2, id, replication.AllExcept("bob")) {
		t.Fatalf("SetControlledBy failed for live object")
	}

	if got := s.ControlledEntities("alice"); len(got) != 1 || got[0] != id {
		t.Fatalf("alice controlled = %v, want exactly [%s]", got, id)
	}
	if got := s.ControlledEntities("bob"); len(got) != 0 {
		t.Fatalf("bob controlled = %v, want empty", got)
	}
	cleared := recorder.byType(authlog.EventControlCleared)
	if len(cleared) != 1 {
		t.Fatalf("got %d control_cleared events, want 1 (bob only)", len(cleared))
	}
	if len(cleared[0].Targets) != 1 || cleared[0].Targets[0].ID != "bob" {
		t.Fatalf("control_cleared targeted %v, want bob", cleared[0].Targets)
	}
	if got := counters.Value(telemetry.MetricControlInserts); got != 2 {
		t.Fatalf("insert counter = %d, want 2 (no re-insert for alice)", got)
	}
	if got := counters.Value(telemetry.MetricControlRemovals); got != 1 {
		t.Fatalf("removal counter = %d, want 1 (bob only)", got)
	}
}

func TestClearSkipsNeverMaterializedMembership(t *testing.T) {
	s, recorder, counters := newTestSession(t)

	// Nobody is connected, so the expression resolves to nothing and no
	// membership materializes.
	id := spawnControlled(t, s, 1, replication.Single("alice"))

	// Alice joins after the assignment; the destroy path re-resolves the
	// stored expression against the current roster and must treat the
	// absent membership as an idempotent no-op.
	s.Connect(2, "alice", uuid.Nil)
	s.DestroyObject(3, id)

	if got := s.ControlledEntities("alice"); len(got) != 0 {
		t.Fatalf("alice controlled = %v, want empty", got)
	}
	if events := recorder.byType(authlog.EventControlCleared); len(events) != 0 {
		t.Fatalf("no-op removal emitted %d control_cleared events", len(events))
	}
	if got := counters.Value(telemetry.MetricControlIdempotent); got != 1 {
		t.Fatalf("idempotent counter = %d, want 1", got)
	}
}

func TestSetControlledByUnknownObject(t *testing.T) {
	s, _, _ := newTestSession(t)
	if s.SetControlledBy(1, "ghost-1", replication.All()) {
		t.Fatalf("SetControlledBy succeeded for unknown object")
	}
}

func TestOnlySkipsUnconnectedPeers(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)

	id := spawnControlled(t, s, 1, replication.Only("alice", "dana"))

	if got := s.ControlledEntities("alice"); len(got) != 1 || got[0] != id {
		t.Fatalf("alice controlled = %v, want [%s]", got, id)
	}
	if got := s.ControlledEntities("dana"); len(got) != 0 {
		t.Fatalf("unconnected peer gained memberships: %v", got)
	}
}

func TestAllResolvesAtAssignmentTime(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)

	id := spawnControlled(t, s, 1, replication.All())

	// A peer joining after the expression was applied is not retroactively
	// added; the expression re-applies only on the next assignment.
	s.Connect(2, "bob", uuid.Nil)
	if got := s.ControlledEntities("bob"); len(got) != 0 {
		t.Fatalf("late joiner gained memberships retroactively: %v", got)
	}

	s.SetControlledBy(3, id, replication.All())
	if got := s.ControlledEntities("bob"); len(got) != 1 {
		t.Fatalf("re-assignment did not pick up the new roster: %v", got)
	}
}

func TestChangingExpressionMovesMembership(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)
	s.Connect(1, "bob", uuid.Nil)

	id := spawnControlled(t, s, 1, replication.Single("alice"))
	s.SetControlledBy(2, id, replication.Single("bob"))

	if got := s.ControlledEntities("alice"); len(got) != 0 {
		t.Fatalf("alice kept stale membership: %v", got)
	}
	if got := s.ControlledEntities("bob"); len(got) != 1 || got[0] != id {
		t.Fatalf("bob controlled = %v, want [%s]", got, id)
	}
}

func TestDestroyClearsMembershipAndAuthority(t *testing.T) {
	s, recorder, _ := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)

	id := spawnControlled(t, s, 1, replication.Single("alice"))
	if destroyed := s.DestroyObject(2, id); destroyed != 1 {
		t.Fatalf("destroyed = %d, want 1", destroyed)
	}

	if got := s.ControlledEntities("alice"); len(got) != 0 {
		t.Fatalf("membership survived destruction: %v", got)
	}
	if s.Authority().Tracked(id) {
		t.Fatalf("authority registry still tracks destroyed object")
	}
	if events := recorder.byType(authlog.EventControlCleared); len(events) != 1 {
		t.Fatalf("got %d control_cleared events, want 1", len(events))
	}
	if events := recorder.byType(EventObjectDestroyed); len(events) != 1 {
		t.Fatalf("got %d object_destroyed events, want 1", len(events))
	}
}

func TestDestroyUnknownObjectIsNoop(t *testing.T) {
	s, _, _ := newTestSession(t)
	if destroyed := s.DestroyObject(1, "ghost-9"); destroyed != 0 {
		t.Fatalf("destroyed = %d, want 0", destroyed)
	}
}

func TestDestroyCascadesToOwnedObjects(t *testing.T) {
	s, _, _ := newTestSession(t)
	parent := s.Spawn(1, ObjectSpec{Prefix: "parent", Owner: authority.Server()})
	child := s.SpawnOwned(1, parent, ObjectSpec{Prefix: "child", Owner: authority.Server()})

	if destroyed := s.DestroyObject(2, parent); destroyed != 2 {
		t.Fatalf("destroyed = %d, want 2", destroyed)
	}
	if s.ObjectExists(child) {
		t.Fatalf("owned object survived its parent")
	}
}

func TestDisconnectCascade(t *testing.T) {
	s, recorder, counters := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)
	s.Connect(1, "bob", uuid.Nil)

	e1 := spawnControlled(t, s, 1, replication.Single("alice"))
	e2 := spawnControlled(t, s, 1, replication.Single("alice"))
	kept := spawnControlled(t, s, 1, replication.Single("bob"))

	destroyed, ok := s.Disconnect(2, "alice", uuid.Nil, "socket_closed")
	if !ok {
		t.Fatalf("Disconnect reported no live record")
	}
	if destroyed != 2 {
		t.Fatalf("destroyed = %d, want 2", destroyed)
	}
	if s.ObjectExists(e1) || s.ObjectExists(e2) {
		t.Fatalf("controlled objects survived the cascade")
	}
	if !s.ObjectExists(kept) {
		t.Fatalf("another peer's object was destroyed")
	}
	if s.Connected("alice") {
		t.Fatalf("peer record survived disconnect")
	}
	if got := s.Roster(); !reflect.DeepEqual(got, []state.PeerID{"bob"}) {
		t.Fatalf("roster = %v, want [bob]", got)
	}

	completed := recorder.byType(lifecycle.EventCascadeCompleted)
	if len(completed) != 1 {
		t.Fatalf("got %d cascade_completed events, want 1", len(completed))
	}
	payload, castOK := completed[0].Payload.(lifecycle.CascadeCompletedPayload)
	if !castOK {
		t.Fatalf("payload type = %T", completed[0].Payload)
	}
	if payload.ObjectsDestroyed != 2 {
		t.Fatalf("payload.ObjectsDestroyed = %d, want 2", payload.ObjectsDestroyed)
	}
	if got := counters.Value(telemetry.MetricCascadeDestroyed); got != 2 {
		t.Fatalf("cascade counter = %d, want 2", got)
	}
}

func TestDisconnectUnknownPeerIsNoop(t *testing.T) {
	s, recorder, _ := newTestSession(t)
	if _, ok := s.Disconnect(1, "ghost", uuid.Nil, "never_connected"); ok {
		t.Fatalf("Disconnect succeeded for unknown peer")
	}
	if events := recorder.byType(lifecycle.EventPeerDisconnected); len(events) != 0 {
		t.Fatalf("no-op disconnect emitted %d events", len(events))
	}
}

func TestStaleDisconnectIsNoop(t *testing.T) {
	s, _, _ := newTestSession(t)
	live, _ := s.Connect(1, "alice", uuid.Nil)

	if _, ok := s.Disconnect(2, "alice", uuid.New(), "stale_socket"); ok {
		t.Fatalf("stale connection id tore down the live session")
	}
	if !s.Connected("alice") {
		t.Fatalf("peer record gone after stale disconnect")
	}
	if _, ok := s.Disconnect(3, "alice", live, "socket_closed"); !ok {
		t.Fatalf("matching connection id did not disconnect")
	}
}

func TestRefreshConnectionSupersedesOldSocket(t *testing.T) {
	s, _, _ := newTestSession(t)
	old, _ := s.Connect(1, "alice", uuid.Nil)

	replacement := uuid.New()
	if !s.RefreshConnection("alice", replacement) {
		t.Fatalf("RefreshConnection failed for live peer")
	}
	if _, ok := s.Disconnect(2, "alice", old, "old_socket_closed"); ok {
		t.Fatalf("superseded connection id still disconnects")
	}
	if _, ok := s.Disconnect(3, "alice", replacement, "socket_closed"); !ok {
		t.Fatalf("replacement connection id rejected")
	}
}

func TestDisconnectObserverSeesIntactRecord(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)
	id := spawnControlled(t, s, 1, replication.Single("alice"))

	var seen []state.ObjectID
	s.OnDisconnect(func(tick uint64, peer state.PeerID) {
		seen = s.ControlledEntities(peer)
	})

	s.Disconnect(2, "alice", uuid.Nil, "socket_closed")
	if len(seen) != 1 || seen[0] != id {
		t.Fatalf("observer saw %v, want the still-intact controlled set [%s]", seen, id)
	}
}

func TestPreDestroyHookReadsLastAssociations(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)
	id := s.Spawn(1, ObjectSpec{
		Prefix:       "entity",
		ControlledBy: replication.Single("alice"),
		Owner:        authority.Peer("alice"),
	})

	var sawID state.ObjectID
	var sawExpression string
	s.OnPreDestroy(func(_ uint64, record *ObjectRecord) {
		sawID = record.ID
		sawExpression = record.ControlledBy.String()
	})

	s.DestroyObject(2, id)
	if sawID != id {
		t.Fatalf("hook saw object %q, want %q", sawID, id)
	}
	if sawExpression != "single(alice)" {
		t.Fatalf("hook saw expression %q, want single(alice)", sawExpression)
	}
}

func TestSnapshotReflectsTickBoundary(t *testing.T) {
	s, _, _ := newTestSession(t)
	s.Connect(1, "alice", uuid.Nil)
	id := spawnControlled(t, s, 1, replication.Single("alice"))

	snapshot := s.Snapshot(5)
	if snapshot.Tick != 5 {
		t.Fatalf("snapshot tick = %d, want 5", snapshot.Tick)
	}
	if len(snapshot.Objects) != 1 || snapshot.Objects[0].ID != id {
		t.Fatalf("snapshot objects = %+v", snapshot.Objects)
	}
	if snapshot.Objects[0].Owner != "server" {
		t.Fatalf("snapshot owner = %q, want server", snapshot.Objects[0].Owner)
	}
	if len(snapshot.Peers) != 1 || len(snapshot.Peers[0].Controlled) != 1 {
		t.Fatalf("snapshot peers = %+v", snapshot.Peers)
	}
}

func TestSnapshotExposesOwningParent(t *testing.T) {
	s, _, _ := newTestSession(t)
	parent := s.Spawn(1, ObjectSpec{Prefix: "turret", Owner: authority.Server()})
	child := s.SpawnOwned(1, parent, ObjectSpec{Prefix: "shield", Owner: authority.Server()})

	snapshot := s.Snapshot(2)
	views := make(map[state.ObjectID]ObjectView, len(snapshot.Objects))
	for _, view := range snapshot.Objects {
		views[view.ID] = view
	}
	if got := views[parent].Parent; got != "" {
		t.Fatalf("root object reports parent %q, want none", got)
	}
	if got := views[child].Parent; got != parent {
		t.Fatalf("child parent = %q, want %q", got, parent)
	}
}
