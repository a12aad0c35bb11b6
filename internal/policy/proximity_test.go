package policy

import (
	"testing"

	"github.com/google/uuid"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/replication"
	"orbfall/server/internal/session"
	"orbfall/server/internal/sim"
	"orbfall/server/internal/state"
)

func newWorldWithOrb(t *testing.T) (*session.Session, state.ObjectID) {
	t.Helper()
	world := session.New(session.Deps{})
	orb := sim.SpawnShared(0, world, "orb", state.Position{X: 400, Y: 300}, state.Velocity{}, "")
	return world, orb
}

func addAvatar(t *testing.T, world *session.Session, peer state.PeerID, at state.Position) {
	t.Helper()
	if _, created := world.Connect(1, peer, uuid.Nil); !created {
		t.Fatalf("connect %s: record already existed", peer)
	}
	avatar := world.Spawn(1, session.ObjectSpec{
		Prefix:       "avatar",
		Position:     at,
		ControlledBy: replication.Single(peer),
		Sync:         replication.OwnerSplit(peer),
		Owner:        authority.Peer(peer),
	})
	if !world.BindAvatar(peer, avatar) {
		t.Fatalf("bind avatar for %s", peer)
	}
}

func currentOwner(t *testing.T, world *session.Session, orb state.ObjectID) authority.Owner {
	t.Helper()
	owner, err := world.Authority().Owner(orb)
	if err != nil {
		t.Fatalf("Owner: %v", err)
	}
	return owner
}

func TestHandoffToPeerWithinRadius(t *testing.T) {
	world, orb := newWorldWithOrb(t)
	addAvatar(t, world, "near", state.Position{X: 480, Y: 300}) // 80 away
	addAvatar(t, world, "far", state.Position{X: 550, Y: 300})  // 150 away

	handoff := NewProximityHandoff(orb, 100, 0, nil)
	handoff.Apply(sim.TickContext{Tick: 1}, world)

	if owner := currentOwner(t, world, orb); !owner.Equal(authority.Peer("near")) {
		t.Fatalf("owner = %s, want peer:near", owner)
	}
}

func TestRevertsToServerWhenNobodyClose(t *testing.T) {
	world, orb := newWorldWithOrb(t)
	addAvatar(t, world, "near", state.Position{X: 480, Y: 300})

	handoff := NewProximityHandoff(orb, 100, 0, nil)
	handoff.Apply(sim.TickContext{Tick: 1}, world)
	if owner := currentOwner(t, world, orb); !owner.Equal(authority.Peer("near")) {
		t.Fatalf("owner = %s, want peer:near after approach", owner)
	}

	// Walk the avatar out of range; the next evaluation returns the orb
	// to server authority.
	avatar, _ := world.AvatarOf("near")
	world.WithObject(avatar, func(record *session.ObjectRecord) {
		record.Position = state.Position{X: 700, Y: 300}
	})

	handoff.Apply(sim.TickContext{Tick: 2}, world)
	if owner := currentOwner(t, world, orb); !owner.Equal(authority.Server()) {
		t.Fatalf("owner = %s, want server after retreat", owner)
	}
}

func TestHandoffRespectsInterval(t *testing.T) {
	world, orb := newWorldWithOrb(t)
	addAvatar(t, world, "near", state.Position{X: 420, Y: 300})

	handoff := NewProximityHandoff(orb, 100, 5, nil)

	handoff.Apply(sim.TickContext{Tick: 3}, world)
	if owner := currentOwner(t, world, orb); !owner.Equal(authority.Server()) {
		t.Fatalf("off-interval tick transferred authority: %s", owner)
	}

	handoff.Apply(sim.TickContext{Tick: 5}, world)
	if owner := currentOwner(t, world, orb); !owner.Equal(authority.Peer("near")) {
		t.Fatalf("owner = %s, want peer:near on interval tick", owner)
	}
}

func TestBoundaryIsExclusive(t *testing.T) {
	world, orb := newWorldWithOrb(t)
	addAvatar(t, world, "edge", state.Position{X: 500, Y: 300}) // exactly 100

	handoff := NewProximityHandoff(orb, 100, 0, nil)
	handoff.Apply(sim.TickContext{Tick: 1}, world)

	if owner := currentOwner(t, world, orb); !owner.Equal(authority.Server()) {
		t.Fatalf("owner = %s, want server at exact radius", owner)
	}
}

func TestDespawnedObjectIsIgnored(t *testing.T) {
	world, orb := newWorldWithOrb(t)
	addAvatar(t, world, "near", state.Position{X: 420, Y: 300})
	world.DestroyObject(1, orb)

	handoff := NewProximityHandoff(orb, 100, 0, nil)
	// Must not panic or log an unknown-object transfer.
	handoff.Apply(sim.TickContext{Tick: 2}, world)
}
