package sim

import (
	"github.com/google/uuid"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/replication"
	"orbfall/server/internal/session"
	"orbfall/server/internal/state"
)

// noConnectionFilter matches any live connection when disconnecting.
var noConnectionFilter = uuid.Nil

// spawnAvatar creates the object a connecting peer controls and authors:
// the peer itself receives the predicted view, everyone else interpolates.
func spawnAvatar(tick uint64, world *session.Session, peer state.PeerID, at state.Position, tint string) state.ObjectID {
	return world.Spawn(tick, session.ObjectSpec{
		Prefix:       "avatar",
		Position:     at,
		ControlledBy: replication.Single(peer),
		Sync:         replication.OwnerSplit(peer),
		Owner:        authority.Peer(peer),
		Tint:         tint,
	})
}

// SpawnShared creates a session-long object under server authority that
// every peer observes through the interpolated channel. Used for world
// fixtures like the orb the proximity policy hands around.
func SpawnShared(tick uint64, world *session.Session, prefix string, at state.Position, velocity state.Velocity, tint string) state.ObjectID {
	return world.Spawn(tick, session.ObjectSpec{
		Prefix:       prefix,
		Position:     at,
		Velocity:     velocity,
		ControlledBy: replication.None(),
		Sync:         replication.InterpolateAll(),
		Owner:        authority.Server(),
		Tint:         tint,
	})
}
