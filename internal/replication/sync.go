package replication

import "orbfall/server/internal/state"

// SyncTarget splits an object's replication audience into the peers that
// receive a predicted view and the peers that receive an interpolated view.
// The canonical split for a peer-controlled object is prediction to the
// owning peer and interpolation to everyone else.
type SyncTarget struct {
	Prediction    Target
	Interpolation Target
}

// OwnerSplit builds the canonical split for an object controlled by a single
// peer: the owner predicts, every other peer interpolates.
func OwnerSplit(owner state.PeerID) SyncTarget {
	return SyncTarget{
		Prediction:    Single(owner),
		Interpolation: AllExcept(owner),
	}
}

// InterpolateAll builds the split for server-owned objects that every peer
// observes passively.
func InterpolateAll() SyncTarget {
	return SyncTarget{
		Prediction:    None(),
		Interpolation: All(),
	}
}

// Split is a resolved SyncTarget snapshot.
type Split struct {
	Predicted    []state.PeerID
	Interpolated []state.PeerID
}

// ResolveSplit resolves both halves of the sync target against the roster.
// The split must be computed fresh each time replication targets are
// assigned; callers must not cache the result past the assignment event.
func ResolveSplit(sync SyncTarget, roster []state.PeerID) Split {
	return Split{
		Predicted:    Resolve(sync.Prediction, roster),
		Interpolated: Resolve(sync.Interpolation, roster),
	}
}
