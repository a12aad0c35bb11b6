package authority

import "orbfall/server/internal/state"

// OwnerKind discriminates the authority owner variant.
type OwnerKind uint8

const (
	// OwnerUnclaimed means no participant currently authors the object.
	// Unclaimed is an explicit state, not an absence of a value.
	OwnerUnclaimed OwnerKind = iota
	// OwnerServer means the server authors the object.
	OwnerServer
	// OwnerPeer means a specific connected peer authors the object.
	OwnerPeer
)

// Owner is the authority owner attribute of a replicated object. Exactly one
// variant holds at any instant.
type Owner struct {
	kind OwnerKind
	peer state.PeerID
}

// Unclaimed returns the explicit no-owner value.
func Unclaimed() Owner { return Owner{kind: OwnerUnclaimed} }

// Server returns the server-owned value.
func Server() Owner { return Owner{kind: OwnerServer} }

// Peer returns an owner value naming the given peer.
func Peer(id state.PeerID) Owner { return Owner{kind: OwnerPeer, peer: id} }

// Kind reports the owner variant.
func (o Owner) Kind() OwnerKind { return o.kind }

// Peer returns the owning peer id when the kind is OwnerPeer.
func (o Owner) Peer() (state.PeerID, bool) {
	if o.kind == OwnerPeer {
		return o.peer, true
	}
	return "", false
}

// Equal reports whether two owner values are the same variant and peer.
func (o Owner) Equal(other Owner) bool {
	return o.kind == other.kind && o.peer == other.peer
}

// String renders the owner for logs and diagnostics.
func (o Owner) String() string {
	switch o.kind {
	case OwnerUnclaimed:
		return "unclaimed"
	case OwnerServer:
		return "server"
	case OwnerPeer:
		return "peer:" + string(o.peer)
	default:
		return "invalid"
	}
}
