package replication

import (
	"fmt"
	"strings"

	"orbfall/server/internal/state"
)

// TargetKind discriminates the addressing variants of a Target.
type TargetKind uint8

const (
	// TargetNone addresses no peer.
	TargetNone TargetKind = iota
	// TargetSingle addresses exactly one peer, if connected.
	TargetSingle
	// TargetOnly addresses an explicit peer set, intersected with the roster.
	TargetOnly
	// TargetAll addresses every connected peer.
	TargetAll
	// TargetAllExcept addresses every connected peer but one.
	TargetAllExcept
)

// Target is a logical addressing expression over the live peer roster. It is
// stored as an expression, not a materialized set; Resolve snapshots it
// against a concrete roster.
type Target struct {
	kind  TargetKind
	peer  state.PeerID
	peers []state.PeerID
}

// None returns the empty addressing expression.
func None() Target { return Target{kind: TargetNone} }

// Single addresses exactly the given peer.
func Single(peer state.PeerID) Target { return Target{kind: TargetSingle, peer: peer} }

// Only addresses exactly the given peer set.
func Only(peers ...state.PeerID) Target {
	copied := make([]state.PeerID, len(peers))
	copy(copied, peers)
	return Target{kind: TargetOnly, peers: copied}
}

// All addresses every connected peer.
func All() Target { return Target{kind: TargetAll} }

// AllExcept addresses every connected peer except the given one.
func AllExcept(peer state.PeerID) Target { return Target{kind: TargetAllExcept, peer: peer} }

// Kind reports the addressing variant.
func (t Target) Kind() TargetKind { return t.kind }

// ExcludedPeer returns the peer carried by Single and AllExcept expressions.
func (t Target) ExcludedPeer() (state.PeerID, bool) {
	if t.kind == TargetAllExcept {
		return t.peer, true
	}
	return "", false
}

// Resolve snapshots the expression against the provided roster, preserving
// roster order so downstream fan-out stays deterministic. Peers named by the
// expression but absent from the roster contribute nothing; addressing is
// best-effort by design, never an error.
func Resolve(t Target, roster []state.PeerID) []state.PeerID {
	switch t.kind {
	case TargetNone:
		return nil
	case TargetSingle:
		for _, peer := range roster {
			if peer == t.peer {
				return []state.PeerID{peer}
			}
		}
		return nil
	case TargetOnly:
		if len(t.peers) == 0 {
			return nil
		}
		wanted := make(map[state.PeerID]struct{}, len(t.peers))
		for _, peer := range t.peers {
			wanted[peer] = struct{}{}
		}
		resolved := make([]state.PeerID, 0, len(t.peers))
		for _, peer := range roster {
			if _, ok := wanted[peer]; ok {
				resolved = append(resolved, peer)
			}
		}
		return resolved
	case TargetAll:
		resolved := make([]state.PeerID, len(roster))
		copy(resolved, roster)
		return resolved
	case TargetAllExcept:
		resolved := make([]state.PeerID, 0, len(roster))
		for _, peer := range roster {
			if peer != t.peer {
				resolved = append(resolved, peer)
			}
		}
		return resolved
	default:
		return nil
	}
}

// Includes reports whether the expression addresses the given peer assuming
// the peer is connected. Only resolution against a roster decides actual
// membership; this is a cheap pre-filter for per-peer dispatch.
func (t Target) Includes(peer state.PeerID) bool {
	switch t.kind {
	case TargetNone:
		return false
	case TargetSingle:
		return t.peer == peer
	case TargetOnly:
		for _, candidate := range t.peers {
			if candidate == peer {
				return true
			}
		}
		return false
	case TargetAll:
		return true
	case TargetAllExcept:
		return t.peer != peer
	default:
		return false
	}
}

// String renders the expression for logs and diagnostics.
func (t Target) String() string {
	switch t.kind {
	case TargetNone:
		return "none"
	case TargetSingle:
		return fmt.Sprintf("single(%s)", t.peer)
	case TargetOnly:
		parts := make([]string, len(t.peers))
		for i, peer := range t.peers {
			parts[i] = string(peer)
		}
		return fmt.Sprintf("only(%s)", strings.Join(parts, ","))
	case TargetAll:
		return "all"
	case TargetAllExcept:
		return fmt.Sprintf("all-except(%s)", t.peer)
	default:
		return "invalid"
	}
}
