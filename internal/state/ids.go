package state

// PeerID identifies a connected session participant. The server itself is
// not a peer; it is addressed through the authority owner variant instead.
type PeerID string

// ObjectID identifies a replicated object for its whole lifetime. Records
// are looked up by id in dense maps rather than held by pointer, so an id
// stays valid to mention even after the object is destroyed.
type ObjectID string

func (p PeerID) String() string   { return string(p) }
func (o ObjectID) String() string { return string(o) }

// Position is a 2D world coordinate.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Velocity is a 2D movement vector in units per second.
type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}
