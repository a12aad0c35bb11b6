package sim

import (
	"time"

	"github.com/google/uuid"

	"orbfall/server/internal/replication"
	"orbfall/server/internal/state"
)

// CommandType enumerates the events the transport stages for the next tick.
type CommandType string

const (
	CommandConnect    CommandType = "Connect"
	CommandDisconnect CommandType = "Disconnect"
	CommandMove       CommandType = "Move"
	CommandHeartbeat  CommandType = "Heartbeat"
	CommandSetControl CommandType = "SetControl"
)

// ConnectCommand carries the connection record id minted by the transport.
type ConnectCommand struct {
	ConnectionID uuid.UUID `json:"connectionId"`
}

// MoveCommand carries the desired movement vector for the peer's avatar.
type MoveCommand struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// HeartbeatCommand updates connectivity metadata for a peer.
type HeartbeatCommand struct {
	ReceivedAt time.Time `json:"receivedAt"`
}

// DisconnectCommand identifies which connection of the peer went away.
type DisconnectCommand struct {
	ConnectionID uuid.UUID `json:"connectionId"`
	Reason       string    `json:"reason"`
}

// SetControlCommand replaces an object's control-assignment expression.
type SetControlCommand struct {
	Object state.ObjectID
	Target replication.Target
}

// Command represents an event captured for processing on the next tick.
type Command struct {
	OriginTick uint64             `json:"originTick"`
	Peer       state.PeerID       `json:"peer"`
	Type       CommandType        `json:"type"`
	IssuedAt   time.Time          `json:"issuedAt"`
	Connect    *ConnectCommand    `json:"connect,omitempty"`
	Move       *MoveCommand       `json:"move,omitempty"`
	Heartbeat  *HeartbeatCommand  `json:"heartbeat,omitempty"`
	Disconnect *DisconnectCommand `json:"disconnect,omitempty"`
	SetControl *SetControlCommand `json:"-"`
}
