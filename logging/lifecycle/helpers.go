package lifecycle

import (
	"context"

	"orbfall/server/logging"
)

const (
	// EventPeerConnected is emitted when a peer joins the session.
	EventPeerConnected logging.EventType = "lifecycle.peer_connected"
	// EventPeerDisconnected is emitted when a peer leaves the session, before
	// its controlled objects are cascaded.
	EventPeerDisconnected logging.EventType = "lifecycle.peer_disconnected"
	// EventCascadeCompleted is emitted after a disconnecting peer's controlled
	// objects have been destroyed and its record dropped.
	EventCascadeCompleted logging.EventType = "lifecycle.cascade_completed"
)

// PeerConnectedPayload captures connection metadata for a new peer.
type PeerConnectedPayload struct {
	ConnectionID string `json:"connectionId"`
}

// PeerDisconnectedPayload captures the reason a peer left.
type PeerDisconnectedPayload struct {
	ConnectionID string `json:"connectionId"`
	Reason       string `json:"reason"`
}

// CascadeCompletedPayload reports how many controlled objects were destroyed.
type CascadeCompletedPayload struct {
	ObjectsDestroyed int `json:"objectsDestroyed"`
}

// PeerConnected publishes a peer join event.
func PeerConnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerConnectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerConnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// PeerDisconnected publishes the raw disconnect event. Observers of this
// event still see the peer's bookkeeping record and controlled set intact;
// the cascade runs afterwards.
func PeerDisconnected(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload PeerDisconnectedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventPeerDisconnected,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}

// CascadeCompleted publishes the post-cascade summary for a disconnect.
func CascadeCompleted(ctx context.Context, pub logging.Publisher, tick uint64, actor logging.EntityRef, payload CascadeCompletedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventCascadeCompleted,
		Tick:     tick,
		Actor:    actor,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryLifecycle,
		Payload:  payload,
	})
}
