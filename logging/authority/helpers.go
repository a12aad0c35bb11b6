package authority

import (
	"context"

	"orbfall/server/logging"
)

const (
	// EventAuthorityChanged is emitted when an object's authority owner
	// actually changes. Transfers to the current owner emit nothing.
	EventAuthorityChanged logging.EventType = "authority.changed"
	// EventControlAssigned is emitted when an object's control-assignment
	// expression resolves onto a peer's controlled set.
	EventControlAssigned logging.EventType = "authority.control_assigned"
	// EventControlCleared is emitted when an object leaves a peer's
	// controlled set through the pre-destruction hook path.
	EventControlCleared logging.EventType = "authority.control_cleared"
)

// ChangedPayload carries the before/after owners of a transfer.
type ChangedPayload struct {
	Old string `json:"old"`
	New string `json:"new"`
}

// ControlPayload names the control-assignment expression that drove an
// index update.
type ControlPayload struct {
	Expression string `json:"expression"`
}

// Changed publishes an authority-changed notification.
func Changed(ctx context.Context, pub logging.Publisher, tick uint64, object logging.EntityRef, payload ChangedPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventAuthorityChanged,
		Tick:     tick,
		Actor:    object,
		Severity: logging.SeverityInfo,
		Category: logging.CategoryAuthority,
		Payload:  payload,
	})
}

// ControlAssigned publishes a controlled-set insert notification.
func ControlAssigned(ctx context.Context, pub logging.Publisher, tick uint64, object logging.EntityRef, peer logging.EntityRef, payload ControlPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventControlAssigned,
		Tick:     tick,
		Actor:    object,
		Targets:  []logging.EntityRef{peer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryAuthority,
		Payload:  payload,
	})
}

// ControlCleared publishes a controlled-set removal notification.
func ControlCleared(ctx context.Context, pub logging.Publisher, tick uint64, object logging.EntityRef, peer logging.EntityRef, payload ControlPayload) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, logging.Event{
		Type:     EventControlCleared,
		Tick:     tick,
		Actor:    object,
		Targets:  []logging.EntityRef{peer},
		Severity: logging.SeverityDebug,
		Category: logging.CategoryAuthority,
		Payload:  payload,
	})
}
