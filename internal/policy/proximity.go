// Package policy holds authority-transfer heuristics. The core subsystem
// only records and propagates transfers; deciding when authority moves is
// policy, and this package is the reference implementation.
package policy

import (
	"math"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/session"
	"orbfall/server/internal/sim"
	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
)

// ProximityHandoff assigns authority over a shared object to the first peer
// whose avatar sits within the radius, and reverts it to the server when no
// peer is close enough.
type ProximityHandoff struct {
	Object        state.ObjectID
	Radius        float64
	IntervalTicks uint64

	logger telemetry.Logger
}

// NewProximityHandoff builds the policy for one shared object.
func NewProximityHandoff(object state.ObjectID, radius float64, intervalTicks uint64, logger telemetry.Logger) *ProximityHandoff {
	if radius <= 0 {
		radius = 100
	}
	return &ProximityHandoff{
		Object:        object,
		Radius:        radius,
		IntervalTicks: intervalTicks,
		logger:        logger,
	}
}

// Apply implements sim.Policy.
func (p *ProximityHandoff) Apply(ctx sim.TickContext, world *session.Session) {
	if p.IntervalTicks > 1 && ctx.Tick%p.IntervalTicks != 0 {
		return
	}

	var center state.Position
	if !world.WithObject(p.Object, func(record *session.ObjectRecord) {
		center = record.Position
	}) {
		// Shared object despawned; nothing to hand off.
		return
	}

	next := authority.Server()
	for _, peer := range world.Roster() {
		avatar, ok := world.AvatarOf(peer)
		if !ok {
			continue
		}
		var at state.Position
		if !world.WithObject(avatar, func(record *session.ObjectRecord) {
			at = record.Position
		}) {
			continue
		}
		if math.Hypot(at.X-center.X, at.Y-center.Y) < p.Radius {
			next = authority.Peer(peer)
			break
		}
	}

	if err := world.Authority().Transfer(ctx.Tick, p.Object, next); err != nil {
		if p.logger != nil {
			p.logger.Printf("proximity handoff failed for %s: %v", p.Object, err)
		}
	}
}

var _ sim.Policy = (*ProximityHandoff)(nil)
