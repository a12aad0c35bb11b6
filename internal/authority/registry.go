package authority

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
	"orbfall/server/logging"
	authlog "orbfall/server/logging/authority"
)

// ErrUnknownObject signals a transfer or query against an object id that is
// not tracked by the registry. Unlike roster lookups, this is a caller
// contract violation: the policy issuing the transfer holds a stale
// reference.
var ErrUnknownObject = errors.New("authority: unknown object")

// Change describes a completed authority transfer.
type Change struct {
	Object state.ObjectID
	Old    Owner
	New    Owner
	Tick   uint64
}

// Observer receives authority-changed notifications synchronously, in the
// order the transfers were applied.
type Observer func(Change)

// Registry is the per-object single source of truth for authority owners.
// It executes and publishes transfer decisions; it never makes them.
// Mutations happen only on the tick goroutine; the mutex exists so queries
// and diagnostics snapshots may be served outside tick boundaries.
type Registry struct {
	mu        sync.Mutex
	owners    map[state.ObjectID]Owner
	observers []Observer
	publisher logging.Publisher
	metrics   telemetry.Metrics
}

// NewRegistry constructs an empty registry.
func NewRegistry(publisher logging.Publisher, metrics telemetry.Metrics) *Registry {
	if publisher == nil {
		publisher = logging.NopPublisher{}
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &Registry{
		owners:    make(map[state.ObjectID]Owner),
		publisher: publisher,
		metrics:   metrics,
	}
}

// Subscribe registers an observer for authority-changed notifications.
// Observers run on the tick goroutine after the transfer has been applied;
// they must not call back into Transfer.
func (r *Registry) Subscribe(observer Observer) {
	if observer == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, observer)
	r.mu.Unlock()
}

// Track starts tracking an object with the given initial owner. Tracking an
// already tracked object is a no-op; spawn paths may race with restores.
func (r *Registry) Track(id state.ObjectID, initial Owner) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[id]; ok {
		return
	}
	r.owners[id] = initial
}

// Forget drops an object from the registry. Called from the object's
// pre-destruction hook while the record still exists elsewhere.
func (r *Registry) Forget(id state.ObjectID) {
	r.mu.Lock()
	delete(r.owners, id)
	r.mu.Unlock()
}

// Tracked reports whether the registry knows the object.
func (r *Registry) Tracked(id state.ObjectID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.owners[id]
	return ok
}

// Owner returns the current authority owner for the object.
func (r *Registry) Owner(id state.ObjectID) (Owner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	if !ok {
		return Owner{}, fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	return owner, nil
}

// Transfer overwrites the object's owner within the current tick,
// last-write-wins. A transfer to the current owner is a no-op and emits no
// notification, so downstream observers see no churn. Transfers are assumed
// to originate from a single decision path per tick; concurrent policies
// are a caller bug, not something the registry arbitrates.
func (r *Registry) Transfer(tick uint64, id state.ObjectID, next Owner) error {
	r.mu.Lock()
	current, ok := r.owners[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownObject, id)
	}
	if current.Equal(next) {
		r.mu.Unlock()
		r.metrics.Add(telemetry.MetricTransfersSuppressed, 1)
		return nil
	}
	r.owners[id] = next
	observers := append([]Observer(nil), r.observers...)
	r.mu.Unlock()
	r.metrics.Add(telemetry.MetricTransfersApplied, 1)

	authlog.Changed(context.Background(), r.publisher, tick, logging.ObjectRef(string(id)), authlog.ChangedPayload{
		Old: current.String(),
		New: next.String(),
	})
	change := Change{Object: id, Old: current, New: next, Tick: tick}
	for _, observer := range observers {
		observer(change)
	}
	return nil
}

// Snapshot copies the full owner table for diagnostics and broadcasts.
func (r *Registry) Snapshot() map[state.ObjectID]Owner {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := make(map[state.ObjectID]Owner, len(r.owners))
	for id, owner := range r.owners {
		copied[id] = owner
	}
	return copied
}
