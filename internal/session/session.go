// Package session owns the per-session bookkeeping for the authority
// subsystem: the live peer roster, each peer's controlled-entity set, and
// the replicated-object table. All mutation happens on the tick goroutine;
// the mutex exists so queries may be served outside tick boundaries.
package session

import (
	"sync"
	"time"

	"orbfall/server/internal/authority"
	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
	"orbfall/server/logging"
)

// Deps bundles the infrastructure the session needs.
type Deps struct {
	Publisher logging.Publisher
	Metrics   telemetry.Metrics
	Clock     logging.Clock
}

// PreDestroyHook runs synchronously before an object record is dropped from
// the table. The record still resolves while hooks run, so dependent indices
// can read its last associations.
type PreDestroyHook func(tick uint64, obj *ObjectRecord)

// DisconnectObserver reacts to the raw disconnect signal before the cascade
// destroys the peer's controlled objects.
type DisconnectObserver func(tick uint64, peer state.PeerID)

// Session is the owned state of one world instance.
type Session struct {
	mu sync.Mutex

	publisher logging.Publisher
	metrics   telemetry.Metrics
	clock     logging.Clock
	registry  *authority.Registry

	peers  map[state.PeerID]*PeerRecord
	roster []state.PeerID

	objects    map[state.ObjectID]*ObjectRecord
	spawnOrder []state.ObjectID
	nextObject uint64

	preDestroy          []PreDestroyHook
	disconnectObservers []DisconnectObserver
}

// New constructs an empty session. The authority registry is created inside
// the session so both always share a publisher and metrics surface.
func New(deps Deps) *Session {
	publisher := deps.Publisher
	if publisher == nil {
		publisher = logging.NopPublisher{}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	clock := deps.Clock
	if clock == nil {
		clock = logging.SystemClock{}
	}
	s := &Session{
		publisher: publisher,
		metrics:   metrics,
		clock:     clock,
		registry:  authority.NewRegistry(publisher, metrics),
		peers:     make(map[state.PeerID]*PeerRecord),
		objects:   make(map[state.ObjectID]*ObjectRecord),
	}
	// The controlled-entity index cleans itself through the same hook path
	// any other dependent index would use.
	s.preDestroy = append(s.preDestroy, s.clearControlMemberships, s.forgetAuthority)
	return s
}

// Authority exposes the per-object authority registry.
func (s *Session) Authority() *authority.Registry {
	return s.registry
}

// OnPreDestroy registers a hook invoked before any object record is dropped.
func (s *Session) OnPreDestroy(hook PreDestroyHook) {
	if hook == nil {
		return
	}
	s.mu.Lock()
	s.preDestroy = append(s.preDestroy, hook)
	s.mu.Unlock()
}

// OnDisconnect registers an observer of the raw disconnect signal. Observers
// run before the cascade, while the peer's record and controlled set are
// still intact.
func (s *Session) OnDisconnect(observer DisconnectObserver) {
	if observer == nil {
		return
	}
	s.mu.Lock()
	s.disconnectObservers = append(s.disconnectObservers, observer)
	s.mu.Unlock()
}

func (s *Session) now() time.Time {
	return s.clock.Now()
}
