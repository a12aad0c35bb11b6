package telemetry

import "sync"

// Counter keys reported by the authority subsystem.
const (
	MetricTransfersApplied    = "authority_transfers_applied_total"
	MetricTransfersSuppressed = "authority_transfers_suppressed_total"
	MetricControlInserts      = "controlled_set_inserts_total"
	MetricControlRemovals     = "controlled_set_removals_total"
	MetricControlIdempotent   = "controlled_set_idempotent_noops_total"
	MetricCascadeDestroyed    = "cascade_objects_destroyed_total"
	MetricTickCount           = "sim_ticks_total"
	MetricTickDurationMicros  = "sim_tick_duration_micros"
	MetricCommandOccupancy    = "command_buffer_occupancy"
	MetricCommandOverflow     = "command_buffer_overflow_total"
)

// Counters is a mutex-guarded metrics store, snapshot-friendly for the
// diagnostics endpoint.
type Counters struct {
	mu     sync.Mutex
	values map[string]uint64
}

func NewCounters() *Counters {
	return &Counters{values: make(map[string]uint64)}
}

func (c *Counters) Add(key string, delta uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.values[key] += delta
	c.mu.Unlock()
}

func (c *Counters) Store(key string, value uint64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.values[key] = value
	c.mu.Unlock()
}

// Value reads a single counter.
func (c *Counters) Value(key string) uint64 {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key]
}

// Snapshot copies every counter for reporting.
func (c *Counters) Snapshot() map[string]uint64 {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	copied := make(map[string]uint64, len(c.values))
	for k, v := range c.values {
		copied[k] = v
	}
	return copied
}

var _ Metrics = (*Counters)(nil)
