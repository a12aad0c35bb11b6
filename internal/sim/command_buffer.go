package sim

import (
	"sync"

	"orbfall/server/internal/telemetry"
)

// CommandBuffer stages commands between transport goroutines and the tick
// loop: a fixed-size FIFO ring, safe for concurrent producers, drained once
// per tick by the intake stage. A full ring rejects the push so the loop
// never blocks on a slow or hostile client.
type CommandBuffer struct {
	mu      sync.Mutex
	ring    []Command
	head    int
	tail    int
	count   int
	metrics telemetry.Metrics
}

// NewCommandBuffer constructs a ring holding at most capacity commands.
func NewCommandBuffer(capacity int, metrics telemetry.Metrics) *CommandBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if metrics == nil {
		metrics = telemetry.NopMetrics()
	}
	return &CommandBuffer{
		ring:    make([]Command, capacity),
		metrics: metrics,
	}
}

// Push stages a command for the next tick, returning false when the ring is
// full.
func (b *CommandBuffer) Push(cmd Command) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.ring) {
		b.metrics.Add(telemetry.MetricCommandOverflow, 1)
		return false
	}
	b.ring[b.tail] = cmd
	b.tail = (b.tail + 1) % len(b.ring)
	b.count++
	b.metrics.Store(telemetry.MetricCommandOccupancy, uint64(b.count))
	return true
}

// Drain removes every staged command in FIFO order. It returns nil when
// nothing is staged.
func (b *CommandBuffer) Drain() []Command {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	drained := make([]Command, b.count)
	for i := range drained {
		drained[i] = b.ring[(b.head+i)%len(b.ring)]
	}
	b.head = 0
	b.tail = 0
	b.count = 0
	b.metrics.Store(telemetry.MetricCommandOccupancy, 0)
	return drained
}
