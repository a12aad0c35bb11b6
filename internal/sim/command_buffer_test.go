package sim

import (
	"testing"

	"orbfall/server/internal/state"
	"orbfall/server/internal/telemetry"
)

func TestCommandBufferDrainsInFIFOOrder(t *testing.T) {
	buffer := NewCommandBuffer(3, nil)
	staged := []Command{
		{Peer: "a", Type: CommandMove},
		{Peer: "b", Type: CommandHeartbeat},
		{Peer: "c", Type: CommandDisconnect},
	}
	for _, cmd := range staged {
		if !buffer.Push(cmd) {
			t.Fatalf("push failed for %s", cmd.Peer)
		}
	}
	drained := buffer.Drain()
	if len(drained) != len(staged) {
		t.Fatalf("drained %d commands, want %d", len(drained), len(staged))
	}
	for i, cmd := range drained {
		if cmd.Peer != staged[i].Peer || cmd.Type != staged[i].Type {
			t.Fatalf("drain[%d] = %s/%s, want %s/%s", i, cmd.Peer, cmd.Type, staged[i].Peer, staged[i].Type)
		}
	}
	if again := buffer.Drain(); again != nil {
		t.Fatalf("second drain returned %d commands, want nil", len(again))
	}
}

func TestCommandBufferWrapsAfterDrain(t *testing.T) {
	buffer := NewCommandBuffer(3, nil)
	for _, peer := range []state.PeerID{"a", "b", "c"} {
		buffer.Push(Command{Peer: peer})
	}
	buffer.Drain()

	// The ring indices wrapped; order must still hold.
	buffer.Push(Command{Peer: "d"})
	buffer.Push(Command{Peer: "e"})
	wrapped := buffer.Drain()
	if len(wrapped) != 2 || wrapped[0].Peer != "d" || wrapped[1].Peer != "e" {
		t.Fatalf("unexpected order after wraparound: %+v", wrapped)
	}
}

func TestCommandBufferOverflowCounts(t *testing.T) {
	counters := telemetry.NewCounters()
	buffer := NewCommandBuffer(1, counters)

	if !buffer.Push(Command{Peer: "one"}) {
		t.Fatalf("initial push failed")
	}
	if buffer.Push(Command{Peer: "two"}) {
		t.Fatalf("push succeeded past capacity")
	}
	if got := counters.Value(telemetry.MetricCommandOverflow); got != 1 {
		t.Fatalf("overflow counter = %d, want 1", got)
	}
	if got := counters.Value(telemetry.MetricCommandOccupancy); got != 1 {
		t.Fatalf("occupancy = %d, want 1", got)
	}

	drained := buffer.Drain()
	if len(drained) != 1 || drained[0].Peer != "one" {
		t.Fatalf("unexpected drained commands: %+v", drained)
	}
	if got := counters.Value(telemetry.MetricCommandOccupancy); got != 0 {
		t.Fatalf("occupancy after drain = %d, want 0", got)
	}
}
