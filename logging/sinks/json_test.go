package sinks

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"orbfall/server/logging"
)

func TestJSONCloseFlushesBufferedEvents(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, time.Hour)

	event := logging.Event{
		Type:     "authority.changed",
		Tick:     12,
		Severity: logging.SeverityInfo,
	}
	if err := sink.Write(event); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	// The flush interval has not elapsed; the event sits in the buffer
	// until Close.
	if buf.Len() != 0 {
		t.Fatalf("event flushed before close: %q", buf.String())
	}
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if !strings.Contains(buf.String(), "authority.changed") {
		t.Fatalf("flushed output missing event: %q", buf.String())
	}
	// Close again; the stop channel must only close once.
	if err := sink.Close(context.Background()); err != nil {
		t.Fatalf("second close failed: %v", err)
	}
}

func TestJSONImmediateFlushWithoutInterval(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSON(&buf, 0)
	if err := sink.Write(logging.Event{Type: "lifecycle.peer_connected"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if !strings.Contains(buf.String(), "lifecycle.peer_connected") {
		t.Fatalf("event not flushed immediately: %q", buf.String())
	}
}
