package diagnostics

import (
	"errors"
	"testing"
	"time"
)

func TestRingBufferSnapshotOrder(t *testing.T) {
	buffer := NewRingBuffer[int](3)
	buffer.Add(1)
	buffer.Add(2)
	buffer.Add(3)
	buffer.Add(4)

	snapshot := buffer.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 items, got %d", len(snapshot))
	}
	if snapshot[0] != 2 || snapshot[1] != 3 || snapshot[2] != 4 {
		t.Fatalf("unexpected snapshot order: %+v", snapshot)
	}
	if buffer.Evicted() != 1 {
		t.Fatalf("expected 1 eviction, got %d", buffer.Evicted())
	}
}

func TestRingBufferPartial(t *testing.T) {
	buffer := NewRingBuffer[string](0)
	if got := buffer.Snapshot(); got != nil {
		t.Fatalf("expected nil snapshot, got %+v", got)
	}
	buffer.Add("a")
	if buffer.Len() != 1 {
		t.Fatalf("expected len 1, got %d", buffer.Len())
	}
	buffer.Add("b")
	snapshot := buffer.Snapshot()
	if len(snapshot) != 1 || snapshot[0] != "b" {
		t.Fatalf("capacity should clamp to 1: %+v", snapshot)
	}
}

func TestLogStampsAndBounds(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	log := NewLog(2)
	log.now = func() time.Time { return fixed }

	log.Record(Event{Step: StepCatalogFetch, Phase: PhaseEnter})
	log.Record(Event{Step: StepKeyStrategy, Phase: PhaseError, Strategy: "did-web", Error: ErrorString(errors.New("404"))})
	log.Record(Event{Step: StepKeyResolve, Phase: PhaseExit})

	events := log.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Strategy != "did-web" || events[0].Error != "404" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if !events[1].Timestamp.Equal(fixed) {
		t.Fatalf("expected stamped timestamp, got %v", events[1].Timestamp)
	}
	if log.Evicted() != 1 {
		t.Fatalf("expected 1 eviction, got %d", log.Evicted())
	}
}

func TestNilProbeHelpers(t *testing.T) {
	var log *Log
	log.Record(Event{})
	if log.Events() != nil {
		t.Fatalf("nil log should have no events")
	}
	OrNoop(nil).Record(Event{})
	if ErrorString(nil) != "" {
		t.Fatalf("expected empty error string")
	}
}
