package observe

import (
	"testing"
	"time"
)

func TestCaptureSinkDrains(t *testing.T) {
	s := NewCaptureSink(2)
	s.Emit(Event{Timestamp: time.Now(), Event: "one"})
	s.Emit(Event{Timestamp: time.Now(), Event: "two"})

	events := s.Drain()
	if len(events) != 2 || events[0].Event != "one" || events[1].Event != "two" {
		t.Fatalf("unexpected events %v", events)
	}
	if len(s.Drain()) != 0 {
		t.Fatal("drain must empty the buffer")
	}
}

func TestCaptureSinkDropsWhenFull(t *testing.T) {
	s := NewCaptureSink(1)
	s.Emit(Event{Event: "kept"})
	s.Emit(Event{Event: "dropped"})

	events := s.Drain()
	if len(events) != 1 || events[0].Event != "kept" {
		t.Fatalf("full sink must drop, got %v", events)
	}
}
