// Package observe delivers analytics events to an external sink. Delivery is
// best-effort and never blocks the dispatch or decision path.
package observe

import (
	"log"
	"time"
)

// Event is one observability record.
type Event struct {
	Timestamp time.Time              `json:"ts"`
	Event     string                 `json:"event"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// Sink accepts events. Implementations must return quickly; slow transports
// buffer or drop internally.
type Sink interface {
	Emit(ev Event)
	Close() error
}

// NopSink discards every event.
type NopSink struct{}

func (NopSink) Emit(Event) {}

func (NopSink) Close() error { return nil }

// LogSink writes events to the process log, for development.
type LogSink struct{}

func (LogSink) Emit(ev Event) {
	log.Printf("[observe] %s fields=%v", ev.Event, ev.Fields)
}

func (LogSink) Close() error { return nil }

// CaptureSink records events in memory, for tests.
type CaptureSink struct {
	events chan Event
}

// NewCaptureSink returns a CaptureSink buffering up to n events.
func NewCaptureSink(n int) *CaptureSink {
	return &CaptureSink{events: make(chan Event, n)}
}

func (c *CaptureSink) Emit(ev Event) {
	select {
	case c.events <- ev:
	default:
	}
}

func (c *CaptureSink) Close() error { return nil }

// Drain returns all captured events without blocking.
func (c *CaptureSink) Drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-c.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}
