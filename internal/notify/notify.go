// Package notify is the change notification seam of the ledger. Engines emit
// credit-update and stock-update events through a Notifier; delivery is
// fire-and-forget and never fails or blocks the emitting operation.
package notify

import (
	"context"
	"sync"
	"time"

	"crm/internal/ledger"
)

// EventType names a change event.
type EventType string

const (
	CreditUpdate EventType = "credit-update"
	StockUpdate  EventType = "stock-update"
)

// Event is the envelope delivered to subscribers.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Actor      string    `json:"actor"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// Notifier receives change events. Implementations must return promptly
// and must not panic on delivery failure.
type Notifier interface {
	Emit(ctx context.Context, event EventType, payload any)
}

// Noop discards every event.
type Noop struct{}

func (Noop) Emit(context.Context, EventType, any) {}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(ctx context.Context, event EventType, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Event{
		Type:       event,
		Actor:      ledger.ActorFrom(ctx),
		OccurredAt: time.Now(),
		Payload:    payload,
	})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Of returns the recorded events of one type.
func (r *Recorder) Of(event EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == event {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
