/*
Package notify is the outbound notification boundary.

PURPOSE:
  The core emits events (booking confirmed, spot opened, payment
  confirmed) but never renders or delivers email itself. Dispatch is
  fire-and-forget: a failed notification is logged and dropped, never
  propagated back into ledger or booking state.

IMPLEMENTATIONS:
  - LogDispatcher: writes events to the process log (default)
  - AMQPDispatcher (amqp.go): publishes JSON events to a RabbitMQ
    exchange for a downstream delivery worker
  - Recorder: captures events in memory for tests
*/
package notify

import (
	"context"
	"log"
	"sync"
)

// EventType names a notification event.
type EventType string

const (
	EventBookingConfirmed   EventType = "booking-confirmed"
	EventBookingCancelled   EventType = "booking-cancelled"
	EventClassCancelled     EventType = "class-cancelled"
	EventWaitlistSpotOpened EventType = "waitlist-spot-opened"
	EventPaymentConfirmed   EventType = "payment-confirmed"
)

// Dispatcher delivers a notification to a member. Fire-and-forget:
// implementations must not block the caller on delivery and must not
// return delivery failures as errors that could roll back state.
type Dispatcher interface {
	Notify(ctx context.Context, memberID string, event EventType, payload map[string]string)
}

// =============================================================================
// LOG DISPATCHER
// =============================================================================

// LogDispatcher writes notifications to the process log.
type LogDispatcher struct{}

func (LogDispatcher) Notify(_ context.Context, memberID string, event EventType, payload map[string]string) {
	log.Printf("[Notify] member=%s event=%s payload=%v", memberID, event, payload)
}

// Noop drops all notifications.
type Noop struct{}

func (Noop) Notify(context.Context, string, EventType, map[string]string) {}

// =============================================================================
// RECORDER - test helper
// =============================================================================

// Recorded is one captured notification.
type Recorded struct {
	MemberID string
	Event    EventType
	Payload  map[string]string
}

// Recorder captures notifications for assertions in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
}

func (r *Recorder) Notify(_ context.Context, memberID string, event EventType, payload map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Recorded{MemberID: memberID, Event: event, Payload: payload})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Recorded {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Recorded, len(r.events))
	copy(out, r.events)
	return out
}

// ByEvent returns recorded notifications of one type.
func (r *Recorder) ByEvent(event EventType) []Recorded {
	var out []Recorded
	for _, e := range r.Events() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
