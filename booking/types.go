/*
Package booking is the reservation state machine.

PURPOSE:
  A Booking ties one member to one class. It is created `confirmed` and
  leaves that state exactly once:

      confirmed ──┬──> cancelled_on_time   (member cancel, refunded)
                  ├──> cancelled_late      (member cancel, no refund)
                  ├──> attended            (staff settlement)
                  └──> no_show             (staff settlement, no refund)

  The engine (engine.go) owns the two invariants that make this the hard
  part of the system:
  1. confirmed bookings for a class never exceed its capacity, even
     under concurrent requests
  2. at most one active booking per (class, member) pair

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking: the record, including the debit receipt lines so a refund
    reverses the exact grants the booking consumed
  - Status: the state machine states and the transition table

SEE ALSO:
  - engine.go: RequestBooking / CancelBooking / Settle / CancelClass
  - errors.go: sentinel and structured errors
*/
package booking

import (
	"time"

	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/policy"
)

// Status is a booking's lifecycle state.
type Status string

const (
	StatusConfirmed       Status = "confirmed"
	StatusCancelledOnTime Status = "cancelled_on_time"
	StatusCancelledLate   Status = "cancelled_late"
	StatusNoShow          Status = "no_show"
	StatusAttended        Status = "attended"
)

// terminal states reachable from confirmed; nothing leaves a terminal state.
var transitions = map[Status][]Status{
	StatusConfirmed: {StatusCancelledOnTime, StatusCancelledLate, StatusNoShow, StatusAttended},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Booking is one member's reservation of one class seat.
type Booking struct {
	ID       string
	ClassID  string
	MemberID string
	Status   Status

	// CreditsDebited is what this booking cost; 0 for free classes and
	// unlimited memberships. DebitLines records which grants were
	// consumed so an on-time cancellation refunds the same grants.
	CreditsDebited int
	DebitLines     []ledger.ConsumptionLine

	CancelledAt    *time.Time
	Classification *policy.Classification

	CreatedAt time.Time
}

// Active reports whether the booking still holds a seat.
func (b *Booking) Active() bool { return b.Status == StatusConfirmed }
