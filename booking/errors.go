/*
errors.go - booking engine error types

Invariant violations here (capacity, duplicate booking) are defensive:
under correct locking they are unreachable from concurrent requests, so
surfacing one means either a race gap or a client bug. They are never
swallowed.
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrCapacityExceeded guards direct booking of a full class. Normal
	// requests route to the waitlist instead of surfacing this.
	ErrCapacityExceeded = errors.New("class capacity exceeded")

	// ErrDuplicateBooking is returned when the member already holds a
	// confirmed booking for the class.
	ErrDuplicateBooking = errors.New("member already booked for class")

	// ErrInvalidTransition is returned when an action targets a booking
	// that is not in an eligible state.
	ErrInvalidTransition = errors.New("invalid booking state transition")

	// ErrClassNotBookable is returned when the class is cancelled,
	// completed, or has already started.
	ErrClassNotBookable = errors.New("class not open for booking")

	// ErrBookingNotFound is returned when a referenced booking doesn't exist.
	ErrBookingNotFound = errors.New("booking not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError details an illegal state transition attempt.
type TransitionError struct {
	BookingID string
	From      Status
	To        Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("booking %s: cannot transition %s -> %s", e.BookingID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// CancellationClosedError is returned for member cancellations at or
// after class start; those must go through the settlement path.
type CancellationClosedError struct {
	BookingID string
}

func (e *CancellationClosedError) Error() string {
	return fmt.Sprintf("booking %s: class has started, use post-class settlement", e.BookingID)
}

func (e *CancellationClosedError) Unwrap() error { return ErrInvalidTransition }
