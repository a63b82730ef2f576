/*
engine.go - the reservation engine

PURPOSE:
  Implements the booking operations over a BookingStore, wiring together
  the class registry, credit ledger, cancellation policy, waitlist, and
  notification dispatcher.

ATOMICITY:
  The capacity check and the booking insert run inside the store's
  per-class critical section; the credit debit runs inside the ledger's
  per-member section nested within it. Confirmed bookings are only ever
  created while the class's waitlist queue lock is held (RequestBooking
  takes it explicitly, AutoBook inherits it from PromoteNext), which is
  what lets Join's confirmed-booking guard and RequestBooking's
  waitlist-entry guard exclude each other. Lock ordering is always
  queue -> class -> member, so the three domains cannot deadlock.

NOTIFICATIONS:
  Dispatched after the critical section commits. A notification failure
  never rolls back booking or ledger state.

SEE ALSO:
  - waitlist/waitlist.go: Join on overflow, PromoteNext on freed seats
  - policy/policy.go: refund classification
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/monitoring"
	"github.com/warp/studio-engine/notify"
	"github.com/warp/studio-engine/policy"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/waitlist"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// BookingStore persists bookings. WithClassLock serializes the capacity
// check and insert for one class.
type BookingStore interface {
	CreateBooking(ctx context.Context, b Booking) error
	GetBooking(ctx context.Context, id string) (*Booking, error)
	UpdateBooking(ctx context.Context, b Booking) error

	BookingsByClass(ctx context.Context, classID string, status Status) ([]Booking, error)
	BookingsByMember(ctx context.Context, memberID string) ([]Booking, error)
	ActiveBookingFor(ctx context.Context, classID, memberID string) (*Booking, error)
	ConfirmedSeatCount(ctx context.Context, classID string) (int, error)

	WithClassLock(ctx context.Context, classID string, fn func() error) error
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is the booking service.
type Engine struct {
	Registry *registry.Registry
	Ledger   *ledger.Service
	Pricing  catalog.Pricing
	Waitlist *waitlist.Manager
	Store    BookingStore
	Notifier notify.Dispatcher
	Clock    clock.Clock

	// Window is the studio-wide cancellation window.
	Window time.Duration
}

func NewEngine(reg *registry.Registry, led *ledger.Service, pricing catalog.Pricing, wl *waitlist.Manager, store BookingStore, notifier notify.Dispatcher, clk clock.Clock, window time.Duration) *Engine {
	if window <= 0 {
		window = policy.DefaultWindow
	}
	return &Engine{
		Registry: reg,
		Ledger:   led,
		Pricing:  pricing,
		Waitlist: wl,
		Store:    store,
		Notifier: notifier,
		Clock:    clk,
		Window:   window,
	}
}

// Result is the outcome of a booking request: either a confirmed booking
// or a waitlist entry, never both.
type Result struct {
	Booking       *Booking
	WaitlistEntry *waitlist.Entry
}

// RequestBooking reserves a seat for the member, or enqueues them on the
// waitlist when the class is full.
func (e *Engine) RequestBooking(ctx context.Context, classID, memberID string) (*Result, error) {
	class, err := e.Registry.Get(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.Status != registry.ClassScheduled {
		return nil, fmt.Errorf("%w: class %s is %s", ErrClassNotBookable, classID, class.Status)
	}
	if !e.Clock.Now().Before(class.StartAt) {
		return nil, fmt.Errorf("%w: class %s already started", ErrClassNotBookable, classID)
	}

	// The waitlist-entry guard and the booking insert run under the
	// class's queue lock: a concurrent Join either lands before us and
	// fails the guard here, or waits and then sees our confirmed booking.
	var booked *Booking
	err = e.Waitlist.WithQueue(ctx, classID, func() error {
		entry, err := e.Waitlist.EntryFor(ctx, classID, memberID)
		if err != nil {
			return err
		}
		if entry != nil {
			return waitlist.ErrDuplicateEntry
		}
		booked, err = e.tryBook(ctx, class, memberID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if booked != nil {
		monitoring.BookingCreated("confirmed")
		e.Notifier.Notify(ctx, memberID, notify.EventBookingConfirmed, map[string]string{
			"class_id":   classID,
			"booking_id": booked.ID,
		})
		return &Result{Booking: booked}, nil
	}

	// Class is full: overflow to the waitlist instead of failing.
	entry, err := e.Waitlist.Join(ctx, classID, memberID)
	if err != nil {
		return nil, err
	}
	monitoring.BookingCreated("waitlisted")
	return &Result{WaitlistEntry: entry}, nil
}

// AutoBook books a seat for a promoted waitlist member, reusing the same
// debit-and-insert critical section as direct requests. The caller
// (PromoteNext) already holds the class's queue lock. Returns
// waitlist.ErrSeatUnavailable when no seat remains or the class can no
// longer be booked, which stops the promotion pass, and
// waitlist.ErrMemberNotBookable when only this member cannot take the
// seat, which skips them.
func (e *Engine) AutoBook(ctx context.Context, classID, memberID string) error {
	class, err := e.Registry.Get(ctx, classID)
	if err != nil {
		return err
	}
	if class.Status != registry.ClassScheduled || !e.Clock.Now().Before(class.StartAt) {
		return waitlist.ErrSeatUnavailable
	}

	booked, err := e.tryBook(ctx, class, memberID)
	if errors.Is(err, ledger.ErrInsufficientCredits) || errors.Is(err, ErrDuplicateBooking) {
		return fmt.Errorf("%w: %v", waitlist.ErrMemberNotBookable, err)
	}
	if err != nil {
		return err
	}
	if booked == nil {
		return waitlist.ErrSeatUnavailable
	}
	monitoring.BookingCreated("promoted")
	e.Notifier.Notify(ctx, memberID, notify.EventBookingConfirmed, map[string]string{
		"class_id":   classID,
		"booking_id": booked.ID,
	})
	return nil
}

// tryBook runs the atomic capacity-check + debit + insert. Returns
// (nil, nil) when the class is full. Callers hold the class's waitlist
// queue lock; tryBook nests the class lock inside it.
func (e *Engine) tryBook(ctx context.Context, class *registry.Class, memberID string) (*Booking, error) {
	price, err := e.Pricing.ClassPrice(ctx, class.ID)
	if err != nil {
		return nil, fmt.Errorf("price lookup for class %s: %w", class.ID, err)
	}

	var created *Booking
	err = e.Store.WithClassLock(ctx, class.ID, func() error {
		existing, err := e.Store.ActiveBookingFor(ctx, class.ID, memberID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateBooking
		}

		// Re-read under the lock: the authoritative capacity check.
		count, err := e.Store.ConfirmedSeatCount(ctx, class.ID)
		if err != nil {
			return err
		}
		if count >= class.Capacity {
			return nil // full; caller decides waitlist vs stop
		}

		receipt := &ledger.DebitReceipt{MemberID: memberID}
		if price > 0 {
			receipt, err = e.Ledger.Debit(ctx, memberID, price)
			if err != nil {
				return err
			}
		}

		b := Booking{
			ID:             uuid.NewString(),
			ClassID:        class.ID,
			MemberID:       memberID,
			Status:         StatusConfirmed,
			CreditsDebited: debitedCredits(receipt),
			DebitLines:     receipt.Lines,
			CreatedAt:      e.Clock.Now(),
		}
		if err := e.Store.CreateBooking(ctx, b); err != nil {
			// The debit already happened; restore it rather than leak
			// credits. Insert failures here are store-level faults.
			if refundErr := e.Ledger.Refund(ctx, *receipt); refundErr != nil {
				return fmt.Errorf("create booking: %w (refund also failed: %v)", err, refundErr)
			}
			return fmt.Errorf("create booking: %w", err)
		}
		created = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CancelBooking cancels a member's confirmed booking, classifying it
// against the cancellation window and refunding on-time cancellations.
// The freed seat triggers a waitlist promotion pass.
func (e *Engine) CancelBooking(ctx context.Context, bookingID string) (*Booking, error) {
	b, err := e.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}

	class, err := e.Registry.Get(ctx, b.ClassID)
	if err != nil {
		return nil, err
	}
	now := e.Clock.Now()
	if !now.Before(class.StartAt) {
		return nil, &CancellationClosedError{BookingID: bookingID}
	}

	classification, err := policy.Evaluate(class.StartAt, now, e.Window)
	if err != nil {
		return nil, err
	}

	var cancelled *Booking
	err = e.Store.WithClassLock(ctx, b.ClassID, func() error {
		cur, err := e.Store.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if cur.Status != StatusConfirmed {
			return &TransitionError{BookingID: bookingID, From: cur.Status, To: StatusCancelledOnTime}
		}

		switch classification {
		case policy.OnTime:
			cur.Status = StatusCancelledOnTime
			if err := e.Ledger.Refund(ctx, ledger.DebitReceipt{MemberID: cur.MemberID, Lines: cur.DebitLines}); err != nil {
				return err
			}
		case policy.Late:
			cur.Status = StatusCancelledLate
		}
		cur.CancelledAt = &now
		cur.Classification = &classification
		if err := e.Store.UpdateBooking(ctx, *cur); err != nil {
			return err
		}
		cancelled = cur
		return nil
	})
	if err != nil {
		return nil, err
	}

	monitoring.BookingCancelled(string(classification))
	e.Notifier.Notify(ctx, cancelled.MemberID, notify.EventBookingCancelled, map[string]string{
		"class_id":       cancelled.ClassID,
		"booking_id":     cancelled.ID,
		"classification": string(classification),
	})

	// A confirmed seat freed; promote outside the class lock. The
	// cancellation and refund are already committed, so a failed
	// promotion pass is logged rather than reported to the caller.
	if _, err := e.Waitlist.PromoteNext(ctx, cancelled.ClassID); err != nil {
		log.Printf("[Booking] Promotion pass after cancelling %s failed: %v", cancelled.ID, err)
	}
	return cancelled, nil
}

// Settle records the staff's post-class outcome for a confirmed booking:
// attended or no_show. Never refunds credits.
func (e *Engine) Settle(ctx context.Context, bookingID string, outcome Status) (*Booking, error) {
	if outcome != StatusAttended && outcome != StatusNoShow {
		return nil, fmt.Errorf("%w: %s is not a settlement outcome", ErrInvalidTransition, outcome)
	}

	b, err := e.Store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrBookingNotFound
	}
	class, err := e.Registry.Get(ctx, b.ClassID)
	if err != nil {
		return nil, err
	}
	if e.Clock.Now().Before(class.StartAt) {
		return nil, fmt.Errorf("%w: class %s has not started", ErrInvalidTransition, class.ID)
	}

	var settled *Booking
	err = e.Store.WithClassLock(ctx, b.ClassID, func() error {
		cur, err := e.Store.GetBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if !CanTransition(cur.Status, outcome) {
			return &TransitionError{BookingID: bookingID, From: cur.Status, To: outcome}
		}
		cur.Status = outcome
		if outcome == StatusNoShow {
			c := policy.NoShow
			cur.Classification = &c
		}
		if err := e.Store.UpdateBooking(ctx, *cur); err != nil {
			return err
		}
		settled = cur
		return nil
	})
	if err != nil {
		return nil, err
	}
	return settled, nil
}

// CancelClass is the administrative workflow for a studio-cancelled
// class: every confirmed booking becomes cancelled_on_time with a full
// refund (a studio-initiated cancellation is never penalized), and the
// waitlist is cleared. One notification per affected member.
func (e *Engine) CancelClass(ctx context.Context, classID, reason string) error {
	class, err := e.Registry.Get(ctx, classID)
	if err != nil {
		return err
	}
	if class.Status != registry.ClassScheduled {
		return fmt.Errorf("%w: class %s is %s", ErrInvalidTransition, classID, class.Status)
	}

	now := e.Clock.Now()
	var affected []Booking
	err = e.Store.WithClassLock(ctx, classID, func() error {
		confirmed, err := e.Store.BookingsByClass(ctx, classID, StatusConfirmed)
		if err != nil {
			return err
		}
		onTime := policy.OnTime
		for i := range confirmed {
			b := confirmed[i]
			if err := e.Ledger.Refund(ctx, ledger.DebitReceipt{MemberID: b.MemberID, Lines: b.DebitLines}); err != nil {
				return err
			}
			b.Status = StatusCancelledOnTime
			b.CancelledAt = &now
			b.Classification = &onTime
			if err := e.Store.UpdateBooking(ctx, b); err != nil {
				return err
			}
			affected = append(affected, b)
		}

		class.Status = registry.ClassCancelled
		return e.Registry.Classes.SaveClass(ctx, *class)
	})
	if err != nil {
		return err
	}

	waiting, err := e.Waitlist.Clear(ctx, classID)
	if err != nil {
		return err
	}

	for _, b := range affected {
		e.Notifier.Notify(ctx, b.MemberID, notify.EventClassCancelled, map[string]string{
			"class_id": classID,
			"reason":   reason,
			"refunded": "true",
		})
	}
	for _, w := range waiting {
		e.Notifier.Notify(ctx, w.MemberID, notify.EventClassCancelled, map[string]string{
			"class_id": classID,
			"reason":   reason,
		})
	}
	return nil
}

// History returns a member's bookings, newest first ordering is left to
// the store.
func (e *Engine) History(ctx context.Context, memberID string) ([]Booking, error) {
	return e.Store.BookingsByMember(ctx, memberID)
}

func debitedCredits(r *ledger.DebitReceipt) int {
	if r.Unlimited || len(r.Lines) == 0 {
		return 0
	}
	return r.Amount
}
