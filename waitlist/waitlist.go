/*
Package waitlist manages the per-class FIFO overflow queue.

PURPOSE:
  When a class is full, booking requests land here instead of failing.
  Each class has its own queue of entries with dense integer positions:
  at all times the positions for a class are exactly {1..N}, position 1
  is next to be promoted, and removing any entry renumbers the ones
  behind it to close the gap.

ORDERING:
  Position assignment is strictly insertion order. No priority tiers, no
  reordering by membership type. Concurrent joins serialize on the
  store's per-class queue lock, so two members can never be assigned the
  same position. The queue lock is also the outer lock for confirmed
  booking creation (see WithQueue): whenever the queue lock and the
  class lock are both held, the queue lock is acquired first.

PROMOTION:
  When a confirmed seat frees (cancellation, class-side changes), the
  manager walks the queue from position 1 and asks the booking engine to
  auto-book each member in turn. A member who cannot be booked right now
  (no credits) keeps their entry and is skipped; the first bookable
  member is converted into a confirmed booking, removed, renumbered
  around, and notified. If the seat is gone by the time promotion runs,
  promotion stops without touching the queue.

SEE ALSO:
  - booking/engine.go: implements Booker and calls Join/PromoteNext
*/
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/monitoring"
	"github.com/warp/studio-engine/notify"
)

// =============================================================================
// TYPES
// =============================================================================

// Entry is one member's place in a class's waitlist.
type Entry struct {
	ID       string
	ClassID  string
	MemberID string

	// Position is dense and contiguous within a class: {1..N}, 1 = next
	// to be promoted.
	Position int

	Notified  bool
	CreatedAt time.Time
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrDuplicateEntry is returned when a member already waits on this class.
	ErrDuplicateEntry = errors.New("member already on waitlist for class")

	// ErrAlreadyBooked is returned when a member with a confirmed booking
	// tries to also join the class's waitlist.
	ErrAlreadyBooked = errors.New("member already holds a confirmed booking for class")

	// ErrEntryNotFound is returned when leave targets a missing entry.
	ErrEntryNotFound = errors.New("waitlist entry not found")

	// ErrSeatUnavailable is returned by a Booker when the freed seat has
	// been taken again; promotion stops without consuming entries.
	ErrSeatUnavailable = errors.New("no seat available")

	// ErrMemberNotBookable is returned by a Booker when this member cannot
	// be auto-booked right now (no credits, stale duplicate). Promotion
	// skips the member and tries the next position.
	ErrMemberNotBookable = errors.New("member cannot be auto-booked")
)

// =============================================================================
// COLLABORATOR INTERFACES
// =============================================================================

// Booker converts a waitlist member into a confirmed booking, reusing the
// engine's atomic debit-and-insert. Returning ErrSeatUnavailable stops
// the current promotion pass; ErrMemberNotBookable skips this member and
// tries the next position; any other error aborts promotion and is
// propagated to the caller.
type Booker interface {
	AutoBook(ctx context.Context, classID, memberID string) error
}

// BookingGuard reports whether a member already holds a confirmed booking
// for a class. Implemented by the booking store; enforces the invariant
// that a member never holds both a booking and a waitlist entry for the
// same class.
type BookingGuard interface {
	HasConfirmedBooking(ctx context.Context, classID, memberID string) (bool, error)
}

// EntryStore persists waitlist entries. WithQueueLock serializes all
// position reads and writes for one class; every mutating Manager
// operation runs inside it.
type EntryStore interface {
	AppendEntry(ctx context.Context, e Entry) error
	UpdateEntry(ctx context.Context, e Entry) error
	RemoveEntry(ctx context.Context, id string) error

	// EntriesByClass returns a class's entries ordered by position.
	EntriesByClass(ctx context.Context, classID string) ([]Entry, error)
	EntryFor(ctx context.Context, classID, memberID string) (*Entry, error)

	WithQueueLock(ctx context.Context, classID string, fn func() error) error
}

// =============================================================================
// MANAGER
// =============================================================================

// Manager is the waitlist service. Booker is set after the booking engine
// is constructed (the two reference each other).
type Manager struct {
	Store    EntryStore
	Bookings BookingGuard
	Booker   Booker
	Notifier notify.Dispatcher
	Clock    clock.Clock
}

func NewManager(store EntryStore, bookings BookingGuard, notifier notify.Dispatcher, clk clock.Clock) *Manager {
	return &Manager{Store: store, Bookings: bookings, Notifier: notifier, Clock: clk}
}

// Join appends the member at position max+1 (1 if the queue is empty).
// Rejects duplicate joins and members who already hold a confirmed
// booking for the class.
func (m *Manager) Join(ctx context.Context, classID, memberID string) (*Entry, error) {
	var entry *Entry
	err := m.Store.WithQueueLock(ctx, classID, func() error {
		existing, err := m.Store.EntryFor(ctx, classID, memberID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrDuplicateEntry
		}
		booked, err := m.Bookings.HasConfirmedBooking(ctx, classID, memberID)
		if err != nil {
			return err
		}
		if booked {
			return ErrAlreadyBooked
		}

		entries, err := m.Store.EntriesByClass(ctx, classID)
		if err != nil {
			return err
		}
		e := Entry{
			ID:        uuid.NewString(),
			ClassID:   classID,
			MemberID:  memberID,
			Position:  len(entries) + 1,
			CreatedAt: m.Clock.Now(),
		}
		if err := m.Store.AppendEntry(ctx, e); err != nil {
			return err
		}
		entry = &e
		monitoring.WaitlistJoin()
		monitoring.SetWaitlistDepth(classID, len(entries)+1)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Leave removes the member's entry and renumbers the entries behind it.
func (m *Manager) Leave(ctx context.Context, classID, memberID string) error {
	return m.Store.WithQueueLock(ctx, classID, func() error {
		entry, err := m.Store.EntryFor(ctx, classID, memberID)
		if err != nil {
			return err
		}
		if entry == nil {
			return ErrEntryNotFound
		}
		if err := m.removeAndRenumber(ctx, *entry); err != nil {
			return err
		}
		monitoring.WaitlistLeave()
		return nil
	})
}

// PromoteNext converts the first auto-bookable entry into a confirmed
// booking. Returns the promoted entry, or nil when the queue is empty,
// no member is currently bookable, or the seat is already gone.
func (m *Manager) PromoteNext(ctx context.Context, classID string) (*Entry, error) {
	var promoted *Entry
	err := m.Store.WithQueueLock(ctx, classID, func() error {
		entries, err := m.Store.EntriesByClass(ctx, classID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			err := m.Booker.AutoBook(ctx, e.ClassID, e.MemberID)
			if errors.Is(err, ErrSeatUnavailable) {
				// Seat was re-taken between the cancellation and this
				// promotion pass. Queue stays as-is.
				return nil
			}
			if errors.Is(err, ErrMemberNotBookable) {
				// This member can't be promoted right now (typically no
				// credits). Keep the entry, try the next position.
				continue
			}
			if err != nil {
				// Store-level fault, not a skip. Abort the pass.
				return fmt.Errorf("auto-book member %s: %w", e.MemberID, err)
			}
			e.Notified = true
			if err := m.removeAndRenumber(ctx, e); err != nil {
				return err
			}
			promoted = &e
			monitoring.WaitlistPromotion()
			return nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if promoted != nil && m.Notifier != nil {
		m.Notifier.Notify(ctx, promoted.MemberID, notify.EventWaitlistSpotOpened, map[string]string{
			"class_id": promoted.ClassID,
		})
	}
	return promoted, nil
}

// Clear removes every entry for a class (used when the class itself is
// cancelled) and returns the removed entries so callers can notify.
func (m *Manager) Clear(ctx context.Context, classID string) ([]Entry, error) {
	var removed []Entry
	err := m.Store.WithQueueLock(ctx, classID, func() error {
		entries, err := m.Store.EntriesByClass(ctx, classID)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := m.Store.RemoveEntry(ctx, e.ID); err != nil {
				return err
			}
		}
		removed = entries
		monitoring.SetWaitlistDepth(classID, 0)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Entries returns a class's queue ordered by position.
func (m *Manager) Entries(ctx context.Context, classID string) ([]Entry, error) {
	return m.Store.EntriesByClass(ctx, classID)
}

// EntryFor returns the member's entry for a class, if any.
func (m *Manager) EntryFor(ctx context.Context, classID, memberID string) (*Entry, error) {
	return m.Store.EntryFor(ctx, classID, memberID)
}

// WithQueue runs fn under the class's queue lock. The booking engine
// creates confirmed bookings inside it, so Join's confirmed-booking
// guard and the engine's waitlist-entry guard both observe a settled
// state: a member can never end up holding both records for one class.
// fn must not call a locking Manager operation for the same class.
func (m *Manager) WithQueue(ctx context.Context, classID string, fn func() error) error {
	return m.Store.WithQueueLock(ctx, classID, fn)
}

// removeAndRenumber removes one entry and decrements the position of
// every entry behind it, restoring the contiguous {1..N} invariant.
// Callers must hold the class queue lock.
func (m *Manager) removeAndRenumber(ctx context.Context, removed Entry) error {
	if err := m.Store.RemoveEntry(ctx, removed.ID); err != nil {
		return err
	}
	entries, err := m.Store.EntriesByClass(ctx, removed.ClassID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.Position > removed.Position {
			e.Position--
			if err := m.Store.UpdateEntry(ctx, e); err != nil {
				return fmt.Errorf("renumber entry %s: %w", e.ID, err)
			}
		}
	}
	monitoring.SetWaitlistDepth(removed.ClassID, len(entries))
	return nil
}
