/*
Package registry is the read-side view of the class catalog used by the
booking engine: identity, schedule, capacity, and lifecycle status.

PURPOSE:
  The booking engine needs two answers about a class: "what is it"
  (capacity, start time, status) and "how many confirmed seats are
  taken". The Registry answers both. Class records themselves are
  maintained by the admin subsystem; capacity is fixed at creation and
  the only in-core mutation is the class-cancellation workflow.

CONSISTENCY:
  ConfirmedSeatCount alone is only a snapshot. The capacity decision in
  the booking engine re-reads the count inside the per-class critical
  section before inserting, so the snapshot here is advisory; the
  authoritative check happens under the lock.

SEE ALSO:
  - booking/engine.go: the atomic capacity-check-plus-insert
*/
package registry

import (
	"context"
	"errors"
	"time"
)

// ClassStatus is the lifecycle state of a class.
type ClassStatus string

const (
	ClassScheduled ClassStatus = "scheduled"
	ClassCancelled ClassStatus = "cancelled"
	ClassCompleted ClassStatus = "completed"
)

// Class is a fixed-capacity, time-boxed session.
type Class struct {
	ID        string
	Name      string
	StartAt   time.Time
	EndAt     time.Time
	Capacity  int
	Status    ClassStatus
	CreatedAt time.Time
}

// ErrClassNotFound is returned when a referenced class doesn't exist.
var ErrClassNotFound = errors.New("class not found")

// ClassStore persists class records.
type ClassStore interface {
	SaveClass(ctx context.Context, c Class) error
	GetClass(ctx context.Context, id string) (*Class, error)
	ListClasses(ctx context.Context) ([]Class, error)
}

// SeatCounter reports confirmed-seat counts. Implemented by the booking
// store.
type SeatCounter interface {
	ConfirmedSeatCount(ctx context.Context, classID string) (int, error)
}

// Registry combines class records with seat counts.
type Registry struct {
	Classes ClassStore
	Seats   SeatCounter
}

func New(classes ClassStore, seats SeatCounter) *Registry {
	return &Registry{Classes: classes, Seats: seats}
}

// Get returns the class or ErrClassNotFound.
func (r *Registry) Get(ctx context.Context, classID string) (*Class, error) {
	c, err := r.Classes.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, ErrClassNotFound
	}
	return c, nil
}

// ConfirmedSeatCount returns the number of confirmed bookings for a class.
func (r *Registry) ConfirmedSeatCount(ctx context.Context, classID string) (int, error) {
	return r.Seats.ConfirmedSeatCount(ctx, classID)
}
