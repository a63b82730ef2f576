/*
Package policy classifies booking cancellations against the studio's
cancellation window.

PURPOSE:
  A member who cancels far enough ahead of class start gets their credit
  back; a member who cancels inside the window does not. This package is
  the single place that rule lives. It is a pure function of three inputs:
  class start time, cancellation time, and the configured window.

CLASSIFICATION:
  cancelledAt <  classStartAt - window  ->  OnTime (credit refunded)
  cancelledAt >= classStartAt - window
           AND cancelledAt < classStartAt ->  Late  (no refund)
  cancelledAt >= classStartAt            ->  error  (callers must route
                                                     this to the post-class
                                                     settlement path first)

The window is a studio-wide setting, default 24 hours.

SEE ALSO:
  - booking/engine.go: rejects at-or-after-start cancellations before
    calling Evaluate, and applies the refund for OnTime results.
*/
package policy

import (
	"errors"
	"time"
)

// DefaultWindow is the studio-wide default cancellation window.
const DefaultWindow = 24 * time.Hour

// Classification is the refund tier of a cancellation.
type Classification string

const (
	// OnTime cancellations happened before the window opened; the debited
	// credit is restored.
	OnTime Classification = "on_time"

	// Late cancellations happened inside the window; no refund.
	Late Classification = "late"

	// NoShow is never produced by Evaluate. It is the settlement outcome
	// recorded by staff after class for members who did not cancel at all.
	NoShow Classification = "no_show"
)

// ErrAfterStart is returned when Evaluate is called for a cancellation at
// or after class start. The booking engine rejects that case before
// classification; hitting this error indicates a caller bug.
var ErrAfterStart = errors.New("cancellation at or after class start")

// Evaluate classifies a cancellation. Pure: no clock access, no state.
func Evaluate(classStartAt, cancelledAt time.Time, window time.Duration) (Classification, error) {
	if !cancelledAt.Before(classStartAt) {
		return "", ErrAfterStart
	}
	deadline := classStartAt.Add(-window)
	if cancelledAt.Before(deadline) {
		return OnTime, nil
	}
	return Late, nil
}
