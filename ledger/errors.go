/*
errors.go - ledger error types

Sentinel errors for errors.Is checks, plus structured errors carrying
context. The HTTP layer maps these to wire error codes; domain callers
branch on the sentinels.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientCredits is returned when no combination of the
	// member's eligible grants can cover a debit.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrGrantNotFound is returned when a referenced grant doesn't exist.
	ErrGrantNotFound = errors.New("credit grant not found")

	// ErrGrantMismatch is returned when a credit-back targets a grant that
	// belongs to a different member.
	ErrGrantMismatch = errors.New("grant does not belong to member")

	// ErrInvalidAmount is returned for zero or negative amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientCreditsError details a balance shortage.
type InsufficientCreditsError struct {
	MemberID  string
	Requested int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for member %s: requested %d, available %d",
		e.MemberID, e.Requested, e.Available)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }
