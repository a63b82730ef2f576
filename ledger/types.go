/*
Package ledger tracks purchased credit grants: balances, consumption,
refunds, and expiry.

PURPOSE:
  Every class a member attends costs credits, and credits arrive in
  batches ("grants") created by purchases: a 10-class pack is a grant of
  10 credits expiring in 90 days; an unlimited membership is a grant with
  no credit count at all. This package owns the accounting:

  - Grant:       create a new batch of credits (or unlimited access)
  - Debit:       consume credits, soonest-expiring grant first
  - Credit:      restore credits to the grant they were taken from
  - ExpireSweep: deactivate grants past their expiry date

KEY CONCEPTS IN THIS FILE (types.go):
  - CreditGrant: a batch of credits with its own expiry and active flag
  - DebitReceipt / ConsumptionLine: which grants a debit consumed from,
    kept by the caller so a later refund reverses the exact same grants

INVARIANTS:
  1. 0 <= CreditsRemaining <= CreditsTotal whenever both are non-nil
  2. A grant with zero remaining credits or a past expiry is never
     consumed from
  3. Expiry forfeits remaining balance; it never refunds

CONCURRENCY:
  All mutation runs inside the store's per-member critical section so two
  concurrent debits cannot both read the same remaining balance and
  subtract independently.

SEE ALSO:
  - ledger.go: the Service implementing the operations
  - errors.go: sentinel and structured errors
*/
package ledger

import (
	"time"
)

// GrantID identifies a credit grant.
type GrantID string

// CreditGrant is a batch of credits (or unlimited access) created by a
// purchase. Nil CreditsTotal/CreditsRemaining means unlimited; nil
// ExpiresAt means the grant never expires.
type CreditGrant struct {
	ID               GrantID
	MemberID         string
	CreditsTotal     *int
	CreditsRemaining *int
	ExpiresAt        *time.Time
	Active           bool

	// Source records what created the grant: a product ID, "manual", or
	// an admin bulk-adjustment reference. Audit only.
	Source string

	CreatedAt time.Time
}

// Unlimited reports whether the grant carries no credit count.
func (g *CreditGrant) Unlimited() bool { return g.CreditsTotal == nil }

// Eligible reports whether the grant can be consumed from at the given time.
func (g *CreditGrant) Eligible(now time.Time) bool {
	if !g.Active {
		return false
	}
	if g.ExpiresAt != nil && !g.ExpiresAt.After(now) {
		return false
	}
	if g.Unlimited() {
		return true
	}
	return *g.CreditsRemaining > 0
}

// ConsumptionLine records credits taken from one grant as part of a debit.
type ConsumptionLine struct {
	GrantID GrantID
	Credits int
}

// DebitReceipt is returned by Debit. Callers persist the lines alongside
// the booking so an on-time cancellation can reverse each one against its
// originating grant.
type DebitReceipt struct {
	MemberID string
	Amount   int
	Lines    []ConsumptionLine

	// Unlimited is true when an unlimited grant covered the debit; no
	// credits were consumed and Lines is empty.
	Unlimited bool
}

// BalanceView is the member-facing balance summary.
type BalanceView struct {
	MemberID   string
	Available  int
	Unlimited  bool
	NextExpiry *time.Time
	Grants     []CreditGrant
}
