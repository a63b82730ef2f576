/*
ledger.go - credit grant accounting service

PURPOSE:
  Implements grant / debit / credit / expire over a GrantStore. The store
  owns persistence and the per-member critical section; this file owns
  the consumption policy.

CONSUMPTION ORDER:
  Debits consume from the eligible grant with the soonest expiry first
  (grants that never expire come last, oldest first among ties). This
  avoids stranding soon-to-expire credits. A single debit may span
  multiple grants; the receipt records a line per grant so refunds can
  reverse each line against its originating grant.

UNLIMITED GRANTS:
  If any eligible grant is unlimited, a debit is a no-op success: nothing
  is consumed and the receipt carries no lines.

SEE ALSO:
  - types.go: CreditGrant, DebitReceipt
  - store/memory.go, store/sqlite: GrantStore implementations
*/
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/monitoring"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// GrantStore persists credit grants.
//
// WithMemberLock serializes all grant mutation for one member: two
// concurrent debits must not both read the same remaining balance.
type GrantStore interface {
	CreateGrant(ctx context.Context, g CreditGrant) error
	GetGrant(ctx context.Context, id GrantID) (*CreditGrant, error)
	GrantsByMember(ctx context.Context, memberID string) ([]CreditGrant, error)
	UpdateGrant(ctx context.Context, g CreditGrant) error

	// ExpireGrants deactivates every active grant with ExpiresAt < now and
	// returns how many it touched.
	ExpireGrants(ctx context.Context, now time.Time) (int, error)

	WithMemberLock(ctx context.Context, memberID string, fn func() error) error
}

// =============================================================================
// SERVICE
// =============================================================================

// Service is the credit ledger.
type Service struct {
	Store GrantStore
	Clock clock.Clock
}

func NewService(store GrantStore, clk clock.Clock) *Service {
	return &Service{Store: store, Clock: clk}
}

// NewGrant builds a grant record without persisting it. Purchase
// reconciliation uses this so the grant and its payment row can be
// written in one store transaction.
func NewGrant(memberID string, creditsTotal *int, expiresAt *time.Time, source string, now time.Time) CreditGrant {
	g := CreditGrant{
		ID:        GrantID(uuid.NewString()),
		MemberID:  memberID,
		ExpiresAt: expiresAt,
		Active:    true,
		Source:    source,
		CreatedAt: now,
	}
	if creditsTotal != nil {
		total := *creditsTotal
		remaining := total
		g.CreditsTotal = &total
		g.CreditsRemaining = &remaining
	}
	return g
}

// Grant creates and persists a new credit grant. creditsTotal == nil
// denotes unlimited access.
func (s *Service) Grant(ctx context.Context, memberID string, creditsTotal *int, expiresAt *time.Time, source string) (*CreditGrant, error) {
	if creditsTotal != nil && *creditsTotal <= 0 {
		return nil, ErrInvalidAmount
	}
	g := NewGrant(memberID, creditsTotal, expiresAt, source, s.Clock.Now())
	if err := s.Store.CreateGrant(ctx, g); err != nil {
		return nil, fmt.Errorf("create grant: %w", err)
	}
	monitoring.GrantCreated()
	return &g, nil
}

// Debit consumes amount credits from the member's eligible grants,
// soonest expiry first. Returns ErrInsufficientCredits (wrapped in an
// InsufficientCreditsError) when the eligible balance cannot cover the
// amount and the member holds no unlimited grant.
func (s *Service) Debit(ctx context.Context, memberID string, amount int) (*DebitReceipt, error) {
	if amount < 0 {
		return nil, ErrInvalidAmount
	}
	receipt := &DebitReceipt{MemberID: memberID, Amount: amount}
	if amount == 0 {
		return receipt, nil
	}

	err := s.Store.WithMemberLock(ctx, memberID, func() error {
		grants, err := s.Store.GrantsByMember(ctx, memberID)
		if err != nil {
			return err
		}
		now := s.Clock.Now()

		eligible := make([]CreditGrant, 0, len(grants))
		available := 0
		for _, g := range grants {
			if !g.Eligible(now) {
				continue
			}
			if g.Unlimited() {
				receipt.Unlimited = true
				return nil
			}
			available += *g.CreditsRemaining
			eligible = append(eligible, g)
		}

		if available < amount {
			return &InsufficientCreditsError{MemberID: memberID, Requested: amount, Available: available}
		}

		sortByExpiry(eligible)

		remaining := amount
		for _, g := range eligible {
			if remaining == 0 {
				break
			}
			take := *g.CreditsRemaining
			if take > remaining {
				take = remaining
			}
			*g.CreditsRemaining -= take
			if err := s.Store.UpdateGrant(ctx, g); err != nil {
				return err
			}
			receipt.Lines = append(receipt.Lines, ConsumptionLine{GrantID: g.ID, Credits: take})
			remaining -= take
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !receipt.Unlimited {
		monitoring.CreditsDebited(amount)
	}
	return receipt, nil
}

// Credit reverses a prior debit line, restoring credits to the grant they
// were taken from. Remaining never exceeds the grant's total; crediting
// an unlimited grant is a no-op.
func (s *Service) Credit(ctx context.Context, memberID string, amount int, grantID GrantID) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	err := s.Store.WithMemberLock(ctx, memberID, func() error {
		g, err := s.Store.GetGrant(ctx, grantID)
		if err != nil {
			return err
		}
		if g == nil {
			return ErrGrantNotFound
		}
		if g.MemberID != memberID {
			return ErrGrantMismatch
		}
		if g.Unlimited() {
			return nil
		}
		restored := *g.CreditsRemaining + amount
		if restored > *g.CreditsTotal {
			restored = *g.CreditsTotal
		}
		*g.CreditsRemaining = restored
		return s.Store.UpdateGrant(ctx, *g)
	})
	if err != nil {
		return err
	}
	monitoring.CreditsRefunded(amount)
	return nil
}

// Refund reverses every line of a debit receipt. Used by the booking
// engine for on-time cancellations and studio-cancelled classes.
func (s *Service) Refund(ctx context.Context, receipt DebitReceipt) error {
	for _, line := range receipt.Lines {
		if err := s.Credit(ctx, receipt.MemberID, line.Credits, line.GrantID); err != nil {
			return fmt.Errorf("refund line (grant %s): %w", line.GrantID, err)
		}
	}
	return nil
}

// ExpireSweep deactivates every grant whose expiry has passed. Consumed
// credits are not restored: expiration forfeits remaining balance, it
// does not refund. Invoked by the scheduled sweeper.
func (s *Service) ExpireSweep(ctx context.Context, now time.Time) (int, error) {
	n, err := s.Store.ExpireGrants(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire sweep: %w", err)
	}
	if n > 0 {
		monitoring.GrantsExpired(n)
	}
	return n, nil
}

// Balance summarizes a member's usable credits as of now.
func (s *Service) Balance(ctx context.Context, memberID string) (*BalanceView, error) {
	grants, err := s.Store.GrantsByMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	now := s.Clock.Now()
	view := &BalanceView{MemberID: memberID}
	for _, g := range grants {
		if !g.Eligible(now) {
			continue
		}
		view.Grants = append(view.Grants, g)
		if g.Unlimited() {
			view.Unlimited = true
			continue
		}
		view.Available += *g.CreditsRemaining
		if g.ExpiresAt != nil && (view.NextExpiry == nil || g.ExpiresAt.Before(*view.NextExpiry)) {
			view.NextExpiry = g.ExpiresAt
		}
	}
	return view, nil
}

// sortByExpiry orders grants soonest-expiring first; grants that never
// expire come last, oldest first among ties.
func sortByExpiry(grants []CreditGrant) {
	sort.SliceStable(grants, func(i, j int) bool {
		a, b := grants[i], grants[j]
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt == nil:
			return a.CreatedAt.Before(b.CreatedAt)
		case a.ExpiresAt == nil:
			return false
		case b.ExpiresAt == nil:
			return true
		case !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Before(*b.ExpiresAt)
		default:
			return a.CreatedAt.Before(b.CreatedAt)
		}
	})
}
