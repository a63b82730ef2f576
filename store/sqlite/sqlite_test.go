package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/purchase"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/store/sqlite"
	"github.com/warp/studio-engine/waitlist"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)

// =============================================================================
// CLASSES / BOOKINGS
// =============================================================================

func TestSQLite_ClassRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := registry.Class{
		ID: "c-1", Name: "Vinyasa", StartAt: testTime, EndAt: testTime.Add(time.Hour),
		Capacity: 8, Status: registry.ClassScheduled, CreatedAt: testTime,
	}
	require.NoError(t, s.SaveClass(ctx, c))

	got, err := s.GetClass(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, c.Name, got.Name)
	assert.True(t, got.StartAt.Equal(c.StartAt))
	assert.Equal(t, 8, got.Capacity)

	missing, err := s.GetClass(ctx, "c-ghost")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSQLite_BookingRoundTripWithDebitLines(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := booking.Booking{
		ID: "b-1", ClassID: "c-1", MemberID: "m-1",
		Status:         booking.StatusConfirmed,
		CreditsDebited: 2,
		DebitLines: []ledger.ConsumptionLine{
			{GrantID: "g-1", Credits: 1},
			{GrantID: "g-2", Credits: 1},
		},
		CreatedAt: testTime,
	}
	require.NoError(t, s.CreateBooking(ctx, b))

	got, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.CreditsDebited)
	require.Len(t, got.DebitLines, 2, "debit lines survive the round trip for refunds")
	assert.Equal(t, ledger.GrantID("g-1"), got.DebitLines[0].GrantID)

	count, err := s.ConfirmedSeatCount(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSQLite_SecondActiveBookingRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	b := booking.Booking{
		ID: "b-1", ClassID: "c-1", MemberID: "m-1",
		Status: booking.StatusConfirmed, CreatedAt: testTime,
	}
	require.NoError(t, s.CreateBooking(ctx, b))

	b.ID = "b-2"
	err := s.CreateBooking(ctx, b)
	assert.ErrorIs(t, err, booking.ErrDuplicateBooking)

	// A cancelled booking frees the pair for rebooking.
	first, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	first.Status = booking.StatusCancelledOnTime
	require.NoError(t, s.UpdateBooking(ctx, *first))

	b.ID = "b-3"
	assert.NoError(t, s.CreateBooking(ctx, b))
}

// =============================================================================
// WAITLIST
// =============================================================================

func TestSQLite_WaitlistPositionsOrdered(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, m := range []string{"m-1", "m-2", "m-3"} {
		require.NoError(t, s.AppendEntry(ctx, waitlist.Entry{
			ID: "e-" + m, ClassID: "c-1", MemberID: m,
			Position: i + 1, CreatedAt: testTime.Add(time.Duration(i) * time.Second),
		}))
	}

	require.NoError(t, s.RemoveEntry(ctx, "e-m-2"))
	assert.ErrorIs(t, s.RemoveEntry(ctx, "e-m-2"), waitlist.ErrEntryNotFound)

	entries, err := s.EntriesByClass(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "m-1", entries[0].MemberID)
	assert.Equal(t, "m-3", entries[1].MemberID)
}

// =============================================================================
// GRANTS
// =============================================================================

func TestSQLite_GrantExpirySweep(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	five := 5
	expired := testTime.Add(-time.Hour)
	future := testTime.Add(24 * time.Hour)
	mkGrant := func(id string, exp *time.Time) ledger.CreditGrant {
		remaining := five
		return ledger.CreditGrant{
			ID: ledger.GrantID(id), MemberID: "m-1",
			CreditsTotal: &five, CreditsRemaining: &remaining,
			ExpiresAt: exp, Active: true, Source: "test", CreatedAt: testTime.Add(-48 * time.Hour),
		}
	}
	require.NoError(t, s.CreateGrant(ctx, mkGrant("g-old", &expired)))
	require.NoError(t, s.CreateGrant(ctx, mkGrant("g-new", &future)))
	require.NoError(t, s.CreateGrant(ctx, mkGrant("g-forever", nil)))

	n, err := s.ExpireGrants(ctx, testTime)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = s.ExpireGrants(ctx, testTime)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "sweep is idempotent")

	g, err := s.GetGrant(ctx, "g-old")
	require.NoError(t, err)
	assert.False(t, g.Active)
}

// =============================================================================
// SETTLEMENT
// =============================================================================

func settlement(txID, purchaseID string) purchase.Settlement {
	ten := 10
	remaining := ten
	return purchase.Settlement{
		Payment: purchase.Payment{
			ID: "pay-" + txID, MemberID: "m-1", PurchaseID: purchaseID, ProductID: "p-1",
			ExternalTxID: txID, Amount: decimal.NewFromInt(120),
			Method: purchase.MethodWebhook, CreatedAt: testTime,
		},
		Grant: ledger.CreditGrant{
			ID: ledger.GrantID("g-" + txID), MemberID: "m-1",
			CreditsTotal: &ten, CreditsRemaining: &remaining,
			Active: true, Source: "p-1", CreatedAt: testTime,
		},
		PurchaseID: purchaseID,
		ResolvedAt: testTime,
	}
}

func TestSQLite_RecordSettlementExactlyOnce(t *testing.T) {
	// GIVEN: A settlement already recorded under tx-1
	// WHEN: A second settlement reuses the external transaction id
	// THEN: The whole write fails and no second grant exists

	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.RecordSettlement(ctx, settlement("tx-1", "")))

	dup := settlement("tx-1", "")
	dup.Payment.ID = "pay-other"
	dup.Grant.ID = "g-other"
	err := s.RecordSettlement(ctx, dup)
	assert.ErrorIs(t, err, purchase.ErrDuplicateExternalTx)

	g, err := s.GetGrant(ctx, "g-other")
	require.NoError(t, err)
	assert.Nil(t, g, "failed settlement must not leave a grant behind")

	p, err := s.PaymentByExternalID(ctx, "tx-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "pay-tx-1", p.ID)
}

func TestSQLite_RecordSettlementConfirmsPurchase(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePurchase(ctx, purchase.PendingPurchase{
		ID: "pp-1", MemberID: "m-1", ProductID: "p-1",
		Amount: decimal.NewFromInt(120), Status: purchase.PurchasePending, CreatedAt: testTime,
	}))

	require.NoError(t, s.RecordSettlement(ctx, settlement("tx-1", "pp-1")))

	got, err := s.GetPurchase(ctx, "pp-1")
	require.NoError(t, err)
	assert.Equal(t, purchase.PurchaseConfirmed, got.Status)
	require.NotNil(t, got.ResolvedAt)

	// Settling against the already-confirmed purchase is rejected even
	// with a fresh transaction id.
	err = s.RecordSettlement(ctx, settlement("tx-2", "pp-1"))
	assert.ErrorIs(t, err, purchase.ErrAlreadyProcessed)

	g, err := s.GetGrant(ctx, "g-tx-2")
	require.NoError(t, err)
	assert.Nil(t, g)
}

// =============================================================================
// CATALOG
// =============================================================================

func TestSQLite_ProductLookups(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ten := 10
	require.NoError(t, s.SaveProduct(ctx, catalog.Product{
		ID: "p-1", Name: "10-Pack", LinkID: "link-1",
		Price: decimal.RequireFromString("120.00"), CreditsTotal: &ten,
	}))

	byLink, err := s.ProductByLinkID(ctx, "link-1")
	require.NoError(t, err)
	require.NotNil(t, byLink)
	assert.Equal(t, "p-1", byLink.ID)

	// Price match tolerates trailing-zero differences.
	byPrice, err := s.ProductByPrice(ctx, decimal.NewFromInt(120))
	require.NoError(t, err)
	require.NotNil(t, byPrice)
	assert.Equal(t, "p-1", byPrice.ID)

	_, err = s.ProductByPrice(ctx, decimal.NewFromInt(121))
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}
