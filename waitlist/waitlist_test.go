package waitlist_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/notify"
	"github.com/warp/studio-engine/store"
	"github.com/warp/studio-engine/waitlist"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// scriptedBooker answers AutoBook per member id, recording the order in
// which members were offered the seat.
type scriptedBooker struct {
	mu      sync.Mutex
	results map[string]error
	offers  []string
}

func (b *scriptedBooker) AutoBook(_ context.Context, _, memberID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offers = append(b.offers, memberID)
	if err, ok := b.results[memberID]; ok {
		return err
	}
	return nil
}

func newTestManager(t *testing.T) (*waitlist.Manager, *scriptedBooker, *notify.Recorder) {
	m, booker, recorder, _ := newTestManagerWithStore(t)
	return m, booker, recorder
}

func newTestManagerWithStore(t *testing.T) (*waitlist.Manager, *scriptedBooker, *notify.Recorder, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	booker := &scriptedBooker{results: map[string]error{}}
	recorder := &notify.Recorder{}
	clk := clock.NewFixed(time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC))
	m := waitlist.NewManager(mem, mem, recorder, clk)
	m.Booker = booker
	return m, booker, recorder, mem
}

func positions(t *testing.T, m *waitlist.Manager, classID string) []int {
	t.Helper()
	entries, err := m.Entries(context.Background(), classID)
	require.NoError(t, err)
	out := make([]int, len(entries))
	for i, e := range entries {
		out[i] = e.Position
	}
	return out
}

// =============================================================================
// JOIN / LEAVE
// =============================================================================

func TestJoin_AssignsDensePositions(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		e, err := m.Join(ctx, "c-1", fmt.Sprintf("m-%d", i))
		require.NoError(t, err)
		assert.Equal(t, i, e.Position)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, positions(t, m, "c-1"))
}

func TestJoin_DuplicateRejected(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.Join(ctx, "c-1", "m-1")
	require.NoError(t, err)

	_, err = m.Join(ctx, "c-1", "m-1")
	assert.ErrorIs(t, err, waitlist.ErrDuplicateEntry)
}

func TestJoin_ConfirmedBookingRejected(t *testing.T) {
	// A member holding a seat has nothing to wait for.

	m, _, _, mem := newTestManagerWithStore(t)
	ctx := context.Background()

	require.NoError(t, mem.CreateBooking(ctx, booking.Booking{
		ID: "b-1", ClassID: "c-1", MemberID: "m-1",
		Status: booking.StatusConfirmed, CreatedAt: time.Now(),
	}))

	_, err := m.Join(ctx, "c-1", "m-1")
	assert.ErrorIs(t, err, waitlist.ErrAlreadyBooked)
}

func TestJoin_QueuesAreIndependentPerClass(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	e1, err := m.Join(ctx, "c-1", "m-1")
	require.NoError(t, err)
	e2, err := m.Join(ctx, "c-2", "m-1")
	require.NoError(t, err)

	assert.Equal(t, 1, e1.Position)
	assert.Equal(t, 1, e2.Position)
}

func TestLeave_RenumbersBehind(t *testing.T) {
	// GIVEN: A queue of m-1..m-4
	// WHEN: m-2 leaves
	// THEN: m-3 and m-4 shift up, positions stay {1,2,3}

	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := m.Join(ctx, "c-1", fmt.Sprintf("m-%d", i))
		require.NoError(t, err)
	}

	require.NoError(t, m.Leave(ctx, "c-1", "m-2"))

	entries, err := m.Entries(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "m-1", entries[0].MemberID)
	assert.Equal(t, "m-3", entries[1].MemberID)
	assert.Equal(t, "m-4", entries[2].MemberID)
	assert.Equal(t, []int{1, 2, 3}, positions(t, m, "c-1"))
}

func TestLeave_UnknownMember(t *testing.T) {
	m, _, _ := newTestManager(t)

	err := m.Leave(context.Background(), "c-1", "m-ghost")
	assert.ErrorIs(t, err, waitlist.ErrEntryNotFound)
}

func TestJoin_ConcurrentPositionsAreDistinct(t *testing.T) {
	// GIVEN: 25 members racing to join the same class
	// THEN: Positions come out exactly {1..25}, no duplicates

	m, _, _ := newTestManager(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Join(ctx, "c-1", fmt.Sprintf("m-%d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got := positions(t, m, "c-1")
	require.Len(t, got, 25)
	for i, p := range got {
		assert.Equal(t, i+1, p)
	}
}

// =============================================================================
// PROMOTION
// =============================================================================

func TestPromoteNext_PromotesHead(t *testing.T) {
	m, booker, recorder := newTestManager(t)
	ctx := context.Background()

	_, err := m.Join(ctx, "c-1", "m-1")
	require.NoError(t, err)
	_, err = m.Join(ctx, "c-1", "m-2")
	require.NoError(t, err)

	promoted, err := m.PromoteNext(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, "m-1", promoted.MemberID)
	assert.Equal(t, []string{"m-1"}, booker.offers)

	// m-2 moved up to the head.
	entries, err := m.Entries(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m-2", entries[0].MemberID)
	assert.Equal(t, 1, entries[0].Position)

	spotNotices := recorder.ByEvent(notify.EventWaitlistSpotOpened)
	require.Len(t, spotNotices, 1)
	assert.Equal(t, "m-1", spotNotices[0].MemberID)
}

func TestPromoteNext_SkipsUnbookableMember(t *testing.T) {
	// GIVEN: The head of the queue has no credits
	// WHEN: A seat frees
	// THEN: The next member is promoted and the head keeps position 1

	m, booker, _ := newTestManager(t)
	ctx := context.Background()

	booker.results["m-1"] = fmt.Errorf("%w: insufficient credits", waitlist.ErrMemberNotBookable)

	_, err := m.Join(ctx, "c-1", "m-1")
	require.NoError(t, err)
	_, err = m.Join(ctx, "c-1", "m-2")
	require.NoError(t, err)

	promoted, err := m.PromoteNext(ctx, "c-1")
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, "m-2", promoted.MemberID)
	assert.Equal(t, []string{"m-1", "m-2"}, booker.offers)

	entries, err := m.Entries(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "m-1", entries[0].MemberID)
	assert.Equal(t, 1, entries[0].Position)
}

func TestPromoteNext_SeatGoneStopsPass(t *testing.T) {
	// GIVEN: The freed seat was re-taken before promotion ran
	// THEN: Nobody is promoted, nobody past the head is offered, and the
	//       queue is untouched

	m, booker, _ := newTestManager(t)
	ctx := context.Background()

	booker.results["m-1"] = waitlist.ErrSeatUnavailable

	_, err := m.Join(ctx, "c-1", "m-1")
	require.NoError(t, err)
	_, err = m.Join(ctx, "c-1", "m-2")
	require.NoError(t, err)

	promoted, err := m.PromoteNext(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, promoted)
	assert.Equal(t, []string{"m-1"}, booker.offers)
	assert.Equal(t, []int{1, 2}, positions(t, m, "c-1"))
}

func TestPromoteNext_StoreFaultAbortsPass(t *testing.T) {
	// GIVEN: Auto-booking the head fails with an infrastructure error,
	//        not a skip
	// THEN: The error propagates, nobody past the head is offered, and
	//       the queue is untouched

	m, booker, _ := newTestManager(t)
	ctx := context.Background()

	booker.results["m-1"] = errors.New("database is locked")

	_, err := m.Join(ctx, "c-1", "m-1")
	require.NoError(t, err)
	_, err = m.Join(ctx, "c-1", "m-2")
	require.NoError(t, err)

	promoted, err := m.PromoteNext(ctx, "c-1")
	require.Error(t, err)
	assert.ErrorContains(t, err, "database is locked")
	assert.Nil(t, promoted)
	assert.Equal(t, []string{"m-1"}, booker.offers)
	assert.Equal(t, []int{1, 2}, positions(t, m, "c-1"))
}

func TestPromoteNext_EmptyQueue(t *testing.T) {
	m, _, _ := newTestManager(t)

	promoted, err := m.PromoteNext(context.Background(), "c-1")
	require.NoError(t, err)
	assert.Nil(t, promoted)
}

// =============================================================================
// CLEAR
// =============================================================================

func TestClear_RemovesAllEntries(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := m.Join(ctx, "c-1", fmt.Sprintf("m-%d", i))
		require.NoError(t, err)
	}
	_, err := m.Join(ctx, "c-2", "m-9")
	require.NoError(t, err)

	removed, err := m.Clear(ctx, "c-1")
	require.NoError(t, err)
	assert.Len(t, removed, 3)

	entries, err := m.Entries(ctx, "c-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Other classes untouched.
	other, err := m.Entries(ctx, "c-2")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}
