package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/studio-engine/api"
	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/notify"
	"github.com/warp/studio-engine/purchase"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/store"
	"github.com/warp/studio-engine/waitlist"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type apiEnv struct {
	router http.Handler
	clk    *clock.Fixed
}

// newAPIEnv wires the full stack over the in-memory store, exactly as
// cmd/server does, minus the cron sweeper and AMQP.
func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	mem := store.NewMemory()
	clk := clock.NewFixed(time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC))
	notifier := notify.Noop{}

	reg := registry.New(mem, mem)
	led := ledger.NewService(mem, clk)
	wl := waitlist.NewManager(mem, mem, notifier, clk)
	eng := booking.NewEngine(reg, led, catalog.StorePricing{Prices: mem}, wl, mem, notifier, clk, 0)
	wl.Booker = eng
	rec := purchase.NewReconciler(mem, mem, mem, notifier, clk)

	h := &api.Handler{
		Engine:     eng,
		Waitlist:   wl,
		Ledger:     led,
		Registry:   reg,
		Classes:    mem,
		Prices:     mem,
		Products:   mem,
		Members:    mem,
		Reconciler: rec,
		Clock:      clk,
	}
	return &apiEnv{router: api.NewRouter(h, []string{"*"}), clk: clk}
}

// do sends a request and decodes the JSON response into out (when non-nil).
func (e *apiEnv) do(t *testing.T, method, path string, body, out any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.NewDecoder(w.Body).Decode(out), "body: %s", w.Body.String())
	}
	return w
}

func (e *apiEnv) addMember(t *testing.T, id string, credits int) {
	t.Helper()
	w := e.do(t, http.MethodPost, "/api/members", map[string]string{
		"id": id, "name": "Member " + id, "email": id + "@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	if credits > 0 {
		w = e.do(t, http.MethodPost, "/api/members/"+id+"/grants", map[string]any{
			"credits_total": credits,
		}, nil)
		require.Equal(t, http.StatusCreated, w.Code)
	}
}

func (e *apiEnv) addClass(t *testing.T, id string, capacity, credits int) {
	t.Helper()
	start := e.clk.Now().Add(48 * time.Hour)
	w := e.do(t, http.MethodPost, "/api/classes", map[string]any{
		"id":       id,
		"name":     "Test Class",
		"start_at": start.Format(time.RFC3339),
		"end_at":   start.Add(time.Hour).Format(time.RFC3339),
		"capacity": capacity,
		"credits":  credits,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)
}

// =============================================================================
// CLASSES
// =============================================================================

func TestAPI_CreateAndGetClass(t *testing.T) {
	e := newAPIEnv(t)
	e.addClass(t, "c-1", 10, 2)

	var got api.ClassDTO
	w := e.do(t, http.MethodGet, "/api/classes/c-1", nil, &got)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "c-1", got.ID)
	assert.Equal(t, 10, got.Capacity)
	assert.Equal(t, 0, got.ConfirmedSeats)
	assert.Equal(t, "scheduled", got.Status)
}

func TestAPI_CreateClassValidation(t *testing.T) {
	e := newAPIEnv(t)
	start := e.clk.Now().Add(48 * time.Hour)

	w := e.do(t, http.MethodPost, "/api/classes", map[string]any{
		"name":     "Broken",
		"start_at": start.Format(time.RFC3339),
		"end_at":   start.Add(time.Hour).Format(time.RFC3339),
		"capacity": 0,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = e.do(t, http.MethodPost, "/api/classes", map[string]any{
		"name":     "Backwards",
		"start_at": start.Format(time.RFC3339),
		"end_at":   start.Add(-time.Hour).Format(time.RFC3339),
		"capacity": 5,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_GetClassNotFound(t *testing.T) {
	e := newAPIEnv(t)

	var resp api.ErrorResponse
	w := e.do(t, http.MethodGet, "/api/classes/c-ghost", nil, &resp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "CLASS_NOT_FOUND", resp.Code)
}

// =============================================================================
// BOOKINGS
// =============================================================================

func TestAPI_BookingConfirmedAndWaitlisted(t *testing.T) {
	// GIVEN: A capacity-1 class and two funded members
	// THEN: The first booking returns 201 confirmed, the second 202
	//       waitlisted at position 1

	e := newAPIEnv(t)
	e.addClass(t, "c-1", 1, 1)
	e.addMember(t, "m-1", 3)
	e.addMember(t, "m-2", 3)

	var first api.BookingResultDTO
	w := e.do(t, http.MethodPost, "/api/bookings", map[string]string{
		"class_id": "c-1", "member_id": "m-1",
	}, &first)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "confirmed", first.Status)
	require.NotNil(t, first.Booking)
	assert.Equal(t, 1, first.Booking.CreditsDebited)

	var second api.BookingResultDTO
	w = e.do(t, http.MethodPost, "/api/bookings", map[string]string{
		"class_id": "c-1", "member_id": "m-2",
	}, &second)
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "waitlisted", second.Status)
	require.NotNil(t, second.WaitlistEntry)
	assert.Equal(t, 1, second.WaitlistEntry.Position)

	// Queue is visible on the class.
	var queue []api.WaitlistEntryDTO
	w = e.do(t, http.MethodGet, "/api/classes/c-1/waitlist", nil, &queue)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, queue, 1)
	assert.Equal(t, "m-2", queue[0].MemberID)
}

func TestAPI_DuplicateBookingConflict(t *testing.T) {
	e := newAPIEnv(t)
	e.addClass(t, "c-1", 5, 1)
	e.addMember(t, "m-1", 3)

	body := map[string]string{"class_id": "c-1", "member_id": "m-1"}
	w := e.do(t, http.MethodPost, "/api/bookings", body, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp api.ErrorResponse
	w = e.do(t, http.MethodPost, "/api/bookings", body, &resp)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "DUPLICATE_BOOKING", resp.Code)
}

func TestAPI_InsufficientCreditsConflict(t *testing.T) {
	e := newAPIEnv(t)
	e.addClass(t, "c-1", 5, 3)
	e.addMember(t, "m-1", 1)

	var resp api.ErrorResponse
	w := e.do(t, http.MethodPost, "/api/bookings", map[string]string{
		"class_id": "c-1", "member_id": "m-1",
	}, &resp)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INSUFFICIENT_CREDITS", resp.Code)
}

func TestAPI_CancelBookingRefundsOnTime(t *testing.T) {
	e := newAPIEnv(t)
	e.addClass(t, "c-1", 5, 1)
	e.addMember(t, "m-1", 3)

	var res api.BookingResultDTO
	w := e.do(t, http.MethodPost, "/api/bookings", map[string]string{
		"class_id": "c-1", "member_id": "m-1",
	}, &res)
	require.Equal(t, http.StatusCreated, w.Code)

	var cancelled api.BookingDTO
	w = e.do(t, http.MethodPost, "/api/bookings/"+res.Booking.ID+"/cancel", nil, &cancelled)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled_on_time", cancelled.Status)
	assert.Equal(t, "on_time", cancelled.Classification)

	var balance api.BalanceDTO
	w = e.do(t, http.MethodGet, "/api/members/m-1/balance", nil, &balance)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, balance.Available)
}

func TestAPI_SettleBooking(t *testing.T) {
	e := newAPIEnv(t)
	e.addClass(t, "c-1", 5, 1)
	e.addMember(t, "m-1", 3)

	var res api.BookingResultDTO
	w := e.do(t, http.MethodPost, "/api/bookings", map[string]string{
		"class_id": "c-1", "member_id": "m-1",
	}, &res)
	require.Equal(t, http.StatusCreated, w.Code)

	// Bad outcome value is a validation error, not a transition error.
	w = e.do(t, http.MethodPost, "/api/bookings/"+res.Booking.ID+"/settle",
		map[string]string{"outcome": "ghosted"}, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.clk.Advance(50 * time.Hour)

	var settled api.BookingDTO
	w = e.do(t, http.MethodPost, "/api/bookings/"+res.Booking.ID+"/settle",
		map[string]string{"outcome": "attended"}, &settled)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "attended", settled.Status)
}

// =============================================================================
// MEMBERS / BALANCE
// =============================================================================

func TestAPI_MemberNotFound(t *testing.T) {
	e := newAPIEnv(t)

	var resp api.ErrorResponse
	w := e.do(t, http.MethodGet, "/api/members/m-ghost", nil, &resp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "MEMBER_NOT_FOUND", resp.Code)
}

func TestAPI_BalanceReflectsGrants(t *testing.T) {
	e := newAPIEnv(t)
	e.addMember(t, "m-1", 0)

	expiry := e.clk.Now().AddDate(0, 0, 30).Format(time.RFC3339)
	w := e.do(t, http.MethodPost, "/api/members/m-1/grants", map[string]any{
		"credits_total": 4,
		"expires_at":    expiry,
		"source":        "promo",
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var balance api.BalanceDTO
	w = e.do(t, http.MethodGet, "/api/members/m-1/balance", nil, &balance)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 4, balance.Available)
	assert.False(t, balance.Unlimited)
	assert.Equal(t, expiry, balance.NextExpiry)
	require.Len(t, balance.Grants, 1)
	assert.Equal(t, "promo", balance.Grants[0].Source)
}

// =============================================================================
// PURCHASES AND WEBHOOKS
// =============================================================================

func TestAPI_PurchaseConfirmFlow(t *testing.T) {
	e := newAPIEnv(t)
	e.addMember(t, "m-1", 0)

	ten := 10
	w := e.do(t, http.MethodPost, "/api/products", map[string]any{
		"id": "p-pack", "name": "10-Pack", "price": "120", "credits_total": ten,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var p api.PurchaseDTO
	w = e.do(t, http.MethodPost, "/api/purchases", map[string]string{
		"member_id": "m-1", "product_id": "p-pack",
	}, &p)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pending", p.Status)

	var payment api.PaymentDTO
	w = e.do(t, http.MethodPost, "/api/purchases/"+p.ID+"/confirm", nil, &payment)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "manual", payment.Method)

	var resp api.ErrorResponse
	w = e.do(t, http.MethodPost, "/api/purchases/"+p.ID+"/confirm", nil, &resp)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ALREADY_PROCESSED", resp.Code)

	var balance api.BalanceDTO
	w = e.do(t, http.MethodGet, "/api/members/m-1/balance", nil, &balance)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 10, balance.Available)
}

func TestAPI_WebhookAlwaysAcked(t *testing.T) {
	e := newAPIEnv(t)
	e.addMember(t, "m-1", 0)

	ten := 10
	w := e.do(t, http.MethodPost, "/api/products", map[string]any{
		"id": "p-pack", "name": "10-Pack", "link_id": "link-pack",
		"price": "120", "credits_total": ten,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	event := map[string]any{
		"transaction_id": "tx-1",
		"payer_email":    "m-1@example.com",
		"link_id":        "link-pack",
		"amount":         120,
		"status":         "completed",
	}

	var out api.WebhookResultDTO
	w = e.do(t, http.MethodPost, "/api/webhooks/payment", event, &out)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "granted", out.Status)
	require.NotNil(t, out.Payment)

	// Redelivery: still 200, no new payment.
	var dup api.WebhookResultDTO
	w = e.do(t, http.MethodPost, "/api/webhooks/payment", event, &dup)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "duplicate_delivery", dup.Status)
	assert.Equal(t, out.Payment.ID, dup.Payment.ID)

	// Unmatched payer: parked, still 200.
	var parked api.WebhookResultDTO
	w = e.do(t, http.MethodPost, "/api/webhooks/payment", map[string]any{
		"transaction_id": "tx-2",
		"payer_email":    "nobody@example.com",
		"link_id":        "link-pack",
		"status":         "completed",
	}, &parked)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "unresolved", parked.Status)
	assert.NotEmpty(t, parked.EventID)

	var queue []api.UnresolvedEventDTO
	w = e.do(t, http.MethodGet, "/api/admin/unresolved", nil, &queue)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, queue, 1)
}

func TestAPI_WebhookRejectsInvalidJSON(t *testing.T) {
	e := newAPIEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/payment",
		bytes.NewBufferString(`{"broken":`))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// ADMIN
// =============================================================================

func TestAPI_SweepEndpoint(t *testing.T) {
	e := newAPIEnv(t)
	e.addMember(t, "m-1", 0)

	expiry := e.clk.Now().Add(time.Hour).Format(time.RFC3339)
	w := e.do(t, http.MethodPost, "/api/members/m-1/grants", map[string]any{
		"credits_total": 3,
		"expires_at":    expiry,
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code)

	e.clk.Advance(2 * time.Hour)

	var out map[string]int
	w = e.do(t, http.MethodPost, "/api/admin/sweep", nil, &out)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, out["expired"])
}

func TestAPI_SeedDemoIsRepeatable(t *testing.T) {
	e := newAPIEnv(t)

	for i := 0; i < 2; i++ {
		w := e.do(t, http.MethodPost, "/api/scenarios/seed", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, "seed run %d", i+1)
	}

	var classes []api.ClassDTO
	w := e.do(t, http.MethodGet, "/api/classes", nil, &classes)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, classes, 7, "re-seeding upserts, never duplicates")
}

func TestAPI_Health(t *testing.T) {
	e := newAPIEnv(t)

	var out map[string]string
	w := e.do(t, http.MethodGet, "/health", nil, &out)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", out["status"])
}

// =============================================================================
// WAITLIST ROUTES
// =============================================================================

func TestAPI_LeaveWaitlist(t *testing.T) {
	e := newAPIEnv(t)
	e.addClass(t, "c-1", 1, 1)
	e.addMember(t, "m-1", 3)
	e.addMember(t, "m-2", 3)

	for _, m := range []string{"m-1", "m-2"} {
		w := e.do(t, http.MethodPost, "/api/bookings", map[string]string{
			"class_id": "c-1", "member_id": m,
		}, nil)
		require.Contains(t, []int{http.StatusCreated, http.StatusAccepted}, w.Code)
	}

	w := e.do(t, http.MethodDelete, "/api/classes/c-1/waitlist/m-2", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	var resp api.ErrorResponse
	w = e.do(t, http.MethodDelete, "/api/classes/c-1/waitlist/m-2", nil, &resp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "WAITLIST_ENTRY_NOT_FOUND", resp.Code)
}
