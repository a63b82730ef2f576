/*
handlers.go - HTTP API handlers for the studio reservation system

PURPOSE:
  Exposes the reservation engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Classes:
    GET    /api/classes                     List schedule
    POST   /api/classes                     Schedule a class
    GET    /api/classes/{id}                Class with seat count
    PUT    /api/classes/{id}/price          Set credit price
    POST   /api/classes/{id}/cancel         Studio cancellation
    GET    /api/classes/{id}/waitlist       Queue in position order
    DELETE /api/classes/{id}/waitlist/{memberId}  Leave the queue

  Bookings:
    POST   /api/bookings                    Book (or waitlist when full)
    GET    /api/bookings/{id}
    POST   /api/bookings/{id}/cancel        Member cancellation
    POST   /api/bookings/{id}/settle        attended / no_show

  Members:
    POST   /api/members                     Register member
    GET    /api/members/{id}
    GET    /api/members/{id}/balance        Credit balance
    GET    /api/members/{id}/bookings       Booking history
    GET    /api/members/{id}/purchases
    POST   /api/members/{id}/grants         Admin credit grant

  Purchases & payments:
    GET    /api/products
    POST   /api/products
    POST   /api/purchases                   Declare purchase intent
    POST   /api/purchases/{id}/confirm      Admin-confirmed path
    POST   /api/purchases/{id}/cancel
    POST   /api/webhooks/payment            Gateway path
    GET    /api/admin/unresolved            Manual-review queue
    POST   /api/admin/unresolved/{id}/resolve
    POST   /api/admin/sweep                 Run grant-expiry sweep now

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status and a stable
  code (CAPACITY_EXCEEDED, DUPLICATE_BOOKING, INSUFFICIENT_CREDITS,
  INVALID_STATE_TRANSITION, ALREADY_PROCESSED, ...):
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Conflict (duplicates, closed transitions, replays)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/purchase"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/waitlist"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine     *booking.Engine
	Waitlist   *waitlist.Manager
	Ledger     *ledger.Service
	Registry   *registry.Registry
	Classes    registry.ClassStore
	Prices     catalog.PriceStore
	Products   catalog.ProductStore
	Members    catalog.MemberStore
	Reconciler *purchase.Reconciler
	Clock      clock.Clock
}

// =============================================================================
// CLASS HANDLERS
// =============================================================================

// ListClasses returns the schedule ordered by start time.
func (h *Handler) ListClasses(w http.ResponseWriter, r *http.Request) {
	classes, err := h.Classes.ListClasses(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]ClassDTO, 0, len(classes))
	for _, c := range classes {
		count, err := h.Registry.ConfirmedSeatCount(r.Context(), c.ID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		dtos = append(dtos, toClassDTO(c, count))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateClass schedules a new class.
func (h *Handler) CreateClass(w http.ResponseWriter, r *http.Request) {
	var req CreateClassRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	startAt, err := time.Parse(time.RFC3339, req.StartAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_at (use RFC3339)", err)
		return
	}
	endAt, err := time.Parse(time.RFC3339, req.EndAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_at (use RFC3339)", err)
		return
	}
	if req.Capacity <= 0 {
		writeError(w, http.StatusBadRequest, "Capacity must be positive", nil)
		return
	}
	if !startAt.Before(endAt) {
		writeError(w, http.StatusBadRequest, "start_at must precede end_at", nil)
		return
	}

	c := registry.Class{
		ID:        req.ID,
		Name:      req.Name,
		StartAt:   startAt,
		EndAt:     endAt,
		Capacity:  req.Capacity,
		Status:    registry.ClassScheduled,
		CreatedAt: h.Clock.Now(),
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	if err := h.Classes.SaveClass(r.Context(), c); err != nil {
		writeDomainError(w, err)
		return
	}
	if req.Credits != nil {
		if err := h.Prices.SetClassPrice(r.Context(), c.ID, *req.Credits); err != nil {
			writeDomainError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusCreated, toClassDTO(c, 0))
}

// GetClass returns one class with its confirmed seat count.
func (h *Handler) GetClass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := h.Registry.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	count, err := h.Registry.ConfirmedSeatCount(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toClassDTO(*c, count))
}

// SetClassPrice sets a class's credit price.
func (h *Handler) SetClassPrice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SetPriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Credits < 0 {
		writeError(w, http.StatusBadRequest, "Credits must not be negative", nil)
		return
	}
	if _, err := h.Registry.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := h.Prices.SetClassPrice(r.Context(), id, req.Credits); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"class_id": id, "credits": req.Credits})
}

// CancelClass runs the studio-cancellation workflow: refund everyone,
// clear the waitlist, notify all affected members.
func (h *Handler) CancelClass(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req CancelClassRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}

	if err := h.Engine.CancelClass(r.Context(), id, req.Reason); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"class_id": id, "status": string(registry.ClassCancelled)})
}

// GetWaitlist returns a class's queue in position order.
func (h *Handler) GetWaitlist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.Registry.Get(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	entries, err := h.Waitlist.Entries(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]WaitlistEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toWaitlistEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LeaveWaitlist removes a member from a class's queue.
func (h *Handler) LeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	classID := chi.URLParam(r, "id")
	memberID := chi.URLParam(r, "memberId")

	if err := h.Waitlist.Leave(r.Context(), classID, memberID); err != nil {
		writeDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking books a seat, or waitlists the member when the class is
// full. The response distinguishes the two outcomes.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ClassID == "" || req.MemberID == "" {
		writeError(w, http.StatusBadRequest, "class_id and member_id are required", nil)
		return
	}
	if _, err := h.Members.GetMember(r.Context(), req.MemberID); err != nil {
		writeDomainError(w, err)
		return
	}

	result, err := h.Engine.RequestBooking(r.Context(), req.ClassID, req.MemberID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	if result.Booking != nil {
		b := toBookingDTO(*result.Booking)
		writeJSON(w, http.StatusCreated, BookingResultDTO{Status: "confirmed", Booking: &b})
		return
	}
	e := toWaitlistEntryDTO(*result.WaitlistEntry)
	writeJSON(w, http.StatusAccepted, BookingResultDTO{Status: "waitlisted", WaitlistEntry: &e})
}

// GetBooking returns one booking.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	b, err := h.Engine.Store.GetBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if b == nil {
		writeDomainError(w, booking.ErrBookingNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// CancelBooking cancels a member's booking; refund depends on the
// cancellation window.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cancelled, err := h.Engine.CancelBooking(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*cancelled))
}

// SettleBooking records the post-class outcome (attended / no_show).
func (h *Handler) SettleBooking(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req SettleBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var outcome booking.Status
	switch req.Outcome {
	case "attended":
		outcome = booking.StatusAttended
	case "no_show":
		outcome = booking.StatusNoShow
	default:
		writeError(w, http.StatusBadRequest, "Outcome must be attended or no_show", nil)
		return
	}

	settled, err := h.Engine.Settle(r.Context(), id, outcome)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*settled))
}

// =============================================================================
// MEMBER HANDLERS
// =============================================================================

// CreateMember registers a member.
func (h *Handler) CreateMember(w http.ResponseWriter, r *http.Request) {
	var req CreateMemberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required", nil)
		return
	}

	m := catalog.Member{ID: req.ID, Name: req.Name, Email: req.Email}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if err := h.Members.SaveMember(r.Context(), m); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, MemberDTO{ID: m.ID, Name: m.Name, Email: m.Email})
}

// GetMember returns one member.
func (h *Handler) GetMember(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	m, err := h.Members.GetMember(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MemberDTO{ID: m.ID, Name: m.Name, Email: m.Email})
}

// GetBalance returns a member's usable credits.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.Members.GetMember(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	view, err := h.Ledger.Balance(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(view))
}

// GetMemberBookings returns a member's booking history.
func (h *Handler) GetMemberBookings(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	bookings, err := h.Engine.History(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]BookingDTO, 0, len(bookings))
	for _, b := range bookings {
		dtos = append(dtos, toBookingDTO(b))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetMemberPurchases returns a member's purchases.
func (h *Handler) GetMemberPurchases(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	purchases, err := h.Reconciler.Store.PurchasesByMember(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]PurchaseDTO, 0, len(purchases))
	for _, p := range purchases {
		dtos = append(dtos, toPurchaseDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateGrant is the admin path for granting credits directly, outside
// any purchase (compensation, promotions).
func (h *Handler) CreateGrant(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := h.Members.GetMember(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}

	var expiresAt *time.Time
	if req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, req.ExpiresAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid expires_at (use RFC3339)", err)
			return
		}
		expiresAt = &t
	}
	source := req.Source
	if source == "" {
		source = "admin"
	}

	g, err := h.Ledger.Grant(r.Context(), id, req.CreditsTotal, expiresAt, source)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	gd := GrantDTO{
		ID:               string(g.ID),
		CreditsTotal:     g.CreditsTotal,
		CreditsRemaining: g.CreditsRemaining,
		Source:           g.Source,
	}
	if g.ExpiresAt != nil {
		gd.ExpiresAt = g.ExpiresAt.Format(time.RFC3339)
	}
	writeJSON(w, http.StatusCreated, gd)
}

// =============================================================================
// PRODUCT / PURCHASE HANDLERS
// =============================================================================

// ListProducts returns the product catalog.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Products.ListProducts(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, ProductDTO{
			ID:             p.ID,
			Name:           p.Name,
			LinkID:         p.LinkID,
			Price:          p.Price.String(),
			CreditsTotal:   p.CreditsTotal,
			ExpirationDays: p.ExpirationDays,
		})
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct defines a product.
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid price", err)
		return
	}
	if req.CreditsTotal != nil && *req.CreditsTotal <= 0 {
		writeError(w, http.StatusBadRequest, "credits_total must be positive or null", nil)
		return
	}

	p := catalog.Product{
		ID:             req.ID,
		Name:           req.Name,
		LinkID:         req.LinkID,
		Price:          price,
		CreditsTotal:   req.CreditsTotal,
		ExpirationDays: req.ExpirationDays,
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := h.Products.SaveProduct(r.Context(), p); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ProductDTO{
		ID:             p.ID,
		Name:           p.Name,
		LinkID:         p.LinkID,
		Price:          p.Price.String(),
		CreditsTotal:   p.CreditsTotal,
		ExpirationDays: p.ExpirationDays,
	})
}

// CreatePurchase declares purchase intent.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if _, err := h.Members.GetMember(r.Context(), req.MemberID); err != nil {
		writeDomainError(w, err)
		return
	}

	p, err := h.Reconciler.CreatePending(r.Context(), req.MemberID, req.ProductID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPurchaseDTO(*p))
}

// ConfirmPurchase is the admin-confirmed settlement path.
func (h *Handler) ConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	payment, err := h.Reconciler.ConfirmPending(r.Context(), id, "admin")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// CancelPurchase terminally cancels a pending purchase.
func (h *Handler) CancelPurchase(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.Reconciler.CancelPending(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": string(purchase.PurchaseCancelled)})
}

// =============================================================================
// WEBHOOK + REVIEW QUEUE HANDLERS
// =============================================================================

// PaymentWebhook receives payment-gateway events. Every parseable event
// is acknowledged with 200 so the gateway stops retrying; unmatched
// events land in the manual-review queue.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	outcome, err := h.Reconciler.HandleWebhook(r.Context(), body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid webhook payload", err)
		return
	}

	dto := WebhookResultDTO{Status: string(outcome.Status)}
	if outcome.Payment != nil {
		p := toPaymentDTO(*outcome.Payment)
		dto.Payment = &p
	}
	if outcome.Unresolved != nil {
		dto.EventID = outcome.Unresolved.ID
	}
	writeJSON(w, http.StatusOK, dto)
}

// ListUnresolved returns the manual-review queue.
func (h *Handler) ListUnresolved(w http.ResponseWriter, r *http.Request) {
	events, err := h.Reconciler.ListUnresolved(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	dtos := make([]UnresolvedEventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toUnresolvedDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ResolveUnresolved settles a parked event against an admin-identified
// member and product.
func (h *Handler) ResolveUnresolved(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ResolveEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.MemberID == "" || req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "member_id and product_id are required", nil)
		return
	}

	payment, err := h.Reconciler.ResolveUnresolved(r.Context(), id, req.MemberID, req.ProductID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(*payment))
}

// RunSweep runs the grant-expiry sweep immediately.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.Ledger.ExpireSweep(r.Context(), h.Clock.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"expired": n})
}

// Health is the liveness endpoint.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps domain errors onto HTTP status + stable code.
func writeDomainError(w http.ResponseWriter, err error) {
	type mapping struct {
		target error
		status int
		code   string
	}
	mappings := []mapping{
		{registry.ErrClassNotFound, http.StatusNotFound, "CLASS_NOT_FOUND"},
		{booking.ErrBookingNotFound, http.StatusNotFound, "BOOKING_NOT_FOUND"},
		{catalog.ErrMemberNotFound, http.StatusNotFound, "MEMBER_NOT_FOUND"},
		{catalog.ErrProductNotFound, http.StatusNotFound, "PRODUCT_NOT_FOUND"},
		{purchase.ErrPurchaseNotFound, http.StatusNotFound, "PURCHASE_NOT_FOUND"},
		{purchase.ErrEventNotFound, http.StatusNotFound, "EVENT_NOT_FOUND"},
		{waitlist.ErrEntryNotFound, http.StatusNotFound, "WAITLIST_ENTRY_NOT_FOUND"},
		{ledger.ErrGrantNotFound, http.StatusNotFound, "GRANT_NOT_FOUND"},

		{booking.ErrDuplicateBooking, http.StatusConflict, "DUPLICATE_BOOKING"},
		{waitlist.ErrDuplicateEntry, http.StatusConflict, "DUPLICATE_WAITLIST_ENTRY"},
		{waitlist.ErrAlreadyBooked, http.StatusConflict, "DUPLICATE_BOOKING"},
		{booking.ErrCapacityExceeded, http.StatusConflict, "CAPACITY_EXCEEDED"},
		{ledger.ErrInsufficientCredits, http.StatusConflict, "INSUFFICIENT_CREDITS"},
		{booking.ErrInvalidTransition, http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{booking.ErrClassNotBookable, http.StatusConflict, "CLASS_NOT_BOOKABLE"},
		{purchase.ErrAlreadyProcessed, http.StatusConflict, "ALREADY_PROCESSED"},
		{purchase.ErrDuplicateExternalTx, http.StatusConflict, "DUPLICATE_DELIVERY"},

		{ledger.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
		{ledger.ErrGrantMismatch, http.StatusBadRequest, "GRANT_MISMATCH"},
	}

	for _, m := range mappings {
		if errors.Is(err, m.target) {
			writeJSON(w, m.status, ErrorResponse{Error: err.Error(), Code: m.code})
			return
		}
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "INTERNAL", Details: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
