/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/studio-engine/booking"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/purchase"
	"github.com/warp/studio-engine/registry"
	"github.com/warp/studio-engine/waitlist"
)

// =============================================================================
// ERROR ENVELOPE
// =============================================================================

// ErrorResponse is the uniform error envelope. Code is a stable
// machine-readable identifier; Error is for humans.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CLASSES
// =============================================================================

// ClassDTO represents a class in API responses.
type ClassDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	StartAt        string `json:"start_at"`
	EndAt          string `json:"end_at"`
	Capacity       int    `json:"capacity"`
	Status         string `json:"status"`
	ConfirmedSeats int    `json:"confirmed_seats"`
	CreatedAt      string `json:"created_at,omitempty"`
}

// CreateClassRequest is the request to schedule a class.
type CreateClassRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	StartAt  string `json:"start_at"`
	EndAt    string `json:"end_at"`
	Capacity int    `json:"capacity"`
	Credits  *int   `json:"credits,omitempty"`
}

// CancelClassRequest carries the studio's cancellation reason.
type CancelClassRequest struct {
	Reason string `json:"reason"`
}

// SetPriceRequest sets a class's credit price.
type SetPriceRequest struct {
	Credits int `json:"credits"`
}

func toClassDTO(c registry.Class, confirmed int) ClassDTO {
	return ClassDTO{
		ID:             c.ID,
		Name:           c.Name,
		StartAt:        c.StartAt.Format(time.RFC3339),
		EndAt:          c.EndAt.Format(time.RFC3339),
		Capacity:       c.Capacity,
		Status:         string(c.Status),
		ConfirmedSeats: confirmed,
		CreatedAt:      c.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// BOOKINGS
// =============================================================================

// BookingDTO represents a booking in API responses.
type BookingDTO struct {
	ID             string `json:"id"`
	ClassID        string `json:"class_id"`
	MemberID       string `json:"member_id"`
	Status         string `json:"status"`
	CreditsDebited int    `json:"credits_debited"`
	CancelledAt    string `json:"cancelled_at,omitempty"`
	Classification string `json:"classification,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// CreateBookingRequest requests a seat (or a waitlist spot when full).
type CreateBookingRequest struct {
	ClassID  string `json:"class_id"`
	MemberID string `json:"member_id"`
}

// BookingResultDTO is either a confirmed booking or a waitlist entry.
type BookingResultDTO struct {
	Status        string            `json:"status"` // confirmed | waitlisted
	Booking       *BookingDTO       `json:"booking,omitempty"`
	WaitlistEntry *WaitlistEntryDTO `json:"waitlist_entry,omitempty"`
}

// SettleBookingRequest records the staff's post-class outcome.
type SettleBookingRequest struct {
	Outcome string `json:"outcome"` // attended | no_show
}

func toBookingDTO(b booking.Booking) BookingDTO {
	dto := BookingDTO{
		ID:             b.ID,
		ClassID:        b.ClassID,
		MemberID:       b.MemberID,
		Status:         string(b.Status),
		CreditsDebited: b.CreditsDebited,
		CreatedAt:      b.CreatedAt.Format(time.RFC3339),
	}
	if b.CancelledAt != nil {
		dto.CancelledAt = b.CancelledAt.Format(time.RFC3339)
	}
	if b.Classification != nil {
		dto.Classification = string(*b.Classification)
	}
	return dto
}

// =============================================================================
// WAITLIST
// =============================================================================

// WaitlistEntryDTO represents one member's place in a class queue.
type WaitlistEntryDTO struct {
	ID        string `json:"id"`
	ClassID   string `json:"class_id"`
	MemberID  string `json:"member_id"`
	Position  int    `json:"position"`
	CreatedAt string `json:"created_at"`
}

func toWaitlistEntryDTO(e waitlist.Entry) WaitlistEntryDTO {
	return WaitlistEntryDTO{
		ID:        e.ID,
		ClassID:   e.ClassID,
		MemberID:  e.MemberID,
		Position:  e.Position,
		CreatedAt: e.CreatedAt.Format(time.RFC3339),
	}
}

// =============================================================================
// MEMBERS / BALANCE
// =============================================================================

// MemberDTO represents a member in API responses.
type MemberDTO struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateMemberRequest is the request to register a member.
type CreateMemberRequest struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GrantDTO represents one credit grant in a balance response.
type GrantDTO struct {
	ID               string `json:"id"`
	CreditsTotal     *int   `json:"credits_total"`     // null = unlimited
	CreditsRemaining *int   `json:"credits_remaining"` // null = unlimited
	ExpiresAt        string `json:"expires_at,omitempty"`
	Source           string `json:"source,omitempty"`
}

// BalanceDTO summarizes a member's usable credits.
type BalanceDTO struct {
	MemberID   string     `json:"member_id"`
	Available  int        `json:"available"`
	Unlimited  bool       `json:"unlimited"`
	NextExpiry string     `json:"next_expiry,omitempty"`
	Grants     []GrantDTO `json:"grants"`
}

// GrantRequest is the admin request to grant credits directly.
type GrantRequest struct {
	CreditsTotal *int   `json:"credits_total"` // null = unlimited
	ExpiresAt    string `json:"expires_at,omitempty"`
	Source       string `json:"source,omitempty"`
}

func toBalanceDTO(v *ledger.BalanceView) BalanceDTO {
	dto := BalanceDTO{
		MemberID:  v.MemberID,
		Available: v.Available,
		Unlimited: v.Unlimited,
		Grants:    make([]GrantDTO, 0, len(v.Grants)),
	}
	if v.NextExpiry != nil {
		dto.NextExpiry = v.NextExpiry.Format(time.RFC3339)
	}
	for _, g := range v.Grants {
		gd := GrantDTO{
			ID:               string(g.ID),
			CreditsTotal:     g.CreditsTotal,
			CreditsRemaining: g.CreditsRemaining,
			Source:           g.Source,
		}
		if g.ExpiresAt != nil {
			gd.ExpiresAt = g.ExpiresAt.Format(time.RFC3339)
		}
		dto.Grants = append(dto.Grants, gd)
	}
	return dto
}

// =============================================================================
// PRODUCTS / PURCHASES / PAYMENTS
// =============================================================================

// ProductDTO represents a purchasable credit package or membership.
type ProductDTO struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	LinkID         string `json:"link_id,omitempty"`
	Price          string `json:"price"`
	CreditsTotal   *int   `json:"credits_total"` // null = unlimited
	ExpirationDays *int   `json:"expiration_days,omitempty"`
}

// CreateProductRequest is the request to define a product.
type CreateProductRequest struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	LinkID         string `json:"link_id,omitempty"`
	Price          string `json:"price"`
	CreditsTotal   *int   `json:"credits_total"`
	ExpirationDays *int   `json:"expiration_days,omitempty"`
}

// CreatePurchaseRequest declares a member's intent to buy a product.
type CreatePurchaseRequest struct {
	MemberID  string `json:"member_id"`
	ProductID string `json:"product_id"`
}

// PurchaseDTO represents a pending purchase.
type PurchaseDTO struct {
	ID         string `json:"id"`
	MemberID   string `json:"member_id"`
	ProductID  string `json:"product_id"`
	Amount     string `json:"amount"`
	Status     string `json:"status"`
	CreatedAt  string `json:"created_at"`
	ResolvedAt string `json:"resolved_at,omitempty"`
}

// PaymentDTO represents a settled payment.
type PaymentDTO struct {
	ID           string `json:"id"`
	MemberID     string `json:"member_id"`
	PurchaseID   string `json:"purchase_id,omitempty"`
	ProductID    string `json:"product_id"`
	ExternalTxID string `json:"external_tx_id"`
	Amount       string `json:"amount"`
	Method       string `json:"method"`
	CreatedAt    string `json:"created_at"`
}

// WebhookResultDTO reports how an inbound gateway event was handled.
type WebhookResultDTO struct {
	Status  string      `json:"status"`
	Payment *PaymentDTO `json:"payment,omitempty"`
	EventID string      `json:"event_id,omitempty"`
}

// UnresolvedEventDTO is a parked webhook event awaiting manual review.
type UnresolvedEventDTO struct {
	ID           string `json:"id"`
	Reason       string `json:"reason"`
	ExternalTxID string `json:"external_tx_id,omitempty"`
	Email        string `json:"email,omitempty"`
	LinkID       string `json:"link_id,omitempty"`
	Amount       string `json:"amount,omitempty"`
	ReceivedAt   string `json:"received_at"`
}

// ResolveEventRequest is the admin resolution of a parked event.
type ResolveEventRequest struct {
	MemberID  string `json:"member_id"`
	ProductID string `json:"product_id"`
}

func toPurchaseDTO(p purchase.PendingPurchase) PurchaseDTO {
	dto := PurchaseDTO{
		ID:        p.ID,
		MemberID:  p.MemberID,
		ProductID: p.ProductID,
		Amount:    p.Amount.String(),
		Status:    string(p.Status),
		CreatedAt: p.CreatedAt.Format(time.RFC3339),
	}
	if p.ResolvedAt != nil {
		dto.ResolvedAt = p.ResolvedAt.Format(time.RFC3339)
	}
	return dto
}

func toPaymentDTO(p purchase.Payment) PaymentDTO {
	return PaymentDTO{
		ID:           p.ID,
		MemberID:     p.MemberID,
		PurchaseID:   p.PurchaseID,
		ProductID:    p.ProductID,
		ExternalTxID: p.ExternalTxID,
		Amount:       p.Amount.String(),
		Method:       string(p.Method),
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
}

func toUnresolvedDTO(e purchase.UnresolvedEvent) UnresolvedEventDTO {
	return UnresolvedEventDTO{
		ID:           e.ID,
		Reason:       e.Reason,
		ExternalTxID: e.ExternalTxID,
		Email:        e.Email,
		LinkID:       e.LinkID,
		Amount:       e.Amount.String(),
		ReceivedAt:   e.ReceivedAt.Format(time.RFC3339),
	}
}
