/*
Package purchase reconciles completed payments into credit grants,
exactly once.

PURPOSE:
  A member declares intent to buy (PendingPurchase). The purchase is
  resolved exactly once, by whichever of two paths runs first:

  - Admin path: staff confirms the pending purchase in the console.
  - Webhook path: the payment gateway posts a payment-completed event.

  Both paths converge on the same settlement operation: create the
  CreditGrant and the Payment row in one atomic store write, keyed on an
  external transaction identifier that is unique across all payments.
  Webhook delivery is at-least-once, so a duplicate identifier is a
  no-op acknowledged to the sender.

KEY CONCEPTS IN THIS FILE (types.go):
  - PendingPurchase: unconfirmed purchase intent
  - Payment: immutable record of a completed monetary transaction
  - Settlement: the atomic grant+payment write handed to the store
  - UnresolvedEvent: a webhook event that could not be matched to a
    member or product, parked for manual review instead of discarded

SEE ALSO:
  - reconciler.go: the two entry points
  - webhook.go: tolerant payload extraction
*/
package purchase

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/studio-engine/ledger"
)

// PurchaseStatus is the lifecycle state of a pending purchase.
type PurchaseStatus string

const (
	PurchasePending   PurchaseStatus = "pending"
	PurchaseConfirmed PurchaseStatus = "confirmed"
	PurchaseCancelled PurchaseStatus = "cancelled"
)

// PendingPurchase is a member's declared intent to buy a product,
// awaiting confirmation into a credit grant.
type PendingPurchase struct {
	ID         string
	MemberID   string
	ProductID  string
	Amount     decimal.Decimal
	Status     PurchaseStatus
	CreatedAt  time.Time
	ResolvedAt *time.Time
}

// PaymentMethod records which path settled a payment.
type PaymentMethod string

const (
	MethodManual  PaymentMethod = "manual"
	MethodWebhook PaymentMethod = "webhook"
)

// Payment is the immutable record of a completed monetary transaction.
// ExternalTxID is unique; it is the idempotency key for reconciliation.
type Payment struct {
	ID           string
	MemberID     string
	PurchaseID   string // empty when no pending purchase was matched
	ProductID    string
	ExternalTxID string
	Amount       decimal.Decimal
	Method       PaymentMethod
	CreatedAt    time.Time
}

// Settlement is the atomic unit a reconciliation produces: the payment
// row, the grant it funds, and (optionally) the pending purchase to mark
// confirmed. The store writes all of it or none of it.
type Settlement struct {
	Payment Payment
	Grant   ledger.CreditGrant

	// PurchaseID, when non-empty, is marked confirmed as part of the
	// same write.
	PurchaseID string
	ResolvedAt time.Time
}

// UnresolvedEvent is a webhook event that could not be matched to a
// member or product. It is stored for manual follow-up, never discarded.
type UnresolvedEvent struct {
	ID           string
	Reason       string
	ExternalTxID string
	Email        string
	LinkID       string
	Amount       decimal.Decimal
	Payload      json.RawMessage
	ReceivedAt   time.Time
	Resolved     bool
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store persists purchases, payments, and the manual-review queue.
//
// RecordSettlement is the exactly-once core: it must atomically insert
// the payment row and the credit grant (and mark the pending purchase
// confirmed when set), failing the whole write with
// ErrDuplicateExternalTx when the payment's ExternalTxID already exists.
type Store interface {
	CreatePurchase(ctx context.Context, p PendingPurchase) error
	GetPurchase(ctx context.Context, id string) (*PendingPurchase, error)
	UpdatePurchase(ctx context.Context, p PendingPurchase) error
	PurchasesByMember(ctx context.Context, memberID string) ([]PendingPurchase, error)

	// FindPendingPurchase returns the oldest pending purchase for the
	// member+product pair, if any.
	FindPendingPurchase(ctx context.Context, memberID, productID string) (*PendingPurchase, error)

	PaymentByExternalID(ctx context.Context, externalTxID string) (*Payment, error)
	ListPayments(ctx context.Context) ([]Payment, error)

	RecordSettlement(ctx context.Context, s Settlement) error

	SaveUnresolved(ctx context.Context, e UnresolvedEvent) error
	GetUnresolved(ctx context.Context, id string) (*UnresolvedEvent, error)
	ListUnresolved(ctx context.Context) ([]UnresolvedEvent, error)
	MarkUnresolvedResolved(ctx context.Context, id string) error
}
