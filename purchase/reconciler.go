/*
reconciler.go - the two reconciliation entry points

PURPOSE:
  Converges the admin-confirmed path and the webhook path on one
  settlement operation. The grant is built from the product's credit
  terms (count + expiration days, nil = unlimited / never expires) with
  the same constructor the ledger uses for manual grants, so both paths
  produce identical ledger effects for the same logical purchase.

IDEMPOTENCY:
  The store rejects a settlement whose external transaction id already
  exists. Admin confirmations use a deterministic id derived from the
  purchase id, so a double-confirm collapses into ALREADY_PROCESSED even
  if two admins race. Webhook ids come from the gateway; a redelivery is
  acknowledged as DUPLICATE_DELIVERY without any ledger effect.

NOTIFICATIONS:
  payment-confirmed fires after the settlement commits; a notification
  failure never rolls back the grant.
*/
package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/studio-engine/catalog"
	"github.com/warp/studio-engine/clock"
	"github.com/warp/studio-engine/ledger"
	"github.com/warp/studio-engine/monitoring"
	"github.com/warp/studio-engine/notify"
)

// Reconciler turns completed payments into credit grants.
type Reconciler struct {
	Store    Store
	Products catalog.ProductStore
	Members  catalog.MemberStore
	Notifier notify.Dispatcher
	Clock    clock.Clock
}

func NewReconciler(store Store, products catalog.ProductStore, members catalog.MemberStore, notifier notify.Dispatcher, clk clock.Clock) *Reconciler {
	return &Reconciler{Store: store, Products: products, Members: members, Notifier: notifier, Clock: clk}
}

// =============================================================================
// PENDING PURCHASES
// =============================================================================

// CreatePending records a member's intent to buy a product.
func (r *Reconciler) CreatePending(ctx context.Context, memberID, productID string) (*PendingPurchase, error) {
	product, err := r.Products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, catalog.ErrProductNotFound
	}
	p := PendingPurchase{
		ID:        uuid.NewString(),
		MemberID:  memberID,
		ProductID: productID,
		Amount:    product.Price,
		Status:    PurchasePending,
		CreatedAt: r.Clock.Now(),
	}
	if err := r.Store.CreatePurchase(ctx, p); err != nil {
		return nil, err
	}
	return &p, nil
}

// ConfirmPending is the admin-confirmed path: staff verified the payment
// out-of-band and confirms the purchase into a grant plus a manual
// Payment row.
func (r *Reconciler) ConfirmPending(ctx context.Context, purchaseID, actor string) (*Payment, error) {
	p, err := r.Store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPurchaseNotFound
	}
	if p.Status != PurchasePending {
		return nil, fmt.Errorf("%w: purchase %s is %s", ErrAlreadyProcessed, purchaseID, p.Status)
	}

	product, err := r.Products.GetProduct(ctx, p.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, catalog.ErrProductNotFound
	}

	// Deterministic external id: two racing confirms produce the same id
	// and the settlement's uniqueness check collapses the second one.
	externalID := "manual-" + purchaseID

	payment, err := r.settle(ctx, p.MemberID, product, externalID, MethodManual, purchaseID)
	if errors.Is(err, ErrDuplicateExternalTx) {
		return nil, fmt.Errorf("%w: purchase %s", ErrAlreadyProcessed, purchaseID)
	}
	if err != nil {
		return nil, err
	}
	monitoring.PaymentReconciled("manual")
	return payment, nil
}

// CancelPending terminally cancels a pending purchase.
func (r *Reconciler) CancelPending(ctx context.Context, purchaseID string) error {
	p, err := r.Store.GetPurchase(ctx, purchaseID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrPurchaseNotFound
	}
	if p.Status != PurchasePending {
		return fmt.Errorf("%w: purchase %s is %s", ErrAlreadyProcessed, purchaseID, p.Status)
	}
	now := r.Clock.Now()
	p.Status = PurchaseCancelled
	p.ResolvedAt = &now
	return r.Store.UpdatePurchase(ctx, *p)
}

// =============================================================================
// WEBHOOK PATH
// =============================================================================

// WebhookStatus is the outcome reported for an inbound gateway event.
// All outcomes are acknowledged to the sender; at-least-once delivery
// means a retry must never be provoked by a handled event.
type WebhookStatus string

const (
	WebhookGranted    WebhookStatus = "granted"
	WebhookDuplicate  WebhookStatus = "duplicate_delivery"
	WebhookUnresolved WebhookStatus = "unresolved"
	WebhookIgnored    WebhookStatus = "ignored"
)

// WebhookOutcome reports what HandleWebhook did with an event.
type WebhookOutcome struct {
	Status     WebhookStatus
	Payment    *Payment
	Unresolved *UnresolvedEvent
}

// HandleWebhook processes a raw payment-gateway event body. Only invalid
// JSON returns an error; every parseable event is handled and
// acknowledged, falling back to the manual-review queue when it cannot
// be matched.
func (r *Reconciler) HandleWebhook(ctx context.Context, raw []byte) (*WebhookOutcome, error) {
	ev, err := ExtractEvent(raw)
	if err != nil {
		return nil, err
	}

	if !ev.Completed {
		return &WebhookOutcome{Status: WebhookIgnored}, nil
	}
	if ev.ExternalTxID == "" {
		return r.park(ctx, ev, "missing transaction identifier")
	}

	// Idempotency: at-least-once delivery means duplicates are expected.
	existing, err := r.Store.PaymentByExternalID(ctx, ev.ExternalTxID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		monitoring.DuplicateDelivery()
		return &WebhookOutcome{Status: WebhookDuplicate, Payment: existing}, nil
	}

	if ev.Email == "" {
		return r.park(ctx, ev, "missing payer email")
	}
	member, err := r.Members.MemberByEmail(ctx, ev.Email)
	if err != nil && !errors.Is(err, catalog.ErrMemberNotFound) {
		return nil, err
	}
	if member == nil {
		return r.park(ctx, ev, "no member matches payer email")
	}

	product, err := r.matchProduct(ctx, ev)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return r.park(ctx, ev, "no product matches link id or amount")
	}

	// Tie the payment to the member's oldest matching pending purchase,
	// when one exists.
	purchaseID := ""
	if pending, err := r.Store.FindPendingPurchase(ctx, member.ID, product.ID); err != nil {
		return nil, err
	} else if pending != nil {
		purchaseID = pending.ID
	}

	payment, err := r.settle(ctx, member.ID, product, ev.ExternalTxID, MethodWebhook, purchaseID)
	if errors.Is(err, ErrDuplicateExternalTx) {
		// Lost a race with a concurrent delivery of the same event.
		existing, lookupErr := r.Store.PaymentByExternalID(ctx, ev.ExternalTxID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		monitoring.DuplicateDelivery()
		return &WebhookOutcome{Status: WebhookDuplicate, Payment: existing}, nil
	}
	if err != nil {
		return nil, err
	}
	monitoring.PaymentReconciled("webhook")
	return &WebhookOutcome{Status: WebhookGranted, Payment: payment}, nil
}

// matchProduct resolves the product by link/plan identifier, falling
// back to an exact price match when the identifier is unrecognized.
func (r *Reconciler) matchProduct(ctx context.Context, ev *ExtractedEvent) (*catalog.Product, error) {
	if ev.LinkID != "" {
		p, err := r.Products.ProductByLinkID(ctx, ev.LinkID)
		if err != nil && !errors.Is(err, catalog.ErrProductNotFound) {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	if ev.HasAmount {
		p, err := r.Products.ProductByPrice(ctx, ev.Amount)
		if err != nil && !errors.Is(err, catalog.ErrProductNotFound) {
			return nil, err
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}

// park stores an event for manual follow-up and acknowledges it.
func (r *Reconciler) park(ctx context.Context, ev *ExtractedEvent, reason string) (*WebhookOutcome, error) {
	u := UnresolvedEvent{
		ID:           uuid.NewString(),
		Reason:       reason,
		ExternalTxID: ev.ExternalTxID,
		Email:        ev.Email,
		LinkID:       ev.LinkID,
		Amount:       ev.Amount,
		Payload:      ev.Raw,
		ReceivedAt:   r.Clock.Now(),
	}
	if err := r.Store.SaveUnresolved(ctx, u); err != nil {
		return nil, err
	}
	monitoring.UnresolvedPayment()
	return &WebhookOutcome{Status: WebhookUnresolved, Unresolved: &u}, nil
}

// =============================================================================
// MANUAL REVIEW QUEUE
// =============================================================================

// ListUnresolved returns the manual-review queue.
func (r *Reconciler) ListUnresolved(ctx context.Context) ([]UnresolvedEvent, error) {
	return r.Store.ListUnresolved(ctx)
}

// ResolveUnresolved settles a parked event against an admin-identified
// member and product, through the same idempotent settlement path.
func (r *Reconciler) ResolveUnresolved(ctx context.Context, eventID, memberID, productID string) (*Payment, error) {
	ev, err := r.Store.GetUnresolved(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, ErrEventNotFound
	}
	if ev.Resolved {
		return nil, fmt.Errorf("%w: event %s", ErrAlreadyProcessed, eventID)
	}

	product, err := r.Products.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, catalog.ErrProductNotFound
	}

	externalID := ev.ExternalTxID
	if externalID == "" {
		externalID = "review-" + eventID
	}
	payment, err := r.settle(ctx, memberID, product, externalID, MethodWebhook, "")
	if err != nil {
		return nil, err
	}
	if err := r.Store.MarkUnresolvedResolved(ctx, eventID); err != nil {
		return nil, err
	}
	monitoring.PaymentReconciled("review")
	return payment, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// settle builds the grant from the product's credit terms and hands the
// store one atomic write: payment + grant (+ purchase confirmation).
func (r *Reconciler) settle(ctx context.Context, memberID string, product *catalog.Product, externalTxID string, method PaymentMethod, purchaseID string) (*Payment, error) {
	now := r.Clock.Now()

	var expiresAt *time.Time
	if product.ExpirationDays != nil {
		t := now.AddDate(0, 0, *product.ExpirationDays)
		expiresAt = &t
	}
	grant := ledger.NewGrant(memberID, product.CreditsTotal, expiresAt, product.ID, now)

	payment := Payment{
		ID:           uuid.NewString(),
		MemberID:     memberID,
		PurchaseID:   purchaseID,
		ProductID:    product.ID,
		ExternalTxID: externalTxID,
		Amount:       product.Price,
		Method:       method,
		CreatedAt:    now,
	}

	s := Settlement{Payment: payment, Grant: grant, PurchaseID: purchaseID, ResolvedAt: now}
	if err := r.Store.RecordSettlement(ctx, s); err != nil {
		return nil, err
	}

	r.Notifier.Notify(ctx, memberID, notify.EventPaymentConfirmed, map[string]string{
		"product_id": product.ID,
		"payment_id": payment.ID,
	})
	return &payment, nil
}
