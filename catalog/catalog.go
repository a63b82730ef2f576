/*
Package catalog holds the read-only lookups the reservation core consumes
from the catalog/admin subsystem: class pricing, product credit terms,
and the member directory.

PURPOSE:
  The core never owns these records. It asks three questions:
  - "how many credits does this class cost?"        (Pricing)
  - "what does this product grant when purchased?"  (ProductStore)
  - "which member has this email?"                  (MemberStore)

  Product prices are decimal money amounts; webhook reconciliation falls
  back to matching a payment's amount against product prices when the
  plan identifier is unrecognized, so prices must compare exactly.
*/
package catalog

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

var (
	ErrProductNotFound = errors.New("product not found")
	ErrMemberNotFound  = errors.New("member not found")
)

// Product is a purchasable credit package or membership.
// Nil CreditsTotal = unlimited membership; nil ExpirationDays = credits
// never expire.
type Product struct {
	ID             string
	Name           string
	LinkID         string // payment-link / plan identifier used by the gateway
	Price          decimal.Decimal
	CreditsTotal   *int
	ExpirationDays *int
}

// Member is the directory entry the core needs for webhook matching.
type Member struct {
	ID    string
	Name  string
	Email string
}

// Pricing answers how many credits a class costs. Zero means free (or
// covered by an unlimited membership); the booking engine debits nothing.
type Pricing interface {
	ClassPrice(ctx context.Context, classID string) (int, error)
}

// ProductStore looks up products by ID, gateway link, or exact price.
type ProductStore interface {
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ProductByLinkID(ctx context.Context, linkID string) (*Product, error)
	ProductByPrice(ctx context.Context, price decimal.Decimal) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)
}

// MemberStore is the member directory.
type MemberStore interface {
	SaveMember(ctx context.Context, m Member) error
	GetMember(ctx context.Context, id string) (*Member, error)
	MemberByEmail(ctx context.Context, email string) (*Member, error)
}

// PriceStore persists per-class credit prices. Classes without an entry
// cost DefaultClassPrice.
type PriceStore interface {
	SetClassPrice(ctx context.Context, classID string, credits int) error
	ClassPrice(ctx context.Context, classID string) (int, bool, error)
}

// DefaultClassPrice is charged when no explicit price is configured.
const DefaultClassPrice = 1

// StorePricing adapts a PriceStore to the Pricing interface.
type StorePricing struct {
	Prices PriceStore
}

func (p StorePricing) ClassPrice(ctx context.Context, classID string) (int, error) {
	credits, ok, err := p.Prices.ClassPrice(ctx, classID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return DefaultClassPrice, nil
	}
	return credits, nil
}

// StaticPricing is a fixed class->credits map for tests; missing classes
// cost DefaultClassPrice.
type StaticPricing map[string]int

func (p StaticPricing) ClassPrice(_ context.Context, classID string) (int, error) {
	if credits, ok := p[classID]; ok {
		return credits, nil
	}
	return DefaultClassPrice, nil
}
