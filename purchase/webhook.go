/*
webhook.go - tolerant payment-event extraction

PURPOSE:
  Gateways do not share a payload schema, and the same gateway changes
  shape between API versions. Rather than binding to one fixed schema,
  each field the reconciler needs is extracted through an ordered chain
  of candidate locations (primary field, nested alternates, legacy
  names). An event that still misses required fields is not an error:
  it becomes an UnresolvedEvent for manual review.

FIELDS EXTRACTED:
  - payer email        payer_email -> customer.email -> email
  - completed flag     status in {completed, succeeded, paid} or completed=true
  - product link id    link_id -> plan_id -> product_id -> plan.id
  - amount             amount -> amount_total -> data.amount (number or string)
  - external tx id     transaction_id -> txn_id -> id -> event_id
*/
package purchase

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ExtractedEvent is the five-field view of an inbound webhook payload.
// Missing lists the required fields that no strategy could locate.
type ExtractedEvent struct {
	ExternalTxID string
	Email        string
	LinkID       string
	Amount       decimal.Decimal
	HasAmount    bool
	Completed    bool

	Missing []string
	Raw     json.RawMessage
}

// ExtractEvent parses a raw webhook body into an ExtractedEvent. It never
// hard-fails on shape: only invalid JSON is an error.
func ExtractEvent(raw []byte) (*ExtractedEvent, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("webhook payload is not valid JSON: %w", err)
	}

	ev := &ExtractedEvent{Raw: json.RawMessage(raw)}

	ev.ExternalTxID = firstString(m, "transaction_id", "txn_id", "id", "event_id")
	if ev.ExternalTxID == "" {
		ev.Missing = append(ev.Missing, "transaction_id")
	}

	ev.Email = strings.ToLower(strings.TrimSpace(firstString(m, "payer_email", "customer.email", "email")))
	if ev.Email == "" {
		ev.Missing = append(ev.Missing, "email")
	}

	ev.LinkID = firstString(m, "link_id", "plan_id", "product_id", "plan.id")

	if amt, ok := firstAmount(m, "amount", "amount_total", "data.amount"); ok {
		ev.Amount = amt
		ev.HasAmount = true
	} else {
		ev.Missing = append(ev.Missing, "amount")
	}

	ev.Completed = extractCompleted(m)
	return ev, nil
}

func extractCompleted(m map[string]any) bool {
	status := strings.ToLower(firstString(m, "status", "payment_status", "data.status"))
	switch status {
	case "completed", "succeeded", "paid", "success":
		return true
	}
	if b, ok := lookup(m, "completed").(bool); ok {
		return b
	}
	return false
}

// firstString walks the candidate paths in order and returns the first
// non-empty string value. Paths use dots for nesting.
func firstString(m map[string]any, paths ...string) string {
	for _, p := range paths {
		if s, ok := lookup(m, p).(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// firstAmount accepts both JSON numbers and numeric strings.
func firstAmount(m map[string]any, paths ...string) (decimal.Decimal, bool) {
	for _, p := range paths {
		switch v := lookup(m, p).(type) {
		case float64:
			return decimal.NewFromFloat(v), true
		case string:
			if d, err := decimal.NewFromString(v); err == nil {
				return d, true
			}
		case json.Number:
			if d, err := decimal.NewFromString(v.String()); err == nil {
				return d, true
			}
		}
	}
	return decimal.Zero, false
}

// lookup resolves a dotted path against nested maps.
func lookup(m map[string]any, path string) any {
	parts := strings.Split(path, ".")
	var cur any = m
	for _, part := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = obj[part]
		if !ok {
			return nil
		}
	}
	return cur
}
