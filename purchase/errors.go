/*
errors.go - reconciliation error types

DUPLICATE_DELIVERY is success-shaped: the webhook sender gets an ack so
it stops retrying. ALREADY_PROCESSED is an error to the admin console.
*/
package purchase

import "errors"

var (
	// ErrAlreadyProcessed is returned when a pending purchase is
	// confirmed or cancelled a second time.
	ErrAlreadyProcessed = errors.New("pending purchase already processed")

	// ErrPurchaseNotFound is returned for unknown purchase IDs.
	ErrPurchaseNotFound = errors.New("pending purchase not found")

	// ErrDuplicateExternalTx is returned by the store when a settlement's
	// external transaction id is already recorded. The webhook path maps
	// it to a DUPLICATE_DELIVERY no-op; the admin path maps a repeat
	// confirmation to ErrAlreadyProcessed.
	ErrDuplicateExternalTx = errors.New("external transaction already recorded")

	// ErrEventNotFound is returned for unknown manual-review events.
	ErrEventNotFound = errors.New("unresolved event not found")
)
