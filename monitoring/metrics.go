// Package monitoring exposes Prometheus metrics for the reservation core.
//
// Metrics are registered with promauto and served on /metrics by the API
// router. Helper functions keep call sites one-liners so the domain
// packages never touch prometheus types directly.
package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	bookingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_bookings_total",
			Help: "Booking requests by outcome",
		},
		[]string{"outcome"},
	)

	bookingCancellations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_booking_cancellations_total",
			Help: "Booking cancellations by window classification",
		},
		[]string{"classification"},
	)

	waitlistOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_waitlist_operations_total",
			Help: "Waitlist joins, leaves and promotions",
		},
		[]string{"operation"},
	)

	waitlistDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "studio_waitlist_depth",
			Help: "Current waitlist length per class",
		},
		[]string{"class_id"},
	)

	creditsDebited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_credits_debited_total",
			Help: "Credits consumed by bookings",
		},
	)

	creditsRefunded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_credits_refunded_total",
			Help: "Credits restored by on-time cancellations",
		},
	)

	grantsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_credit_grants_created_total",
			Help: "Credit grants created",
		},
	)

	grantsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_credit_grants_expired_total",
			Help: "Credit grants deactivated by the expiry sweep",
		},
	)

	paymentsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "studio_payments_reconciled_total",
			Help: "Payments reconciled into credit grants, by path",
		},
		[]string{"path"},
	)

	duplicateDeliveries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_webhook_duplicate_deliveries_total",
			Help: "Webhook events dropped as already-recorded transactions",
		},
	)

	unresolvedPayments = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "studio_unresolved_payments_total",
			Help: "Webhook events queued for manual reconciliation",
		},
	)
)

func BookingCreated(outcome string) { bookingsTotal.WithLabelValues(outcome).Inc() }

func BookingCancelled(classification string) {
	bookingCancellations.WithLabelValues(classification).Inc()
}

func WaitlistJoin() { waitlistOperations.WithLabelValues("join").Inc() }

func WaitlistLeave() { waitlistOperations.WithLabelValues("leave").Inc() }

func WaitlistPromotion() { waitlistOperations.WithLabelValues("promote").Inc() }

func SetWaitlistDepth(classID string, n int) { waitlistDepth.WithLabelValues(classID).Set(float64(n)) }

func CreditsDebited(n int) { creditsDebited.Add(float64(n)) }

func CreditsRefunded(n int) { creditsRefunded.Add(float64(n)) }

func GrantCreated() { grantsCreated.Inc() }

func GrantsExpired(n int) { grantsExpired.Add(float64(n)) }

func PaymentReconciled(path string) { paymentsReconciled.WithLabelValues(path).Inc() }

func DuplicateDelivery() { duplicateDeliveries.Inc() }

func UnresolvedPayment() { unresolvedPayments.Inc() }
