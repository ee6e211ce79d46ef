// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HttpRequestsTotal counts handled HTTP requests.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// ReservationsTotal counts cart reservation attempts by result
	// (success / blocked).
	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reservations_total",
			Help: "Total number of cart reservation attempts.",
		},
		[]string{"result"},
	)

	// LiveLocks tracks the number of live item locks, refreshed on every
	// sweep pass.
	LiveLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_locks",
			Help: "Number of live item locks currently held.",
		},
	)

	// OrdersExpiredTotal counts pending orders finalized by the expiry
	// sweeper.
	OrdersExpiredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_expired_total",
			Help: "Total number of pending orders expired by the sweeper.",
		},
	)

	// PaymentEventsTotal counts payment outcome events by how they landed
	// (applied / ignored).
	PaymentEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_events_total",
			Help: "Total number of payment outcome events processed.",
		},
		[]string{"outcome", "result"},
	)

	// SweepPassesTotal counts expiry sweep passes by status
	// (success / failed).
	SweepPassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_passes_total",
			Help: "Total number of expiry sweep passes.",
		},
		[]string{"status"},
	)
)

// Register is an explicit registration point for main; promauto already
// registers every metric at init.
func Register() {
}
