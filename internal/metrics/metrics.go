package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "easytrip"

var (
	once sync.Once

	evaluations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "eligibility_evaluations_total",
			Help:      "Count of booking eligibility evaluations by resulting bus status.",
		},
		[]string{"bus_status"},
	)

	journeysByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journeys_by_status",
			Help:      "Journeys per bus status as of the last monitor tick.",
		},
		[]string{"bus_status"},
	)

	reservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Count of seat reservation attempts by result.",
		},
		[]string{"result"},
	)

	bookingDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "booking_decisions_total",
			Help:      "Count of booking confirmations and cancellations.",
		},
		[]string{"decision"},
	)

	seatsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_releases_total",
			Help:      "Count of automatic seat releases for the next journey.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Count of API requests by endpoint and status code.",
		},
		[]string{"endpoint", "code"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_sent_total",
			Help:      "Count of operator notifications by result.",
		},
		[]string{"result"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(evaluations, journeysByStatus, reservations, bookingDecisions,
			seatsReleased, httpRequests, notifications)
	})
}

func IncEvaluation(busStatus string) {
	evaluations.WithLabelValues(busStatus).Inc()
}

// SetJourneysByStatus replaces the gauge values with counts. Statuses
// missing from counts are reset to zero.
func SetJourneysByStatus(statuses []string, counts map[string]int) {
	for _, s := range statuses {
		journeysByStatus.WithLabelValues(s).Set(float64(counts[s]))
	}
}

func IncReservation(result string) {
	reservations.WithLabelValues(result).Inc()
}

func IncBookingDecision(decision string) {
	bookingDecisions.WithLabelValues(decision).Inc()
}

func IncSeatsReleased() {
	seatsReleased.Inc()
}

func IncHTTP(endpoint, code string) {
	httpRequests.WithLabelValues(endpoint, code).Inc()
}

func IncNotification(result string) {
	notifications.WithLabelValues(result).Inc()
}
