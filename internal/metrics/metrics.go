// Package metrics holds the prometheus collectors shared by the API, the
// worker and the domain service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "attendee_mutations_total",
		Help:      "Attendee mutations by operation and result code.",
	}, []string{"op", "result"})

	SlotReservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "slot_reservations_total",
		Help:      "Slot capacity checks by outcome.",
	}, []string{"result"})

	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkin",
		Name:      "store_lock_wait_seconds",
		Help:      "Time spent acquiring the store lock or transaction.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"backend", "mode"})

	SweepRepairs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "sweep_repairs_total",
		Help:      "Photo sessions repaired by the reconciliation sweep.",
	}, []string{"kind"})

	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "notifications_total",
		Help:      "Photo notifications handled by the dispatcher.",
	}, []string{"type", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkin",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route, method and status.",
	}, []string{"route", "method", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "checkin",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route"})
)
