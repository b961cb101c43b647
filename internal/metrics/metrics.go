package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"slotkeeper/internal/events"
	"slotkeeper/internal/model"
)

var (
	once sync.Once

	holdsPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotkeeper",
			Name:      "holds_placed_total",
			Help:      "Count of place-hold attempts by result.",
		},
		[]string{"result"},
	)

	holdsReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotkeeper",
			Name:      "holds_released_total",
			Help:      "Count of hold releases by reason.",
		},
		[]string{"reason"},
	)

	holdCompensations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotkeeper",
			Name:      "hold_compensations_total",
			Help:      "Count of place-hold rollbacks after a store failure.",
		},
	)

	sweepRemoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "slotkeeper",
			Name:      "sweep_expired_total",
			Help:      "Count of holds expired by the reconciling sweep.",
		},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "slotkeeper",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of expired-hold sweeps.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	bookingTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "slotkeeper",
			Name:      "booking_transitions_total",
			Help:      "Count of booking status transitions.",
		},
		[]string{"status"},
	)

	availabilityLookups = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "slotkeeper",
			Name:      "availability_lookup_seconds",
			Help:      "Duration of availability computations by outcome.",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"outcome"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			holdsPlaced,
			holdsReleased,
			holdCompensations,
			sweepRemoved,
			sweepDuration,
			bookingTransitions,
			availabilityLookups,
		)
	})
}

func IncHoldPlaced(result string) {
	holdsPlaced.WithLabelValues(result).Inc()
}

func IncHoldReleased(reason string) {
	holdsReleased.WithLabelValues(reason).Inc()
}

func IncHoldCompensation() {
	holdCompensations.Inc()
}

func AddSweepExpired(n int) {
	sweepRemoved.Add(float64(n))
}

func ObserveSweep(d time.Duration) {
	sweepDuration.Observe(d.Seconds())
}

func IncBookingTransition(status string) {
	bookingTransitions.WithLabelValues(status).Inc()
}

// ObserveAvailabilityLookup records one calculator run.
func ObserveAvailabilityLookup(err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	availabilityLookups.WithLabelValues(outcome).Observe(d.Seconds())
}

type statusPayload struct {
	Status model.BookingStatus `json:"status"`
	To     model.BookingStatus `json:"to"`
}

// Subscribe counts booking transitions published on bus.
func Subscribe(bus *events.EventBus) {
	count := func(e events.Event) error {
		var p statusPayload
		if err := e.Decode(&p); err != nil {
			return err
		}
		status := p.To
		if status == "" {
			status = p.Status
		}
		IncBookingTransition(string(status))
		return nil
	}
	bus.Subscribe(events.BookingCreated, count)
	bus.Subscribe(events.BookingStatusChanged, count)
}
