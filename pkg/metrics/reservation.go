package metrics

import "github.com/prometheus/client_golang/prometheus"

// ReservationMetrics tracks reservation attempts and vendor fallback behaviour.
type ReservationMetrics struct {
	attempts  *prometheus.CounterVec
	fallbacks prometheus.Counter
	expired   prometheus.Counter
}

// NewReservationMetrics registers the reservation metrics on the provided registerer.
func NewReservationMetrics(reg prometheus.Registerer) *ReservationMetrics {
	if reg == nil {
		return &ReservationMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reservation_attempts_total",
		Help: "Reservation attempts by outcome.",
	}, []string{"outcome"})
	fallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservation_vendor_fallbacks_total",
		Help: "Times the preferred vendor lacked stock and an alternate was tried.",
	})
	expired := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reservations_expired_total",
		Help: "Reservations force-released after passing their expiry.",
	})
	reg.MustRegister(attempts, fallbacks, expired)
	return &ReservationMetrics{
		attempts:  attempts,
		fallbacks: fallbacks,
		expired:   expired,
	}
}

// IncAttempt records a reservation attempt with the given outcome label.
func (m *ReservationMetrics) IncAttempt(outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncFallback records one vendor fallback during a reservation attempt.
func (m *ReservationMetrics) IncFallback() {
	if m == nil || m.fallbacks == nil {
		return
	}
	m.fallbacks.Inc()
}

// IncExpired records one reservation released by the expiry sweep.
func (m *ReservationMetrics) IncExpired() {
	if m == nil || m.expired == nil {
		return
	}
	m.expired.Inc()
}
