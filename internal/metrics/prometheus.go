// Package metrics provides Prometheus metrics for accessgate.
package metrics

import (
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "accessgate"

// Metrics holds the Prometheus instruments. It implements grants.Recorder,
// progress.Recorder and payments.Recorder.
type Metrics struct {
	CodeChecks       *prometheus.CounterVec
	RedemptionStarts *prometheus.CounterVec
	SeatCompletions  *prometheus.CounterVec
	ProgressSaves    *prometheus.CounterVec
	PaymentEvents    *prometheus.CounterVec
	GrantsIssued     *prometheus.CounterVec
	GrantsExpired    prometheus.Counter
	RequestDuration  *prometheus.HistogramVec
}

// NewMetrics creates and registers all instruments with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		CodeChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "code_checks_total",
			Help:      "Redemption checks by outcome.",
		}, []string{"result"}),
		RedemptionStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redemption_starts_total",
			Help:      "Redemption start attempts by outcome.",
		}, []string{"result"}),
		SeatCompletions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seat_completions_total",
			Help:      "Seat completion attempts by outcome.",
		}, []string{"result"}),
		ProgressSaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progress_saves_total",
			Help:      "Level progress saves by level and operation.",
		}, []string{"level", "op"}),
		PaymentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_events_total",
			Help:      "Payment succeeded events by outcome.",
		}, []string{"result"}),
		GrantsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_issued_total",
			Help:      "Access grants issued by kind.",
		}, []string{"kind"}),
		GrantsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grants_expired_total",
			Help:      "Access grants moved to the expired status.",
		}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}

	for _, c := range []prometheus.Collector{
		m.CodeChecks, m.RedemptionStarts, m.SeatCompletions, m.ProgressSaves,
		m.PaymentEvents, m.GrantsIssued, m.GrantsExpired, m.RequestDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metric: %w", err)
		}
	}
	return m, nil
}

// RecordCodeCheck counts a redemption check outcome.
func (m *Metrics) RecordCodeCheck(result string) {
	m.CodeChecks.WithLabelValues(result).Inc()
}

// RecordRedemptionStart counts a start attempt outcome.
func (m *Metrics) RecordRedemptionStart(result string) {
	m.RedemptionStarts.WithLabelValues(result).Inc()
}

// RecordSeatCompletion counts a completion attempt outcome.
func (m *Metrics) RecordSeatCompletion(result string) {
	m.SeatCompletions.WithLabelValues(result).Inc()
}

// RecordGrantsExpired adds n grants flipped to expired.
func (m *Metrics) RecordGrantsExpired(n int) {
	if n > 0 {
		m.GrantsExpired.Add(float64(n))
	}
}

// RecordGrantIssued counts an issued grant.
func (m *Metrics) RecordGrantIssued(kind string) {
	m.GrantsIssued.WithLabelValues(kind).Inc()
}

// RecordProgressSave counts a level save as a create or an update.
func (m *Metrics) RecordProgressSave(level int, created bool) {
	op := "update"
	if created {
		op = "create"
	}
	m.ProgressSaves.WithLabelValues(strconv.Itoa(level), op).Inc()
}

// RecordPaymentEvent counts a payment event outcome.
func (m *Metrics) RecordPaymentEvent(result string) {
	m.PaymentEvents.WithLabelValues(result).Inc()
}

// ObserveRequest records one HTTP request duration.
func (m *Metrics) ObserveRequest(method, route string, status int, seconds float64) {
	m.RequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(seconds)
}
