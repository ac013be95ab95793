// Package metrics exposes Prometheus collectors for callback verification,
// replay suppression and outbound API traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Callback outcomes.
const (
	OutcomeAccepted  = "accepted"
	OutcomeDuplicate = "duplicate"
	OutcomeChallenge = "challenge"
	OutcomeRejected  = "rejected"
	OutcomeError     = "error"
)

// Metrics groups the gateway collectors. A nil *Metrics is valid and
// records nothing, which keeps tests free of registry plumbing.
type Metrics struct {
	callbacks   *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	duplicates  prometheus.Counter
	tokenFetch  *prometheus.CounterVec
	apiRequests *prometheus.CounterVec
	apiDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wpsgate",
			Name:      "callbacks_total",
			Help:      "Inbound callbacks by verification scheme and outcome.",
		}, []string{"scheme", "outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wpsgate",
			Subsystem: "callback",
			Name:      "rejections_total",
			Help:      "Rejected callbacks by failure reason.",
		}, []string{"reason"}),
		duplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wpsgate",
			Subsystem: "replay",
			Name:      "duplicates_total",
			Help:      "Redelivered messages suppressed by the replay guard.",
		}),
		tokenFetch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wpsgate",
			Subsystem: "token",
			Name:      "fetch_total",
			Help:      "Access token acquisitions by result.",
		}, []string{"result"}),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wpsgate",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Outbound API attempts by endpoint and status.",
		}, []string{"endpoint", "status"}),
		apiDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "wpsgate",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Outbound API attempt latency.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"endpoint"}),
	}
	if reg != nil {
		reg.MustRegister(m.callbacks, m.rejections, m.duplicates, m.tokenFetch, m.apiRequests, m.apiDuration)
	}
	return m
}

// Callback counts one inbound callback.
func (m *Metrics) Callback(scheme, outcome string) {
	if m == nil {
		return
	}
	m.callbacks.WithLabelValues(scheme, outcome).Inc()
	if outcome == OutcomeDuplicate {
		m.duplicates.Inc()
	}
}

// Rejection counts one rejected callback by reason.
func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(reason).Inc()
}

// TokenFetch counts one token acquisition.
func (m *Metrics) TokenFetch(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tokenFetch.WithLabelValues(result).Inc()
}

// APIRequest records one outbound attempt.
func (m *Metrics) APIRequest(endpoint, status string, seconds float64) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(endpoint, status).Inc()
	m.apiDuration.WithLabelValues(endpoint).Observe(seconds)
}
