package apiclient

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts requests and session renewals.
type Metrics struct {
	requests *prometheus.CounterVec
	renewals *prometheus.CounterVec
}

// NewMetrics registers the client's collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindline",
			Subsystem: "apiclient",
			Name:      "requests_total",
			Help:      "API request attempts by method and response status.",
		}, []string{"method", "code"}),
		renewals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mindline",
			Subsystem: "apiclient",
			Name:      "session_renewals_total",
			Help:      "Session renewal attempts by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) observeRequest(method string, code int) {
	if m == nil {
		return
	}
	label := "error"
	if code > 0 {
		label = strconv.Itoa(code)
	}
	m.requests.WithLabelValues(method, label).Inc()
}

func (m *Metrics) observeRenewal(outcome string) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(outcome).Inc()
}
