package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gatekeeper prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	gateDecisions *prometheus.CounterVec
	relayResults  *prometheus.CounterVec
	authLogins    *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// NewMetrics registers the collectors on reg
func NewMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		gateDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_gate_decisions_total",
			Help: "Route gate decisions by outcome.",
		}, []string{"decision"}),
		relayResults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_relay_results_total",
			Help: "Gasless relay requests by result.",
		}, []string{"result"}),
		authLogins: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatekeeper_auth_logins_total",
			Help: "Sign-in verifications by result.",
		}, []string{"result"}),
		gatherer: reg,
	}
}

// Handler serves the registry in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) gateDecision(decision string) {
	if m != nil {
		m.gateDecisions.WithLabelValues(decision).Inc()
	}
}

func (m *Metrics) relayResult(result string) {
	if m != nil {
		m.relayResults.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) authLogin(result string) {
	if m != nil {
		m.authLogins.WithLabelValues(result).Inc()
	}
}
