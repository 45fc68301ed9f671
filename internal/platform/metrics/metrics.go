package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the relay.
// A nil *Metrics is valid and records nothing, so tests can pass nil.
type Metrics struct {
	registry        *prometheus.Registry
	requestsTotal   prometheus.Counter
	errorsTotal     prometheus.Counter
	updatesTotal    prometheus.Counter
	roundsTotal     *prometheus.CounterVec
	deliveriesTotal *prometheus.CounterVec
	segmentsSent    prometheus.Counter
	activeSessions  prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	updatesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_updates_total",
		Help: "Total number of chat updates accepted from the webhook",
	})
	roundsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rounds_total",
		Help: "Offer rounds started from a submitted URL, by outcome",
	}, []string{"outcome"})
	deliveriesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_deliveries_total",
		Help: "Selections processed through retrieval and delivery, by outcome",
	}, []string{"outcome"})
	segmentsSent := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_segments_sent_total",
		Help: "Total number of files uploaded to the chat transport",
	})
	activeSessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_active_sessions",
		Help: "Conversations awaiting a selection or busy retrieving",
	})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		updatesTotal,
		roundsTotal,
		deliveriesTotal,
		segmentsSent,
		activeSessions,
	)

	return &Metrics{
		registry:        registry,
		requestsTotal:   requestsTotal,
		errorsTotal:     errorsTotal,
		updatesTotal:    updatesTotal,
		roundsTotal:     roundsTotal,
		deliveriesTotal: deliveriesTotal,
		segmentsSent:    segmentsSent,
		activeSessions:  activeSessions,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	if m == nil {
		return
	}
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

// IncUpdates counts one accepted chat update.
func (m *Metrics) IncUpdates() {
	if m == nil {
		return
	}
	m.updatesTotal.Inc()
}

// ObserveRound counts a finished offer round ("offered", "no_admissible_offers", ...).
func (m *Metrics) ObserveRound(outcome string) {
	if m == nil {
		return
	}
	m.roundsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDelivery counts a finished selection ("delivered", "retrieval_failure", ...).
func (m *Metrics) ObserveDelivery(outcome string) {
	if m == nil {
		return
	}
	m.deliveriesTotal.WithLabelValues(outcome).Inc()
}

// IncSegmentsSent counts one uploaded file.
func (m *Metrics) IncSegmentsSent() {
	if m == nil {
		return
	}
	m.segmentsSent.Inc()
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
