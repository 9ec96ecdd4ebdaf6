// Package metrics holds the Prometheus collectors of the scheduling engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "manutenzioni"

type Metrics struct {
	completions     *prometheus.CounterVec
	cancellations   *prometheus.CounterVec
	alertsRaised    *prometheus.CounterVec
	alertDeliveries *prometheus.CounterVec
	alertQueueDrops prometheus.Counter
	httpDuration    *prometheus.HistogramVec
	gatherer        prometheus.Gatherer
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to keep registrations isolated.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scadenze_completed_total",
			Help:      "Completed scadenze by resulting state.",
		}, []string{"state"}),
		cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scadenze_cancelled_total",
			Help:      "Cancelled scadenze by scope (single or group).",
		}, []string{"scope"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alert events handed to the emitter, by kind.",
		}, []string{"kind"}),
		alertDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_deliveries_total",
			Help:      "Alert delivery attempts by sink and result.",
		}, []string{"sink", "result"}),
		alertQueueDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alert_queue_dropped_total",
			Help:      "Alerts dropped because the dispatch queue was full.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		gatherer: reg,
	}
	reg.MustRegister(m.completions, m.cancellations, m.alertsRaised, m.alertDeliveries, m.alertQueueDrops, m.httpDuration)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

func (m *Metrics) Completed(state string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(state).Inc()
}

func (m *Metrics) Cancelled(scope string, n int) {
	if m == nil {
		return
	}
	m.cancellations.WithLabelValues(scope).Add(float64(n))
}

func (m *Metrics) AlertRaised(kind string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(kind).Inc()
}

func (m *Metrics) AlertDelivery(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.alertDeliveries.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) AlertDropped() {
	if m == nil {
		return
	}
	m.alertQueueDrops.Inc()
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
