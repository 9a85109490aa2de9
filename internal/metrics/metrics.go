// Package metrics provides Prometheus metrics for the polling pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "olx_bot"

// Label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds the pipeline metrics. A nil *Metrics records nothing.
type Metrics struct {
	FetchTotal          *prometheus.CounterVec
	ListingsParsedTotal *prometheus.CounterVec
	NotificationsTotal  *prometheus.CounterVec
	CycleDuration       prometheus.Histogram
}

// New creates and registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		FetchTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_total",
			Help:      "Search page fetches by result.",
		}, []string{"result"}),
		ListingsParsedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listings_parsed_total",
			Help:      "Listings extracted from search pages by strategy.",
		}, []string{"strategy"}),
		NotificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "New-listing notifications by delivery result.",
		}, []string{"result"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a full polling cycle.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
	}
}

// Fetch counts one page fetch.
func (m *Metrics) Fetch(err error) {
	if m == nil {
		return
	}
	m.FetchTotal.WithLabelValues(result(err == nil)).Inc()
}

// Parsed adds n listings produced by strategy.
func (m *Metrics) Parsed(strategy string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ListingsParsedTotal.WithLabelValues(strategy).Add(float64(n))
}

// Notified counts one notification attempt.
func (m *Metrics) Notified(ok bool) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(result(ok)).Inc()
}

// ObserveCycle records the duration of one cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.CycleDuration.Observe(d.Seconds())
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func result(ok bool) string {
	if ok {
		return ResultOK
	}
	return ResultError
}
