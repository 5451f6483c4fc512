// Package metrics exposes Prometheus collectors for the exchange,
// discovery, and update protocols, grounded on the Registry/CounterVec
// style used for HTTP instrumentation elsewhere in the retrieved
// corpus: an explicit, non-global *prometheus.Registry, never the
// package-default one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels the outcome of one client/server exchange.
type Result string

const (
	ResultDelivered    Result = "delivered"
	ResultEmpty        Result = "empty"
	ResultLossOfSync   Result = "loss_of_sync"
	ResultTimeout      Result = "timeout"
	ResultTransportErr Result = "transport_error"
)

// Metrics holds every collector this module registers and the
// registry they live on.
type Metrics struct {
	Registry *prometheus.Registry

	ExchangesTotal       *prometheus.CounterVec
	ExchangeDuration     *prometheus.HistogramVec
	DiscoveryRoundsTotal prometheus.Counter
	DiscoveryCollisions  prometheus.Counter
	MICFailuresTotal     prometheus.Counter
	UpdateBytesTotal     prometheus.Counter
	UpdateGapsTotal      prometheus.Counter
}

// New builds a Metrics bound to a fresh registry and registers every
// collector with it.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		ExchangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flipflop",
				Name:      "exchanges_total",
				Help:      "Total number of client/server command-event exchanges, by result.",
			},
			[]string{"result"},
		),
		ExchangeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flipflop",
				Name:      "exchange_duration_seconds",
				Help:      "Round-trip latency of one exchange tick.",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
			[]string{"result"},
		),
		DiscoveryRoundsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flipflop",
				Name:      "discovery_rounds_total",
				Help:      "Total number of discovery rounds run by a client.",
			},
		),
		DiscoveryCollisions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flipflop",
				Name:      "discovery_collisions_total",
				Help:      "Total number of discovery rounds that ended with a slot collision or address conflict.",
			},
		),
		MICFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flipflop",
				Name:      "mic_failures_total",
				Help:      "Total number of frames rejected for failing MIC verification.",
			},
		),
		UpdateBytesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flipflop",
				Name:      "update_bytes_total",
				Help:      "Total number of update payload bytes accepted by a server.",
			},
		),
		UpdateGapsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flipflop",
				Name:      "update_gaps_total",
				Help:      "Total number of update transfers aborted due to an offset gap.",
			},
		),
	}

	reg.MustRegister(
		m.ExchangesTotal,
		m.ExchangeDuration,
		m.DiscoveryRoundsTotal,
		m.DiscoveryCollisions,
		m.MICFailuresTotal,
		m.UpdateBytesTotal,
		m.UpdateGapsTotal,
	)

	return m
}

// Handler exposes the metrics registry for scraping, e.g. mounted at
// /metrics by the admin HTTP API.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveExchange records the outcome and latency of one exchange tick.
func (m *Metrics) ObserveExchange(result Result, d time.Duration) {
	m.ExchangesTotal.WithLabelValues(string(result)).Inc()
	m.ExchangeDuration.WithLabelValues(string(result)).Observe(d.Seconds())
}
