// Package metrics provides Prometheus metrics for the relay.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CyclesTotal counts completed scheduler cycles by outcome.
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gasrelay_cycles_total",
			Help: "Total number of update cycles by outcome (updated, empty, error)",
		},
		[]string{"outcome"},
	)

	// SkippedTicksTotal counts ticks dropped because a cycle was still running.
	SkippedTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gasrelay_skipped_ticks_total",
			Help: "Total number of ticks skipped while a cycle was in flight",
		},
	)

	// CycleDuration is a histogram of cycle fetch phase durations.
	CycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gasrelay_cycle_duration_seconds",
			Help:    "Duration of fetch cycles",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// SourceFetchTotal counts fetch attempts per source.
	SourceFetchTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gasrelay_source_fetch_total",
			Help: "Total number of gas price fetches per source and status",
		},
		[]string{"source", "status"},
	)

	// SourceHealth is 1 when the last fetch of a source succeeded.
	SourceHealth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gasrelay_source_health",
			Help: "Health status of gas price sources (1=healthy, 0=unhealthy)",
		},
		[]string{"source"},
	)

	// GasPriceGwei is the last observed gas price per source.
	GasPriceGwei = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gasrelay_gas_price_gwei",
			Help: "Last observed gas price in gwei",
		},
		[]string{"source"},
	)

	// BuySignalsTotal counts detected buy signals.
	BuySignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gasrelay_buy_signals_total",
			Help: "Total number of buy signals detected",
		},
		[]string{"source"},
	)

	// PublishTotal counts oracle submissions.
	PublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gasrelay_publish_total",
			Help: "Total number of oracle publish attempts",
		},
		[]string{"status"},
	)

	initOnce sync.Once
)

// Init registers all collectors with the default registry. Safe to call repeatedly.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			CyclesTotal,
			SkippedTicksTotal,
			CycleDuration,
			SourceFetchTotal,
			SourceHealth,
			GasPriceGwei,
			BuySignalsTotal,
			PublishTotal,
		)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCycle records a finished cycle outcome.
func RecordCycle(outcome string) {
	CyclesTotal.WithLabelValues(outcome).Inc()
}

// RecordSkippedTick records a dropped tick.
func RecordSkippedTick() {
	SkippedTicksTotal.Inc()
}

// RecordCycleDuration records the fetch phase of a cycle.
func RecordCycleDuration(d time.Duration) {
	CycleDuration.Observe(d.Seconds())
}

// RecordSourceFetch records a fetch attempt and source health.
func RecordSourceFetch(source string, ok bool) {
	status, health := "ok", 1.0
	if !ok {
		status, health = "error", 0.0
	}
	SourceFetchTotal.WithLabelValues(source, status).Inc()
	SourceHealth.WithLabelValues(source).Set(health)
}

// RecordGasPrice records the latest gas price of a source.
func RecordGasPrice(source string, gwei float64) {
	GasPriceGwei.WithLabelValues(source).Set(gwei)
}

// RecordBuySignal records a detected buy signal.
func RecordBuySignal(source string) {
	BuySignalsTotal.WithLabelValues(source).Inc()
}

// RecordPublish records an oracle submission.
func RecordPublish(ok bool) {
	if ok {
		PublishTotal.WithLabelValues("ok").Inc()
		return
	}
	PublishTotal.WithLabelValues("error").Inc()
}
