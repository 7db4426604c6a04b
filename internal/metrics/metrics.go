// Package metrics exposes Prometheus collectors and a health endpoint for the
// detector and dashboard processes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the signal pipeline.
type Metrics struct {
	ScansTotal       prometheus.Counter
	ScanDuration     prometheus.Histogram
	PairsEvaluated   prometheus.Counter
	EvaluateDur      prometheus.Histogram
	VerdictsTotal    *prometheus.CounterVec // labels: classification, direction
	LedgerOutcomes   *prometheus.CounterVec // labels: outcome
	PipelineErrors   *prometheus.CounterVec // labels: kind=integrity|fetch|persistence|insufficient|store
	BarsStored       prometheus.Counter
	Notifications    *prometheus.CounterVec // labels: result=sent|failed
	LastScanUnix     prometheus.Gauge
	WatchlistPairs   prometheus.Gauge
	DashboardClients prometheus.Gauge

	// Redis publisher breaker
	RedisBreakerState   prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisBreakerTrips   prometheus.Counter
	RedisBufferedWrites prometheus.Counter
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in binaries and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confluence_scans_total",
			Help: "Completed watchlist scan cycles",
		}),
		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "confluence_scan_duration_seconds",
			Help:    "Wall time of one scan cycle including fetches",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		PairsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confluence_pairs_evaluated_total",
			Help: "Asset/interval pairs run through the engine",
		}),
		EvaluateDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "confluence_evaluate_duration_seconds",
			Help:    "Engine evaluation latency per pair",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		VerdictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confluence_verdicts_total",
			Help: "Verdicts produced by the engine",
		}, []string{"classification", "direction"}),
		LedgerOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confluence_ledger_outcomes_total",
			Help: "Ledger decisions per watchlist entry (accepted or rejection reason)",
		}, []string{"outcome"}),
		PipelineErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confluence_pipeline_errors_total",
			Help: "Per-pair failures that skipped a pair for the cycle",
		}, []string{"kind"}),
		BarsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confluence_bars_stored_total",
			Help: "Price bars upserted by the collector",
		}),
		Notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "confluence_notifications_total",
			Help: "Signal notifications by delivery result",
		}, []string{"result"}),
		LastScanUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "confluence_last_scan_timestamp_seconds",
			Help: "Unix time of the last completed scan",
		}),
		WatchlistPairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "confluence_watchlist_pairs",
			Help: "Distinct asset/interval pairs on the watchlist",
		}),
		DashboardClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "confluence_dashboard_ws_clients",
			Help: "Connected dashboard websocket clients",
		}),
		RedisBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "confluence_redis_circuit_breaker_state",
			Help: "Redis publisher circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confluence_redis_circuit_breaker_trips_total",
			Help: "Times the Redis publisher breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "confluence_redis_buffered_writes_total",
			Help: "Signals buffered while the Redis breaker was open",
		}),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.PairsEvaluated,
		m.EvaluateDur,
		m.VerdictsTotal,
		m.LedgerOutcomes,
		m.PipelineErrors,
		m.BarsStored,
		m.Notifications,
		m.LastScanUnix,
		m.WatchlistPairs,
		m.DashboardClients,
		m.RedisBreakerState,
		m.RedisBreakerTrips,
		m.RedisBufferedWrites,
	)
	return m
}
