// Package observability exposes Prometheus metrics for the sync pipeline.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds the Prometheus counters and histograms for one pipeline run.
type Metrics struct {
	registry *prometheus.Registry

	PagesFetched   prometheus.Counter
	RecordsFetched prometheus.Counter
	FetchErrors    prometheus.Counter

	RecordsNormalized prometheus.Counter
	FieldParseMisses  *prometheus.CounterVec // labels: field

	RowsLoaded  prometheus.Counter
	LoadErrors  prometheus.Counter
	RunDuration prometheus.Histogram
	RunRunning  prometheus.Gauge
}

// NewMetrics creates all pipeline metrics on a private registry, so repeated
// in-process runs (and tests) never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		PagesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "femasync",
			Name:      "pages_fetched_total",
			Help:      "Total pages requested from the declarations endpoint.",
		}),
		RecordsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "femasync",
			Name:      "records_fetched_total",
			Help:      "Total raw records accumulated across pages.",
		}),
		FetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "femasync",
			Name:      "fetch_errors_total",
			Help:      "Fetch failures that truncated pagination.",
		}),
		RecordsNormalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "femasync",
			Name:      "records_normalized_total",
			Help:      "Records that passed through normalization.",
		}),
		FieldParseMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "femasync",
			Name:      "field_parse_misses_total",
			Help:      "Field values that degraded to NULL during normalization.",
		}, []string{"field"}),
		RowsLoaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "femasync",
			Name:      "rows_loaded_total",
			Help:      "Rows written to the destination table.",
		}),
		LoadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "femasync",
			Name:      "load_errors_total",
			Help:      "Destination write failures.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "femasync",
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-load run.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		RunRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "femasync",
			Name:      "run_running",
			Help:      "1 while a sync run is active, 0 otherwise.",
		}),
	}

	reg.MustRegister(
		m.PagesFetched, m.RecordsFetched, m.FetchErrors,
		m.RecordsNormalized, m.FieldParseMisses,
		m.RowsLoaded, m.LoadErrors, m.RunDuration, m.RunRunning,
	)

	return m
}

// Serve exposes /metrics on addr until ctx is cancelled. Intended for runs
// long enough to be scraped; errors are logged, never fatal.
func (m *Metrics) Serve(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zap.L().Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
