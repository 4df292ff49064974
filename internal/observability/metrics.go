package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gridetl"

// Metrics holds the Prometheus collectors for one pipeline run.
type Metrics struct {
	SourceObservations *prometheus.CounterVec   // labels: source
	SourceSelected     *prometheus.GaugeVec     // labels: source
	SourceDropped      *prometheus.CounterVec   // labels: source (reports without a location)
	SourceFailures     *prometheus.CounterVec   // labels: source, reason={fetch,not_found}
	SourceFallbacks    *prometheus.CounterVec   // labels: source
	FetchDuration      *prometheus.HistogramVec // labels: source
	MesonetPageCache   *prometheus.CounterVec   // labels: result={hit,miss}

	MergedObservations prometheus.Gauge
	VariablesSkipped   *prometheus.CounterVec // labels: variable, reason={insufficient,degenerate}
	GridCoverage       *prometheus.GaugeVec   // labels: variable
	GridNodes          prometheus.Gauge

	ExportsWritten *prometheus.CounterVec // labels: format
	ExportErrors   *prometheus.CounterVec // labels: format

	RunDuration   prometheus.Histogram
	RunSuccess    prometheus.Gauge
	RunsCompleted prometheus.Counter
	RunsFailed    prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates the run metrics on a dedicated registry so they can be
// pushed as one group when the run ends.
func NewMetrics() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics, safe to call from
// multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

// Gatherer exposes the registry for pushing. Nil for test metrics.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry == nil {
		return nil
	}
	return m.registry
}

func newMetrics() *Metrics {
	return &Metrics{
		SourceObservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_observations_total",
			Help:      "Raw reports parsed from each source.",
		}, []string{"source"}),
		SourceSelected: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "source_selected_reports",
			Help:      "Reports kept per source after best-report selection.",
		}, []string{"source"}),
		SourceDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_dropped_total",
			Help:      "Selected reports dropped for missing location.",
		}, []string{"source"}),
		SourceFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_failures_total",
			Help:      "Sources that contributed no rows, by reason.",
		}, []string{"source", "reason"}),
		SourceFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "source_fallbacks_total",
			Help:      "Selections that fell back to the nearest timestamp.",
		}, []string{"source"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Time spent fetching and parsing each source.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source"}),
		MesonetPageCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mesonet_page_cache_total",
			Help:      "Mesonet page cache lookups by result.",
		}, []string{"result"}),
		MergedObservations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "merged_observations",
			Help:      "Observations in the merged table.",
		}),
		VariablesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "variables_skipped_total",
			Help:      "Variables left all-NaN, by reason.",
		}, []string{"variable", "reason"}),
		GridCoverage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_coverage_ratio",
			Help:      "Fraction of grid nodes with a value, per variable.",
		}, []string{"variable"}),
		GridNodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grid_nodes",
			Help:      "Total nodes in the output grid.",
		}),
		ExportsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "exports_written_total",
			Help:      "Successful dataset exports by format.",
		}, []string{"format"}),
		ExportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_errors_total",
			Help:      "Failed dataset exports by format.",
		}, []string{"format"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-to-package run.",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		RunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_success",
			Help:      "1 when the last run packaged a dataset, 0 otherwise.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_completed_total",
			Help:      "Runs that produced a dataset.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_failed_total",
			Help:      "Runs that ended in the failed state.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SourceObservations,
		m.SourceSelected,
		m.SourceDropped,
		m.SourceFailures,
		m.SourceFallbacks,
		m.FetchDuration,
		m.MesonetPageCache,
		m.MergedObservations,
		m.VariablesSkipped,
		m.GridCoverage,
		m.GridNodes,
		m.ExportsWritten,
		m.ExportErrors,
		m.RunDuration,
		m.RunSuccess,
		m.RunsCompleted,
		m.RunsFailed,
	}
}
