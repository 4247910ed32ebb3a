package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "forecast_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the forecast pipeline.
type Metrics struct {
	PipelineRunning prometheus.Gauge
	RunsTotal       *prometheus.CounterVec // labels: outcome={success,no_data,error,cancelled}
	RunDuration     prometheus.Histogram
	LastSuccess     prometheus.Gauge

	// Per-hour processing.
	HoursProcessed     *prometheus.CounterVec // labels: outcome={ok,fetch_failed,decode_failed,no_data}
	PartialExtractions prometheus.Counter
	FetchDuration      prometheus.Histogram
	FetchBytes         prometheus.Counter
	FetchRetries       prometheus.Counter

	// Reduction and output.
	HourlyRecords prometheus.Counter
	DailyRecords  prometheus.Gauge
	PrecipClamped prometheus.Counter
	SinkErrors    *prometheus.CounterVec // labels: sink
}

func newMetrics() *Metrics {
	return &Metrics{
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 while a pipeline run is in progress, 0 otherwise.",
		}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by outcome.",
		}, []string{"outcome"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete pipeline run.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 2400, 3600},
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last run that wrote the daily table.",
		}),
		HoursProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hours_processed_total",
			Help:      "Forecast hours processed by outcome.",
		}, []string{"outcome"}),
		PartialExtractions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partial_extractions_total",
			Help:      "Forecast hours where some canonical fields were missing.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single forecast file download, including retries.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		}),
		FetchBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_bytes_total",
			Help:      "Bytes of forecast files downloaded.",
		}),
		FetchRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_retries_total",
			Help:      "Download attempts retried after a transient failure.",
		}),
		HourlyRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hourly_records_total",
			Help:      "Interpolated (location, forecast hour) records produced.",
		}),
		DailyRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "daily_records",
			Help:      "Rows in the most recently written daily table.",
		}),
		PrecipClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "precip_clamped_total",
			Help:      "Negative precipitation increments clamped to zero.",
		}),
		SinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed deliveries of the daily table to secondary sinks.",
		}, []string{"sink"}),
	}
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.PipelineRunning,
		m.RunsTotal,
		m.RunDuration,
		m.LastSuccess,
		m.HoursProcessed,
		m.PartialExtractions,
		m.FetchDuration,
		m.FetchBytes,
		m.FetchRetries,
		m.HourlyRecords,
		m.DailyRecords,
		m.PrecipClamped,
		m.SinkErrors,
	)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}
