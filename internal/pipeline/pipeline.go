package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/observability"
	"golang.org/x/sync/errgroup"
)

// ErrRunInProgress is returned when Run is called while another run is active.
var ErrRunInProgress = errors.New("a pipeline run is already in progress")

// Fetcher retrieves the forecast file of one cycle and forecast hour.
type Fetcher interface {
	Fetch(ctx context.Context, cycle domain.Cycle, fh domain.ForecastHour) (*domain.ScratchFile, error)
}

// Decoder reads the messages of a forecast file.
type Decoder interface {
	Decode(path string) ([]domain.GribMessage, error)
}

// DailyLoader writes a complete daily table to a destination.
type DailyLoader interface {
	LoadDaily(ctx context.Context, cycle domain.Cycle, records []domain.DailyRecord) error
}

// Sink is a secondary destination for the daily table. Sink failures are
// logged and counted without failing the run.
type Sink struct {
	Name   string
	Loader DailyLoader
}

// Options configures what a run covers.
type Options struct {
	Cadence     domain.Cadence
	Locations   []domain.Location
	Concurrency int
}

// RunSummary describes a finished run.
type RunSummary struct {
	Cycle          domain.Cycle
	HoursAttempted int
	HoursSucceeded int
	FailedHours    []domain.ForecastHour
	HourlyRecords  int
	DailyRecords   int
	PrecipClamped  int
	Duration       time.Duration
}

// Pipeline drives fetch, extraction and interpolation for every forecast
// hour of a cycle, then aggregates and persists the daily table.
type Pipeline struct {
	fetcher Fetcher
	decoder Decoder
	store   DailyLoader
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
	ready   atomic.Bool
	running atomic.Bool
}

// New creates a Pipeline. store receives the daily table first; a run fails
// if it cannot be written there.
func New(f Fetcher, d Decoder, store DailyLoader, logger *slog.Logger, metrics *observability.Metrics, opts Options, sinks ...Sink) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Pipeline{
		fetcher: f,
		decoder: d,
		store:   store,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

// CheckReadiness returns nil once a run has written the daily table,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no daily table has been written yet")
	}
	return nil
}

// Run processes every forecast hour of cycle. Hours that fail at any stage
// are skipped. If no hour yields data, Run returns domain.ErrNoForecastData
// and nothing is written.
func (p *Pipeline) Run(ctx context.Context, cycle domain.Cycle) (RunSummary, error) {
	if !p.running.CompareAndSwap(false, true) {
		return RunSummary{}, ErrRunInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	hours := p.opts.Cadence.Hours()
	summary := RunSummary{Cycle: cycle, HoursAttempted: len(hours)}
	p.logger.Info("pipeline run started",
		"cycle", cycle.String(),
		"forecast_hours", len(hours),
		"locations", len(p.opts.Locations),
		"concurrency", p.opts.Concurrency,
	)

	results := make([][]domain.HourlyRecord, len(hours))
	ok := make([]bool, len(hours))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, fh := range hours {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i], ok[i] = p.processHour(ctx, cycle, fh)
			return nil
		})
	}
	_ = g.Wait() // processHour reports failures through ok

	if err := ctx.Err(); err != nil {
		p.metrics.RunsTotal.WithLabelValues("cancelled").Inc()
		return summary, fmt.Errorf("pipeline run cancelled: %w", err)
	}

	var hourly []domain.HourlyRecord
	for i, fh := range hours {
		if !ok[i] {
			summary.FailedHours = append(summary.FailedHours, fh)
			continue
		}
		summary.HoursSucceeded++
		hourly = append(hourly, results[i]...)
	}
	summary.HourlyRecords = len(hourly)

	if len(hourly) == 0 {
		p.metrics.RunsTotal.WithLabelValues("no_data").Inc()
		p.logger.Error("no forecast hour produced usable data",
			"cycle", cycle.String(),
			"hours_failed", len(summary.FailedHours),
		)
		return summary, domain.ErrNoForecastData
	}

	daily, stats := domain.Aggregate(hourly)
	summary.DailyRecords = stats.DailyRecords
	summary.PrecipClamped = stats.PrecipClamped
	p.metrics.PrecipClamped.Add(float64(stats.PrecipClamped))
	if stats.PrecipClamped > 0 {
		p.logger.Info("negative precipitation increments clamped to zero", "count", stats.PrecipClamped)
	}

	if err := p.store.LoadDaily(ctx, cycle, daily); err != nil {
		p.metrics.RunsTotal.WithLabelValues("error").Inc()
		return summary, fmt.Errorf("persist daily table: %w", err)
	}
	p.metrics.DailyRecords.Set(float64(len(daily)))
	p.metrics.LastSuccess.SetToCurrentTime()
	p.ready.Store(true)

	for _, s := range p.sinks {
		if err := s.Loader.LoadDaily(ctx, cycle, daily); err != nil {
			p.metrics.SinkErrors.WithLabelValues(s.Name).Inc()
			p.logger.Warn("sink failed, daily table not delivered", "sink", s.Name, "error", err)
		}
	}

	summary.Duration = time.Since(start)
	p.metrics.RunsTotal.WithLabelValues("success").Inc()
	p.metrics.RunDuration.Observe(summary.Duration.Seconds())
	p.logger.Info("pipeline run complete",
		"cycle", cycle.String(),
		"hours_ok", summary.HoursSucceeded,
		"hours_failed", len(summary.FailedHours),
		"hourly_records", summary.HourlyRecords,
		"daily_records", summary.DailyRecords,
		"precip_clamped", summary.PrecipClamped,
		"duration", summary.Duration.String(),
	)
	return summary, nil
}

// processHour runs fetch, decode, extraction and interpolation for one
// forecast hour. It returns false when the hour must be skipped.
func (p *Pipeline) processHour(ctx context.Context, cycle domain.Cycle, fh domain.ForecastHour) ([]domain.HourlyRecord, bool) {
	logger := p.logger.With("forecast_hour", fh.String())

	file, err := p.fetcher.Fetch(ctx, cycle, fh)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("forecast hour skipped: fetch failed", "error", err)
		}
		p.metrics.HoursProcessed.WithLabelValues("fetch_failed").Inc()
		return nil, false
	}
	defer func() {
		if err := file.Close(); err != nil {
			logger.Warn("remove scratch file failed", "path", file.Path, "error", err)
		}
	}()

	msgs, err := p.decoder.Decode(file.Path)
	if err != nil {
		logger.Warn("forecast hour skipped: decode failed", "error", err)
		p.metrics.HoursProcessed.WithLabelValues("decode_failed").Inc()
		return nil, false
	}

	fields, err := domain.ExtractFields(msgs)
	if err != nil {
		logger.Warn("forecast hour skipped: no usable fields", "error", err)
		p.metrics.HoursProcessed.WithLabelValues("no_data").Inc()
		return nil, false
	}
	if missing := fields.Missing(); len(missing) > 0 {
		logger.Warn("partial extraction", "missing", missing)
		p.metrics.PartialExtractions.Inc()
	}

	records := domain.InterpolateToLocations(fields, p.opts.Locations, cycle.ValidTime(fh), fh)
	if len(records) == 0 {
		logger.Warn("forecast hour skipped: no location inside grid coverage")
		p.metrics.HoursProcessed.WithLabelValues("no_data").Inc()
		return nil, false
	}

	p.metrics.HoursProcessed.WithLabelValues("ok").Inc()
	p.metrics.HourlyRecords.Add(float64(len(records)))
	logger.Debug("forecast hour processed", "records", len(records))
	return records, true
}
