package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/observability"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

// mockFetcher writes the forecast hour into a real scratch file so the
// decoder and cleanup paths run against the filesystem.
type mockFetcher struct {
	dir   string
	fail  map[domain.ForecastHour]error
	block chan struct{} // when set, Fetch waits on it
	start chan struct{} // when set, signalled on the first Fetch

	mu    sync.Mutex
	calls int
	once  sync.Once
}

func (m *mockFetcher) Fetch(ctx context.Context, _ domain.Cycle, fh domain.ForecastHour) (*domain.ScratchFile, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.start != nil {
		m.once.Do(func() { close(m.start) })
	}
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.fail[fh]; err != nil {
		return nil, err
	}

	path := filepath.Join(m.dir, fh.String()+".grib2")
	if err := os.WriteFile(path, []byte(strconv.Itoa(int(fh))), 0o600); err != nil {
		return nil, err
	}
	return &domain.ScratchFile{Path: path}, nil
}

// mockDecoder returns messages built by fields for the hour stored in the file.
type mockDecoder struct {
	fields func(fh int) []domain.GribMessage
}

func (m *mockDecoder) Decode(path string) ([]domain.GribMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	fh, err := strconv.Atoi(string(data))
	if err != nil {
		return nil, fmt.Errorf("not a forecast file: %w", err)
	}
	return m.fields(fh), nil
}

type mockLoader struct {
	mu     sync.Mutex
	loaded [][]domain.DailyRecord
	err    error
}

func (m *mockLoader) LoadDaily(_ context.Context, _ domain.Cycle, records []domain.DailyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.loaded = append(m.loaded, records)
	return nil
}

// --- helpers ---

var (
	testCycle = domain.Cycle{Date: time.Date(2025, time.December, 10, 0, 0, 0, 0, time.UTC), Hour: 0}
	campinas  = domain.Location{Name: "Campinas", State: "SP", Lat: -22.9, Lon: -47.06}
	londrina  = domain.Location{Name: "Londrina", State: "PR", Lat: -23.3, Lon: -51.17}
	outside   = domain.Location{Name: "Lisboa", State: "PT", Lat: 38.7, Lon: -9.1}
)

func uniform(v float64) domain.Grid {
	return domain.Grid{
		Lats:   []float64{-20, -30},
		Lons:   []float64{300, 320},
		Values: []float64{v, v, v, v},
	}
}

func msg(name string, lt domain.LevelType, level, v float64) domain.GribMessage {
	return domain.GribMessage{ShortName: name, LevelType: lt, Level: level, Grid: uniform(v)}
}

// allFields yields temperature 300+fh K, cumulative precipitation fh/3 and
// constant wind.
func allFields(fh int) []domain.GribMessage {
	return []domain.GribMessage{
		msg("2t", domain.LevelHeightAboveGround, 2, 300+float64(fh)),
		msg("tp", domain.LevelSurface, 0, float64(fh)/3),
		msg("10u", domain.LevelHeightAboveGround, 10, 3),
		msg("10v", domain.LevelHeightAboveGround, 10, -4),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

type fixture struct {
	fetcher *mockFetcher
	decoder *mockDecoder
	store   *mockLoader
	sink    *mockLoader
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		fetcher: &mockFetcher{dir: t.TempDir()},
		decoder: &mockDecoder{fields: allFields},
		store:   &mockLoader{},
		sink:    &mockLoader{},
		metrics: observability.NewMetricsForTesting(),
	}
}

func (f *fixture) pipeline(opts pipeline.Options) *pipeline.Pipeline {
	if opts.Locations == nil {
		opts.Locations = []domain.Location{campinas}
	}
	return pipeline.New(f.fetcher, f.decoder, f.store, discardLogger(), f.metrics, opts,
		pipeline.Sink{Name: "secondary", Loader: f.sink})
}

func (f *fixture) assertScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(f.fetcher.dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch files must be removed")
}

var threeHours = domain.Cadence{DenseEnd: 6, DenseStep: 3, SparseEnd: 6, SparseStep: 6}

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	f := newFixture(t)
	f.decoder.fields = func(fh int) []domain.GribMessage {
		// Cumulative precipitation 0, 2, 5 over hours 0, 3, 6.
		fields := allFields(fh)
		fields[1] = msg("tp", domain.LevelSurface, 0, map[int]float64{0: 0, 3: 2, 6: 5}[fh])
		return fields
	}
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	require.Error(t, p.CheckReadiness(context.Background()))

	summary, err := p.Run(context.Background(), testCycle)
	require.NoError(t, err)

	assert.Equal(t, 3, summary.HoursAttempted)
	assert.Equal(t, 3, summary.HoursSucceeded)
	assert.Empty(t, summary.FailedHours)
	assert.Equal(t, 3, summary.HourlyRecords)
	assert.Equal(t, 1, summary.DailyRecords)
	assert.Zero(t, summary.PrecipClamped)

	require.Len(t, f.store.loaded, 1)
	daily := f.store.loaded[0]
	require.Len(t, daily, 1)
	assert.Equal(t, campinas, daily[0].Location)
	assert.Equal(t, testCycle.Date, daily[0].Day)
	assert.InDelta(t, 303-domain.KelvinOffset, *daily[0].Temperature, 1e-9)
	assert.InDelta(t, 5.0, *daily[0].Precipitation, 1e-9)
	assert.InDelta(t, 3.0, *daily[0].WindU, 1e-9)
	assert.InDelta(t, -4.0, *daily[0].WindV, 1e-9)

	assert.Equal(t, f.store.loaded, f.sink.loaded, "sinks receive the same table")
	assert.NoError(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, 3.0, counterValue(t, f.metrics.HoursProcessed.WithLabelValues("ok")))
	assert.Equal(t, 1.0, counterValue(t, f.metrics.RunsTotal.WithLabelValues("success")))
	f.assertScratchEmpty(t)
}

func TestPipeline_Run_SkipsFailedHours(t *testing.T) {
	f := newFixture(t)
	f.fetcher.fail = map[domain.ForecastHour]error{3: fmt.Errorf("%w: 404", domain.ErrFileUnavailable)}
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	summary, err := p.Run(context.Background(), testCycle)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.HoursSucceeded)
	assert.Equal(t, []domain.ForecastHour{3}, summary.FailedHours)
	require.Len(t, f.store.loaded, 1)
	// Hours 0 and 6 carry cumulative values 0 and 2; the gap does not lose the increment.
	assert.InDelta(t, 2.0, *f.store.loaded[0][0].Precipitation, 1e-9)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.HoursProcessed.WithLabelValues("fetch_failed")))
}

func TestPipeline_Run_DecodeAndExtractionFailures(t *testing.T) {
	f := newFixture(t)
	f.decoder.fields = func(fh int) []domain.GribMessage {
		switch fh {
		case 3:
			return []domain.GribMessage{msg("gh", domain.LevelSurface, 0, 1)} // nothing usable
		case 6:
			return allFields(fh)[:1] // temperature only
		}
		return allFields(fh)
	}
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	summary, err := p.Run(context.Background(), testCycle)
	require.NoError(t, err)

	assert.Equal(t, []domain.ForecastHour{3}, summary.FailedHours)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.HoursProcessed.WithLabelValues("no_data")))
	assert.Equal(t, 1.0, counterValue(t, f.metrics.PartialExtractions))

	daily := f.store.loaded[0]
	require.Len(t, daily, 1)
	assert.InDelta(t, 303-domain.KelvinOffset, *daily[0].Temperature, 1e-9)
	assert.InDelta(t, 0.0, *daily[0].Precipitation, 1e-9)
	f.assertScratchEmpty(t)
}

func TestPipeline_Run_TotalFailureWritesNothing(t *testing.T) {
	f := newFixture(t)
	unavailable := fmt.Errorf("%w: 404", domain.ErrFileUnavailable)
	f.fetcher.fail = map[domain.ForecastHour]error{0: unavailable, 3: unavailable, 6: unavailable}
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	summary, err := p.Run(context.Background(), testCycle)
	require.ErrorIs(t, err, domain.ErrNoForecastData)

	assert.Zero(t, summary.HoursSucceeded)
	assert.Len(t, summary.FailedHours, 3)
	assert.Empty(t, f.store.loaded)
	assert.Empty(t, f.sink.loaded)
	assert.Error(t, p.CheckReadiness(context.Background()))
	assert.Equal(t, 1.0, counterValue(t, f.metrics.RunsTotal.WithLabelValues("no_data")))
}

func TestPipeline_Run_NoLocationInsideCoverage(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(pipeline.Options{Cadence: threeHours, Locations: []domain.Location{outside}})

	_, err := p.Run(context.Background(), testCycle)
	require.ErrorIs(t, err, domain.ErrNoForecastData)
	assert.Empty(t, f.store.loaded)
}

func TestPipeline_Run_StoreFailure(t *testing.T) {
	f := newFixture(t)
	f.store.err = errors.New("disk full")
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	_, err := p.Run(context.Background(), testCycle)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, f.sink.loaded, "sinks must not receive a table that was not persisted")
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_SinkFailureDoesNotFailRun(t *testing.T) {
	f := newFixture(t)
	f.sink.err = errors.New("broker unavailable")
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	_, err := p.Run(context.Background(), testCycle)
	require.NoError(t, err)
	assert.Len(t, f.store.loaded, 1)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.SinkErrors.WithLabelValues("secondary")))
}

func TestPipeline_Run_ClampedPrecipitationReported(t *testing.T) {
	f := newFixture(t)
	f.decoder.fields = func(fh int) []domain.GribMessage {
		fields := allFields(fh)
		fields[1] = msg("tp", domain.LevelSurface, 0, map[int]float64{0: 1, 3: 5, 6: 3}[fh])
		return fields
	}
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	summary, err := p.Run(context.Background(), testCycle)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.PrecipClamped)
	assert.Equal(t, 1.0, counterValue(t, f.metrics.PrecipClamped))
	assert.InDelta(t, 5.0, *f.store.loaded[0][0].Precipitation, 1e-9)
}

func TestPipeline_Run_ConcurrencyDoesNotChangeResult(t *testing.T) {
	cadence := domain.Cadence{DenseEnd: 48, DenseStep: 3, SparseEnd: 96, SparseStep: 6}
	locations := []domain.Location{londrina, campinas}

	sequential := newFixture(t)
	_, err := sequential.pipeline(pipeline.Options{Cadence: cadence, Locations: locations}).Run(context.Background(), testCycle)
	require.NoError(t, err)

	parallel := newFixture(t)
	summary, err := parallel.pipeline(pipeline.Options{Cadence: cadence, Locations: locations, Concurrency: 8}).Run(context.Background(), testCycle)
	require.NoError(t, err)

	assert.Equal(t, len(cadence.Hours()), summary.HoursSucceeded)
	if diff := cmp.Diff(sequential.store.loaded, parallel.store.loaded); diff != "" {
		t.Fatalf("parallel run differs (-sequential +parallel):\n%s", diff)
	}
	parallel.assertScratchEmpty(t)
}

func TestPipeline_Run_ContextCancellation(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, testCycle)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.loaded)
	assert.Zero(t, f.fetcher.calls)
}

func TestPipeline_Run_RejectsOverlappingRuns(t *testing.T) {
	f := newFixture(t)
	f.fetcher.block = make(chan struct{})
	f.fetcher.start = make(chan struct{})
	p := f.pipeline(pipeline.Options{Cadence: threeHours})

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Run(context.Background(), testCycle)
		errCh <- err
	}()

	<-f.fetcher.start
	_, err := p.Run(context.Background(), testCycle)
	require.ErrorIs(t, err, pipeline.ErrRunInProgress)

	close(f.fetcher.block)
	require.NoError(t, <-errCh)
}
