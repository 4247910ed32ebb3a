// Package gefs downloads GEFS forecast files from the public NOAA bucket.
package gefs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/config"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/observability"
	"github.com/sony/gobreaker"
)

var (
	errNotFound         = errors.New("object not found")
	errRateLimited      = errors.New("rate limited")
	errServerError      = errors.New("server error")
	errUnexpectedStatus = errors.New("unexpected status code")
	errTruncated        = errors.New("truncated download")
	errScratch          = errors.New("scratch space")
)

// ObjectKey returns the bucket key of one forecast file, e.g.
// gefs.20251210/00/atmos/pgrb2ap5/geavg.t00z.pgrb2a.0p50.f006.
func ObjectKey(cycle domain.Cycle, product, member string, fh domain.ForecastHour) string {
	hh := cycle.HourString()
	return fmt.Sprintf("gefs.%s/%s/atmos/%s/%s.t%sz.pgrb2a.0p50.%s",
		cycle.DateString(), hh, product, member, hh, fh)
}

// Fetcher retrieves one forecast file per call into scratch space.
// It implements pipeline.Fetcher.
type Fetcher struct {
	httpClient *http.Client
	baseURL    string
	product    string
	member     string
	scratchDir string
	retries    int
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
	metrics    *observability.Metrics

	initialBackoff time.Duration
	maxBackoff     time.Duration
	breakerTimeout time.Duration
}

// defaultBreakerTimeout is how long the breaker stays open before it lets a
// single trial request through.
const defaultBreakerTimeout = time.Minute

func newBreaker(timeout time.Duration, logger *slog.Logger) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "gefs",
		MaxRequests: 1,
		Interval:    5 * time.Minute,
		Timeout:     timeout,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// NewFetcher creates a fetcher for the configured bucket, product and member.
func NewFetcher(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	return &Fetcher{
		httpClient:     &http.Client{Timeout: cfg.FetchTimeout},
		baseURL:        cfg.GEFSBaseURL,
		product:        cfg.GEFSProduct,
		member:         cfg.GEFSMember,
		scratchDir:     cfg.ScratchDir,
		retries:        cfg.FetchRetries,
		breaker:        newBreaker(defaultBreakerTimeout, logger),
		logger:         logger,
		metrics:        metrics,
		initialBackoff: 2 * time.Second,
		maxBackoff:     30 * time.Second,
		breakerTimeout: defaultBreakerTimeout,
	}
}

// URL returns the download URL of one forecast file.
func (f *Fetcher) URL(cycle domain.Cycle, fh domain.ForecastHour) string {
	return f.baseURL + "/" + ObjectKey(cycle, f.product, f.member, fh)
}

// Fetch downloads the file for (cycle, fh) into a new scratch file. The
// caller owns the returned file and must Close it. Transient failures are
// retried with exponential backoff. While the circuit breaker is open the
// fetch waits for it to admit a trial request instead of failing straight
// away, so one outage does not skip the rest of the horizon. Every failure
// wraps domain.ErrFileUnavailable and leaves nothing behind in scratch space.
func (f *Fetcher) Fetch(ctx context.Context, cycle domain.Cycle, fh domain.ForecastHour) (*domain.ScratchFile, error) {
	url := f.URL(cycle, fh)
	start := time.Now()
	defer func() { f.metrics.FetchDuration.Observe(time.Since(start).Seconds()) }()

	backoff := f.initialBackoff
	var lastErr error
	var breakerWait time.Duration
	breakerPoll := max(f.initialBackoff, time.Millisecond)
	for attempt := 0; ; attempt++ {
		file, err := f.fetchOnce(ctx, url, fh)
		if err == nil {
			f.logger.Debug("forecast file downloaded", "forecast_hour", fh.String(), "bytes", file.Size)
			return file, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}

		if breakerRejected(err) && breakerWait <= f.breakerTimeout {
			if breakerWait == 0 {
				f.logger.Info("circuit breaker open, waiting before retrying", "forecast_hour", fh.String(), "timeout", f.breakerTimeout)
			}
			if !sleepWithContext(ctx, breakerPoll) {
				lastErr = ctx.Err()
				break
			}
			breakerWait += breakerPoll
			attempt-- // rejected calls never reached the server
			continue
		}

		if !retryable(err) || attempt >= f.retries {
			break
		}

		f.metrics.FetchRetries.Inc()
		f.logger.Debug("retrying forecast download", "forecast_hour", fh.String(), "attempt", attempt+1, "error", err)
		if !sleepWithContext(ctx, backoff) {
			lastErr = ctx.Err()
			break
		}
		backoff = min(backoff*2, f.maxBackoff)
	}

	return nil, fmt.Errorf("%w: %s: %w", domain.ErrFileUnavailable, url, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, fh domain.ForecastHour) (*domain.ScratchFile, error) {
	if f.breaker.State() == gobreaker.StateOpen {
		return nil, gobreaker.ErrOpenState
	}

	tmp, err := os.CreateTemp(f.scratchDir, "gefs-"+fh.String()+"-*.grib2")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errScratch, err)
	}
	file := &domain.ScratchFile{Path: tmp.Name()}

	result, err := f.breaker.Execute(func() (interface{}, error) {
		return f.download(ctx, url, tmp)
	})
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("%w: %w", errScratch, closeErr)
	}
	if err == nil {
		dl, _ := result.(download)
		if dl.missing {
			err = fmt.Errorf("%w: status %d", errNotFound, dl.status)
		} else {
			file.Size = dl.bytes
		}
	}
	if err != nil {
		if rmErr := file.Close(); rmErr != nil {
			f.logger.Warn("remove scratch file failed", "path", file.Path, "error", rmErr)
		}
		return nil, err
	}

	f.metrics.FetchBytes.Add(float64(file.Size))
	return file, nil
}

// download is the circuit breaker's unit of work. A missing object is not a
// failure of the upstream service, so it is reported as a result rather than
// an error and does not count toward tripping the breaker.
type download struct {
	status  int
	bytes   int64
	missing bool
}

func (f *Fetcher) download(ctx context.Context, url string, w io.Writer) (download, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return download{}, fmt.Errorf("create request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return download{}, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden:
		// S3 answers 403 for missing keys when listing is not allowed.
		return download{status: resp.StatusCode, missing: true}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return download{}, errRateLimited
	case resp.StatusCode >= 500:
		return download{}, fmt.Errorf("%w: %d", errServerError, resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return download{}, fmt.Errorf("%w: %d", errUnexpectedStatus, resp.StatusCode)
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return download{}, fmt.Errorf("%w: after %d bytes: %w", errTruncated, n, err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return download{}, fmt.Errorf("%w: got %d of %d bytes", errTruncated, n, resp.ContentLength)
	}
	if n == 0 {
		return download{}, fmt.Errorf("%w: empty body", errTruncated)
	}
	return download{status: resp.StatusCode, bytes: n}, nil
}

func breakerRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, errNotFound),
		errors.Is(err, errUnexpectedStatus),
		errors.Is(err, errScratch),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
