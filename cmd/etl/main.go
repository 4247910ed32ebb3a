package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/adapter/gefs"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/adapter/grib"
	httpadapter "github.com/couchcryptid/forecast-bulletin-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/forecast-bulletin-etl/internal/adapter/kafka"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/adapter/postgres"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/config"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/observability"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/pipeline"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/scheduler"
	"github.com/joho/godotenv"
)

func main() {
	os.Exit(run())
}

func run() int {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	locations, err := domain.LoadLocationsFile(cfg.LocationsFile, cfg.LocationsDelimiter)
	if err != nil {
		logger.Error("failed to load locations", "file", cfg.LocationsFile, "error", err)
		return 1
	}
	logger.Info("locations loaded", "file", cfg.LocationsFile, "count", len(locations))

	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		logger.Error("failed to create scratch directory", "dir", cfg.ScratchDir, "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := csvstore.New(cfg.OutputFile, logger)
	var sinks []pipeline.Sink

	if cfg.PostgresDSN != "" {
		db, err := postgres.Open(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			return 1
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to migrate postgres schema", "error", err)
			return 1
		}
		sinks = append(sinks, pipeline.Sink{Name: "postgres", Loader: db})
		logger.Info("postgres sink enabled")
	}

	if cfg.KafkaEnabled {
		writer := kafkaadapter.NewWriter(cfg, logger)
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Error("kafka writer close error", "error", err)
			}
		}()
		sinks = append(sinks, pipeline.Sink{Name: "kafka", Loader: writer})
		logger.Info("kafka sink enabled", "topic", cfg.KafkaTopic)
	}

	p := pipeline.New(
		gefs.NewFetcher(cfg, logger, metrics),
		grib.NewDecoder(logger),
		store,
		logger,
		metrics,
		pipeline.Options{
			Cadence:     cfg.Cadence,
			Locations:   locations,
			Concurrency: cfg.FetchConcurrency,
		},
		sinks...,
	)

	runOnce := func(ctx context.Context) error {
		cycle, err := cfg.Cycle(domain.Now())
		if err != nil {
			return err
		}
		_, err = p.Run(ctx, cycle)
		return err
	}

	if cfg.ScheduleCron == "" {
		if err := runOnce(ctx); err != nil {
			logger.Error("pipeline run failed", "error", err)
			return 1
		}
		logger.Info("daily table written", "file", store.Path())
		return 0
	}

	return serve(ctx, cfg, p, store, runOnce, logger)
}

// serve runs the scheduler and HTTP server until a shutdown signal arrives.
func serve(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, store *csvstore.Store, job scheduler.Job, logger *slog.Logger) int {
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, store, cfg.ReportPrecipScale, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run once at startup so the report API has data before the first tick.
	sched := scheduler.New(cfg.ScheduleCron, job, logger, scheduler.WithRunOnStart())
	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		return 1
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	sched.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return 0
}
