package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	// Cycle selection. An empty RunDate means "today" per the domain clock.
	RunDate string
	RunHour int

	GEFSBaseURL string
	GEFSProduct string
	GEFSMember  string
	Cadence     domain.Cadence

	LocationsFile      string
	LocationsDelimiter rune
	OutputFile         string
	ScratchDir         string

	FetchTimeout     time.Duration
	FetchRetries     int
	FetchConcurrency int

	ScheduleCron    string
	HTTPAddr        string
	ShutdownTimeout time.Duration

	// Optional sinks.
	PostgresDSN  string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaEnabled bool

	// ReportPrecipScale converts persisted precipitation to the report API's
	// precipitation_mm. The default divides by 1000 like the bulletin panel.
	ReportPrecipScale float64

	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	runHour, err := domain.ParseCycleHour(sharedcfg.EnvOrDefault("RUN_HOUR", "00"))
	if err != nil {
		return nil, fmt.Errorf("RUN_HOUR: %w", err)
	}

	runDate := os.Getenv("RUN_DATE")
	if runDate != "" {
		if _, err := domain.ParseCycle(runDate, "00"); err != nil {
			return nil, fmt.Errorf("RUN_DATE: %w", err)
		}
	}

	cadence := domain.Cadence{}
	for _, f := range []struct {
		key  string
		def  string
		dest *int
	}{
		{"FORECAST_DENSE_END", "192", &cadence.DenseEnd},
		{"FORECAST_DENSE_STEP", "3", &cadence.DenseStep},
		{"FORECAST_SPARSE_END", "834", &cadence.SparseEnd},
		{"FORECAST_SPARSE_STEP", "6", &cadence.SparseStep},
	} {
		if *f.dest, err = parseInt(f.key, f.def); err != nil {
			return nil, err
		}
	}
	if err := cadence.Validate(); err != nil {
		return nil, fmt.Errorf("forecast cadence: %w", err)
	}

	delimiter, err := parseDelimiter(sharedcfg.EnvOrDefault("LOCATIONS_DELIMITER", "|"))
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "2m")
	if err != nil {
		return nil, err
	}
	fetchRetries, err := parseInt("FETCH_RETRIES", "2")
	if err != nil {
		return nil, err
	}
	if fetchRetries < 0 {
		return nil, errors.New("FETCH_RETRIES must not be negative")
	}
	fetchConcurrency, err := parseInt("FETCH_CONCURRENCY", "1")
	if err != nil {
		return nil, err
	}
	if fetchConcurrency < 1 {
		return nil, errors.New("FETCH_CONCURRENCY must be at least 1")
	}

	precipScale, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("REPORT_PRECIP_SCALE", "0.001"), 64)
	if err != nil || precipScale <= 0 {
		return nil, errors.New("invalid REPORT_PRECIP_SCALE: must be a positive number")
	}

	var kafkaBrokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		kafkaBrokers = sharedcfg.ParseBrokers(v)
	}
	kafkaEnabled := len(kafkaBrokers) > 0
	if v := os.Getenv("KAFKA_ENABLED"); v != "" {
		kafkaEnabled = v == "true"
	}

	cfg := &Config{
		RunDate:            runDate,
		RunHour:            runHour,
		GEFSBaseURL:        strings.TrimSuffix(sharedcfg.EnvOrDefault("GEFS_BASE_URL", "https://noaa-gefs-pds.s3.amazonaws.com"), "/"),
		GEFSProduct:        sharedcfg.EnvOrDefault("GEFS_PRODUCT", "pgrb2ap5"),
		GEFSMember:         sharedcfg.EnvOrDefault("GEFS_MEMBER", "geavg"),
		Cadence:            cadence,
		LocationsFile:      sharedcfg.EnvOrDefault("LOCATIONS_FILE", "config/municipios.csv"),
		LocationsDelimiter: delimiter,
		OutputFile:         sharedcfg.EnvOrDefault("OUTPUT_FILE", "data_processed/previsao_diaria.csv"),
		ScratchDir:         sharedcfg.EnvOrDefault("SCRATCH_DIR", os.TempDir()),
		FetchTimeout:       fetchTimeout,
		FetchRetries:       fetchRetries,
		FetchConcurrency:   fetchConcurrency,
		ScheduleCron:       os.Getenv("SCHEDULE_CRON"),
		HTTPAddr:           sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		ShutdownTimeout:    shutdownTimeout,
		PostgresDSN:        os.Getenv("POSTGRES_DSN"),
		KafkaBrokers:       kafkaBrokers,
		KafkaTopic:         sharedcfg.EnvOrDefault("KAFKA_TOPIC", "daily-forecasts"),
		KafkaEnabled:       kafkaEnabled,
		ReportPrecipScale:  precipScale,
		LogLevel:           sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:          sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
	}

	if cfg.GEFSProduct == "" || cfg.GEFSMember == "" {
		return nil, errors.New("GEFS_PRODUCT and GEFS_MEMBER are required")
	}
	if cfg.LocationsFile == "" {
		return nil, errors.New("LOCATIONS_FILE is required")
	}
	if cfg.OutputFile == "" {
		return nil, errors.New("OUTPUT_FILE is required")
	}
	if cfg.KafkaEnabled && len(cfg.KafkaBrokers) == 0 {
		return nil, errors.New("KAFKA_ENABLED is true but KAFKA_BROKERS is not set")
	}
	if cfg.KafkaEnabled && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when Kafka is enabled")
	}

	return cfg, nil
}

// Cycle returns the configured cycle, deriving the date from now when
// RUN_DATE is unset.
func (c *Config) Cycle(now time.Time) (domain.Cycle, error) {
	if c.RunDate == "" {
		return domain.CycleAt(now, c.RunHour), nil
	}
	return domain.ParseCycle(c.RunDate, fmt.Sprintf("%02d", c.RunHour))
}

func parseInt(key, def string) (int, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q is not an integer", key, s)
	}
	return n, nil
}

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be a positive duration", key)
	}
	return d, nil
}

func parseDelimiter(s string) (rune, error) {
	if s == `\t` {
		return '\t', nil
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, fmt.Errorf("invalid LOCATIONS_DELIMITER %q: must be a single character", s)
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == '"' || r == '\r' || r == '\n' {
		return 0, fmt.Errorf("invalid LOCATIONS_DELIMITER %q", s)
	}
	return r, nil
}
