// Package postgres mirrors the daily forecast table into PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_forecast (
	location      TEXT             NOT NULL,
	state         TEXT             NOT NULL,
	day           DATE             NOT NULL,
	temperature_c DOUBLE PRECISION,
	precipitation DOUBLE PRECISION,
	wind_u        DOUBLE PRECISION,
	wind_v        DOUBLE PRECISION,
	cycle         TEXT             NOT NULL,
	loaded_at     TIMESTAMPTZ      NOT NULL,
	PRIMARY KEY (location, state, day)
)`

const insertDaily = `
INSERT INTO daily_forecast (location, state, day, temperature_c, precipitation, wind_u, wind_v, cycle, loaded_at)
VALUES (:location, :state, :day, :temperature_c, :precipitation, :wind_u, :wind_v, :cycle, :loaded_at)`

const selectDaily = `
SELECT location, state, day, temperature_c, precipitation, wind_u, wind_v, cycle, loaded_at
FROM daily_forecast
ORDER BY location, state, day`

// Each row binds nine parameters; PostgreSQL allows 65535 per statement.
const insertChunkSize = 1000

type dailyRow struct {
	Location      string    `db:"location"`
	State         string    `db:"state"`
	Day           time.Time `db:"day"`
	Temperature   *float64  `db:"temperature_c"`
	Precipitation *float64  `db:"precipitation"`
	WindU         *float64  `db:"wind_u"`
	WindV         *float64  `db:"wind_v"`
	Cycle         string    `db:"cycle"`
	LoadedAt      time.Time `db:"loaded_at"`
}

// Store holds the latest run's daily table.
// It implements pipeline.DailyLoader.
type Store struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Open connects to the database at dsn and verifies the connection.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("postgres connection established")
	return &Store{db: db, logger: logger}, nil
}

// Migrate creates the daily table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate daily_forecast: %w", err)
	}
	return nil
}

// LoadDaily replaces the table contents with records in one transaction.
func (s *Store) LoadDaily(ctx context.Context, cycle domain.Cycle, records []domain.DailyRecord) error {
	start := time.Now()
	rows := toRows(cycle, records, domain.Now().UTC())

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, "DELETE FROM daily_forecast"); err != nil {
		return fmt.Errorf("clear daily_forecast: %w", err)
	}
	for _, chunk := range chunks(rows, insertChunkSize) {
		if _, err := tx.NamedExecContext(ctx, insertDaily, chunk); err != nil {
			return fmt.Errorf("insert daily rows: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	s.logger.Info("daily table loaded into postgres",
		"cycle", cycle.String(),
		"rows", len(rows),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// ReadDaily returns the stored table ordered by location and day.
func (s *Store) ReadDaily(ctx context.Context) ([]domain.DailyRecord, error) {
	var rows []dailyRow
	if err := s.db.SelectContext(ctx, &rows, selectDaily); err != nil {
		return nil, fmt.Errorf("select daily_forecast: %w", err)
	}
	return fromRows(rows), nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func toRows(cycle domain.Cycle, records []domain.DailyRecord, loadedAt time.Time) []dailyRow {
	rows := make([]dailyRow, len(records))
	for i := range records {
		rec := &records[i]
		rows[i] = dailyRow{
			Location:      rec.Location.Name,
			State:         rec.Location.State,
			Day:           rec.Day,
			Temperature:   rec.Temperature,
			Precipitation: rec.Precipitation,
			WindU:         rec.WindU,
			WindV:         rec.WindV,
			Cycle:         cycle.String(),
			LoadedAt:      loadedAt,
		}
	}
	return rows
}

func fromRows(rows []dailyRow) []domain.DailyRecord {
	records := make([]domain.DailyRecord, len(rows))
	for i := range rows {
		r := &rows[i]
		y, m, d := r.Day.Date()
		records[i] = domain.DailyRecord{
			Location:      domain.Location{Name: r.Location, State: r.State},
			Day:           time.Date(y, m, d, 0, 0, 0, 0, time.UTC),
			Temperature:   r.Temperature,
			Precipitation: r.Precipitation,
			WindU:         r.WindU,
			WindV:         r.WindV,
		}
	}
	return records
}

func chunks[T any](items []T, size int) [][]T {
	var out [][]T
	for size < len(items) {
		items, out = items[size:], append(out, items[:size:size])
	}
	if len(items) > 0 {
		out = append(out, items)
	}
	return out
}
