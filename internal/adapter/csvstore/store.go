// Package csvstore persists the daily forecast table as a delimited file.
package csvstore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
)

// Header is the column layout of the persisted table. The names are the ones
// existing dashboards read.
var Header = []string{"municipio", "uf", "data_dia", "t2m", "tp", "u10", "v10"}

// ErrEmptyTable is returned when asked to persist zero rows.
var ErrEmptyTable = errors.New("refusing to write an empty daily table")

// Store reads and writes the daily table at a fixed path.
// It implements pipeline.DailyLoader.
type Store struct {
	path   string
	logger *slog.Logger
}

// New creates a store for the file at path.
func New(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Path returns the location of the persisted table.
func (s *Store) Path() string { return s.path }

// LoadDaily replaces the persisted table with records. The new table is
// written to a temporary file in the same directory and renamed over the old
// one, so readers see either the previous run or the complete new run.
func (s *Store) LoadDaily(_ context.Context, cycle domain.Cycle, records []domain.DailyRecord) error {
	if len(records) == 0 {
		return ErrEmptyTable
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if err := WriteDaily(tmp, records); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace output: %w", err)
	}

	s.logger.Info("daily table written", "path", s.path, "cycle", cycle.String(), "rows", len(records))
	return nil
}

// ReadDaily reads the persisted table. A missing file yields an error
// matching os.ErrNotExist.
func (s *Store) ReadDaily(_ context.Context) ([]domain.DailyRecord, error) {
	return ReadDailyFile(s.path)
}

// ReadDailyFile reads a daily table from disk.
func ReadDailyFile(path string) ([]domain.DailyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open daily table: %w", err)
	}
	defer f.Close()
	return ReadDaily(f)
}

// WriteDaily writes the header and one row per record. Absent values are
// written as empty cells.
func WriteDaily(w io.Writer, records []domain.DailyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i := range records {
		rec := &records[i]
		row := []string{
			rec.Location.Name,
			rec.Location.State,
			rec.Day.Format(domain.DayLayout),
			formatValue(rec.Temperature),
			formatValue(rec.Precipitation),
			formatValue(rec.WindU),
			formatValue(rec.WindV),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush daily table: %w", err)
	}
	return nil
}

// ReadDaily parses a daily table written by WriteDaily.
func ReadDaily(r io.Reader) ([]domain.DailyRecord, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !slices.Equal(header, Header) {
		return nil, fmt.Errorf("unexpected header %v, want %v", header, Header)
	}

	var records []domain.DailyRecord
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read line %d: %w", line, err)
		}

		rec, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func parseRow(row []string) (domain.DailyRecord, error) {
	day, err := time.ParseInLocation(domain.DayLayout, row[2], time.UTC)
	if err != nil {
		return domain.DailyRecord{}, fmt.Errorf("invalid day %q", row[2])
	}

	rec := domain.DailyRecord{
		Location: domain.Location{Name: row[0], State: row[1]},
		Day:      day,
	}
	for i, dest := range []**float64{&rec.Temperature, &rec.Precipitation, &rec.WindU, &rec.WindV} {
		v, err := parseValue(row[3+i])
		if err != nil {
			return domain.DailyRecord{}, fmt.Errorf("invalid %s %q", Header[3+i], row[3+i])
		}
		*dest = v
	}
	return rec, nil
}

func formatValue(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseValue(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
