package postgres

import (
	"testing"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func f64(v float64) *float64 { return &v }

func TestRowsRoundTrip(t *testing.T) {
	cycle := domain.Cycle{Date: time.Date(2025, time.December, 10, 0, 0, 0, 0, time.UTC), Hour: 12}
	loadedAt := time.Date(2025, time.December, 10, 18, 0, 0, 0, time.UTC)
	records := []domain.DailyRecord{
		{
			Location:      domain.Location{Name: "Campinas", State: "SP"},
			Day:           cycle.Date,
			Temperature:   f64(24.5),
			Precipitation: f64(3),
			WindU:         f64(1),
		},
	}

	rows := toRows(cycle, records, loadedAt)
	assert.Equal(t, "20251210/12Z", rows[0].Cycle)
	assert.Equal(t, loadedAt, rows[0].LoadedAt)
	assert.Nil(t, rows[0].WindV)

	// Postgres hands DATE columns back at midnight in an arbitrary zone.
	rows[0].Day = time.Date(2025, time.December, 10, 0, 0, 0, 0, time.FixedZone("", 0))

	if diff := cmp.Diff(records, fromRows(rows)); diff != "" {
		t.Fatalf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestChunks(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunks(items, 2))
	assert.Equal(t, [][]int{{1, 2, 3, 4, 5}}, chunks(items, 5))
	assert.Empty(t, chunks([]int{}, 3))
}
