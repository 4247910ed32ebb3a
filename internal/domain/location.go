package domain

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Location is a municipality that forecasts are interpolated to.
type Location struct {
	Name  string  `json:"location" validate:"required"`
	State string  `json:"state" validate:"required"`
	Lat   float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon   float64 `json:"lon" validate:"gte=-180,lte=360"`
}

// Key identifies a location uniquely within a location list.
func (l Location) Key() string {
	return l.State + "|" + l.Name
}

// NormalizeLongitude maps a longitude into the grid's 0-360 convention.
func NormalizeLongitude(lon float64) float64 {
	if lon < 0 {
		return lon + 360
	}
	return lon
}

// Accepted header names for each location column.
var locationColumns = map[string][]string{
	"name":  {"municipio", "name", "nome", "location"},
	"state": {"uf", "state", "code"},
	"lat":   {"lat", "latitude"},
	"lon":   {"lon", "longitude"},
}

// LoadLocationsFile reads a delimited location list from disk.
func LoadLocationsFile(path string, delimiter rune) ([]Location, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open location list: %w", err)
	}
	defer f.Close()
	return LoadLocations(f, delimiter)
}

// LoadLocations parses a delimited table with a header row containing name,
// state code, latitude and longitude columns. Extra columns are ignored.
func LoadLocations(r io.Reader, delimiter rune) ([]Location, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, errors.New("location list is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read location header: %w", err)
	}

	idx, err := resolveLocationColumns(header)
	if err != nil {
		return nil, err
	}

	var locations []Location
	seen := make(map[string]int)
	for line := 2; ; line++ {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read location list line %d: %w", line, err)
		}
		if isBlankRow(row) {
			continue
		}

		loc, err := parseLocationRow(row, idx)
		if err != nil {
			return nil, fmt.Errorf("location list line %d: %w", line, err)
		}
		if prev, dup := seen[loc.Key()]; dup {
			return nil, fmt.Errorf("location list line %d: duplicate of line %d (%s/%s)", line, prev, loc.Name, loc.State)
		}
		seen[loc.Key()] = line
		locations = append(locations, loc)
	}

	if len(locations) == 0 {
		return nil, errors.New("location list has no rows")
	}
	return locations, nil
}

func resolveLocationColumns(header []string) (map[string]int, error) {
	positions := make(map[string]int, len(header))
	for i, h := range header {
		positions[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}

	idx := make(map[string]int, len(locationColumns))
	var missing []string
	for _, col := range []string{"name", "state", "lat", "lon"} {
		found := false
		for _, alias := range locationColumns[col] {
			if i, ok := positions[alias]; ok {
				idx[col] = i
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("location list is missing required columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func parseLocationRow(row []string, idx map[string]int) (Location, error) {
	field := func(col string) string {
		i := idx[col]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	lat, err := strconv.ParseFloat(field("lat"), 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid latitude %q", field("lat"))
	}
	lon, err := strconv.ParseFloat(field("lon"), 64)
	if err != nil {
		return Location{}, fmt.Errorf("invalid longitude %q", field("lon"))
	}

	loc := Location{
		Name:  field("name"),
		State: field("state"),
		Lat:   lat,
		Lon:   lon,
	}
	if err := validate.Struct(loc); err != nil {
		return Location{}, fmt.Errorf("invalid location: %w", err)
	}
	return loc, nil
}

func isBlankRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
