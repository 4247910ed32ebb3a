// Command validate checks a persisted daily forecast table against the
// location list it was produced for. It verifies (location, day) uniqueness,
// location membership, and the physical plausibility of each value.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -locations data/municipios.csv \
//	  -daily data/previsao_diaria.csv
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/adapter/csvstore"
	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
)

// Plausibility bounds for daily means. Values outside them indicate a unit
// or decoding error rather than weather.
const (
	minTemperatureC = -90.0
	maxTemperatureC = 60.0
	maxWindMS       = 100.0
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	locationsPath := flag.String("locations", "", "path to the location list")
	dailyPath := flag.String("daily", "", "path to the daily forecast table")
	delimiter := flag.String("delimiter", "|", `location list field delimiter ("\t" for tab)`)
	flag.Parse()

	if *delimiter == `\t` {
		*delimiter = "\t"
	}
	if *locationsPath == "" || *dailyPath == "" || len([]rune(*delimiter)) != 1 {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(*locationsPath, *dailyPath, []rune(*delimiter)[0]); code != 0 {
		os.Exit(code)
	}
}

func run(locationsPath, dailyPath string, delimiter rune) int {
	fmt.Println("=== Daily Forecast Integrity Validation ===")
	fmt.Println()

	locations, err := domain.LoadLocationsFile(locationsPath, delimiter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load locations: %v\n", err)
		return 1
	}

	records, err := csvstore.ReadDailyFile(dailyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load daily table: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateUniqueness(records),
		validateMembership(records, locations),
		validatePrecipitation(records),
		validatePlausibility(records),
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d daily rows, %d locations listed, %d locations covered, %d days\n",
		len(records), len(locations), countLocations(records), countDays(records))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func validateUniqueness(records []domain.DailyRecord) *phase {
	p := &phase{name: "Location/day uniqueness"}
	seen := make(map[string]int, len(records))
	for i, r := range records {
		key := rowKey(r)
		if first, ok := seen[key]; ok {
			p.errorf("row %d duplicates row %d (%s)", i+1, first+1, key)
			continue
		}
		seen[key] = i
	}
	return p
}

func validateMembership(records []domain.DailyRecord, locations []domain.Location) *phase {
	p := &phase{name: "Location membership"}
	known := make(map[string]struct{}, len(locations))
	for _, l := range locations {
		known[l.Key()] = struct{}{}
	}
	reported := make(map[string]struct{})
	for _, r := range records {
		key := r.Location.Key()
		if _, ok := known[key]; !ok {
			if _, dup := reported[key]; !dup {
				p.errorf("location %s/%s is not in the location list", r.Location.Name, r.Location.State)
				reported[key] = struct{}{}
			}
		}
	}
	return p
}

func validatePrecipitation(records []domain.DailyRecord) *phase {
	p := &phase{name: "Precipitation non-negative"}
	for _, r := range records {
		if r.Precipitation != nil && *r.Precipitation < 0 {
			p.errorf("%s: precipitation %g < 0", rowKey(r), *r.Precipitation)
		}
	}
	return p
}

func validatePlausibility(records []domain.DailyRecord) *phase {
	p := &phase{name: "Temperature and wind plausibility"}
	for _, r := range records {
		if t := r.Temperature; t != nil && (*t < minTemperatureC || *t > maxTemperatureC) {
			p.errorf("%s: temperature %.2f C outside [%g, %g]", rowKey(r), *t, minTemperatureC, maxTemperatureC)
		}
		for name, w := range map[string]*float64{"u10": r.WindU, "v10": r.WindV} {
			if w != nil && (*w < -maxWindMS || *w > maxWindMS) {
				p.errorf("%s: %s %.2f m/s outside +/-%g", rowKey(r), name, *w, maxWindMS)
			}
		}
	}
	return p
}

func rowKey(r domain.DailyRecord) string {
	return r.Location.Key() + "|" + r.Day.Format(domain.DayLayout)
}

func countLocations(records []domain.DailyRecord) int {
	seen := make(map[string]struct{})
	for _, r := range records {
		seen[r.Location.Key()] = struct{}{}
	}
	return len(seen)
}

func countDays(records []domain.DailyRecord) int {
	seen := make(map[time.Time]struct{})
	for _, r := range records {
		seen[r.Day] = struct{}{}
	}
	return len(seen)
}
