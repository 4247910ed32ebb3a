package domain

import "fmt"

// Variable is the stable name of a canonical forecast field.
type Variable string

const (
	VarTemperature   Variable = "t2m"
	VarPrecipitation Variable = "tp"
	VarWindU         Variable = "u10"
	VarWindV         Variable = "v10"
)

// CanonicalVariables lists the extracted fields in output column order.
var CanonicalVariables = []Variable{VarTemperature, VarPrecipitation, VarWindU, VarWindV}

// LevelType names a GRIB vertical level type using ecCodes' typeOfLevel keys.
type LevelType string

const (
	LevelSurface           LevelType = "surface"
	LevelHeightAboveGround LevelType = "heightAboveGround"
)

// GribMessage is one decoded field of a forecast file with the metadata keys
// used to select it.
type GribMessage struct {
	ShortName string
	LevelType LevelType
	Level     float64
	Grid      Grid
}

// FieldFilter selects a message by exact metadata match. A nil Level matches
// any level value.
type FieldFilter struct {
	ShortName string
	LevelType LevelType
	Level     *float64
}

// Matches reports whether m satisfies every key of the filter.
func (f FieldFilter) Matches(m GribMessage) bool {
	if m.ShortName != f.ShortName || m.LevelType != f.LevelType {
		return false
	}
	return f.Level == nil || *f.Level == m.Level
}

func levelValue(v float64) *float64 { return &v }

// FieldFilters maps each canonical variable to the source filter selecting it.
var FieldFilters = map[Variable]FieldFilter{
	VarTemperature:   {ShortName: "2t", LevelType: LevelHeightAboveGround, Level: levelValue(2)},
	VarPrecipitation: {ShortName: "tp", LevelType: LevelSurface},
	VarWindU:         {ShortName: "10u", LevelType: LevelHeightAboveGround, Level: levelValue(10)},
	VarWindV:         {ShortName: "10v", LevelType: LevelHeightAboveGround, Level: levelValue(10)},
}

// FieldSet holds the canonical fields of one forecast hour. Each field is
// independently present (non-nil) or absent.
type FieldSet struct {
	Temperature   *Grid
	Precipitation *Grid
	WindU         *Grid
	WindV         *Grid
}

// Get returns the grid for v, or nil when it is absent.
func (fs FieldSet) Get(v Variable) *Grid {
	switch v {
	case VarTemperature:
		return fs.Temperature
	case VarPrecipitation:
		return fs.Precipitation
	case VarWindU:
		return fs.WindU
	case VarWindV:
		return fs.WindV
	}
	return nil
}

func (fs *FieldSet) set(v Variable, g *Grid) {
	switch v {
	case VarTemperature:
		fs.Temperature = g
	case VarPrecipitation:
		fs.Precipitation = g
	case VarWindU:
		fs.WindU = g
	case VarWindV:
		fs.WindV = g
	}
}

// Present lists the variables carried by the set, in canonical order.
func (fs FieldSet) Present() []Variable {
	var out []Variable
	for _, v := range CanonicalVariables {
		if fs.Get(v) != nil {
			out = append(out, v)
		}
	}
	return out
}

// Missing lists the canonical variables absent from the set.
func (fs FieldSet) Missing() []Variable {
	var out []Variable
	for _, v := range CanonicalVariables {
		if fs.Get(v) == nil {
			out = append(out, v)
		}
	}
	return out
}

// Empty reports whether no variable is present.
func (fs FieldSet) Empty() bool {
	return len(fs.Present()) == 0
}

// ExtractFields selects the canonical variables from a file's decoded
// messages. Each variable is matched independently; a variable that is
// missing or carries an invalid grid is left absent without affecting the
// others. ErrNoUsableData is returned when nothing could be extracted.
func ExtractFields(messages []GribMessage) (FieldSet, error) {
	var fs FieldSet
	for _, v := range CanonicalVariables {
		g, err := extractField(messages, FieldFilters[v])
		if err != nil {
			continue
		}
		fs.set(v, g)
	}
	if fs.Empty() {
		return FieldSet{}, ErrNoUsableData
	}
	return fs, nil
}

func extractField(messages []GribMessage, filter FieldFilter) (*Grid, error) {
	for i := range messages {
		if !filter.Matches(messages[i]) {
			continue
		}
		g := messages[i].Grid
		if err := g.Validate(); err != nil {
			return nil, fmt.Errorf("field %s: %w", filter.ShortName, err)
		}
		return &g, nil
	}
	return nil, fmt.Errorf("field %s on %s not found", filter.ShortName, filter.LevelType)
}
