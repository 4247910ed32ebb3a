// Package grib decodes GRIB2 forecast files into domain messages.
package grib

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/couchcryptid/forecast-bulletin-etl/internal/domain"
	"github.com/nilsmagnus/grib/griblib"
)

// WMO code table 4.5 surface types.
const (
	surfaceGround            = 1
	surfaceHeightAboveGround = 103
)

type paramKey struct {
	discipline, category, number int
}

// Parameters this pipeline can use, keyed by WMO code table 4.2 entries and
// named with ecCodes short names.
var shortNames = map[paramKey]string{
	{0, 0, 0}: "2t",  // temperature
	{0, 1, 8}: "tp",  // total precipitation
	{0, 2, 2}: "10u", // u-component of wind
	{0, 2, 3}: "10v", // v-component of wind
}

// Decoder reads GRIB2 files from disk.
// It implements pipeline.Decoder.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a GRIB2 decoder.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logger}
}

// Decode returns the messages of the file at path that carry a known
// parameter on a regular latitude/longitude grid. Other messages are skipped.
// A damaged message costs only itself: the remaining messages are still
// decoded, and an error is returned only when nothing usable is left.
func (d *Decoder) Decode(path string) ([]domain.GribMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open grib file: %w", err)
	}

	raw, damaged := splitMessages(data)
	if len(raw) == 0 {
		return nil, fmt.Errorf("decode grib file %s: no GRIB2 messages (%d damaged)", path, damaged)
	}

	out := make([]domain.GribMessage, 0, len(shortNames))
	for i, m := range raw {
		key, ok := parameterOf(m)
		if !ok {
			damaged++
			d.logger.Warn("skipping malformed grib message", "path", path, "index", i)
			continue
		}
		if _, known := shortNames[key]; !known {
			continue
		}

		msg, ok, err := decodeMessage(m)
		if err != nil {
			damaged++
			d.logger.Warn("skipping undecodable grib message", "path", path, "index", i, "error", err)
			continue
		}
		if ok {
			out = append(out, msg)
		}
	}

	if damaged > 0 {
		d.logger.Warn("grib file partially decoded", "path", path, "damaged", damaged, "decoded", len(out))
		if len(out) == 0 {
			return nil, fmt.Errorf("decode grib file %s: %d damaged messages, none usable", path, damaged)
		}
	}
	return out, nil
}

var (
	gribMagic = []byte("GRIB")
	endMarker = []byte("7777")
)

// section0Len is the size of the GRIB2 indicator section.
const section0Len = 16

// splitMessages cuts a file into raw GRIB2 messages using the length in each
// indicator section. A message that is truncated, has a bad length or lacks
// its end marker is counted as damaged, and scanning resumes at the next
// "GRIB" marker after it.
func splitMessages(data []byte) (messages [][]byte, damaged int) {
	off := 0
	for {
		i := bytes.Index(data[off:], gribMagic)
		if i < 0 {
			return messages, damaged
		}
		start := off + i
		if n, ok := messageLength(data[start:]); ok {
			messages = append(messages, data[start:start+n])
			off = start + n
			continue
		}
		damaged++
		off = start + len(gribMagic)
	}
}

func messageLength(b []byte) (int, bool) {
	if len(b) < section0Len || b[7] != 2 {
		return 0, false
	}
	n := binary.BigEndian.Uint64(b[8:section0Len])
	if n < section0Len+uint64(len(endMarker)) || n > uint64(len(b)) {
		return 0, false
	}
	if !bytes.Equal(b[n-uint64(len(endMarker)):n], endMarker) {
		return 0, false
	}
	return int(n), true
}

// parameterOf reads the discipline and the parameter category and number
// from section 4 without decoding the message.
func parameterOf(msg []byte) (paramKey, bool) {
	off := section0Len
	for off+5 <= len(msg)-len(endMarker) {
		size := int(binary.BigEndian.Uint32(msg[off : off+4]))
		if size < 5 || off+size > len(msg)-len(endMarker) {
			return paramKey{}, false
		}
		if msg[off+4] == 4 {
			if size < 11 {
				return paramKey{}, false
			}
			return paramKey{
				discipline: int(msg[6]),
				category:   int(msg[off+9]),
				number:     int(msg[off+10]),
			}, true
		}
		off += size
	}
	return paramKey{}, false
}

// decodeMessage runs one complete message through griblib. griblib panics
// on some unsupported templates; that is reported as an error for the
// message alone.
func decodeMessage(raw []byte) (msg domain.GribMessage, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			msg, ok, err = domain.GribMessage{}, false, fmt.Errorf("grib decoder panic: %v", r)
		}
	}()

	m, err := griblib.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return domain.GribMessage{}, false, err
	}
	return convert(m)
}

// convert maps a decoded message to the domain. ok is false for messages
// with parameters or levels the pipeline does not use.
func convert(m *griblib.Message) (domain.GribMessage, bool, error) {
	product := m.Section4.ProductDefinitionTemplate
	name, ok := shortNames[paramKey{
		discipline: int(m.Section0.Discipline),
		category:   int(product.ParameterCategory),
		number:     int(product.ParameterNumber),
	}]
	if !ok {
		return domain.GribMessage{}, false, nil
	}

	surface := product.FirstSurface
	levelType, level, ok := levelOf(int(surface.Type), int(surface.Scale), int64(surface.Value))
	if !ok {
		return domain.GribMessage{}, false, nil
	}

	geom, err := geometryOf(m.Section3.Definition)
	if err != nil {
		return domain.GribMessage{}, false, fmt.Errorf("%s: %w", name, err)
	}
	grid, err := geom.grid(m.Section7.Data)
	if err != nil {
		return domain.GribMessage{}, false, fmt.Errorf("%s: %w", name, err)
	}

	return domain.GribMessage{ShortName: name, LevelType: levelType, Level: level, Grid: grid}, true, nil
}

func levelOf(surfaceType, scale int, value int64) (domain.LevelType, float64, bool) {
	var lt domain.LevelType
	switch surfaceType {
	case surfaceGround:
		lt = domain.LevelSurface
	case surfaceHeightAboveGround:
		lt = domain.LevelHeightAboveGround
	default:
		return "", 0, false
	}
	return lt, float64(value) / math.Pow(10, float64(scale)), true
}

// geometry is a regular latitude/longitude grid definition (template 3.0)
// in degrees.
type geometry struct {
	ni, nj   int
	la1, lo1 float64
	la2, lo2 float64
}

func geometryOf(definition any) (geometry, error) {
	switch g := definition.(type) {
	case *griblib.Grid0:
		return grid0Geometry(*g), nil
	case griblib.Grid0:
		return grid0Geometry(g), nil
	}
	return geometry{}, fmt.Errorf("unsupported grid definition %T", definition)
}

func grid0Geometry(g griblib.Grid0) geometry {
	return geometry{
		ni:  int(g.Ni),
		nj:  int(g.Nj),
		la1: microdegrees(int64(g.La1)),
		lo1: microdegrees(int64(g.Lo1)),
		la2: microdegrees(int64(g.La2)),
		lo2: microdegrees(int64(g.Lo2)),
	}
}

// microdegrees converts a template 3.0 coordinate to degrees. GRIB2 encodes
// negative coordinates in sign-magnitude form; values outside +-360 degrees
// are read as such.
func microdegrees(v int64) float64 {
	if v > 360_000_000 || v < -360_000_000 {
		v = -(v & 0x7fffffff)
	}
	return float64(v) / 1e6
}

// grid lays data out on the geometry. Scanning is assumed to run along
// longitude first, from la1 to la2 and lo1 to lo2.
func (g geometry) grid(data []float64) (domain.Grid, error) {
	if g.ni < 2 || g.nj < 2 {
		return domain.Grid{}, fmt.Errorf("grid of %dx%d points is too small", g.ni, g.nj)
	}
	if len(data) != g.ni*g.nj {
		return domain.Grid{}, fmt.Errorf("grid has %d values, want %dx%d", len(data), g.ni, g.nj)
	}

	lo2 := g.lo2
	if lo2 <= g.lo1 {
		lo2 += 360
	}
	if g.la1 == g.la2 {
		return domain.Grid{}, errors.New("grid has zero latitude extent")
	}

	grid := domain.Grid{
		Lats:   axis(g.la1, g.la2, g.nj),
		Lons:   axis(g.lo1, lo2, g.ni),
		Values: data,
	}
	return grid, grid.Validate()
}

// axis returns n evenly spaced points from first to last, rounded to the
// microdegree resolution of the encoding.
func axis(first, last float64, n int) []float64 {
	out := make([]float64, n)
	step := (last - first) / float64(n-1)
	for i := range out {
		out[i] = math.Round((first+step*float64(i))*1e6) / 1e6
	}
	return out
}
