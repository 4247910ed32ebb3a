package domain

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Grid holds one field on a regular latitude/longitude grid.
// Values are row-major: Values[i*len(Lons)+j] is the value at (Lats[i], Lons[j]).
type Grid struct {
	Lats   []float64
	Lons   []float64 // ascending, 0-360 convention
	Values []float64
}

// Validate checks the grid's shape and axis ordering. Latitudes may be
// ascending or descending; longitudes must be ascending.
func (g Grid) Validate() error {
	if len(g.Lats) < 2 || len(g.Lons) < 2 {
		return errors.New("grid needs at least two points per axis")
	}
	if len(g.Values) != len(g.Lats)*len(g.Lons) {
		return fmt.Errorf("grid has %d values, want %d", len(g.Values), len(g.Lats)*len(g.Lons))
	}
	if !strictlyMonotonic(g.Lats) {
		return errors.New("grid latitudes are not strictly monotonic")
	}
	if !strictlyMonotonic(g.Lons) || g.Lons[0] > g.Lons[1] {
		return errors.New("grid longitudes are not strictly ascending")
	}
	return nil
}

// At returns the value at latitude index i and longitude index j.
func (g Grid) At(i, j int) float64 {
	return g.Values[i*len(g.Lons)+j]
}

// LatAscending returns the grid with latitude rows in ascending order,
// reordering a copy when the source runs north to south.
func (g Grid) LatAscending() Grid {
	n := len(g.Lats)
	if n < 2 || g.Lats[0] < g.Lats[n-1] {
		return g
	}

	width := len(g.Lons)
	out := Grid{
		Lats:   make([]float64, n),
		Lons:   g.Lons,
		Values: make([]float64, len(g.Values)),
	}
	for i := range n {
		src := n - 1 - i
		out.Lats[i] = g.Lats[src]
		copy(out.Values[i*width:(i+1)*width], g.Values[src*width:(src+1)*width])
	}
	return out
}

// Bilinear interpolates the grid at (lat, lon). The grid must have ascending
// axes (see LatAscending) and lon must already be in the grid's convention.
// Points on a node or edge return the exact node or edge value. Points
// outside the grid's coverage return NaN; longitudes do not wrap.
func (g Grid) Bilinear(lat, lon float64) float64 {
	i, ty, ok := bracket(g.Lats, lat)
	if !ok {
		return math.NaN()
	}
	j, tx, ok := bracket(g.Lons, lon)
	if !ok {
		return math.NaN()
	}

	lower := lerp(g.At(i, j), g.At(i, j+1), tx)
	upper := lerp(g.At(i+1, j), g.At(i+1, j+1), tx)
	return lerp(lower, upper, ty)
}

// bracket finds the cell [axis[i], axis[i+1]] containing x and the fractional
// position of x inside it.
func bracket(axis []float64, x float64) (int, float64, bool) {
	n := len(axis)
	if n < 2 || math.IsNaN(x) || x < axis[0] || x > axis[n-1] {
		return 0, 0, false
	}
	i := sort.SearchFloat64s(axis, x) - 1
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	return i, (x - axis[i]) / (axis[i+1] - axis[i]), true
}

// lerp blends a and b, returning an endpoint exactly when t is 0 or 1 so a
// missing neighbour does not leak into node values.
func lerp(a, b, t float64) float64 {
	switch t {
	case 0:
		return a
	case 1:
		return b
	}
	return a + (b-a)*t
}

func strictlyMonotonic(axis []float64) bool {
	if len(axis) < 2 {
		return true
	}
	asc := axis[1] > axis[0]
	for k := 1; k < len(axis); k++ {
		if asc && !(axis[k] > axis[k-1]) {
			return false
		}
		if !asc && !(axis[k] < axis[k-1]) {
			return false
		}
	}
	return true
}
