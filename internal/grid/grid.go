// Package grid builds regular latitude/longitude meshes and interpolates
// scattered station values onto them.
package grid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultKmPerDegree approximates the length of one degree of latitude.
const DefaultKmPerDegree = 111.0

// Bounds is a lat/lon bounding box in degrees.
type Bounds struct {
	MinLon float64
	MaxLon float64
	MinLat float64
	MaxLat float64
}

// Validate checks that the box is non-empty and on the globe.
func (b Bounds) Validate() error {
	switch {
	case b.MinLon >= b.MaxLon:
		return fmt.Errorf("min longitude %v must be less than max longitude %v", b.MinLon, b.MaxLon)
	case b.MinLat >= b.MaxLat:
		return fmt.Errorf("min latitude %v must be less than max latitude %v", b.MinLat, b.MaxLat)
	case b.MinLat < -90 || b.MaxLat > 90:
		return errors.New("latitude out of range [-90, 90]")
	case b.MinLon < -180 || b.MaxLon > 180:
		return errors.New("longitude out of range [-180, 180]")
	}
	return nil
}

func (b Bounds) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", b.MinLon, b.MaxLon, b.MinLat, b.MaxLat)
}

// ParseBounds reads "min_lon,max_lon,min_lat,max_lat".
func ParseBounds(s string) (Bounds, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Bounds{}, fmt.Errorf("bounds %q: want min_lon,max_lon,min_lat,max_lat", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Bounds{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = f
	}
	b := Bounds{MinLon: v[0], MaxLon: v[1], MinLat: v[2], MaxLat: v[3]}
	if err := b.Validate(); err != nil {
		return Bounds{}, err
	}
	return b, nil
}

// Grid is a regular mesh. Lats and Lons are strictly increasing and
// include both bounds.
type Grid struct {
	Bounds       Bounds
	ResolutionKm float64
	Lats         []float64
	Lons         []float64
}

// New sizes a grid for the requested resolution. The kilometre resolution is
// converted to degrees at the box's center latitude: a degree of latitude is
// kmPerDegree long and a degree of longitude shrinks with cos(latitude).
func New(b Bounds, resolutionKm, kmPerDegree float64) (*Grid, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if resolutionKm <= 0 || math.IsNaN(resolutionKm) {
		return nil, fmt.Errorf("resolution must be positive, got %v", resolutionKm)
	}
	if kmPerDegree <= 0 || math.IsNaN(kmPerDegree) {
		return nil, fmt.Errorf("km per degree must be positive, got %v", kmPerDegree)
	}

	centerLat := (b.MinLat + b.MaxLat) / 2
	dLat := resolutionKm / kmPerDegree
	dLon := resolutionKm / (kmPerDegree * math.Cos(centerLat*math.Pi/180))

	ny := CellCount(b.MaxLat-b.MinLat, dLat)
	nx := CellCount(b.MaxLon-b.MinLon, dLon)

	return &Grid{
		Bounds:       b,
		ResolutionKm: resolutionKm,
		Lats:         Linspace(b.MinLat, b.MaxLat, ny),
		Lons:         Linspace(b.MinLon, b.MaxLon, nx),
	}, nil
}

// CellCount is ceil(span/cell), never less than two so that an axis can
// hold both of its bounds.
func CellCount(span, cell float64) int {
	n := int(math.Ceil(span / cell))
	if n < 2 {
		return 2
	}
	return n
}

// Linspace returns n evenly spaced values from lo to hi inclusive.
func Linspace(lo, hi float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{lo}
	}
	out := make([]float64, n)
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}

// Shape returns (latitude count, longitude count).
func (g *Grid) Shape() (ny, nx int) {
	return len(g.Lats), len(g.Lons)
}

// NaNField allocates a [ny][nx] array filled with NaN.
func NaNField(ny, nx int) [][]float64 {
	backing := make([]float64, ny*nx)
	for i := range backing {
		backing[i] = math.NaN()
	}
	field := make([][]float64, ny)
	for j := range field {
		field[j] = backing[j*nx : (j+1)*nx : (j+1)*nx]
	}
	return field
}
