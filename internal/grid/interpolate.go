package grid

import (
	"errors"
	"math"
	"sort"
)

// MinPoints is the fewest valid samples a variable needs to be gridded.
const MinPoints = 4

var (
	// ErrInsufficientPoints means fewer than MinPoints samples had a value.
	ErrInsufficientPoints = errors.New("not enough valid points to interpolate")
	// ErrDegenerate means the samples span no area (all collinear).
	ErrDegenerate = errors.New("points do not span an area")
)

// barycentricEps admits grid nodes that sit exactly on a triangle edge.
const barycentricEps = 1e-9

// Point is one scattered sample in degrees.
type Point struct {
	Lon   float64
	Lat   float64
	Value float64
}

// Interpolate grids scattered samples by linear barycentric interpolation
// over their Delaunay triangulation. Samples with a NaN or infinite value
// or coordinate are ignored and repeated coordinates keep the first sample.
// Nodes outside the convex hull of the samples are NaN. On error the
// returned field is still allocated and entirely NaN.
func Interpolate(g *Grid, points []Point) ([][]float64, error) {
	ny, nx := g.Shape()
	field := NaNField(ny, nx)

	vs, values := validVertices(points)
	if len(vs) < MinPoints {
		return field, ErrInsufficientPoints
	}

	tris, err := triangulate(vs)
	if err != nil {
		return field, err
	}

	filled := false
	for _, t := range tris {
		if rasterize(g, field, vs, values, t) {
			filled = true
		}
	}
	if !filled {
		return field, ErrDegenerate
	}
	return field, nil
}

// CountValid reports how many samples Interpolate would use.
func CountValid(points []Point) int {
	vs, _ := validVertices(points)
	return len(vs)
}

func validVertices(points []Point) ([]vertex, []float64) {
	seen := make(map[vertex]struct{}, len(points))
	vs := make([]vertex, 0, len(points))
	values := make([]float64, 0, len(points))
	for _, p := range points {
		if !finite(p.Value) || !finite(p.Lon) || !finite(p.Lat) {
			continue
		}
		v := vertex{x: p.Lon, y: p.Lat}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		vs = append(vs, v)
		values = append(values, p.Value)
	}
	return vs, values
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// rasterize writes the interpolated value of every grid node inside t.
// It returns false for zero-area triangles.
func rasterize(g *Grid, field [][]float64, vs []vertex, values []float64, t triangle) bool {
	p1, p2, p3 := vs[t.a], vs[t.b], vs[t.c]
	det := (p2.y-p3.y)*(p1.x-p3.x) + (p3.x-p2.x)*(p1.y-p3.y)
	if math.Abs(det) < 1e-12 {
		return false
	}

	minX := math.Min(p1.x, math.Min(p2.x, p3.x))
	maxX := math.Max(p1.x, math.Max(p2.x, p3.x))
	minY := math.Min(p1.y, math.Min(p2.y, p3.y))
	maxY := math.Max(p1.y, math.Max(p2.y, p3.y))

	i0, i1 := axisRange(g.Lons, minX, maxX)
	j0, j1 := axisRange(g.Lats, minY, maxY)

	for j := j0; j < j1; j++ {
		y := g.Lats[j]
		for i := i0; i < i1; i++ {
			x := g.Lons[i]
			l1 := ((p2.y-p3.y)*(x-p3.x) + (p3.x-p2.x)*(y-p3.y)) / det
			l2 := ((p3.y-p1.y)*(x-p3.x) + (p1.x-p3.x)*(y-p3.y)) / det
			l3 := 1 - l1 - l2
			if l1 < -barycentricEps || l2 < -barycentricEps || l3 < -barycentricEps {
				continue
			}
			field[j][i] = l1*values[t.a] + l2*values[t.b] + l3*values[t.c]
		}
	}
	return true
}

// axisRange returns the index range [lo, hi) of axis values within
// [minV, maxV], widened by the barycentric tolerance.
func axisRange(axis []float64, minV, maxV float64) (int, int) {
	lo := sort.SearchFloat64s(axis, minV-barycentricEps)
	hi := sort.SearchFloat64s(axis, maxV+barycentricEps)
	for hi < len(axis) && axis[hi] <= maxV+barycentricEps {
		hi++
	}
	return lo, hi
}
