package grid

import (
	"fmt"

	"github.com/fogleman/delaunay"
)

// vertex is a triangulation node in (lon, lat) degrees.
type vertex struct {
	x, y float64
}

// triangle holds indices into the triangulated vertices.
type triangle struct {
	a, b, c int
}

// triangulate returns the Delaunay triangles of pts. Input with no
// triangulation (all points collinear) yields ErrDegenerate.
func triangulate(pts []vertex) ([]triangle, error) {
	in := make([]delaunay.Point, len(pts))
	for i, p := range pts {
		in[i] = delaunay.Point{X: p.x, Y: p.y}
	}

	tr, err := delaunay.Triangulate(in)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDegenerate, err)
	}

	tris := make([]triangle, 0, len(tr.Triangles)/3)
	for k := 0; k+2 < len(tr.Triangles); k += 3 {
		tris = append(tris, triangle{a: tr.Triangles[k], b: tr.Triangles[k+1], c: tr.Triangles[k+2]})
	}
	return tris, nil
}
