// Package dataset assembles gridded fields into a labeled structure with a
// scalar time coordinate, latitude and longitude axes, and named variables
// carrying units and long_name metadata.
package dataset

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/couchcryptid/station-grid-etl/internal/domain"
	"github.com/couchcryptid/station-grid-etl/internal/grid"
)

// Dimension names shared by every export format.
const (
	DimTime      = "time"
	DimLatitude  = "latitude"
	DimLongitude = "longitude"
)

// DataVar is one gridded variable shaped [latitude][longitude].
type DataVar struct {
	Name     string
	Units    string
	LongName string
	Values   [][]float64
}

// Dataset is the packaged output of a run. It is read-only once built.
type Dataset struct {
	Time      time.Time
	Latitude  []float64
	Longitude []float64
	Vars      []DataVar
	Attrs     map[string]string
}

// Package builds a Dataset from per-variable fields. Variables appear in
// the order of vars and every one must have a field of the grid's shape.
// Fields are copied, so callers may reuse their buffers.
func Package(g *grid.Grid, t time.Time, fields map[string][][]float64, vars []domain.Variable, attrs map[string]string) (*Dataset, error) {
	ny, nx := g.Shape()

	ds := &Dataset{
		Time:      t.UTC(),
		Latitude:  append([]float64(nil), g.Lats...),
		Longitude: append([]float64(nil), g.Lons...),
		Vars:      make([]DataVar, 0, len(vars)),
		Attrs: map[string]string{
			"title":         fmt.Sprintf("Gridded station data (%gkm)", g.ResolutionKm),
			"source_time":   t.UTC().Format(time.RFC3339),
			"resolution_km": strconv.FormatFloat(g.ResolutionKm, 'g', -1, 64),
			"bounds":        g.Bounds.String(),
			"generated_at":  domain.Now().Format(time.RFC3339),
		},
	}
	for k, v := range attrs {
		ds.Attrs[k] = v
	}

	for _, v := range vars {
		field, ok := fields[v.Name]
		if !ok {
			return nil, fmt.Errorf("package %s: no gridded field", v.Name)
		}
		if len(field) != ny {
			return nil, fmt.Errorf("package %s: got %d latitude rows, want %d", v.Name, len(field), ny)
		}
		values := make([][]float64, ny)
		for j, row := range field {
			if len(row) != nx {
				return nil, fmt.Errorf("package %s: row %d has %d longitudes, want %d", v.Name, j, len(row), nx)
			}
			values[j] = append([]float64(nil), row...)
		}
		ds.Vars = append(ds.Vars, DataVar{
			Name:     v.Name,
			Units:    v.Units,
			LongName: v.LongName,
			Values:   values,
		})
	}

	return ds, nil
}

// Shape returns (latitude count, longitude count).
func (d *Dataset) Shape() (ny, nx int) {
	return len(d.Latitude), len(d.Longitude)
}

// Var looks up a variable by name.
func (d *Dataset) Var(name string) (DataVar, bool) {
	for _, v := range d.Vars {
		if v.Name == name {
			return v, true
		}
	}
	return DataVar{}, false
}

// VarNames lists variable names in output order.
func (d *Dataset) VarNames() []string {
	names := make([]string, len(d.Vars))
	for i, v := range d.Vars {
		names[i] = v.Name
	}
	return names
}

// Coverage is the fraction of grid nodes with a value.
func (v DataVar) Coverage() float64 {
	total, valid := 0, 0
	for _, row := range v.Values {
		for _, x := range row {
			total++
			if !math.IsNaN(x) {
				valid++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(valid) / float64(total)
}

// Flatten returns the values in row-major (C) order.
func (v DataVar) Flatten() []float64 {
	if len(v.Values) == 0 {
		return nil
	}
	out := make([]float64, 0, len(v.Values)*len(v.Values[0]))
	for _, row := range v.Values {
		out = append(out, row...)
	}
	return out
}
