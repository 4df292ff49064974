//go:build netcdf

package netcdf

import (
	"context"
	"fmt"
	"math"
	"os"

	"github.com/couchcryptid/station-grid-etl/internal/dataset"
	"github.com/fhs/go-netcdf/netcdf"
)

// Supported reports whether this build can write netCDF files.
const Supported = true

// Export writes ds to <dir>/<FileName> and returns the file path.
func (w *Writer) Export(ctx context.Context, ds *dataset.Dataset) (string, error) {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	path := w.path(ds.Time)

	nc, err := netcdf.CreateFile(path, netcdf.CLOBBER|netcdf.NETCDF4)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(ctx, nc, ds); err != nil {
		nc.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := nc.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", path, err)
	}

	w.logger.Info("netcdf file written", "path", path, "variables", len(ds.Vars))
	return path, nil
}

func write(ctx context.Context, nc netcdf.Dataset, ds *dataset.Dataset) error {
	ny, nx := ds.Shape()

	latDim, err := nc.AddDim(dataset.DimLatitude, uint64(ny))
	if err != nil {
		return err
	}
	lonDim, err := nc.AddDim(dataset.DimLongitude, uint64(nx))
	if err != nil {
		return err
	}

	timeVar, err := nc.AddVar(dataset.DimTime, netcdf.INT64, nil)
	if err != nil {
		return err
	}
	if err := writeAttrs(timeVar, map[string]string{
		"units":     "seconds since 1970-01-01T00:00:00Z",
		"calendar":  "proleptic_gregorian",
		"long_name": "time",
	}); err != nil {
		return err
	}

	latVar, err := nc.AddVar(dataset.DimLatitude, netcdf.DOUBLE, []netcdf.Dim{latDim})
	if err != nil {
		return err
	}
	if err := writeAttrs(latVar, map[string]string{"units": "degrees_north", "standard_name": "latitude"}); err != nil {
		return err
	}
	lonVar, err := nc.AddVar(dataset.DimLongitude, netcdf.DOUBLE, []netcdf.Dim{lonDim})
	if err != nil {
		return err
	}
	if err := writeAttrs(lonVar, map[string]string{"units": "degrees_east", "standard_name": "longitude"}); err != nil {
		return err
	}

	dataVars := make([]netcdf.Var, len(ds.Vars))
	for i, v := range ds.Vars {
		nv, err := nc.AddVar(v.Name, netcdf.DOUBLE, []netcdf.Dim{latDim, lonDim})
		if err != nil {
			return err
		}
		if err := writeAttrs(nv, map[string]string{"units": v.Units, "long_name": v.LongName}); err != nil {
			return err
		}
		if err := nv.Attr("_FillValue").WriteFloat64s([]float64{math.NaN()}); err != nil {
			return err
		}
		dataVars[i] = nv
	}

	for k, v := range ds.Attrs {
		if err := nc.Attr(k).WriteBytes([]byte(v)); err != nil {
			return err
		}
	}

	if err := nc.EndDef(); err != nil {
		return err
	}

	if err := timeVar.WriteInt64s([]int64{ds.Time.Unix()}); err != nil {
		return err
	}
	if err := latVar.WriteFloat64s(ds.Latitude); err != nil {
		return err
	}
	if err := lonVar.WriteFloat64s(ds.Longitude); err != nil {
		return err
	}
	for i, v := range ds.Vars {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := dataVars[i].WriteFloat64s(v.Flatten()); err != nil {
			return fmt.Errorf("variable %s: %w", v.Name, err)
		}
	}
	return nil
}

func writeAttrs(v netcdf.Var, attrs map[string]string) error {
	for k, val := range attrs {
		if err := v.Attr(k).WriteBytes([]byte(val)); err != nil {
			return fmt.Errorf("attribute %s: %w", k, err)
		}
	}
	return nil
}
