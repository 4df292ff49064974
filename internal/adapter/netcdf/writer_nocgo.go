//go:build !netcdf

package netcdf

import (
	"context"

	"github.com/couchcryptid/station-grid-etl/internal/dataset"
)

// Supported reports whether this build can write netCDF files.
const Supported = false

// Export always fails in builds without the netcdf tag.
func (w *Writer) Export(_ context.Context, _ *dataset.Dataset) (string, error) {
	return "", ErrUnsupported
}
