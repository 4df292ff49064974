// Package netcdf exports datasets as NetCDF-4 files. The real writer needs
// cgo and libnetcdf and is built with -tags netcdf; without the tag Export
// returns ErrUnsupported.
package netcdf

import (
	"errors"
	"log/slog"
	"path/filepath"
	"time"
)

// ErrUnsupported is returned by builds without the netcdf tag.
var ErrUnsupported = errors.New("netcdf export not built in (rebuild with -tags netcdf)")

// Writer exports datasets as .nc files under a root directory.
type Writer struct {
	dir    string
	logger *slog.Logger
}

// NewWriter creates a writer rooted at dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	return &Writer{dir: dir, logger: logger}
}

func (w *Writer) Format() string { return "netcdf" }

// FileName is the file name for a dataset valid at t.
func FileName(t time.Time) string {
	return "grid_" + t.UTC().Format("20060102T1504Z") + ".nc"
}

func (w *Writer) path(t time.Time) string {
	return filepath.Join(w.dir, FileName(t))
}
